package transfertool_test

import (
	"reflect"
	"testing"

	"github.com/gridfab/courier/pkg/checksum"
	"github.com/gridfab/courier/pkg/replica"
	"github.com/gridfab/courier/pkg/request"
	"github.com/gridfab/courier/pkg/topology"
	"github.com/gridfab/courier/pkg/transfertool"
)

func cand(id, rule, activity, dest string, sources ...string) *request.Candidate {
	c := &request.Candidate{
		Request: &request.Request{
			ID:       id,
			Scope:    "data",
			Name:     "file-" + id,
			Bytes:    1 << 20,
			DestRSE:  dest,
			Activity: activity,
			RuleID:   rule,
			State:    request.StateQueued,
		},
		TotalCost: 10,
		Overwrite: true,
	}
	for _, src := range sources {
		c.Sources = append(c.Sources, replica.Source{
			RequestID: id,
			RSE:       src,
			Distance:  10,
		})
		if len(c.Hops) == 0 {
			c.Hops = []topology.Hop{{Source: src, Dest: dest, Cost: 10}}
		}
	}
	return c
}

func jobIDs(t *testing.T, job *transfertool.Job, want ...string) {
	if got := job.RequestIDs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("job carries %v, want %v", got, want)
	}
}

func TestGroupJobsByRule(t *testing.T) {
	cands := []*request.Candidate{
		cand("r1", "rule-a", "staging", "RSE2", "RSE1"),
		cand("r2", "rule-a", "staging", "RSE3", "RSE1"),
		cand("r3", "rule-b", "staging", "RSE2", "RSE1"),
		cand("r4", "rule-a", "staging", "RSE4", "RSE1"),
	}

	jobs := transfertool.GroupJobs("https://fts.example.org:8446", cands, transfertool.GroupOptions{})
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}
	jobIDs(t, jobs[0], "r1", "r2", "r4")
	jobIDs(t, jobs[1], "r3")

	if jobs[0].Host != "https://fts.example.org:8446" {
		t.Fatalf("unexpected host %q", jobs[0].Host)
	}
	if jobs[0].ID == jobs[1].ID {
		t.Fatal("jobs share an id")
	}
}

func TestGroupJobsBulkChunks(t *testing.T) {
	var cands []*request.Candidate
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		cands = append(cands, cand(id, "rule-a", "staging", "RSE2", "RSE1"))
	}

	jobs := transfertool.GroupJobs("host", cands, transfertool.GroupOptions{GroupBulk: 2})
	if len(jobs) != 3 {
		t.Fatalf("got %d jobs, want 3", len(jobs))
	}
	jobIDs(t, jobs[0], "a", "b")
	jobIDs(t, jobs[1], "c", "d")
	jobIDs(t, jobs[2], "e")
}

func TestGroupJobsDestPolicy(t *testing.T) {
	cands := []*request.Candidate{
		cand("r1", "rule-a", "staging", "RSE2", "RSE1"),
		cand("r2", "rule-b", "staging", "RSE2", "RSE1"),
		cand("r3", "rule-c", "staging", "RSE3", "RSE1"),
	}

	jobs := transfertool.GroupJobs("host", cands, transfertool.GroupOptions{Policy: "dest"})
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}
	jobIDs(t, jobs[0], "r1", "r2")
	jobIDs(t, jobs[1], "r3")
}

func TestGroupJobsActivityDestPolicy(t *testing.T) {
	cands := []*request.Candidate{
		cand("r1", "rule-a", "staging", "RSE2", "RSE1"),
		cand("r2", "rule-b", "analysis", "RSE2", "RSE1"),
		cand("r3", "rule-c", "staging", "RSE2", "RSE1"),
	}

	jobs := transfertool.GroupJobs("host", cands, transfertool.GroupOptions{Policy: "activity_dest"})
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}
	jobIDs(t, jobs[0], "r1", "r3")
	jobIDs(t, jobs[1], "r2")
}

func TestGroupJobsNonePolicy(t *testing.T) {
	cands := []*request.Candidate{
		cand("r1", "rule-a", "staging", "RSE2", "RSE1"),
		cand("r2", "rule-a", "staging", "RSE3", "RSE1"),
	}

	jobs := transfertool.GroupJobs("host", cands, transfertool.GroupOptions{Policy: "none"})
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}
}

func TestGroupJobsMultihopAlone(t *testing.T) {
	root := cand("r1", "rule-a", "staging", "RSE4", "RSE1")
	root.Hops = []topology.Hop{
		{Source: "RSE1", Dest: "RSE3", Cost: 10},
		{Source: "RSE3", Dest: "RSE4", Cost: 10},
	}
	hop := request.NewIntermediate(root.Request, root.Hops[0])
	root.Chain = []*request.Request{hop, root.Request}

	cands := []*request.Candidate{
		cand("r2", "rule-a", "staging", "RSE2", "RSE1"),
		root,
		cand("r3", "rule-a", "staging", "RSE3", "RSE1"),
	}

	jobs := transfertool.GroupJobs("host", cands, transfertool.GroupOptions{})
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}

	var chain *transfertool.Job
	for _, job := range jobs {
		if job.Params.Multihop {
			chain = job
		}
	}
	if chain == nil {
		t.Fatal("no multihop job built")
	}
	jobIDs(t, chain, hop.ID, "r1")

	if src := chain.Transfers[0].Sources; !reflect.DeepEqual(src, []string{"RSE1"}) {
		t.Fatalf("first hop reads from %v", src)
	}
	if chain.Transfers[0].DestRSE != "RSE3" {
		t.Fatalf("first hop lands at %q", chain.Transfers[0].DestRSE)
	}
	if src := chain.Transfers[1].Sources; !reflect.DeepEqual(src, []string{"RSE3"}) {
		t.Fatalf("second hop reads from %v", src)
	}
	if chain.Transfers[1].DestRSE != "RSE4" {
		t.Fatalf("second hop lands at %q", chain.Transfers[1].DestRSE)
	}
}

func TestGroupJobsMultiSourceAlone(t *testing.T) {
	cands := []*request.Candidate{
		cand("r1", "rule-a", "staging", "RSE3", "RSE1", "RSE2"),
		cand("r2", "rule-a", "staging", "RSE3", "RSE1"),
	}

	jobs := transfertool.GroupJobs("host", cands, transfertool.GroupOptions{})
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}
	jobIDs(t, jobs[0], "r1")
	if src := jobs[0].Transfers[0].Sources; !reflect.DeepEqual(src, []string{"RSE1", "RSE2"}) {
		t.Fatalf("multi-source transfer reads from %v", src)
	}
}

func TestGroupJobsTapeSource(t *testing.T) {
	staged := cand("r1", "rule-a", "staging", "RSE2", "TAPE1")
	staged.Sources[0].Tape = true

	jobs := transfertool.GroupJobs("host", []*request.Candidate{staged}, transfertool.GroupOptions{})
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}
	if jobs[0].Params.BringOnline != transfertool.DefaultBringOnline {
		t.Fatalf("bring_online = %d", jobs[0].Params.BringOnline)
	}
	if jobs[0].Params.Lifetime != transfertool.DefaultLifetime {
		t.Fatalf("copy pin lifetime = %d", jobs[0].Params.Lifetime)
	}

	disk := cand("r2", "rule-b", "staging", "RSE2", "RSE1")
	jobs = transfertool.GroupJobs("host", []*request.Candidate{disk}, transfertool.GroupOptions{})
	if jobs[0].Params.BringOnline != 0 {
		t.Fatalf("disk source staged: bring_online = %d", jobs[0].Params.BringOnline)
	}
}

func TestGroupJobsOverwrite(t *testing.T) {
	tape := cand("r1", "rule-a", "staging", "TAPE2", "RSE1")
	tape.Overwrite = false
	cands := []*request.Candidate{
		cand("r2", "rule-a", "staging", "RSE2", "RSE1"),
		tape,
	}

	jobs := transfertool.GroupJobs("host", cands, transfertool.GroupOptions{})
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}
	if jobs[0].Params.Overwrite {
		t.Fatal("tape destination must not be overwritten")
	}
}

func TestGroupJobsMaxTimeInQueue(t *testing.T) {
	times, err := transfertool.ParseMaxTimeInQueue([]string{"analysis:48"})
	if err != nil {
		t.Fatal(err)
	}
	opts := transfertool.GroupOptions{MaxTimeInQueue: times}

	jobs := transfertool.GroupJobs("host", []*request.Candidate{
		cand("r1", "rule-a", "analysis", "RSE2", "RSE1"),
	}, opts)
	if jobs[0].Params.MaxTimeInQueue != 48 {
		t.Fatalf("analysis queue expiry = %d", jobs[0].Params.MaxTimeInQueue)
	}

	jobs = transfertool.GroupJobs("host", []*request.Candidate{
		cand("r2", "rule-b", "staging", "RSE2", "RSE1"),
	}, opts)
	if jobs[0].Params.MaxTimeInQueue != transfertool.DefaultMaxTimeInQueue {
		t.Fatalf("staging queue expiry = %d", jobs[0].Params.MaxTimeInQueue)
	}
}

func TestGroupJobsParams(t *testing.T) {
	jobs := transfertool.GroupJobs("host", []*request.Candidate{
		cand("r1", "rule-a", "staging", "RSE2", "RSE1"),
	}, transfertool.GroupOptions{Account: "courier", VerifyChecksum: true})

	params := jobs[0].Params
	if params.Account != "courier" {
		t.Fatalf("account = %q", params.Account)
	}
	if params.Activity != "staging" {
		t.Fatalf("activity = %q", params.Activity)
	}
	if params.Priority != transfertool.DefaultPriority {
		t.Fatalf("priority = %d", params.Priority)
	}
	if !params.VerifyChecksum {
		t.Fatal("verify_checksum not set")
	}
	if !params.Overwrite {
		t.Fatal("overwrite not set for disk destination")
	}
}

func TestGroupJobsChecksum(t *testing.T) {
	with := cand("r1", "rule-a", "staging", "RSE2", "RSE1")
	with.Request.Checksums = map[string]string{
		checksum.Adler32: "8a23d4f2",
		checksum.MD5:     "ffffffffffffffffffffffffffffffff",
	}
	bare := cand("r2", "rule-a", "staging", "RSE2", "RSE1")

	jobs := transfertool.GroupJobs("host", []*request.Candidate{with, bare},
		transfertool.GroupOptions{VerifyChecksum: true})
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}
	if got := jobs[0].Transfers[0].Checksum; got != "ADLER32:8a23d4f2" {
		t.Fatalf("checksum = %q", got)
	}
	if got := jobs[0].Transfers[1].Checksum; got != "" {
		t.Fatalf("bare request carries checksum %q", got)
	}

	// Verification off, so the digest stays off the wire.
	jobs = transfertool.GroupJobs("host", []*request.Candidate{with}, transfertool.GroupOptions{})
	if got := jobs[0].Transfers[0].Checksum; got != "" {
		t.Fatalf("checksum sent with verification off: %q", got)
	}
}

func TestParseMaxTimeInQueue(t *testing.T) {
	times, err := transfertool.ParseMaxTimeInQueue([]string{"analysis:48", "default:24"})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]int64{"analysis": 48, "default": 24}
	if !reflect.DeepEqual(times, want) {
		t.Fatalf("got %v, want %v", times, want)
	}

	times, err = transfertool.ParseMaxTimeInQueue(nil)
	if err != nil {
		t.Fatal(err)
	}
	if times["default"] != transfertool.DefaultMaxTimeInQueue {
		t.Fatalf("default queue expiry = %d", times["default"])
	}

	for _, bad := range []string{"analysis", "analysis:soon", ":48", "analysis:-1", "analysis:0"} {
		if _, err := transfertool.ParseMaxTimeInQueue([]string{bad}); err == nil {
			t.Fatalf("entry %q parsed without error", bad)
		}
	}
}
