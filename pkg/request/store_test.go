package request_test

import (
	"fmt"
	"testing"

	"golang.org/x/net/context"

	"github.com/gridfab/courier/pkg/replica"
	"github.com/gridfab/courier/pkg/request"
	"github.com/gridfab/courier/pkg/topology"
)

func testStore(t *testing.T, n int) *request.MemStore {
	s := request.NewMemStore()
	for i := 0; i < n; i++ {
		err := s.Add(context.Background(), &request.Request{
			ID:       request.NewID(),
			Scope:    "user.test",
			Name:     fmt.Sprintf("file-%d", i),
			DestRSE:  "rse1",
			Activity: "User Subscriptions",
			State:    request.StateQueued,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func TestPartitionCoverage(t *testing.T) {
	const total = 3
	const n = 60

	s := testStore(t, n)
	ctx := context.Background()

	seen := make(map[string]int)
	for worker := 0; worker < total; worker++ {
		cands, err := s.NextToSubmit(ctx, total, worker, 0, request.StateQueued, nil)
		if err != nil {
			t.Fatal(err)
		}
		for _, c := range cands {
			seen[c.Request.ID]++
		}
	}

	if len(seen) != n {
		t.Fatalf("expected %d requests across all workers, got %d", n, len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("request %s claimed by %d workers", id, count)
		}
	}
}

func TestPartitionStable(t *testing.T) {
	id := request.NewID()
	first := request.Shard(id, 7)
	for i := 0; i < 100; i++ {
		if got := request.Shard(id, 7); got != first {
			t.Fatalf("shard moved from %d to %d", first, got)
		}
	}
	if first < 0 || first >= 7 {
		t.Fatalf("shard %d out of range", first)
	}
}

func TestNextToSubmitFilters(t *testing.T) {
	ctx := context.Background()
	s := request.NewMemStore()

	add := func(id, activity string, state request.State) {
		err := s.Add(ctx, &request.Request{
			ID: id, DestRSE: "rse1", Activity: activity, State: state,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	add("q1", "Production", request.StateQueued)
	add("q2", "User Subscriptions", request.StateQueued)
	add("p1", "Production", request.StatePreparing)

	cands, err := s.NextToSubmit(ctx, 1, 0, 0, request.StateQueued, []string{"Production"})
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 || cands[0].Request.ID != "q1" {
		t.Fatalf("expected [q1], got %v", candIDs(cands))
	}

	cands, err = s.NextToSubmit(ctx, 1, 0, 0, request.StatePreparing, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 || cands[0].Request.ID != "p1" {
		t.Fatalf("expected [p1], got %v", candIDs(cands))
	}
}

func TestNextToSubmitLimit(t *testing.T) {
	s := testStore(t, 10)

	cands, err := s.NextToSubmit(context.Background(), 1, 0, 4, request.StateQueued, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 4 {
		t.Fatalf("expected 4 candidates, got %d", len(cands))
	}
}

func TestNextToSubmitBadWorker(t *testing.T) {
	s := testStore(t, 1)

	if _, err := s.NextToSubmit(context.Background(), 2, 2, 0, request.StateQueued, nil); err == nil {
		t.Fatal("expected error for out of range worker")
	}
	if _, err := s.NextToSubmit(context.Background(), 0, 0, 0, request.StateQueued, nil); err == nil {
		t.Fatal("expected error for zero workers")
	}
}

func TestMarkSubmittingClaims(t *testing.T) {
	ctx := context.Background()
	s := request.NewMemStore()
	if err := s.Add(ctx, &request.Request{ID: "r1", State: request.StateQueued}); err != nil {
		t.Fatal(err)
	}

	if err := s.MarkSubmitting(ctx, "r1"); err != nil {
		t.Fatal(err)
	}
	// A second claim must be refused; the store is the last line of
	// defense against double submission.
	if err := s.MarkSubmitting(ctx, "r1"); err == nil {
		t.Fatal("expected second claim to fail")
	}

	r, err := s.Get("r1")
	if err != nil {
		t.Fatal(err)
	}
	if r.State != request.StateSubmitting || r.Attempts != 1 {
		t.Fatalf("unexpected request after claim: %+v", r)
	}
}

func TestSubmissionTransitions(t *testing.T) {
	ctx := context.Background()
	s := request.NewMemStore()
	if err := s.Add(ctx,
		&request.Request{ID: "ok", State: request.StateQueued},
		&request.Request{ID: "bad", State: request.StateQueued},
	); err != nil {
		t.Fatal(err)
	}

	// Straight to SUBMITTED without a claim is refused.
	if err := s.MarkSubmitted(ctx, "fts://x", "job-1", "ok"); err == nil {
		t.Fatal("expected transition error")
	}

	if err := s.MarkSubmitting(ctx, "ok", "bad"); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkSubmitted(ctx, "fts://x", "job-1", "ok"); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkSubmissionFailed(ctx, "bad"); err != nil {
		t.Fatal(err)
	}

	r, _ := s.Get("ok")
	if r.State != request.StateSubmitted || r.ExternalID != "job-1" || r.ExternalHost != "fts://x" {
		t.Fatalf("unexpected submitted request: %+v", r)
	}

	r, _ = s.Get("bad")
	if r.State != request.StateSubmissionFailed {
		t.Fatalf("expected SUBMISSION_FAILED, got %s", r.State)
	}

	// Failed-to-submit requests are retryable.
	if err := s.MarkSubmitting(ctx, "bad"); err != nil {
		t.Fatal(err)
	}
}

func TestMarkSourcesInUse(t *testing.T) {
	ctx := context.Background()
	s := request.NewMemStore()
	if err := s.Add(ctx, &request.Request{ID: "r1", State: request.StateQueued}); err != nil {
		t.Fatal(err)
	}
	s.AddSource("r1", replica.Source{RSE: "disk1"})
	s.AddSource("r1", replica.Source{RSE: "disk2"})

	if err := s.MarkSourcesInUse(ctx, "r1", []string{"disk1"}); err != nil {
		t.Fatal(err)
	}

	cands, err := s.NextToSubmit(ctx, 1, 0, 0, request.StateQueued, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(cands))
	}

	got := replica.Select(cands[0].Sources)
	if len(got) != 1 || got[0].RSE != "disk2" {
		t.Fatalf("expected only disk2 to remain eligible, got %v", got)
	}
}

func TestNewIntermediate(t *testing.T) {
	root := &request.Request{
		ID:       request.NewID(),
		Scope:    "user.test",
		Name:     "file-1",
		Bytes:    1 << 20,
		DestRSE:  "rse4",
		Activity: "Production",
	}
	hop := topology.Hop{Source: "rse1", Dest: "rse2", Cost: 10}

	mid := request.NewIntermediate(root, hop)
	if mid.ID == root.ID || mid.ID == "" {
		t.Fatalf("intermediate id not fresh: %q", mid.ID)
	}
	if mid.DestRSE != "rse2" {
		t.Fatalf("expected dest rse2, got %s", mid.DestRSE)
	}
	if mid.ParentID != root.ID || mid.InitialID != root.ID {
		t.Fatalf("bad chain linkage: %+v", mid)
	}
	if mid.Name != root.Name || mid.Bytes != root.Bytes {
		t.Fatalf("intermediate lost payload identity: %+v", mid)
	}

	// A second-level intermediate keeps pointing at the chain root.
	next := request.NewIntermediate(mid, topology.Hop{Source: "rse2", Dest: "rse3", Cost: 10})
	if next.InitialID != root.ID || next.ParentID != mid.ID {
		t.Fatalf("bad second-level linkage: %+v", next)
	}
}
