package transfertool_test

import (
	"fmt"
	"testing"

	"golang.org/x/net/context"

	"github.com/pkg/errors"

	"github.com/gridfab/courier/pkg/request"
	"github.com/gridfab/courier/pkg/transfertool"
)

// stubTool scripts submission outcomes without a wire endpoint.
type stubTool struct {
	submits []*transfertool.Job
	cancels []string
	errs    []error
}

func (t *stubTool) Name() string { return "stub" }

func (t *stubTool) Submit(ctx context.Context, job *transfertool.Job) (string, error) {
	t.submits = append(t.submits, job)
	if len(t.errs) > 0 {
		var err error
		err, t.errs = t.errs[0], t.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("ext-%d", len(t.submits)), nil
}

func (t *stubTool) Cancel(ctx context.Context, externalID string) error {
	t.cancels = append(t.cancels, externalID)
	return nil
}

func seedStore(t *testing.T, ids ...string) *request.MemStore {
	store := request.NewMemStore()
	for _, id := range ids {
		err := store.Add(context.Background(), &request.Request{
			ID:      id,
			Scope:   "data",
			Name:    "file-" + id,
			DestRSE: "RSE2",
			State:   request.StateQueued,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	return store
}

func checkState(t *testing.T, store *request.MemStore, id string, want request.State) {
	req, err := store.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if req.State != want {
		t.Fatalf("request %s in state %s, want %s", id, req.State, want)
	}
}

func TestSubmitJobRecordsSubmission(t *testing.T) {
	store := seedStore(t, "r1", "r2")
	tool := &stubTool{}

	err := transfertool.SubmitJob(context.Background(), store, tool, testJob("r1", "r2"))
	if err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"r1", "r2"} {
		req, err := store.Get(id)
		if err != nil {
			t.Fatal(err)
		}
		if req.State != request.StateSubmitted {
			t.Fatalf("request %s in state %s", id, req.State)
		}
		if req.ExternalID != "ext-1" {
			t.Fatalf("request %s tracked as %q", id, req.ExternalID)
		}
		if req.Attempts != 1 {
			t.Fatalf("request %s has %d attempts", id, req.Attempts)
		}
	}
}

func TestSubmitJobMarksFailures(t *testing.T) {
	store := seedStore(t, "r1", "r2")
	tool := &stubTool{errs: []error{
		&transfertool.TransientError{Reason: errors.New("connection refused")},
	}}

	if err := transfertool.SubmitJob(context.Background(), store, tool, testJob("r1", "r2")); err == nil {
		t.Fatal("failed submission reported as success")
	}

	checkState(t, store, "r1", request.StateSubmissionFailed)
	checkState(t, store, "r2", request.StateSubmissionFailed)
}

func TestSubmitJobFailedRequestsRetryLater(t *testing.T) {
	store := seedStore(t, "r1")
	tool := &stubTool{errs: []error{
		&transfertool.TransientError{Reason: errors.New("connection refused")},
	}}

	job := testJob("r1")
	if err := transfertool.SubmitJob(context.Background(), store, tool, job); err == nil {
		t.Fatal("failed submission reported as success")
	}
	if err := transfertool.SubmitJob(context.Background(), store, tool, job); err != nil {
		t.Fatal(err)
	}

	req, err := store.Get("r1")
	if err != nil {
		t.Fatal(err)
	}
	if req.State != request.StateSubmitted {
		t.Fatalf("request in state %s after resubmission", req.State)
	}
	if req.Attempts != 2 {
		t.Fatalf("request has %d attempts", req.Attempts)
	}
}

func TestSubmitJobDuplicateResubmitsSingles(t *testing.T) {
	store := seedStore(t, "r1", "r2")
	tool := &stubTool{errs: []error{&transfertool.DuplicateError{Host: "host"}}}

	if err := transfertool.SubmitJob(context.Background(), store, tool, testJob("r1", "r2")); err != nil {
		t.Fatal(err)
	}
	if len(tool.submits) != 3 {
		t.Fatalf("tool saw %d submits, want 3", len(tool.submits))
	}
	for _, job := range tool.submits[1:] {
		if len(job.Transfers) != 1 {
			t.Fatalf("resubmitted job carries %d transfers", len(job.Transfers))
		}
	}

	r1, err := store.Get("r1")
	if err != nil {
		t.Fatal(err)
	}
	r2, err := store.Get("r2")
	if err != nil {
		t.Fatal(err)
	}
	if r1.State != request.StateSubmitted || r2.State != request.StateSubmitted {
		t.Fatalf("requests in states %s/%s", r1.State, r2.State)
	}
	if r1.ExternalID == r2.ExternalID {
		t.Fatalf("singles share external id %q", r1.ExternalID)
	}
}

func TestSubmitJobDuplicateSingle(t *testing.T) {
	store := seedStore(t, "r1", "r2")
	tool := &stubTool{errs: []error{
		&transfertool.DuplicateError{Host: "host"},
		nil,
		&transfertool.DuplicateError{Host: "host"},
	}}

	if err := transfertool.SubmitJob(context.Background(), store, tool, testJob("r1", "r2")); err != nil {
		t.Fatal(err)
	}

	checkState(t, store, "r1", request.StateSubmitted)
	checkState(t, store, "r2", request.StateSubmissionFailed)
}

func TestSubmitJobMultihopNeverSplits(t *testing.T) {
	store := seedStore(t, "r1", "r2")
	tool := &stubTool{errs: []error{&transfertool.DuplicateError{Host: "host"}}}

	job := testJob("r1", "r2")
	job.Params.Multihop = true
	if err := transfertool.SubmitJob(context.Background(), store, tool, job); err == nil {
		t.Fatal("duplicate chain reported as success")
	}
	if len(tool.submits) != 1 {
		t.Fatalf("tool saw %d submits, want 1", len(tool.submits))
	}

	checkState(t, store, "r1", request.StateSubmissionFailed)
	checkState(t, store, "r2", request.StateSubmissionFailed)
}

// lossyStore drops registrations to exercise the cancel path.
type lossyStore struct {
	*request.MemStore
}

func (s *lossyStore) MarkSubmitted(ctx context.Context, externalHost, externalID string, ids ...string) error {
	return errors.New("connection lost")
}

func TestSubmitJobCancelsUntracked(t *testing.T) {
	store := &lossyStore{seedStore(t, "r1")}
	tool := &stubTool{}

	if err := transfertool.SubmitJob(context.Background(), store, tool, testJob("r1")); err == nil {
		t.Fatal("lost registration reported as success")
	}
	if len(tool.cancels) != 1 || tool.cancels[0] != "ext-1" {
		t.Fatalf("tool saw cancels %v", tool.cancels)
	}
}
