package harness

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"sync"

	"github.com/intel-hpdd/logging/debug"

	"github.com/gridfab/courier/pkg/transfertool"
)

// TransferService is a stand-in transfer point which records the jobs
// submitted to it, so that scenarios can assert on what the daemon
// actually sent.
type TransferService struct {
	mu      sync.Mutex
	next    int
	jobs    []*transfertool.Job
	cancels []string

	srv *httptest.Server
}

// StartTransferService starts a fresh transfer service for the
// scenario and registers its shutdown with the context.
func StartTransferService(ctx *ScenarioContext) error {
	if ctx.Service != nil {
		return fmt.Errorf("StartTransferService() called with a service already running")
	}

	ctx.Service = newTransferService()
	ctx.AddCleanup(func() error {
		ctx.Service.Close()
		return nil
	})

	debug.Printf("transfer service listening on %s", ctx.Service.Endpoint())
	return nil
}

func newTransferService() *TransferService {
	ts := &TransferService{}
	ts.srv = httptest.NewServer(ts)
	return ts
}

func (ts *TransferService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == "DELETE" {
		ts.mu.Lock()
		ts.cancels = append(ts.cancels, path.Base(r.URL.Path))
		ts.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var job transfertool.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ts.mu.Lock()
	ts.next++
	job.ID = fmt.Sprintf("uat-%d", ts.next)
	ts.jobs = append(ts.jobs, &job)
	ts.mu.Unlock()

	fmt.Fprintf(w, `{"job_id": %q}`, job.ID)
}

// Endpoint returns the service's base URL
func (ts *TransferService) Endpoint() string {
	return ts.srv.URL
}

// Jobs returns the recorded jobs in submission order
func (ts *TransferService) Jobs() []*transfertool.Job {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	return append([]*transfertool.Job(nil), ts.jobs...)
}

// JobFor returns the first recorded job carrying a transfer of the
// named file, or nil if no such job has arrived yet
func (ts *TransferService) JobFor(scope, name string) *transfertool.Job {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	for _, job := range ts.jobs {
		for _, xfer := range job.Transfers {
			if xfer.Scope == scope && xfer.Name == name {
				return job
			}
		}
	}
	return nil
}

// Cancellations returns the job ids the daemon has asked to cancel
func (ts *TransferService) Cancellations() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	return append([]string(nil), ts.cancels...)
}

// Close shuts the service down
func (ts *TransferService) Close() {
	ts.srv.Close()
}
