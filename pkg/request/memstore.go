package request

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/net/context"

	"github.com/gridfab/courier/pkg/replica"
)

// MemStore is an in-memory Store used by tests and by single-node
// deployments seeded from fixture files. One lock serializes state
// transitions, standing in for the conditional updates a
// database-backed store would use.
type MemStore struct {
	mu       sync.Mutex
	requests map[string]*Request
	sources  map[string][]replica.Source
	order    []string
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		requests: make(map[string]*Request),
		sources:  make(map[string][]replica.Source),
	}
}

// Add inserts new requests. Duplicate ids are refused.
func (s *MemStore) Add(ctx context.Context, reqs ...*Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range reqs {
		if r.ID == "" {
			return errors.New("request without id")
		}
		if _, ok := s.requests[r.ID]; ok {
			return errors.Errorf("request %s already exists", r.ID)
		}
		cp := *r
		s.requests[r.ID] = &cp
		s.order = append(s.order, r.ID)
	}
	return nil
}

// AddSource attaches a replica source to a request.
func (s *MemStore) AddSource(id string, src replica.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src.RequestID = id
	s.sources[id] = append(s.sources[id], src)
}

// Get returns a copy of the request with the given id.
func (s *MemStore) Get(id string) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.requests[id]
	if !ok {
		return nil, errors.Errorf("unknown request %s", id)
	}
	cp := *r
	return &cp, nil
}

// NextToSubmit returns up to limit of this worker's candidates in the
// given state, in insertion order, each with a copy of its sources.
func (s *MemStore) NextToSubmit(ctx context.Context, total, worker, limit int, state State, activities []string) ([]*Candidate, error) {
	if total < 1 {
		return nil, errors.Errorf("invalid worker count %d", total)
	}
	if worker < 0 || worker >= total {
		return nil, errors.Errorf("worker %d out of range for %d workers", worker, total)
	}

	wanted := make(map[string]bool, len(activities))
	for _, a := range activities {
		wanted[a] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Candidate
	for _, id := range s.order {
		if limit > 0 && len(out) >= limit {
			break
		}
		r := s.requests[id]
		if r.State != state {
			continue
		}
		if len(wanted) > 0 && !wanted[r.Activity] {
			continue
		}
		if Shard(id, total) != worker {
			continue
		}

		cp := *r
		srcs := make([]replica.Source, len(s.sources[id]))
		copy(srcs, s.sources[id])
		out = append(out, &Candidate{Request: &cp, Sources: srcs})
	}
	return out, nil
}

func (s *MemStore) transition(id string, from []State, to State) error {
	r, ok := s.requests[id]
	if !ok {
		return errors.Errorf("unknown request %s", id)
	}
	for _, f := range from {
		if r.State == f {
			r.State = to
			return nil
		}
	}
	return errors.Errorf("request %s is %s, cannot move to %s", id, r.State, to)
}

// MarkSubmitting claims requests for submission. The claim covers the
// whole batch or none of it; a request already claimed by another
// worker refuses the batch.
func (s *MemStore) MarkSubmitting(ctx context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		r, ok := s.requests[id]
		if !ok {
			return errors.Errorf("unknown request %s", id)
		}
		switch r.State {
		case StatePreparing, StateQueued, StateSubmissionFailed:
		default:
			return errors.Errorf("request %s is %s, cannot move to %s", id, r.State, StateSubmitting)
		}
	}

	for _, id := range ids {
		s.requests[id].State = StateSubmitting
		s.requests[id].Attempts++
	}
	return nil
}

// MarkSubmitted records a successful submission with the external
// host and job id.
func (s *MemStore) MarkSubmitted(ctx context.Context, externalHost, externalID string, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if err := s.transition(id, []State{StateSubmitting}, StateSubmitted); err != nil {
			return err
		}
		s.requests[id].ExternalHost = externalHost
		s.requests[id].ExternalID = externalID
	}
	return nil
}

// MarkSubmissionFailed returns requests to the retryable
// failed-to-submit state after an exhausted submission.
func (s *MemStore) MarkSubmissionFailed(ctx context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if err := s.transition(id, []State{StateSubmitting}, StateSubmissionFailed); err != nil {
			return err
		}
	}
	return nil
}

// MarkSourcesInUse consumes the chosen replica sources of a request.
func (s *MemStore) MarkSourcesInUse(ctx context.Context, id string, rses []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[id]; !ok {
		return errors.Errorf("unknown request %s", id)
	}

	chosen := make(map[string]bool, len(rses))
	for _, rse := range rses {
		chosen[rse] = true
	}
	srcs := s.sources[id]
	for i := range srcs {
		if chosen[srcs[i].RSE] {
			srcs[i].InUse = true
		}
	}
	return nil
}
