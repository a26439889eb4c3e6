package heartbeat

import (
	"sync"
	"time"

	"golang.org/x/net/context"
)

// MemRegistry is an in-process Registry for tests and single-host
// deployments.
type MemRegistry struct {
	mu     sync.Mutex
	expiry time.Duration
	beats  map[string]map[string]time.Time
}

// NewMemRegistry returns an empty registry. An expiry of zero selects
// DefaultExpiry.
func NewMemRegistry(expiry time.Duration) *MemRegistry {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &MemRegistry{
		expiry: expiry,
		beats:  make(map[string]map[string]time.Time),
	}
}

// Live refreshes the caller's beat and ranks it among the live set.
func (r *MemRegistry) Live(ctx context.Context, executable, hostname string, pid, thread int) (Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	threads, ok := r.beats[executable]
	if !ok {
		threads = make(map[string]time.Time)
		r.beats[executable] = threads
	}

	own := ident(hostname, pid, thread)
	now := time.Now()
	threads[own] = now

	var live []string
	for id, beat := range threads {
		if now.Sub(beat) > r.expiry {
			delete(threads, id)
			continue
		}
		live = append(live, id)
	}

	return rank(own, live)
}

// Die deregisters the caller's slot.
func (r *MemRegistry) Die(ctx context.Context, executable, hostname string, pid, thread int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if threads, ok := r.beats[executable]; ok {
		delete(threads, ident(hostname, pid, thread))
	}
	return nil
}

// Members returns the live threads registered under an executable
// without refreshing any beats.
func (r *MemRegistry) Members(ctx context.Context, executable string) ([]Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var members []Member
	for id, beat := range r.beats[executable] {
		if now.Sub(beat) > r.expiry {
			continue
		}
		host, pid, thread, err := parseIdent(id)
		if err != nil {
			return nil, err
		}
		members = append(members, Member{Hostname: host, PID: pid, Thread: thread, LastBeat: beat})
	}
	sortMembers(members)
	return members, nil
}
