package request

import (
	"hash/fnv"

	"golang.org/x/net/context"
)

// Store is the contract against the shared request backlog. The
// production backing store lives behind this interface; the scheduler
// never sees its schema. Implementations must enforce single-claim
// semantics on state transitions even though the partition sharding
// already makes cross-replica claims disjoint.
type Store interface {
	// NextToSubmit returns up to limit candidates in the given state
	// belonging to this worker's shard, each with its replica
	// sources. An empty activities list admits every activity.
	NextToSubmit(ctx context.Context, total, worker, limit int, state State, activities []string) ([]*Candidate, error)

	// Add inserts new requests, used for synthetic intermediates.
	Add(ctx context.Context, reqs ...*Request) error

	MarkSubmitting(ctx context.Context, ids ...string) error
	MarkSubmitted(ctx context.Context, externalHost, externalID string, ids ...string) error
	MarkSubmissionFailed(ctx context.Context, ids ...string) error

	// MarkSourcesInUse consumes the chosen replica sources of a
	// request so later cycles will not pick them again.
	MarkSourcesInUse(ctx context.Context, id string, rses []string) error
}

// Shard returns the worker index owning the given request id among
// total workers. Every id maps to exactly one worker, so the shards
// are disjoint and cover the whole backlog.
func Shard(id string, total int) int {
	if total <= 1 {
		return 0
	}
	h := fnv.New64a()
	h.Write([]byte(id))
	return int(h.Sum64() % uint64(total))
}
