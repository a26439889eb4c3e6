// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package topology

import (
	"container/heap"
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/net/context"
)

type (
	// Hop is one edge of a resolved transfer path.
	Hop struct {
		Source string
		Dest   string
		Cost   int64
	}

	// NoRouteError reports that no feasible path exists between two
	// RSEs under the current topology and constraints.
	NoRouteError struct {
		Source string
		Dest   string
	}

	// Resolver computes cheapest feasible hop sequences over a Store.
	Resolver struct {
		store   Store
		penalty int64
	}
)

func (e *NoRouteError) Error() string {
	return fmt.Sprintf("no route from %s to %s", e.Source, e.Dest)
}

// IsNoRoute returns true if err's cause is a NoRouteError.
func IsNoRoute(err error) bool {
	_, ok := errors.Cause(err).(*NoRouteError)
	return ok
}

// DefaultHopPenalty is the cost added per hop beyond the first when
// comparing candidate paths.
const DefaultHopPenalty = 10

// NewResolver returns a Resolver over store. A penalty of zero or less
// selects DefaultHopPenalty.
func NewResolver(store Store, penalty int64) *Resolver {
	if penalty <= 0 {
		penalty = DefaultHopPenalty
	}
	return &Resolver{store: store, penalty: penalty}
}

// TotalCost is the comparable cost of a path: the sum of its edge
// costs plus one hop penalty per hop beyond the first.
func (r *Resolver) TotalCost(hops []Hop) int64 {
	var sum int64
	for _, h := range hops {
		sum += h.Cost
	}
	if n := int64(len(hops)); n > 1 {
		sum += (n - 1) * r.penalty
	}
	return sum
}

// MultihopRSEs returns the IDs of RSEs carrying the multihop
// attribute, sorted. A scheduling cycle fetches this once and passes
// it to Resolve for every request in the cycle.
func (r *Resolver) MultihopRSEs(ctx context.Context) ([]string, error) {
	rses, err := r.store.RSEs(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "rse lookup failed")
	}

	var ids []string
	for _, rse := range rses {
		if rse.Multihop() {
			ids = append(ids, rse.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Resolve returns the cheapest feasible path from src to dst. With an
// empty allow-list only a direct edge is considered. With a non-empty
// allow-list the search may route through the listed intermediates;
// src and dst are always admissible as path endpoints.
//
// Edges with zero or negative cost are never used, and directionality
// is strict. Ties on total cost prefer fewer hops, then the
// lexicographically smallest expansion order, so results are
// reproducible for identical graph state.
func (r *Resolver) Resolve(ctx context.Context, src, dst string, multihop []string) ([]Hop, error) {
	if src == dst {
		return nil, &NoRouteError{Source: src, Dest: dst}
	}

	if len(multihop) == 0 {
		return r.direct(ctx, src, dst)
	}
	return r.search(ctx, src, dst, multihop)
}

func (r *Resolver) direct(ctx context.Context, src, dst string) ([]Hop, error) {
	edges, err := r.store.Distances(ctx, src)
	if err != nil {
		return nil, errors.Wrapf(err, "distance lookup for %s failed", src)
	}

	for _, e := range edges {
		if e.Dest == dst && e.Cost > 0 {
			return []Hop{{Source: src, Dest: dst, Cost: e.Cost}}, nil
		}
	}
	return nil, &NoRouteError{Source: src, Dest: dst}
}

type (
	routeCand struct {
		rse  string
		cost int64
		hops int
	}

	routeHeap []routeCand
)

func (h routeHeap) Len() int { return len(h) }

func (h routeHeap) Less(i, j int) bool {
	if h[i].cost != h[j].cost {
		return h[i].cost < h[j].cost
	}
	if h[i].hops != h[j].hops {
		return h[i].hops < h[j].hops
	}
	return h[i].rse < h[j].rse
}

func (h routeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *routeHeap) Push(x interface{}) { *h = append(*h, x.(routeCand)) }

func (h *routeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func (r *Resolver) search(ctx context.Context, src, dst string, multihop []string) ([]Hop, error) {
	allowed := make(map[string]bool, len(multihop)+2)
	for _, id := range multihop {
		allowed[id] = true
	}
	allowed[src] = true
	allowed[dst] = true

	type best struct {
		cost int64
		hops int
	}
	settled := make(map[string]bool)
	bests := map[string]best{src: {}}
	prev := make(map[string]Hop)

	pq := &routeHeap{{rse: src}}
	heap.Init(pq)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(routeCand)
		if settled[cur.rse] {
			continue
		}
		settled[cur.rse] = true

		if cur.rse == dst {
			return unwind(prev, src, dst), nil
		}

		edges, err := r.store.Distances(ctx, cur.rse)
		if err != nil {
			return nil, errors.Wrapf(err, "distance lookup for %s failed", cur.rse)
		}
		sort.Slice(edges, func(i, j int) bool {
			return edges[i].Dest < edges[j].Dest
		})

		for _, e := range edges {
			if e.Cost <= 0 || settled[e.Dest] || !allowed[e.Dest] {
				continue
			}

			w := e.Cost
			if cur.hops > 0 {
				// Every hop after the first pays the penalty.
				w += r.penalty
			}
			cand := best{cost: cur.cost + w, hops: cur.hops + 1}

			old, seen := bests[e.Dest]
			if seen && (old.cost < cand.cost ||
				(old.cost == cand.cost && old.hops <= cand.hops)) {
				continue
			}
			bests[e.Dest] = cand
			prev[e.Dest] = Hop{Source: cur.rse, Dest: e.Dest, Cost: e.Cost}
			heap.Push(pq, routeCand{rse: e.Dest, cost: cand.cost, hops: cand.hops})
		}
	}

	return nil, &NoRouteError{Source: src, Dest: dst}
}

func unwind(prev map[string]Hop, src, dst string) []Hop {
	var hops []Hop
	for at := dst; at != src; {
		h := prev[at]
		hops = append([]Hop{h}, hops...)
		at = h.Source
	}
	return hops
}
