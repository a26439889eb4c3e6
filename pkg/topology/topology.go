// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package topology

import (
	"sort"
	"sync"

	"golang.org/x/net/context"
)

type (
	// RSE is a named storage endpoint in the transfer fabric.
	RSE struct {
		ID         string
		Tape       bool
		Attributes map[string]string
	}

	// Edge is a directed link between two RSEs with an administrative
	// cost ranking. An edge A->B says nothing about B->A.
	Edge struct {
		Source string
		Dest   string
		Cost   int64
	}

	// Store provides read access to the distance graph and the RSE
	// records it connects. Implementations must preserve edge
	// directionality exactly as stored.
	Store interface {
		Distances(ctx context.Context, src string) ([]Edge, error)
		RSEs(ctx context.Context) ([]RSE, error)
	}
)

// MultihopAttr marks an RSE as eligible to serve as an intermediate
// on a multihop route.
const MultihopAttr = "multihop"

// Multihop returns true if the RSE may be used as a multihop intermediate.
func (r RSE) Multihop() bool {
	return r.Attributes[MultihopAttr] == "true"
}

// MemStore is an in-memory Store, used by tests and by deployments
// that load a static topology at startup.
type MemStore struct {
	mu    sync.RWMutex
	rses  map[string]RSE
	edges map[string][]Edge
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		rses:  make(map[string]RSE),
		edges: make(map[string][]Edge),
	}
}

// AddRSE registers an RSE record, replacing any previous record with
// the same ID.
func (s *MemStore) AddRSE(r RSE) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rses[r.ID] = r
}

// SetDistance records the directed edge src->dst. A cost of zero is
// kept in the graph but is never usable for routing.
func (s *MemStore) SetDistance(src, dst string, cost int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	edges := s.edges[src]
	for i, e := range edges {
		if e.Dest == dst {
			edges[i].Cost = cost
			return
		}
	}
	s.edges[src] = append(edges, Edge{Source: src, Dest: dst, Cost: cost})
}

// Distances returns the outbound edges of src, sorted by destination.
func (s *MemStore) Distances(ctx context.Context, src string) ([]Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	edges := make([]Edge, len(s.edges[src]))
	copy(edges, s.edges[src])
	sort.Slice(edges, func(i, j int) bool {
		return edges[i].Dest < edges[j].Dest
	})
	return edges, nil
}

// RSEs returns all registered RSE records, sorted by ID.
func (s *MemStore) RSEs(ctx context.Context) ([]RSE, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rses := make([]RSE, 0, len(s.rses))
	for _, r := range s.rses {
		rses = append(rses, r)
	}
	sort.Slice(rses, func(i, j int) bool {
		return rses[i].ID < rses[j].ID
	})
	return rses, nil
}
