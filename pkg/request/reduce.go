// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package request

import "sort"

// Stage is one step of the reduction pipeline. Stages filter or
// reorder the candidate slice; they never invent new candidates.
type Stage func([]*Candidate) []*Candidate

// Reduce applies the stages in order and returns the narrowed,
// reordered candidate set. Re-running the same stages over an
// unchanged candidate set yields the same result.
func Reduce(cands []*Candidate, stages ...Stage) []*Candidate {
	for _, stage := range stages {
		cands = stage(cands)
	}
	return cands
}

// FilterScope keeps candidates whose destination, and for multihop
// paths every intermediate endpoint, falls inside the operator's RSE
// scope. An empty scope admits everything.
func FilterScope(scope map[string]bool) Stage {
	return func(cands []*Candidate) []*Candidate {
		if len(scope) == 0 {
			return cands
		}

		var kept []*Candidate
		for _, c := range cands {
			if !scope[c.Request.DestRSE] {
				continue
			}
			inScope := true
			for _, h := range c.Hops {
				if !scope[h.Dest] {
					inScope = false
					break
				}
			}
			if inScope {
				kept = append(kept, c)
			}
		}
		return kept
	}
}

// SortByCost stable-sorts candidates by resolved path total cost,
// cheapest first, so the cheapest transfers are attempted first.
func SortByCost() Stage {
	return func(cands []*Candidate) []*Candidate {
		sort.SliceStable(cands, func(i, j int) bool {
			return cands[i].TotalCost < cands[j].TotalCost
		})
		return cands
	}
}

// FilterCapability drops candidates whose destination RSE does not
// list the given transfer tool. The tools map comes from the external
// capability lookup, fetched once per cycle.
func FilterCapability(tools map[string][]string, tool string) Stage {
	return func(cands []*Candidate) []*Candidate {
		var kept []*Candidate
		for _, c := range cands {
			for _, t := range tools[c.Request.DestRSE] {
				if t == tool {
					kept = append(kept, c)
					break
				}
			}
		}
		return kept
	}
}

// GroupByHost buckets candidates by the external execution endpoint
// that will receive them, preserving the relative order established
// by the prior stages within each bucket.
func GroupByHost(cands []*Candidate) map[string][]*Candidate {
	groups := make(map[string][]*Candidate)
	for _, c := range cands {
		host := c.Request.ExternalHost
		groups[host] = append(groups[host], c)
	}
	return groups
}

// Hosts returns the group keys in a stable order.
func Hosts(groups map[string][]*Candidate) []string {
	hosts := make([]string, 0, len(groups))
	for h := range groups {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}
