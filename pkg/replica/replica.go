// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package replica implements the source selection policy for transfer
// requests. Disk replicas may feed a transfer in parallel; tape
// replicas are mounted serially, so at most one is ever chosen.
package replica

import "sort"

// Source is a candidate replica location for a request. Ranking is an
// externally maintained preference score; operators and automated
// feedback push it below zero to take a replica out of rotation.
type Source struct {
	RequestID string
	RSE       string
	Ranking   int
	Distance  int64
	Tape      bool
	InUse     bool
}

// Eligible returns true if the source may be considered this cycle.
func (s Source) Eligible() bool {
	return !s.InUse && s.RSE != "" && s.Ranking >= 0
}

// Select picks the source set for a request's first hop. All eligible
// disk sources are returned, ordered by ranking descending and then
// distance ascending. Only when no disk source is eligible is a tape
// source considered, and then exactly one: the highest ranked, ties
// going to the smaller distance.
//
// Select has no side effects; the scheduling loop marks winners as
// in-use through the request store.
func Select(sources []Source) []Source {
	var disk, tape []Source
	for _, s := range sources {
		if !s.Eligible() {
			continue
		}
		if s.Tape {
			tape = append(tape, s)
		} else {
			disk = append(disk, s)
		}
	}

	if len(disk) > 0 {
		sort.SliceStable(disk, func(i, j int) bool {
			if disk[i].Ranking != disk[j].Ranking {
				return disk[i].Ranking > disk[j].Ranking
			}
			if disk[i].Distance != disk[j].Distance {
				return disk[i].Distance < disk[j].Distance
			}
			return disk[i].RSE < disk[j].RSE
		})
		return disk
	}

	if len(tape) == 0 {
		return nil
	}

	best := tape[0]
	for _, s := range tape[1:] {
		if s.Ranking > best.Ranking {
			best = s
			continue
		}
		if s.Ranking == best.Ranking && s.Distance < best.Distance {
			best = s
		}
	}
	return []Source{best}
}
