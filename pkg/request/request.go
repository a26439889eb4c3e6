// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package request holds the transfer request model, the narrow store
// contract the scheduler consumes the shared backlog through, and the
// reduction pipeline that turns raw candidates into submission order.
package request

import (
	"github.com/pborman/uuid"

	"github.com/gridfab/courier/pkg/replica"
	"github.com/gridfab/courier/pkg/topology"
)

// State is a request lifecycle state.
type State string

const (
	StatePreparing        State = "PREPARING"
	StateQueued           State = "QUEUED"
	StateSubmitting       State = "SUBMITTING"
	StateSubmitted        State = "SUBMITTED"
	StateDone             State = "DONE"
	StateFailed           State = "FAILED"
	StateSubmissionFailed State = "SUBMISSION_FAILED"
)

type (
	// Request is the unit of work: one file wanted at one RSE.
	Request struct {
		ID           string
		Scope        string
		Name         string
		Bytes        int64
		DestRSE      string
		Activity     string
		RuleID       string
		State        State
		ExternalHost string
		ExternalID   string
		Attempts     int

		// Checksums maps algorithm names to hex digests of the file
		// content, as recorded in the catalog.
		Checksums map[string]string

		// ParentID and InitialID link a synthetic intermediate
		// request of a multihop chain to its predecessor hop and
		// to the user-visible root request.
		ParentID  string
		InitialID string
	}

	// Candidate pairs a request with its replica sources and, once the
	// resolver has run, the hop sequence that will satisfy it.
	Candidate struct {
		Request   *Request
		Sources   []replica.Source
		Hops      []topology.Hop
		TotalCost int64

		// Chain holds the per-hop requests of a multihop path in
		// hop order, the root request last. Single-hop candidates
		// leave it empty.
		Chain []*Request

		// Overwrite reports whether the destination may be
		// overwritten; tape destinations must not be.
		Overwrite bool
	}
)

// NewID returns a fresh request identifier.
func NewID() string {
	return uuid.New()
}

// Multihop returns true once the candidate's resolved path has more
// than one hop.
func (c *Candidate) Multihop() bool {
	return len(c.Hops) > 1
}

// NewIntermediate builds the synthetic request tracking one
// intermediate hop of a multihop chain. It is not user-visible; it
// exists so each hop can be tracked and retried independently.
func NewIntermediate(root *Request, hop topology.Hop) *Request {
	initial := root.InitialID
	if initial == "" {
		initial = root.ID
	}

	return &Request{
		ID:           NewID(),
		Scope:        root.Scope,
		Name:         root.Name,
		Bytes:        root.Bytes,
		DestRSE:      hop.Dest,
		Activity:     root.Activity,
		RuleID:       root.RuleID,
		State:        StateQueued,
		ExternalHost: root.ExternalHost,
		Checksums:    root.Checksums,
		ParentID:     root.ID,
		InitialID:    initial,
	}
}
