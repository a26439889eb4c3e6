// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transfertool

import (
	"strconv"
	"strings"

	"github.com/pborman/uuid"
	"github.com/pkg/errors"

	"github.com/gridfab/courier/pkg/checksum"
	"github.com/gridfab/courier/pkg/request"
)

type (
	// JobParams are the execution hints shared by every transfer in
	// a job.
	JobParams struct {
		Account        string `json:"account"`
		Activity       string `json:"activity"`
		Priority       int    `json:"priority"`
		VerifyChecksum bool   `json:"verify_checksum"`
		Overwrite      bool   `json:"overwrite"`
		BringOnline    int64  `json:"bring_online,omitempty"`
		Lifetime       int64  `json:"copy_pin_lifetime,omitempty"`
		MaxTimeInQueue int64  `json:"max_time_in_queue,omitempty"`
		Multihop       bool   `json:"multihop,omitempty"`
	}

	// Transfer is one file movement as the external service sees it.
	Transfer struct {
		RequestID string   `json:"request_id"`
		Scope     string   `json:"scope"`
		Name      string   `json:"name"`
		Bytes     int64    `json:"filesize"`
		Sources   []string `json:"sources"`
		DestRSE   string   `json:"dest_rse"`
		Checksum  string   `json:"checksum,omitempty"`
	}

	// Job is a batch of transfers bound for one external host.
	Job struct {
		ID        string      `json:"job_id"`
		Host      string      `json:"-"`
		Params    JobParams   `json:"params"`
		Transfers []*Transfer `json:"transfers"`
	}

	// GroupOptions control how candidates are folded into jobs.
	GroupOptions struct {
		Account        string
		Policy         string
		GroupBulk      int
		Priority       int
		VerifyChecksum bool
		BringOnline    int64
		Lifetime       int64
		MaxTimeInQueue map[string]int64
	}
)

const (
	// DefaultGroupBulk caps how many transfers ride in one job.
	DefaultGroupBulk = 200

	// DefaultPriority is the job priority used when none is
	// configured.
	DefaultPriority = 3

	// DefaultBringOnline is the tape staging timeout in seconds.
	DefaultBringOnline = 43200

	// DefaultLifetime is the copy pin lifetime in seconds for
	// staged replicas.
	DefaultLifetime = 172800

	// DefaultMaxTimeInQueue is the queue expiry in hours applied to
	// activities without their own setting.
	DefaultMaxTimeInQueue = 168

	maxTimeDefaultKey = "default"
)

// GroupPolicies lists the recognized grouping policies.
func GroupPolicies() []string {
	return []string{"rule", "dest", "src_dest", "activity_dest", "none"}
}

// RequestIDs returns the ids of every request the job carries, in
// transfer order.
func (j *Job) RequestIDs() []string {
	var ids []string
	for _, t := range j.Transfers {
		ids = append(ids, t.RequestID)
	}
	return ids
}

// ParseMaxTimeInQueue parses per-activity queue expiries of the form
// "activity:hours". The returned map always carries a default entry.
func ParseMaxTimeInQueue(entries []string) (map[string]int64, error) {
	out := map[string]int64{maxTimeDefaultKey: DefaultMaxTimeInQueue}
	for _, entry := range entries {
		fields := strings.SplitN(entry, ":", 2)
		if len(fields) != 2 {
			return nil, errors.Errorf("bad max_time_in_queue entry %q (want activity:hours)", entry)
		}
		activity := strings.TrimSpace(fields[0])
		hours, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
		if err != nil || activity == "" || hours <= 0 {
			return nil, errors.Errorf("bad max_time_in_queue entry %q (want activity:hours)", entry)
		}
		out[activity] = hours
	}
	return out, nil
}

func maxTimeFor(times map[string]int64, activity string) int64 {
	if hours, ok := times[activity]; ok {
		return hours
	}
	if hours, ok := times[maxTimeDefaultKey]; ok {
		return hours
	}
	return DefaultMaxTimeInQueue
}

// GroupJobs folds one host's candidates into submission-ready jobs.
// Multihop chains and multi-source transfers get a job of their own;
// everything else is bucketed by the grouping policy and chunked to
// the bulk size. Candidate order is preserved throughout.
func GroupJobs(host string, cands []*request.Candidate, opts GroupOptions) []*Job {
	if opts.Policy == "" {
		opts.Policy = "rule"
	}
	if opts.GroupBulk <= 0 {
		opts.GroupBulk = DefaultGroupBulk
	}
	if opts.Priority <= 0 {
		opts.Priority = DefaultPriority
	}

	var keys []string
	buckets := make(map[string][]*request.Candidate)
	add := func(key string, c *request.Candidate) {
		if _, ok := buckets[key]; !ok {
			keys = append(keys, key)
		}
		buckets[key] = append(buckets[key], c)
	}

	for _, c := range cands {
		switch {
		case c.Multihop():
			add("multihop_"+chainID(c), c)
		case len(c.Sources) > 1:
			add("multisrc_"+c.Request.ID, c)
		default:
			add(policyKey(opts.Policy, c), c)
		}
	}

	var jobs []*Job
	for _, key := range keys {
		bucket := buckets[key]
		for len(bucket) > 0 {
			n := opts.GroupBulk
			if n > len(bucket) {
				n = len(bucket)
			}
			jobs = append(jobs, buildJob(host, bucket[:n], opts))
			bucket = bucket[n:]
		}
	}
	return jobs
}

func chainID(c *request.Candidate) string {
	if c.Request.InitialID != "" {
		return c.Request.InitialID
	}
	return c.Request.ID
}

func policyKey(policy string, c *request.Candidate) string {
	req := c.Request
	switch policy {
	case "dest":
		return "dest_" + req.DestRSE
	case "src_dest":
		src := ""
		if len(c.Sources) > 0 {
			src = c.Sources[0].RSE
		}
		return "sd_" + src + "_" + req.DestRSE
	case "activity_dest":
		return "ad_" + req.Activity + "_" + req.DestRSE
	case "none":
		return "single_" + req.ID
	default:
		if req.RuleID != "" {
			return "rule_" + req.RuleID
		}
		return "rule_" + req.ID
	}
}

func buildJob(host string, cands []*request.Candidate, opts GroupOptions) *Job {
	job := &Job{
		ID:   uuid.New(),
		Host: host,
		Params: JobParams{
			Account:        opts.Account,
			Activity:       cands[0].Request.Activity,
			Priority:       opts.Priority,
			VerifyChecksum: opts.VerifyChecksum,
			Overwrite:      true,
			MaxTimeInQueue: maxTimeFor(opts.MaxTimeInQueue, cands[0].Request.Activity),
		},
	}

	for _, c := range cands {
		job.Params.Overwrite = job.Params.Overwrite && c.Overwrite
		if tapeSource(c) {
			job.Params.BringOnline = orDefault(opts.BringOnline, DefaultBringOnline)
			job.Params.Lifetime = orDefault(opts.Lifetime, DefaultLifetime)
		}

		sum := transferChecksum(c, opts.VerifyChecksum)
		if c.Multihop() {
			job.Params.Multihop = true
			job.Transfers = append(job.Transfers, chainTransfers(c, sum)...)
			continue
		}
		job.Transfers = append(job.Transfers, &Transfer{
			RequestID: c.Request.ID,
			Scope:     c.Request.Scope,
			Name:      c.Request.Name,
			Bytes:     c.Request.Bytes,
			Sources:   sourceRSEs(c),
			DestRSE:   c.Request.DestRSE,
			Checksum:  sum,
		})
	}
	return job
}

// transferChecksum picks the checksum the service should verify
// against, empty when verification is off or the request carries none.
func transferChecksum(c *request.Candidate, verify bool) string {
	if !verify {
		return ""
	}
	sum, ok := checksum.Pick(c.Request.Checksums)
	if !ok {
		return ""
	}
	return sum.String()
}

// chainTransfers emits one transfer per hop. The first hop reads from
// the resolved source replica; every later hop reads from the hop
// before it.
func chainTransfers(c *request.Candidate, sum string) []*Transfer {
	var transfers []*Transfer
	for i, hop := range c.Hops {
		id := c.Request.ID
		if i < len(c.Chain) {
			id = c.Chain[i].ID
		}
		transfers = append(transfers, &Transfer{
			RequestID: id,
			Scope:     c.Request.Scope,
			Name:      c.Request.Name,
			Bytes:     c.Request.Bytes,
			Sources:   []string{hop.Source},
			DestRSE:   hop.Dest,
			Checksum:  sum,
		})
	}
	return transfers
}

func sourceRSEs(c *request.Candidate) []string {
	var rses []string
	for _, src := range c.Sources {
		rses = append(rses, src.RSE)
	}
	return rses
}

func tapeSource(c *request.Candidate) bool {
	for _, src := range c.Sources {
		if src.Tape {
			return true
		}
	}
	return false
}

func orDefault(v, def int64) int64 {
	if v > 0 {
		return v
	}
	return def
}
