// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package scheduler drives the submission side of the transfer engine:
// each cycle claims a shard of the request backlog, routes it over the
// topology, folds it into jobs and hands those to the external
// transfer tool.
package scheduler

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/net/context"

	"github.com/pkg/errors"

	"github.com/intel-hpdd/logging/alert"
	"github.com/intel-hpdd/logging/audit"
	"github.com/intel-hpdd/logging/debug"

	"github.com/gridfab/courier/pkg/client"
	"github.com/gridfab/courier/pkg/heartbeat"
	"github.com/gridfab/courier/pkg/replica"
	"github.com/gridfab/courier/pkg/request"
	"github.com/gridfab/courier/pkg/topology"
	"github.com/gridfab/courier/pkg/transfertool"
)

// Scheduler runs the submitter threads for one daemon instance.
type Scheduler struct {
	config   *Config
	store    request.Store
	topo     topology.Store
	registry heartbeat.Registry
	resolver *topology.Resolver
	caps     transfertool.Capabilities
	source   client.TokenSource
	stats    *CycleStats
	maxTimes map[string]int64
	hostname string

	mu      sync.Mutex
	tools   map[string]transfertool.Tool
	wg      sync.WaitGroup
	started chan struct{}
}

// New accepts a config and returns a *Scheduler wired over its
// backing stores.
func New(cfg *Config, store request.Store, topo topology.Store, registry heartbeat.Registry) (*Scheduler, error) {
	if err := cfg.checkValid(); err != nil {
		return nil, err
	}

	maxTimes, err := transfertool.ParseMaxTimeInQueue(cfg.MaxTimeInQueue)
	if err != nil {
		return nil, err
	}

	hostname, err := os.Hostname()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get hostname")
	}

	s := &Scheduler{
		config:   cfg,
		store:    store,
		topo:     topo,
		registry: registry,
		resolver: topology.NewResolver(topo, int64(cfg.HopPenalty)),
		caps:     transfertool.AttrCapabilities{Store: topo},
		stats:    NewCycleStats(),
		maxTimes: maxTimes,
		hostname: hostname,
		tools:    make(map[string]transfertool.Tool),
		started:  make(chan struct{}),
	}

	if cfg.Auth != nil {
		source, err := client.NewTokenSource(cfg.Auth, cfg.RestEndpoint)
		if err != nil {
			return nil, errors.Wrap(err, "failed to configure token source")
		}
		s.source = source
	}

	return s, nil
}

// Start launches the submitter threads and blocks until they stop.
func (s *Scheduler) Start(ctx context.Context) error {
	for i := 0; i < s.config.Submitters; i++ {
		s.addSubmitter(ctx, fmt.Sprintf("submitter-%d", i), i)
	}
	s.stats.Start(ctx)
	close(s.started)
	audit.Logf("scheduler started: %d submitters, interval %s",
		s.config.Submitters, s.config.Interval)

	s.wg.Wait()
	return nil
}

// StartWaitFor waits for the scheduler to signal that it has started
func (s *Scheduler) StartWaitFor(timeout time.Duration) error {
	select {
	case <-s.started:
		return nil
	case <-time.After(timeout):
		return errors.Errorf("scheduler failed to start after %s", timeout)
	}
}

func (s *Scheduler) addSubmitter(ctx context.Context, tag string, thread int) {
	s.wg.Add(1)
	go func() {
		s.runLoop(ctx, tag, thread)
		s.wg.Done()
	}()
}

func (s *Scheduler) runLoop(ctx context.Context, tag string, thread int) {
	defer s.die(thread)

	throttled := make(map[string]time.Time)
	interval := s.config.CycleInterval()

	for {
		start := time.Now()
		if err := s.cycle(ctx, tag, thread, throttled); err != nil {
			if ctx.Err() != nil {
				return
			}
			alert.Warnf("%s: cycle failed: %s", tag, err)
		}
		if s.config.Once {
			debug.Printf("%s: single cycle done", tag)
			return
		}

		sleep := interval - time.Since(start)
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-ctx.Done():
			debug.Printf("%s: shutting down", tag)
			return
		case <-time.After(sleep):
		}
	}
}

// die unregisters the thread's heartbeat so the remaining submitters
// can repartition the backlog.
func (s *Scheduler) die(thread int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.registry.Die(ctx, s.config.Executable, s.hostname, os.Getpid(), thread); err != nil {
		alert.Warnf("failed to unregister thread %d: %s", thread, err)
	}
}

func (s *Scheduler) cycle(ctx context.Context, tag string, thread int, throttled map[string]time.Time) error {
	assignment, err := s.registry.Live(ctx, s.config.Executable, s.hostname, os.Getpid(), thread)
	if err != nil {
		return errors.Wrap(err, "heartbeat failed")
	}
	debug.Printf("%s: assigned %s", tag, assignment)

	activities, ok := s.eligibleActivities(throttled)
	if !ok {
		debug.Printf("%s: all activities throttled", tag)
		return nil
	}

	cands, err := s.store.NextToSubmit(ctx, assignment.Total, assignment.Worker,
		s.config.FetchLimit, request.StatePreparing, activities)
	if err != nil {
		return errors.Wrap(err, "backlog fetch failed")
	}
	s.throttle(cands, activities, throttled)
	if len(cands) == 0 {
		debug.Printf("%s: nothing to submit", tag)
		return nil
	}

	rses, err := s.rseIndex(ctx)
	if err != nil {
		return err
	}
	multihop, err := s.resolver.MultihopRSEs(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to fetch multihop allow-list")
	}
	capmap, err := transfertool.CapabilityMap(ctx, s.caps, rseNames(rses))
	if err != nil {
		return err
	}

	start := time.Now()
	for _, c := range cands {
		s.stats.Fetched(c.Request.Activity, 1)
	}

	routed := s.routeCandidates(ctx, tag, cands, rses, multihop)
	reduced := request.Reduce(routed,
		request.FilterScope(s.scope(rses)),
		request.SortByCost(),
		request.FilterCapability(capmap, s.config.Transfertool),
	)
	s.dropFiltered(routed, reduced)

	activityOf := make(map[string]string, len(reduced))
	for _, c := range reduced {
		activityOf[c.Request.ID] = c.Request.Activity
	}

	byHost := request.GroupByHost(reduced)
	for _, host := range request.Hosts(byHost) {
		tool, err := s.toolFor(host)
		if err != nil {
			alert.Warnf("%s: no tool for %s: %s", tag, host, err)
			for _, c := range byHost[host] {
				s.stats.Dropped(c.Request.Activity, 1)
			}
			continue
		}

		for _, job := range transfertool.GroupJobs(host, byHost[host], s.groupOptions()) {
			err := transfertool.SubmitJob(ctx, s.store, tool, job)
			for _, id := range job.RequestIDs() {
				activity, mine := activityOf[id]
				if !mine {
					continue
				}
				if err != nil {
					s.stats.Dropped(activity, 1)
				} else {
					s.stats.Submitted(activity, start, 1)
				}
			}
			if err != nil {
				alert.Warnf("%s: %s", tag, err)
			}
		}
	}

	return nil
}

// eligibleActivities filters configured activities still in throttle
// backoff. The second return is false when every configured activity
// is throttled.
func (s *Scheduler) eligibleActivities(throttled map[string]time.Time) ([]string, bool) {
	if len(s.config.Activities) == 0 {
		return nil, true
	}

	now := time.Now()
	var out []string
	for _, activity := range s.config.Activities {
		if until, ok := throttled[activity]; ok && now.Before(until) {
			continue
		}
		out = append(out, activity)
	}
	return out, len(out) > 0
}

// throttle backs off activities whose backlog came up short of a full
// job, so the following cycles go to busier flows.
func (s *Scheduler) throttle(cands []*request.Candidate, activities []string, throttled map[string]time.Time) {
	if len(activities) == 0 {
		return
	}

	counts := make(map[string]int)
	for _, c := range cands {
		counts[c.Request.Activity]++
	}

	until := time.Now().Add(s.config.CycleInterval())
	for _, activity := range activities {
		if counts[activity] < s.config.GroupBulk {
			throttled[activity] = until
		} else {
			delete(throttled, activity)
		}
	}
}

func (s *Scheduler) rseIndex(ctx context.Context) (map[string]topology.RSE, error) {
	rses, err := s.topo.RSEs(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch RSEs")
	}

	index := make(map[string]topology.RSE, len(rses))
	for _, r := range rses {
		index[r.ID] = r
	}
	return index, nil
}

func rseNames(rses map[string]topology.RSE) []string {
	names := make([]string, 0, len(rses))
	for id := range rses {
		names = append(names, id)
	}
	sort.Strings(names)
	return names
}

// scope returns the allowed RSE set from the include/exclude lists,
// or nil when everything is allowed.
func (s *Scheduler) scope(rses map[string]topology.RSE) map[string]bool {
	if len(s.config.IncludeRSEs) == 0 && len(s.config.ExcludeRSEs) == 0 {
		return nil
	}

	allowed := make(map[string]bool)
	if len(s.config.IncludeRSEs) > 0 {
		for _, id := range s.config.IncludeRSEs {
			allowed[id] = true
		}
	} else {
		for id := range rses {
			allowed[id] = true
		}
	}
	for _, id := range s.config.ExcludeRSEs {
		delete(allowed, id)
	}
	return allowed
}

func (s *Scheduler) routeCandidates(ctx context.Context, tag string, cands []*request.Candidate, rses map[string]topology.RSE, multihop []string) []*request.Candidate {
	var routed []*request.Candidate
	for _, c := range cands {
		if err := s.route(ctx, c, rses, multihop); err != nil {
			audit.Logf("%s: request %s not routable: %s", tag, c.Request.ID, err)
			s.stats.Dropped(c.Request.Activity, 1)
			continue
		}
		routed = append(routed, c)
	}
	return routed
}

// route resolves a path for one candidate, picks its sources and
// reserves them. Unroutable requests are left untouched for a later
// cycle.
func (s *Scheduler) route(ctx context.Context, c *request.Candidate, rses map[string]topology.RSE, multihop []string) error {
	dest, ok := rses[c.Request.DestRSE]
	if !ok {
		return errors.Errorf("unknown destination %s", c.Request.DestRSE)
	}

	if c.Request.ExternalHost == "" {
		c.Request.ExternalHost = dest.Attributes[transfertool.HostAttr]
	}
	if c.Request.ExternalHost == "" {
		return errors.Errorf("no submission endpoint for %s", c.Request.DestRSE)
	}

	sources := replica.Select(c.Sources)
	if len(sources) == 0 {
		return errors.New("no eligible sources")
	}

	var best []topology.Hop
	var bestSrc replica.Source
	var direct []replica.Source
	for _, src := range sources {
		hops, err := s.resolver.Resolve(ctx, src.RSE, c.Request.DestRSE, multihop)
		if err != nil {
			continue
		}
		if len(hops) == 1 {
			direct = append(direct, src)
		}
		if best == nil || s.resolver.TotalCost(hops) < s.resolver.TotalCost(best) {
			best = hops
			bestSrc = src
		}
	}
	if best == nil {
		return errors.New("no path from any source")
	}

	if len(best) == 1 {
		c.Sources = direct
	} else {
		c.Sources = []replica.Source{bestSrc}
		if err := s.materializeChain(ctx, c, best); err != nil {
			return err
		}
	}
	c.Hops = best
	c.TotalCost = s.resolver.TotalCost(best)
	c.Overwrite = !dest.Tape

	used := make([]string, 0, len(c.Sources))
	for _, src := range c.Sources {
		used = append(used, src.RSE)
	}
	if err := s.store.MarkSourcesInUse(ctx, c.Request.ID, used); err != nil {
		return errors.Wrap(err, "failed to reserve sources")
	}

	return nil
}

// materializeChain registers one intermediate request per hop short of
// the destination, each linked to its predecessor and to the request
// that spawned the chain.
func (s *Scheduler) materializeChain(ctx context.Context, c *request.Candidate, hops []topology.Hop) error {
	var chain []*request.Request
	prev := c.Request
	for _, hop := range hops[:len(hops)-1] {
		inter := request.NewIntermediate(prev, hop)
		chain = append(chain, inter)
		prev = inter
	}

	if err := s.store.Add(ctx, chain...); err != nil {
		return errors.Wrap(err, "failed to register chain")
	}
	c.Chain = append(chain, c.Request)
	return nil
}

// dropFiltered reconciles the queue gauge for candidates the reduce
// pipeline removed.
func (s *Scheduler) dropFiltered(routed, reduced []*request.Candidate) {
	kept := make(map[string]bool, len(reduced))
	for _, c := range reduced {
		kept[c.Request.ID] = true
	}
	for _, c := range routed {
		if !kept[c.Request.ID] {
			s.stats.Dropped(c.Request.Activity, 1)
		}
	}
}

func (s *Scheduler) toolFor(host string) (transfertool.Tool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tool, ok := s.tools[host]; ok {
		return tool, nil
	}
	tool, err := transfertool.NewTool(s.config.Transfertool, transfertool.ToolConfig{
		Host:       host,
		Source:     s.source,
		Retries:    s.config.Retries,
		RetryDelay: s.config.ToolRetryDelay(),
	})
	if err != nil {
		return nil, err
	}
	s.tools[host] = tool
	return tool, nil
}

func (s *Scheduler) groupOptions() transfertool.GroupOptions {
	return transfertool.GroupOptions{
		Account:        s.config.Account,
		Policy:         s.config.GroupPolicy,
		GroupBulk:      s.config.GroupBulk,
		Priority:       s.config.Priority,
		VerifyChecksum: s.config.VerifyChecksum,
		BringOnline:    int64(s.config.BringOnline),
		Lifetime:       int64(s.config.Lifetime),
		MaxTimeInQueue: s.maxTimes,
	}
}
