// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package scheduler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"runtime"
	"strings"
	"time"

	"golang.org/x/net/context"

	"github.com/hashicorp/hcl"
	"github.com/pkg/errors"

	"github.com/intel-hpdd/logging/alert"

	"github.com/gridfab/courier/cmd/courierd/config"
	"github.com/gridfab/courier/pkg/checksum"
	"github.com/gridfab/courier/pkg/client"
	"github.com/gridfab/courier/pkg/heartbeat"
	"github.com/gridfab/courier/pkg/replica"
	"github.com/gridfab/courier/pkg/request"
	"github.com/gridfab/courier/pkg/topology"
	"github.com/gridfab/courier/pkg/transfertool"
)

type (
	rseConfig struct {
		Name       string            `hcl:",key" json:"name"`
		Tape       bool              `hcl:"tape" json:"tape"`
		Multihop   bool              `hcl:"multihop" json:"multihop"`
		Attributes map[string]string `hcl:"attributes" json:"attributes"`
	}

	linkConfig struct {
		Pair string `hcl:",key" json:"pair"`
		Cost int    `hcl:"cost" json:"cost"`
	}

	topologyConfig struct {
		RSEs  []*rseConfig  `hcl:"rse" json:"rse"`
		Links []*linkConfig `hcl:"link" json:"link"`
	}

	sourceConfig struct {
		RSE      string `hcl:",key" json:"rse"`
		Ranking  int    `hcl:"ranking" json:"ranking"`
		Distance int    `hcl:"distance" json:"distance"`
		Tape     bool   `hcl:"tape" json:"tape"`
	}

	requestConfig struct {
		ID       string          `hcl:",key" json:"id"`
		Scope    string          `hcl:"scope" json:"scope"`
		Name     string          `hcl:"name" json:"name"`
		Bytes    int             `hcl:"bytes" json:"bytes"`
		Dest     string          `hcl:"dest" json:"dest"`
		Activity string          `hcl:"activity" json:"activity"`
		Rule     string          `hcl:"rule" json:"rule"`
		Adler32  string          `hcl:"adler32" json:"adler32"`
		MD5      string          `hcl:"md5" json:"md5"`
		Sources  []*sourceConfig `hcl:"source" json:"source"`
	}

	// Config holds daemon configuration, including an optional
	// in-memory topology and request backlog for development and
	// acceptance testing.
	Config struct {
		Interval   string `hcl:"interval" json:"interval"`
		Once       bool   `hcl:"once" json:"once"`
		Executable string `hcl:"executable" json:"executable"`
		Submitters int    `hcl:"submitters" json:"submitters"`
		FetchLimit int    `hcl:"fetch_limit" json:"fetch_limit"`

		Account     string   `hcl:"account" json:"account"`
		Activities  []string `hcl:"activities" json:"activities"`
		IncludeRSEs []string `hcl:"include_rses" json:"include_rses"`
		ExcludeRSEs []string `hcl:"exclude_rses" json:"exclude_rses"`
		HopPenalty  int      `hcl:"hop_penalty" json:"hop_penalty"`

		Transfertool   string   `hcl:"transfertool" json:"transfertool"`
		GroupPolicy    string   `hcl:"group_policy" json:"group_policy"`
		GroupBulk      int      `hcl:"group_bulk" json:"group_bulk"`
		Priority       int      `hcl:"priority" json:"priority"`
		VerifyChecksum bool     `hcl:"verify_checksum" json:"verify_checksum"`
		MaxTimeInQueue []string `hcl:"max_time_in_queue" json:"max_time_in_queue"`
		BringOnline    int      `hcl:"bring_online" json:"bring_online"`
		Lifetime       int      `hcl:"lifetime" json:"lifetime"`
		Retries        int      `hcl:"retries" json:"retries"`
		RetryDelay     string   `hcl:"retry_delay" json:"retry_delay"`

		Standalone      bool   `hcl:"standalone" json:"standalone"`
		RedisServer     string `hcl:"redis_server" json:"redis_server"`
		RedisPassword   string `hcl:"redis_password" json:"redis_password"`
		HeartbeatExpiry string `hcl:"heartbeat_expiry" json:"heartbeat_expiry"`

		RestEndpoint string             `hcl:"rest_endpoint" json:"rest_endpoint"`
		Auth         *client.AuthConfig `hcl:"auth" json:"auth"`

		Topology *topologyConfig  `hcl:"topology" json:"topology"`
		Requests []*requestConfig `hcl:"request" json:"request"`
	}
)

// NewConfig initializes a new Config instance with default values
func NewConfig() *Config {
	return &Config{
		Interval:     config.DefaultInterval,
		Executable:   config.DefaultExecutable,
		Submitters:   runtime.NumCPU(),
		FetchLimit:   config.DefaultFetchLimit,
		Account:      config.DefaultTransferAccount,
		Transfertool: transfertool.DefaultTool,
		GroupPolicy:  "rule",
		GroupBulk:    transfertool.DefaultGroupBulk,
		RedisServer:  config.DefaultRedisServer,
	}
}

// Merge combines this config's values with the other config's values
func (c *Config) Merge(other *Config) *Config {
	result := new(Config)

	result.Interval = c.Interval
	if other.Interval != "" {
		result.Interval = other.Interval
	}

	result.Once = other.Once

	result.Executable = c.Executable
	if other.Executable != "" {
		result.Executable = other.Executable
	}

	result.Submitters = c.Submitters
	if other.Submitters != 0 {
		result.Submitters = other.Submitters
	}

	result.FetchLimit = c.FetchLimit
	if other.FetchLimit != 0 {
		result.FetchLimit = other.FetchLimit
	}

	result.Account = c.Account
	if other.Account != "" {
		result.Account = other.Account
	}

	result.Activities = c.Activities
	if len(other.Activities) > 0 {
		result.Activities = other.Activities
	}

	result.IncludeRSEs = c.IncludeRSEs
	if len(other.IncludeRSEs) > 0 {
		result.IncludeRSEs = other.IncludeRSEs
	}

	result.ExcludeRSEs = c.ExcludeRSEs
	if len(other.ExcludeRSEs) > 0 {
		result.ExcludeRSEs = other.ExcludeRSEs
	}

	result.HopPenalty = c.HopPenalty
	if other.HopPenalty != 0 {
		result.HopPenalty = other.HopPenalty
	}

	result.Transfertool = c.Transfertool
	if other.Transfertool != "" {
		result.Transfertool = other.Transfertool
	}

	result.GroupPolicy = c.GroupPolicy
	if other.GroupPolicy != "" {
		result.GroupPolicy = other.GroupPolicy
	}

	result.GroupBulk = c.GroupBulk
	if other.GroupBulk != 0 {
		result.GroupBulk = other.GroupBulk
	}

	result.Priority = c.Priority
	if other.Priority != 0 {
		result.Priority = other.Priority
	}

	result.VerifyChecksum = other.VerifyChecksum

	result.MaxTimeInQueue = c.MaxTimeInQueue
	if len(other.MaxTimeInQueue) > 0 {
		result.MaxTimeInQueue = other.MaxTimeInQueue
	}

	result.BringOnline = c.BringOnline
	if other.BringOnline != 0 {
		result.BringOnline = other.BringOnline
	}

	result.Lifetime = c.Lifetime
	if other.Lifetime != 0 {
		result.Lifetime = other.Lifetime
	}

	result.Retries = c.Retries
	if other.Retries != 0 {
		result.Retries = other.Retries
	}

	result.RetryDelay = c.RetryDelay
	if other.RetryDelay != "" {
		result.RetryDelay = other.RetryDelay
	}

	result.Standalone = other.Standalone

	result.RedisServer = c.RedisServer
	if other.RedisServer != "" {
		result.RedisServer = other.RedisServer
	}

	result.RedisPassword = c.RedisPassword
	if other.RedisPassword != "" {
		result.RedisPassword = other.RedisPassword
	}

	result.HeartbeatExpiry = c.HeartbeatExpiry
	if other.HeartbeatExpiry != "" {
		result.HeartbeatExpiry = other.HeartbeatExpiry
	}

	result.RestEndpoint = c.RestEndpoint
	if other.RestEndpoint != "" {
		result.RestEndpoint = other.RestEndpoint
	}

	result.Auth = c.Auth
	if other.Auth != nil {
		result.Auth = other.Auth
	}

	result.Topology = c.Topology
	if other.Topology != nil {
		result.Topology = other.Topology
	}

	result.Requests = c.Requests
	if len(other.Requests) > 0 {
		result.Requests = other.Requests
	}

	return result
}

func (c *Config) String() string {
	data, err := json.Marshal(c)
	if err != nil {
		alert.Abort(errors.Wrap(err, "couldn't marshal daemon config to json"))
	}

	var out bytes.Buffer
	json.Indent(&out, data, "", "\t")
	return out.String()
}

// CycleInterval returns the parsed scheduling interval.
func (c *Config) CycleInterval() time.Duration {
	d, err := time.ParseDuration(c.Interval)
	if err != nil {
		return 0
	}
	return d
}

// ToolRetryDelay returns the parsed submitter retry delay, zero when
// unset.
func (c *Config) ToolRetryDelay() time.Duration {
	if c.RetryDelay == "" {
		return 0
	}
	d, err := time.ParseDuration(c.RetryDelay)
	if err != nil {
		return 0
	}
	return d
}

// Expiry returns the heartbeat expiry window.
func (c *Config) Expiry() time.Duration {
	if c.HeartbeatExpiry == "" {
		return heartbeat.DefaultExpiry
	}
	d, err := time.ParseDuration(c.HeartbeatExpiry)
	if err != nil {
		return heartbeat.DefaultExpiry
	}
	return d
}

func (c *Config) checkValid() error {
	var errs []string

	if d, err := time.ParseDuration(c.Interval); err != nil || d <= 0 {
		errs = append(errs, fmt.Sprintf("invalid interval %q", c.Interval))
	}

	if c.Executable == "" {
		errs = append(errs, "executable not set")
	}

	if c.Submitters < 1 {
		errs = append(errs, fmt.Sprintf("invalid submitter count %d", c.Submitters))
	}

	if c.FetchLimit < 1 {
		errs = append(errs, fmt.Sprintf("invalid fetch limit %d", c.FetchLimit))
	}

	var knownPolicy bool
	for _, policy := range transfertool.GroupPolicies() {
		if c.GroupPolicy == policy {
			knownPolicy = true
		}
	}
	if !knownPolicy {
		errs = append(errs, fmt.Sprintf("unknown group policy %q", c.GroupPolicy))
	}

	if _, err := transfertool.ParseMaxTimeInQueue(c.MaxTimeInQueue); err != nil {
		errs = append(errs, err.Error())
	}

	if c.RetryDelay != "" {
		if d, err := time.ParseDuration(c.RetryDelay); err != nil || d <= 0 {
			errs = append(errs, fmt.Sprintf("invalid retry delay %q", c.RetryDelay))
		}
	}

	if c.HeartbeatExpiry != "" {
		if d, err := time.ParseDuration(c.HeartbeatExpiry); err != nil || d <= 0 {
			errs = append(errs, fmt.Sprintf("invalid heartbeat expiry %q", c.HeartbeatExpiry))
		}
	}

	if c.Topology != nil {
		if err := c.Topology.checkValid(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	for _, req := range c.Requests {
		if err := req.checkValid(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("Errors: %s", strings.Join(errs, ", "))
	}

	return nil
}

func (tc *topologyConfig) checkValid() error {
	var errs []string

	names := make(map[string]bool)
	for _, r := range tc.RSEs {
		if r.Name == "" {
			errs = append(errs, "rse without a name")
			continue
		}
		names[r.Name] = true
	}

	for _, l := range tc.Links {
		src, dst, err := l.endpoints()
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if !names[src] || !names[dst] {
			errs = append(errs, fmt.Sprintf("link %s references an unknown rse", l.Pair))
		}
		if l.Cost < 0 {
			errs = append(errs, fmt.Sprintf("link %s: negative cost", l.Pair))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("Errors: %s", strings.Join(errs, ", "))
	}

	return nil
}

func (l *linkConfig) endpoints() (string, string, error) {
	fields := strings.Split(l.Pair, "->")
	if len(fields) != 2 || fields[0] == "" || fields[1] == "" {
		return "", "", fmt.Errorf("unparseable link %q (want SRC->DST)", l.Pair)
	}
	return fields[0], fields[1], nil
}

func (r *requestConfig) checkValid() error {
	var errs []string

	if r.Dest == "" {
		errs = append(errs, fmt.Sprintf("request %s: dest not set", r.ID))
	}

	if r.Name == "" {
		errs = append(errs, fmt.Sprintf("request %s: name not set", r.ID))
	}

	if r.Adler32 != "" {
		if err := checksum.Valid(checksum.Adler32, r.Adler32); err != nil {
			errs = append(errs, fmt.Sprintf("request %s: %s", r.ID, err))
		}
	}

	if r.MD5 != "" {
		if err := checksum.Valid(checksum.MD5, r.MD5); err != nil {
			errs = append(errs, fmt.Sprintf("request %s: %s", r.ID, err))
		}
	}

	for _, src := range r.Sources {
		if src.RSE == "" {
			errs = append(errs, fmt.Sprintf("request %s: source without an rse", r.ID))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("Errors: %s", strings.Join(errs, ", "))
	}

	return nil
}

// checksums collects the configured digests under their canonical
// algorithm names, nil when the request carries none.
func (r *requestConfig) checksums() map[string]string {
	sums := make(map[string]string)
	if r.Adler32 != "" {
		sums[checksum.Adler32] = strings.ToLower(r.Adler32)
	}
	if r.MD5 != "" {
		sums[checksum.MD5] = strings.ToLower(r.MD5)
	}
	if len(sums) == 0 {
		return nil
	}
	return sums
}

// Build materializes the configured topology into a store.
func (tc *topologyConfig) Build() (*topology.MemStore, error) {
	store := topology.NewMemStore()

	for _, r := range tc.RSEs {
		attrs := make(map[string]string)
		for k, v := range r.Attributes {
			attrs[k] = v
		}
		if r.Multihop {
			attrs[topology.MultihopAttr] = "true"
		}
		store.AddRSE(topology.RSE{ID: r.Name, Tape: r.Tape, Attributes: attrs})
	}

	for _, l := range tc.Links {
		src, dst, err := l.endpoints()
		if err != nil {
			return nil, err
		}
		store.SetDistance(src, dst, int64(l.Cost))
	}

	return store, nil
}

// Seed loads the configured request backlog into a store.
func (c *Config) Seed(ctx context.Context, store *request.MemStore) error {
	for _, rc := range c.Requests {
		req := &request.Request{
			ID:        rc.ID,
			Scope:     rc.Scope,
			Name:      rc.Name,
			Bytes:     int64(rc.Bytes),
			DestRSE:   rc.Dest,
			Activity:  rc.Activity,
			RuleID:    rc.Rule,
			State:     request.StatePreparing,
			Checksums: rc.checksums(),
		}
		if err := store.Add(ctx, req); err != nil {
			return errors.Wrapf(err, "failed to seed request %s", rc.ID)
		}
		for _, src := range rc.Sources {
			store.AddSource(rc.ID, replica.Source{
				RequestID: rc.ID,
				RSE:       src.RSE,
				Ranking:   src.Ranking,
				Distance:  int64(src.Distance),
				Tape:      src.Tape,
			})
		}
	}
	return nil
}

// LoadConfig reads a config at the supplied path
func LoadConfig(cfgPath string) (*Config, error) {
	cfg := NewConfig()

	data, err := ioutil.ReadFile(cfgPath)
	if err != nil {
		return nil, err
	}

	if err := hcl.Decode(cfg, string(data)); err != nil {
		return nil, errors.Wrapf(err, "config file error %s", cfgPath)
	}

	return cfg, nil
}
