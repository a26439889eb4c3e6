// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package transfertool groups transfer candidates into submission jobs
// and drives them through an external transfer execution service.
package transfertool

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/context"

	"github.com/pkg/errors"

	"github.com/gridfab/courier/pkg/client"
	"github.com/gridfab/courier/pkg/topology"
)

type (
	// Tool submits grouped jobs to one external transfer service and
	// can withdraw a job it no longer wants executed.
	Tool interface {
		Name() string
		Submit(ctx context.Context, job *Job) (string, error)
		Cancel(ctx context.Context, externalID string) error
	}

	// ToolConfig carries what a factory needs to talk to one
	// external host.
	ToolConfig struct {
		Host       string
		Source     client.TokenSource
		Retries    int
		RetryDelay time.Duration
	}

	// Factory builds a tool bound to one external host.
	Factory func(cfg ToolConfig) (Tool, error)

	// Capabilities reports which tool implementations an RSE is able
	// to execute transfers through.
	Capabilities interface {
		SupportedTools(ctx context.Context, rse string) ([]string, error)
	}
)

// DefaultTool is assumed for RSEs that do not declare a preference.
const DefaultTool = "fts3"

// TransfertoolsAttr names the RSE attribute listing supported tools,
// comma separated.
const TransfertoolsAttr = "transfertools"

// HostAttr names the RSE attribute carrying the submission endpoint
// for transfers bound to that RSE.
const HostAttr = "fts"

var (
	factoryMu sync.Mutex
	factories = make(map[string]Factory)
)

// Register makes a tool implementation available under name.
func Register(name string, f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[name] = f
}

// NewTool builds the named tool for one external host.
func NewTool(name string, cfg ToolConfig) (Tool, error) {
	factoryMu.Lock()
	f, ok := factories[name]
	factoryMu.Unlock()
	if !ok {
		return nil, errors.Errorf("unknown transfertool %q", name)
	}
	return f(cfg)
}

// Names returns the registered tool names, sorted.
func Names() []string {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	var names []string
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AttrCapabilities derives per-RSE tool support from topology
// attributes.
type AttrCapabilities struct {
	Store topology.Store
}

// SupportedTools returns the tools declared by the RSE's
// transfertools attribute, or DefaultTool when it declares none.
func (a AttrCapabilities) SupportedTools(ctx context.Context, rse string) ([]string, error) {
	rses, err := a.Store.RSEs(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch RSEs")
	}

	for _, r := range rses {
		if r.ID != rse {
			continue
		}
		attr := r.Attributes[TransfertoolsAttr]
		if attr == "" {
			return []string{DefaultTool}, nil
		}
		var tools []string
		for _, name := range strings.Split(attr, ",") {
			if name = strings.TrimSpace(name); name != "" {
				tools = append(tools, name)
			}
		}
		return tools, nil
	}
	return nil, errors.Errorf("unknown RSE %q", rse)
}

// CapabilityMap resolves tool support for each of the given RSEs.
func CapabilityMap(ctx context.Context, caps Capabilities, rses []string) (map[string][]string, error) {
	byRSE := make(map[string][]string)
	for _, rse := range rses {
		tools, err := caps.SupportedTools(ctx, rse)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to resolve capabilities for %s", rse)
		}
		byRSE[rse] = tools
	}
	return byRSE, nil
}

// TransientError marks a submission failure worth retrying.
type TransientError struct {
	Reason error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient submission failure: %s", e.Reason)
}

// IsTransient tests err for TransientError.
func IsTransient(err error) bool {
	_, ok := errors.Cause(err).(*TransientError)
	return ok
}

// DuplicateError reports that the external service already holds one
// of the job's transfers.
type DuplicateError struct {
	Host string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s already holds a transfer from this job", e.Host)
}

// IsDuplicate tests err for DuplicateError.
func IsDuplicate(err error) bool {
	_, ok := errors.Cause(err).(*DuplicateError)
	return ok
}
