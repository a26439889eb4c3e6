// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package heartbeat coordinates horizontal partitioning of the request
// backlog. Every daemon thread reports liveness under its executable
// name and receives a 0-based rank among the live reporters; the
// backlog is sharded by that rank. Threads that stop reporting fall
// out of the live set after the expiry window; threads that shut down
// cleanly deregister so their slice is reclaimed promptly.
package heartbeat

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/context"
)

type (
	// Assignment is one thread's slice of the worker space for one
	// cycle. Consumers re-derive it every cycle and never cache it
	// longer; the pair may change whenever membership changes.
	Assignment struct {
		Worker int
		Total  int
	}

	// Registry tracks live daemon threads. Live refreshes the
	// caller's beat and returns its current assignment; Die releases
	// the slot without waiting for expiry.
	Registry interface {
		Live(ctx context.Context, executable, hostname string, pid, thread int) (Assignment, error)
		Die(ctx context.Context, executable, hostname string, pid, thread int) error
	}

	// Member is one live thread as an observer sees it.
	Member struct {
		Hostname string
		PID      int
		Thread   int
		LastBeat time.Time
	}
)

// DefaultExpiry is how long an unrefreshed heartbeat stays live.
const DefaultExpiry = 3600 * time.Second

func (a Assignment) String() string {
	return fmt.Sprintf("[%d/%d]", a.Worker, a.Total)
}

func ident(hostname string, pid, thread int) string {
	return fmt.Sprintf("%s:%d:%d", hostname, pid, thread)
}

func parseIdent(id string) (string, int, int, error) {
	fields := strings.Split(id, ":")
	if len(fields) < 3 {
		return "", 0, 0, errors.Errorf("unparseable heartbeat ident %q", id)
	}
	pid, err := strconv.Atoi(fields[len(fields)-2])
	if err != nil {
		return "", 0, 0, errors.Errorf("unparseable heartbeat ident %q", id)
	}
	thread, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil {
		return "", 0, 0, errors.Errorf("unparseable heartbeat ident %q", id)
	}
	return strings.Join(fields[:len(fields)-2], ":"), pid, thread, nil
}

func sortMembers(members []Member) {
	sort.Slice(members, func(i, j int) bool {
		a, b := members[i], members[j]
		if a.Hostname != b.Hostname {
			return a.Hostname < b.Hostname
		}
		if a.PID != b.PID {
			return a.PID < b.PID
		}
		return a.Thread < b.Thread
	})
}

// rank derives an assignment from the live ident set. Idents sort
// lexicographically, so ranks are stable while membership is.
func rank(own string, idents []string) (Assignment, error) {
	sort.Strings(idents)
	for i, id := range idents {
		if id == own {
			return Assignment{Worker: i, Total: len(idents)}, nil
		}
	}
	return Assignment{}, errors.Errorf("own heartbeat %s missing from live set", own)
}
