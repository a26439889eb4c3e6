// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package harness

import (
	"bufio"
	"bytes"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"

	"github.com/pkg/errors"

	"github.com/intel-hpdd/logging/debug"
)

type (
	// Hop is one parsed leg of a route report
	Hop struct {
		Source string
		Dest   string
		Cost   int
	}

	// Route is a parsed route report
	Route struct {
		Hops []Hop
		Cost int
	}

	// RouteDriver defines an interface to be implemented by a route
	// query tool driver, e.g. courierctl
	RouteDriver interface {
		// Route resolves a path between two endpoints using the
		// supplied daemon config
		Route(cfgFile, src, dst string) (*Route, error)
	}

	routeDriverConstructor func() RouteDriver
)

// Via reports whether the route transits rse between its endpoints
func (r *Route) Via(rse string) bool {
	for i, hop := range r.Hops {
		if i == len(r.Hops)-1 {
			break
		}
		if hop.Dest == rse {
			return true
		}
	}
	return false
}

// RouteDrivers is a map of route driver names to their driver
// constructor functions. The name doubles as the binary looked for
// on PATH.
var RouteDrivers = map[string]routeDriverConstructor{
	CourierctlBinary: CtlRouteDriver,
}

func getRouteDriver(cfg *Config) (RouteDriver, error) {
	if cfg.RouteDriver == "" {
		return NewMultiRouteDriver(), nil
	}

	fn, ok := RouteDrivers[cfg.RouteDriver]
	if !ok {
		return nil, fmt.Errorf("No route driver for %s found", cfg.RouteDriver)
	}

	return fn(), nil
}

// NewMultiRouteDriver returns an implementation of RouteDriver which
// delegates to the first driver whose binary is installed.
func NewMultiRouteDriver() RouteDriver {
	return &multiRouteDriver{
		delegate: findDelegate(),
	}
}

func findDelegate() RouteDriver {
	for name, constructor := range RouteDrivers {
		if _, err := exec.LookPath(name); err == nil {
			return constructor()
		}
	}

	return &failedDelegate{}
}

type failedDelegate struct{}

func (f *failedDelegate) Route(cfgFile, src, dst string) (*Route, error) {
	return nil, fmt.Errorf("Unable to delegate route action: No route drivers found.")
}

type multiRouteDriver struct {
	delegate RouteDriver
}

func (d *multiRouteDriver) Route(cfgFile, src, dst string) (*Route, error) {
	return d.delegate.Route(cfgFile, src, dst)
}

// CtlRouteDriver returns an instance of the courierctl driver
func CtlRouteDriver() RouteDriver {
	return &ctlDriver{}
}

type ctlDriver struct {
	binPath string
}

func (c *ctlDriver) run(args ...string) ([]byte, error) {
	if c.binPath == "" {
		var err error
		if c.binPath, err = exec.LookPath(CourierctlBinary); err != nil {
			return nil, errors.Wrap(err, "Unable to find courierctl binary")
		}
	}

	return exec.Command(c.binPath, args...).Output() // #nosec
}

func (c *ctlDriver) Route(cfgFile, src, dst string) (*Route, error) {
	out, err := c.run("-config="+cfgFile, "route", src, dst)
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, errors.Wrapf(err, "route query failed: %s", exitErr.Stderr)
		}
		return nil, errors.Wrap(err, "route query failed")
	}

	return parseRoute(out)
}

var (
	hopRe   = regexp.MustCompile(`^(\S+) -> (\S+) \(cost (\d+)\)$`)
	totalRe = regexp.MustCompile(`^total cost (\d+) over (\d+) hops?$`)
)

func parseRoute(out []byte) (*Route, error) {
	route := &Route{}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		debug.Printf("route line: %s", line)

		if matches := hopRe.FindStringSubmatch(line); matches != nil {
			cost, err := strconv.Atoi(matches[3])
			if err != nil {
				return nil, errors.Wrapf(err, "Unable to parse hop cost from %q", line)
			}
			route.Hops = append(route.Hops, Hop{Source: matches[1], Dest: matches[2], Cost: cost})
			continue
		}

		if matches := totalRe.FindStringSubmatch(line); matches != nil {
			cost, err := strconv.Atoi(matches[1])
			if err != nil {
				return nil, errors.Wrapf(err, "Unable to parse total cost from %q", line)
			}
			count, err := strconv.Atoi(matches[2])
			if err != nil {
				return nil, errors.Wrapf(err, "Unable to parse hop count from %q", line)
			}
			if count != len(route.Hops) {
				return nil, errors.Errorf("Report claims %d hops but lists %d", count, len(route.Hops))
			}
			route.Cost = cost
		}
	}

	if len(route.Hops) == 0 {
		return nil, errors.Errorf("Unable to parse a route from %q", out)
	}
	return route, nil
}
