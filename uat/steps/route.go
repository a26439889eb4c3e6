package steps

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/gridfab/courier/uat/harness"
)

func init() {
	addStep(`^I query the route from (\w+) to (\w+)$`, iQueryTheRoute)
	addStep(`^the route should have (\d+) hops?$`, routeShouldHaveHops)
	addStep(`^the route cost should be (\d+)$`, routeCostShouldBe)
	addStep(`^the route should pass through (\w+)$`, routeShouldPassThrough)
	addStep(`^no route should exist from (\w+) to (\w+)$`, noRouteShouldExist)
}

// queryRoute makes sure a daemon config exists for the accumulated
// topology, then asks the route driver to resolve a path over it.
func queryRoute(src, dst string) (*harness.Route, error) {
	if _, err := ctx.GetKey(harness.CourierdCfgKey); err != nil {
		if err := harness.ConfigureDaemon(ctx); err != nil {
			return nil, errors.Wrap(err, "Failed to write test daemon config")
		}
	}

	cfgFile, err := ctx.GetKey(harness.CourierdCfgKey)
	if err != nil {
		return nil, errors.Wrap(err, "No daemon config file path found")
	}

	return ctx.RouteDriver.Route(cfgFile, src, dst)
}

func iQueryTheRoute(src, dst string) error {
	route, err := queryRoute(src, dst)
	if err != nil {
		return errors.Wrapf(err, "Unable to get a route from %s to %s", src, dst)
	}

	ctx.LastRoute = route
	return nil
}

func routeShouldHaveHops(count int) error {
	route := ctx.LastRoute
	if route == nil {
		return fmt.Errorf("No route in context; query one first")
	}

	if len(route.Hops) != count {
		return errors.Errorf("route has %d hops, expected %d", len(route.Hops), count)
	}
	return nil
}

func routeCostShouldBe(cost int) error {
	route := ctx.LastRoute
	if route == nil {
		return fmt.Errorf("No route in context; query one first")
	}

	if route.Cost != cost {
		return errors.Errorf("route costs %d, expected %d", route.Cost, cost)
	}
	return nil
}

func routeShouldPassThrough(rse string) error {
	route := ctx.LastRoute
	if route == nil {
		return fmt.Errorf("No route in context; query one first")
	}

	if !route.Via(rse) {
		return errors.Errorf("route does not transit %s", rse)
	}
	return nil
}

func noRouteShouldExist(src, dst string) error {
	route, err := queryRoute(src, dst)
	if err == nil {
		return errors.Errorf("found a %d-hop route from %s to %s", len(route.Hops), src, dst)
	}

	if !strings.Contains(err.Error(), "no route") {
		return errors.Wrap(err, "route query failed for the wrong reason")
	}
	return nil
}
