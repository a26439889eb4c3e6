// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/dustin/go-humanize/english"
	"github.com/pkg/errors"
	"golang.org/x/net/context"
	"gopkg.in/urfave/cli.v1"

	"github.com/gridfab/courier/cmd/courierd/scheduler"
	"github.com/gridfab/courier/pkg/topology"
)

func init() {
	routeCommands := []cli.Command{
		{
			Name:      "route",
			Usage:     "Resolve the cheapest path between two endpoints",
			ArgsUsage: "SOURCE DEST",
			Action:    routeAction,
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "hop-penalty, p",
					Usage: "Cost added per hop beyond the first",
				},
			},
		},
	}
	commands = append(commands, routeCommands...)
}

func loadTopology(c *cli.Context) (*topology.MemStore, *scheduler.Config, error) {
	cfgPath := c.GlobalString("config")
	cfg, err := scheduler.LoadConfig(cfgPath)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to load config %s", cfgPath)
	}
	if cfg.Topology == nil {
		return nil, nil, errors.Errorf("no topology block in %s", cfgPath)
	}

	store, err := cfg.Topology.Build()
	if err != nil {
		return nil, nil, err
	}
	return store, cfg, nil
}

func routeAction(c *cli.Context) error {
	logContext(c)

	if c.NArg() != 2 {
		return errors.New("route requires SOURCE and DEST arguments")
	}
	src, dst := c.Args().Get(0), c.Args().Get(1)

	store, cfg, err := loadTopology(c)
	if err != nil {
		return err
	}

	penalty := int64(cfg.HopPenalty)
	if c.IsSet("hop-penalty") {
		penalty = int64(c.Int("hop-penalty"))
	}
	resolver := topology.NewResolver(store, penalty)

	ctx := context.Background()
	multihop, err := resolver.MultihopRSEs(ctx)
	if err != nil {
		return err
	}

	hops, err := resolver.Resolve(ctx, src, dst, multihop)
	if err != nil {
		return err
	}

	for _, hop := range hops {
		fmt.Printf("%s -> %s (cost %d)\n", hop.Source, hop.Dest, hop.Cost)
	}
	fmt.Printf("total cost %d over %s\n",
		resolver.TotalCost(hops), english.Plural(len(hops), "hop", ""))

	return nil
}
