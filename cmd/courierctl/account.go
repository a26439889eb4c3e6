// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"golang.org/x/net/context"
	"gopkg.in/urfave/cli.v1"

	"github.com/gridfab/courier/cmd/courierd/scheduler"
	"github.com/gridfab/courier/pkg/client"
)

func init() {
	accountCommands := []cli.Command{
		{
			Name:      "limits",
			Usage:     "Show an account's per-endpoint byte quotas",
			ArgsUsage: "[account]",
			Action:    limitsAction,
		},
		{
			Name:   "whoami",
			Usage:  "Show the account the configured credentials map to",
			Action: whoamiAction,
		},
	}
	commands = append(commands, accountCommands...)
}

func newClient(c *cli.Context) (*client.Client, *scheduler.Config, error) {
	cfgPath := c.GlobalString("config")
	cfg, err := scheduler.LoadConfig(cfgPath)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to load config %s", cfgPath)
	}
	if cfg.RestEndpoint == "" {
		return nil, nil, errors.Errorf("no rest_endpoint in %s", cfgPath)
	}
	if cfg.Auth == nil {
		return nil, nil, errors.Errorf("no auth block in %s", cfgPath)
	}

	source, err := client.NewTokenSource(cfg.Auth, cfg.RestEndpoint)
	if err != nil {
		return nil, nil, err
	}
	return client.New(cfg.RestEndpoint, source), cfg, nil
}

func limitsAction(c *cli.Context) error {
	logContext(c)

	cl, cfg, err := newClient(c)
	if err != nil {
		return err
	}

	account := c.Args().First()
	if account == "" {
		account = cfg.Account
	}

	limits, err := cl.AccountLimits(context.Background(), account)
	if err != nil {
		return err
	}
	if len(limits) == 0 {
		fmt.Printf("no limits set for %s\n", account)
		return nil
	}

	rses := make([]string, 0, len(limits))
	for rse := range limits {
		rses = append(rses, rse)
	}
	sort.Strings(rses)

	for _, rse := range rses {
		quota := "unlimited"
		if limits[rse] >= 0 {
			quota = humanize.IBytes(uint64(limits[rse]))
		}
		fmt.Printf("%-24s %s\n", rse, quota)
	}

	return nil
}

func whoamiAction(c *cli.Context) error {
	logContext(c)

	cl, _, err := newClient(c)
	if err != nil {
		return err
	}

	account, err := cl.WhoAmI(context.Background())
	if err != nil {
		return err
	}
	fmt.Println(account)

	return nil
}
