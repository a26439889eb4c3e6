// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"golang.org/x/net/context"
	"gopkg.in/urfave/cli.v1"

	"github.com/gridfab/courier/cmd/courierd/scheduler"
	"github.com/gridfab/courier/pkg/heartbeat"
)

func init() {
	workerCommands := []cli.Command{
		{
			Name:   "workers",
			Usage:  "List live submitter threads",
			Action: workersAction,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "executable, e",
					Usage: "Executable name the threads register under",
				},
			},
		},
	}
	commands = append(commands, workerCommands...)
}

func workersAction(c *cli.Context) error {
	logContext(c)

	cfg := scheduler.NewConfig()
	if loaded, err := scheduler.LoadConfig(c.GlobalString("config")); err == nil {
		cfg = cfg.Merge(loaded)
	}

	registry := heartbeat.NewRedisRegistry(cfg.RedisServer, cfg.RedisPassword, cfg.Expiry(), nil)
	defer registry.Close()

	executable := c.String("executable")
	if executable == "" {
		executable = cfg.Executable
	}

	members, err := registry.Members(context.Background(), executable)
	if err != nil {
		return err
	}

	if len(members) == 0 {
		fmt.Printf("no live threads for %s\n", executable)
		return nil
	}
	for _, m := range members {
		fmt.Printf("%s pid %d thread %d (last beat %s)\n",
			m.Hostname, m.PID, m.Thread, humanize.Time(m.LastBeat))
	}

	return nil
}
