package main

import (
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"path"
	"syscall"

	"golang.org/x/net/context"

	"github.com/pkg/errors"

	"github.com/intel-hpdd/logging/alert"
	"github.com/intel-hpdd/logging/audit"
	"github.com/intel-hpdd/logging/debug"

	"github.com/gridfab/courier/cmd/courierd/config"
	"github.com/gridfab/courier/cmd/courierd/scheduler"
	"github.com/gridfab/courier/pkg/heartbeat"
	"github.com/gridfab/courier/pkg/request"
	"github.com/gridfab/courier/pkg/topology"
)

var (
	optConfigPath string
	optTrace      bool
)

func init() {
	flag.StringVar(&optConfigPath, "config", defaultConfigPath(), "path to the daemon config file")
	flag.BoolVar(&optTrace, "trace", false, "print redis trace")
	flag.Var(debug.FlagVar())
}

func defaultConfigPath() string {
	if dir := os.Getenv(config.ConfigDirEnvVar); dir != "" {
		return path.Join(dir, config.DaemonConfigFile)
	}
	return config.DefaultConfigPath
}

func interruptHandler(once func()) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGQUIT, syscall.SIGTERM)

	go func() {
		stopping := false
		for sig := range c {
			debug.Printf("signal received: %s", sig)
			if !stopping {
				stopping = true
				once()
			}
		}
	}()
}

// configInitMust returns a valid *scheduler.Config or fails trying
func configInitMust() *scheduler.Config {
	flag.Parse()

	cfg := scheduler.NewConfig()

	loaded, err := scheduler.LoadConfig(optConfigPath)
	switch {
	case err == nil:
		refuseInsecure(optConfigPath, loaded)
		cfg = cfg.Merge(loaded)
	case optConfigPath == defaultConfigPath() && os.IsNotExist(err):
		audit.Logf("no config at %s, starting with defaults", optConfigPath)
	default:
		alert.Fatalf("Failed to load config: %s", err)
	}

	return cfg
}

// refuseInsecure rejects a config readable by group or other when it
// carries credentials.
func refuseInsecure(cfgPath string, cfg *scheduler.Config) {
	secrets := cfg.RedisPassword != ""
	if auth := cfg.Auth; auth != nil {
		secrets = secrets || auth.Password != "" || auth.Token != "" || auth.ClientSecret != ""
	}
	if !secrets {
		return
	}

	fi, err := os.Stat(cfgPath)
	if err != nil {
		alert.Fatalf("Failed to stat config: %s", err)
	}
	if perm := fi.Mode().Perm(); perm&0077 != 0 {
		alert.Fatalf("Config %s carries credentials but has mode %#o; make it 0600", cfgPath, perm)
	}
}

func newRegistry(cfg *scheduler.Config) heartbeat.Registry {
	if cfg.Standalone {
		debug.Print("using in-process heartbeat registry")
		return heartbeat.NewMemRegistry(cfg.Expiry())
	}

	var logger *log.Logger
	if optTrace {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return heartbeat.NewRedisRegistry(cfg.RedisServer, cfg.RedisPassword, cfg.Expiry(), logger)
}

func main() {
	cfg := configInitMust()

	debug.Printf("current configuration:\n%v", cfg.String())

	store := request.NewMemStore()
	if err := cfg.Seed(context.Background(), store); err != nil {
		alert.Abort(errors.Wrap(err, "failed to seed request backlog"))
	}

	topo := topology.NewMemStore()
	if cfg.Topology != nil {
		built, err := cfg.Topology.Build()
		if err != nil {
			alert.Abort(errors.Wrap(err, "failed to build topology"))
		}
		topo = built
	}

	registry := newRegistry(cfg)
	if closer, ok := registry.(io.Closer); ok {
		defer closer.Close()
	}

	s, err := scheduler.New(cfg, store, topo, registry)
	if err != nil {
		alert.Abort(errors.Wrap(err, "failed to create scheduler"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	interruptHandler(func() {
		cancel()
	})

	if err := s.Start(ctx); err != nil {
		alert.Abort(errors.Wrap(err, "scheduler failed"))
	}
}
