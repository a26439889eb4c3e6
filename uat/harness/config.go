// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package harness

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"github.com/intel-hpdd/logging/alert"
	"github.com/intel-hpdd/logging/debug"

	"github.com/hashicorp/hcl"
	"github.com/pkg/errors"
)

const (
	// UATConfigFile is the name of the harness configuration file
	UATConfigFile = ".courier-test"

	// UATConfigEnvVar is the name of the optional environment variable that
	// may be set to specify config location
	UATConfigEnvVar = "COURIER_UAT_CONFIG_FILE"
)

// Config holds configuration for the test harness
type Config struct {
	RouteDriver       string `hcl:"route_driver" json:"route_driver"`
	CleanupOnFailure  bool   `hcl:"cleanup_on_failure" json:"cleanup_on_failure"`
	EnableDaemonDebug bool   `hcl:"enable_daemon_debug" json:"enable_daemon_debug"`

	// When set, the daemon under test registers its heartbeats
	// against this redis instead of running standalone.
	RedisServer   string `hcl:"redis_server" json:"redis_server"`
	RedisPassword string `hcl:"redis_password" json:"redis_password"`
}

// Merge combines this config's values with the other config's values
func (c *Config) Merge(other *Config) *Config {
	result := new(Config)

	result.RouteDriver = c.RouteDriver
	if other.RouteDriver != "" {
		result.RouteDriver = other.RouteDriver
	}

	result.CleanupOnFailure = other.CleanupOnFailure
	result.EnableDaemonDebug = other.EnableDaemonDebug

	result.RedisServer = c.RedisServer
	if other.RedisServer != "" {
		result.RedisServer = other.RedisServer
	}

	result.RedisPassword = c.RedisPassword
	if other.RedisPassword != "" {
		result.RedisPassword = other.RedisPassword
	}

	return result
}

func (c *Config) String() string {
	data, err := json.Marshal(c)
	if err != nil {
		alert.Abort(errors.Wrap(err, "couldn't marshal test config to json"))
	}

	var out bytes.Buffer
	json.Indent(&out, data, "", "\t")
	return out.String()
}

// NewConfig initializes a new Config instance with default values
func NewConfig() *Config {
	return &Config{}
}

// LoadConfig attempts to load a config from one of the default locations
func LoadConfig() (*Config, error) {
	cfg := NewConfig()

	user, err := user.Current()
	if err != nil {
		return nil, errors.Wrap(err, "Unable to get current user")
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, "Unable to get current directory")
	}
	// list of locations to try, in decreasing precedence
	locations := []string{
		os.Getenv(UATConfigEnvVar),
		path.Join(cwd, UATConfigFile),
		path.Join(user.HomeDir, UATConfigFile),
	}

	for _, location := range locations {
		debug.Printf("trying to load config from %s", location)
		if loaded, err := loadConfigFile(location); err == nil {
			cfg = cfg.Merge(loaded)
			break
		}
	}

	debug.Printf("Harness config: %s", cfg)
	return cfg, nil
}

func loadConfigFile(cfgPath string) (*Config, error) {
	cfg := NewConfig()

	data, err := ioutil.ReadFile(cfgPath)
	if err != nil {
		return nil, err
	}

	if err := hcl.Decode(cfg, string(data)); err != nil {
		alert.Warnf("config file error %s:%s", cfgPath, err)
		return nil, err
	}

	return cfg, nil
}
