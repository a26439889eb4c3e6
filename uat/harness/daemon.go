package harness

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"os/exec"
	"path"
	"syscall"

	"github.com/pkg/errors"

	"github.com/gridfab/courier/cmd/courierd/config"
	"github.com/gridfab/courier/pkg/transfertool"
	"github.com/intel-hpdd/logging/alert"
)

const (
	// CourierdCfgKey refers to this context's daemon config file
	CourierdCfgKey = "daemon_config_key"

	// CourierdBinary is the name of the transfer daemon
	CourierdBinary = "courierd"

	// CourierctlBinary is the name of the operator CLI
	CourierctlBinary = "courierctl"
)

type (
	// TopoRSE is one storage endpoint in the scenario topology
	TopoRSE struct {
		Name     string
		Tape     bool
		Multihop bool
	}

	// TopoLink is one directed link in the scenario topology
	TopoLink struct {
		Src  string
		Dst  string
		Cost int
	}

	// SeedRequest is one backlog entry seeded into the daemon's queue
	SeedRequest struct {
		ID       string
		Scope    string
		Name     string
		Bytes    int
		Source   string
		Dest     string
		Activity string
		Rule     string
	}

	// DaemonConfig models the courierd configuration written for a
	// scenario. Steps accumulate topology and backlog here, and the
	// rendered file is shared by the daemon and courierctl.
	DaemonConfig struct {
		Interval      string
		Submitters    int
		GroupPolicy   string
		Standalone    bool
		RedisServer   string
		RedisPassword string
		Endpoint      string

		RSEs     []*TopoRSE
		Links    []*TopoLink
		Requests []*SeedRequest

		rseIndex map[string]*TopoRSE
	}

	// DaemonDriver allows the harness to drive a transfer daemon
	DaemonDriver struct {
		dc      *DaemonConfig
		cmd     *exec.Cmd
		started bool
	}
)

// NewDaemonConfig initializes a new DaemonConfig instance with values
// suited to short scenario runs
func NewDaemonConfig() *DaemonConfig {
	return &DaemonConfig{
		Interval:   "100ms",
		Submitters: 1,
		Standalone: true,
		rseIndex:   make(map[string]*TopoRSE),
	}
}

// EnsureRSE adds an endpoint to the topology if it is not already known
func (dc *DaemonConfig) EnsureRSE(name string) *TopoRSE {
	if rse, ok := dc.rseIndex[name]; ok {
		return rse
	}

	rse := &TopoRSE{Name: name}
	dc.RSEs = append(dc.RSEs, rse)
	dc.rseIndex[name] = rse
	return rse
}

// AddLink records a directed link between two endpoints
func (dc *DaemonConfig) AddLink(src, dst string, cost int) {
	dc.EnsureRSE(src)
	dc.EnsureRSE(dst)
	dc.Links = append(dc.Links, &TopoLink{Src: src, Dst: dst, Cost: cost})
}

// AddRequest appends a request to the daemon's seeded backlog and
// assigns it an id
func (dc *DaemonConfig) AddRequest(req *SeedRequest) {
	dc.EnsureRSE(req.Source)
	dc.EnsureRSE(req.Dest)
	req.ID = fmt.Sprintf("uat-req-%d", len(dc.Requests)+1)
	dc.Requests = append(dc.Requests, req)
}

func (dc *DaemonConfig) String() string {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "interval = %q\n", dc.Interval)
	fmt.Fprintf(&buf, "submitters = %d\n", dc.Submitters)
	if dc.GroupPolicy != "" {
		fmt.Fprintf(&buf, "group_policy = %q\n", dc.GroupPolicy)
	}
	if dc.Standalone {
		fmt.Fprintf(&buf, "standalone = true\n")
	} else {
		fmt.Fprintf(&buf, "redis_server = %q\n", dc.RedisServer)
		if dc.RedisPassword != "" {
			fmt.Fprintf(&buf, "redis_password = %q\n", dc.RedisPassword)
		}
	}

	fmt.Fprintf(&buf, "\ntopology {\n")
	for _, rse := range dc.RSEs {
		fmt.Fprintf(&buf, "\trse %q {\n", rse.Name)
		if rse.Tape {
			fmt.Fprintf(&buf, "\t\ttape = true\n")
		}
		if rse.Multihop {
			fmt.Fprintf(&buf, "\t\tmultihop = true\n")
		}
		if dc.Endpoint != "" {
			fmt.Fprintf(&buf, "\t\tattributes {\n\t\t\t%s = %q\n\t\t}\n", transfertool.HostAttr, dc.Endpoint)
		}
		fmt.Fprintf(&buf, "\t}\n")
	}
	for _, link := range dc.Links {
		fmt.Fprintf(&buf, "\tlink \"%s->%s\" {\n\t\tcost = %d\n\t}\n", link.Src, link.Dst, link.Cost)
	}
	fmt.Fprintf(&buf, "}\n")

	for _, req := range dc.Requests {
		fmt.Fprintf(&buf, "\nrequest %q {\n", req.ID)
		fmt.Fprintf(&buf, "\tscope = %q\n", req.Scope)
		fmt.Fprintf(&buf, "\tname = %q\n", req.Name)
		fmt.Fprintf(&buf, "\tbytes = %d\n", req.Bytes)
		fmt.Fprintf(&buf, "\tdest = %q\n", req.Dest)
		if req.Activity != "" {
			fmt.Fprintf(&buf, "\tactivity = %q\n", req.Activity)
		}
		if req.Rule != "" {
			fmt.Fprintf(&buf, "\trule = %q\n", req.Rule)
		}
		fmt.Fprintf(&buf, "\tsource %q {\n\t\tranking = 1\n\t\tdistance = 10\n", req.Source)
		if src, ok := dc.rseIndex[req.Source]; ok && src.Tape {
			fmt.Fprintf(&buf, "\t\ttape = true\n")
		}
		fmt.Fprintf(&buf, "\t}\n}\n")
	}

	return buf.String()
}

// DaemonPid returns the pid of the running daemon, if available
func (dd *DaemonDriver) DaemonPid() (int, error) {
	if dd.cmd == nil {
		return -1, fmt.Errorf("DaemonPid() called with nil cmd")
	}

	return dd.cmd.Process.Pid, nil
}

// ConfigureDaemon finalizes the Context's daemon config and writes it out
func ConfigureDaemon(ctx *ScenarioContext) error {
	if ctx.Service == nil {
		if err := StartTransferService(ctx); err != nil {
			return errors.Wrap(err, "Unable to start transfer service")
		}
	}

	dc := ctx.DaemonConfig
	dc.Endpoint = ctx.Service.Endpoint()
	if ctx.Config.RedisServer != "" {
		dc.Standalone = false
		dc.RedisServer = ctx.Config.RedisServer
		dc.RedisPassword = ctx.Config.RedisPassword
	}

	// Maybe this should be an error?
	if ctx.DaemonDriver != nil {
		alert.Warn("Updating existing daemon driver in context")
	}

	cfgFile := ctx.Workdir() + config.DefaultConfigPath
	ctx.SetKey(CourierdCfgKey, cfgFile)

	var err error
	ctx.DaemonDriver, err = newDaemonDriver(ctx, dc)
	if err != nil {
		return errors.Wrap(err, "Unable to create daemon driver")
	}

	return WriteDaemonConfig(ctx)
}

// WriteDaemonConfig writes the daemon configuration into the workdir.
// The file is written owner-only because the daemon refuses wider
// modes when the config carries credentials.
func WriteDaemonConfig(ctx *ScenarioContext) error {
	if ctx.DaemonDriver == nil || ctx.DaemonDriver.dc == nil {
		return fmt.Errorf("WriteDaemonConfig() may only be called after ConfigureDaemon()")
	}

	cfgFile, err := ctx.GetKey(CourierdCfgKey)
	if err != nil {
		return errors.Wrap(err, "No config file path found")
	}

	cfgDir := path.Dir(cfgFile)
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return errors.Wrap(err, "Failed to create daemon config dir")
	}
	return ioutil.WriteFile(cfgFile, []byte(ctx.DaemonDriver.dc.String()), 0600)
}

// StartDaemon starts the configured daemon
func StartDaemon(ctx *ScenarioContext) error {
	if ctx.DaemonDriver == nil || ctx.DaemonDriver.cmd == nil {
		return fmt.Errorf("StartDaemon() may only be called after ConfigureDaemon()")
	}

	ctx.DaemonDriver.started = true
	return ctx.DaemonDriver.cmd.Start()
}

func newDaemonCmd(ctx *ScenarioContext) (*exec.Cmd, error) {
	cfgFile, err := ctx.GetKey(CourierdCfgKey)
	if err != nil {
		return nil, errors.Wrap(err, "No config file path found")
	}

	stdout, err := os.OpenFile(ctx.Workdir()+"/daemon.stdout", os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "Can't create daemon stdout file")
	}
	stderr, err := os.OpenFile(ctx.Workdir()+"/daemon.stderr", os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "Can't create daemon stderr file")
	}

	daemonArgs := []string{"-config=" + cfgFile}
	if ctx.Config.EnableDaemonDebug {
		daemonArgs = append(daemonArgs, "-debug")
	}
	cmd := exec.Command(CourierdBinary, daemonArgs...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	return cmd, nil
}

func newDaemonDriver(ctx *ScenarioContext, cfg *DaemonConfig) (*DaemonDriver, error) {
	cmd, err := newDaemonCmd(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "Unable to create daemon cmd")
	}

	driver := &DaemonDriver{
		dc:  cfg,
		cmd: cmd,
	}

	return driver, nil
}

// StopDaemon stops the running daemon. It is a no-op when the
// scenario never started one, so it is safe to call from cleanup.
func StopDaemon(ctx *ScenarioContext) error {
	if ctx.DaemonDriver == nil || ctx.DaemonDriver.cmd == nil {
		return nil
	}
	if !ctx.DaemonDriver.started {
		return nil
	}

	dd := ctx.DaemonDriver
	dd.started = false
	if dd.cmd.ProcessState != nil && dd.cmd.ProcessState.Exited() {
		return fmt.Errorf("StopDaemon() called on stopped daemon")
	}

	// Send SIGTERM to allow the daemon to clean up
	if err := dd.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return errors.Wrap(err, "sending SIGTERM to daemon failed")
	}

	if err := dd.cmd.Wait(); err != nil {
		return errors.Wrapf(err, "daemon did not exit cleanly")
	}

	return nil
}
