package steps

import (
	"fmt"
	"os/exec"

	"github.com/pkg/errors"

	"github.com/gridfab/courier/uat/harness"
	"github.com/intel-hpdd/logging/debug"
)

func init() {
	addStep(`^the courier tools are installed$`, theCourierToolsAreInstalled)
	addStep(`^I start the transfer daemon$`, iStartTheTransferDaemon)
	addStep(`^I stop the transfer daemon$`, iStopTheTransferDaemon)
	addStep(`^the transfer daemon should be (running|stopped)$`, theTransferDaemonShouldBe)
}

func theCourierToolsAreInstalled() error {
	for _, tool := range []string{harness.CourierdBinary, harness.CourierctlBinary} {
		if _, err := exec.LookPath(tool); err != nil {
			return errors.Wrapf(err, "%s not found in PATH", tool)
		}
	}
	return nil
}

func iStartTheTransferDaemon() error {
	if err := harness.ConfigureDaemon(ctx); err != nil {
		return errors.Wrap(err, "Failed to write test daemon config")
	}

	cfgPath, err := ctx.GetKey(harness.CourierdCfgKey)
	if err != nil {
		return errors.Wrap(err, "No daemon config file path found")
	}
	debug.Printf("Wrote daemon config to %s", cfgPath)

	return harness.StartDaemon(ctx)
}

func iStopTheTransferDaemon() error {
	return harness.StopDaemon(ctx)
}

func theTransferDaemonShouldBe(state string) error {
	var pid int
	if state == "running" {
		if ctx.DaemonDriver == nil {
			return fmt.Errorf("No daemon was configured in this scenario")
		}
		var err error
		if pid, err = ctx.DaemonDriver.DaemonPid(); err != nil {
			return errors.Wrap(err, "Failed to get daemon pid")
		}
	}

	daemonStatus := func() error {
		return checkProcessState(harness.CourierdBinary, state, pid)
	}
	return waitFor(daemonStatus, DefaultTimeout)
}
