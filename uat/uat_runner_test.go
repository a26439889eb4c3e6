package uat

import (
	"fmt"
	"os"
	"os/exec"
	"testing"

	"github.com/DATA-DOG/godog"

	"github.com/gridfab/courier/uat/harness"
)

var runDir = "."
var raceBinPath = "."

func TestMain(m *testing.M) {
	// Run the feature tests from the compiled-in location.
	if err := os.Chdir(runDir); err != nil {
		panic(err)
	}

	// Prefix the path so that we can find our race-compiled binaries.
	os.Setenv("PATH", raceBinPath+":"+os.Getenv("PATH"))

	// The suite drives installed courier binaries. Without them there
	// is nothing to run, so don't fail unit test sweeps on dev boxes.
	for _, tool := range []string{harness.CourierdBinary, harness.CourierctlBinary} {
		if _, err := exec.LookPath(tool); err != nil {
			fmt.Fprintf(os.Stderr, "skipping acceptance suite: %s\n", err)
			os.Exit(0)
		}
	}

	status := godog.RunWithOptions("courier", func(suite *godog.Suite) {
		ConfigureSuite(suite)
	}, godog.Options{
		Format: "progress",
		Paths:  []string{"features"},
		Strict: true,
	})
	os.Exit(status)
}
