package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/govcore/govcore/pkg/bundle"
)

// bundleValidateCmd runs BundleValidator standalone as a single command
// gate suite entrypoint. Every check line printed to stdout begins with
// the check name followed by its PASS/FAIL status.
//
// Exit codes:
//
//	0 = every check passed
//	1 = at least one check failed
//	2 = runtime error (unreadable file, malformed zip)
func bundleValidateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("bundle validate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var bundlePath string
	var includeInputBytes bool
	cmd.StringVar(&bundlePath, "bundle", "", "Path to the Evidence Bundle zip (REQUIRED)")
	cmd.BoolVar(&includeInputBytes, "include-input-bytes", false, "Also verify inputs_snapshot bytes against artifact_hashes.csv")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if bundlePath == "" {
		fmt.Fprintln(stderr, "Error: --bundle is required")
		return 2
	}

	data, err := os.ReadFile(bundlePath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: read bundle: %v\n", err)
		return 2
	}

	result, err := bundle.ValidateZip(data, includeInputBytes)
	if err != nil {
		fmt.Fprintf(stderr, "Error: validate bundle: %v\n", err)
		return 2
	}

	for _, c := range result.Checks {
		status := "PASS"
		if !c.Pass {
			status = "FAIL"
		}
		if c.Message != "" {
			fmt.Fprintf(stdout, "%s %s %s\n", c.Name, status, c.Message)
		} else {
			fmt.Fprintf(stdout, "%s %s\n", c.Name, status)
		}
	}

	if !result.OverallPass {
		return 1
	}
	return 0
}
