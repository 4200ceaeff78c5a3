package main

import (
	"context"
	"flag"
	"fmt"
	"io"
)

// egressCheckCmd dry-runs an EgressGate decision for operator
// diagnostics without any run in progress.
//
// Exit codes:
//
//	0 = destination would be allowed
//	1 = destination would be blocked
//	2 = runtime error
func egressCheckCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("egress check", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var vaultDir, egressProfileName, host, scheme string
	var port int
	cmd.StringVar(&vaultDir, "vault", "", "Path to the vault directory (REQUIRED)")
	cmd.StringVar(&egressProfileName, "egress-profile", "", "Named egress allowlist preset under <vault>/profiles")
	cmd.StringVar(&host, "host", "", "Destination host to check (REQUIRED)")
	cmd.StringVar(&scheme, "scheme", "https", "Destination scheme")
	cmd.IntVar(&port, "port", 443, "Destination port")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if vaultDir == "" || host == "" {
		fmt.Fprintln(stderr, "Error: --vault and --host are required")
		return 2
	}

	v, err := openVault(vaultDir, egressProfileName)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer v.Close()

	destination := fmt.Sprintf("%s://%s:%d/", scheme, host, port)
	decision, err := v.Egress.Request(context.Background(), "", destination, "cli-diagnostic", "")
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if decision.Allowed {
		fmt.Fprintf(stdout, "allowed=true rule_id=%s\n", decision.RuleID)
		return 0
	}
	fmt.Fprintf(stdout, "allowed=false block_reason=%s\n", decision.BlockReason)
	return 1
}
