package main

import (
	"flag"
	"fmt"
	"io"
	"path/filepath"

	"github.com/govcore/govcore/pkg/audit"
	"github.com/govcore/govcore/pkg/config"
)

// auditVerifyCmd independently re-verifies a vault's audit hash chain.
//
// Exit codes:
//
//	0 = chain verifies end to end
//	1 = a break was detected; the offending index is printed
//	2 = runtime error
func auditVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("audit verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var vaultDir, logPath string
	cmd.StringVar(&vaultDir, "vault", "", "Path to the vault directory")
	cmd.StringVar(&logPath, "log", "", "Path to audit_log.ndjson (overrides --vault's config)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if logPath == "" {
		if vaultDir == "" {
			fmt.Fprintln(stderr, "Error: one of --vault or --log is required")
			return 2
		}
		cfg, err := config.Load(filepath.Join(vaultDir, "govcore.yaml"))
		if err != nil {
			fmt.Fprintf(stderr, "Error: load vault config: %v\n", err)
			return 2
		}
		logPath = cfg.AuditLogPath
		if !filepath.IsAbs(logPath) {
			logPath = filepath.Join(vaultDir, logPath)
		}
	}

	badIndex, err := audit.VerifyFile(logPath)
	if err != nil && badIndex < 0 {
		fmt.Fprintf(stderr, "Error: read audit log: %v\n", err)
		return 2
	}
	if err != nil {
		fmt.Fprintf(stdout, "chain_verified=false bad_index=%d error=%v\n", badIndex, err)
		return 1
	}
	fmt.Fprintln(stdout, "chain_verified=true")
	return 0
}
