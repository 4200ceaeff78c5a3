package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/govcore/govcore/pkg/config"
	"github.com/govcore/govcore/pkg/evalrunner"
	"github.com/govcore/govcore/pkg/run"
	"github.com/govcore/govcore/pkg/types"
	"github.com/govcore/govcore/pkg/vault"
)

// gateSpec is the declarative, JSON-friendly shape of one eval gate: an
// external command whose exit code decides PASS/FAIL. "Shell out, map
// exit code" is the CLI's gate contract since Go closures can't cross a
// JSON boundary.
type gateSpec struct {
	ID       string   `json:"id"`
	Severity string   `json:"severity"`
	Command  []string `json:"command"`
}

// requestDoc is the on-disk JSON shape of a run.ExportRequest, with file
// references in place of raw bytes so large deliverables and inputs
// don't have to be base64-inlined.
type requestDoc struct {
	PolicyMode                   types.PolicyMode             `json:"policy_mode"`
	NetworkMode                  types.NetworkMode             `json:"network_mode"`
	ProofLevel                   types.ProofLevel              `json:"proof_level"`
	DeterminismEnabled           bool                          `json:"determinism_enabled"`
	ExportProfile                types.ExportProfile           `json:"export_profile"`
	PinningFloor                 types.PinningLevel            `json:"pinning_floor"`
	Targets                      []string                      `json:"targets"`
	Actor                        types.Actor                   `json:"actor"`
	Gates                        []gateSpec                    `json:"gates"`
	GateConcurrency              int                           `json:"gate_concurrency"`
	InputArtifacts               map[string]types.Artifact     `json:"input_artifacts"`
	InputBytesDir                string                        `json:"input_bytes_dir,omitempty"`
	ClaimMapFile                 string                        `json:"claim_map_file,omitempty"`
	RedactionMapFile             string                        `json:"redaction_map_file,omitempty"`
	ModelUsages                  []types.ModelUsage            `json:"model_usages"`
	PackID                       string                        `json:"pack_id"`
	DeliverablesDir              string                        `json:"deliverables_dir"`
	TemplatesUsedFile            string                        `json:"templates_used_file,omitempty"`
	ManifestInputsFingerprintHex string                        `json:"manifest_inputs_fingerprint_hex,omitempty"`
}

func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("run export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var vaultDir, requestPath, outPath, egressProfileName string
	cmd.StringVar(&vaultDir, "vault", "", "Path to the vault directory (REQUIRED)")
	cmd.StringVar(&requestPath, "request", "", "Path to the export request JSON document (REQUIRED)")
	cmd.StringVar(&outPath, "out", "", "Path to write the Evidence Bundle zip (REQUIRED)")
	cmd.StringVar(&egressProfileName, "egress-profile", "", "Named egress allowlist preset under <vault>/profiles")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if vaultDir == "" || requestPath == "" || outPath == "" {
		fmt.Fprintln(stderr, "Error: --vault, --request, and --out are required")
		return 2
	}

	v, err := openVault(vaultDir, egressProfileName)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer v.Close()

	req, err := loadExportRequest(requestPath, v.Config().VaultID)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	result, err := v.Runs.Export(context.Background(), *req)
	if err != nil {
		fmt.Fprintf(stderr, "Error: export pipeline failed: %v\n", err)
		return 2
	}

	fmt.Fprintf(stdout, "run_id=%s state=%s\n", result.RunID, result.State)
	if result.State != types.StateCompleted {
		if result.BlockReason != "" {
			fmt.Fprintf(stdout, "block_reason=%s\n", result.BlockReason)
		}
		for _, g := range result.FailingGates {
			fmt.Fprintf(stdout, "failing_gate=%s\n", g)
		}
		return 1
	}

	if err := os.WriteFile(outPath, result.BundleZip, 0o644); err != nil {
		fmt.Fprintf(stderr, "Error: write bundle: %v\n", err)
		return 2
	}
	fmt.Fprintf(stdout, "bundle_sha256=%s\n", result.BundleSHA256)
	return 0
}

func openVault(vaultDir, egressProfileName string) (*vault.Vault, error) {
	cfg, err := config.Load(filepath.Join(vaultDir, "govcore.yaml"))
	if err != nil {
		return nil, fmt.Errorf("load vault config: %w", err)
	}
	if !filepath.IsAbs(cfg.ArtifactStoreDir) {
		cfg.ArtifactStoreDir = filepath.Join(vaultDir, cfg.ArtifactStoreDir)
	}
	if !filepath.IsAbs(cfg.AuditLogPath) {
		cfg.AuditLogPath = filepath.Join(vaultDir, cfg.AuditLogPath)
	}
	if !filepath.IsAbs(cfg.PolicyBundleDir) {
		cfg.PolicyBundleDir = filepath.Join(vaultDir, cfg.PolicyBundleDir)
	}

	var profile *config.EgressProfile
	if egressProfileName != "" {
		profile, err = config.LoadEgressProfile(filepath.Join(vaultDir, "profiles"), egressProfileName)
		if err != nil {
			return nil, fmt.Errorf("load egress profile: %w", err)
		}
	}

	return vault.Open(cfg, profile)
}

func loadExportRequest(path, vaultID string) (*run.ExportRequest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read request document: %w", err)
	}
	var doc requestDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse request document: %w", err)
	}

	req := &run.ExportRequest{
		VaultID:            vaultID,
		PolicyMode:         doc.PolicyMode,
		NetworkMode:        doc.NetworkMode,
		ProofLevel:         doc.ProofLevel,
		DeterminismEnabled: doc.DeterminismEnabled,
		ExportProfile:      doc.ExportProfile,
		PinningFloor:       doc.PinningFloor,
		Targets:            doc.Targets,
		Actor:              doc.Actor,
		GateConcurrency:    doc.GateConcurrency,
		InputArtifacts:     doc.InputArtifacts,
		ModelUsages:        doc.ModelUsages,
		PackID:             doc.PackID,
		Deliverables:       map[string][]byte{},
	}
	if req.GateConcurrency == 0 {
		req.GateConcurrency = 1
	}

	baseDir := filepath.Dir(path)

	for _, g := range doc.Gates {
		g := g
		severity := types.SeverityMinor
		switch strings.ToUpper(g.Severity) {
		case "BLOCKER":
			severity = types.SeverityBlocker
		case "MAJOR":
			severity = types.SeverityMajor
		}
		req.Gates = append(req.Gates, evalrunner.Gate{
			ID:       g.ID,
			Severity: severity,
			Run: func(ctx context.Context) (types.GateResultStatus, string, error) {
				if len(g.Command) == 0 {
					return types.GatePass, "", nil
				}
				out, err := exec.CommandContext(ctx, g.Command[0], g.Command[1:]...).CombinedOutput()
				if err != nil {
					return types.GateFail, strings.TrimSpace(string(out)), nil
				}
				return types.GatePass, strings.TrimSpace(string(out)), nil
			},
		})
	}

	if doc.ClaimMapFile != "" {
		claimRaw, err := os.ReadFile(resolvePath(baseDir, doc.ClaimMapFile))
		if err != nil {
			return nil, fmt.Errorf("read claim map: %w", err)
		}
		var claimMap types.ClaimCitationMap
		if err := json.Unmarshal(claimRaw, &claimMap); err != nil {
			return nil, fmt.Errorf("parse claim map: %w", err)
		}
		req.ClaimMap = &claimMap
	}

	if doc.RedactionMapFile != "" {
		redRaw, err := os.ReadFile(resolvePath(baseDir, doc.RedactionMapFile))
		if err != nil {
			return nil, fmt.Errorf("read redaction map: %w", err)
		}
		var redMap types.RedactionMap
		if err := json.Unmarshal(redRaw, &redMap); err != nil {
			return nil, fmt.Errorf("parse redaction map: %w", err)
		}
		req.RedactionMap = &redMap
	}

	if doc.TemplatesUsedFile != "" {
		templatesRaw, err := os.ReadFile(resolvePath(baseDir, doc.TemplatesUsedFile))
		if err != nil {
			return nil, fmt.Errorf("read templates_used file: %w", err)
		}
		req.TemplatesUsed = templatesRaw
	}

	if doc.DeliverablesDir != "" {
		dir := resolvePath(baseDir, doc.DeliverablesDir)
		if err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(dir, p)
			if err != nil {
				return err
			}
			req.Deliverables[filepath.ToSlash(rel)] = data
			return nil
		}); err != nil {
			return nil, fmt.Errorf("walk deliverables dir: %w", err)
		}
	}

	if doc.InputBytesDir != "" {
		req.InputBytes = map[string][]byte{}
		dir := resolvePath(baseDir, doc.InputBytesDir)
		for id := range doc.InputArtifacts {
			data, err := os.ReadFile(filepath.Join(dir, id))
			if err != nil {
				return nil, fmt.Errorf("read input bytes for %s: %w", id, err)
			}
			req.InputBytes[id] = data
		}
	}

	if doc.ManifestInputsFingerprintHex != "" {
		fp, err := hex.DecodeString(doc.ManifestInputsFingerprintHex)
		if err != nil {
			return nil, fmt.Errorf("decode manifest_inputs_fingerprint_hex: %w", err)
		}
		req.ManifestInputsFingerprint = fp
	}

	return req, nil
}

func resolvePath(baseDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}
