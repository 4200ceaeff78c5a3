package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRequestFixture(t *testing.T, dir string) string {
	t.Helper()

	deliverablesDir := filepath.Join(dir, "deliverables")
	require.NoError(t, os.MkdirAll(deliverablesDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(deliverablesDir, "out.md"), []byte("<!-- CLAIM:C0001 -->\nA cited sentence.\n"), 0o644))

	claimMap := map[string]any{
		"schema_version": "LOCATOR_SCHEMA_V1",
		"claims": []map[string]any{
			{
				"claim_id":    "C0001",
				"output_path": "out.md",
				"citations": []map[string]any{
					{
						"citation_index": 0,
						"artifact_id":    "a_1",
						"locator": map[string]any{
							"type":       "TEXT_LINE_RANGE_V1",
							"start_line": 1,
							"end_line":   1,
						},
					},
				},
			},
		},
	}
	claimBytes, err := json.Marshal(claimMap)
	require.NoError(t, err)
	claimPath := filepath.Join(dir, "claims.json")
	require.NoError(t, os.WriteFile(claimPath, claimBytes, 0o644))
	templatesPath := filepath.Join(dir, "templates.json")
	require.NoError(t, os.WriteFile(templatesPath, []byte(`{"templates":[]}`), 0o644))

	doc := map[string]any{
		"policy_mode":         "Strict",
		"network_mode":        "OFFLINE",
		"proof_level":         "OFFLINE_STRICT",
		"determinism_enabled": true,
		"export_profile": map[string]any{
			"inputs":              "HASH_ONLY",
			"determinism_enabled": true,
		},
		"pinning_floor": "VERSION_PINNED",
		"actor":         "user",
		"gates": []map[string]any{
			{"id": "g1", "severity": "BLOCKER"},
		},
		"gate_concurrency": 1,
		"input_artifacts": map[string]any{
			"a_1": map[string]any{
				"artifact_id":    "a_1",
				"sha256":         "a0b1c2",
				"bytes":          10,
				"content_type":   "text/plain",
				"classification": "Internal",
				"logical_role":   "INPUT",
			},
		},
		"claim_map_file": "claims.json",
		"templates_used_file": "templates.json",
		"model_usages": []map[string]any{
			{"adapter_id": "ad_1", "adapter_version": "1.2.3", "model_id": "m_1"},
		},
		"pack_id":                          "pack1",
		"deliverables_dir":                 "deliverables",
		"manifest_inputs_fingerprint_hex":  "66697865642d66696e676572",
	}
	docBytes, err := json.Marshal(doc)
	require.NoError(t, err)
	reqPath := filepath.Join(dir, "request.json")
	require.NoError(t, os.WriteFile(reqPath, docBytes, 0o644))
	return reqPath
}

func TestRun_ExportValidateAndAuditVerify_RoundTrip(t *testing.T) {
	vaultDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(vaultDir, "govcore.yaml"), []byte("vault_id: v_cli\n"), 0o644))

	reqPath := writeRequestFixture(t, vaultDir)
	bundlePath := filepath.Join(vaultDir, "bundle.zip")

	var stdout, stderr bytes.Buffer
	code := Run([]string{"govcorectl", "run", "export", "--vault", vaultDir, "--request", reqPath, "--out", bundlePath}, &stdout, &stderr)
	require.Equal(t, 0, code, "stderr: %s\nstdout: %s", stderr.String(), stdout.String())
	assert.FileExists(t, bundlePath)

	stdout.Reset()
	stderr.Reset()
	code = Run([]string{"govcorectl", "bundle", "validate", "--bundle", bundlePath}, &stdout, &stderr)
	assert.Equal(t, 0, code, "stderr: %s\nstdout: %s", stderr.String(), stdout.String())

	stdout.Reset()
	stderr.Reset()
	code = Run([]string{"govcorectl", "audit", "verify", "--vault", vaultDir}, &stdout, &stderr)
	assert.Equal(t, 0, code, "stderr: %s\nstdout: %s", stderr.String(), stdout.String())
	assert.Contains(t, stdout.String(), "chain_verified=true")
}

func TestRun_UnknownCommandReturnsExitCodeTwo(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"govcorectl", "bogus"}, &stdout, &stderr)
	assert.Equal(t, 2, code)
}

func TestRun_NoArgsPrintsUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"govcorectl"}, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stdout.String(), "Usage")
}

func TestEgressCheckCmd_OfflineModeBlocks(t *testing.T) {
	vaultDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(vaultDir, "govcore.yaml"), []byte("vault_id: v_cli2\nnetwork_mode: OFFLINE\n"), 0o644))

	var stdout, stderr bytes.Buffer
	code := Run([]string{"govcorectl", "egress", "check", "--vault", vaultDir, "--host", "api.example.com"}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout.String(), "allowed=false")
}
