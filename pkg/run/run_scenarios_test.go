package run_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govcore/govcore/pkg/audit"
	"github.com/govcore/govcore/pkg/types"
)

// Scenario 3: a Restricted/PII input is cited but never redacted under
// Strict policy. Export must block with MISSING_REDACTIONS, not merely
// warn, and must produce no bundle.
func TestScenario3_RestrictedInputWithoutRedactionBlocks(t *testing.T) {
	mgr, _ := newTestManager(t)
	req := strictSuccessRequest()
	req.InputArtifacts["a_1"] = types.Artifact{
		ArtifactID:     "a_1",
		SHA256:         "a0b1c2",
		Bytes:          10,
		ContentType:    "text/plain",
		Classification: types.ClassificationRestricted,
		Tags:           []types.Tag{types.TagPII},
		LogicalRole:    types.RoleInput,
	}
	req.RedactionMap = nil

	result, err := mgr.Export(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, types.StateFailed, result.State)
	assert.Equal(t, types.BlockMissingRedactions, result.BlockReason)
	assert.Empty(t, result.BundleZip)
}

// Scenario 5: flipping one byte in a produced audit_log.ndjson must make
// independent chain verification fail at the first disturbed event,
// rather than silently accepting the tampered chain.
func TestScenario5_ChainTamperDetectedAtFirstBadEvent(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit_log.ndjson")
	log, err := audit.Open(logPath, "v_tamper")
	require.NoError(t, err)

	_, err = log.Append(types.EventRunCreated, "run-1", types.ActorSystem, nil)
	require.NoError(t, err)
	_, err = log.Append(types.EventRunStateChange, "run-1", types.ActorSystem, map[string]any{"to": "EVALUATING"})
	require.NoError(t, err)
	_, err = log.Append(types.EventExportCompleted, "run-1", types.ActorSystem, nil)
	require.NoError(t, err)
	require.NoError(t, log.Close())

	badIndex, err := audit.VerifyFile(logPath)
	require.NoError(t, err)
	require.Equal(t, -1, badIndex, "chain must verify cleanly before tampering")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	// Swap one character inside the first event's vault_id value, keeping
	// the line valid JSON of the same length so the failure is a pure
	// event_hash mismatch, not a parse error.
	tampered := strings.Replace(string(data), `"vault_id":"v_tamper"`, `"vault_id":"x_tamper"`, 1)
	require.NotEqual(t, string(data), tampered, "expected vault_id field to be present and replaced")
	require.NoError(t, os.WriteFile(logPath, []byte(tampered), 0o644))

	badIndex, err = audit.VerifyFile(logPath)
	require.Error(t, err)
	assert.Equal(t, 0, badIndex)
}

// Scenario 6 (offline egress block) is covered end to end by
// TestRequest_OfflineModeAlwaysBlocks in pkg/egress, since it exercises
// the gate directly rather than through RunManager.
