package run_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govcore/govcore/pkg/audit"
	"github.com/govcore/govcore/pkg/evalrunner"
	"github.com/govcore/govcore/pkg/policy"
	"github.com/govcore/govcore/pkg/run"
	"github.com/govcore/govcore/pkg/types"
)

func newTestManager(t *testing.T) (*run.Manager, *audit.Log) {
	t.Helper()
	log, err := audit.Open(filepath.Join(t.TempDir(), "audit_log.ndjson"), "v_1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return run.NewManager(log, policy.NewEngine(nil)), log
}

func passingGates() []evalrunner.Gate {
	return []evalrunner.Gate{
		{ID: "g1", Severity: types.SeverityBlocker, Run: func(ctx context.Context) (types.GateResultStatus, string, error) {
			return types.GatePass, "", nil
		}},
	}
}

func strictSuccessRequest() run.ExportRequest {
	line1 := 1
	return run.ExportRequest{
		VaultID:            "v_1",
		PolicyMode:         types.PolicyStrict,
		NetworkMode:        types.NetworkOffline,
		ProofLevel:         types.ProofOfflineStrict,
		DeterminismEnabled: true,
		ExportProfile:      types.ExportProfile{Inputs: types.InputsHashOnly, DeterminismEnabled: true},
		Actor:              types.ActorUser,
		Gates:              passingGates(),
		GateConcurrency:    1,
		InputArtifacts: map[string]types.Artifact{
			"a_1": {
				ArtifactID:     "a_1",
				SHA256:         "a0b1c2",
				Bytes:          10,
				ContentType:    "text/plain",
				Classification: types.ClassificationInternal,
				LogicalRole:    types.RoleInput,
			},
		},
		ClaimMap: &types.ClaimCitationMap{
			SchemaVersion: "LOCATOR_SCHEMA_V1",
			Claims: []types.Claim{
				{
					ClaimID:    "C0001",
					OutputPath: "out.md",
					Citations: []types.Citation{
						{
							CitationIndex: 0,
							ArtifactID:    "a_1",
							Locator: types.Locator{
								Type:      types.LocatorTextLineRangeV1,
								StartLine: &line1,
								EndLine:   &line1,
							},
						},
					},
				},
			},
		},
		ModelUsages: []types.ModelUsage{
			{AdapterID: "ad_1", AdapterVersion: "1.2.3", ModelID: "m_1"},
		},
		PackID: "pack1",
		Deliverables: map[string][]byte{
			"out.md": []byte("<!-- CLAIM:C0001 -->\nA cited sentence.\n"),
		},
		TemplatesUsed:             []byte(`{"templates":[]}`),
		ManifestInputsFingerprint: []byte("fixed-fingerprint-for-determinism"),
	}
}

func TestExport_StrictSuccess(t *testing.T) {
	mgr, _ := newTestManager(t)
	result, err := mgr.Export(context.Background(), strictSuccessRequest())
	require.NoError(t, err)
	assert.Equal(t, types.StateCompleted, result.State)
	assert.NotEmpty(t, result.BundleZip)
	assert.NotEmpty(t, result.BundleSHA256)
}

func TestExport_StrictBlockedOnMissingCitations(t *testing.T) {
	mgr, _ := newTestManager(t)
	req := strictSuccessRequest()
	req.ClaimMap = &types.ClaimCitationMap{SchemaVersion: "LOCATOR_SCHEMA_V1"}

	result, err := mgr.Export(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, types.StateFailed, result.State)
	assert.Equal(t, types.BlockMissingCitations, result.BlockReason)
	assert.Empty(t, result.BundleZip)
}

func TestExport_DeterminismProducesIdenticalHashAndRunID(t *testing.T) {
	mgr1, _ := newTestManager(t)
	mgr2, _ := newTestManager(t)

	r1, err := mgr1.Export(context.Background(), strictSuccessRequest())
	require.NoError(t, err)
	r2, err := mgr2.Export(context.Background(), strictSuccessRequest())
	require.NoError(t, err)

	assert.Equal(t, r1.RunID, r2.RunID)
	assert.Equal(t, r1.BundleSHA256, r2.BundleSHA256)
}

func TestExport_BlockerGateFailureBlocksEval(t *testing.T) {
	mgr, _ := newTestManager(t)
	req := strictSuccessRequest()
	req.Gates = []evalrunner.Gate{
		{ID: "g1", Severity: types.SeverityBlocker, Run: func(ctx context.Context) (types.GateResultStatus, string, error) {
			return types.GateFail, "missing thing", nil
		}},
	}

	result, err := mgr.Export(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, types.StateFailed, result.State)
	assert.Equal(t, types.BlockEvalFailed, result.BlockReason)
	assert.Contains(t, result.FailingGates, "g1")
}

func TestExport_AuditChainVerifiesAfterRun(t *testing.T) {
	mgr, log := newTestManager(t)
	_, err := mgr.Export(context.Background(), strictSuccessRequest())
	require.NoError(t, err)

	events, err := log.ReadAll()
	require.NoError(t, err)
	badIndex, err := audit.VerifyChain(events)
	assert.NoError(t, err)
	assert.Equal(t, -1, badIndex)
}
