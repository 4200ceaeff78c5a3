package run_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govcore/govcore/pkg/audit"
	"github.com/govcore/govcore/pkg/types"
)

func TestExport_CancelledContextStopsBeforeExporting(t *testing.T) {
	mgr, log := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := mgr.Export(ctx, strictSuccessRequest())
	require.NoError(t, err)
	assert.Equal(t, types.StateCancelled, result.State)
	assert.Empty(t, result.BundleZip)

	events, err := log.ReadAll()
	require.NoError(t, err)

	found := false
	for _, ev := range events {
		if ev.EventType == types.EventExportCancelled {
			found = true
			assert.NotEmpty(t, ev.Details["reason"])
		}
	}
	assert.True(t, found, "expected an EXPORT_CANCELLED event: %+v", events)

	badIndex, err := audit.VerifyChain(events)
	assert.NoError(t, err)
	assert.Equal(t, -1, badIndex)
}

func TestExport_OnlineAllowlistWithOSFirewallBlocksWithoutVerifiedAssertion(t *testing.T) {
	mgr, _ := newTestManager(t)
	req := strictSuccessRequest()
	req.NetworkMode = types.NetworkOnlineAllowlisted
	req.ProofLevel = types.ProofOnlineAllowlistWithOSFirewall

	result, err := mgr.Export(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, types.StateFailed, result.State)
	assert.Equal(t, types.BlockOfflineProofInsufficient, result.BlockReason)
	assert.Empty(t, result.BundleZip)
}
