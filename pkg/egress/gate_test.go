package egress_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/govcore/govcore/pkg/audit"
	"github.com/govcore/govcore/pkg/egress"
	"github.com/govcore/govcore/pkg/types"
)

func newTestLog(t *testing.T) *audit.Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit_log.ndjson")
	l, err := audit.Open(path, "vault-1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestCanonicalize_NormalizesDefaultPort(t *testing.T) {
	d, err := egress.Canonicalize("https://Example.com/api/v1")
	require.NoError(t, err)
	assert.Equal(t, "example.com", d.Host)
	assert.Equal(t, 443, d.Port)
	assert.Equal(t, "https", d.Scheme)
}

func TestCanonicalize_RejectsNonHTTPScheme(t *testing.T) {
	_, err := egress.Canonicalize("ftp://example.com/")
	assert.Error(t, err)
}

func TestCanonicalize_RejectsPathTraversal(t *testing.T) {
	_, err := egress.Canonicalize("https://example.com/api/../secret")
	assert.Error(t, err)
}

func TestRequest_OfflineModeAlwaysBlocks(t *testing.T) {
	l := newTestLog(t)
	g := egress.New(types.NetworkOffline, types.ProofOfflineStrict, nil, rate.NewLimiter(rate.Inf, 1), l)

	dec, err := g.Request(context.Background(), "run-1", "https://example.com:443", "model_call", "")
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, egress.BlockOfflineMode, dec.BlockReason)
}

func TestRequest_AllowlistedDestinationAllowed(t *testing.T) {
	l := newTestLog(t)
	allowlist := []egress.AllowlistEntry{{Scheme: "https", Host: "example.com", Port: 443}}
	g := egress.New(types.NetworkOnlineAllowlisted, types.ProofOnlineAllowlistCoreOnly, allowlist, rate.NewLimiter(rate.Inf, 1), l)

	dec, err := g.Request(context.Background(), "run-1", "https://example.com", "model_call", "pack-1")
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.NotEmpty(t, dec.RuleID)
}

func TestRequest_NotAllowlistedBlocks(t *testing.T) {
	l := newTestLog(t)
	g := egress.New(types.NetworkOnlineAllowlisted, types.ProofOnlineAllowlistCoreOnly, nil, rate.NewLimiter(rate.Inf, 1), l)

	dec, err := g.Request(context.Background(), "run-1", "https://unlisted.example.com", "model_call", "")
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, egress.BlockNotAllowlisted, dec.BlockReason)
}

func TestEffectiveProofLevel_NeverOverstatesWithoutValidAssertion(t *testing.T) {
	l := newTestLog(t)
	g := egress.New(types.NetworkOnlineAllowlisted, types.ProofOnlineAllowlistWithOSFirewall, nil, rate.NewLimiter(rate.Inf, 1), l)

	assert.Equal(t, types.ProofOnlineAllowlistCoreOnly, g.EffectiveProofLevel(false))
	assert.Equal(t, types.ProofOnlineAllowlistWithOSFirewall, g.EffectiveProofLevel(true))
}

func TestEffectiveProofLevel_OfflineAlwaysStrict(t *testing.T) {
	l := newTestLog(t)
	g := egress.New(types.NetworkOffline, types.ProofOfflineStrict, nil, rate.NewLimiter(rate.Inf, 1), l)
	assert.Equal(t, types.ProofOfflineStrict, g.EffectiveProofLevel(true))
}
