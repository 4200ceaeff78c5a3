package policy_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govcore/govcore/pkg/policy"
)

func writeBundle(t *testing.T, dir, name string, b policy.Bundle) string {
	t.Helper()
	path := filepath.Join(dir, name)
	data, err := json.Marshal(b)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLoadFile_CompilesAndOrdersByPriority(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "bundle.json", policy.Bundle{
		Name: "b1",
		Rules: []policy.Rule{
			{ID: "low", Expression: "has_citations == false", Action: policy.ActionWarn, Priority: 1, Enabled: true},
			{ID: "high", Expression: "is_sensitive == true", Action: policy.ActionBlock, Priority: 10, Enabled: true},
			{ID: "disabled", Expression: "true", Action: policy.ActionBlock, Priority: 100, Enabled: false},
		},
	})

	l, err := policy.NewLoader(dir)
	require.NoError(t, err)
	require.NoError(t, l.LoadAll())

	rules := l.ActiveRules()
	require.Len(t, rules, 2)
	assert.Equal(t, "high", rules[0].ID)
	assert.Equal(t, "low", rules[1].ID)
}

func TestLoadFile_RejectsUncompilableExpression(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "bundle.json", policy.Bundle{
		Name: "b1",
		Rules: []policy.Rule{
			{ID: "broken", Expression: "this is not )( valid cel", Action: policy.ActionBlock, Priority: 1, Enabled: true},
		},
	})

	l, err := policy.NewLoader(dir)
	require.NoError(t, err)
	assert.Error(t, l.LoadAll())
}

func TestLoadFile_AssignsContentAddressedHash(t *testing.T) {
	dir := t.TempDir()
	path := writeBundle(t, dir, "bundle.json", policy.Bundle{
		Name:  "b1",
		Rules: []policy.Rule{{ID: "r1", Expression: "true", Action: policy.ActionLog, Priority: 0, Enabled: true}},
	})

	l, err := policy.NewLoader(dir)
	require.NoError(t, err)
	require.NoError(t, l.LoadFile(path))

	b, ok := l.Bundle("b1")
	require.True(t, ok)
	assert.Len(t, b.Hash, 64)
}
