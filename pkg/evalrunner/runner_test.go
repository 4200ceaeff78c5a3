package evalrunner_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govcore/govcore/pkg/evalrunner"
	"github.com/govcore/govcore/pkg/types"
)

func TestRun_SortsGatesByID(t *testing.T) {
	gates := []evalrunner.Gate{
		{ID: "z_gate", Severity: types.SeverityMinor, Run: func(ctx context.Context) (types.GateResultStatus, string, error) {
			return types.GatePass, "", nil
		}},
		{ID: "a_gate", Severity: types.SeverityMinor, Run: func(ctx context.Context) (types.GateResultStatus, string, error) {
			return types.GatePass, "", nil
		}},
	}
	r := evalrunner.New(gates, 2)
	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Gates, 2)
	assert.Equal(t, "a_gate", report.Gates[0].GateID)
	assert.Equal(t, "z_gate", report.Gates[1].GateID)
}

func TestRun_OverallFailsOnBlockerFailure(t *testing.T) {
	gates := []evalrunner.Gate{
		{ID: "g1", Severity: types.SeverityBlocker, Run: func(ctx context.Context) (types.GateResultStatus, string, error) {
			return types.GateFail, "missing citation", nil
		}},
		{ID: "g2", Severity: types.SeverityMinor, Run: func(ctx context.Context) (types.GateResultStatus, string, error) {
			return types.GatePass, "", nil
		}},
	}
	r := evalrunner.New(gates, 2)
	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "FAIL", report.OverallStatus)
}

func TestRun_MinorFailureDoesNotFailOverall(t *testing.T) {
	gates := []evalrunner.Gate{
		{ID: "g1", Severity: types.SeverityMinor, Run: func(ctx context.Context) (types.GateResultStatus, string, error) {
			return types.GateFail, "cosmetic", nil
		}},
	}
	r := evalrunner.New(gates, 1)
	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "PASS", report.OverallStatus)
}

func TestRun_GateErrorBecomesFailResult(t *testing.T) {
	gates := []evalrunner.Gate{
		{ID: "g1", Severity: types.SeverityBlocker, Run: func(ctx context.Context) (types.GateResultStatus, string, error) {
			return "", "", errors.New("boom")
		}},
	}
	r := evalrunner.New(gates, 1)
	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.GateFail, report.Gates[0].Status)
	assert.Equal(t, "FAIL", report.OverallStatus)
}
