// Package evalrunner implements EvalRunner: a registry of gates executed
// with bounded concurrency, producing a stable-ordered eval_report.
//
// The gate/result record shape is grounded on core/pkg/pdp/pdp.go's
// DecisionRequest/DecisionResponse pairing; concurrency is bounded with
// golang.org/x/sync/errgroup since gates are independent, I/O-bound
// checks that a sequential PDP evaluation never needed to parallelize.
package evalrunner

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/govcore/govcore/pkg/types"
)

// Gate is one registered evaluation check.
type Gate struct {
	ID       string
	Severity types.GateSeverity
	Run      func(ctx context.Context) (types.GateResultStatus, string, error)
}

// Runner executes a fixed registry of gates.
type Runner struct {
	gates       []Gate
	concurrency int
}

// New builds a Runner. concurrency bounds how many gates run at once;
// values <= 0 default to 4.
func New(gates []Gate, concurrency int) *Runner {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Runner{gates: gates, concurrency: concurrency}
}

// Run executes every registered gate, at most r.concurrency at a time,
// and returns a report whose gates are sorted by gate_id. overall_status
// is "FAIL" if any BLOCKER-severity gate reports FAIL, else "PASS".
func (r *Runner) Run(ctx context.Context) (*types.EvalReport, error) {
	results := make([]types.GateResult, len(r.gates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, gate := range r.gates {
		i, gate := i, gate
		g.Go(func() error {
			status, message, err := gate.Run(gctx)
			if err != nil {
				results[i] = types.GateResult{
					GateID:   gate.ID,
					Severity: gate.Severity,
					Status:   types.GateFail,
					Message:  fmt.Sprintf("gate error: %v", err),
				}
				return nil
			}
			results[i] = types.GateResult{
				GateID:   gate.ID,
				Severity: gate.Severity,
				Status:   status,
				Message:  message,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("evalrunner: %w", err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].GateID < results[j].GateID })

	overall := "PASS"
	for _, res := range results {
		if res.Severity == types.SeverityBlocker && res.Status == types.GateFail {
			overall = "FAIL"
			break
		}
	}

	return &types.EvalReport{Gates: results, OverallStatus: overall}, nil
}
