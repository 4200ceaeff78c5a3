package policy

import (
	"context"
	"fmt"

	"github.com/govcore/govcore/pkg/canonicalize"
	"github.com/govcore/govcore/pkg/govcoreerr"
	"github.com/govcore/govcore/pkg/types"
)

// DecisionRequest is the canonical structured input to a policy evaluation.
type DecisionRequest struct {
	PolicyMode         types.PolicyMode
	PinningLevel       types.PinningLevel
	HasCitations       bool
	HasRedactions      bool
	IsSensitive        bool
	BlockerGatesPassed bool
}

// DecisionResponse is the canonical output of a policy evaluation.
type DecisionResponse struct {
	Allow        bool   `json:"allow"`
	ReasonCode   string `json:"reason_code"`
	PolicyRef    string `json:"policy_ref"`
	DecisionHash string `json:"decision_hash"`
}

// Engine evaluates policy_mode predicates and, when an
// external bundle is loaded, in-process CEL rules on top of them. It is
// fail-closed: any evaluation error, or no loader configured when one is
// required, denies rather than allows.
type Engine struct {
	loader *Loader
}

// NewEngine constructs an Engine. loader may be nil — a nil loader still
// enforces the built-in policy_mode predicates, it simply has no
// external CEL rules to layer on top.
func NewEngine(loader *Loader) *Engine {
	return &Engine{loader: loader}
}

// CitationsRequired reports whether policy_mode requires citations.
// Strict requires them; Balanced recommends but does not require them;
// DraftOnly does not require them.
func CitationsRequired(mode types.PolicyMode) bool {
	return mode == types.PolicyStrict
}

// RedactionRequired reports whether a sensitive input referenced by a
// citation must be redacted under mode.
func RedactionRequired(mode types.PolicyMode, isSensitive bool) bool {
	return isSensitive && mode == types.PolicyStrict
}

// PinningAcceptable reports whether level satisfies mode's pinning floor.
func PinningAcceptable(mode types.PolicyMode, level types.PinningLevel) bool {
	switch mode {
	case types.PolicyStrict:
		return level == types.PinningCryptoPinned || level == types.PinningVersionPinned
	case types.PolicyBalanced:
		return level == types.PinningVersionPinned || level == types.PinningCryptoPinned
	case types.PolicyDraftOnly:
		return true
	default:
		return false
	}
}

// BlockersAlwaysEnforced is true for every policy_mode —
// named for readability at call sites, not because it varies.
func BlockersAlwaysEnforced(_ types.PolicyMode) bool { return true }

// Evaluate runs the built-in predicates for req.PolicyMode, then any
// active external CEL rules, in descending priority order. The first
// matching BLOCK rule denies; matching WARN and LOG rules never deny and
// are not reflected in the response. Fail-closed: a CEL evaluation error
// is returned as an error and no allow decision is made.
func (e *Engine) Evaluate(ctx context.Context, req DecisionRequest) (*DecisionResponse, error) {
	if !req.BlockerGatesPassed {
		return e.deny("BLOCKER_GATE_FAILED", req)
	}
	if CitationsRequired(req.PolicyMode) && !req.HasCitations {
		return e.deny("CITATIONS_REQUIRED", req)
	}
	if RedactionRequired(req.PolicyMode, req.IsSensitive) && !req.HasRedactions {
		return e.deny("REDACTION_REQUIRED", req)
	}
	if !PinningAcceptable(req.PolicyMode, req.PinningLevel) {
		return e.deny("PINNING_INSUFFICIENT", req)
	}

	if e.loader != nil {
		for _, rule := range e.loader.ActiveRules() {
			matched, err := evalRule(ctx, rule, req)
			if err != nil {
				return nil, govcoreerr.New(govcoreerr.KindPolicyViolation, fmt.Errorf("policy: rule %s evaluation failed (fail-closed): %w", rule.ID, err))
			}
			if matched && rule.Action == ActionBlock {
				return e.deny("RULE:"+rule.ID, req)
			}
		}
	}

	return e.allow("OK", req)
}

func evalRule(ctx context.Context, rule Rule, req DecisionRequest) (bool, error) {
	if rule.program == nil {
		return false, fmt.Errorf("rule %s has no compiled program", rule.ID)
	}
	out, _, err := rule.program.ContextEval(ctx, map[string]any{
		"policy_mode":          string(req.PolicyMode),
		"pinning_level":        string(req.PinningLevel),
		"has_citations":        req.HasCitations,
		"has_redactions":       req.HasRedactions,
		"is_sensitive":         req.IsSensitive,
		"blocker_gates_passed": req.BlockerGatesPassed,
	})
	if err != nil {
		return false, err
	}
	boolVal, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule %s did not evaluate to a boolean", rule.ID)
	}
	return boolVal, nil
}

func (e *Engine) allow(reason string, req DecisionRequest) (*DecisionResponse, error) {
	return e.finalize(true, reason, req)
}

func (e *Engine) deny(reason string, req DecisionRequest) (*DecisionResponse, error) {
	return e.finalize(false, reason, req)
}

func (e *Engine) finalize(allow bool, reason string, req DecisionRequest) (*DecisionResponse, error) {
	policyRef := "builtin"
	if e.loader != nil {
		if active := e.loader.ActiveRules(); len(active) > 0 {
			policyRef = active[0].ID
		}
	}
	resp := &DecisionResponse{Allow: allow, ReasonCode: reason, PolicyRef: policyRef}
	hash, err := canonicalize.Hash(map[string]any{
		"allow":       resp.Allow,
		"reason_code": resp.ReasonCode,
		"policy_ref":  resp.PolicyRef,
	})
	if err != nil {
		return nil, fmt.Errorf("policy: hash decision: %w", err)
	}
	resp.DecisionHash = hash
	return resp, nil
}
