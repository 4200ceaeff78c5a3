// Package run implements RunManager: the 16-step pipeline that is the
// only path from ingested inputs to a published Evidence Bundle. It
// coordinates every other component but owns none of their internal
// state — it only calls their contracts.
//
// Grounded on core/cmd/helm's dispatch discipline (explicit result
// types, no panics across step boundaries) and core/pkg/pdp/pdp.go's
// request/response record shape.
package run

import (
	"context"
	cryptorand "crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/govcore/govcore/pkg/audit"
	"github.com/govcore/govcore/pkg/bundle"
	"github.com/govcore/govcore/pkg/canonicalize"
	"github.com/govcore/govcore/pkg/citation"
	"github.com/govcore/govcore/pkg/egress"
	"github.com/govcore/govcore/pkg/evalrunner"
	"github.com/govcore/govcore/pkg/govcoreerr"
	"github.com/govcore/govcore/pkg/obslog"
	"github.com/govcore/govcore/pkg/pinning"
	"github.com/govcore/govcore/pkg/policy"
	"github.com/govcore/govcore/pkg/redaction"
	"github.com/govcore/govcore/pkg/types"
)

var tracer = otel.Tracer("github.com/govcore/govcore/pkg/run")

// ExportRequest is everything one export attempt needs.
type ExportRequest struct {
	VaultID            string
	PolicyMode         types.PolicyMode
	NetworkMode        types.NetworkMode
	ProofLevel         types.ProofLevel
	DeterminismEnabled bool
	ExportProfile      types.ExportProfile
	PinningFloor       types.PinningLevel
	Targets            []string
	Actor              types.Actor

	Gates       []evalrunner.Gate
	GateConcurrency int

	InputArtifacts map[string]types.Artifact // artifact_id -> metadata
	InputBytes     map[string][]byte          // artifact_id -> bytes, only read when INCLUDE_INPUT_BYTES

	ClaimMap      *types.ClaimCitationMap
	RedactionMap  *types.RedactionMap
	ModelUsages   []types.ModelUsage

	PackID        string
	Deliverables  map[string][]byte // bundle-relative path under deliverables/ -> bytes
	TemplatesUsed []byte

	// OSFirewallAssertionToken and OSFirewallAssertionKey carry a signed
	// OS-firewall-profile assertion for runs requesting
	// ONLINE_ALLOWLIST_WITH_OS_FIREWALL_PROFILE. Both empty means no
	// assertion was presented.
	OSFirewallAssertionToken string
	OSFirewallAssertionKey   any

	ManifestInputsFingerprint []byte // used to derive a deterministic run_id
}

// ExportResult is the outcome of one pipeline run.
type ExportResult struct {
	RunID        string
	State        types.RunState
	BlockReason  types.BlockReason
	FailingGates []string
	BundleZip    []byte
	BundleSHA256 string
}

// Manager coordinates the 16-step pipeline over one vault's components.
type Manager struct {
	auditLog   *audit.Log
	policy     *policy.Engine
	egressGate *egress.Gate
	logger     *slog.Logger
}

// NewManager constructs a Manager over an already-open AuditLog and
// configured PolicyEngine.
func NewManager(auditLog *audit.Log, policyEngine *policy.Engine) *Manager {
	return &Manager{auditLog: auditLog, policy: policyEngine, logger: obslog.New("run", nil)}
}

// SetLogger overrides the manager's default stderr JSON logger.
func (m *Manager) SetLogger(l *slog.Logger) {
	if l != nil {
		m.logger = l
	}
}

// SetEgressGate wires the vault's EgressGate into the manager so an
// export requesting ONLINE_ALLOWLIST_WITH_OS_FIREWALL_PROFILE can be
// checked against what the gate can actually substantiate. A manager
// with no gate wired can never confirm OS-firewall proof and treats
// every such request as unverified.
func (m *Manager) SetEgressGate(g *egress.Gate) {
	m.egressGate = g
}

// Export runs the 16-step export pipeline. It never panics across a
// step boundary: every failure path returns an ExportResult naming a
// terminal state and, when applicable, a BlockReason. ctx is checked at
// every pre-validation step boundary; a cancelled ctx transitions the
// run to CANCELLED instead of continuing.
func (m *Manager) Export(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	ctx, span := tracer.Start(ctx, "run.Export")
	defer span.End()

	runID := deriveRunID(req)
	result := &ExportResult{RunID: runID, State: types.StateCreated}

	genAtMs := time.Now().UnixMilli()
	if req.DeterminismEnabled && len(req.ManifestInputsFingerprint) > 0 {
		fixed := fixedClockFromFingerprint(req.ManifestInputsFingerprint)
		genAtMs = fixed.UnixMilli()
		m.auditLog.SetClock(func() time.Time { return fixed })
		defer m.auditLog.SetClock(nil)
	}

	if _, err := m.auditLog.Append(types.EventRunCreated, runID, req.Actor, map[string]any{
		"policy_mode": req.PolicyMode,
	}); err != nil {
		return nil, fmt.Errorf("run: record RUN_CREATED: %w", err)
	}
	m.logger.Info("export started", "run_id", runID, "vault_id", req.VaultID, "policy_mode", req.PolicyMode)

	if cancelled, err := m.checkCancelled(ctx, runID, req.Actor); err != nil || cancelled != nil {
		return cancelled, err
	}

	// Step 1: EXPORT_REQUESTED.
	if _, err := m.auditLog.Append(types.EventExportRequested, runID, req.Actor, map[string]any{
		"targets":     req.Targets,
		"policy_mode": req.PolicyMode,
	}); err != nil {
		return nil, fmt.Errorf("run: record EXPORT_REQUESTED: %w", err)
	}

	if cancelled, err := m.checkCancelled(ctx, runID, req.Actor); err != nil || cancelled != nil {
		return cancelled, err
	}

	// Step 2: state := EVALUATING.
	result.State = types.StateEvaluating
	if err := m.recordStateChange(runID, req.Actor, types.StateEvaluating); err != nil {
		return nil, err
	}

	if cancelled, err := m.checkCancelled(ctx, runID, req.Actor); err != nil || cancelled != nil {
		return cancelled, err
	}

	// Step 3: run gates.
	evalReport, err := m.runEval(ctx, runID, req)
	if err != nil {
		return nil, err
	}

	if cancelled, err := m.checkCancelled(ctx, runID, req.Actor); err != nil || cancelled != nil {
		return cancelled, err
	}

	// Step 4/5: policy + determinism checks.
	blockReason, failingGates := m.checkBlockers(ctx, runID, req, evalReport)

	// Step 6: stop on any failed check.
	if blockReason != "" {
		if _, err := m.auditLog.Append(types.EventExportBlocked, runID, req.Actor, map[string]any{
			"block_reason":  blockReason,
			"failing_gates": failingGates,
		}); err != nil {
			return nil, fmt.Errorf("run: record EXPORT_BLOCKED: %w", err)
		}
		m.logger.Warn("export blocked", "run_id", runID, "block_reason", blockReason, "failing_gates", failingGates)
		result.State = types.StateFailed
		result.BlockReason = blockReason
		result.FailingGates = failingGates
		return result, nil
	}

	if cancelled, err := m.checkCancelled(ctx, runID, req.Actor); err != nil || cancelled != nil {
		return cancelled, err
	}

	// Step 7: state := EXPORTING.
	result.State = types.StateExporting
	if err := m.recordStateChange(runID, req.Actor, types.StateExporting); err != nil {
		return nil, err
	}

	// Step 8: BUNDLE_GENERATION_STARTED.
	if _, err := m.auditLog.Append(types.EventBundleGenerationStarted, runID, req.Actor, nil); err != nil {
		return nil, fmt.Errorf("run: record BUNDLE_GENERATION_STARTED: %w", err)
	}

	if cancelled, err := m.checkCancelled(ctx, runID, req.Actor); err != nil || cancelled != nil {
		return cancelled, err
	}

	// Step 9/10: build the Annex-A layout.
	buildInput, err := m.buildBuildInput(runID, req, evalReport, genAtMs)
	if err != nil {
		return nil, err
	}
	// The builder needs the full audit history including the events
	// just appended, so it reads it back after staging starts.
	events, err := m.auditLog.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("run: read audit log for bundle: %w", err)
	}
	buildInput.AuditEvents = events

	if cancelled, err := m.checkCancelled(ctx, runID, req.Actor); err != nil || cancelled != nil {
		return cancelled, err
	}

	zipBytes, err := bundle.Build(buildInput)
	if err != nil {
		if _, aerr := m.auditLog.Append(types.EventExportFailed, runID, req.Actor, map[string]any{"error": err.Error()}); aerr != nil {
			return nil, fmt.Errorf("run: record EXPORT_FAILED after build error: %w (build error: %v)", aerr, err)
		}
		result.State = types.StateFailed
		return result, nil
	}
	if _, err := m.auditLog.Append(types.EventBundleGenerationCompleted, runID, req.Actor, nil); err != nil {
		return nil, fmt.Errorf("run: record BUNDLE_GENERATION_COMPLETED: %w", err)
	}

	if cancelled, err := m.checkCancelled(ctx, runID, req.Actor); err != nil || cancelled != nil {
		// zipBytes is discarded along with result: nothing staged past
		// this point is referenced by the returned CANCELLED result.
		return cancelled, err
	}

	// Step 11: BUNDLE_VALIDATION_STARTED.
	if _, err := m.auditLog.Append(types.EventBundleValidationStarted, runID, req.Actor, nil); err != nil {
		return nil, fmt.Errorf("run: record BUNDLE_VALIDATION_STARTED: %w", err)
	}

	// Step 12: run BundleValidator.
	includeBytes := req.ExportProfile.Inputs == types.InputsIncludeBytes
	validation, err := bundle.ValidateZip(zipBytes, includeBytes)
	if err != nil {
		return nil, fmt.Errorf("run: validate bundle: %w", err)
	}

	// Step 13: BUNDLE_VALIDATION_RESULT.
	if _, err := m.auditLog.Append(types.EventBundleValidationResult, runID, req.Actor, map[string]any{
		"overall_pass": validation.OverallPass,
	}); err != nil {
		return nil, fmt.Errorf("run: record BUNDLE_VALIDATION_RESULT: %w", err)
	}

	// Step 14: stop on FAIL.
	if !validation.OverallPass {
		if _, err := m.auditLog.Append(types.EventExportFailed, runID, req.Actor, map[string]any{
			"block_reason": types.BlockBundleValidationFailed,
		}); err != nil {
			return nil, fmt.Errorf("run: record EXPORT_FAILED: %w", err)
		}
		result.State = types.StateFailed
		result.BlockReason = types.BlockBundleValidationFailed
		return result, nil
	}

	// Step 15: package (already packaged by Build); record completion + hash.
	sum := sha256.Sum256(zipBytes)
	bundleHash := hex.EncodeToString(sum[:])
	if _, err := m.auditLog.Append(types.EventExportCompleted, runID, req.Actor, map[string]any{
		"bundle_sha256": bundleHash,
	}); err != nil {
		return nil, fmt.Errorf("run: record EXPORT_COMPLETED: %w", err)
	}
	m.logger.Info("export completed", "run_id", runID, "bundle_sha256", bundleHash)

	// Step 16: state := COMPLETED.
	result.State = types.StateCompleted
	result.BundleZip = zipBytes
	result.BundleSHA256 = bundleHash
	return result, nil
}

// checkCancelled reports whether ctx has already been cancelled and, if
// so, records EXPORT_CANCELLED and returns a terminal CANCELLED result.
// Every pre-validation step boundary in Export calls this before doing
// further work; once BUNDLE_VALIDATION_STARTED fires, the pipeline's
// PASS/FAIL decision is no longer interrupted by cancellation.
func (m *Manager) checkCancelled(ctx context.Context, runID string, actor types.Actor) (*ExportResult, error) {
	cancelErr := ctx.Err()
	if cancelErr == nil {
		return nil, nil
	}
	if _, err := m.auditLog.Append(types.EventExportCancelled, runID, actor, map[string]any{
		"reason": cancelErr.Error(),
	}); err != nil {
		return nil, fmt.Errorf("run: record EXPORT_CANCELLED: %w", err)
	}
	m.logger.Warn("export cancelled", "run_id", runID, "reason", cancelErr.Error())
	return &ExportResult{RunID: runID, State: types.StateCancelled}, nil
}

func (m *Manager) recordStateChange(runID string, actor types.Actor, state types.RunState) error {
	if _, err := m.auditLog.Append(types.EventRunStateChange, runID, actor, map[string]any{"state": state}); err != nil {
		return fmt.Errorf("run: record RUN_STATE_CHANGED(%s): %w", state, err)
	}
	return nil
}

func (m *Manager) runEval(ctx context.Context, runID string, req ExportRequest) (*types.EvalReport, error) {
	spanCtx, span := tracer.Start(ctx, "run.eval", trace.WithAttributes())
	defer span.End()

	if _, err := m.auditLog.Append(types.EventEvalStarted, runID, req.Actor, nil); err != nil {
		return nil, fmt.Errorf("run: record EVAL_STARTED: %w", err)
	}

	runner := evalrunner.New(req.Gates, req.GateConcurrency)
	report, err := runner.Run(spanCtx)
	if err != nil {
		return nil, fmt.Errorf("run: evaluate gates: %w", err)
	}

	for _, g := range report.Gates {
		if _, err := m.auditLog.Append(types.EventEvalGateResult, runID, req.Actor, map[string]any{
			"gate_id":  g.GateID,
			"severity": g.Severity,
			"status":   g.Status,
			"message":  g.Message,
		}); err != nil {
			return nil, fmt.Errorf("run: record EVAL_GATE_RESULT(%s): %w", g.GateID, err)
		}
	}

	if _, err := m.auditLog.Append(types.EventEvalCompleted, runID, req.Actor, map[string]any{
		"overall_status": report.OverallStatus,
	}); err != nil {
		return nil, fmt.Errorf("run: record EVAL_COMPLETED: %w", err)
	}
	return report, nil
}

// checkBlockers runs step 4/5's policy and determinism checks and
// returns the first applicable block reason, or "" if the run may
// proceed to export.
func (m *Manager) checkBlockers(ctx context.Context, runID string, req ExportRequest, evalReport *types.EvalReport) (types.BlockReason, []string) {
	var failingGates []string
	blockerFailed := false
	for _, g := range evalReport.Gates {
		if g.Severity == types.SeverityBlocker && g.Status == types.GateFail {
			blockerFailed = true
			failingGates = append(failingGates, g.GateID)
		}
	}
	if blockerFailed {
		return types.BlockEvalFailed, failingGates
	}

	hasCitations := req.ClaimMap != nil && len(req.ClaimMap.Claims) > 0
	hasRedactions := req.RedactionMap != nil && len(req.RedactionMap.Artifacts) > 0
	isSensitive := anySensitiveCited(req)

	pinningLevel := types.PinningNameOnly
	for _, usage := range req.ModelUsages {
		level := pinning.Classify(usage)
		if rank(level) > rank(pinningLevel) {
			pinningLevel = level
		}
	}

	decision, err := m.policy.Evaluate(ctx, policy.DecisionRequest{
		PolicyMode:         req.PolicyMode,
		PinningLevel:       pinningLevel,
		HasCitations:       hasCitations,
		HasRedactions:      hasRedactions,
		IsSensitive:        isSensitive,
		BlockerGatesPassed: !blockerFailed,
	})
	if err != nil {
		return types.BlockEvalFailed, failingGates
	}
	if !decision.Allow {
		switch decision.ReasonCode {
		case "CITATIONS_REQUIRED":
			return types.BlockMissingCitations, failingGates
		case "REDACTION_REQUIRED":
			return types.BlockMissingRedactions, failingGates
		case "PINNING_INSUFFICIENT":
			return types.BlockInsufficientPinning, failingGates
		default:
			return types.BlockEvalFailed, failingGates
		}
	}

	if policy.CitationsRequired(req.PolicyMode) && req.ClaimMap != nil {
		for _, data := range req.Deliverables {
			result := citation.Validate(string(data), req.ClaimMap)
			if !result.Pass {
				return types.BlockMissingCitations, failingGates
			}
		}
	}

	if req.RedactionMap != nil {
		claims := []types.Claim{}
		if req.ClaimMap != nil {
			claims = req.ClaimMap.Claims
		}
		redactResult := redaction.Validate(claims, req.InputArtifacts, req.RedactionMap)
		if !redactResult.Pass && policy.RedactionRequired(req.PolicyMode, isSensitive) {
			return types.BlockMissingRedactions, failingGates
		}
	}

	if req.DeterminismEnabled && !req.ExportProfile.DeterminismEnabled {
		return types.BlockDeterminismFailed, failingGates
	}

	if req.PackID != "" && req.TemplatesUsed == nil {
		return types.BlockMissingTemplates, failingGates
	}

	if reason := m.checkProofLevel(req); reason != "" {
		return reason, failingGates
	}

	return "", failingGates
}

// checkProofLevel blocks a request claiming
// ONLINE_ALLOWLIST_WITH_OS_FIREWALL_PROFILE when the assertion it
// presented doesn't actually verify, or no assertion was presented at
// all. The gate never claims a stronger proof_level than it can
// enforce, so the pipeline must refuse to export one on its behalf.
func (m *Manager) checkProofLevel(req ExportRequest) types.BlockReason {
	if req.ProofLevel != types.ProofOnlineAllowlistWithOSFirewall {
		return ""
	}

	verified := false
	if req.OSFirewallAssertionToken != "" && req.OSFirewallAssertionKey != nil {
		if _, err := egress.VerifyOSFirewallAssertion(req.OSFirewallAssertionToken, req.VaultID, req.OSFirewallAssertionKey); err == nil {
			verified = true
		}
	}

	effective := types.ProofOnlineAllowlistCoreOnly
	if m.egressGate != nil {
		effective = m.egressGate.EffectiveProofLevel(verified)
	} else if verified {
		effective = types.ProofOnlineAllowlistWithOSFirewall
	}

	if effective != types.ProofOnlineAllowlistWithOSFirewall {
		return types.BlockOfflineProofInsufficient
	}
	return ""
}

func anySensitiveCited(req ExportRequest) bool {
	if req.ClaimMap == nil {
		return false
	}
	for _, claim := range req.ClaimMap.Claims {
		for _, c := range claim.Citations {
			if a, ok := req.InputArtifacts[c.ArtifactID]; ok && a.IsSensitive() {
				return true
			}
		}
	}
	return false
}

func rank(level types.PinningLevel) int {
	switch level {
	case types.PinningCryptoPinned:
		return 2
	case types.PinningVersionPinned:
		return 1
	default:
		return 0
	}
}

func (m *Manager) buildBuildInput(runID string, req ExportRequest, evalReport *types.EvalReport, genAtMs int64) (bundle.BuildInput, error) {
	var in bundle.BuildInput
	in.Info = bundle.Info{
		RunID:              runID,
		VaultID:            req.VaultID,
		SchemaVersion:      "BUNDLE_SCHEMA_V1",
		CanonicalizationID: "JCS_V1",
		GeneratedAtMs:      genAtMs,
	}
	in.Manifest = map[string]any{
		"run_id":      runID,
		"vault_id":    req.VaultID,
		"policy_mode": req.PolicyMode,
		"network_mode": req.NetworkMode,
		"proof_level": req.ProofLevel,
	}
	in.EvalReport = *evalReport
	in.PackID = req.PackID
	in.Deliverables = req.Deliverables
	in.TemplatesUsed = req.TemplatesUsed

	if req.ClaimMap != nil {
		encoded, err := canonicalize.Encode(req.ClaimMap)
		if err != nil {
			return in, govcoreerr.New(govcoreerr.KindInputSchema, err)
		}
		in.CitationsMap = encoded
	}
	if req.RedactionMap != nil {
		encoded, err := canonicalize.Encode(req.RedactionMap)
		if err != nil {
			return in, govcoreerr.New(govcoreerr.KindInputSchema, err)
		}
		in.RedactionsMap = encoded
	}

	artifactList := make([]types.Artifact, 0, len(req.InputArtifacts))
	var rows []bundle.ArtifactHashRow
	for id, a := range req.InputArtifacts {
		artifactList = append(artifactList, a)
		if req.ExportProfile.Inputs != types.InputsIncludeBytes {
			continue
		}
		rows = append(rows, bundle.ArtifactHashRow{
			ArtifactID:    id,
			BundleRelPath: fmt.Sprintf("inputs_snapshot/artifacts/%s/bytes", id),
			SHA256:        a.SHA256,
			Bytes:         a.Bytes,
			ContentType:   a.ContentType,
			LogicalRole:   string(a.LogicalRole),
		})
	}
	for relPath, data := range req.Deliverables {
		sum := sha256.Sum256(data)
		rows = append(rows, bundle.ArtifactHashRow{
			ArtifactID:    bundle.ExportArtifactID("exports/" + req.PackID + "/deliverables/" + relPath),
			BundleRelPath: "exports/" + req.PackID + "/deliverables/" + relPath,
			SHA256:        hex.EncodeToString(sum[:]),
			Bytes:         int64(len(data)),
			ContentType:   "application/octet-stream",
			LogicalRole:   "DELIVERABLE",
		})
	}
	in.ArtifactRows = rows

	artifactListJSON, err := bundle.MarshalJSONForSnapshot(artifactList)
	if err != nil {
		return in, fmt.Errorf("run: marshal artifact_list.json: %w", err)
	}
	in.InputsSnapshot.ArtifactList = artifactListJSON

	policySnapshotJSON, err := bundle.MarshalJSONForSnapshot(map[string]any{
		"policy_mode": req.PolicyMode,
		"determinism": map[string]any{"enabled": req.DeterminismEnabled},
	})
	if err != nil {
		return in, fmt.Errorf("run: marshal policy_snapshot.json: %w", err)
	}
	in.InputsSnapshot.PolicySnapshot = policySnapshotJSON

	networkSnapshotJSON, err := bundle.MarshalJSONForSnapshot(map[string]any{
		"network_mode": req.NetworkMode,
		"proof_level":  req.ProofLevel,
	})
	if err != nil {
		return in, fmt.Errorf("run: marshal network_snapshot.json: %w", err)
	}
	in.InputsSnapshot.NetworkSnapshot = networkSnapshotJSON

	modelSnapshotJSON, err := bundle.MarshalJSONForSnapshot(req.ModelUsages)
	if err != nil {
		return in, fmt.Errorf("run: marshal model_snapshot.json: %w", err)
	}
	in.InputsSnapshot.ModelSnapshot = modelSnapshotJSON

	if req.ExportProfile.Inputs == types.InputsIncludeBytes {
		in.InputBytes = req.InputBytes
	}

	return in, nil
}

// fixedClockFromFingerprint derives a stable instant from the manifest
// inputs fingerprint so that a determinism-enabled run's audit events,
// and therefore its audit_log.ndjson bytes, are identical across two
// independent export attempts over the same inputs.
func fixedClockFromFingerprint(fingerprint []byte) time.Time {
	sum := sha256.Sum256(fingerprint)
	seconds := int64(sum[0])<<24 | int64(sum[1])<<16 | int64(sum[2])<<8 | int64(sum[3])
	return time.Unix(seconds, 0).UTC()
}

// deriveRunID implements run_id derivation: a content
// fingerprint when determinism is enabled, otherwise a ULID.
func deriveRunID(req ExportRequest) string {
	if req.DeterminismEnabled && len(req.ManifestInputsFingerprint) > 0 {
		sum := sha256.Sum256(req.ManifestInputsFingerprint)
		return "r_" + hex.EncodeToString(sum[:])[:32]
	}
	entropy := ulid.Monotonic(cryptorand.Reader, 0)
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return "r_" + strings.ToLower(id.String())
}
