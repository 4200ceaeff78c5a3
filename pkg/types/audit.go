package types

import (
	"strings"
	"time"
)

// Actor identifies who caused an audit event.
type Actor string

const (
	ActorSystem Actor = "system"
	ActorUser   Actor = "user"
)

// EventType is a member of the closed audit-event enum
// Families for the tie-break ordering are assigned in the familyPriority
// table below, not derived from name prefixes.
type EventType string

const (
	// Run lifecycle
	EventRunCreated     EventType = "RUN_CREATED"
	EventRunStateChange EventType = "RUN_STATE_CHANGED"

	// Policy/network
	EventNetworkModeChanged   EventType = "NETWORK_MODE_CHANGED"
	EventEgressRequestAllowed EventType = "EGRESS_REQUEST_ALLOWED"
	EventEgressRequestBlocked EventType = "EGRESS_REQUEST_BLOCKED"

	// Ingest
	EventArtifactIngested EventType = "ARTIFACT_INGESTED"

	// Model
	EventModelInvoked EventType = "MODEL_INVOKED"

	// Evaluation
	EventEvalStarted    EventType = "EVAL_STARTED"
	EventEvalGateResult EventType = "EVAL_GATE_RESULT"
	EventEvalCompleted  EventType = "EVAL_COMPLETED"

	// Export
	EventExportRequested EventType = "EXPORT_REQUESTED"
	EventExportBlocked   EventType = "EXPORT_BLOCKED"
	EventExportFailed    EventType = "EXPORT_FAILED"
	EventExportCancelled EventType = "EXPORT_CANCELLED"
	EventExportCompleted EventType = "EXPORT_COMPLETED"

	// Bundle
	EventBundleGenerationStarted   EventType = "BUNDLE_GENERATION_STARTED"
	EventBundleGenerationCompleted EventType = "BUNDLE_GENERATION_COMPLETED"
	EventBundleValidationStarted   EventType = "BUNDLE_VALIDATION_STARTED"
	EventBundleValidationResult    EventType = "BUNDLE_VALIDATION_RESULT"

	// Vault/crypto, deletion
	EventVaultOpened     EventType = "VAULT_OPENED"
	EventVaultClosed     EventType = "VAULT_CLOSED"
	EventArtifactDeleted EventType = "ARTIFACT_DELETED"
)

// familyPriority orders event-type families for the tie-break rule in
//: run/state > policy/network > ingest > model > eval > export > bundle > vault/deletion.
var familyPriority = map[EventType]int{
	EventRunCreated:     0,
	EventRunStateChange: 0,

	EventNetworkModeChanged:   1,
	EventEgressRequestAllowed: 1,
	EventEgressRequestBlocked: 1,

	EventArtifactIngested: 2,

	EventModelInvoked: 3,

	EventEvalStarted:    4,
	EventEvalGateResult: 4,
	EventEvalCompleted:  4,

	EventExportRequested: 5,
	EventExportBlocked:   5,
	EventExportFailed:    5,
	EventExportCancelled: 5,
	EventExportCompleted: 5,

	EventBundleGenerationStarted:   6,
	EventBundleGenerationCompleted: 6,
	EventBundleValidationStarted:   6,
	EventBundleValidationResult:    6,

	EventVaultOpened:     7,
	EventVaultClosed:     7,
	EventArtifactDeleted: 7,
}

// FamilyPriority returns the tie-break priority for an event type. Unknown
// types sort last.
func FamilyPriority(t EventType) int {
	if p, ok := familyPriority[t]; ok {
		return p
	}
	return 99
}

// ZeroHash is the 64-character hex string used for the first event's
// prev_event_hash
var ZeroHash = strings.Repeat("0", 64)

// AuditEvent is the minimal envelope Top-level keys are
// closed; additional writer-supplied fields live only under
// details.meta.
type AuditEvent struct {
	TSUtc         time.Time      `json:"ts_utc"`
	EventType     EventType      `json:"event_type"`
	RunID         string         `json:"run_id"`
	VaultID       string         `json:"vault_id"`
	Actor         Actor          `json:"actor"`
	Details       map[string]any `json:"details"`
	PrevEventHash string         `json:"prev_event_hash"`
	EventHash     string         `json:"event_hash"`
}
