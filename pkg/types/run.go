package types

import "time"

// PolicyMode selects which predicate set PolicyEngine enforces.
type PolicyMode string

const (
	PolicyStrict    PolicyMode = "Strict"
	PolicyBalanced  PolicyMode = "Balanced"
	PolicyDraftOnly PolicyMode = "DraftOnly"
)

// NetworkMode is the vault's outbound-network posture.
type NetworkMode string

const (
	NetworkOffline            NetworkMode = "OFFLINE"
	NetworkOnlineAllowlisted  NetworkMode = "ONLINE_ALLOWLISTED"
)

// ProofLevel is the categorical strength of egress/offline posture.
type ProofLevel string

const (
	ProofOfflineStrict                    ProofLevel = "OFFLINE_STRICT"
	ProofOnlineAllowlistCoreOnly           ProofLevel = "ONLINE_ALLOWLIST_CORE_ONLY"
	ProofOnlineAllowlistWithOSFirewall     ProofLevel = "ONLINE_ALLOWLIST_WITH_OS_FIREWALL_PROFILE"
)

// RunState is a node in the RunManager state machine
type RunState string

const (
	StateCreated    RunState = "CREATED"
	StateIngesting  RunState = "INGESTING"
	StateReady      RunState = "READY"
	StateExecuting  RunState = "EXECUTING"
	StateEvaluating RunState = "EVALUATING"
	StateExporting  RunState = "EXPORTING"
	StateCompleted  RunState = "COMPLETED"
	StateFailed     RunState = "FAILED"
	StateCancelled  RunState = "CANCELLED"
)

// InputsProfile controls whether input bytes are embedded in the bundle.
type InputsProfile string

const (
	InputsIncludeBytes InputsProfile = "INCLUDE_INPUT_BYTES"
	InputsHashOnly     InputsProfile = "HASH_ONLY"
)

// BlockReason is the closed enum of export-refusal reasons
type BlockReason string

const (
	BlockEvalFailed                  BlockReason = "EVAL_FAILED"
	BlockMissingCitations            BlockReason = "MISSING_CITATIONS"
	BlockMissingRedactions           BlockReason = "MISSING_REDACTIONS"
	BlockMissingTemplates            BlockReason = "MISSING_TEMPLATES"
	BlockInsufficientPinning         BlockReason = "INSUFFICIENT_PINNING"
	BlockOfflineProofInsufficient    BlockReason = "OFFLINE_PROOF_INSUFFICIENT"
	BlockDeterminismFailed           BlockReason = "DETERMINISM_FAILED"
	BlockBundleValidationFailed      BlockReason = "BUNDLE_VALIDATION_FAILED"
)

// ExportProfile configures what a produced bundle contains.
type ExportProfile struct {
	Inputs              InputsProfile `json:"inputs"`
	DeterminismEnabled  bool          `json:"determinism_enabled"`
}

// Run is a single orchestrated execution
type Run struct {
	RunID              string        `json:"run_id"`
	VaultID            string        `json:"vault_id"`
	PolicyMode         PolicyMode    `json:"policy_mode"`
	NetworkMode        NetworkMode   `json:"network_mode"`
	ProofLevel         ProofLevel    `json:"proof_level"`
	DeterminismEnabled bool          `json:"determinism_enabled"`
	State              RunState      `json:"state"`
	CreatedAt          time.Time     `json:"created_at"`
	GeneratedAtMs      int64         `json:"generated_at_ms"`
	ExportProfile      ExportProfile `json:"export_profile"`
	Targets            []string      `json:"targets"`
}
