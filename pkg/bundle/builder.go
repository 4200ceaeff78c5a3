// Package bundle implements BundleBuilder and BundleValidator: the
// Annex-A evidence bundle layout writer and its independent checklist
// validator.
//
// Grounded on core/pkg/store/audit_store.go's ExportBundle/VerifyBundle
// pair — a builder and a structurally independent verifier that shares
// no state with it — generalized from a single events.json blob into the
// full Annex-A directory layout and packed with pkg/packager instead of
// a bare archive/zip call.
package bundle

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/govcore/govcore/pkg/canonicalize"
	"github.com/govcore/govcore/pkg/packager"
	"github.com/govcore/govcore/pkg/types"
)

// ArtifactHashRow is one row of artifact_hashes.csv.
type ArtifactHashRow struct {
	ArtifactID    string
	BundleRelPath string
	SHA256        string
	Bytes         int64
	ContentType   string
	LogicalRole   string
}

// Info is BUNDLE_INFO.json's content.
type Info struct {
	RunID                string `json:"run_id"`
	VaultID              string `json:"vault_id"`
	SchemaVersion        string `json:"schema_version"`
	CanonicalizationID   string `json:"canonicalization_id"`
	GeneratedAtMs        int64  `json:"generated_at_ms"`
}

// BuildInput is everything BundleBuilder needs to stage one bundle.
type BuildInput struct {
	Info          Info
	Manifest      any
	AuditEvents   []types.AuditEvent
	EvalReport    types.EvalReport
	ArtifactRows  []ArtifactHashRow
	PackID        string
	Deliverables  map[string][]byte // bundle-relative path (within deliverables/) -> bytes
	CitationsMap  []byte
	RedactionsMap []byte
	TemplatesUsed []byte
	InputsSnapshot struct {
		ArtifactList    []byte
		PolicySnapshot  []byte
		NetworkSnapshot []byte
		ModelSnapshot   []byte
	}
	InputBytes map[string][]byte // artifact_id -> raw bytes, only when INCLUDE_INPUT_BYTES
}

// Build stages BuildInput into the fixed Annex-A layout and packs it as
// a deterministic ZIP named evidence_bundle_<run_id>_v1.zip's contents
// (the caller is responsible for naming the file on disk).
func Build(in BuildInput) ([]byte, error) {
	var entries []packager.Entry

	infoJSON, err := canonicalize.Encode(in.Info)
	if err != nil {
		return nil, fmt.Errorf("bundle: encode BUNDLE_INFO.json: %w", err)
	}
	entries = append(entries, packager.Entry{Path: "BUNDLE_INFO.json", Bytes: infoJSON})

	manifestJSON, err := canonicalize.Encode(in.Manifest)
	if err != nil {
		return nil, fmt.Errorf("bundle: encode run_manifest.json: %w", err)
	}
	entries = append(entries, packager.Entry{Path: "run_manifest.json", Bytes: manifestJSON})

	var auditBuf bytes.Buffer
	for _, ev := range in.AuditEvents {
		line, err := canonicalize.EncodeNDJSONLine(ev)
		if err != nil {
			return nil, fmt.Errorf("bundle: encode audit event: %w", err)
		}
		auditBuf.Write(line)
	}
	entries = append(entries, packager.Entry{Path: "audit_log.ndjson", Bytes: auditBuf.Bytes()})

	evalJSON, err := canonicalize.Encode(in.EvalReport)
	if err != nil {
		return nil, fmt.Errorf("bundle: encode eval_report.json: %w", err)
	}
	entries = append(entries, packager.Entry{Path: "eval_report.json", Bytes: evalJSON})

	csvBytes, err := buildArtifactHashesCSV(in.ArtifactRows)
	if err != nil {
		return nil, err
	}
	entries = append(entries, packager.Entry{Path: "artifact_hashes.csv", Bytes: csvBytes})

	packPrefix := fmt.Sprintf("exports/%s/", in.PackID)
	entries = append(entries, packager.Entry{Path: packPrefix + "deliverables/", IsDir: true})
	entries = append(entries, packager.Entry{Path: packPrefix + "attachments/", IsDir: true})
	for relPath, data := range in.Deliverables {
		entries = append(entries, packager.Entry{Path: packPrefix + "deliverables/" + relPath, Bytes: data})
	}
	if in.CitationsMap != nil {
		entries = append(entries, packager.Entry{Path: packPrefix + "attachments/citations_map.json", Bytes: in.CitationsMap})
	}
	if in.RedactionsMap != nil {
		entries = append(entries, packager.Entry{Path: packPrefix + "attachments/redactions_map.json", Bytes: in.RedactionsMap})
	}
	if in.TemplatesUsed != nil {
		entries = append(entries, packager.Entry{Path: packPrefix + "attachments/templates_used.json", Bytes: in.TemplatesUsed})
	}

	entries = append(entries, packager.Entry{Path: "inputs_snapshot/", IsDir: true})
	if in.InputsSnapshot.ArtifactList != nil {
		entries = append(entries, packager.Entry{Path: "inputs_snapshot/artifact_list.json", Bytes: in.InputsSnapshot.ArtifactList})
	}
	if in.InputsSnapshot.PolicySnapshot != nil {
		entries = append(entries, packager.Entry{Path: "inputs_snapshot/policy_snapshot.json", Bytes: in.InputsSnapshot.PolicySnapshot})
	}
	if in.InputsSnapshot.NetworkSnapshot != nil {
		entries = append(entries, packager.Entry{Path: "inputs_snapshot/network_snapshot.json", Bytes: in.InputsSnapshot.NetworkSnapshot})
	}
	if in.InputsSnapshot.ModelSnapshot != nil {
		entries = append(entries, packager.Entry{Path: "inputs_snapshot/model_snapshot.json", Bytes: in.InputsSnapshot.ModelSnapshot})
	}
	for artifactID, data := range in.InputBytes {
		entries = append(entries, packager.Entry{Path: fmt.Sprintf("inputs_snapshot/artifacts/%s/bytes", artifactID), Bytes: data})
	}

	return packager.WriteDeterministic(entries)
}

func buildArtifactHashesCSV(rows []ArtifactHashRow) ([]byte, error) {
	sorted := make([]ArtifactHashRow, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].ArtifactID != sorted[j].ArtifactID {
			return sorted[i].ArtifactID < sorted[j].ArtifactID
		}
		return sorted[i].BundleRelPath < sorted[j].BundleRelPath
	})

	buf := new(bytes.Buffer)
	w := csv.NewWriter(buf)
	w.UseCRLF = false
	if err := w.Write([]string{"artifact_id", "bundle_rel_path", "sha256", "bytes", "content_type", "logical_role"}); err != nil {
		return nil, fmt.Errorf("bundle: write csv header: %w", err)
	}
	for _, r := range sorted {
		record := []string{
			r.ArtifactID,
			r.BundleRelPath,
			r.SHA256,
			fmt.Sprintf("%d", r.Bytes),
			r.ContentType,
			r.LogicalRole,
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("bundle: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("bundle: flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportArtifactID formats the synthetic artifact_id used for a pack's
// own export files (deliverables/attachments)
func ExportArtifactID(bundleRelPath string) string {
	return "o:" + bundleRelPath
}

// MarshalJSONForSnapshot is a small helper so callers can build the
// inputs_snapshot documents with the same canonical encoder the builder
// uses for everything else.
func MarshalJSONForSnapshot(v any) ([]byte, error) {
	b, err := canonicalize.Encode(v)
	if err != nil {
		return nil, err
	}
	var check json.RawMessage
	if err := json.Unmarshal(b, &check); err != nil {
		return nil, fmt.Errorf("bundle: snapshot did not round-trip as JSON: %w", err)
	}
	return b, nil
}
