package bundle

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/govcore/govcore/pkg/audit"
	"github.com/govcore/govcore/pkg/citation"
	"github.com/govcore/govcore/pkg/policy"
	"github.com/govcore/govcore/pkg/types"
)

// Check is one validator finding.
type Check struct {
	Name    string `json:"name"`
	Pass    bool   `json:"pass"`
	Message string `json:"message,omitempty"`
}

// ValidationResult is the overall outcome of validating one bundle.
type ValidationResult struct {
	OverallPass bool    `json:"overall_pass"`
	Checks      []Check `json:"checks"`
}

// ValidateZip independently re-verifies a produced evidence bundle ZIP.
// It shares no state with Build: every check re-derives its answer from
// the archive's own bytes.
func ValidateZip(zipBytes []byte, includeInputBytes bool) (*ValidationResult, error) {
	r, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	if err != nil {
		return nil, fmt.Errorf("bundle: open zip: %w", err)
	}

	files := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		files[f.Name] = f
	}

	var checks []Check
	checks = append(checks, checkRequiredFilesExist(files))
	checks = append(checks, checkTemplatesUsedPresent(files))
	checks = append(checks, checkArtifactHashesCSV(files))
	checks = append(checks, checkAuditChain(files))
	checks = append(checks, checkEvalReport(files))
	checks = append(checks, checkCitationsAndRedactionsIfRequired(files))
	if includeInputBytes {
		checks = append(checks, checkInputBytesMatchCSV(files))
	}

	overall := true
	for _, c := range checks {
		if !c.Pass {
			overall = false
		}
	}
	return &ValidationResult{OverallPass: overall, Checks: checks}, nil
}

func checkRequiredFilesExist(files map[string]*zip.File) Check {
	required := []string{
		"BUNDLE_INFO.json",
		"run_manifest.json",
		"audit_log.ndjson",
		"eval_report.json",
		"artifact_hashes.csv",
	}
	var missing []string
	for _, path := range required {
		if _, ok := files[path]; !ok {
			missing = append(missing, path)
		}
	}
	if len(missing) > 0 {
		return Check{Name: "required_files_exist", Pass: false, Message: "missing: " + strings.Join(missing, ", ")}
	}
	return Check{Name: "required_files_exist", Pass: true}
}

// checkTemplatesUsedPresent requires templates_used.json in every pack
// export's attachments/ directory. A pack export with no recorded
// templates is an incomplete provenance record, not a valid bundle.
func checkTemplatesUsedPresent(files map[string]*zip.File) Check {
	var missing []string
	for _, pack := range packIDsInArchive(files) {
		path := fmt.Sprintf("exports/%s/attachments/templates_used.json", pack)
		if _, ok := files[path]; !ok {
			missing = append(missing, path)
		}
	}
	if len(missing) > 0 {
		return Check{Name: "templates_used_present", Pass: false, Message: "missing: " + strings.Join(missing, ", ")}
	}
	return Check{Name: "templates_used_present", Pass: true}
}

// checkCitationsAndRedactionsIfRequired re-derives policy_mode from the
// bundle's own inputs_snapshot/policy_snapshot.json and, only when that
// mode requires citations, re-validates the pack's citations_map.json
// (and, if present, redactions_map.json) against their schemas. A
// bundle built under a mode that never required citations has nothing
// to check here and passes trivially.
func checkCitationsAndRedactionsIfRequired(files map[string]*zip.File) Check {
	const name = "citations_redactions_valid_when_required"

	mode, err := policyModeInArchive(files)
	if err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	if !policy.CitationsRequired(mode) {
		return Check{Name: name, Pass: true}
	}

	citationsMap, redactionsMap, deliverables, err := citationsAndRedactionsForPacks(files)
	if err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	if citationsMap == nil {
		return Check{Name: name, Pass: false, Message: "policy_mode requires citations but citations_map.json is missing"}
	}

	check := ValidateCitationsAndRedactions(deliverables, citationsMap, redactionsMap)
	check.Name = name
	return check
}

// packIDsInArchive returns the sorted, deduplicated pack IDs that have
// an exports/<pack_id>/ directory in the archive.
func packIDsInArchive(files map[string]*zip.File) []string {
	seen := make(map[string]bool)
	for name := range files {
		rest := strings.TrimPrefix(name, "exports/")
		if rest == name {
			continue
		}
		pack, _, ok := strings.Cut(rest, "/")
		if !ok || pack == "" {
			continue
		}
		seen[pack] = true
	}
	packs := make([]string, 0, len(seen))
	for p := range seen {
		packs = append(packs, p)
	}
	sort.Strings(packs)
	return packs
}

func policyModeInArchive(files map[string]*zip.File) (types.PolicyMode, error) {
	f, ok := files["inputs_snapshot/policy_snapshot.json"]
	if !ok {
		return "", nil
	}
	data, err := readZipEntry(f)
	if err != nil {
		return "", fmt.Errorf("policy_snapshot.json: %w", err)
	}
	var snapshot struct {
		PolicyMode types.PolicyMode `json:"policy_mode"`
	}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return "", fmt.Errorf("policy_snapshot.json: %w", err)
	}
	return snapshot.PolicyMode, nil
}

// citationsAndRedactionsForPacks collects the citations/redactions
// attachments and deliverable texts across every pack export in the
// archive, keyed by bundle-relative path.
func citationsAndRedactionsForPacks(files map[string]*zip.File) (citationsMap, redactionsMap []byte, deliverables map[string]string, err error) {
	deliverables = make(map[string]string)
	for _, pack := range packIDsInArchive(files) {
		if f, ok := files[fmt.Sprintf("exports/%s/attachments/citations_map.json", pack)]; ok {
			if citationsMap, err = readZipEntry(f); err != nil {
				return nil, nil, nil, err
			}
		}
		if f, ok := files[fmt.Sprintf("exports/%s/attachments/redactions_map.json", pack)]; ok {
			if redactionsMap, err = readZipEntry(f); err != nil {
				return nil, nil, nil, err
			}
		}
		prefix := fmt.Sprintf("exports/%s/deliverables/", pack)
		for name, f := range files {
			if f.FileInfo().IsDir() || !strings.HasPrefix(name, prefix) {
				continue
			}
			data, rerr := readZipEntry(f)
			if rerr != nil {
				return nil, nil, nil, rerr
			}
			deliverables[name] = string(data)
		}
	}
	return citationsMap, redactionsMap, deliverables, nil
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func checkArtifactHashesCSV(files map[string]*zip.File) Check {
	f, ok := files["artifact_hashes.csv"]
	if !ok {
		return Check{Name: "artifact_hashes_csv", Pass: false, Message: "artifact_hashes.csv missing"}
	}
	rows, err := readCSVRows(f)
	if err != nil {
		return Check{Name: "artifact_hashes_csv", Pass: false, Message: err.Error()}
	}

	var mismatches []string
	for _, row := range rows {
		if strings.HasPrefix(row.ArtifactID, "o:") {
			continue // export-own files are addressed by bundle_rel_path, not a content-addressed input
		}
		entry, ok := files[row.BundleRelPath]
		if !ok {
			mismatches = append(mismatches, fmt.Sprintf("%s: path %s not found in archive", row.ArtifactID, row.BundleRelPath))
			continue
		}
		sum, err := hashZipEntry(entry)
		if err != nil {
			mismatches = append(mismatches, fmt.Sprintf("%s: %v", row.ArtifactID, err))
			continue
		}
		if sum != row.SHA256 {
			mismatches = append(mismatches, fmt.Sprintf("%s: hash mismatch", row.ArtifactID))
		}
	}
	if len(mismatches) > 0 {
		return Check{Name: "artifact_hashes_csv", Pass: false, Message: strings.Join(mismatches, "; ")}
	}
	return Check{Name: "artifact_hashes_csv", Pass: true}
}

func checkInputBytesMatchCSV(files map[string]*zip.File) Check {
	f, ok := files["artifact_hashes.csv"]
	if !ok {
		return Check{Name: "input_bytes_match_csv", Pass: false, Message: "artifact_hashes.csv missing"}
	}
	rows, err := readCSVRows(f)
	if err != nil {
		return Check{Name: "input_bytes_match_csv", Pass: false, Message: err.Error()}
	}

	var mismatches []string
	for _, row := range rows {
		if row.LogicalRole != "INPUT" {
			continue
		}
		path := fmt.Sprintf("inputs_snapshot/artifacts/%s/bytes", row.ArtifactID)
		entry, ok := files[path]
		if !ok {
			mismatches = append(mismatches, fmt.Sprintf("%s: snapshot bytes missing at %s", row.ArtifactID, path))
			continue
		}
		sum, err := hashZipEntry(entry)
		if err != nil {
			mismatches = append(mismatches, fmt.Sprintf("%s: %v", row.ArtifactID, err))
			continue
		}
		if sum != row.SHA256 {
			mismatches = append(mismatches, fmt.Sprintf("%s: snapshot bytes do not match recorded sha256", row.ArtifactID))
		}
	}
	if len(mismatches) > 0 {
		return Check{Name: "input_bytes_match_csv", Pass: false, Message: strings.Join(mismatches, "; ")}
	}
	return Check{Name: "input_bytes_match_csv", Pass: true}
}

func checkAuditChain(files map[string]*zip.File) Check {
	f, ok := files["audit_log.ndjson"]
	if !ok {
		return Check{Name: "audit_chain_verifies", Pass: false, Message: "audit_log.ndjson missing"}
	}
	rc, err := f.Open()
	if err != nil {
		return Check{Name: "audit_chain_verifies", Pass: false, Message: err.Error()}
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return Check{Name: "audit_chain_verifies", Pass: false, Message: err.Error()}
	}

	var events []types.AuditEvent
	for _, line := range bytes.Split(bytes.TrimRight(data, "\n"), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var ev types.AuditEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return Check{Name: "audit_chain_verifies", Pass: false, Message: fmt.Sprintf("malformed event: %v", err)}
		}
		events = append(events, ev)
	}

	badIndex, err := audit.VerifyChain(events)
	if err != nil {
		return Check{Name: "audit_chain_verifies", Pass: false, Message: fmt.Sprintf("chain broken at event %d: %v", badIndex, err)}
	}
	return Check{Name: "audit_chain_verifies", Pass: true}
}

func checkEvalReport(files map[string]*zip.File) Check {
	f, ok := files["eval_report.json"]
	if !ok {
		return Check{Name: "eval_report_consistent", Pass: false, Message: "eval_report.json missing"}
	}
	rc, err := f.Open()
	if err != nil {
		return Check{Name: "eval_report_consistent", Pass: false, Message: err.Error()}
	}
	defer rc.Close()

	var report types.EvalReport
	if err := json.NewDecoder(rc).Decode(&report); err != nil {
		return Check{Name: "eval_report_consistent", Pass: false, Message: err.Error()}
	}
	if report.OverallStatus == "" {
		return Check{Name: "eval_report_consistent", Pass: false, Message: "overall_status is empty"}
	}

	blockerFailed := false
	for _, g := range report.Gates {
		if g.Severity == types.SeverityBlocker && g.Status == types.GateFail {
			blockerFailed = true
		}
	}
	if blockerFailed && report.OverallStatus != "FAIL" {
		return Check{Name: "eval_report_consistent", Pass: false, Message: "a BLOCKER gate failed but overall_status is not FAIL"}
	}
	return Check{Name: "eval_report_consistent", Pass: true}
}

// ValidateCitationsAndRedactions runs CitationValidator against a
// decoded bundle's export pack and, when redactionsMapRaw is present,
// checks it is well-formed REDACTION_SCHEMA_V1. It is called from
// checkCitationsAndRedactionsIfRequired when policy_mode requires
// citations.
func ValidateCitationsAndRedactions(deliverables map[string]string, citationsMapRaw, redactionsMapRaw []byte) Check {
	m, err := citation.ValidateSchema(citationsMapRaw)
	if err != nil {
		return Check{Name: "citations_schema_valid", Pass: false, Message: err.Error()}
	}
	for path, text := range deliverables {
		result := citation.Validate(text, m)
		if !result.Pass {
			return Check{Name: "citations_schema_valid", Pass: false, Message: fmt.Sprintf("%s: %v", path, result.Findings)}
		}
	}

	if redactionsMapRaw != nil {
		var rm types.RedactionMap
		if err := json.Unmarshal(redactionsMapRaw, &rm); err != nil {
			return Check{Name: "citations_schema_valid", Pass: false, Message: fmt.Sprintf("redactions_map.json: %v", err)}
		}
		if rm.SchemaVersion != "REDACTION_SCHEMA_V1" {
			return Check{Name: "citations_schema_valid", Pass: false, Message: fmt.Sprintf("redactions_map.json: schema_version %q, want REDACTION_SCHEMA_V1", rm.SchemaVersion)}
		}
	}

	return Check{Name: "citations_schema_valid", Pass: true}
}

func hashZipEntry(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	h := sha256.New()
	if _, err := io.Copy(h, rc); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func readCSVRows(f *zip.File) ([]ArtifactHashRow, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	reader := csv.NewReader(rc)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse artifact_hashes.csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("artifact_hashes.csv has no header")
	}

	var rows []ArtifactHashRow
	for _, rec := range records[1:] {
		if len(rec) != 6 {
			return nil, fmt.Errorf("artifact_hashes.csv row has %d fields, expected 6", len(rec))
		}
		bytesCount, err := strconv.ParseInt(rec[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("artifact_hashes.csv bytes field: %w", err)
		}
		rows = append(rows, ArtifactHashRow{
			ArtifactID:    rec[0],
			BundleRelPath: rec[1],
			SHA256:        rec[2],
			Bytes:         bytesCount,
			ContentType:   rec[4],
			LogicalRole:   rec[5],
		})
	}
	return rows, nil
}
