// Package citation implements CitationValidator: claim-marker scanning
// and citations_map.json schema/ordering checks.
//
// Grounded on core/pkg/firewall/firewall.go's jsonschema/v5 compile-once,
// validate-many pattern (AllowTool's schema compilation), applied here to
// LOCATOR_SCHEMA_V1 instead of tool-call parameters.
package citation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/govcore/govcore/pkg/govcoreerr"
	"github.com/govcore/govcore/pkg/types"
)

const schemaVersion = "LOCATOR_SCHEMA_V1"

var claimMarkerPattern = regexp.MustCompile(`<!--\s*CLAIM:(C\d+)\s*-->`)

var validLocatorTypes = map[types.LocatorType]bool{
	types.LocatorPDFTextSpanV1:    true,
	types.LocatorPDFBBoxV1:        true,
	types.LocatorTextLineRangeV1:  true,
	types.LocatorAudioTimeRangeV1: true,
	types.LocatorImageBBoxV1:      true,
}

// citationsMapSchema is the JSON Schema for LOCATOR_SCHEMA_V1, compiled
// once at package init rather than once per call.
const citationsMapSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["schema_version", "claims"],
  "properties": {
    "schema_version": {"const": "LOCATOR_SCHEMA_V1"},
    "claims": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["claim_id", "citations"],
        "properties": {
          "claim_id": {"type": "string", "pattern": "^C[0-9]+$"},
          "citations": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["citation_index", "artifact_id", "locator"],
              "properties": {
                "citation_index": {"type": "integer"},
                "artifact_id": {"type": "string"},
                "locator": {
                  "type": "object",
                  "required": ["type"],
                  "properties": {
                    "type": {"enum": ["PDF_TEXT_SPAN_V1", "PDF_BBOX_V1", "TEXT_LINE_RANGE_V1", "AUDIO_TIME_RANGE_V1", "IMAGE_BBOX_V1"]}
                  }
                }
              }
            }
          }
        }
      }
    }
  }
}`

var compiledSchema *jsonschema.Schema

func init() {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://govcore.local/schemas/locator_schema_v1.json"
	if err := c.AddResource(url, strings.NewReader(citationsMapSchema)); err != nil {
		panic(fmt.Sprintf("citation: embedded schema failed to load: %v", err))
	}
	compiledSchema = c.MustCompile(url)
}

// Finding is one validation failure.
type Finding struct {
	ClaimID string `json:"claim_id,omitempty"`
	Message string `json:"message"`
}

// Result is the outcome of validating one deliverable against a claim map.
type Result struct {
	Pass     bool      `json:"pass"`
	Findings []Finding `json:"findings,omitempty"`
}

// ScanClaimMarkers returns the ordered set of claim IDs referenced by
// `<!-- CLAIM:Cnnnn -->` markers in deliverable text.
func ScanClaimMarkers(deliverable string) []string {
	matches := claimMarkerPattern.FindAllStringSubmatch(deliverable, -1)
	ids := make([]string, 0, len(matches))
	seen := make(map[string]bool)
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			ids = append(ids, m[1])
		}
	}
	return ids
}

// ValidateSchema validates raw citations_map.json bytes against
// LOCATOR_SCHEMA_V1 and returns the parsed map on success.
func ValidateSchema(raw []byte) (*types.ClaimCitationMap, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, govcoreerr.New(govcoreerr.KindCitationViolation, fmt.Errorf("citation: malformed JSON: %w", err))
	}
	if err := compiledSchema.Validate(generic); err != nil {
		return nil, govcoreerr.New(govcoreerr.KindCitationViolation, fmt.Errorf("citation: schema validation failed: %w", err))
	}

	var m types.ClaimCitationMap
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, govcoreerr.New(govcoreerr.KindCitationViolation, fmt.Errorf("citation: decode after schema pass: %w", err))
	}
	if m.SchemaVersion != schemaVersion {
		return nil, govcoreerr.New(govcoreerr.KindCitationViolation, fmt.Errorf("citation: schema_version %q, expected %q", m.SchemaVersion, schemaVersion))
	}
	return &m, nil
}

// Validate checks that every claim marker in deliverable has at least one
// matching, well-formed citation in m, and that ordering is lexical by
// claim_id with citations ordered by citation_index.
func Validate(deliverable string, m *types.ClaimCitationMap) Result {
	var findings []Finding

	byClaim := make(map[string]types.Claim, len(m.Claims))
	for _, c := range m.Claims {
		byClaim[c.ClaimID] = c
	}

	for _, claimID := range ScanClaimMarkers(deliverable) {
		claim, ok := byClaim[claimID]
		if !ok {
			findings = append(findings, Finding{ClaimID: claimID, Message: "no citations_map entry for claim marker"})
			continue
		}
		if len(claim.Citations) == 0 {
			findings = append(findings, Finding{ClaimID: claimID, Message: "claim has zero citations"})
			continue
		}
		for _, c := range claim.Citations {
			if !validLocatorTypes[c.Locator.Type] {
				findings = append(findings, Finding{ClaimID: claimID, Message: fmt.Sprintf("citation_index %d has unrecognized locator type %q", c.CitationIndex, c.Locator.Type)})
			}
		}
	}

	if !sort.SliceIsSorted(m.Claims, func(i, j int) bool { return m.Claims[i].ClaimID < m.Claims[j].ClaimID }) {
		findings = append(findings, Finding{Message: "claims are not ordered lexically by claim_id"})
	}
	for _, c := range m.Claims {
		if !sort.SliceIsSorted(c.Citations, func(i, j int) bool { return c.Citations[i].CitationIndex < c.Citations[j].CitationIndex }) {
			findings = append(findings, Finding{ClaimID: c.ClaimID, Message: "citations are not ordered by citation_index"})
		}
	}

	return Result{Pass: len(findings) == 0, Findings: findings}
}
