// Package redaction implements RedactionValidator: region-covers-region
// arithmetic over citation locators and recorded redactions.
//
// Built on the standard library only — no example repo in the pack ships
// a "geometric region coverage" or "locator containment" library; this
// is closed-form domain arithmetic over five fixed locator shapes, not
// an I/O, parsing, or encoding concern any ecosystem dependency covers.
package redaction

import (
	"fmt"

	"github.com/govcore/govcore/pkg/types"
)

// Finding is one citation whose sensitive source lacks a covering redaction.
type Finding struct {
	ClaimID       string `json:"claim_id"`
	CitationIndex int    `json:"citation_index"`
	ArtifactID    string `json:"artifact_id"`
	Message       string `json:"message"`
}

// Result is the outcome of validating a claim map against a redaction map.
type Result struct {
	Pass                      bool      `json:"pass"`
	MissingRequiredRedactions int       `json:"missing_required_redactions"`
	Findings                  []Finding `json:"findings,omitempty"`
}

// Validate checks, for every citation pointing at a sensitive artifact,
// that some recorded redaction region fully covers the cited locator.
// artifacts maps artifact_id to its metadata (for the IsSensitive check).
func Validate(claims []types.Claim, artifacts map[string]types.Artifact, redactions *types.RedactionMap) Result {
	byArtifact := make(map[string][]types.Redaction, len(redactions.Artifacts))
	for _, ra := range redactions.Artifacts {
		byArtifact[ra.ArtifactID] = ra.Redactions
	}

	var findings []Finding
	for _, claim := range claims {
		for _, cite := range claim.Citations {
			artifact, ok := artifacts[cite.ArtifactID]
			if !ok || !artifact.IsSensitive() {
				continue
			}
			if !anyRedactionCovers(byArtifact[cite.ArtifactID], cite.Locator) {
				findings = append(findings, Finding{
					ClaimID:       claim.ClaimID,
					CitationIndex: cite.CitationIndex,
					ArtifactID:    cite.ArtifactID,
					Message:       "sensitive artifact cited without a covering redaction",
				})
			}
		}
	}

	return Result{
		Pass:                      len(findings) == 0,
		MissingRequiredRedactions: len(findings),
		Findings:                  findings,
	}
}

func anyRedactionCovers(candidates []types.Redaction, cited types.Locator) bool {
	for _, r := range candidates {
		if ok, err := Covers(r.Region, cited); err == nil && ok {
			return true
		}
	}
	return false
}

// Covers reports whether redactionRegion fully covers citedRegion. The
// two locators must be of comparable shape (same family of coordinates);
// mismatched types never cover each other and return an explanatory error.
func Covers(redactionRegion, citedRegion types.Locator) (bool, error) {
	switch citedRegion.Type {
	case types.LocatorPDFTextSpanV1:
		if redactionRegion.Type != types.LocatorPDFTextSpanV1 {
			return false, fmt.Errorf("redaction: region type %q cannot cover %q", redactionRegion.Type, citedRegion.Type)
		}
		return coversTextSpan(redactionRegion, citedRegion), nil

	case types.LocatorTextLineRangeV1:
		if redactionRegion.Type != types.LocatorTextLineRangeV1 {
			return false, fmt.Errorf("redaction: region type %q cannot cover %q", redactionRegion.Type, citedRegion.Type)
		}
		return coversLineRange(redactionRegion, citedRegion), nil

	case types.LocatorPDFBBoxV1, types.LocatorImageBBoxV1:
		if redactionRegion.Type != citedRegion.Type {
			return false, fmt.Errorf("redaction: region type %q cannot cover %q", redactionRegion.Type, citedRegion.Type)
		}
		return coversBBox(redactionRegion, citedRegion), nil

	case types.LocatorAudioTimeRangeV1:
		if redactionRegion.Type != types.LocatorAudioTimeRangeV1 {
			return false, fmt.Errorf("redaction: region type %q cannot cover %q", redactionRegion.Type, citedRegion.Type)
		}
		return coversAudioRange(redactionRegion, citedRegion), nil

	default:
		return false, fmt.Errorf("redaction: unrecognized locator type %q", citedRegion.Type)
	}
}

func coversTextSpan(region, cited types.Locator) bool {
	if region.PageIndex == nil || cited.PageIndex == nil || *region.PageIndex != *cited.PageIndex {
		return false
	}
	if region.TextSHA256 != cited.TextSHA256 {
		return false
	}
	if region.StartChar == nil || region.EndChar == nil || cited.StartChar == nil || cited.EndChar == nil {
		return false
	}
	return *region.StartChar <= *cited.StartChar && *region.EndChar >= *cited.EndChar
}

func coversLineRange(region, cited types.Locator) bool {
	if region.StartLine == nil || region.EndLine == nil || cited.StartLine == nil || cited.EndLine == nil {
		return false
	}
	return *region.StartLine <= *cited.StartLine && *region.EndLine >= *cited.EndLine
}

func coversBBox(region, cited types.Locator) bool {
	if region.BBox == nil || cited.BBox == nil {
		return false
	}
	r, c := region.BBox, cited.BBox
	return r.X <= c.X && r.Y <= c.Y && r.X+r.W >= c.X+c.W && r.Y+r.H >= c.Y+c.H
}

func coversAudioRange(region, cited types.Locator) bool {
	if region.StartMs == nil || region.EndMs == nil || cited.StartMs == nil || cited.EndMs == nil {
		return false
	}
	if region.TranscriptSHA256 != cited.TranscriptSHA256 {
		return false
	}
	return *region.StartMs <= *cited.StartMs && *region.EndMs >= *cited.EndMs
}
