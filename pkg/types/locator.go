package types

// LocatorType is the closed enum of locator kinds a citation may point
// through
type LocatorType string

const (
	LocatorPDFTextSpanV1   LocatorType = "PDF_TEXT_SPAN_V1"
	LocatorPDFBBoxV1       LocatorType = "PDF_BBOX_V1"
	LocatorTextLineRangeV1 LocatorType = "TEXT_LINE_RANGE_V1"
	LocatorAudioTimeRangeV1 LocatorType = "AUDIO_TIME_RANGE_V1"
	LocatorImageBBoxV1     LocatorType = "IMAGE_BBOX_V1"
)

// BBox is a normalized bounding box; coords is always "REL_0_1".
type BBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	W      float64 `json:"w"`
	H      float64 `json:"h"`
	Coords string  `json:"coords"`
}

// Locator is a typed pointer from a claim to a region within a cited
// artifact. Exactly one of the typed fields is populated, matching
// LocatorType.
type Locator struct {
	Type LocatorType `json:"type"`

	// PDF_TEXT_SPAN_V1
	PageIndex  *int    `json:"page_index,omitempty"`
	StartChar  *int    `json:"start_char,omitempty"`
	EndChar    *int    `json:"end_char,omitempty"`
	TextSHA256 string  `json:"text_sha256,omitempty"`

	// PDF_BBOX_V1 / IMAGE_BBOX_V1
	BBox *BBox `json:"bbox,omitempty"`

	// TEXT_LINE_RANGE_V1
	StartLine *int `json:"start_line,omitempty"`
	EndLine   *int `json:"end_line,omitempty"`

	// AUDIO_TIME_RANGE_V1
	StartMs          *int   `json:"start_ms,omitempty"`
	EndMs            *int   `json:"end_ms,omitempty"`
	TranscriptSHA256 string `json:"transcript_sha256,omitempty"`
}

// Citation references an artifact and a locator within it.
type Citation struct {
	CitationIndex int     `json:"citation_index"`
	ArtifactID    string  `json:"artifact_id"`
	Locator       Locator `json:"locator"`
}

// Claim is one entry in a ClaimCitationMap.
type Claim struct {
	ClaimID            string     `json:"claim_id"`
	OutputPath         string     `json:"output_path"`
	OutputClaimLocator string     `json:"output_claim_locator"`
	Citations          []Citation `json:"citations"`
}

// ClaimCitationMap is LOCATOR_SCHEMA_V1
type ClaimCitationMap struct {
	SchemaVersion string  `json:"schema_version"`
	Claims        []Claim `json:"claims"`
}

// RedactionType is the closed enum of redaction region kinds.
type RedactionType string

const (
	RedactionTextSpan  RedactionType = "TEXT_SPAN"
	RedactionImageBBox RedactionType = "IMAGE_BBOX"
)

// Redaction is a single required-redaction record.
type Redaction struct {
	RedactionID   string        `json:"redaction_id"`
	RedactionType RedactionType `json:"redaction_type"`
	Region        Locator       `json:"region"`
	Method        string        `json:"method"`
	Reason        string        `json:"reason"`
	PolicyRuleID  string        `json:"policy_rule_id"`
}

// RedactedArtifact lists the ordered redactions applied to one artifact.
type RedactedArtifact struct {
	ArtifactID string      `json:"artifact_id"`
	Redactions []Redaction `json:"redactions"`
}

// RedactionMap is REDACTION_SCHEMA_V1
type RedactionMap struct {
	SchemaVersion string             `json:"schema_version"`
	Artifacts     []RedactedArtifact `json:"artifacts"`
}
