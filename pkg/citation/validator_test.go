package citation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govcore/govcore/pkg/citation"
	"github.com/govcore/govcore/pkg/types"
)

func TestScanClaimMarkers_FindsAllUniqueMarkersInOrder(t *testing.T) {
	deliverable := "intro <!-- CLAIM:C0001 --> body <!-- CLAIM:C0002 --> repeat <!-- CLAIM:C0001 -->"
	ids := citation.ScanClaimMarkers(deliverable)
	assert.Equal(t, []string{"C0001", "C0002"}, ids)
}

func TestValidateSchema_AcceptsWellFormedMap(t *testing.T) {
	raw := []byte(`{
		"schema_version": "LOCATOR_SCHEMA_V1",
		"claims": [
			{"claim_id": "C0001", "output_path": "out.md", "output_claim_locator": "", "citations": [
				{"citation_index": 0, "artifact_id": "a_1", "locator": {"type": "TEXT_LINE_RANGE_V1", "start_line": 1, "end_line": 2}}
			]}
		]
	}`)
	m, err := citation.ValidateSchema(raw)
	require.NoError(t, err)
	assert.Equal(t, "LOCATOR_SCHEMA_V1", m.SchemaVersion)
}

func TestValidateSchema_RejectsUnknownLocatorType(t *testing.T) {
	raw := []byte(`{
		"schema_version": "LOCATOR_SCHEMA_V1",
		"claims": [
			{"claim_id": "C0001", "citations": [
				{"citation_index": 0, "artifact_id": "a_1", "locator": {"type": "NOT_A_REAL_TYPE"}}
			]}
		]
	}`)
	_, err := citation.ValidateSchema(raw)
	assert.Error(t, err)
}

func TestValidateSchema_RejectsWrongSchemaVersion(t *testing.T) {
	raw := []byte(`{"schema_version": "OTHER", "claims": []}`)
	_, err := citation.ValidateSchema(raw)
	assert.Error(t, err)
}

func TestValidate_FailsOnMarkerWithNoCitationEntry(t *testing.T) {
	m := &types.ClaimCitationMap{SchemaVersion: "LOCATOR_SCHEMA_V1"}
	result := citation.Validate("<!-- CLAIM:C0001 -->", m)
	assert.False(t, result.Pass)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, "C0001", result.Findings[0].ClaimID)
}

func TestValidate_PassesWhenEveryMarkerIsCited(t *testing.T) {
	m := &types.ClaimCitationMap{
		SchemaVersion: "LOCATOR_SCHEMA_V1",
		Claims: []types.Claim{
			{ClaimID: "C0001", Citations: []types.Citation{
				{CitationIndex: 0, ArtifactID: "a_1", Locator: types.Locator{Type: types.LocatorTextLineRangeV1}},
			}},
		},
	}
	result := citation.Validate("<!-- CLAIM:C0001 -->", m)
	assert.True(t, result.Pass)
}

func TestValidate_FlagsOutOfOrderClaims(t *testing.T) {
	m := &types.ClaimCitationMap{
		SchemaVersion: "LOCATOR_SCHEMA_V1",
		Claims: []types.Claim{
			{ClaimID: "C0002"},
			{ClaimID: "C0001"},
		},
	}
	result := citation.Validate("", m)
	assert.False(t, result.Pass)
}
