package redaction_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govcore/govcore/pkg/redaction"
	"github.com/govcore/govcore/pkg/types"
)

func intp(i int) *int { return &i }

func TestCovers_LineRange_FullyContained(t *testing.T) {
	region := types.Locator{Type: types.LocatorTextLineRangeV1, StartLine: intp(1), EndLine: intp(10)}
	cited := types.Locator{Type: types.LocatorTextLineRangeV1, StartLine: intp(3), EndLine: intp(5)}
	ok, err := redaction.Covers(region, cited)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCovers_LineRange_PartialOverlapFails(t *testing.T) {
	region := types.Locator{Type: types.LocatorTextLineRangeV1, StartLine: intp(1), EndLine: intp(4)}
	cited := types.Locator{Type: types.LocatorTextLineRangeV1, StartLine: intp(3), EndLine: intp(5)}
	ok, err := redaction.Covers(region, cited)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCovers_BBox_ContainsSmallerBox(t *testing.T) {
	region := types.Locator{Type: types.LocatorImageBBoxV1, BBox: &types.BBox{X: 0, Y: 0, W: 1, H: 1, Coords: "REL_0_1"}}
	cited := types.Locator{Type: types.LocatorImageBBoxV1, BBox: &types.BBox{X: 0.2, Y: 0.2, W: 0.3, H: 0.3, Coords: "REL_0_1"}}
	ok, err := redaction.Covers(region, cited)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCovers_MismatchedTypesErrors(t *testing.T) {
	region := types.Locator{Type: types.LocatorTextLineRangeV1, StartLine: intp(1), EndLine: intp(10)}
	cited := types.Locator{Type: types.LocatorImageBBoxV1, BBox: &types.BBox{}}
	_, err := redaction.Covers(region, cited)
	assert.Error(t, err)
}

func TestValidate_CountsMissingRedactionsForSensitiveCitations(t *testing.T) {
	artifacts := map[string]types.Artifact{
		"a_1": {ArtifactID: "a_1", Classification: types.ClassificationRestricted},
		"a_2": {ArtifactID: "a_2", Classification: types.ClassificationPublic},
	}
	claims := []types.Claim{
		{ClaimID: "C0001", Citations: []types.Citation{
			{CitationIndex: 0, ArtifactID: "a_1", Locator: types.Locator{Type: types.LocatorTextLineRangeV1, StartLine: intp(1), EndLine: intp(2)}},
			{CitationIndex: 1, ArtifactID: "a_2", Locator: types.Locator{Type: types.LocatorTextLineRangeV1, StartLine: intp(1), EndLine: intp(2)}},
		}},
	}
	redactions := &types.RedactionMap{SchemaVersion: "REDACTION_SCHEMA_V1"}

	result := redaction.Validate(claims, artifacts, redactions)
	assert.False(t, result.Pass)
	assert.Equal(t, 1, result.MissingRequiredRedactions)
}

func TestValidate_PassesWhenCoveringRedactionExists(t *testing.T) {
	artifacts := map[string]types.Artifact{
		"a_1": {ArtifactID: "a_1", Classification: types.ClassificationRestricted},
	}
	claims := []types.Claim{
		{ClaimID: "C0001", Citations: []types.Citation{
			{CitationIndex: 0, ArtifactID: "a_1", Locator: types.Locator{Type: types.LocatorTextLineRangeV1, StartLine: intp(3), EndLine: intp(4)}},
		}},
	}
	redactions := &types.RedactionMap{
		SchemaVersion: "REDACTION_SCHEMA_V1",
		Artifacts: []types.RedactedArtifact{
			{ArtifactID: "a_1", Redactions: []types.Redaction{
				{RedactionID: "r1", RedactionType: types.RedactionTextSpan, Region: types.Locator{Type: types.LocatorTextLineRangeV1, StartLine: intp(1), EndLine: intp(10)}},
			}},
		},
	}

	result := redaction.Validate(claims, artifacts, redactions)
	assert.True(t, result.Pass)
	assert.Equal(t, 0, result.MissingRequiredRedactions)
}
