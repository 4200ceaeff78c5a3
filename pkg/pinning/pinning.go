// Package pinning implements ModelPinning: classification of recorded
// model usage into CRYPTO_PINNED / VERSION_PINNED / NAME_ONLY, using
// Masterminds/semver/v3 to validate adapter_version as a real semantic
// version rather than trusting an opaque string.
package pinning

import (
	"github.com/Masterminds/semver/v3"

	"github.com/govcore/govcore/pkg/types"
)

// Classify determines the pinning level of a recorded model usage.
func Classify(usage types.ModelUsage) types.PinningLevel {
	hasIdentity := usage.AdapterID != "" && usage.AdapterVersion != "" && usage.ModelID != ""
	if !hasIdentity {
		return types.PinningNameOnly
	}
	if _, err := semver.NewVersion(usage.AdapterVersion); err != nil {
		return types.PinningNameOnly
	}
	if usage.ModelSHA256 != "" {
		return types.PinningCryptoPinned
	}
	return types.PinningVersionPinned
}

// Sufficient reports whether level is at least floor in the ranking
// NAME_ONLY < VERSION_PINNED < CRYPTO_PINNED, using its own rank table
// rather than the policy package's PinningAcceptable.
func Sufficient(level, floor types.PinningLevel) bool {
	rank := map[types.PinningLevel]int{
		types.PinningNameOnly:      0,
		types.PinningVersionPinned: 1,
		types.PinningCryptoPinned:  2,
	}
	return rank[level] >= rank[floor]
}
