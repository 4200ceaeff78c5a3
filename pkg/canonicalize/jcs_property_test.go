package canonicalize_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/govcore/govcore/pkg/canonicalize"
)

// TestCanonicalEncodeIsIdempotent checks the round-trip law of:
// canonical-encode ∘ parse ∘ canonical-encode = canonical-encode, for
// arbitrary string-keyed integer-valued objects.
func TestCanonicalEncodeIsIdempotent(t *testing.T) {
	props := gopter.NewProperties(nil)

	props.Property("encode(parse(encode(v))) == encode(v)", prop.ForAll(
		func(keys []string, vals []int64) bool {
			obj := make(map[string]any, len(keys))
			for i, k := range keys {
				if i < len(vals) {
					obj[k] = vals[i]
				}
			}
			ok, err := canonicalize.Idempotent(obj)
			return err == nil && ok
		},
		gen.SliceOf(gen.Identifier()),
		gen.SliceOf(gen.Int64Range(-1_000_000, 1_000_000)),
	))

	props.TestingRun(t)
}
