package audit_test

import (
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/govcore/govcore/pkg/audit"
	"github.com/govcore/govcore/pkg/types"
)

// TestHashChainContiguity checks chain invariant for
// arbitrary append sequences of varying length: every event's
// prev_event_hash equals its predecessor's event_hash, and the file
// re-verifies cleanly end to end.
func TestHashChainContiguity(t *testing.T) {
	props := gopter.NewProperties(nil)

	props.Property("append N events -> chain verifies and links contiguously", prop.ForAll(
		func(n int) bool {
			path := filepath.Join(t.TempDir(), "audit_log.ndjson")
			l, err := audit.Open(path, "vault-prop")
			if err != nil {
				return false
			}
			defer l.Close()

			prevHash := types.ZeroHash
			for i := 0; i < n; i++ {
				ev, err := l.Append(types.EventRunStateChange, "run-prop", types.ActorSystem, map[string]any{"i": int64(i)})
				if err != nil {
					return false
				}
				if ev.PrevEventHash != prevHash {
					return false
				}
				prevHash = ev.EventHash
			}

			bad, err := audit.VerifyFile(path)
			return err == nil && bad == -1
		},
		gen.IntRange(0, 30),
	))

	props.TestingRun(t)
}
