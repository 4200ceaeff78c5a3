package egress_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govcore/govcore/pkg/egress"
)

func TestVerifyOSFirewallAssertion_RejectsHS256Token(t *testing.T) {
	secret := []byte("test-signing-secret-32-bytes-min")
	claims := egress.OSFirewallClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		VaultID:        "vault-1",
		ProfileID:      "profile-a",
		AllowlistHosts: []string{"example.com"},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(secret)
	require.NoError(t, err)

	// HS256 is not in the gate's accepted algorithm list, so this
	// exercises the explicit allowed-methods rejection path.
	_, err = egress.VerifyOSFirewallAssertion(signed, "vault-1", secret)
	assert.Error(t, err)
}

func TestVerifyOSFirewallAssertion_RejectsMalformedToken(t *testing.T) {
	_, err := egress.VerifyOSFirewallAssertion("not-a-jwt", "vault-1", []byte("k"))
	assert.Error(t, err)
}
