package egress

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// OSFirewallClaims is the payload of an external OS-firewall-profile
// assertion: a signed statement from the host's firewall management
// agent that outbound traffic is restricted to the vault's allowlist at
// the OS level, not just inside this process.
type OSFirewallClaims struct {
	jwt.RegisteredClaims
	VaultID        string   `json:"vault_id"`
	ProfileID      string   `json:"profile_id"`
	AllowlistHosts []string `json:"allowlist_hosts"`
}

// VerifyOSFirewallAssertion verifies a JWT-encoded OS-firewall-profile
// assertion against the supplied key and checks it names vaultID. A
// verified assertion is the only input that can elevate a Gate's
// effective proof level to ONLINE_ALLOWLIST_WITH_OS_FIREWALL_PROFILE.
func VerifyOSFirewallAssertion(token, vaultID string, key any) (*OSFirewallClaims, error) {
	claims := &OSFirewallClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{"RS256", "ES256"}))
	if err != nil {
		return nil, fmt.Errorf("egress: os firewall assertion invalid: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("egress: os firewall assertion failed validation")
	}
	if claims.VaultID != vaultID {
		return nil, fmt.Errorf("egress: os firewall assertion names vault %q, expected %q", claims.VaultID, vaultID)
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return nil, fmt.Errorf("egress: os firewall assertion expired at %s", claims.ExpiresAt)
	}
	return claims, nil
}
