// Package egress implements EgressGate: the single chokepoint for every
// outbound network request a run is permitted to make.
//
// Grounded on core/pkg/firewall/firewall.go's PolicyFirewall — a
// fail-closed allowlist check that refuses to delegate when unconfigured.
// Destination canonicalization and allowlist matching are new (the
// original gates tool names, not network destinations), built with
// golang.org/x/net/idna for host normalization and golang.org/x/time/rate
// to bound how often egress decisions are made; the gate itself issues no
// network requests.
package egress

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/time/rate"

	"github.com/govcore/govcore/pkg/audit"
	"github.com/govcore/govcore/pkg/obslog"
	"github.com/govcore/govcore/pkg/types"
)

// BlockReason is the closed set of egress-specific refusal reasons,
// — distinct from the export-level BlockReason enum.
type BlockReason string

const (
	BlockOfflineMode          BlockReason = "OFFLINE_MODE"
	BlockNotAllowlisted       BlockReason = "NOT_ALLOWLISTED"
	BlockUIDirectEgressBlocked BlockReason = "UI_DIRECT_EGRESS_BLOCKED"
)

// Destination is a canonicalized outbound target.
type Destination struct {
	Scheme     string
	Host       string
	Port       int
	PathPrefix string
}

// AllowlistEntry is one permitted destination pattern.
type AllowlistEntry struct {
	Scheme     string
	Host       string
	Port       int
	PathPrefix string
}

// Decision is the outcome of a Request call.
type Decision struct {
	Allowed     bool
	RuleID      string
	BlockReason BlockReason
}

// Gate is the single outbound-network chokepoint for a vault.
type Gate struct {
	networkMode types.NetworkMode
	proofLevel  types.ProofLevel
	allowlist   []AllowlistEntry
	limiter     *rate.Limiter
	auditLog    *audit.Log
	logger      *slog.Logger
}

// New constructs a Gate. limiter bounds the rate of evaluated requests
// (not the requests themselves, which this gate never issues) so a
// misbehaving caller cannot spin the allowlist check in a hot loop.
func New(networkMode types.NetworkMode, proofLevel types.ProofLevel, allowlist []AllowlistEntry, limiter *rate.Limiter, auditLog *audit.Log) *Gate {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(50), 50)
	}
	return &Gate{
		networkMode: networkMode,
		proofLevel:  proofLevel,
		allowlist:   allowlist,
		limiter:     limiter,
		auditLog:    auditLog,
		logger:      obslog.New("egress", nil),
	}
}

// SetLogger overrides the gate's default stderr JSON logger, e.g. to
// route through a vault-wide logger tagged with the same vault_id.
func (g *Gate) SetLogger(l *slog.Logger) {
	if l != nil {
		g.logger = l
	}
}

// Canonicalize parses and normalizes a raw destination URL: scheme
// restricted to http/https, host ASCII-normalized via punycode, explicit
// port (default 443/80), path_prefix rejected if it contains a ".."
// traversal segment.
func Canonicalize(raw string) (*Destination, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("egress: parse destination: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("egress: scheme %q is not one of {http, https}", u.Scheme)
	}

	asciiHost, err := idna.Lookup.ToASCII(u.Hostname())
	if err != nil {
		return nil, fmt.Errorf("egress: normalize host: %w", err)
	}

	port := u.Port()
	var portNum int
	if port == "" {
		if scheme == "https" {
			portNum = 443
		} else {
			portNum = 80
		}
	} else {
		portNum, err = strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("egress: invalid port %q: %w", port, err)
		}
	}

	pathPrefix := u.Path
	if strings.Contains(pathPrefix, "..") {
		return nil, fmt.Errorf("egress: path_prefix %q must not contain a traversal segment", pathPrefix)
	}

	return &Destination{Scheme: scheme, Host: asciiHost, Port: portNum, PathPrefix: pathPrefix}, nil
}

// Request evaluates a destination against the gate's current mode and
// allowlist, emitting the corresponding EGRESS_REQUEST_ALLOWED or
// EGRESS_REQUEST_BLOCKED audit event. It never opens a socket; callers
// use the returned Decision to decide whether to proceed.
func (g *Gate) Request(ctx context.Context, runID string, rawDestination, purpose, policyPackRef string) (Decision, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return Decision{}, fmt.Errorf("egress: rate limit wait: %w", err)
	}

	details := map[string]any{
		"destination":     rawDestination,
		"purpose":         purpose,
		"policy_pack_ref": policyPackRef,
	}

	if g.networkMode == types.NetworkOffline {
		details["block_reason"] = string(BlockOfflineMode)
		if _, err := g.auditLog.Append(types.EventEgressRequestBlocked, runID, types.ActorSystem, details); err != nil {
			return Decision{}, err
		}
		g.logger.Warn("egress request blocked", "run_id", runID, "block_reason", BlockOfflineMode, "destination", rawDestination)
		return Decision{Allowed: false, BlockReason: BlockOfflineMode}, nil
	}

	dest, err := Canonicalize(rawDestination)
	if err != nil {
		details["block_reason"] = string(BlockNotAllowlisted)
		details["canonicalize_error"] = err.Error()
		if _, aerr := g.auditLog.Append(types.EventEgressRequestBlocked, runID, types.ActorSystem, details); aerr != nil {
			return Decision{}, aerr
		}
		g.logger.Warn("egress request blocked", "run_id", runID, "block_reason", BlockNotAllowlisted, "destination", rawDestination, "canonicalize_error", err)
		return Decision{Allowed: false, BlockReason: BlockNotAllowlisted}, nil
	}

	ruleID, ok := g.match(dest)
	if !ok {
		details["block_reason"] = string(BlockNotAllowlisted)
		if _, aerr := g.auditLog.Append(types.EventEgressRequestBlocked, runID, types.ActorSystem, details); aerr != nil {
			return Decision{}, aerr
		}
		g.logger.Warn("egress request blocked", "run_id", runID, "block_reason", BlockNotAllowlisted, "destination", rawDestination)
		return Decision{Allowed: false, BlockReason: BlockNotAllowlisted}, nil
	}

	details["rule_id"] = ruleID
	if _, err := g.auditLog.Append(types.EventEgressRequestAllowed, runID, types.ActorSystem, details); err != nil {
		return Decision{}, err
	}
	g.logger.Info("egress request allowed", "run_id", runID, "rule_id", ruleID, "destination", rawDestination)
	return Decision{Allowed: true, RuleID: ruleID}, nil
}

// match returns the first allowlist entry matching dest's (scheme, host,
// port) exactly, with a path_prefix match when the entry specifies one.
func (g *Gate) match(dest *Destination) (ruleID string, ok bool) {
	for i, entry := range g.allowlist {
		if entry.Scheme != dest.Scheme || entry.Host != dest.Host || entry.Port != dest.Port {
			continue
		}
		if entry.PathPrefix != "" && !strings.HasPrefix(dest.PathPrefix, entry.PathPrefix) {
			continue
		}
		return fmt.Sprintf("allow_%d", i), true
	}
	return "", false
}

// BlockUIDirect records a direct-from-UI egress attempt, which is always
// refused regardless of network mode or allowlist — the gate is the only
// legitimate caller of an outbound socket.
func (g *Gate) BlockUIDirect(ctx context.Context, runID, rawDestination string) error {
	_, err := g.auditLog.Append(types.EventEgressRequestBlocked, runID, types.ActorUser, map[string]any{
		"destination":  rawDestination,
		"block_reason": string(BlockUIDirectEgressBlocked),
	})
	return err
}

// EffectiveProofLevel returns the strongest proof level the gate can
// currently substantiate. It never overstates its posture: OS-firewall
// proof is only returned when osFirewallAssertionValid reports true.
func (g *Gate) EffectiveProofLevel(osFirewallAssertionValid bool) types.ProofLevel {
	if g.networkMode == types.NetworkOffline {
		return types.ProofOfflineStrict
	}
	if osFirewallAssertionValid && g.proofLevel == types.ProofOnlineAllowlistWithOSFirewall {
		return types.ProofOnlineAllowlistWithOSFirewall
	}
	return types.ProofOnlineAllowlistCoreOnly
}
