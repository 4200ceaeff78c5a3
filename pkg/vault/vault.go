// Package vault wires one vault's components together: ArtifactStore,
// AuditLog, PolicyEngine, EgressGate, and RunManager, all scoped to a
// single VaultConfig. It owns the lifetime of the resources the
// individual packages only describe (open files, open databases).
//
// Grounded on core/cmd/helm/main.go's composition root, which wires its
// store/firewall/pdp backends from a single Config value before
// dispatching a subcommand.
package vault

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
	"golang.org/x/time/rate"

	"github.com/govcore/govcore/pkg/artifacts"
	"github.com/govcore/govcore/pkg/audit"
	"github.com/govcore/govcore/pkg/config"
	"github.com/govcore/govcore/pkg/egress"
	"github.com/govcore/govcore/pkg/obslog"
	"github.com/govcore/govcore/pkg/policy"
	"github.com/govcore/govcore/pkg/run"
	"github.com/govcore/govcore/pkg/types"
)

// Vault is the open, live handle on one vault's resources.
type Vault struct {
	cfg *config.VaultConfig

	db           *sql.DB
	logger       *slog.Logger
	Artifacts    artifacts.Store
	AuditLog     *audit.Log
	PolicyLoader *policy.Loader
	Policy       *policy.Engine
	Egress       *egress.Gate
	Runs         *run.Manager
}

// Open constructs every component a vault needs from cfg, creating
// on-disk directories as needed. egressProfile is optional; when nil the
// gate starts with an empty allowlist under cfg.NetworkMode.
func Open(cfg *config.VaultConfig, egressProfile *config.EgressProfile) (*Vault, error) {
	logger := obslog.New("vault", nil).With("vault_id", cfg.VaultID)

	if err := os.MkdirAll(cfg.ArtifactStoreDir, 0o755); err != nil {
		return nil, fmt.Errorf("vault: ensure artifact store dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.AuditLogPath), 0o755); err != nil {
		return nil, fmt.Errorf("vault: ensure audit log dir: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(cfg.ArtifactStoreDir, "meta.db"))
	if err != nil {
		return nil, fmt.Errorf("vault: open metadata db: %w", err)
	}

	store, err := artifacts.NewSQLiteStore(filepath.Join(cfg.ArtifactStoreDir, "blobs"), db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("vault: open artifact store: %w", err)
	}

	auditLog, err := audit.Open(cfg.AuditLogPath, cfg.VaultID)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("vault: open audit log: %w", err)
	}

	loader, err := policy.NewLoader(cfg.PolicyBundleDir)
	if err != nil {
		db.Close()
		auditLog.Close()
		return nil, fmt.Errorf("vault: build policy loader: %w", err)
	}
	if _, statErr := os.Stat(cfg.PolicyBundleDir); statErr == nil {
		if err := loader.LoadAll(); err != nil {
			db.Close()
			auditLog.Close()
			return nil, fmt.Errorf("vault: load policy bundles: %w", err)
		}
	}
	policyEngine := policy.NewEngine(loader)

	networkMode := cfg.NetworkMode
	var allowlist []egress.AllowlistEntry
	if egressProfile != nil {
		networkMode = egressProfile.NetworkMode
		allowlist = egressProfile.ToAllowlist()
	}
	proofLevel := types.ProofOnlineAllowlistCoreOnly
	if networkMode == types.NetworkOffline {
		proofLevel = types.ProofOfflineStrict
	}
	gate := egress.New(networkMode, proofLevel, allowlist, rate.NewLimiter(rate.Limit(50), 50), auditLog)
	gate.SetLogger(obslog.New("egress", nil).With("vault_id", cfg.VaultID))

	mgr := run.NewManager(auditLog, policyEngine)
	mgr.SetLogger(obslog.New("run", nil).With("vault_id", cfg.VaultID))
	mgr.SetEgressGate(gate)

	if _, err := auditLog.Append(types.EventVaultOpened, "", types.ActorSystem, map[string]any{
		"vault_id": cfg.VaultID,
	}); err != nil {
		db.Close()
		auditLog.Close()
		return nil, fmt.Errorf("vault: record VAULT_OPENED: %w", err)
	}
	logger.Info("vault opened")

	return &Vault{
		cfg:          cfg,
		db:           db,
		logger:       logger,
		Artifacts:    store,
		AuditLog:     auditLog,
		PolicyLoader: loader,
		Policy:       policyEngine,
		Egress:       gate,
		Runs:         mgr,
	}, nil
}

// Config returns the VaultConfig this vault was opened with.
func (v *Vault) Config() *config.VaultConfig {
	return v.cfg
}

// Close records VAULT_CLOSED and releases every open resource, combining
// any close-time errors rather than dropping all but the first.
func (v *Vault) Close() error {
	_, appendErr := v.AuditLog.Append(types.EventVaultClosed, "", types.ActorSystem, map[string]any{
		"vault_id": v.cfg.VaultID,
	})
	auditErr := v.AuditLog.Close()
	dbErr := v.db.Close()
	v.logger.Info("vault closed")
	return errors.Join(appendErr, auditErr, dbErr)
}
