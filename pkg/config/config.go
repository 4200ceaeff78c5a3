// Package config loads vault configuration from a YAML file layered with
// environment variable overrides, following a default-then-override
// Load() shape.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/govcore/govcore/pkg/types"
)

// VaultConfig is the on-disk configuration for one vault.
type VaultConfig struct {
	VaultID            string               `yaml:"vault_id"`
	ArtifactStoreDir   string               `yaml:"artifact_store_dir"`
	AuditLogPath       string               `yaml:"audit_log_path"`
	PolicyBundleDir    string               `yaml:"policy_bundle_dir"`
	PolicyMode         types.PolicyMode     `yaml:"policy_mode"`
	NetworkMode        types.NetworkMode    `yaml:"network_mode"`
	DeterminismEnabled bool                 `yaml:"determinism_enabled"`
	ExportProfile      types.ExportProfile  `yaml:"export_profile"`
	PinningFloor       types.PinningLevel   `yaml:"pinning_floor"`
	LogLevel           string               `yaml:"log_level"`
	EvalConcurrency    int                  `yaml:"eval_concurrency"`
}

func defaults() *VaultConfig {
	return &VaultConfig{
		ArtifactStoreDir:   "./vault/artifacts",
		AuditLogPath:       "./vault/audit_log.ndjson",
		PolicyBundleDir:    "./vault/policy",
		PolicyMode:         types.PolicyBalanced,
		NetworkMode:        types.NetworkOffline,
		DeterminismEnabled: true,
		ExportProfile:      types.ExportProfile{Inputs: types.InputsHashOnly, DeterminismEnabled: true},
		PinningFloor:       types.PinningVersionPinned,
		LogLevel:           "INFO",
		EvalConcurrency:    4,
	}
}

// Load reads a vault configuration YAML file at path (if it exists),
// falling back to built-in defaults for any field it doesn't set, then
// applies environment variable overrides on top.
func Load(path string) (*VaultConfig, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.VaultID == "" {
		return nil, fmt.Errorf("config: vault_id is required")
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *VaultConfig) {
	if v := os.Getenv("GOVCORE_VAULT_ID"); v != "" {
		cfg.VaultID = v
	}
	if v := os.Getenv("GOVCORE_ARTIFACT_STORE_DIR"); v != "" {
		cfg.ArtifactStoreDir = v
	}
	if v := os.Getenv("GOVCORE_AUDIT_LOG_PATH"); v != "" {
		cfg.AuditLogPath = v
	}
	if v := os.Getenv("GOVCORE_POLICY_MODE"); v != "" {
		cfg.PolicyMode = types.PolicyMode(v)
	}
	if v := os.Getenv("GOVCORE_NETWORK_MODE"); v != "" {
		cfg.NetworkMode = types.NetworkMode(v)
	}
	if v := os.Getenv("GOVCORE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("GOVCORE_DETERMINISM_ENABLED"); v != "" {
		cfg.DeterminismEnabled = v == "true"
		cfg.ExportProfile.DeterminismEnabled = cfg.DeterminismEnabled
	}
}
