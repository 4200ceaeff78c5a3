package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/govcore/govcore/pkg/egress"
	"github.com/govcore/govcore/pkg/types"
)

// EgressProfile is a named, file-defined allowlist preset for a vault's
// EgressGate, loaded the way a regional configuration profile is loaded:
// one YAML document per named profile, resolved by filename convention.
type EgressProfile struct {
	Name        string              `yaml:"name" json:"name"`
	NetworkMode types.NetworkMode   `yaml:"network_mode" json:"network_mode"`
	Allowlist   []AllowlistEntryYAML `yaml:"allowlist,omitempty" json:"allowlist,omitempty"`
}

// AllowlistEntryYAML is the YAML-facing shape of one egress.AllowlistEntry.
type AllowlistEntryYAML struct {
	Scheme     string `yaml:"scheme" json:"scheme"`
	Host       string `yaml:"host" json:"host"`
	Port       int    `yaml:"port" json:"port"`
	PathPrefix string `yaml:"path_prefix,omitempty" json:"path_prefix,omitempty"`
}

// ToAllowlist converts the YAML entries into egress.AllowlistEntry values.
func (p *EgressProfile) ToAllowlist() []egress.AllowlistEntry {
	out := make([]egress.AllowlistEntry, 0, len(p.Allowlist))
	for _, e := range p.Allowlist {
		out = append(out, egress.AllowlistEntry{
			Scheme:     e.Scheme,
			Host:       e.Host,
			Port:       e.Port,
			PathPrefix: e.PathPrefix,
		})
	}
	return out
}

// LoadEgressProfile loads profile_<name>.yaml from profilesDir.
func LoadEgressProfile(profilesDir, name string) (*EgressProfile, error) {
	name = strings.ToLower(name)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", name))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: load egress profile %q: %w", name, err)
	}

	var profile EgressProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("config: parse egress profile %q: %w", name, err)
	}
	if profile.Name == "" {
		profile.Name = name
	}
	if profile.NetworkMode == "" {
		profile.NetworkMode = types.NetworkOffline
	}
	return &profile, nil
}

// LoadAllEgressProfiles loads every profile_*.yaml file in profilesDir.
func LoadAllEgressProfiles(profilesDir string) (map[string]*EgressProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*EgressProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}

		var profile EgressProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}

		if profile.Name == "" {
			base := filepath.Base(path)
			profile.Name = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}
		profiles[profile.Name] = &profile
	}
	return profiles, nil
}
