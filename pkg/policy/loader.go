// Package policy implements PolicyEngine: policy_mode predicates and an
// external CEL policy-bundle loader.
//
// Grounded on core/pkg/policyloader/loader.go (bundle directory scanning,
// priority ordering, hot reload callback) and core/pkg/pdp/pdp.go (the
// fail-closed PolicyDecisionPoint contract and canonical decision
// hashing), with the loader's CEL expression field actually compiled and
// evaluated via google/cel-go instead of stored as an inert string with
// no backend wired to it.
package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/govcore/govcore/pkg/canonicalize"
)

// RuleAction is what happens when a rule's expression evaluates true.
type RuleAction string

const (
	ActionBlock RuleAction = "BLOCK"
	ActionWarn  RuleAction = "WARN"
	ActionLog   RuleAction = "LOG"
)

// Rule is a single CEL governance rule loaded from an external bundle.
type Rule struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Expression  string     `json:"expression"`
	Action      RuleAction `json:"action"`
	Priority    int        `json:"priority"`
	Enabled     bool       `json:"enabled"`

	program cel.Program
}

// Bundle is a versioned collection of rules, content-addressed by Hash.
type Bundle struct {
	Version   string    `json:"version"`
	Name      string    `json:"name"`
	Rules     []Rule    `json:"rules"`
	CreatedAt time.Time `json:"created_at"`
	Hash      string    `json:"hash,omitempty"`
}

// Loader loads and compiles policy bundles from a directory on disk.
type Loader struct {
	mu        sync.RWMutex
	env       *cel.Env
	bundles   map[string]*Bundle
	bundleDir string
	onReload  func(*Bundle)
}

// NewLoader builds a Loader whose CEL environment declares the variables
// policy rules reference: policy_mode, pinning_level, has_citations,
// has_redactions, is_sensitive, and blocker_gates_passed.
func NewLoader(bundleDir string) (*Loader, error) {
	env, err := cel.NewEnv(
		cel.Variable("policy_mode", cel.StringType),
		cel.Variable("pinning_level", cel.StringType),
		cel.Variable("has_citations", cel.BoolType),
		cel.Variable("has_redactions", cel.BoolType),
		cel.Variable("is_sensitive", cel.BoolType),
		cel.Variable("blocker_gates_passed", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: build cel env: %w", err)
	}
	return &Loader{env: env, bundles: make(map[string]*Bundle), bundleDir: bundleDir}, nil
}

// OnReload registers a callback invoked whenever a bundle loads or reloads.
func (l *Loader) OnReload(fn func(*Bundle)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onReload = fn
}

// LoadAll loads every .json bundle in the configured directory.
func (l *Loader) LoadAll() error {
	entries, err := os.ReadDir(l.bundleDir)
	if err != nil {
		return fmt.Errorf("policy: read bundle dir %s: %w", l.bundleDir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		if err := l.LoadFile(filepath.Join(l.bundleDir, entry.Name())); err != nil {
			return fmt.Errorf("policy: load %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// LoadFile loads, compiles, and activates a single bundle file.
func (l *Loader) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("policy: read file: %w", err)
	}

	var bundle Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return fmt.Errorf("policy: parse bundle: %w", err)
	}
	if bundle.Name == "" {
		bundle.Name = filepath.Base(path)
	}

	for i := range bundle.Rules {
		if err := l.compileRule(&bundle.Rules[i]); err != nil {
			return fmt.Errorf("policy: compile rule %s: %w", bundle.Rules[i].ID, err)
		}
	}

	bundle.Hash, err = canonicalize.Hash(bundleHashable(bundle))
	if err != nil {
		return fmt.Errorf("policy: hash bundle: %w", err)
	}

	l.mu.Lock()
	l.bundles[bundle.Name] = &bundle
	callback := l.onReload
	l.mu.Unlock()

	if callback != nil {
		callback(&bundle)
	}
	return nil
}

func bundleHashable(b Bundle) map[string]any {
	rules := make([]map[string]any, 0, len(b.Rules))
	for _, r := range b.Rules {
		rules = append(rules, map[string]any{
			"id":         r.ID,
			"expression": r.Expression,
			"action":     string(r.Action),
			"priority":   int64(r.Priority),
			"enabled":    r.Enabled,
		})
	}
	return map[string]any{"version": b.Version, "name": b.Name, "rules": rules}
}

func (l *Loader) compileRule(r *Rule) error {
	ast, issues := l.env.Compile(r.Expression)
	if issues != nil && issues.Err() != nil {
		return issues.Err()
	}
	prg, err := l.env.Program(ast)
	if err != nil {
		return err
	}
	r.program = prg
	return nil
}

// Bundle returns a loaded bundle by name.
func (l *Loader) Bundle(name string) (*Bundle, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.bundles[name]
	return b, ok
}

// ActiveRules returns every enabled rule across all loaded bundles,
// ordered by descending priority, ties broken by rule ID for determinism.
func (l *Loader) ActiveRules() []Rule {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var rules []Rule
	for _, b := range l.bundles {
		for _, r := range b.Rules {
			if r.Enabled {
				rules = append(rules, r)
			}
		}
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
	return rules
}
