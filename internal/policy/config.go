package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/goccy/go-yaml"
)

// ColumnConfig is the column-policy source: which columns to validate and
// the policy for each. Column names compare case-insensitively.
type ColumnConfig struct {
	SelectedColumns []string          `json:"selected_columns" yaml:"selected_columns"`
	Policies        map[string]Policy `json:"policies" yaml:"policies"`
}

// PolicyFor returns the policy bound to column, or None.
func (c *ColumnConfig) PolicyFor(column string) Policy {
	if c == nil {
		return None()
	}
	if p, ok := c.Policies[column]; ok {
		return p
	}
	for k, p := range c.Policies {
		if strings.EqualFold(strings.TrimSpace(k), strings.TrimSpace(column)) {
			return p
		}
	}
	return None()
}

// Columns returns the selected columns in configured order. When none are
// selected explicitly, every column with a policy other than None is used,
// sorted by name.
func (c *ColumnConfig) Columns() []string {
	if c == nil {
		return nil
	}
	if len(c.SelectedColumns) > 0 {
		return c.SelectedColumns
	}
	var cols []string
	for k, p := range c.Policies {
		if p.Type != TypeNone {
			cols = append(cols, k)
		}
	}
	slices.Sort(cols)
	return cols
}

const currentVersion = 1

// envelope is the versioned on-disk format.
type envelope struct {
	Version int           `json:"version" yaml:"version"`
	Columns *ColumnConfig `json:"columns" yaml:"columns"`
}

// Load reads a column configuration from a YAML or JSON file. A missing
// file yields an empty configuration.
func Load(path string) (*ColumnConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ColumnConfig{Policies: map[string]Policy{}}, nil
		}
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a configuration document.
func Parse(data []byte) (*ColumnConfig, error) {
	var env envelope
	if err := yaml.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	if env.Version == 0 {
		return nil, fmt.Errorf("policy file has no version")
	}
	if env.Version > currentVersion {
		return nil, fmt.Errorf("policy file version %d is newer than supported version %d", env.Version, currentVersion)
	}

	cfg := env.Columns
	if cfg == nil {
		cfg = &ColumnConfig{}
	}
	if cfg.Policies == nil {
		cfg.Policies = map[string]Policy{}
	}
	return cfg, nil
}

// Save writes cfg atomically: a temp file is written, read back, then
// renamed over path. Files ending in .json are written as JSON.
func Save(path string, cfg *ColumnConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create policy directory: %w", err)
	}

	env := envelope{Version: currentVersion, Columns: cfg}
	var opts []yaml.EncodeOption
	if strings.EqualFold(filepath.Ext(path), ".json") {
		opts = append(opts, yaml.JSON())
	}
	data, err := yaml.MarshalWithOptions(env, opts...)
	if err != nil {
		return fmt.Errorf("marshal policy file: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if _, err := Parse(data); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("round-trip validation: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename policy file: %w", err)
	}
	return nil
}
