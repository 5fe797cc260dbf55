// Package rulepack loads user-authored YAML rule-pack overlays that
// add/override rule metadata without recompiling, mirroring the teacher's
// policy.Pack/LoadPacks shape (internal/policy/pack.go: read every .yaml
// file in a directory, an underscore-prefixed filename disables a pack,
// merge into a base) scoped to this domain's rule registry instead of
// shell-command rules.
package rulepack

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/diffsec/clrsentry/internal/ilmodel"
	"github.com/diffsec/clrsentry/internal/rules"
)

// ruleOverrideYAML is the on-disk shape of one rule override entry.
type ruleOverrideYAML struct {
	ID                string  `yaml:"id"`
	Severity          *string `yaml:"severity"`
	RequiresCompanion *bool   `yaml:"requiresCompanion"`
	Description       *string `yaml:"description"`
}

// packYAML is the on-disk shape of one rule-pack file.
type packYAML struct {
	Name        string             `yaml:"name"`
	Description string             `yaml:"description"`
	Version     string             `yaml:"version"`
	Author      string             `yaml:"author"`
	Rules       []ruleOverrideYAML `yaml:"rules"`
}

// Info summarizes one loaded pack for `clrsentry pack list`.
type Info struct {
	Name      string
	Version   string
	Author    string
	Path      string
	Enabled   bool
	RuleCount int
}

// LoadDir reads every .yaml/.yml file in dir and merges their rule
// overrides into a single map keyed by rule id. A filename prefixed with
// "_" is loaded (for listing) but not applied.
func LoadDir(dir string) (map[string]rules.Override, []Info, error) {
	overrides := make(map[string]rules.Override)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return overrides, nil, nil
		}
		return nil, nil, err
	}

	var infos []Info
	for _, entry := range entries {
		if entry.IsDir() || !isYAMLFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		baseName := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		enabled := !strings.HasPrefix(baseName, "_")

		pack, err := loadPack(path)
		if err != nil {
			infos = append(infos, Info{Name: baseName, Path: path, Enabled: enabled})
			continue
		}
		name := pack.Name
		if name == "" {
			name = baseName
		}
		infos = append(infos, Info{Name: name, Version: pack.Version, Author: pack.Author, Path: path, Enabled: enabled, RuleCount: len(pack.Rules)})
		if !enabled {
			continue
		}
		for _, r := range pack.Rules {
			ov := overrides[r.ID]
			if r.Severity != nil {
				sev := ilmodel.ParseSeverity(*r.Severity)
				ov.Severity = &sev
			}
			if r.RequiresCompanion != nil {
				ov.RequiresCompanion = r.RequiresCompanion
			}
			if r.Description != nil {
				ov.Description = r.Description
			}
			overrides[r.ID] = ov
		}
	}
	return overrides, infos, nil
}

func loadPack(path string) (*packYAML, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pack packYAML
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("failed to parse rule pack %s: %w", path, err)
	}
	return &pack, nil
}

func isYAMLFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
