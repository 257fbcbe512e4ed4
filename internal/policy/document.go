// Package policy loads the application block policy and classifies processes against it.
package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"inventariagent/internal/format"
)

// ErrEmptyPolicy is returned when a document parses but lists nothing.
var ErrEmptyPolicy = errors.New("policy document has no entries")

// Entry is one named executable with its category.
type Entry struct {
	Name     string `json:"name" yaml:"name"`
	Category string `json:"category" yaml:"category"`
}

// Document is the on-disk policy. The snake_case keys are the legacy
// spelling and are merged into the camelCase lists.
type Document struct {
	Blocked           []Entry  `json:"blocked" yaml:"blocked"`
	ExplicitlyAllowed []Entry  `json:"explicitlyAllowed" yaml:"explicitlyAllowed"`
	AllowedToolsClass []string `json:"allowedToolsClass" yaml:"allowedToolsClass"`

	LegacyExplicitlyAllowed []Entry  `json:"explicitly_allowed" yaml:"explicitly_allowed"`
	LegacyAllowedTools      []string `json:"allowed_tools_clase" yaml:"allowed_tools_clase"`
}

// ParseDocument decodes raw as YAML when name ends in .yaml/.yml, JSON otherwise.
func ParseDocument(name string, raw []byte) (Document, error) {
	var doc Document
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return Document{}, fmt.Errorf("decode yaml policy: %w", err)
		}
	default:
		if err := json.Unmarshal(raw, &doc); err != nil {
			return Document{}, fmt.Errorf("decode json policy: %w", err)
		}
	}
	return doc, nil
}

// ReadDocument reads and parses a policy file.
func ReadDocument(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	return ParseDocument(path, raw)
}

// Compile builds the immutable lookup tables.
func (d Document) Compile() (*Policy, error) {
	p := &Policy{
		blocked: make(map[string]string, len(d.Blocked)),
		allowed: make(map[string]bool),
		tools:   make(map[string]bool),
	}
	for _, e := range d.Blocked {
		if k := key(e.Name); k != "" {
			p.blocked[k] = strings.TrimSpace(e.Category)
		}
	}
	for _, e := range append(append([]Entry(nil), d.ExplicitlyAllowed...), d.LegacyExplicitlyAllowed...) {
		if k := key(e.Name); k != "" {
			p.allowed[k] = true
		}
	}
	for _, n := range append(append([]string(nil), d.AllowedToolsClass...), d.LegacyAllowedTools...) {
		if k := key(n); k != "" {
			p.tools[k] = true
		}
	}
	if len(p.blocked)+len(p.allowed)+len(p.tools) == 0 {
		return p, ErrEmptyPolicy
	}
	return p, nil
}

// key is the lookup form of an executable: lowercase base name without .exe,
// so "Steam.exe" and "steam" address the same entry.
func key(name string) string {
	return strings.TrimSuffix(format.BaseName(name), ".exe")
}
