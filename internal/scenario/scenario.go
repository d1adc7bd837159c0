// Package scenario loads run templates: the clan roster, the role slots
// per clan, and the fixed phase sequence with default durations.
package scenario

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Template describes one complete exercise scenario
type Template struct {
	Name   string          `yaml:"name"`
	Clans  []ClanTemplate  `yaml:"clans"`
	Phases []PhaseTemplate `yaml:"phases"`
}

// ClanTemplate describes a faction and its role slots
type ClanTemplate struct {
	Name           string         `yaml:"name"`
	Description    string         `yaml:"description"`
	Motto          string         `yaml:"motto"`
	Color          string         `yaml:"color"`
	HasContingency bool           `yaml:"has_contingency"`
	Roles          []RoleTemplate `yaml:"roles"`
}

// RoleTemplate describes one character slot
type RoleTemplate struct {
	Name string `yaml:"name"`
}

// PhaseTemplate describes one step of the fixed phase sequence
type PhaseTemplate struct {
	Name            string `yaml:"name"`
	DurationMinutes int    `yaml:"duration_minutes"`
}

// RoleSlotCounts returns the number of role slots per clan, in clan order
func (t Template) RoleSlotCounts() []int {
	counts := make([]int, len(t.Clans))
	for i, c := range t.Clans {
		counts[i] = len(c.Roles)
	}
	return counts
}

// DefaultDurations returns the default duration per phase, in sequence order
func (t Template) DefaultDurations() []int {
	durations := make([]int, len(t.Phases))
	for i, p := range t.Phases {
		durations[i] = p.DurationMinutes
	}
	return durations
}

// Validate checks the template shape before any records are materialized
func (t Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("scenario: template has no name")
	}
	if len(t.Clans) == 0 {
		return fmt.Errorf("scenario: template %q has no clans", t.Name)
	}
	if len(t.Phases) == 0 {
		return fmt.Errorf("scenario: template %q has no phases", t.Name)
	}
	seen := make(map[string]bool)
	for i, c := range t.Clans {
		if c.Name == "" {
			return fmt.Errorf("scenario: clan %d has no name", i)
		}
		if seen[c.Name] {
			return fmt.Errorf("scenario: duplicate clan name %q", c.Name)
		}
		seen[c.Name] = true
		if len(c.Roles) == 0 {
			return fmt.Errorf("scenario: clan %q has no role slots", c.Name)
		}
		for j, r := range c.Roles {
			if r.Name == "" {
				return fmt.Errorf("scenario: clan %q role %d has no name", c.Name, j)
			}
		}
	}
	for i, p := range t.Phases {
		if p.Name == "" {
			return fmt.Errorf("scenario: phase %d has no name", i)
		}
		if p.DurationMinutes <= 0 {
			return fmt.Errorf("scenario: phase %q has a non-positive duration", p.Name)
		}
	}
	return nil
}

// Parse decodes a scenario template from YAML bytes and validates it
func Parse(data []byte) (Template, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Template{}, fmt.Errorf("scenario: template payload is empty")
	}
	var tpl Template
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return Template{}, fmt.Errorf("scenario: decode template: %w", err)
	}
	if err := tpl.Validate(); err != nil {
		return Template{}, err
	}
	return tpl, nil
}

// LoadReader reads and parses a scenario template from an io.Reader
func LoadReader(r io.Reader) (Template, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return Template{}, fmt.Errorf("scenario: read template: %w", err)
	}
	return Parse(content)
}

// LoadFile loads a scenario template from a file path
func LoadFile(path string) (Template, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Template{}, fmt.Errorf("scenario: read %s: %w", path, err)
	}
	tpl, parseErr := Parse(content)
	if parseErr != nil {
		return Template{}, fmt.Errorf("scenario: %s: %w", path, parseErr)
	}
	return tpl, nil
}
