// Package config loads the agent profile: the host-declared categories,
// per-category required fields, personality, tools, knowledge sources and
// tuning values the orchestrator polls at runtime.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"support-agent/internal/domain"
)

const (
	defaultPersonality = "You are a helpful assistant."
	defaultModel       = "gpt-4"
)

// Profile is an agent configuration. The zero value plus ApplyDefaults is
// a working profile with no classification configured.
type Profile struct {
	Name                string                       `yaml:"name"`
	Model               string                       `yaml:"model"`
	PersonalityText     string                       `yaml:"personality"`
	ConfidenceThreshold float64                      `yaml:"confidence_threshold"`
	CategoryNames       []string                     `yaml:"categories"`
	CategoryReqs        []domain.CategoryRequirement `yaml:"requirements"`
	Tools               []string                     `yaml:"tools"`
	Knowledge           []string                     `yaml:"knowledge"`
}

// Load reads and validates a profile from a YAML file.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// ApplyDefaults fills the blanks a host may legitimately omit.
func (p *Profile) ApplyDefaults() {
	if strings.TrimSpace(p.PersonalityText) == "" {
		p.PersonalityText = defaultPersonality
	}
	if strings.TrimSpace(p.Model) == "" {
		p.Model = defaultModel
	}
	if p.ConfidenceThreshold == 0 {
		p.ConfidenceThreshold = 0.7
	}
}

// Validate rejects profiles the orchestrator cannot run with: blank or
// duplicate category names, and requirements referencing undeclared
// categories.
func (p *Profile) Validate() error {
	seen := make(map[string]struct{}, len(p.CategoryNames))
	for _, c := range p.CategoryNames {
		if strings.TrimSpace(c) == "" {
			return errors.New("config: category names must not be blank")
		}
		if _, dup := seen[c]; dup {
			return fmt.Errorf("config: duplicate category %q", c)
		}
		seen[c] = struct{}{}
	}
	for _, req := range p.CategoryReqs {
		if _, ok := seen[req.Category]; !ok {
			return fmt.Errorf("config: requirements declared for unknown category %q", req.Category)
		}
		for _, f := range req.RequiredFields {
			if strings.TrimSpace(f) == "" {
				return fmt.Errorf("config: category %q declares a blank required field", req.Category)
			}
		}
	}
	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 1 {
		return fmt.Errorf("config: confidence threshold %v out of [0,1]", p.ConfidenceThreshold)
	}
	return nil
}

// usecase.Profile implementation.

func (p *Profile) Categories() []string                       { return p.CategoryNames }
func (p *Profile) Requirements() []domain.CategoryRequirement { return p.CategoryReqs }
func (p *Profile) Personality() string                        { return p.PersonalityText }
func (p *Profile) ToolNames() []string                        { return p.Tools }
func (p *Profile) KnowledgeSources() []string                 { return p.Knowledge }
