package deid

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Rule struct {
	Name    string `yaml:"name" json:"name"`
	Pattern string `yaml:"pattern" json:"pattern"`
	Mask    string `yaml:"mask" json:"mask"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

type RulesConfig struct {
	Rules []Rule `yaml:"rules" json:"rules"`
	// Identifiers are PatientInfo parameters replaced by a pseudonym as a whole.
	Identifiers []string `yaml:"identifiers" json:"identifiers"`
}

func LoadRules(path string) (RulesConfig, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultRules(), fmt.Errorf("read de-identification rules: %w", err)
	}

	var cfg RulesConfig
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return RulesConfig{}, err
	}

	if len(cfg.Rules) == 0 && len(cfg.Identifiers) == 0 {
		return RulesConfig{}, errors.New("no de-identification rules configured")
	}

	return cfg, nil
}

func DefaultRules() RulesConfig {
	return RulesConfig{
		Rules: []Rule{
			{Name: "birthdate", Pattern: `(?i)\b(?:geb\.?|geboren(?:\s+am)?)\s*\d{1,2}\.\d{1,2}\.\d{2,4}`, Mask: "geb. ##.##.####", Enabled: true},
			{Name: "email", Pattern: `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`, Mask: "***@***", Enabled: true},
			{Name: "phone", Pattern: `(?:\+49|\b0)\d{2,5}[\s/-]?\d{3,}(?:[\s-]?\d+)*\b`, Mask: "[TEL]", Enabled: true},
			{Name: "case_number", Pattern: `(?i)\b(?:Fall(?:-?ID|nummer)?|Pat(?:ienten)?-?ID|PID)[:\s]*\d{5,}\b`, Mask: "[ID]", Enabled: true},
			{Name: "salutation", Pattern: `\b(?:Herr|Frau|Hr\.|Fr\.)\s+[A-ZÄÖÜ][a-zäöüß]+(?:-[A-ZÄÖÜ][a-zäöüß]+)?`, Mask: "[NAME]", Enabled: true},
		},
		Identifiers: []string{"Name", "Vorname", "Nachname", "Fall-ID", "Patienten-ID", "Geburtsdatum"},
	}
}
