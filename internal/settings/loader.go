package settings

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/caarlos0/env/v11"
	"github.com/haasonsaas/ticketworker/internal/errs"
)

// Load reads the JSON settings file at path, applies defaults, overlays
// secrets from the environment, and validates the result. A missing file or
// a file with zero LLM configs is a ConfigError (spec §4.1 step 1 / §7).
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.NewConfigError("settings file not found at "+path, err)
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errs.NewConfigError("settings file is not valid JSON", err)
	}

	s.ApplyDefaults()

	// Environment overlay lets secrets (API keys, git credentials) be
	// injected by the container supervisor without living in the settings
	// file on disk.
	for i := range s.LLMConfigs {
		if err := env.Parse(&s.LLMConfigs[i]); err != nil {
			return nil, errs.NewConfigError("failed to parse environment overlay for llmConfigs", err)
		}
	}
	if err := env.Parse(&s.GitConfig); err != nil {
		return nil, errs.NewConfigError("failed to parse environment overlay for gitConfig", err)
	}
	if err := env.Parse(&s.WebSearch); err != nil {
		return nil, errs.NewConfigError("failed to parse environment overlay for webSearch", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate enforces the "zero LLM configs" ConfigError case from spec §4.1.
func (s *Settings) Validate() error {
	if len(s.LLMConfigs) == 0 {
		return errs.NewConfigError("settings must declare at least one llmConfig", nil)
	}
	for i, c := range s.LLMConfigs {
		if c.Model == "" {
			return errs.NewConfigError("llmConfigs["+strconv.Itoa(i)+"].model is required", nil)
		}
	}
	return nil
}
