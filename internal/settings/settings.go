// Package settings loads and validates the worker's JSON settings file
// (spec §6 External Interfaces), following the teacher's
// internal/config loader pattern: unmarshal into a typed struct, apply
// defaults, then validate before use.
package settings

// LLMConfig describes one candidate LLM provider/model. Settings.LLMConfigs
// is ordered; index 0 is primary, the rest are fallback providers tried in
// order on persistent failure (spec §4.3 step 4).
type LLMConfig struct {
	APIKey           string   `json:"apiKey" env:"WORKER_LLM_API_KEY"`
	Model            string   `json:"model"`
	Endpoint         string   `json:"endpoint,omitempty"`
	ContextLength    int      `json:"contextLength"`
	InputTokenPrice  *float64 `json:"inputTokenPrice,omitempty"`
	OutputTokenPrice *float64 `json:"outputTokenPrice,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
}

// DefaultEndpoint is used when an LLMConfig's Endpoint is empty (spec §4.3
// step 3, "endpoint defaults to a well-known OpenAI-compatible URL").
const DefaultEndpoint = "https://api.openai.com/v1"

// ResolvedEndpoint returns Endpoint, or DefaultEndpoint if unset.
func (c LLMConfig) ResolvedEndpoint() string {
	if c.Endpoint == "" {
		return DefaultEndpoint
	}
	return c.Endpoint
}

// GitConfig carries the credentials and identity the workspace bootstrap
// uses to clone and commit.
type GitConfig struct {
	RepositoryURL string  `json:"repositoryUrl"`
	SSHKey        *string `json:"sshKey,omitempty" env:"WORKER_GIT_SSH_KEY"`
	Password      *string `json:"password,omitempty" env:"WORKER_GIT_PASSWORD"`
	APIToken      *string `json:"apiToken,omitempty" env:"WORKER_GIT_API_TOKEN"`
	Username      string  `json:"username"`
	Email         string  `json:"email"`
}

// CompactionMode selects whether and how conversation history is
// summarized when it grows too large.
type CompactionMode string

const (
	CompactionNone      CompactionMode = "none"
	CompactionSummarize CompactionMode = "summarize"
)

// CompactionConfig controls the compaction trigger threshold.
type CompactionConfig struct {
	Type                CompactionMode `json:"type"`
	ContextSizePercent  float64        `json:"contextSizePercent"`
}

// WebSearchConfig configures the optional web.search tool. A zero value
// (Endpoint == "") means web search is not configured and the tool is
// omitted from every role's tool set.
type WebSearchConfig struct {
	Endpoint string  `json:"endpoint,omitempty"`
	APIKey   string  `json:"apiKey,omitempty" env:"WORKER_WEBSEARCH_API_KEY"`
	MaxBytes int     `json:"maxBytes,omitempty"`
}

// Configured reports whether web search has an endpoint to call.
func (w WebSearchConfig) Configured() bool { return w.Endpoint != "" }

// StuckCounterConfig exposes the developer-phase stuck-counter thresholds
// as configuration rather than hardcoded constants (spec §9 Open Question:
// "thresholds 3/7 ... are policy, not invariants. Expose as configuration").
type StuckCounterConfig struct {
	NudgeAt        int `json:"nudgeAt"`
	ContextResetAt int `json:"contextResetAt"`
}

// Settings is the top-level JSON settings document.
type Settings struct {
	LLMConfigs  []LLMConfig         `json:"llmConfigs"`
	GitConfig   GitConfig           `json:"gitConfig"`
	Compaction  CompactionConfig    `json:"compaction"`
	WebSearch   WebSearchConfig     `json:"webSearch"`
	JSONLogging bool                `json:"jsonLogging"`
	StuckCounter StuckCounterConfig `json:"stuckCounter"`
}

// ApplyDefaults fills in zero-value fields with their documented defaults.
func (s *Settings) ApplyDefaults() {
	if s.Compaction.Type == "" {
		s.Compaction.Type = CompactionNone
	}
	if s.Compaction.ContextSizePercent <= 0 {
		s.Compaction.ContextSizePercent = 0.9
	}
	if s.StuckCounter.NudgeAt <= 0 {
		s.StuckCounter.NudgeAt = 3
	}
	if s.StuckCounter.ContextResetAt <= 0 {
		s.StuckCounter.ContextResetAt = 7
	}
	for i := range s.LLMConfigs {
		if s.LLMConfigs[i].ContextLength <= 0 {
			s.LLMConfigs[i].ContextLength = 128000
		}
	}
}

// PrimaryLLM returns the first configured LLM, the primary provider.
func (s *Settings) PrimaryLLM() (LLMConfig, bool) {
	if len(s.LLMConfigs) == 0 {
		return LLMConfig{}, false
	}
	return s.LLMConfigs[0], true
}
