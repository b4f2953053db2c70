// Package agent holds per-tenant conversational agent configuration.
package agent

import (
	"errors"
	"strings"
	"time"
)

// ErrConfigNotFound is returned when a tenant has no agent configuration.
var ErrConfigNotFound = errors.New("agent: configuration not found")

const (
	DefaultQuietPeriodMs  int64   = 30000
	DefaultChunkMaxLength         = 300
	DefaultPacingDelayMs  int64   = 1500
	DefaultPacingMinMs    int64   = 1000
	DefaultPacingMaxMs    int64   = 3000
	DefaultLanguage               = "pt-BR"
	DefaultProvider               = ProviderBedrock
	DefaultTemperature    float32 = 0.7
	DefaultMaxTokens      int32   = 512
	DefaultModelTimeoutMs int64   = 30000
)

// Model providers.
const (
	ProviderBedrock = "bedrock"
	ProviderGemini  = "gemini"
)

// Persona describes who the agent speaks as.
type Persona struct {
	Name        string `json:"name,omitempty"`
	Company     string `json:"company,omitempty"`
	Role        string `json:"role,omitempty"`
	Tone        string `json:"tone,omitempty"`
	Description string `json:"description,omitempty"`
}

// KnowledgeEntry is one curated question and answer pair.
type KnowledgeEntry struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Pacing controls the delay between reply chunks. A nil DelayMs or MinMs is
// unset; an explicit zero means no delay.
type Pacing struct {
	DelayMs   *int64 `json:"delay_ms,omitempty"`
	Randomize bool   `json:"randomize,omitempty"`
	MinMs     *int64 `json:"min_ms,omitempty"`
	MaxMs     int64  `json:"max_ms,omitempty"`
}

// FixedDelay is the delay used when pacing is not randomized.
func (p Pacing) FixedDelay() time.Duration {
	return millis(p.DelayMs, DefaultPacingDelayMs)
}

// Bounds returns the randomized pacing range, ordered.
func (p Pacing) Bounds() (lo, hi time.Duration) {
	lo = millis(p.MinMs, DefaultPacingMinMs)
	hi = time.Duration(p.MaxMs) * time.Millisecond
	if p.MaxMs <= 0 {
		hi = time.Duration(DefaultPacingMaxMs) * time.Millisecond
	}
	if hi < lo {
		lo, hi = hi, lo
	}
	return lo, hi
}

func millis(v *int64, def int64) time.Duration {
	if v == nil || *v < 0 {
		return time.Duration(def) * time.Millisecond
	}
	return time.Duration(*v) * time.Millisecond
}

// Model selects and tunes the inference engine.
type Model struct {
	Provider         string   `json:"provider,omitempty"`
	ModelID          string   `json:"model_id,omitempty"`
	Temperature      *float32 `json:"temperature,omitempty"`
	TopP             float32  `json:"top_p,omitempty"`
	MaxTokens        int32    `json:"max_tokens,omitempty"`
	TimeoutMs        int64    `json:"timeout_ms,omitempty"`
	FallbackProvider string   `json:"fallback_provider,omitempty"`
	FallbackModelID  string   `json:"fallback_model_id,omitempty"`
}

// SamplingTemperature returns the configured temperature; zero is honored.
func (m Model) SamplingTemperature() float32 {
	if m.Temperature == nil || *m.Temperature < 0 {
		return DefaultTemperature
	}
	return *m.Temperature
}

// Credentials carries the model API key, inline or as an SSM parameter name.
type Credentials struct {
	APIKey          string `json:"api_key,omitempty"`
	APIKeyParameter string `json:"api_key_parameter,omitempty"`
}

// Config is the full agent configuration for one tenant.
type Config struct {
	TenantID      string           `json:"tenant_id"`
	Persona       Persona          `json:"persona"`
	KnowledgeBase []KnowledgeEntry `json:"knowledge_base,omitempty"`
	Rules         []string         `json:"rules,omitempty"`
	Language      string           `json:"language,omitempty"`

	DebounceDisabled bool  `json:"debounce_disabled,omitempty"`
	QuietPeriodMs    int64 `json:"quiet_period_ms,omitempty"`

	ChunkMaxLength int    `json:"chunk_max_length,omitempty"`
	Pacing         Pacing `json:"pacing"`

	Model       Model       `json:"model"`
	Credentials Credentials `json:"credentials"`

	// SummaryVariant appends a media summary line to the aggregated context.
	SummaryVariant bool `json:"summary_variant,omitempty"`
}

// Normalize fills unset fields with defaults. Zero counts as unset except
// for the pointer fields, where only nil or negative values do.
func (c *Config) Normalize() {
	c.TenantID = strings.TrimSpace(c.TenantID)
	if strings.TrimSpace(c.Language) == "" {
		c.Language = DefaultLanguage
	}
	if c.QuietPeriodMs <= 0 {
		c.QuietPeriodMs = DefaultQuietPeriodMs
	}
	if c.ChunkMaxLength <= 0 {
		c.ChunkMaxLength = DefaultChunkMaxLength
	}

	c.Pacing.DelayMs = Int64(c.Pacing.FixedDelay().Milliseconds())
	lo, hi := c.Pacing.Bounds()
	c.Pacing.MinMs = Int64(lo.Milliseconds())
	c.Pacing.MaxMs = hi.Milliseconds()

	c.Model.Provider = strings.ToLower(strings.TrimSpace(c.Model.Provider))
	if c.Model.Provider == "" {
		c.Model.Provider = DefaultProvider
	}
	c.Model.FallbackProvider = strings.ToLower(strings.TrimSpace(c.Model.FallbackProvider))
	c.Model.Temperature = Float32(c.Model.SamplingTemperature())
	if c.Model.MaxTokens <= 0 {
		c.Model.MaxTokens = DefaultMaxTokens
	}
	if c.Model.TimeoutMs <= 0 {
		c.Model.TimeoutMs = DefaultModelTimeoutMs
	}
}

// DebounceEnabled reports whether messages are buffered before replying.
func (c *Config) DebounceEnabled() bool {
	return c != nil && !c.DebounceDisabled
}

// ModelTimeout returns the per-call inference timeout.
func (c *Config) ModelTimeout() time.Duration {
	if c.Model.TimeoutMs <= 0 {
		return time.Duration(DefaultModelTimeoutMs) * time.Millisecond
	}
	return time.Duration(c.Model.TimeoutMs) * time.Millisecond
}

// Clone returns a deep copy so cached configs are never mutated by callers.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	if c.Pacing.DelayMs != nil {
		out.Pacing.DelayMs = Int64(*c.Pacing.DelayMs)
	}
	if c.Pacing.MinMs != nil {
		out.Pacing.MinMs = Int64(*c.Pacing.MinMs)
	}
	if c.Model.Temperature != nil {
		out.Model.Temperature = Float32(*c.Model.Temperature)
	}
	out.KnowledgeBase = append([]KnowledgeEntry(nil), c.KnowledgeBase...)
	out.Rules = append([]string(nil), c.Rules...)
	return &out
}

// Int64 returns a pointer to v, for optional config fields.
func Int64(v int64) *int64 { return &v }

// Float32 returns a pointer to v, for optional config fields.
func Float32(v float32) *float32 { return &v }
