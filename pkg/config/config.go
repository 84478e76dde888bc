// Package config provides runtime configuration for the orchestration runtime.
//
// Configuration comes from three places, in precedence order:
//
//  1. Environment variables recognised by the core (STATE_FILE,
//     SHUTDOWN_GRACE_SECONDS, DISPATCH_CACHE_TTL_SECONDS, LLM_ENDPOINT,
//     LLM_API_KEY, LLM_MODEL, RATE_LIMIT_PER_MINUTE).
//  2. An optional YAML skills file declaring skill profiles.
//  3. Compiled-in defaults.
//
// Secrets are never embedded in source or config files: LLM_API_KEY and other
// credentials resolve through the encrypted secrets file (secrets.go) with an
// environment-variable fallback.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names recognised by the core.
const (
	EnvStateFile        = "STATE_FILE"
	EnvShutdownGrace    = "SHUTDOWN_GRACE_SECONDS"
	EnvDispatchCacheTTL = "DISPATCH_CACHE_TTL_SECONDS"
	EnvLLMEndpoint      = "LLM_ENDPOINT"
	EnvLLMAPIKey        = "LLM_API_KEY"
	EnvLLMModel         = "LLM_MODEL"
	EnvRateLimit        = "RATE_LIMIT_PER_MINUTE"
	EnvSkillsFile       = "SKILLS_FILE"
)

// Defaults applied when the environment is silent.
const (
	DefaultStateFile          = "./state.json"
	DefaultShutdownGrace      = 10 * time.Second
	DefaultDispatchCacheTTL   = 30 * time.Second
	DefaultRateLimitPerMinute = 10
	DefaultLLMModel           = "gpt-4o-mini"
	DefaultHTTPTimeout        = 30 * time.Second
	DefaultAttemptTimeout     = 10 * time.Second
)

// LLMConfig selects and authenticates the language-model adapter.
type LLMConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"-"` // Resolved via secrets, never serialised
	Model    string `yaml:"model"`
}

// SkillProfileConfig is the YAML shape of a skill profile declaration.
type SkillProfileConfig struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Patterns []string `yaml:"patterns"` // Regular expressions, compiled at registration
	Priority int      `yaml:"priority"`
}

// Config is the runtime configuration assembled at startup.
type Config struct {
	StateFile          string
	ShutdownGrace      time.Duration
	DispatchCacheTTL   time.Duration
	RateLimitPerMinute int
	HTTPTimeout        time.Duration
	AttemptTimeout     time.Duration
	LLM                LLMConfig
	Skills             []SkillProfileConfig
}

// Load assembles the configuration from the environment and, when present,
// the YAML skills file. Malformed numeric values are rejected rather than
// silently defaulted.
func Load() (*Config, error) {
	cfg := &Config{
		StateFile:          envOr(EnvStateFile, DefaultStateFile),
		ShutdownGrace:      DefaultShutdownGrace,
		DispatchCacheTTL:   DefaultDispatchCacheTTL,
		RateLimitPerMinute: DefaultRateLimitPerMinute,
		HTTPTimeout:        DefaultHTTPTimeout,
		AttemptTimeout:     DefaultAttemptTimeout,
		LLM: LLMConfig{
			Endpoint: os.Getenv(EnvLLMEndpoint),
			Model:    envOr(EnvLLMModel, DefaultLLMModel),
		},
	}

	if v := os.Getenv(EnvShutdownGrace); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs < 0 {
			return nil, fmt.Errorf("invalid %s=%q", EnvShutdownGrace, v)
		}
		cfg.ShutdownGrace = time.Duration(secs) * time.Second
	}

	if v := os.Getenv(EnvDispatchCacheTTL); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs < 0 {
			return nil, fmt.Errorf("invalid %s=%q", EnvDispatchCacheTTL, v)
		}
		cfg.DispatchCacheTTL = time.Duration(secs) * time.Second
	}

	if v := os.Getenv(EnvRateLimit); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid %s=%q", EnvRateLimit, v)
		}
		cfg.RateLimitPerMinute = n
	}

	// API key resolves through the secrets layer with env fallback.
	if key, err := GetSecret(EnvLLMAPIKey); err == nil {
		cfg.LLM.APIKey = key
	}

	if path := os.Getenv(EnvSkillsFile); path != "" {
		skills, err := loadSkillsFile(path)
		if err != nil {
			return nil, err
		}
		cfg.Skills = skills
	}

	return cfg, nil
}

// loadSkillsFile parses skill profile declarations from YAML.
func loadSkillsFile(path string) ([]SkillProfileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read skills file %s: %w", path, err)
	}

	var doc struct {
		Skills []SkillProfileConfig `yaml:"skills"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse skills file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(doc.Skills))
	for i := range doc.Skills {
		s := &doc.Skills[i]
		if s.Name == "" {
			return nil, fmt.Errorf("skills file %s: profile %d has no name", path, i)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("skills file %s: duplicate profile %q", path, s.Name)
		}
		seen[s.Name] = true
	}

	return doc.Skills, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
