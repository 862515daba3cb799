// Package config holds analyzer configuration: LLM provider settings,
// pipeline tuning knobs and the analysis store location. Configuration
// is loaded once per invocation from an optional YAML file, then
// overridden from environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LLMConfig configures the chat-completion provider.
type LLMConfig struct {
	// Provider: "openai-compatible" (default) or "gemini".
	Provider string `yaml:"provider"`
	// APIKeys are interchangeable upstream credentials rotated by the
	// key pool. At least one is required.
	APIKeys []string `yaml:"api_keys"`
	Model   string   `yaml:"model"`
	// BaseURL points at the upstream endpoint or the credential-hiding
	// proxy; the client contract is the same either way.
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// PipelineConfig tunes the orchestration pipeline.
type PipelineConfig struct {
	// MaxTokensPerChunk bounds the estimated token size of one chunk.
	// The estimate is len(text)/4, a heuristic ratio, so this is an
	// approximate budget rather than an exact tokenizer ceiling.
	MaxTokensPerChunk int `yaml:"max_tokens_per_chunk"`
	// OverlapSentences is how many trailing sentences of a closed chunk
	// are carried into the next one as context.
	OverlapSentences int `yaml:"overlap_sentences"`
	// BatchCap caps concurrent chunk analyses per batch; the effective
	// batch size is min(BatchCap, available credentials).
	BatchCap int `yaml:"batch_cap"`
	// MaxAttempts is the per-chunk retry ceiling across credentials.
	MaxAttempts int `yaml:"max_attempts"`
	// RightsCandidates is how many top-scored rights-bearing paragraphs
	// are submitted for party/type classification.
	RightsCandidates int `yaml:"rights_candidates"`
}

// StoreConfig locates the sqlite analysis store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Config is the root configuration.
type Config struct {
	LLM      LLMConfig      `yaml:"llm"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Store    StoreConfig    `yaml:"store"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider: "openai-compatible",
			Model:    "deepseek-chat",
			BaseURL:  "https://api.deepseek.com/v1",
			Timeout:  120 * time.Second,
		},
		Pipeline: PipelineConfig{
			MaxTokensPerChunk: 3000,
			OverlapSentences:  2,
			BatchCap:          4,
			MaxAttempts:       3,
			RightsCandidates:  25,
		},
		Store: StoreConfig{
			Path: ".analyzer/analyses.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from an optional YAML file and applies
// environment overrides. A missing file is not an error; env-only
// setups are common in deployments behind the proxy.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides maps environment variables onto the config.
// ANALYZER_API_KEYS is a comma-separated credential list; single-key
// provider variables are accepted as a fallback.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ANALYZER_API_KEYS"); v != "" {
		c.LLM.APIKeys = splitKeys(v)
	}
	if len(c.LLM.APIKeys) == 0 {
		for _, env := range []string{"DEEPSEEK_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY"} {
			if v := os.Getenv(env); v != "" {
				c.LLM.APIKeys = []string{v}
				if env == "GEMINI_API_KEY" && c.LLM.Provider == "" {
					c.LLM.Provider = "gemini"
				}
				break
			}
		}
	}
	if v := os.Getenv("ANALYZER_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("ANALYZER_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("ANALYZER_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("ANALYZER_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("ANALYZER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func splitKeys(v string) []string {
	parts := strings.Split(v, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			keys = append(keys, p)
		}
	}
	return keys
}
