package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/KaramelBytes/churnlens/internal/utils"
)

// EnvPrefix prefixes every environment override, e.g. CHURNLENS_API_KEY.
const EnvPrefix = "CHURNLENS"

// Global configuration structure.
type Global struct {
	APIKey          string  `mapstructure:"api_key" yaml:"api_key"`
	DefaultProvider string  `mapstructure:"default_provider" yaml:"default_provider"`
	DefaultModel    string  `mapstructure:"default_model" yaml:"default_model"`
	MaxTokens       int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature" yaml:"temperature"`

	// HTTP/Retry configuration
	HTTPTimeoutSec   int `mapstructure:"http_timeout_sec" yaml:"http_timeout_sec"`
	RetryMaxAttempts int `mapstructure:"retry_max_attempts" yaml:"retry_max_attempts"`
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs  int `mapstructure:"retry_max_delay_ms" yaml:"retry_max_delay_ms"`

	OllamaHost   string `mapstructure:"ollama_host" yaml:"ollama_host"`
	GeminiAPIKey string `mapstructure:"gemini_api_key" yaml:"gemini_api_key"`

	// Analysis
	ModelPath           string `mapstructure:"model_path" yaml:"model_path"`
	ExplainTopK         int    `mapstructure:"explain_top_k" yaml:"explain_top_k"`
	ExplainSamples      int    `mapstructure:"explain_samples" yaml:"explain_samples"`
	ExplainSeed         int64  `mapstructure:"explain_seed" yaml:"explain_seed"`
	ExplainTimeoutSec   int    `mapstructure:"explain_timeout_sec" yaml:"explain_timeout_sec"`
	NarrativeTimeoutSec int    `mapstructure:"narrative_timeout_sec" yaml:"narrative_timeout_sec"`
	ExplainWorkers      int    `mapstructure:"explain_workers" yaml:"explain_workers"`
	ChatContextTokens   int    `mapstructure:"chat_context_tokens" yaml:"chat_context_tokens"`

	// Server
	ListenAddr  string `mapstructure:"listen_addr" yaml:"listen_addr"`
	MaxUploadMB int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat   string `mapstructure:"log_format" yaml:"log_format"`
}

// every key needs a default, even an empty one, for AutomaticEnv to reach it
// through Unmarshal
var defaults = map[string]any{
	"api_key":               "",
	"gemini_api_key":        "",
	"default_provider":      "openai",
	"default_model":         "gpt-4o-mini",
	"max_tokens":            500,
	"temperature":           0.7,
	"http_timeout_sec":      60,
	"retry_max_attempts":    3,
	"retry_base_delay_ms":   500,
	"retry_max_delay_ms":    4000,
	"ollama_host":           "http://127.0.0.1:11434",
	"model_path":            "churn_model.yaml",
	"explain_top_k":         5,
	"explain_samples":       5000,
	"explain_seed":          42,
	"explain_timeout_sec":   90,
	"narrative_timeout_sec": 30,
	"explain_workers":       4,
	"chat_context_tokens":   3000,
	"listen_addr":           ":5000",
	"max_upload_mb":         32,
	"log_level":             "info",
	"log_format":            "text",
}

// DefaultDir is ~/.churnlens.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".churnlens"), nil
}

// Save writes the given configuration to cfgFile, or to
// ~/.churnlens/config.yaml when cfgFile is empty.
func Save(c *Global, cfgFile string) error {
	path := cfgFile
	if path == "" {
		dir, err := DefaultDir()
		if err != nil {
			return err
		}
		path = filepath.Join(dir, "config.yaml")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := utils.SafeWriteFile(path, b); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Load loads configuration from defaults, the config file, .env files and the
// environment. Precedence: env > .env > config file > defaults. Command-line
// flags are applied on top by the caller.
func Load(cfgFile string) (*Global, error) {
	// .env never overrides variables already set in the process environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	// an explicit --config that does not exist is an error; a missing default file is not
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects values that would make the service misbehave.
func (c *Global) Validate() error {
	var errs []error
	if c.ExplainTopK <= 0 {
		errs = append(errs, fmt.Errorf("explain_top_k must be positive, got %d", c.ExplainTopK))
	}
	if c.ExplainSamples < 2 {
		errs = append(errs, fmt.Errorf("explain_samples must be at least 2, got %d", c.ExplainSamples))
	}
	if c.ExplainWorkers <= 0 {
		errs = append(errs, fmt.Errorf("explain_workers must be positive, got %d", c.ExplainWorkers))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature must be in [0,2], got %v", c.Temperature))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

func (c *Global) HTTPTimeout() time.Duration      { return time.Duration(c.HTTPTimeoutSec) * time.Second }
func (c *Global) RetryBaseDelay() time.Duration   { return time.Duration(c.RetryBaseDelayMs) * time.Millisecond }
func (c *Global) RetryMaxDelay() time.Duration    { return time.Duration(c.RetryMaxDelayMs) * time.Millisecond }
func (c *Global) ExplainTimeout() time.Duration   { return time.Duration(c.ExplainTimeoutSec) * time.Second }
func (c *Global) NarrativeTimeout() time.Duration { return time.Duration(c.NarrativeTimeoutSec) * time.Second }
func (c *Global) MaxUploadBytes() int64           { return int64(c.MaxUploadMB) << 20 }

// setters maps each settable key to a parser writing into c.
var setters = map[string]func(c *Global, v string) error{
	"api_key":        func(c *Global, v string) error { c.APIKey = v; return nil },
	"gemini_api_key": func(c *Global, v string) error { c.GeminiAPIKey = v; return nil },
	"default_model":  func(c *Global, v string) error { c.DefaultModel = v; return nil },
	"default_provider": func(c *Global, v string) error {
		p := strings.ToLower(strings.TrimSpace(v))
		switch p {
		case "openrouter", "openai", "gemini", "ollama", "none":
			c.DefaultProvider = p
			return nil
		case "local":
			c.DefaultProvider = "ollama"
			return nil
		}
		return fmt.Errorf("invalid default_provider: %s (use openai, openrouter, gemini, ollama or none)", v)
	},
	"ollama_host": func(c *Global, v string) error { c.OllamaHost = v; return nil },
	"model_path":  func(c *Global, v string) error { c.ModelPath = v; return nil },
	"listen_addr": func(c *Global, v string) error { c.ListenAddr = v; return nil },
	"log_level":   func(c *Global, v string) error { c.LogLevel = v; return nil },
	"log_format":  func(c *Global, v string) error { c.LogFormat = v; return nil },
	"temperature": func(c *Global, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid float for temperature: %w", err)
		}
		c.Temperature = f
		return nil
	},
	"explain_seed": func(c *Global, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid int for explain_seed: %w", err)
		}
		c.ExplainSeed = n
		return nil
	},
	"max_tokens":            intSetter("max_tokens", func(c *Global) *int { return &c.MaxTokens }),
	"http_timeout_sec":      intSetter("http_timeout_sec", func(c *Global) *int { return &c.HTTPTimeoutSec }),
	"retry_max_attempts":    intSetter("retry_max_attempts", func(c *Global) *int { return &c.RetryMaxAttempts }),
	"retry_base_delay_ms":   intSetter("retry_base_delay_ms", func(c *Global) *int { return &c.RetryBaseDelayMs }),
	"retry_max_delay_ms":    intSetter("retry_max_delay_ms", func(c *Global) *int { return &c.RetryMaxDelayMs }),
	"explain_top_k":         intSetter("explain_top_k", func(c *Global) *int { return &c.ExplainTopK }),
	"explain_samples":       intSetter("explain_samples", func(c *Global) *int { return &c.ExplainSamples }),
	"explain_timeout_sec":   intSetter("explain_timeout_sec", func(c *Global) *int { return &c.ExplainTimeoutSec }),
	"narrative_timeout_sec": intSetter("narrative_timeout_sec", func(c *Global) *int { return &c.NarrativeTimeoutSec }),
	"explain_workers":       intSetter("explain_workers", func(c *Global) *int { return &c.ExplainWorkers }),
	"chat_context_tokens":   intSetter("chat_context_tokens", func(c *Global) *int { return &c.ChatContextTokens }),
	"max_upload_mb":         intSetter("max_upload_mb", func(c *Global) *int { return &c.MaxUploadMB }),
}

func intSetter(key string, field func(*Global) *int) func(*Global, string) error {
	return func(c *Global, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid non-negative int for %s: %q", key, v)
		}
		*field(c) = n
		return nil
	}
}

// Set parses val for key and stores it, then re-validates the whole config.
func (c *Global) Set(key, val string) error {
	set, ok := setters[key]
	if !ok {
		return fmt.Errorf("unknown key: %s (known: %s)", key, strings.Join(Keys(), ", "))
	}
	next := *c
	if err := set(&next, val); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}

// Keys lists the settable configuration keys.
func Keys() []string {
	out := make([]string, 0, len(setters))
	for k := range setters {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
