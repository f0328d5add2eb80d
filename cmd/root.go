package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/churnlens/internal/ai"
	"github.com/KaramelBytes/churnlens/internal/churn"
	cfgpkg "github.com/KaramelBytes/churnlens/internal/config"
	"github.com/KaramelBytes/churnlens/internal/explain"
	"github.com/KaramelBytes/churnlens/internal/logging"
	"github.com/KaramelBytes/churnlens/internal/narrative"
	"github.com/KaramelBytes/churnlens/internal/session"
)

var (
	cfgFile string
	debug   bool
	// Retry/HTTP flags (override config if set)
	flagHTTPTimeoutSec   int
	flagRetryMaxAttempts int
	flagRetryBaseDelayMs int
	flagRetryMaxDelayMs  int
	flagProvider         string
	flagModel            string

	// Loaded configuration
	cfg *cfgpkg.Global
)

var rootCmd = &cobra.Command{
	Use:   "churnlens",
	Short: "ChurnLens: churn predictions with per-customer explanations",
	Long: `ChurnLens scores an uploaded customer table with a pre-trained churn model,
explains individual predictions with a local surrogate model and a language
model narrative, and answers questions about the dataset.`,
	SilenceUsage: true,
}

// Execute is the entry point called by main.main()
func Execute() {
	cobra.OnInitialize(loadConfig)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "✗ Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.churnlens/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug output")
	rootCmd.PersistentFlags().IntVar(&flagHTTPTimeoutSec, "http-timeout", 0, "HTTP client timeout in seconds (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagRetryMaxAttempts, "retry-max", 0, "max retry attempts on 429/5xx (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagRetryBaseDelayMs, "retry-base-ms", 0, "base retry backoff in ms (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagRetryMaxDelayMs, "retry-max-ms", 0, "max retry backoff cap in ms (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagProvider, "provider", "", "narrative provider: openai, openrouter, gemini, ollama or none (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagModel, "model-name", "", "language model used for narratives and chat (overrides config)")
}

func loadConfig() {
	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		// Non-fatal: allow running commands that don't need config
		fmt.Fprintf(os.Stderr, "⚠ Warning: failed to load config: %v\n", err)
		return
	}
	cfg = c

	f := rootCmd.PersistentFlags()
	if f.Changed("http-timeout") && flagHTTPTimeoutSec > 0 {
		cfg.HTTPTimeoutSec = flagHTTPTimeoutSec
	}
	if f.Changed("retry-max") && flagRetryMaxAttempts > 0 {
		cfg.RetryMaxAttempts = flagRetryMaxAttempts
	}
	if f.Changed("retry-base-ms") && flagRetryBaseDelayMs > 0 {
		cfg.RetryBaseDelayMs = flagRetryBaseDelayMs
	}
	if f.Changed("retry-max-ms") && flagRetryMaxDelayMs > 0 {
		cfg.RetryMaxDelayMs = flagRetryMaxDelayMs
	}
	if f.Changed("provider") && flagProvider != "" {
		if err := cfg.Set("default_provider", flagProvider); err != nil {
			fmt.Fprintf(os.Stderr, "⚠ Warning: %v\n", err)
		}
	}
	if f.Changed("model-name") && flagModel != "" {
		cfg.DefaultModel = flagModel
	}
	logging.Setup(os.Stderr, cfg.LogLevel, cfg.LogFormat, debug)
}

// requireConfig returns the loaded config or the error that prevented loading.
func requireConfig() (*cfgpkg.Global, error) {
	if cfg != nil {
		return cfg, nil
	}
	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg = c
	return cfg, nil
}

// buildRuntime picks the narrative backend. Hosted providers without a key
// fall back to offline template narratives.
func buildRuntime(c *cfgpkg.Global) ai.Runtime {
	provider := strings.ToLower(c.DefaultProvider)
	if provider == "" || provider == ai.ProviderNone {
		return nil
	}
	switch provider {
	case ai.ProviderOpenAI, ai.ProviderOpenRouter:
		if c.APIKey == "" {
			fmt.Fprintf(os.Stderr, "⚠ Warning: no api_key for %s; narratives use templates\n", provider)
			return nil
		}
	case ai.ProviderGemini:
		if c.GeminiAPIKey == "" && c.APIKey == "" {
			fmt.Fprintln(os.Stderr, "⚠ Warning: no gemini_api_key; narratives use templates")
			return nil
		}
	}
	rt, ok := ai.GetRuntime(provider, ai.RuntimeConfig{
		HTTPTimeout:  c.HTTPTimeout(),
		RetryMax:     c.RetryMaxAttempts,
		BaseDelay:    c.RetryBaseDelay(),
		MaxDelay:     c.RetryMaxDelay(),
		APIKey:       c.APIKey,
		GeminiAPIKey: c.GeminiAPIKey,
		Host:         c.OllamaHost,
	})
	if !ok {
		fmt.Fprintf(os.Stderr, "⚠ Warning: unknown provider %q (known: %s); narratives use templates\n",
			provider, strings.Join(ai.Providers(), ", "))
		return nil
	}
	return rt
}

// buildService wires a fresh session store and the churn service from c.
func buildService(c *cfgpkg.Global) *churn.Service {
	gen := narrative.New(buildRuntime(c), narrative.Config{
		Model:       c.DefaultModel,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		Timeout:     c.NarrativeTimeout(),
	})
	budget := c.ChatContextTokens
	if limit := ai.ContextLimit(c.DefaultModel, 0); limit > 0 && budget > limit/2 {
		budget = limit / 2
	}
	return churn.New(session.NewStore(), gen, churn.Options{
		ModelPath: c.ModelPath,
		Explain: explain.Options{
			TopK:       c.ExplainTopK,
			NumSamples: c.ExplainSamples,
			Seed:       c.ExplainSeed,
		},
		ExplainTimeout:    c.ExplainTimeout(),
		ExplainWorkers:    c.ExplainWorkers,
		ChatContextTokens: budget,
	})
}
