package ai

import (
	"sort"
	"sync"
	"time"
)

// RuntimeFactory builds a Runtime from the generic config below.
type RuntimeFactory func(RuntimeConfig) Runtime

// RuntimeConfig carries common knobs used by runtimes.
type RuntimeConfig struct {
	HTTPTimeout time.Duration
	RetryMax    int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// OpenRouter / OpenAI
	APIKey  string
	BaseURL string
	// Gemini
	GeminiAPIKey string
	// Ollama
	Host string
}

var (
	registryMu sync.RWMutex
	registry   = map[string]RuntimeFactory{}
)

// RegisterRuntime registers a provider name with its factory.
func RegisterRuntime(name string, f RuntimeFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// GetRuntime creates a Runtime for the given provider if registered.
// ProviderNone is never registered.
func GetRuntime(name string, cfg RuntimeConfig) (Runtime, bool) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, false
	}
	return f(cfg), true
}

// Providers lists registered provider names in sorted order.
func Providers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func init() {
	hosted := func(defaultURL string) RuntimeFactory {
		return func(c RuntimeConfig) Runtime {
			url := c.BaseURL
			if url == "" {
				url = defaultURL
			}
			return NewClient(c.APIKey, url, c.HTTPTimeout, c.RetryMax, c.BaseDelay, c.MaxDelay)
		}
	}
	RegisterRuntime(ProviderOpenRouter, hosted(OpenRouterBaseURL))
	RegisterRuntime(ProviderOpenAI, hosted(OpenAIBaseURL))
	RegisterRuntime(ProviderOllama, func(c RuntimeConfig) Runtime {
		return NewOllamaClient(c.Host, c.HTTPTimeout, c.RetryMax, c.BaseDelay, c.MaxDelay)
	})
	RegisterRuntime(ProviderGemini, func(c RuntimeConfig) Runtime {
		key := c.GeminiAPIKey
		if key == "" {
			key = c.APIKey
		}
		return NewGeminiClient(key)
	})
}
