package ai

import (
	"encoding/json"
	"os"
	"sort"
	"sync"
)

// ModelInfo describes a model the CLI knows how to budget for.
type ModelInfo struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	ContextTokens int    `json:"context_tokens"`
}

// DefaultModel is used when no model is configured. It matches the model the
// narrative prompts were written against.
const DefaultModel = "gpt-4o-mini"

var (
	catalogMu sync.RWMutex
	catalog   = map[string]ModelInfo{
		"gpt-4o-mini":                      {Name: "gpt-4o-mini", Provider: ProviderOpenAI, ContextTokens: 128000},
		"gpt-4o":                           {Name: "gpt-4o", Provider: ProviderOpenAI, ContextTokens: 128000},
		"gpt-4.1-mini":                     {Name: "gpt-4.1-mini", Provider: ProviderOpenAI, ContextTokens: 1000000},
		"openai/gpt-4o-mini":               {Name: "openai/gpt-4o-mini", Provider: ProviderOpenRouter, ContextTokens: 128000},
		"anthropic/claude-3.5-sonnet":      {Name: "anthropic/claude-3.5-sonnet", Provider: ProviderOpenRouter, ContextTokens: 200000},
		"deepseek/deepseek-r1:free":        {Name: "deepseek/deepseek-r1:free", Provider: ProviderOpenRouter, ContextTokens: 128000},
		"meta-llama/llama-3.1-8b-instruct": {Name: "meta-llama/llama-3.1-8b-instruct", Provider: ProviderOpenRouter, ContextTokens: 131072},
		"gemini-2.0-flash":                 {Name: "gemini-2.0-flash", Provider: ProviderGemini, ContextTokens: 1000000},
		"gemini-1.5-flash":                 {Name: "gemini-1.5-flash", Provider: ProviderGemini, ContextTokens: 1000000},
		"llama3.1:8b-instruct":             {Name: "llama3.1:8b-instruct", Provider: ProviderOllama, ContextTokens: 8192},
		"mistral:7b-instruct":              {Name: "mistral:7b-instruct", Provider: ProviderOllama, ContextTokens: 8192},
		"phi3:mini-4k-instruct":            {Name: "phi3:mini-4k-instruct", Provider: ProviderOllama, ContextTokens: 4096},
	}
)

// LookupModel returns ModelInfo and ok flag.
func LookupModel(name string) (ModelInfo, bool) {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	mi, ok := catalog[name]
	return mi, ok
}

// ContextLimit returns the model's context window, or fallback when unknown.
func ContextLimit(name string, fallback int) int {
	if mi, ok := LookupModel(name); ok && mi.ContextTokens > 0 {
		return mi.ContextTokens
	}
	return fallback
}

// Models lists catalog entries for provider ("" for all), sorted by name.
func Models(provider string) []ModelInfo {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	var out []ModelInfo
	for _, mi := range catalog {
		if provider == "" || mi.Provider == provider {
			out = append(out, mi)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// MergeCatalogFile merges entries from a JSON object of name -> ModelInfo.
func MergeCatalogFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]ModelInfo
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	catalogMu.Lock()
	defer catalogMu.Unlock()
	for k, v := range m {
		if v.Name == "" {
			v.Name = k
		}
		catalog[k] = v
	}
	return nil
}
