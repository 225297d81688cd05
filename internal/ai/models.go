package ai

import (
	"encoding/json"
	"os"
	"sync"
)

// Model metadata used to bound prompt size and to log an estimated cost.
// Prices are illustrative and should be verified against provider docs.

type ModelInfo struct {
	Name          string
	ContextTokens int     // approximate context window
	InputPerK     float64 // USD per 1K input tokens
	OutputPerK    float64 // USD per 1K output tokens
}

var (
	modelsMu sync.RWMutex
	models   = map[string]ModelInfo{
		"openai/gpt-4o-mini":               {Name: "openai/gpt-4o-mini", ContextTokens: 128000, InputPerK: 0.00015, OutputPerK: 0.0006},
		"openai/gpt-4o":                    {Name: "openai/gpt-4o", ContextTokens: 128000, InputPerK: 0.0025, OutputPerK: 0.01},
		"anthropic/claude-3.5-sonnet":      {Name: "anthropic/claude-3.5-sonnet", ContextTokens: 200000, InputPerK: 0.003, OutputPerK: 0.015},
		"google/gemini-1.5-flash":          {Name: "google/gemini-1.5-flash", ContextTokens: 1000000, InputPerK: 0.000075, OutputPerK: 0.0003},
		"meta-llama/llama-3.1-8b-instruct": {Name: "meta-llama/llama-3.1-8b-instruct", ContextTokens: 131072},
		// direct Anthropic
		"claude-3-5-haiku-latest": {Name: "claude-3-5-haiku-latest", ContextTokens: 200000, InputPerK: 0.0008, OutputPerK: 0.004},
		"claude-sonnet-4-5":       {Name: "claude-sonnet-4-5", ContextTokens: 200000, InputPerK: 0.003, OutputPerK: 0.015},
		// direct Gemini
		"gemini-1.5-flash": {Name: "gemini-1.5-flash", ContextTokens: 1000000, InputPerK: 0.000075, OutputPerK: 0.0003},
		"gemini-2.0-flash": {Name: "gemini-2.0-flash", ContextTokens: 1000000, InputPerK: 0.0001, OutputPerK: 0.0004},
		// common local (Ollama) tags
		"llama3:latest":         {Name: "llama3:latest", ContextTokens: 8192},
		"llama3.1:8b-instruct":  {Name: "llama3.1:8b-instruct", ContextTokens: 8192},
		"mistral:7b-instruct":   {Name: "mistral:7b-instruct", ContextTokens: 8192},
		"phi3:mini-4k-instruct": {Name: "phi3:mini-4k-instruct", ContextTokens: 4096},
	}
)

// LookupModel returns ModelInfo and ok flag.
func LookupModel(name string) (ModelInfo, bool) {
	modelsMu.RLock()
	defer modelsMu.RUnlock()
	mi, ok := models[name]
	return mi, ok
}

// EstimateCostUSD estimates total cost in USD for given tokens using model pricing.
// If the model is unknown, returns 0 and ok=false.
func EstimateCostUSD(model string, promptTokens, completionTokens int) (float64, bool) {
	mi, ok := LookupModel(model)
	if !ok {
		return 0, false
	}
	inCost := (float64(promptTokens) / 1000.0) * mi.InputPerK
	outCost := (float64(completionTokens) / 1000.0) * mi.OutputPerK
	return inCost + outCost, true
}

// LoadCatalogFromJSON loads a JSON object map[string]ModelInfo from a file path.
// Example entry:
// { "openai/gpt-4o-mini": {"Name":"openai/gpt-4o-mini","ContextTokens":128000,"InputPerK":0.00015,"OutputPerK":0.0006} }
func LoadCatalogFromJSON(path string) (map[string]ModelInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var m map[string]ModelInfo
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// MergeCatalog merges/overrides entries in the in-memory catalog.
func MergeCatalog(m map[string]ModelInfo) {
	modelsMu.Lock()
	defer modelsMu.Unlock()
	for k, v := range m {
		if v.Name == "" {
			v.Name = k
		}
		models[k] = v
	}
}

// Catalog returns a copy of the in-memory catalog.
func Catalog() map[string]ModelInfo {
	modelsMu.RLock()
	defer modelsMu.RUnlock()
	out := make(map[string]ModelInfo, len(models))
	for k, v := range models {
		out[k] = v
	}
	return out
}

// OverrideCatalog replaces the in-memory catalog.
func OverrideCatalog(m map[string]ModelInfo) {
	next := make(map[string]ModelInfo, len(m))
	for k, v := range m {
		if v.Name == "" {
			v.Name = k
		}
		next[k] = v
	}
	modelsMu.Lock()
	models = next
	modelsMu.Unlock()
}
