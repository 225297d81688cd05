package ai

import "context"

// Runtime is the minimal interface implemented by AI backends such as
// OpenRouter, Anthropic, Gemini and a local Ollama. Implementations make one
// attempt per call and report failures with the typed errors in errors.go.
type Runtime interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// Provider identifiers used for selection in config.
const (
	ProviderOpenRouter = "openrouter"
	ProviderAnthropic  = "anthropic"
	ProviderGemini     = "gemini"
	ProviderOllama     = "ollama"
)
