package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GeminiClient is a Runtime backed by the Gemini API.
type GeminiClient struct {
	client *genai.Client
}

// NewGeminiClient connects to Gemini. An empty key yields a client whose
// Generate reports MissingKeyError, so a misconfigured server still starts
// and health can say why.
func NewGeminiClient(ctx context.Context, apiKey, baseURL string) (*GeminiClient, error) {
	if apiKey == "" {
		return &GeminiClient{}, nil
	}
	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithEndpoint(baseURL))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiClient{client: client}, nil
}

// Close releases the underlying connection.
func (c *GeminiClient) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Generate replays earlier turns as chat history and sends the final user turn.
func (c *GeminiClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if c.client == nil {
		return nil, &MissingKeyError{Provider: ProviderGemini}
	}
	if req.Model == "" {
		return nil, &ModelNotFoundError{APIError: &APIError{Message: "model cannot be empty"}}
	}
	if len(req.Messages) == 0 {
		return nil, errors.New("messages cannot be empty")
	}

	model := c.client.GenerativeModel(req.Model)
	var system []genai.Part
	var turns []*genai.Content
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, genai.Text(m.Content))
		case "assistant":
			turns = append(turns, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(m.Content)}})
		default:
			turns = append(turns, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}})
		}
	}
	if len(turns) == 0 || turns[len(turns)-1].Role != "user" {
		return nil, &BadRequestError{APIError: &APIError{Message: "conversation must end with a user message"}}
	}
	if len(system) > 0 {
		model.SystemInstruction = &genai.Content{Parts: system}
	}
	if req.Temperature > 0 {
		model.SetTemperature(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}

	cs := model.StartChat()
	cs.History = turns[:len(turns)-1]
	resp, err := cs.SendMessage(ctx, turns[len(turns)-1].Parts...)
	if err != nil {
		return nil, mapGeminiError(ctx, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, &EmptyResponseError{Reason: "no candidates in response"}
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	out := &GenerateResponse{Choices: []Choice{{Message: Message{Role: "assistant", Content: b.String()}}}}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	if out.Text() == "" {
		return nil, &EmptyResponseError{Reason: "candidate has no text"}
	}
	return out, nil
}

func mapGeminiError(ctx context.Context, err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return &BadRequestError{APIError: &APIError{Message: blocked.Error()}}
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &UnreachableError{Host: "generativelanguage.googleapis.com", Err: err}
	}
	return classifyGeminiStatus(gerr.Code, gerr.Message, gerr.Header)
}

// classifyGeminiStatus differs from classifyAPIError in two places: Gemini
// rejects bad keys with 400, and its 429 bodies always mention quota.
func classifyGeminiStatus(code int, msg string, header http.Header) error {
	apiErr := &APIError{StatusCode: code, Message: msg}
	switch {
	case code == http.StatusBadRequest && containsAnyFold(msg, "api key", "api_key_invalid"):
		return &AuthError{APIError: apiErr}
	case code == http.StatusNotFound:
		return &ModelNotFoundError{APIError: apiErr}
	case code == http.StatusTooManyRequests:
		if containsAnyFold(msg, "billing") {
			return &QuotaExceededError{APIError: apiErr}
		}
		return &RateLimitError{APIError: apiErr, RetryAfter: retryAfterFrom(header)}
	}
	return classifyAPIError(apiErr, header)
}
