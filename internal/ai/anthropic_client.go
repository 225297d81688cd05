package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient is a Runtime backed by the official Anthropic SDK. The SDK's
// own retries are disabled so one Generate is one request.
type AnthropicClient struct {
	client sdk.Client
	hasKey bool
}

// NewAnthropicClient builds a client. baseURL is optional.
func NewAnthropicClient(apiKey, baseURL string, httpTimeout time.Duration) *AnthropicClient {
	if httpTimeout <= 0 {
		httpTimeout = 60 * time.Second
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(httpTimeout),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicClient{client: sdk.NewClient(opts...), hasKey: apiKey != ""}
}

// Generate maps system messages to the system prompt and the rest to turns.
func (c *AnthropicClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if !c.hasKey {
		return nil, &MissingKeyError{Provider: ProviderAnthropic}
	}
	if req.Model == "" {
		return nil, &ModelNotFoundError{APIError: &APIError{Message: "model cannot be empty"}}
	}
	if len(req.Messages) == 0 {
		return nil, errors.New("messages cannot be empty")
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: maxTokens,
	}
	var system []sdk.TextBlockParam
	for _, m := range req.Messages {
		block := sdk.NewTextBlock(m.Content)
		switch m.Role {
		case "system":
			system = append(system, sdk.TextBlockParam{Text: m.Content})
		case "assistant":
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(block))
		default:
			params.Messages = append(params.Messages, sdk.NewUserMessage(block))
		}
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, mapAnthropicError(ctx, err)
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	out := &GenerateResponse{
		ID:      msg.ID,
		Choices: []Choice{{Message: Message{Role: "assistant", Content: b.String()}}},
		Usage: Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
		RequestID: msg.ID,
	}
	if out.Text() == "" {
		return nil, &EmptyResponseError{Reason: "no text blocks in message", RequestID: msg.ID}
	}
	return out, nil
}

func mapAnthropicError(ctx context.Context, err error) error {
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &UnreachableError{Host: "api.anthropic.com", Err: err}
	}
	header := http.Header{}
	requestID := ""
	if apiErr.Response != nil {
		header = apiErr.Response.Header
		requestID = header.Get("Request-Id")
	}
	typed := apiErrorFromBody(apiErr.StatusCode, []byte(apiErr.RawJSON()), requestID)
	if apiErr.StatusCode == http.StatusNotFound {
		// the messages endpoint only 404s on the model
		return &ModelNotFoundError{APIError: typed}
	}
	return classifyAPIError(typed, header)
}
