package nlp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/sashabaranov/go-openai"
	"github.com/soundprediction/anamnesis/pkg/types"
)

// reasoningModelPrefixes identifies model families that reject the
// classic sampling parameters: they take max_completion_tokens instead
// of max_tokens and refuse any temperature setting.
var reasoningModelPrefixes = []string{"gpt-5", "o1", "o3", "o4"}

// IsReasoningModel reports whether the model belongs to a reasoning
// family with restricted request parameters.
func IsReasoningModel(model string) bool {
	for _, prefix := range reasoningModelPrefixes {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

var _ Client = (*OpenAIClient)(nil)

// OpenAIConfig configures the OpenAI-compatible gateway.
type OpenAIConfig struct {
	Model       string
	Temperature *float32
	MaxTokens   *int
	// BaseURL points at an OpenAI-compatible service; empty means the
	// hosted OpenAI API.
	BaseURL string
}

// OpenAIClient talks to OpenAI or any OpenAI-compatible endpoint.
type OpenAIClient struct {
	client *openai.Client
	config OpenAIConfig
	logger *slog.Logger
}

// NewOpenAIClient builds the gateway. The outbound HTTP client honors
// the PROXY_USE/OPENAI_PROXY and OPENAI_TIMEOUT environment variables.
func NewOpenAIClient(apiKey string, cfg OpenAIConfig, logger *slog.Logger) (*OpenAIClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4o
	}

	httpClient, err := HTTPClientFromEnv(logger)
	if err != nil {
		return nil, err
	}

	// Compatible services may run unauthenticated; go-openai still wants
	// a bearer token.
	if apiKey == "" && cfg.BaseURL != "" {
		apiKey = "unused"
	}
	clientConfig := openai.DefaultConfig(apiKey)
	clientConfig.HTTPClient = httpClient
	if cfg.BaseURL != "" {
		if err := validateBaseURL(cfg.BaseURL); err != nil {
			return nil, err
		}
		clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
		if !hasAPIPath(clientConfig.BaseURL) {
			clientConfig.BaseURL += "/v1"
		}
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
		logger: logger,
	}, nil
}

// Model reports the configured model identifier.
func (c *OpenAIClient) Model() string { return c.config.Model }

// Close cleans up resources (no-op for HTTP clients).
func (c *OpenAIClient) Close() error { return nil }

// Chat sends a plain chat completion.
func (c *OpenAIClient) Chat(ctx context.Context, messages []types.Message) (*Response, error) {
	req := c.buildRequest(messages)
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, c.classifyError(err)
	}
	return c.extractResponse(&resp)
}

// ChatStructured sends a completion constrained to the strictened schema
// and unmarshals the content into out. Malformed JSON gets one repair
// attempt before the call fails with ErrUpstreamProtocol.
func (c *OpenAIClient) ChatStructured(ctx context.Context, messages []types.Message, schema Schema, out any) (*Response, error) {
	req := c.buildRequest(messages)

	strict := StrictenSchema(schema.Definition)
	raw, err := json.Marshal(strict)
	if err != nil {
		return nil, fmt.Errorf("marshal schema %s: %w", schema.Name, err)
	}
	req.ResponseFormat = &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
		JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
			Name:        schema.Name,
			Description: schema.Description,
			Schema:      json.RawMessage(raw),
			Strict:      true,
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, c.classifyError(err)
	}
	response, err := c.extractResponse(&resp)
	if err != nil {
		return nil, err
	}

	if err := unmarshalWithRepair(response.Content, out); err != nil {
		c.logger.Warn("structured output failed to parse",
			"schema", schema.Name,
			"model", response.Model,
			"error", err)
		return nil, &SchemaError{Schema: schema.Name, Raw: response.Content, Err: err}
	}
	return response, nil
}

func (c *OpenAIClient) buildRequest(messages []types.Message) openai.ChatCompletionRequest {
	chatMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		chatMessages[i] = openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}

	req := openai.ChatCompletionRequest{
		Model:    c.config.Model,
		Messages: chatMessages,
	}

	if IsReasoningModel(c.config.Model) {
		// Reasoning models reject temperature and the max_tokens field.
		if c.config.MaxTokens != nil {
			req.MaxCompletionTokens = *c.config.MaxTokens
		}
		return req
	}

	if c.config.Temperature != nil {
		req.Temperature = *c.config.Temperature
	}
	if c.config.MaxTokens != nil {
		req.MaxTokens = *c.config.MaxTokens
	}
	return req
}

func (c *OpenAIClient) extractResponse(resp *openai.ChatCompletionResponse) (*Response, error) {
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		return nil, fmt.Errorf("%w: %s", ErrRefusal, choice.Message.Refusal)
	}
	if choice.Message.Content == "" {
		return nil, ErrEmptyResponse
	}

	response := &Response{
		Content:      choice.Message.Content,
		Model:        resp.Model,
		FinishReason: string(choice.FinishReason),
	}
	if resp.Usage.TotalTokens > 0 {
		response.Usage = &TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return response, nil
}

// classifyError maps provider failures onto the gateway error kinds.
func (c *OpenAIClient) classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return &RateLimitError{Message: apiErr.Message}
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return fmt.Errorf("%w: %s", ErrUpstreamTimeout, apiErr.Message)
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}

	return fmt.Errorf("chat completion failed: %w", err)
}

// unmarshalWithRepair parses model output as JSON, falling back to a
// repair pass for near-miss output (trailing commas, unquoted keys,
// fenced code blocks).
func unmarshalWithRepair(content string, out any) error {
	trimmed := stripCodeFence(content)
	if err := json.Unmarshal([]byte(trimmed), out); err == nil {
		return nil
	}

	repaired, err := jsonrepair.JSONRepair(trimmed)
	if err != nil {
		return fmt.Errorf("repair: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return fmt.Errorf("unmarshal repaired output: %w", err)
	}
	return nil
}

// stripCodeFence removes a ```json ... ``` wrapper some models emit even
// under structured output.
func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func validateBaseURL(baseURL string) error {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("base URL must use http or https: %s", baseURL)
	}
	return nil
}

func hasAPIPath(baseURL string) bool {
	return strings.HasSuffix(baseURL, "/v1") || strings.HasSuffix(baseURL, "/api")
}
