package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

var (
	// ErrRateLimited is returned when the backend rejects a call for quota (HTTP 429).
	ErrRateLimited = errors.New("generator rate limited")
	// ErrUnavailable covers every other transport or model failure.
	ErrUnavailable = errors.New("generator unavailable")
)

// Generator turns a prompt into free text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a plain function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api         *openai.Client
	model       string
	temperature float32
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:         openai.NewClientWithConfig(config),
		model:       modelName,
		temperature: 0.7,
	}
}

// Ping checks that the endpoint answers and knows the configured model.
func (c *Client) Ping(ctx context.Context) error {
	models, err := c.api.ListModels(ctx)
	if err != nil {
		return classify(fmt.Errorf("list models: %w", err), statusOf(err))
	}
	for _, m := range models.Models {
		if m.ID == c.model || strings.TrimSuffix(m.ID, ":latest") == c.model {
			return nil
		}
	}
	slog.Warn("configured model not listed by endpoint", "model", c.model, "available", len(models.Models))
	return nil
}

// Generate sends prompt as a single user message and returns the reply text.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: c.temperature,
	})
	if err != nil {
		return "", classify(fmt.Errorf("LLM API call: %w", err), statusOf(err))
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: LLM returned no choices", ErrUnavailable)
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "model", c.model, "raw", raw)
	return raw, nil
}

func statusOf(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// classify tags err with ErrRateLimited or ErrUnavailable. Context errors stay
// visible through errors.Is as well.
func classify(err error, status int) error {
	if status == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// Outcome returns the metrics label for a Generate error and the error itself,
// wrapped in ErrUnavailable when it carries neither sentinel.
func Outcome(err error) (string, error) {
	switch {
	case err == nil:
		return "ok", nil
	case errors.Is(err, ErrRateLimited):
		return "generator_rate_limited", err
	case errors.Is(err, ErrUnavailable):
		return "generator_unavailable", err
	default:
		return "generator_unavailable", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}
