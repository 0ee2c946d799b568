package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

// Gemini is a Generator backed by the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini generator. An empty apiKey falls back to the
// GOOGLE_API_KEY / GEMINI_API_KEY environment variables read by genai.
func NewGemini(ctx context.Context, apiKey, modelName string) (*Gemini, error) {
	cfg := &genai.ClientConfig{Backend: genai.BackendGeminiAPI}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	return &Gemini{client: client, model: modelName}, nil
}

// Generate sends prompt to the model and returns the reply text.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	result, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", classify(fmt.Errorf("Gemini API call: %w", err), geminiStatus(err))
	}

	raw := result.Text()
	slog.Debug("Gemini response", "model", g.model, "raw", raw)
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: empty response from model", ErrUnavailable)
	}
	return raw, nil
}

func geminiStatus(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
