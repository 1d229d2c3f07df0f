// Package gemini talks to the Google Gemini API on behalf of a user's own key.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/ubuygold/gosparklio/internal/config"
	"github.com/ubuygold/gosparklio/internal/failure"
	"github.com/ubuygold/gosparklio/internal/logger"
)

// DefaultBaseURL is the public Generative Language API endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com"

// ErrEmptyResponse is returned when the model produced no text. It is a parse
// failure, so callers fall back to template content instead of surfacing it.
var ErrEmptyResponse = failure.New(failure.KindParse, "empty response from model")

// Generator produces text with the configured Gemini model.
// A client is created per call because every user brings their own key.
type Generator struct {
	cfg    config.GeminiConfig
	logger *slog.Logger
}

// NewGenerator creates a Generator.
func NewGenerator(cfg config.GeminiConfig, log *slog.Logger) *Generator {
	return &Generator{cfg: cfg, logger: log.With("component", "gemini")}
}

// Generate sends prompt to the model using apiKey and returns the concatenated text of the first candidate.
func (g *Generator) Generate(ctx context.Context, apiKey, prompt string) (string, error) {
	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if g.cfg.BaseURL != "" && g.cfg.BaseURL != DefaultBaseURL {
		opts = append(opts, option.WithEndpoint(g.cfg.BaseURL))
	}

	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to create gemini client: %w", err)
	}
	defer client.Close()

	m := client.GenerativeModel(g.cfg.Model)
	m.SetTemperature(g.cfg.Temperature)
	m.SetTopK(g.cfg.TopK)
	m.SetTopP(g.cfg.TopP)
	m.SetMaxOutputTokens(g.cfg.MaxTokens)

	g.logger.Debug("Sending generation request", "model", g.cfg.Model, "key_suffix", logger.KeySuffix(apiKey), "prompt_len", len(prompt))

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return "", failure.Wrap(failure.KindParse, "response blocked by safety settings", err)
		}
		return "", err
	}
	return responseText(resp)
}

// responseText joins the text parts of the first candidate that has any.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", ErrEmptyResponse
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
		return "", failure.New(failure.KindParse, fmt.Sprintf("prompt blocked: %s", resp.PromptFeedback.BlockReason))
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		var sb strings.Builder
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
		if out := strings.TrimSpace(sb.String()); out != "" {
			return out, nil
		}
	}
	return "", ErrEmptyResponse
}
