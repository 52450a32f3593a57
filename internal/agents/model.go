package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/fyrsmithlabs/accdd/internal/config"
)

// NewModel creates an OpenAI-compatible chat model from config.
func NewModel(cfg config.LLMConfig) (llms.Model, error) {
	if !cfg.APIKey.IsSet() {
		return nil, ErrMissingAPIKey
	}
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey.Value()),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating LLM client: %w", err)
	}
	return llm, nil
}

// generateJSON sends prompt and decodes the first JSON object of the reply
// into out.
func generateJSON(ctx context.Context, model llms.Model, prompt string, out any) error {
	reply, err := llms.GenerateFromSinglePrompt(ctx, model, prompt, llms.WithTemperature(0))
	if err != nil {
		return fmt.Errorf("generating completion: %w", err)
	}
	raw, ok := extractJSON(reply)
	if !ok {
		return fmt.Errorf("%w: no JSON object in reply", ErrInvalidResponse)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

// extractJSON returns the outermost JSON object in text, ignoring markdown
// fences and surrounding prose.
func extractJSON(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	candidate := text[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return "", false
	}
	return candidate, true
}

// truncate keeps the last n bytes of s.
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
