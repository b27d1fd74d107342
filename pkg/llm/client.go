// Package llm wraps the language-model endpoint used for advisory work:
// filing summaries, tier-2 classification, and review-queue conversations.
// Model output never mutates entity data directly; callers treat every
// response as a suggestion to be validated.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/avast/retry-go"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/sync/semaphore"

	"github.com/spacwatch/spacwatch/pkg/config"
	"github.com/spacwatch/spacwatch/pkg/metrics"
)

// Client is the advisory model interface. Implementations bound concurrency
// and time; a failed or malformed response is an error, never a fabricated
// answer.
type Client interface {
	// Complete returns free-text output for a prompt.
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)

	// CompleteJSON requests a JSON response and decodes it into out.
	CompleteJSON(ctx context.Context, prompt string, out any) error
}

// OpenAIClient talks to an OpenAI-compatible endpoint.
type OpenAIClient struct {
	model  llms.Model
	cfg    *config.LLMConfig
	sem    *semaphore.Weighted
	logger *slog.Logger
}

// New builds a client for the configured endpoint. maxConcurrency bounds
// in-flight model calls across the whole process.
func New(cfg *config.LLMConfig, maxConcurrency int64) (*OpenAIClient, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("llm api key is required (set %s)", cfg.APIKeyEnv)
	}
	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &OpenAIClient{
		model:  model,
		cfg:    cfg,
		sem:    semaphore.NewWeighted(maxConcurrency),
		logger: slog.Default().With("component", "llm"),
	}, nil
}

// generate runs one bounded, retried model call.
func (c *OpenAIClient) generate(ctx context.Context, prompt string, callOpts ...llms.CallOption) (string, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer c.sem.Release(1)

	var content string
	err := retry.Do(
		func() error {
			callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
			defer cancel()

			resp, err := c.model.GenerateContent(callCtx,
				[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)},
				callOpts...)
			if err != nil {
				return err
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("model returned no choices")
			}
			content = resp.Choices[0].Content
			return nil
		},
		// One retry on failure; advisory callers degrade gracefully.
		retry.Attempts(2),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		metrics.LLMCalls.WithLabelValues("error").Inc()
		return "", fmt.Errorf("llm call failed: %w", err)
	}
	metrics.LLMCalls.WithLabelValues("ok").Inc()
	return content, nil
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	opts := []llms.CallOption{}
	if maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(maxTokens))
	}
	return c.generate(ctx, prompt, opts...)
}

// CompleteJSON implements Client. The response is decoded strictly; a
// malformed payload is an error for the caller to fall back on.
func (c *OpenAIClient) CompleteJSON(ctx context.Context, prompt string, out any) error {
	content, err := c.generate(ctx, prompt, llms.WithJSONMode())
	if err != nil {
		return err
	}
	cleaned := StripFences(content)
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return fmt.Errorf("model returned malformed JSON: %w", err)
	}
	return nil
}

// StripFences removes a markdown code fence wrapper from model output.
// Models sometimes fence JSON despite JSON mode.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
