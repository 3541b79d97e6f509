// Package llm wraps the OpenAI chat completions API for structured extraction
// of businesses and people.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadharvest/internal/metrics"
)

// ErrNoChoices is returned when the API answers without a completion.
var ErrNoChoices = errors.New("no response from OpenAI")

// Config controls the OpenAI client.
type Config struct {
	APIKey        string
	BaseURL       string
	Model         string
	Temperature   float32
	MaxTokens     int
	Timeout       time.Duration
	MaxInputChars int
	// MaxAttempts bounds calls per completion, retries included.
	MaxAttempts    int
	RetryBaseDelay time.Duration
	Logger         *zap.Logger
}

// Client performs extraction requests against OpenAI.
type Client struct {
	api    *openai.Client
	cfg    Config
	retry  retryPolicy
	logger *zap.Logger
}

// New creates a Client. An API key is required.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		api:    openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
		retry:  newRetryPolicy(cfg.MaxAttempts, cfg.RetryBaseDelay),
		logger: logger.Named("llm"),
	}, nil
}

// complete sends one system+user exchange and returns the raw JSON content.
func (c *Client) complete(ctx context.Context, kind, system, user string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	var (
		resp openai.ChatCompletionResponse
		err  error
	)
	for attempt := 1; ; attempt++ {
		resp, err = c.attempt(ctx, req)
		if !c.retry.shouldRetry(ctx, err, attempt) {
			break
		}
		wait := c.retry.backoff(attempt)
		metrics.ObserveLLMRequest(kind, "retry")
		c.logger.Warn("completion failed, retrying",
			zap.String("kind", kind),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if serr := sleepContext(ctx, wait); serr != nil {
			break
		}
	}
	if err != nil {
		metrics.ObserveLLMRequest(kind, "error")
		return "", fmt.Errorf("openai %s completion: %w", kind, err)
	}
	if len(resp.Choices) == 0 {
		metrics.ObserveLLMRequest(kind, "empty")
		return "", ErrNoChoices
	}
	metrics.ObserveLLMRequest(kind, "ok")
	c.logger.Debug("completion",
		zap.String("kind", kind),
		zap.Int("tokens", resp.Usage.TotalTokens),
	)
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *Client) attempt(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return resp, fmt.Errorf("create chat completion: %w", err)
	}
	return resp, nil
}

// truncate caps content at MaxInputChars runes.
func (c *Client) truncate(content string) string {
	limit := c.cfg.MaxInputChars
	if limit <= 0 {
		return content
	}
	runes := []rune(content)
	if len(runes) <= limit {
		return content
	}
	return string(runes[:limit])
}
