// Package llm wraps the Anthropic Messages API for JSON-constrained CTI
// extraction. The gateway is stateless; rate-limit handling and response
// cleanup live here so the enricher only ever sees parseable JSON or a typed
// error.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
)

const (
	// maxRateLimitRetries bounds consecutive rate-limit waits before the
	// call fails with RateLimitError.
	maxRateLimitRetries = 5
	// maxBackoff caps a single rate-limit wait.
	maxBackoff = 5 * time.Minute
	// baseBackoff doubles each consecutive rate-limit error.
	baseBackoff = 2 * time.Second

	extractionMaxTokens = 8192
	// Low temperature for deterministic structured output.
	extractionTemperature = 0.1
)

// RateLimitError marks a persistent provider rate limit. The scheduler
// aborts the running enrichment pass when it sees one.
type RateLimitError struct {
	Attempts int
	Err      error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit persisted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

var rateLimitIndicators = []string{
	"rate limit",
	"rate_limit",
	"too many requests",
	"429",
	"quota",
	"throttle",
	"limit exceeded",
	"request limit",
}

// isRateLimitError classifies provider errors by message content; the SDK
// surfaces 429s and quota errors with these markers.
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, indicator := range rateLimitIndicators {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}

// Config holds gateway configuration.
type Config struct {
	APIKey string
	// Host overrides the API endpoint; empty uses the provider default.
	Host       string
	Model      string
	MaxRetries int
}

// Client is the LLM gateway.
type Client struct {
	client     anthropic.Client
	model      anthropic.Model
	maxRetries int
	logger     zerolog.Logger
	sleep      func(context.Context, time.Duration) error
}

// NewClient creates an LLM gateway.
func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Host != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.Host))
	}

	return &Client{
		client:     anthropic.NewClient(clientOpts...),
		model:      anthropic.Model(cfg.Model),
		maxRetries: cfg.MaxRetries,
		logger:     logger,
		sleep:      sleepCtx,
	}, nil
}

// Extract sends a system/user prompt pair and returns the model's response
// as a cleaned JSON string. Rate-limit errors back off exponentially
// (2s, 4s, ... capped at 5m) for up to 5 consecutive hits, then surface as
// *RateLimitError. Other errors retry linearly up to MaxRetries.
func (c *Client) Extract(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if systemPrompt == "" {
		return "", fmt.Errorf("system prompt is required")
	}
	if userPrompt == "" {
		return "", fmt.Errorf("user prompt is required")
	}

	var (
		lastErr         error
		rateLimitErrors int
	)

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		raw, err := c.call(ctx, systemPrompt, userPrompt)
		if err == nil {
			return CleanJSONResponse(raw), nil
		}
		lastErr = err

		if isRateLimitError(err) {
			rateLimitErrors++
			if rateLimitErrors >= maxRateLimitRetries {
				c.logger.Error().Int("attempts", rateLimitErrors).Msg("rate limit persisted, aborting")
				return "", &RateLimitError{Attempts: rateLimitErrors, Err: err}
			}

			wait := backoffFor(rateLimitErrors)
			c.logger.Warn().Int("attempt", rateLimitErrors).Dur("wait", wait).Msg("rate limited, backing off")
			if serr := c.sleep(ctx, wait); serr != nil {
				return "", serr
			}
			// Rate-limit waits do not consume regular retry budget.
			attempt--
			continue
		}
		rateLimitErrors = 0

		if attempt < c.maxRetries {
			wait := time.Duration(attempt+1) * time.Second
			c.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("llm call failed, retrying")
			if serr := c.sleep(ctx, wait); serr != nil {
				return "", serr
			}
		}
	}

	return "", fmt.Errorf("llm call failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func (c *Client) call(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	response, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   int64(extractionMaxTokens),
		Temperature: anthropic.Float(extractionTemperature),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("messages api call failed: %w", err)
	}

	if len(response.Content) == 0 {
		return "", fmt.Errorf("empty response from model")
	}

	block := response.Content[0]
	if block.Type != "text" {
		return "", fmt.Errorf("unexpected content type in response: %s", block.Type)
	}

	text := block.AsText().Text
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty text content from model")
	}
	return text, nil
}

func backoffFor(consecutive int) time.Duration {
	wait := baseBackoff
	for i := 1; i < consecutive; i++ {
		wait *= 2
		if wait >= maxBackoff {
			return maxBackoff
		}
	}
	if wait > maxBackoff {
		wait = maxBackoff
	}
	return wait
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// IsRateLimit reports whether err is (or wraps) a persistent rate limit.
func IsRateLimit(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}
