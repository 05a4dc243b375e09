// Package openai implements the agent capability ports over the OpenAI
// chat completions API. Every capability asks for a JSON object response
// and decodes it into the typed contract; malformed output surfaces as an
// error for the harness to retry.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/sync/semaphore"

	"github.com/formpilot/formpilot/internal/config"
	"github.com/formpilot/formpilot/internal/resilience"
)

// Client talks to an OpenAI-compatible chat completions endpoint.
// A weighted semaphore caps in-flight calls across all sessions.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
	sem     *semaphore.Weighted
	breaker *resilience.Breaker
}

// NewClient creates a capability client from config.
func NewClient(cfg config.OpenAI) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	limit := cfg.MaxConcurrent
	if limit < 1 {
		limit = 1
	}
	return &Client{
		api:     openai.NewClientWithConfig(apiCfg),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		sem:     semaphore.NewWeighted(int64(limit)),
	}
}

// SetBreaker attaches a circuit breaker to all outgoing calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// completeJSON runs one chat completion and decodes the JSON body into out.
func (c *Client) completeJSON(ctx context.Context, system, user string, out any) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire ai slot: %w", err)
	}
	defer c.sem.Release(1)

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	call := func() error {
		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
		if err != nil {
			return fmt.Errorf("chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("chat completion: empty choices")
		}

		content := strings.TrimSpace(resp.Choices[0].Message.Content)
		if err := json.Unmarshal([]byte(content), out); err != nil {
			return fmt.Errorf("decode capability output: %w", err)
		}
		return nil
	}

	if c.breaker != nil {
		return c.breaker.Execute(call)
	}
	return call()
}
