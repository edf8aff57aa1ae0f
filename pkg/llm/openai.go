package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const maxAttempts = 3

// Config holds the settings for one OpenAI-compatible endpoint. BaseURL
// covers local gateways (Ollama, LM Studio, vLLM) as well as hosted APIs.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Sink    DebugSink
}

// OpenAIClient is the concrete HTTP-backed Client.
type OpenAIClient struct {
	api     *openai.Client
	model   string
	timeout time.Duration
	sink    DebugSink
	logger  *slog.Logger
}

// NewOpenAIClient builds a client from config, applying defaults.
func NewOpenAIClient(cfg Config) *OpenAIClient {
	apiKey := cfg.APIKey
	if apiKey == "" {
		// Local gateways accept any key; the library requires one.
		apiKey = "unused"
	}
	clientConfig := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	sink := cfg.Sink
	if sink == nil {
		sink = NopSink{}
	}
	return &OpenAIClient{
		api:     openai.NewClientWithConfig(clientConfig),
		model:   cfg.Model,
		timeout: timeout,
		sink:    sink,
		logger:  slog.With("component", "llm"),
	}
}

// Generate implements Client.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	return c.generateWithRetry(ctx, "generate", prompt)
}

// IsAvailable implements Client with a short model-list probe.
func (c *OpenAIClient) IsAvailable(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.api.ListModels(probeCtx)
	return err == nil
}

// generateWithRetry issues the chat completion with up to maxAttempts
// attempts. The sleep before retry n is 2^(n-1) seconds. Retries fire on
// transport errors, timeouts and HTTP 5xx answers; an HTTP 4xx answer is
// terminal.
func (c *OpenAIClient) generateWithRetry(ctx context.Context, method, prompt string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(1<<uint(attempt-2)) * time.Second
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrCancelled, context.Cause(ctx))
			case <-time.After(backoff):
			}
		}

		// Re-check right before the HTTP call: a cancel served during the
		// backoff window must not start another request.
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("%w: %v", ErrCancelled, err)
		}

		text, err := c.completeOnce(ctx, method, prompt)
		if err == nil {
			return text, nil
		}
		if errors.Is(err, ErrCancelled) {
			return "", err
		}
		if !isRetryable(err) {
			return "", err
		}
		lastErr = err
		c.logger.Warn("LLM call failed, will retry",
			"method", method, "attempt", attempt, "error", err)
	}
	return "", fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

// completeOnce performs a single bounded HTTP call and records it in the
// debug sink.
func (c *OpenAIClient) completeOnce(ctx context.Context, method, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	duration := time.Since(start)

	if err != nil {
		// The parent context going away means cancellation, not a transport
		// fault: surface the distinguished value.
		if ctx.Err() != nil && callCtx.Err() == context.Canceled {
			err = fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
		c.sink.Record(Record{Method: method, Model: c.model, Request: prompt, Duration: duration, Err: err})
		return "", err
	}

	if len(resp.Choices) == 0 {
		err := fmt.Errorf("llm returned no choices")
		c.sink.Record(Record{Method: method, Model: c.model, Request: prompt, Duration: duration, Err: err})
		return "", err
	}

	text := resp.Choices[0].Message.Content
	c.sink.Record(Record{Method: method, Model: c.model, Request: prompt, Response: text, Duration: duration})
	return text, nil
}

// isRetryable classifies an error as a transient transport fault.
func isRetryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		// A served response decided the call; only server-side failures are
		// worth another attempt.
		return apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 0 || reqErr.HTTPStatusCode >= 500
	}
	// Anything else (connection refused, reset, DNS) is transport.
	return true
}
