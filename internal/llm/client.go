package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/hr-platform/backend/internal/storage/models"
	"github.com/hr-platform/backend/pkg/logger"
	"github.com/hr-platform/backend/pkg/retry"
)

type Options struct {
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// Client is the CV extractor: prompt, provider call under a circuit breaker
// and retries, schema validation.
type Client struct {
	provider    Provider
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	cb          *gobreaker.CircuitBreaker
	retryConfig retry.Config
}

// Result describes one extraction call. It is returned even when the call
// fails so usage can still be recorded. Usage and Cost are totals over
// Attempts.
type Result struct {
	CV       *models.CVExtraction
	Raw      json.RawMessage
	Provider string
	Model    string
	Usage    Usage
	Cost     float64
	Duration time.Duration
	Attempts []Attempt
}

// Attempt is one request that reached the provider. A call rejected by the
// open circuit breaker has none.
type Attempt struct {
	Model    string
	Usage    Usage
	Cost     float64
	Duration time.Duration
	Err      error
}

func NewClient(provider Provider, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 8192
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm-" + provider.Name(),
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrEmptyResponse)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Retryable:      isTemporary,
		Logger:         logger.GetLogger(),
	}

	logger.Info("LLM client initialized",
		append(logger.AIFields(provider.Name(), opts.Model),
			zap.Duration("timeout", opts.Timeout),
		)...,
	)

	return &Client{
		provider:    provider,
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		timeout:     opts.Timeout,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

func (c *Client) Provider() string {
	return c.provider.Name()
}

func (c *Client) Model() string {
	return c.model
}

// SetRetryConfig replaces the retry policy used around provider calls.
func (c *Client) SetRetryConfig(cfg retry.Config) {
	cfg.Retryable = isTemporary
	c.retryConfig = cfg
}

// ExtractCV sends the CV text to the model and validates the answer. The
// whole exchange, retries included, is bounded by the client timeout.
func (c *Client) ExtractCV(ctx context.Context, cvText string, hints CatalogHints) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	res := &Result{Provider: c.provider.Name(), Model: c.model}

	req := CompletionRequest{
		Model:        c.model,
		SystemPrompt: SystemPrompt(),
		UserPrompt:   BuildUserPrompt(cvText, hints),
		Temperature:  c.temperature,
		MaxTokens:    c.maxTokens,
		JSON:         true,
	}

	out, err := c.cb.Execute(func() (interface{}, error) {
		return retry.DoWithResult(ctx, c.retryConfig, func() (*CompletionResponse, error) {
			attemptStart := time.Now()
			resp, err := c.provider.Complete(ctx, req)
			a := Attempt{Model: c.model, Duration: time.Since(attemptStart), Err: err}
			if resp != nil {
				a.Usage = resp.Usage
				res.Usage.add(resp.Usage)
				if resp.Model != "" {
					a.Model = resp.Model
					res.Model = resp.Model
				}
			}
			a.Cost = EstimateCost(a.Model, a.Usage)
			res.Attempts = append(res.Attempts, a)
			return resp, err
		})
	})

	res.Duration = time.Since(start)
	res.Cost = EstimateCost(res.Model, res.Usage)

	if err != nil {
		logger.Warn("LLM extraction call failed",
			append(logger.AIFields(res.Provider, res.Model),
				zap.Duration("elapsed", res.Duration),
				zap.Error(err),
			)...,
		)
		return res, fmt.Errorf("extraction call failed: %w", err)
	}

	resp := out.(*CompletionResponse)
	cv, raw, err := ParseCV(resp.Content)
	if err != nil {
		res.Attempts[len(res.Attempts)-1].Err = err
		logger.Warn("LLM extraction response rejected",
			append(logger.AIFields(res.Provider, res.Model),
				zap.String("content_preview", logger.Truncate(resp.Content, 200)),
				zap.Error(err),
			)...,
		)
		return res, err
	}

	res.CV = cv
	res.Raw = raw

	logger.Info("CV extracted",
		append(logger.AIFields(res.Provider, res.Model),
			zap.Int("total_tokens", res.Usage.TotalTokens),
			zap.Int("skills", len(cv.Skills.ExtractedSkills)),
			zap.Duration("elapsed", res.Duration),
		)...,
	)

	return res, nil
}
