package embedding

import (
	"context"
	"errors"
	"time"
)

const (
	defaultMaxRetries = 5
	defaultBaseDelay  = 200 * time.Millisecond
	defaultMaxDelay   = 5 * time.Second
)

// RetryOptions configures the retrying decorator.
type RetryOptions struct {
	// MaxRetries is the number of additional attempts after the first
	// failure.
	MaxRetries int

	// BaseDelay is the delay before the first retry. Each subsequent
	// retry doubles the delay up to MaxDelay.
	BaseDelay time.Duration

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration
}

// DefaultRetryOptions returns the default retry configuration.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxRetries: defaultMaxRetries,
		BaseDelay:  defaultBaseDelay,
		MaxDelay:   defaultMaxDelay,
	}
}

type retryProvider struct {
	inner Provider
	opts  RetryOptions
}

// WithRetry wraps a provider with capped exponential backoff. Invalid
// input and context cancellation are never retried.
func WithRetry(p Provider, optFns ...func(o *RetryOptions)) Provider {
	opts := DefaultRetryOptions()

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}

	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = opts.BaseDelay
	}

	return &retryProvider{inner: p, opts: opts}
}

func (r *retryProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	var vector []float32

	err := r.do(ctx, func() error {
		var err error
		vector, err = r.inner.Embed(ctx, text)
		return err
	})
	if err != nil {
		return nil, err
	}

	return vector, nil
}

func (r *retryProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32

	err := r.do(ctx, func() error {
		var err error
		vectors, err = r.inner.EmbedBatch(ctx, texts)
		return err
	})
	if err != nil {
		return nil, err
	}

	return vectors, nil
}

func (r *retryProvider) Dimension() int { return r.inner.Dimension() }

func (r *retryProvider) Name() string { return r.inner.Name() }

func (r *retryProvider) do(ctx context.Context, call func() error) error {
	var lastErr error

	for attempt := 0; attempt <= r.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, r.retryDelay(attempt-1)); err != nil {
				return err
			}
		}

		lastErr = call()
		if lastErr == nil {
			return nil
		}

		if !retryable(lastErr) {
			return lastErr
		}
	}

	return lastErr
}

// retryDelay computes the backoff before retry number attempt,
// doubling from BaseDelay and capping at MaxDelay.
func (r *retryProvider) retryDelay(attempt int) time.Duration {
	delay := r.opts.BaseDelay << uint(attempt)
	if delay > r.opts.MaxDelay || delay <= 0 {
		delay = r.opts.MaxDelay
	}

	return delay
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if errors.Is(err, ErrEmptyInput) {
		return false
	}

	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
