// Package cascade runs ordered generation attempts across providers.
// The caller flattens its fallback policy into a list of attempt
// descriptors (provider, model, closure); one generic loop executes
// them, paces retries and stops at the first success.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"comicgen/pkg/llm"
	"comicgen/pkg/tracker"
)

// Attempt is one generation try against a specific provider and model.
type Attempt[T any] struct {
	Provider string
	Model    string
	Run      func(ctx context.Context) (T, error)
}

// Options configures the attempt loop.
type Options struct {
	// Delay between consecutive attempts against the same provider.
	// Zero means 2s.
	Delay time.Duration
	// SlowDelay replaces Delay when the previous failure matched a
	// TLS/timeout signature. Zero means 5s.
	SlowDelay time.Duration
	// Sleep is injectable for tests. Nil means a context-aware sleep.
	Sleep   func(ctx context.Context, d time.Duration) error
	Tracker *tracker.Tracker
}

// Repeat builds n identical attempts for one provider/model pair.
func Repeat[T any](provider, model string, n int, fn func(ctx context.Context) (T, error)) []Attempt[T] {
	attempts := make([]Attempt[T], 0, n)
	for i := 0; i < n; i++ {
		attempts = append(attempts, Attempt[T]{Provider: provider, Model: model, Run: fn})
	}
	return attempts
}

// WithValidator wraps a text attempt so that a response failing
// validation counts as a failed attempt. Relays sometimes put error
// markers in otherwise successful bodies; the validator catches those.
func WithValidator(fn func(ctx context.Context) (string, error), validate llm.ResponseValidator) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		text, err := fn(ctx)
		if err != nil {
			return "", err
		}
		if err := validate(text); err != nil {
			return "", err
		}
		return text, nil
	}
}

// Run executes attempts in order and returns the first success. Every
// failure is recovered into advancing to the next attempt; only caller
// cancellation stops the loop early. When the list is exhausted the
// error wraps llm.ErrExhausted.
func Run[T any](ctx context.Context, label string, attempts []Attempt[T], opts Options) (T, error) {
	var zero T

	delay := opts.Delay
	if delay <= 0 {
		delay = 2 * time.Second
	}
	slowDelay := opts.SlowDelay
	if slowDelay <= 0 {
		slowDelay = 5 * time.Second
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = defaultSleep
	}

	var lastErr error
	skipped := make(map[string]bool)

	for i, a := range attempts {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if skipped[a.Provider] {
			continue
		}

		// Pace repeats against the same provider; the first try of the
		// next provider runs immediately.
		if lastErr != nil && i > 0 && attempts[i-1].Provider == a.Provider {
			d := delay
			if llm.IsSlowRetrySignature(lastErr) {
				d = slowDelay
			}
			if err := sleep(ctx, d); err != nil {
				return zero, err
			}
		}

		start := time.Now()
		res, err := a.Run(ctx)
		elapsed := time.Since(start).Round(time.Millisecond)

		if err == nil {
			trackOutcome(opts.Tracker, a.Provider, nil)
			slog.Info("Generation attempt succeeded",
				"op", label, "provider", a.Provider, "model", a.Model,
				"attempt", i+1, "attempts", len(attempts), "elapsed", elapsed)
			return res, nil
		}

		// Caller cancellation is not a provider failure.
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		if errors.Is(err, llm.ErrNotConfigured) {
			skipped[a.Provider] = true
			slog.Debug("Provider not configured, skipping",
				"op", label, "provider", a.Provider)
			lastErr = err
			continue
		}

		trackOutcome(opts.Tracker, a.Provider, err)
		slog.Warn("Generation attempt failed",
			"op", label, "provider", a.Provider, "model", a.Model,
			"attempt", i+1, "attempts", len(attempts), "elapsed", elapsed,
			"error", err)
		lastErr = err
	}

	if lastErr == nil {
		lastErr = llm.ErrNotConfigured
	}
	return zero, fmt.Errorf("%w: %s: %v", llm.ErrExhausted, label, lastErr)
}

func trackOutcome(t *tracker.Tracker, provider string, err error) {
	if t == nil {
		return
	}
	t.TrackAttempt(provider)
	switch {
	case err == nil:
		t.TrackSuccess(provider)
	case errors.Is(err, llm.ErrEmptyResponse):
		t.TrackEmptyResponse(provider)
		t.TrackFailure(provider)
	default:
		t.TrackFailure(provider)
	}
}

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
