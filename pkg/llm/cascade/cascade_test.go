package cascade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"comicgen/pkg/llm"
	"comicgen/pkg/tracker"
)

// recordingSleep captures requested delays without actually sleeping.
func recordingSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func TestRun_FirstSuccessShortCircuits(t *testing.T) {
	calls := 0
	attempts := Repeat("gemini", "m1", 3, func(ctx context.Context) (string, error) {
		calls++
		return "script", nil
	})

	var delays []time.Duration
	res, err := Run(context.Background(), "text", attempts, Options{Sleep: recordingSleep(&delays)})

	assert.NoError(t, err)
	assert.Equal(t, "script", res)
	assert.Equal(t, 1, calls, "success must not trigger more attempts")
	assert.Empty(t, delays)
}

func TestRun_AdvancesAfterFailure(t *testing.T) {
	calls := 0
	attempts := Repeat("gemini", "m1", 3, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", llm.ErrEmptyResponse
		}
		return "third time lucky", nil
	})

	var delays []time.Duration
	res, err := Run(context.Background(), "text", attempts, Options{Sleep: recordingSleep(&delays)})

	assert.NoError(t, err)
	assert.Equal(t, "third time lucky", res)
	assert.Equal(t, 3, calls)
	// One pacing delay before each same-provider retry.
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, delays)
}

func TestRun_SlowSignatureUsesLongerDelay(t *testing.T) {
	calls := 0
	attempts := Repeat("gemini", "m1", 2, func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", fmt.Errorf("tls: handshake failure")
		}
		return "ok", nil
	})

	var delays []time.Duration
	_, err := Run(context.Background(), "text", attempts, Options{Sleep: recordingSleep(&delays)})

	assert.NoError(t, err)
	assert.Equal(t, []time.Duration{5 * time.Second}, delays)
}

func TestRun_NoDelayAcrossProviderBoundary(t *testing.T) {
	var order []string
	attempts := Repeat("gemini", "m1", 2, func(ctx context.Context) (string, error) {
		order = append(order, "gemini")
		return "", errors.New("boom")
	})
	attempts = append(attempts, Repeat("tuzi", "m2", 1, func(ctx context.Context) (string, error) {
		order = append(order, "tuzi")
		return "fallback", nil
	})...)

	var delays []time.Duration
	res, err := Run(context.Background(), "text", attempts, Options{Sleep: recordingSleep(&delays)})

	assert.NoError(t, err)
	assert.Equal(t, "fallback", res)
	assert.Equal(t, []string{"gemini", "gemini", "tuzi"}, order)
	// Only the gemini retry is paced; switching to tuzi is immediate.
	assert.Equal(t, []time.Duration{2 * time.Second}, delays)
}

func TestRun_NotConfiguredSkipsRemainingAttempts(t *testing.T) {
	geminiCalls := 0
	attempts := Repeat("gemini", "m1", 3, func(ctx context.Context) (string, error) {
		geminiCalls++
		return "", llm.ErrNotConfigured
	})
	attempts = append(attempts, Repeat("tuzi", "m2", 1, func(ctx context.Context) (string, error) {
		return "secondary", nil
	})...)

	var delays []time.Duration
	res, err := Run(context.Background(), "text", attempts, Options{Sleep: recordingSleep(&delays)})

	assert.NoError(t, err)
	assert.Equal(t, "secondary", res)
	assert.Equal(t, 1, geminiCalls, "unconfigured provider should be probed once")
	assert.Empty(t, delays, "skips must not be paced")
}

func TestRun_Exhausted(t *testing.T) {
	tr := tracker.New()
	attempts := Repeat("gemini", "m1", 2, func(ctx context.Context) (string, error) {
		return "", llm.ErrEmptyResponse
	})

	var delays []time.Duration
	_, err := Run(context.Background(), "text", attempts, Options{Sleep: recordingSleep(&delays), Tracker: tr})

	assert.ErrorIs(t, err, llm.ErrExhausted)

	stats := tr.Snapshot()["gemini"]
	assert.Equal(t, int64(2), stats.Attempts)
	assert.Equal(t, int64(2), stats.Failures)
	assert.Equal(t, int64(2), stats.EmptyResponses)
	assert.Equal(t, int64(0), stats.Successes)
}

func TestRun_AllNotConfigured(t *testing.T) {
	attempts := Repeat("gemini", "m1", 3, func(ctx context.Context) (string, error) {
		return "", llm.ErrNotConfigured
	})

	_, err := Run(context.Background(), "text", attempts, Options{Sleep: recordingSleep(new([]time.Duration))})

	assert.ErrorIs(t, err, llm.ErrExhausted)
	assert.ErrorIs(t, err, llm.ErrNotConfigured)
}

func TestRun_CancellationStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	attempts := Repeat("gemini", "m1", 3, func(ctx context.Context) (string, error) {
		calls++
		cancel()
		return "", errors.New("boom")
	})

	_, err := Run(ctx, "text", attempts, Options{})

	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, llm.ErrExhausted)
	assert.Equal(t, 1, calls)
}

func TestRepeat(t *testing.T) {
	attempts := Repeat("p", "m", 3, func(ctx context.Context) (int, error) { return 0, nil })
	assert.Len(t, attempts, 3)
	for _, a := range attempts {
		assert.Equal(t, "p", a.Provider)
		assert.Equal(t, "m", a.Model)
	}

	assert.Empty(t, Repeat("p", "m", 0, func(ctx context.Context) (int, error) { return 0, nil }))
}

func TestWithValidator(t *testing.T) {
	run := WithValidator(func(ctx context.Context) (string, error) {
		return "Gemini Error: relay broke", nil
	}, func(text string) error {
		if strings.Contains(text, "Gemini Error") {
			return &llm.ProviderError{Provider: "gemini", Message: text}
		}
		return nil
	})

	_, err := run(context.Background())

	var pe *llm.ProviderError
	assert.ErrorAs(t, err, &pe)

	ok := WithValidator(func(ctx context.Context) (string, error) {
		return "a clean script", nil
	}, func(string) error { return nil })

	text, err := ok(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "a clean script", text)
}
