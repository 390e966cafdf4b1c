// Package task polls asynchronous generation tasks until they finish
// and fetches the resulting artifact.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"comicgen/pkg/llm"
	"comicgen/pkg/request"
)

// Handle identifies a running async task.
type Handle struct {
	PollURL string
	// Interval between polls. Zero means 3s.
	Interval time.Duration
	// PollTimeout bounds each poll request. Zero means 30s.
	PollTimeout time.Duration
}

// pollResponse is the provider's task status document. Providers are
// loose about the shape, so every field is optional.
type pollResponse struct {
	Status        string       `json:"status"`
	URLs          []string     `json:"urls"`
	Generations   []generation `json:"generations"`
	Error         string       `json:"error"`
	FailureReason string       `json:"failure_reason"`
}

type generation struct {
	URL string `json:"url"`
}

// Wait polls until the task reaches a terminal state and returns the
// artifact URL. The overall deadline comes from ctx; when it expires
// before completion the result is a timeout TaskError. A transport
// error or malformed body on a single poll is logged and retried on
// the next tick, while a "failed" status is terminal immediately.
func Wait(ctx context.Context, client *request.Client, h Handle) (string, error) {
	interval := h.Interval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	pollTimeout := h.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for poll := 1; ; poll++ {
		url, done, err := pollOnce(ctx, client, h.PollURL, pollTimeout, poll)
		if err != nil {
			return "", err
		}
		if done {
			return url, nil
		}

		select {
		case <-ctx.Done():
			return "", deadlineError(ctx)
		case <-ticker.C:
		}
	}
}

// WaitAndDownload polls the task to completion and downloads the
// artifact into dir. A failed download is terminal: the task result is
// gone for good, so it is not worth another poll cycle.
func WaitAndDownload(ctx context.Context, client *request.Client, h Handle, dir, prefix string) (string, error) {
	url, err := Wait(ctx, client, h)
	if err != nil {
		return "", err
	}

	path, err := client.DownloadFile(ctx, url, dir, prefix)
	if err != nil {
		if ctx.Err() != nil {
			return "", deadlineError(ctx)
		}
		return "", &llm.TaskError{Status: "completed", Reason: "artifact download failed: " + err.Error()}
	}
	return path, nil
}

// pollOnce performs a single status query. done=true with a URL means
// the task completed; done=false asks the caller to keep polling.
func pollOnce(ctx context.Context, client *request.Client, pollURL string, timeout time.Duration, poll int) (string, bool, error) {
	if ctx.Err() != nil {
		return "", false, deadlineError(ctx)
	}

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	body, err := client.Get(pollCtx, pollURL)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return "", false, deadlineError(ctx)
		}
		// Single poll failures are not terminal.
		slog.Warn("Task poll failed, will retry", "poll", poll, "error", err)
		return "", false, nil
	}

	var resp pollResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		slog.Warn("Task poll returned malformed body, will retry", "poll", poll, "error", err)
		return "", false, nil
	}

	status := strings.ToLower(strings.TrimSpace(resp.Status))
	if status == "failed" {
		reason := resp.FailureReason
		if reason == "" {
			reason = resp.Error
		}
		return "", false, &llm.TaskError{Status: status, Reason: reason}
	}

	// Completed explicitly, or implicitly by carrying an artifact URL.
	if status == "completed" || artifactURL(&resp) != "" {
		if url := artifactURL(&resp); url != "" {
			slog.Debug("Task completed", "poll", poll, "status", resp.Status)
			return url, true, nil
		}
		slog.Warn("Task completed without artifact URL, will retry", "poll", poll)
		return "", false, nil
	}

	slog.Debug("Task still running", "poll", poll, "status", resp.Status)
	return "", false, nil
}

func artifactURL(resp *pollResponse) string {
	if len(resp.URLs) > 0 && resp.URLs[0] != "" {
		return resp.URLs[0]
	}
	if len(resp.Generations) > 0 && resp.Generations[0].URL != "" {
		return resp.Generations[0].URL
	}
	return ""
}

// deadlineError maps context expiry to the task timeout error while
// letting explicit cancellation propagate as such.
func deadlineError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &llm.TaskError{Timeout: true}
	}
	return ctx.Err()
}
