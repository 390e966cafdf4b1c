package tracker

import (
	"sync"
	"sync/atomic"
)

// Tracker tracks usage statistics per provider.
type Tracker struct {
	mu    sync.RWMutex
	stats map[string]*ProviderStats
}

// ProviderStats holds metrics for a specific provider.
// Fields are accessed atomically.
type ProviderStats struct {
	Attempts       int64
	Successes      int64
	Failures       int64
	EmptyResponses int64
	APISuccess     int64
	APIFailures    int64
}

// New creates a new Tracker.
func New() *Tracker {
	return &Tracker{
		stats: make(map[string]*ProviderStats),
	}
}

// getStats returns the stats object for a provider, creating it if needed.
func (t *Tracker) getStats(provider string) *ProviderStats {
	t.mu.RLock()
	s, ok := t.stats[provider]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	// Double check
	if s, ok = t.stats[provider]; ok {
		return s
	}
	s = &ProviderStats{}
	t.stats[provider] = s
	return s
}

// TrackAttempt increments the generation attempt counter.
func (t *Tracker) TrackAttempt(provider string) {
	atomic.AddInt64(&t.getStats(provider).Attempts, 1)
}

func (t *Tracker) TrackSuccess(provider string) {
	atomic.AddInt64(&t.getStats(provider).Successes, 1)
}

func (t *Tracker) TrackFailure(provider string) {
	atomic.AddInt64(&t.getStats(provider).Failures, 1)
}

func (t *Tracker) TrackEmptyResponse(provider string) {
	atomic.AddInt64(&t.getStats(provider).EmptyResponses, 1)
}

func (t *Tracker) TrackAPISuccess(provider string) {
	atomic.AddInt64(&t.getStats(provider).APISuccess, 1)
}

func (t *Tracker) TrackAPIFailure(provider string) {
	atomic.AddInt64(&t.getStats(provider).APIFailures, 1)
}

// Snapshot returns a copy of the current stats.
func (t *Tracker) Snapshot() map[string]ProviderStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]ProviderStats)
	for k, v := range t.stats {
		result[k] = ProviderStats{
			Attempts:       atomic.LoadInt64(&v.Attempts),
			Successes:      atomic.LoadInt64(&v.Successes),
			Failures:       atomic.LoadInt64(&v.Failures),
			EmptyResponses: atomic.LoadInt64(&v.EmptyResponses),
			APISuccess:     atomic.LoadInt64(&v.APISuccess),
			APIFailures:    atomic.LoadInt64(&v.APIFailures),
		}
	}
	return result
}
