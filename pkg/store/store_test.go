package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"comicgen/pkg/db"
	"comicgen/pkg/model"
)

// setupTestStore creates a test database and store for each test.
func setupTestStore(t *testing.T) (*SQLiteStore, func()) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	d, err := db.Init(dbPath)
	if err != nil {
		t.Fatalf("Failed to init DB: %v", err)
	}

	store := NewSQLiteStore(d)
	cleanup := func() { d.Close() }
	return store, cleanup
}

func TestSaveRunRoundTrip(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	rec := &model.RunRecord{
		TranscriptPath: "/data/26966466_AI_HIGHLIGHT.txt",
		RoomID:         "26966466",
		ScriptPath:     "/data/26966466_COMIC_SCRIPT.txt",
		ScriptSource:   model.ScriptGenerated,
		ImagePath:      "/data/26966466_COMIC_FACTORY.png",
		Provider:       "gemini",
		Model:          "gemini-3-pro-image-preview",
		Elapsed:        1500 * time.Millisecond,
		CreatedAt:      time.Now().Add(-time.Minute),
	}
	if err := s.SaveRun(ctx, rec); err != nil {
		t.Fatalf("SaveRun() failed: %v", err)
	}

	runs, err := s.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRuns() failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}

	got := runs[0]
	if got.TranscriptPath != rec.TranscriptPath {
		t.Errorf("TranscriptPath = %q, want %q", got.TranscriptPath, rec.TranscriptPath)
	}
	if got.RoomID != rec.RoomID {
		t.Errorf("RoomID = %q, want %q", got.RoomID, rec.RoomID)
	}
	if got.ScriptSource != model.ScriptGenerated {
		t.Errorf("ScriptSource = %q, want %q", got.ScriptSource, model.ScriptGenerated)
	}
	if got.ImagePath != rec.ImagePath {
		t.Errorf("ImagePath = %q, want %q", got.ImagePath, rec.ImagePath)
	}
	if got.Provider != "gemini" || got.Model != rec.Model {
		t.Errorf("provider/model = %q/%q, want gemini/%q", got.Provider, got.Model, rec.Model)
	}
	if got.Elapsed != rec.Elapsed {
		t.Errorf("Elapsed = %v, want %v", got.Elapsed, rec.Elapsed)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt was not persisted")
	}
}

func TestSaveRunFillsCreatedAt(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	before := time.Now().Add(-time.Second)
	rec := &model.RunRecord{
		TranscriptPath: "/data/42_AI_HIGHLIGHT.txt",
		RoomID:         "42",
		ScriptSource:   model.ScriptFallback,
	}
	if err := s.SaveRun(ctx, rec); err != nil {
		t.Fatalf("SaveRun() failed: %v", err)
	}

	runs, err := s.RecentRuns(ctx, 1)
	if err != nil {
		t.Fatalf("RecentRuns() failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].CreatedAt.Before(before) {
		t.Errorf("CreatedAt %v not defaulted to now", runs[0].CreatedAt)
	}
	// A fallback run has no image and no winning provider.
	if runs[0].ImagePath != "" || runs[0].Provider != "" {
		t.Errorf("fallback run carried image %q provider %q", runs[0].ImagePath, runs[0].Provider)
	}
}

func TestRecentRunsOrderAndLimit(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now()
	for i, room := range []string{"1", "2", "3"} {
		rec := &model.RunRecord{
			TranscriptPath: "/data/" + room + "_AI_HIGHLIGHT.txt",
			RoomID:         room,
			ScriptSource:   model.ScriptCached,
			CreatedAt:      now.Add(time.Duration(i-3) * time.Hour),
		}
		if err := s.SaveRun(ctx, rec); err != nil {
			t.Fatalf("SaveRun(%s) failed: %v", room, err)
		}
	}

	runs, err := s.RecentRuns(ctx, 2)
	if err != nil {
		t.Fatalf("RecentRuns() failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].RoomID != "3" || runs[1].RoomID != "2" {
		t.Errorf("wrong order: got rooms %s, %s", runs[0].RoomID, runs[1].RoomID)
	}
}

func TestRecentRunsEmpty(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	runs, err := s.RecentRuns(context.Background(), 5)
	if err != nil {
		t.Fatalf("RecentRuns() failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected no runs, got %d", len(runs))
	}
}
