package comic

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comicgen/pkg/config"
	"comicgen/pkg/highlight"
	"comicgen/pkg/llm"
	"comicgen/pkg/llm/prompts"
	"comicgen/pkg/model"
	"comicgen/pkg/reference"
	"comicgen/pkg/tracker"
)

// fakeProvider scripts provider outcomes and records what was asked.
type fakeProvider struct {
	textFn  func(ctx context.Context, model, prompt string) (string, error)
	imageFn func(ctx context.Context, model, prompt string, refs []string) (string, error)

	textCalls   int
	imageCalls  int
	imageModels []string
}

func (f *fakeProvider) GenerateText(ctx context.Context, model, prompt string) (string, error) {
	f.textCalls++
	if f.textFn == nil {
		return "", llm.ErrNotConfigured
	}
	return f.textFn(ctx, model, prompt)
}

func (f *fakeProvider) GenerateImage(ctx context.Context, model, prompt string, refs []string) (string, error) {
	f.imageCalls++
	f.imageModels = append(f.imageModels, model)
	if f.imageFn == nil {
		return "", llm.ErrNotConfigured
	}
	return f.imageFn(ctx, model, prompt, refs)
}

func newTestService(t *testing.T, cfg *config.Config, gemini, tuzi Provider) *Service {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	pm, err := prompts.NewManager("")
	require.NoError(t, err)

	svc := New(cfg, pm, reference.NewResolver(cfg.Reference), gemini, tuzi, tracker.New())
	svc.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return svc
}

func writeTranscript(t *testing.T, dir, name, text string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

func TestGenerateScriptPrimaryTimesOutSecondaryWins(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Generation.TextTimeout = config.Duration(20 * time.Millisecond)

	gemini := &fakeProvider{
		textFn: func(ctx context.Context, model, prompt string) (string, error) {
			<-ctx.Done() // sit on the per-attempt deadline
			return "", &llm.TransportError{Provider: "gemini", Err: ctx.Err()}
		},
	}
	tuzi := &fakeProvider{
		textFn: func(ctx context.Context, model, prompt string) (string, error) {
			return "Panel 1: A laughs", nil
		},
	}

	svc := newTestService(t, cfg, gemini, tuzi)
	res, err := svc.GenerateScript(context.Background(), model.Transcript{Text: "A laughed at B's joke"}, model.Room{})
	require.NoError(t, err)

	assert.Equal(t, "Panel 1: A laughs", res.Text)
	assert.True(t, res.WasGenerated)
	assert.Equal(t, model.ScriptGenerated, res.Source)
	assert.Equal(t, 3, gemini.textCalls, "primary gets exactly its retry budget")
	assert.Equal(t, 1, tuzi.textCalls)
}

func TestGenerateScriptAllProvidersExhausted(t *testing.T) {
	fail := func(ctx context.Context, model, prompt string) (string, error) {
		return "", &llm.TransportError{Provider: "x", Err: errors.New("connection refused")}
	}
	gemini := &fakeProvider{textFn: fail}
	tuzi := &fakeProvider{textFn: fail}

	svc := newTestService(t, nil, gemini, tuzi)
	res, err := svc.GenerateScript(context.Background(), model.Transcript{Text: "raw transcript"}, model.Room{})
	require.NoError(t, err, "exhaustion degrades, it does not error")

	assert.Equal(t, "raw transcript", res.Text)
	assert.False(t, res.WasGenerated)
	assert.Equal(t, model.ScriptFallback, res.Source)
	assert.Equal(t, 3, gemini.textCalls)
	assert.Equal(t, 3, tuzi.textCalls)
}

func TestGenerateScriptRejectsErrorMarker(t *testing.T) {
	gemini := &fakeProvider{
		textFn: func(ctx context.Context, model, prompt string) (string, error) {
			return "Gemini Error: quota exceeded for today", nil
		},
	}
	tuzi := &fakeProvider{
		textFn: func(ctx context.Context, model, prompt string) (string, error) {
			return "Panel 1: recovery", nil
		},
	}

	svc := newTestService(t, nil, gemini, tuzi)
	res, err := svc.GenerateScript(context.Background(), model.Transcript{Text: "whatever"}, model.Room{})
	require.NoError(t, err)

	assert.Equal(t, "Panel 1: recovery", res.Text, "a marker body must never win")
	assert.Equal(t, 3, gemini.textCalls, "marker bodies consume retries like failures")
}

func TestGenerateScriptPromptComposition(t *testing.T) {
	var seen string
	gemini := &fakeProvider{
		textFn: func(ctx context.Context, model, prompt string) (string, error) {
			seen = prompt
			return "script", nil
		},
	}

	svc := newTestService(t, nil, gemini, &fakeProvider{})
	room := model.Room{ID: "1", CharacterDescription: "a fox vtuber"}
	_, err := svc.GenerateScript(context.Background(), model.Transcript{Text: "stream highlight body"}, room)
	require.NoError(t, err)

	assert.Contains(t, seen, "a fox vtuber")
	assert.Contains(t, seen, "stream highlight body")
}

func TestGenerateScriptCachedShortCircuit(t *testing.T) {
	dir := t.TempDir()
	path := writeTranscript(t, dir, "26966466_AI_HIGHLIGHT.txt", "transcript")
	files := highlight.New(path)
	require.NoError(t, os.WriteFile(files.ScriptPath(), []byte("cached script"), 0o644))

	forbidden := func(ctx context.Context, model, prompt string) (string, error) {
		t.Error("provider must not be called on a cache hit")
		return "", nil
	}
	gemini := &fakeProvider{textFn: forbidden}
	tuzi := &fakeProvider{textFn: forbidden}

	svc := newTestService(t, nil, gemini, tuzi)
	res, err := svc.GenerateScript(context.Background(), model.Transcript{Path: path, Text: "transcript"}, model.Room{})
	require.NoError(t, err)

	assert.Equal(t, "cached script", res.Text)
	assert.True(t, res.WasGenerated)
	assert.Equal(t, model.ScriptCached, res.Source)
}

func TestGenerateScriptSecondCallHitsCache(t *testing.T) {
	dir := t.TempDir()
	path := writeTranscript(t, dir, "42_AI_HIGHLIGHT.txt", "transcript")

	gemini := &fakeProvider{
		textFn: func(ctx context.Context, model, prompt string) (string, error) {
			return "Panel 1: generated once", nil
		},
	}
	svc := newTestService(t, nil, gemini, &fakeProvider{})

	transcript := model.Transcript{Path: path, Text: "transcript"}
	first, err := svc.GenerateScript(context.Background(), transcript, model.Room{})
	require.NoError(t, err)
	assert.Equal(t, model.ScriptGenerated, first.Source)

	data, err := os.ReadFile(highlight.New(path).ScriptPath())
	require.NoError(t, err)
	assert.Equal(t, "Panel 1: generated once", string(data))

	second, err := svc.GenerateScript(context.Background(), transcript, model.Room{})
	require.NoError(t, err)
	assert.Equal(t, model.ScriptCached, second.Source)
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, 1, gemini.textCalls, "cache hit must not issue another provider call")
}

func TestGenerateScriptFallbackNotCached(t *testing.T) {
	dir := t.TempDir()
	path := writeTranscript(t, dir, "42_AI_HIGHLIGHT.txt", "transcript")

	fail := func(ctx context.Context, model, prompt string) (string, error) {
		return "", llm.ErrEmptyResponse
	}
	svc := newTestService(t, nil, &fakeProvider{textFn: fail}, &fakeProvider{textFn: fail})

	res, err := svc.GenerateScript(context.Background(), model.Transcript{Path: path, Text: "transcript"}, model.Room{})
	require.NoError(t, err)
	assert.False(t, res.WasGenerated)

	_, statErr := os.Stat(highlight.New(path).ScriptPath())
	assert.True(t, os.IsNotExist(statErr), "fallback text must never be written to the script cache")
}

func TestGenerateImageGeminiFirst(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "artifact.png")
	require.NoError(t, os.WriteFile(artifact, []byte("png"), 0o644))

	gemini := &fakeProvider{
		imageFn: func(ctx context.Context, model, prompt string, refs []string) (string, error) {
			return artifact, nil
		},
	}
	tuzi := &fakeProvider{}

	svc := newTestService(t, nil, gemini, tuzi)
	res, err := svc.GenerateImage(context.Background(), "prompt", nil)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, artifact, res.Path)
	assert.Equal(t, "gemini", res.Provider)
	assert.Equal(t, 0, tuzi.imageCalls, "secondary must not run when the primary succeeds")
}

func TestGenerateImageTuziRotation(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Providers.Gemini.ImageEnabled = false

	artifact := filepath.Join(t.TempDir(), "artifact.png")
	require.NoError(t, os.WriteFile(artifact, []byte("png"), 0o644))

	tuzi := &fakeProvider{}
	tuzi.imageFn = func(ctx context.Context, model, prompt string, refs []string) (string, error) {
		if tuzi.imageCalls < 3 {
			return "", llm.ErrUnparseableResponse
		}
		return artifact, nil
	}

	svc := newTestService(t, cfg, &fakeProvider{}, tuzi)
	res, err := svc.GenerateImage(context.Background(), "prompt", nil)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, []string{
		"gpt-image-1.5",
		"gemini-2.5-flash-image-vip",
		"gemini-3-pro-image-preview/nano-banana-2",
	}, tuzi.imageModels)
	assert.Equal(t, "tuzi", res.Provider)
	assert.Equal(t, "gemini-3-pro-image-preview/nano-banana-2", res.Model)
}

func TestGenerateImageExhaustedReturnsNoResult(t *testing.T) {
	fail := func(ctx context.Context, model, prompt string, refs []string) (string, error) {
		return "", &llm.ProviderError{Provider: "x", Message: "nope"}
	}
	svc := newTestService(t, nil, &fakeProvider{imageFn: fail}, &fakeProvider{imageFn: fail})

	res, err := svc.GenerateImage(context.Background(), "prompt", nil)
	require.NoError(t, err, "exhaustion is a no-result outcome, not an error")
	assert.Nil(t, res)
}

func TestImageRotation(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		want       []string
	}{
		{
			name:       "custom model leads",
			configured: "my-model",
			want: []string{
				"my-model",
				"gpt-image-1.5",
				"gemini-2.5-flash-image-vip",
				"gemini-3-pro-image-preview/nano-banana-2",
			},
		},
		{
			name:       "configured duplicate collapses",
			configured: "gpt-image-1.5",
			want: []string{
				"gpt-image-1.5",
				"gemini-2.5-flash-image-vip",
				"gemini-3-pro-image-preview/nano-banana-2",
			},
		},
		{
			name:       "empty configured",
			configured: "",
			want: []string{
				"gpt-image-1.5",
				"gemini-2.5-flash-image-vip",
				"gemini-3-pro-image-preview/nano-banana-2",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, imageRotation(tt.configured))
		})
	}
}

func TestGenerateSkipsImageWhenScriptFellBack(t *testing.T) {
	dir := t.TempDir()
	path := writeTranscript(t, dir, "26966466_AI_HIGHLIGHT.txt", "transcript body")

	failText := func(ctx context.Context, model, prompt string) (string, error) {
		return "", llm.ErrEmptyResponse
	}
	forbiddenImage := func(ctx context.Context, model, prompt string, refs []string) (string, error) {
		t.Error("image generation must not run for a fallback script")
		return "", nil
	}
	gemini := &fakeProvider{textFn: failText, imageFn: forbiddenImage}
	tuzi := &fakeProvider{textFn: failText, imageFn: forbiddenImage}

	svc := newTestService(t, nil, gemini, tuzi)
	rec, err := svc.Generate(context.Background(), path, "", "")
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, model.ScriptFallback, rec.ScriptSource)
	assert.Empty(t, rec.ImagePath)
	assert.Empty(t, rec.ScriptPath)
	assert.Equal(t, 0, gemini.imageCalls)
	assert.Equal(t, 0, tuzi.imageCalls)
}

func TestGenerateEndToEnd(t *testing.T) {
	dir := t.TempDir()
	path := writeTranscript(t, dir, "26966466_AI_HIGHLIGHT.txt", "A laughed at B's joke")

	artifactDir := t.TempDir()
	gemini := &fakeProvider{
		textFn: func(ctx context.Context, model, prompt string) (string, error) {
			return "Panel 1: A laughs", nil
		},
		imageFn: func(ctx context.Context, model, prompt string, refs []string) (string, error) {
			assert.Contains(t, prompt, "Panel 1: A laughs", "image prompt embeds the script")
			src := filepath.Join(artifactDir, "tmp_artifact.png")
			if err := os.WriteFile(src, []byte("fake png bytes"), 0o644); err != nil {
				return "", err
			}
			return src, nil
		},
	}

	svc := newTestService(t, nil, gemini, &fakeProvider{})
	rec, err := svc.Generate(context.Background(), path, "", "")
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, path, rec.TranscriptPath)
	assert.Equal(t, "26966466", rec.RoomID)
	assert.Equal(t, model.ScriptGenerated, rec.ScriptSource)
	assert.Equal(t, "gemini", rec.Provider)
	assert.False(t, rec.CreatedAt.IsZero())

	wantOut := filepath.Join(dir, "26966466_COMIC_FACTORY.png")
	assert.Equal(t, wantOut, rec.ImagePath)
	data, err := os.ReadFile(wantOut)
	require.NoError(t, err)
	assert.Equal(t, "fake png bytes", string(data))

	script, err := os.ReadFile(rec.ScriptPath)
	require.NoError(t, err)
	assert.Equal(t, "Panel 1: A laughs", string(script))
}

func TestGenerateRoomDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Rooms = map[string]config.RoomConfig{"26966466": {Disabled: true}}

	dir := t.TempDir()
	path := writeTranscript(t, dir, "26966466_AI_HIGHLIGHT.txt", "transcript")

	svc := newTestService(t, cfg, &fakeProvider{}, &fakeProvider{})
	rec, err := svc.Generate(context.Background(), path, "", "")
	assert.Nil(t, rec)
	assert.ErrorIs(t, err, ErrRoomDisabled)
}

func TestGenerateRoomOverride(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Rooms = map[string]config.RoomConfig{
		"26966466": {Disabled: true},
		"777":      {CharacterDescription: "a fox in a lab coat"},
	}

	dir := t.TempDir()
	path := writeTranscript(t, dir, "26966466_AI_HIGHLIGHT.txt", "transcript body")

	var prompt string
	gemini := &fakeProvider{
		textFn: func(ctx context.Context, mdl, p string) (string, error) {
			prompt = p
			return "Panel 1: the fox grins", nil
		},
	}

	// The override replaces the filename-derived room, so the disabled
	// flag on 26966466 must not apply.
	svc := newTestService(t, cfg, gemini, &fakeProvider{})
	rec, err := svc.Generate(context.Background(), path, "777", "")
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, "777", rec.RoomID)
	assert.Contains(t, prompt, "a fox in a lab coat")
}

func TestGenerateUnknownRoomFallback(t *testing.T) {
	dir := t.TempDir()
	path := writeTranscript(t, dir, "notes_AI_HIGHLIGHT.txt", "transcript body")

	svc := newTestService(t, nil, &fakeProvider{
		textFn: func(ctx context.Context, mdl, p string) (string, error) {
			return "Panel 1", nil
		},
	}, &fakeProvider{})
	rec, err := svc.Generate(context.Background(), path, "", "")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "unknown", rec.RoomID)
}

func TestGenerateCancelledContext(t *testing.T) {
	dir := t.TempDir()
	path := writeTranscript(t, dir, "42_AI_HIGHLIGHT.txt", "transcript")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := newTestService(t, nil, &fakeProvider{}, &fakeProvider{})
	_, err := svc.Generate(ctx, path, "", "")
	assert.ErrorIs(t, err, context.Canceled)
}
