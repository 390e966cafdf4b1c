// Package comic orchestrates one transcript into a comic: script
// generation with provider fallback, reference image resolution and
// the image cascade, then placing the artifact next to the transcript.
package comic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"comicgen/pkg/config"
	"comicgen/pkg/highlight"
	"comicgen/pkg/llm"
	"comicgen/pkg/llm/cascade"
	"comicgen/pkg/llm/imageutil"
	"comicgen/pkg/llm/prompts"
	"comicgen/pkg/model"
	"comicgen/pkg/reference"
	"comicgen/pkg/tracker"
)

// Provider names used for attempt logs, stats and error labels.
const (
	providerGemini = "gemini"
	providerTuzi   = "tuzi"
)

// Models the secondary image provider rotates through after the
// configured one, a single attempt each.
var imageFallbackModels = []string{
	"gpt-image-1.5",
	"gemini-2.5-flash-image-vip",
	"gemini-3-pro-image-preview/nano-banana-2",
}

// ErrRoomDisabled marks a transcript whose room has generation
// switched off. Callers skip the file and move on.
var ErrRoomDisabled = errors.New("comic generation disabled for room")

// Provider bundles the two generation surfaces a backend offers.
type Provider interface {
	llm.TextGenerator
	llm.ImageGenerator
}

// ImageResult is the produced artifact plus the attempt that won.
type ImageResult struct {
	model.Artifact
	Provider string
	Model    string
}

// Service wires the text and image cascades behind the generation
// operations. One Service handles any number of sequential requests;
// it keeps no per-request state.
type Service struct {
	cfg      *config.Config
	prompts  *prompts.Manager
	resolver *reference.Resolver
	gemini   Provider
	tuzi     Provider
	tracker  *tracker.Tracker

	// sleep overrides retry pacing in tests. Nil means real sleep.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Service. Either provider may be a client that is not
// configured; the cascade skips those at run time.
func New(cfg *config.Config, pm *prompts.Manager, resolver *reference.Resolver, gemini, tuzi Provider, trk *tracker.Tracker) *Service {
	return &Service{
		cfg:      cfg,
		prompts:  pm,
		resolver: resolver,
		gemini:   gemini,
		tuzi:     tuzi,
		tracker:  trk,
	}
}

// Generate runs the full pipeline for one transcript file and returns
// the run record for history. A missing image is not an error; the
// record then carries an empty ImagePath. roomOverride, when non-empty,
// replaces the room ID parsed from the filename. screenshot optionally
// names an extra reference image and may be empty.
func (s *Service) Generate(ctx context.Context, transcriptPath, roomOverride, screenshot string) (*model.RunRecord, error) {
	start := time.Now()
	files := highlight.New(transcriptPath)
	roomID := roomOverride
	if roomID == "" {
		roomID = files.RoomID()
	}
	if roomID == "" {
		roomID = "unknown"
	}

	if s.cfg.RoomDisabled(roomID) {
		return nil, fmt.Errorf("%w: %s", ErrRoomDisabled, roomID)
	}

	text, err := files.ReadTranscript()
	if err != nil {
		return nil, fmt.Errorf("reading transcript: %w", err)
	}

	room := s.cfg.Room(roomID)
	req := model.GenerationRequest{
		Transcript:      model.Transcript{Path: transcriptPath, Text: text},
		Room:            room,
		ReferenceImages: s.resolver.Resolve(room, transcriptPath, screenshot),
	}

	script, err := s.GenerateScript(ctx, req.Transcript, req.Room)
	if err != nil {
		return nil, err
	}

	rec := &model.RunRecord{
		TranscriptPath: transcriptPath,
		RoomID:         roomID,
		ScriptSource:   script.Source,
		CreatedAt:      time.Now(),
	}
	if script.Source != model.ScriptFallback {
		rec.ScriptPath = files.ScriptPath()
	}

	// A script that fell back to the raw transcript is not worth an
	// image-generation call.
	if !script.WasGenerated {
		slog.Warn("Script generation fell back to raw transcript, skipping image",
			"transcript", transcriptPath, "room", roomID)
		rec.Elapsed = time.Since(start).Round(time.Millisecond)
		return rec, nil
	}

	prompt, err := s.prompts.RenderImage(req.Room.ImagePrompt, prompts.ImageData{
		CharacterDesc: req.Room.CharacterDescription,
		ComicContent:  script.Text,
	})
	if err != nil {
		return nil, fmt.Errorf("rendering image prompt: %w", err)
	}

	img, err := s.GenerateImage(ctx, prompt, req.ReferenceImages)
	if err != nil {
		return nil, err
	}
	if img == nil {
		slog.Warn("No image produced", "transcript", transcriptPath, "room", roomID)
		rec.Elapsed = time.Since(start).Round(time.Millisecond)
		return rec, nil
	}

	outPath := highlight.UniquePath(files.OutputPath())
	if err := moveFile(img.Path, outPath); err != nil {
		return nil, fmt.Errorf("placing artifact: %w", err)
	}

	rec.ImagePath = outPath
	rec.Provider = img.Provider
	rec.Model = img.Model
	rec.Elapsed = time.Since(start).Round(time.Millisecond)
	slog.Info("Comic generated",
		"transcript", transcriptPath, "room", roomID,
		"image", outPath, "mime", img.MIME,
		"provider", img.Provider, "model", img.Model,
		"elapsed", rec.Elapsed)
	return rec, nil
}

// GenerateScript produces the narrative script for a transcript. An
// existing cached script short-circuits all provider calls. When every
// provider attempt fails the raw transcript text comes back with
// WasGenerated=false; that outcome is not an error.
func (s *Service) GenerateScript(ctx context.Context, t model.Transcript, room model.Room) (model.ScriptResult, error) {
	files := highlight.New(t.Path)
	if t.Path != "" {
		if cached, ok := files.CachedScript(); ok {
			slog.Info("Reusing cached script", "path", files.ScriptPath())
			return model.ScriptResult{Text: cached, WasGenerated: true, Source: model.ScriptCached}, nil
		}
	}

	prompt, err := s.prompts.RenderScript(room.ScriptPrompt, prompts.ScriptData{
		CharacterDesc:    room.CharacterDescription,
		HighlightContent: t.Text,
	})
	if err != nil {
		return model.ScriptResult{}, fmt.Errorf("rendering script prompt: %w", err)
	}

	text, err := cascade.Run(ctx, "script", s.scriptAttempts(prompt), s.cascadeOptions())
	if err != nil {
		if errors.Is(err, llm.ErrExhausted) {
			slog.Warn("All text providers exhausted, using raw transcript", "error", err)
			return model.ScriptResult{Text: t.Text, WasGenerated: false, Source: model.ScriptFallback}, nil
		}
		return model.ScriptResult{}, err
	}

	// Never cache the fallback text; only real generations are reusable.
	if t.Path != "" {
		if err := files.WriteScriptOnce(text); err != nil {
			slog.Warn("Failed to persist script", "path", files.ScriptPath(), "error", err)
		}
	}
	return model.ScriptResult{Text: text, WasGenerated: true, Source: model.ScriptGenerated}, nil
}

// GenerateImage runs the image cascade for an already-rendered prompt.
// It returns nil when every provider is exhausted; callers treat that
// as "no image this time", not a failure.
func (s *Service) GenerateImage(ctx context.Context, prompt string, refs []string) (*ImageResult, error) {
	res, err := cascade.Run(ctx, "image", s.imageAttempts(prompt, refs), s.cascadeOptions())
	if err != nil {
		if errors.Is(err, llm.ErrExhausted) {
			return nil, nil
		}
		return nil, err
	}
	return &res, nil
}

func (s *Service) scriptAttempts(prompt string) []cascade.Attempt[string] {
	gemini := s.cfg.Providers.Gemini
	tuzi := s.cfg.Providers.Tuzi
	timeout := time.Duration(s.cfg.Generation.TextTimeout)

	primary := cascade.Repeat(providerGemini, gemini.Model, retryCount(gemini.MaxRetries),
		cascade.WithValidator(s.textAttempt(s.gemini, gemini.Model, prompt, timeout), llm.MarkerValidator(providerGemini)))
	secondary := cascade.Repeat(providerTuzi, tuzi.TextModel, retryCount(tuzi.MaxRetries),
		cascade.WithValidator(s.textAttempt(s.tuzi, tuzi.TextModel, prompt, timeout), llm.MarkerValidator(providerTuzi)))

	return append(primary, secondary...)
}

func (s *Service) textAttempt(p Provider, mdl, prompt string, timeout time.Duration) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return p.GenerateText(ctx, mdl, prompt)
	}
}

func (s *Service) imageAttempts(prompt string, refs []string) []cascade.Attempt[ImageResult] {
	var attempts []cascade.Attempt[ImageResult]
	timeout := time.Duration(s.cfg.Generation.ImageTimeout)

	// The gemini client runs its own SDK-then-REST strategy chain
	// internally, so it gets a single slot in the outer cascade.
	if s.cfg.Providers.Gemini.ImageEnabled {
		mdl := s.cfg.Providers.Gemini.ImageModel
		attempts = append(attempts, cascade.Attempt[ImageResult]{
			Provider: providerGemini,
			Model:    mdl,
			Run:      s.imageAttempt(s.gemini, providerGemini, mdl, prompt, refs, timeout),
		})
	}

	for _, m := range imageRotation(s.cfg.Providers.Tuzi.ImageModel) {
		attempts = append(attempts, cascade.Attempt[ImageResult]{
			Provider: providerTuzi,
			Model:    m,
			Run:      s.imageAttempt(s.tuzi, providerTuzi, m, prompt, refs, timeout),
		})
	}
	return attempts
}

func (s *Service) imageAttempt(p Provider, provider, mdl, prompt string, refs []string, timeout time.Duration) func(ctx context.Context) (ImageResult, error) {
	return func(ctx context.Context) (ImageResult, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		path, err := p.GenerateImage(ctx, mdl, prompt, refs)
		if err != nil {
			return ImageResult{}, err
		}
		return ImageResult{
			Artifact: model.Artifact{Path: path, MIME: imageutil.MIMEFromPath(path)},
			Provider: provider,
			Model:    mdl,
		}, nil
	}
}

func (s *Service) cascadeOptions() cascade.Options {
	return cascade.Options{
		Delay:     time.Duration(s.cfg.Generation.RetryDelay),
		SlowDelay: time.Duration(s.cfg.Generation.RetryDelaySlow),
		Sleep:     s.sleep,
		Tracker:   s.tracker,
	}
}

// imageRotation orders the secondary provider's models: the configured
// one first, then the fixed fallbacks. A configured model equal to a
// fallback is tried once, not twice.
func imageRotation(configured string) []string {
	models := make([]string, 0, len(imageFallbackModels)+1)
	if configured != "" {
		models = append(models, configured)
	}
	for _, m := range imageFallbackModels {
		if !containsString(models, m) {
			models = append(models, m)
		}
	}
	return models
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func retryCount(n int) int {
	if n <= 0 {
		return 3
	}
	return n
}

// moveFile renames src to dst, copying when the rename crosses
// filesystems (the artifact temp dir may not share one with the
// transcript).
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
