package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"comicgen/pkg/comic"
	"comicgen/pkg/config"
	"comicgen/pkg/db"
	"comicgen/pkg/highlight"
	"comicgen/pkg/llm/gemini"
	"comicgen/pkg/llm/prompts"
	"comicgen/pkg/llm/tuzi"
	"comicgen/pkg/logging"
	"comicgen/pkg/reference"
	"comicgen/pkg/request"
	"comicgen/pkg/store"
	"comicgen/pkg/tracker"
	"comicgen/pkg/version"
	"comicgen/pkg/watcher"
)

var (
	initConfig    = flag.Bool("init-config", false, "Generate default config file and exit")
	configPath    = flag.String("config", "configs/comicgen.yaml", "Path to the config file")
	transcript    = flag.String("transcript", "", "Generate a comic for a single transcript file")
	scanDir       = flag.String("dir", "", "Scan a directory tree for pending transcripts")
	roomID        = flag.String("room", "", "Room ID override; replaces the ID parsed from filenames")
	dryRun        = flag.Bool("dry-run", false, "List pending work without calling any provider")
	watch         = flag.Bool("watch", false, "Keep scanning -dir and process transcripts as they appear")
	watchInterval = flag.Duration("watch-interval", 30*time.Second, "Poll interval in watch mode")
)

// Run records older than this are pruned at startup.
const historyRetention = 90 * 24 * time.Hour

func main() {
	flag.Parse()

	if *initConfig {
		if err := config.GenerateDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Config file generated:", *configPath)
		return
	}

	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Secrets may live in a .env file next to the binary.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	slog.Info("comicgen started", "version", version.Version)

	if *watch {
		return runWatch(ctx, cfg)
	}
	return runOnce(ctx, cfg)
}

// runOnce processes the current pending set and exits.
func runOnce(ctx context.Context, cfg *config.Config) error {
	paths, err := collectWork()
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		slog.Info("No pending transcripts")
		return nil
	}

	if *dryRun {
		for _, p := range paths {
			fmt.Println(p)
		}
		return nil
	}

	tr := tracker.New()
	defer logStats(tr)

	svc, err := initServices(cfg, tr)
	if err != nil {
		return err
	}

	st, closeStore, err := initHistory(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// A screenshot handle only makes sense for a single transcript; in
	// batch mode each file falls back to its sibling by convention.
	screenshot := ""
	if *transcript != "" {
		screenshot = os.Getenv("SCREENSHOT_PATH")
	}

	if err := processAll(ctx, svc, st, paths, *roomID, screenshot); err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Info("Interrupted, shutting down")
			return nil
		}
		return err
	}
	return nil
}

// runWatch keeps polling the scan directory until interrupted,
// generating a comic for every transcript that shows up.
func runWatch(ctx context.Context, cfg *config.Config) error {
	if *scanDir == "" {
		return errors.New("-watch requires -dir")
	}

	tr := tracker.New()
	defer logStats(tr)

	svc, err := initServices(cfg, tr)
	if err != nil {
		return err
	}

	st, closeStore, err := initHistory(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	w, err := watcher.NewService(*scanDir)
	if err != nil {
		return err
	}

	slog.Info("Watching for transcripts", "dir", *scanDir, "interval", *watchInterval)

	ticker := time.NewTicker(*watchInterval)
	defer ticker.Stop()

	for {
		if batch := w.CheckNew(); len(batch) > 0 {
			if err := processAll(ctx, svc, st, batch, *roomID, ""); err != nil {
				if errors.Is(err, context.Canceled) {
					slog.Info("Interrupted, shutting down")
					return nil
				}
				return err
			}
		}

		select {
		case <-ctx.Done():
			slog.Info("Interrupted, shutting down")
			return nil
		case <-ticker.C:
		}
	}
}

// collectWork resolves the flags into an ordered list of transcript
// files to process.
func collectWork() ([]string, error) {
	switch {
	case *transcript != "":
		if _, err := os.Stat(*transcript); err != nil {
			return nil, fmt.Errorf("transcript not readable: %w", err)
		}
		return []string{*transcript}, nil

	case *scanDir != "":
		paths, err := highlight.FindPending(*scanDir)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", *scanDir, err)
		}
		return paths, nil

	default:
		return nil, errors.New("nothing to do: pass -transcript FILE or -dir DIR")
	}
}

func initServices(cfg *config.Config, tr *tracker.Tracker) (*comic.Service, error) {
	rc, err := request.New(tr, request.Options{
		Timeout: time.Duration(cfg.Generation.ImageTimeout),
		Proxy:   cfg.Proxy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create request client: %w", err)
	}

	// The genai SDK brings its own transport; hand it one that honors
	// the configured proxy.
	httpClient, err := request.NewHTTPClient(time.Duration(cfg.Generation.ImageTimeout), cfg.Proxy)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	geminiClient, err := gemini.NewClient(cfg.Providers.Gemini, httpClient, rc, cfg.Generation.TempDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	tuziClient := tuzi.NewClient(cfg.Providers.Tuzi, cfg.Generation, rc)

	if !geminiClient.Configured() && !tuziClient.Configured() {
		slog.Warn("No provider configured; every generation will fall back to the raw transcript")
	}

	pm, err := prompts.NewManager("configs/prompts")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize prompt manager: %w", err)
	}

	return comic.New(cfg, pm, reference.NewResolver(cfg.Reference), geminiClient, tuziClient, tr), nil
}

// initHistory opens the run-history store. History is optional; an
// empty path disables it and the returned store is nil.
func initHistory(cfg *config.Config) (store.Store, func(), error) {
	if cfg.History.Path == "" {
		return nil, func() {}, nil
	}
	dbConn, err := db.Init(cfg.History.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize history db: %w", err)
	}
	if err := dbConn.PruneRuns(historyRetention); err != nil {
		slog.Warn("Failed to prune old runs", "error", err)
	}
	st := store.NewSQLiteStore(dbConn)
	return st, func() { st.Close() }, nil
}

func processAll(ctx context.Context, svc *comic.Service, st store.Store, paths []string, room, screenshot string) error {
	var withImage, scriptOnly, skipped, failed int

	for _, p := range paths {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rec, err := svc.Generate(ctx, p, room, screenshot)
		switch {
		case errors.Is(err, comic.ErrRoomDisabled):
			slog.Info("Skipping disabled room", "transcript", p)
			skipped++
			continue
		case errors.Is(err, context.Canceled):
			return err
		case err != nil:
			// One bad file must not sink the batch.
			slog.Error("Generation failed", "transcript", p, "error", err)
			failed++
			continue
		}

		if rec.ImagePath != "" {
			withImage++
		} else {
			scriptOnly++
		}

		if st != nil {
			if err := st.SaveRun(ctx, rec); err != nil {
				slog.Warn("Failed to record run", "transcript", p, "error", err)
			}
		}
	}

	slog.Info("Run complete",
		"total", len(paths), "images", withImage, "script_only", scriptOnly,
		"skipped", skipped, "failed", failed)
	return nil
}

func logStats(tr *tracker.Tracker) {
	for provider, s := range tr.Snapshot() {
		slog.Info("Provider stats", "provider", provider,
			"attempts", s.Attempts, "successes", s.Successes,
			"failures", s.Failures, "empty", s.EmptyResponses,
			"api_failures", s.APIFailures)
	}
}
