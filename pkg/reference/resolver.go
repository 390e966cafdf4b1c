// Package reference chooses the character reference images for one
// generation. The primary slot follows a fixed priority order; cover
// and screenshot are appended as supplementary context.
package reference

import (
	"log/slog"
	"os"
	"path/filepath"

	"comicgen/pkg/config"
	"comicgen/pkg/highlight"
	"comicgen/pkg/model"
)

var roomImageExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

var builtinDefaultNames = []string{
	"default.jpg",
	"default.jpeg",
	"default.png",
	"default.webp",
}

// Resolver picks reference images from configuration and the
// transcript's sibling files.
type Resolver struct {
	cfg config.ReferenceConfig
}

func NewResolver(cfg config.ReferenceConfig) *Resolver {
	return &Resolver{cfg: cfg}
}

// Resolve returns the ordered reference list for a generation.
// Position 0 is the primary character reference; later entries are
// supplementary. The list may be empty. An explicit screenshot path
// takes precedence over the conventional sibling file.
func (r *Resolver) Resolve(room model.Room, transcriptPath, screenshot string) []string {
	files := highlight.New(transcriptPath)

	var images []string
	if primary := r.primary(room, files); primary != "" {
		images = append(images, primary)
	}

	// Cover and screenshot ride along as extra context when present.
	if cover := files.Cover(); cover != "" && !contains(images, cover) {
		images = append(images, cover)
	}
	if screenshot == "" || !fileExists(screenshot) {
		screenshot = files.Screenshot()
	}
	if screenshot != "" && !contains(images, screenshot) {
		images = append(images, screenshot)
	}

	return images
}

// primary walks the priority order: configured room image, room-named
// file in a reference directory, stream cover, configured default,
// built-in default names. Each missing step falls through to the next.
func (r *Resolver) primary(room model.Room, files highlight.Files) string {
	if room.ReferenceImage != "" {
		if p := r.locate(room.ReferenceImage); p != "" {
			return p
		}
		slog.Warn("Configured reference image not found", "room", room.ID, "path", room.ReferenceImage)
	}

	if room.ID != "" {
		for _, dir := range r.cfg.Dirs {
			for _, ext := range roomImageExtensions {
				p := filepath.Join(dir, room.ID+ext)
				if fileExists(p) {
					return p
				}
			}
		}
	}

	if cover := files.Cover(); cover != "" {
		return cover
	}

	if r.cfg.DefaultImage != "" {
		if p := r.locate(r.cfg.DefaultImage); p != "" {
			return p
		}
		slog.Warn("Configured default reference image not found", "path", r.cfg.DefaultImage)
	}

	for _, dir := range r.cfg.Dirs {
		for _, name := range builtinDefaultNames {
			p := filepath.Join(dir, name)
			if fileExists(p) {
				return p
			}
		}
	}

	return ""
}

// locate resolves a configured path: absolute paths are checked as-is,
// relative ones are tried against each base path in order.
func (r *Resolver) locate(path string) string {
	if filepath.IsAbs(path) {
		if fileExists(path) {
			return path
		}
		return ""
	}
	for _, base := range r.cfg.BasePaths {
		p := filepath.Join(base, path)
		if fileExists(p) {
			return p
		}
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
