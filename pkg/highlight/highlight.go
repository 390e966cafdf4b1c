// Package highlight maps a stream-highlight transcript to its sibling
// assets on disk. Recordings drop a family of files next to each other
// that differ only in suffix; everything here derives from the
// transcript path.
package highlight

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

const (
	// TranscriptSuffix marks highlight transcripts, e.g.
	// 26966466_20240101_120000_AI_HIGHLIGHT.txt.
	TranscriptSuffix = "_AI_HIGHLIGHT.txt"

	scriptSuffix     = "_COMIC_SCRIPT.txt"
	outputSuffix     = "_COMIC_FACTORY.png"
	screenshotSuffix = "_SCREENSHOTS.jpg"
)

// Recording basenames start with the numeric room ID.
var roomIDRe = regexp.MustCompile(`^(\d+)_`)

var coverExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

// Files resolves the conventional sibling paths of one transcript.
type Files struct {
	Path string
}

func New(path string) Files {
	return Files{Path: path}
}

// Stem is the path prefix shared by all sibling assets.
func (f Files) Stem() string {
	dir := filepath.Dir(f.Path)
	base := filepath.Base(f.Path)
	if s := strings.TrimSuffix(base, TranscriptSuffix); s != base {
		base = s
	} else {
		base = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return filepath.Join(dir, base)
}

// RoomID extracts the numeric room ID prefix from the transcript
// basename, or "" when the name does not carry one.
func (f Files) RoomID() string {
	m := roomIDRe.FindStringSubmatch(filepath.Base(f.Path))
	if m == nil {
		return ""
	}
	return m[1]
}

// ScriptPath is where the generated comic script is cached.
func (f Files) ScriptPath() string {
	return f.Stem() + scriptSuffix
}

// OutputPath is where the final comic image goes.
func (f Files) OutputPath() string {
	return f.Stem() + outputSuffix
}

// Cover returns the stream cover image next to the transcript, or ""
// when none exists. Extensions are probed in a fixed order.
func (f Files) Cover() string {
	for _, ext := range coverExtensions {
		p := f.Stem() + ".cover" + ext
		if fileExists(p) {
			return p
		}
	}
	return ""
}

// Screenshot returns the conventional screenshot sibling, or "".
func (f Files) Screenshot() string {
	p := f.Stem() + screenshotSuffix
	if fileExists(p) {
		return p
	}
	return ""
}

// ReadTranscript reads the transcript text.
func (f Files) ReadTranscript() (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// CachedScript returns a previously generated script, if one exists
// with content. Reusing it avoids spending another text-provider call.
func (f Files) CachedScript() (string, bool) {
	data, err := os.ReadFile(f.ScriptPath())
	if err != nil {
		return "", false
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", false
	}
	return text, true
}

// WriteScriptOnce persists a generated script unless one is already
// cached. Fallback text must never be written here; the cache holds
// generated scripts only.
func (f Files) WriteScriptOnce(text string) error {
	file, err := os.OpenFile(f.ScriptPath(), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = file.WriteString(text)
	return err
}

// UniquePath returns path if free, else the first path_<n> variant
// that does not exist yet.
func UniquePath(path string) string {
	if !fileExists(path) {
		return path
	}

	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for n := 1; ; n++ {
		candidate := stem + "_" + strconv.Itoa(n) + ext
		if !fileExists(candidate) {
			return candidate
		}
	}
}

// FindPending walks root and returns transcripts that do not have a
// generated comic image yet, in walk order.
func FindPending(root string) ([]string, error) {
	var pending []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), TranscriptSuffix) {
			return nil
		}
		if fileExists(New(path).OutputPath()) {
			return nil
		}
		pending = append(pending, path)
		return nil
	})
	return pending, err
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
