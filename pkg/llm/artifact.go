package llm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var mimeExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// WriteArtifact stores raw image bytes under dir as
// "<prefix>_<uuid><ext>" and returns the file path. The extension is
// derived from the MIME type, defaulting to .png.
func WriteArtifact(dir, prefix, mime string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("refusing to write empty artifact")
	}

	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}

	ext, ok := mimeExtensions[normalizeMIME(mime)]
	if !ok {
		ext = ".png"
	}

	dest := filepath.Join(dir, fmt.Sprintf("%s_%s%s", prefix, uuid.NewString(), ext))
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	return dest, nil
}

func normalizeMIME(mime string) string {
	mime = strings.TrimSpace(strings.ToLower(mime))
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	return mime
}
