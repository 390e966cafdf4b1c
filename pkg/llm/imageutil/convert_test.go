package imageutil

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func createTestPNG(t *testing.T, w, h int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPrepareReference_Scales4K(t *testing.T) {
	path := createTestPNG(t, 3840, 2160)

	data, mime, err := PrepareReference(path)
	if err != nil {
		t.Fatalf("PrepareReference failed: %v", err)
	}
	if mime != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %s", mime)
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("failed to decode output JPEG: %v", err)
	}

	b := img.Bounds()
	if b.Dx() > maxWidth || b.Dy() > maxHeight {
		t.Errorf("output too large: %dx%d", b.Dx(), b.Dy())
	}
}

func TestPrepareReference_SmallImagePassthrough(t *testing.T) {
	path := createTestPNG(t, 800, 600)

	original, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	data, mime, err := PrepareReference(path)
	if err != nil {
		t.Fatalf("PrepareReference failed: %v", err)
	}
	if mime != "image/png" {
		t.Errorf("expected image/png passthrough, got %s", mime)
	}
	if !bytes.Equal(data, original) {
		t.Error("small image should pass through byte-identical")
	}
}

func TestPrepareReference_UndecodableBytesPassthrough(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ref.png")
	payload := []byte("not really a png")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatal(err)
	}

	data, mime, err := PrepareReference(path)
	if err != nil {
		t.Fatalf("PrepareReference failed: %v", err)
	}
	if mime != "image/png" {
		t.Errorf("expected extension-derived mime, got %s", mime)
	}
	if !bytes.Equal(data, payload) {
		t.Error("undecodable file should pass through untouched")
	}
}

func TestPrepareReference_NonexistentFile(t *testing.T) {
	_, _, err := PrepareReference(filepath.Join(t.TempDir(), "missing.png"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestMIMEFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"ref.png", "image/png"},
		{"/tmp/ref.JPG", "image/jpeg"},
		{"ref.jpeg", "image/jpeg"},
		{"ref.webp", "image/webp"},
		{"ref.gif", "image/gif"},
		{"ref.bin", "image/png"},
		{"noext", "image/png"},
	}

	for _, tt := range tests {
		if got := MIMEFromPath(tt.path); got != tt.want {
			t.Errorf("MIMEFromPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
