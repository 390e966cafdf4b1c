// Package imageutil prepares reference images for inline embedding in
// provider requests.
package imageutil

import (
	"bytes"
	"image"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

const (
	maxWidth    = 1920
	maxHeight   = 1080
	jpegQuality = 85
)

// PrepareReference loads a reference image and returns bytes suitable
// for inline base64 embedding. Images within 1920x1080 keep their
// original encoding; oversized ones are scaled down to fit and
// re-encoded as JPEG. The character must stay whole, so the frame is
// never cropped. The file on disk is not modified.
func PrepareReference(path string) (data []byte, mimeType string, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		// Not decodable locally; let the provider make sense of it.
		return raw, MIMEFromPath(path), nil
	}

	if cfg.Width <= maxWidth && cfg.Height <= maxHeight {
		return raw, mimeForFormat(format, path), nil
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return raw, mimeForFormat(format, path), nil
	}

	scaled := scaleToFit(src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "image/jpeg", nil
}

// scaleToFit scales the image to fit within maxWidth x maxHeight, preserving aspect ratio.
// Does not upscale.
func scaleToFit(img image.Image) image.Image {
	b := img.Bounds()
	w := b.Dx()
	h := b.Dy()

	if w <= maxWidth && h <= maxHeight {
		return img
	}

	ratio := float64(maxWidth) / float64(w)
	if rh := float64(maxHeight) / float64(h); rh < ratio {
		ratio = rh
	}

	newW := int(float64(w) * ratio)
	newH := int(float64(h) * ratio)

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func mimeForFormat(format, path string) string {
	switch format {
	case "png":
		return "image/png"
	case "jpeg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	case "gif":
		return "image/gif"
	default:
		return MIMEFromPath(path)
	}
}

// MIMEFromPath guesses an image MIME type from the file extension.
// Unknown extensions default to PNG.
func MIMEFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "image/png"
	}
}
