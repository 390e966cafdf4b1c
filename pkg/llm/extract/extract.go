// Package extract locates image artifacts inside model responses.
// Providers return images in several shapes: an async task marker that
// points at a polling endpoint, a plain image URL, an inline base64
// data URI, or a URL buried in tool-call arguments. Matchers run in
// that priority order and the first hit wins.
package extract

import (
	"encoding/base64"
	"regexp"
	"strings"
)

// Kind tags which matcher produced a Match.
type Kind int

const (
	KindNone Kind = iota
	KindAsyncTask
	KindImageURL
	KindInlineData
	KindToolCallURL
)

func (k Kind) String() string {
	switch k {
	case KindAsyncTask:
		return "async_task"
	case KindImageURL:
		return "image_url"
	case KindInlineData:
		return "inline_data"
	case KindToolCallURL:
		return "tool_call_url"
	default:
		return "none"
	}
}

// Match is the tagged result of scanning a response.
type Match struct {
	Kind Kind
	URL  string // poll URL for KindAsyncTask, image URL otherwise
	Data []byte // decoded payload for KindInlineData
	MIME string // MIME type for KindInlineData
}

// markerTexts are link labels that mark an async task handle rather
// than a finished image.
var markerTexts = []string{"原始数据"}

var (
	markdownLinkRe = regexp.MustCompile(`\[([^\]]*)\]\(\s*(https?://[^)\s]+)\s*\)`)
	bareURLRe      = regexp.MustCompile(`https?://[^\s<>"'\)\]]+`)
	dataURIRe      = regexp.MustCompile(`data:image/([a-zA-Z0-9.+-]+);base64,([A-Za-z0-9+/=\s_-]+)`)
)

// Find scans response text with the matcher chain and returns the
// first hit. A zero Match (KindNone) means no recognized shape.
func Find(text string) Match {
	if m, ok := findAsyncMarker(text); ok {
		return m
	}
	if u, ok := FindURL(text); ok {
		return Match{Kind: KindImageURL, URL: u}
	}
	if m, ok := findDataURI(text); ok {
		return m
	}
	return Match{}
}

// FindWithToolArgs runs Find on the content text, then falls back to
// scanning tool-call argument blobs for URLs.
func FindWithToolArgs(text string, toolArgs []string) Match {
	if m := Find(text); m.Kind != KindNone {
		return m
	}
	for _, arg := range toolArgs {
		if u, ok := FindURL(arg); ok {
			return Match{Kind: KindToolCallURL, URL: u}
		}
	}
	return Match{}
}

// findAsyncMarker matches markdown links whose label is a known async
// task marker; the link target is the polling endpoint.
func findAsyncMarker(text string) (Match, bool) {
	for _, link := range markdownLinkRe.FindAllStringSubmatch(text, -1) {
		label, target := link[1], link[2]
		for _, marker := range markerTexts {
			if strings.Contains(label, marker) {
				return Match{Kind: KindAsyncTask, URL: strings.TrimSpace(target)}, true
			}
		}
	}
	return Match{}, false
}

// FindURL returns the first bare URL in the text. Trailing punctuation
// that commonly follows URLs in prose is stripped.
func FindURL(text string) (string, bool) {
	u := bareURLRe.FindString(text)
	if u == "" {
		return "", false
	}
	u = strings.TrimRight(u, `.,;:!?'"`)
	if u == "" {
		return "", false
	}
	return u, true
}

// findDataURI decodes the first inline base64 image payload.
func findDataURI(text string) (Match, bool) {
	m := dataURIRe.FindStringSubmatch(text)
	if m == nil {
		return Match{}, false
	}

	subtype, payload := m[1], m[2]
	data, err := decodeBase64(payload)
	if err != nil || len(data) == 0 {
		return Match{}, false
	}

	return Match{
		Kind: KindInlineData,
		Data: data,
		MIME: "image/" + strings.ToLower(subtype),
	}, true
}

// decodeBase64 tolerates whitespace line wrapping and both padded and
// raw encodings.
func decodeBase64(payload string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, payload)

	if data, err := base64.StdEncoding.DecodeString(cleaned); err == nil {
		return data, nil
	}
	if data, err := base64.RawStdEncoding.DecodeString(cleaned); err == nil {
		return data, nil
	}
	return base64.URLEncoding.DecodeString(cleaned)
}
