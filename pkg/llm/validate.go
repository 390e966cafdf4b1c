package llm

import "strings"

// RelayErrorMarker is the failure signature Gemini-backed relays embed
// in HTTP 200 bodies instead of returning an error status. A response
// carrying it is a provider failure no matter what the status line said.
const RelayErrorMarker = "Gemini Error"

// MarkerValidator returns a ResponseValidator that rejects empty
// bodies and bodies carrying the relay failure marker.
func MarkerValidator(provider string) ResponseValidator {
	return func(text string) error {
		if strings.TrimSpace(text) == "" {
			return ErrEmptyResponse
		}
		if strings.Contains(text, RelayErrorMarker) {
			return &ProviderError{Provider: provider, Message: firstLine(text)}
		}
		return nil
	}
}

// firstLine trims a body down to something loggable.
func firstLine(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	const max = 200
	if runes := []rune(text); len(runes) > max {
		text = string(runes[:max])
	}
	return text
}
