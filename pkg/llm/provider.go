package llm

import (
	"context"
)

// TextGenerator produces text from a prompt with a specific model.
type TextGenerator interface {
	GenerateText(ctx context.Context, model, prompt string) (string, error)
}

// ImageGenerator produces a local image artifact from a prompt plus an
// ordered list of reference image paths. It returns the artifact path.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, model, prompt string, refs []string) (string, error)
}

// ResponseValidator inspects a transport-level success and decides
// whether the payload is acceptable. Returning an error converts the
// result into a failed attempt; typical rejections are ErrEmptyResponse
// and ProviderError for failure markers hidden in 200 bodies.
type ResponseValidator func(text string) error
