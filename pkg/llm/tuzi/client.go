// Package tuzi implements the tu-zi.com relay provider. Both text and
// image generation go through the OpenAI-compatible chat completions
// endpoint; image results come back as free text carrying a URL, an
// inline payload or an async task reference.
package tuzi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"comicgen/pkg/config"
	"comicgen/pkg/llm"
	"comicgen/pkg/llm/extract"
	"comicgen/pkg/llm/imageutil"
	"comicgen/pkg/llm/task"
	"comicgen/pkg/request"
)

const defaultBaseURL = "https://api.tu-zi.com"

// maxTokens matches the relay's generous completion budget; responses
// carry whole scripts or base64 image payloads.
const maxTokens = 100000

var validateResponse = llm.MarkerValidator("tuzi")

// Client talks to a chat-completions-shaped relay API.
type Client struct {
	rc          *request.Client
	apiKey      string
	baseURL     string
	artifactDir string

	pollInterval time.Duration
	pollTimeout  time.Duration

	mu sync.RWMutex
}

// Request follows the standard OpenAI Chat Completions format.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float32   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // Can be string or []ContentPart
}

type ContentPart struct {
	Type     string           `json:"type"`
	Text     string           `json:"text,omitempty"`
	ImageURL *ImageURLContent `json:"image_url,omitempty"`
}

type ImageURLContent struct {
	URL string `json:"url"`
}

// Response follows the standard Chat Completions response format.
type Response struct {
	Choices []struct {
		Message struct {
			Content   string     `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type ToolCall struct {
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// NewClient creates a new relay client. gen supplies polling cadence
// and the artifact directory.
func NewClient(cfg config.TuziConfig, gen config.GenerationConfig, rc *request.Client) *Client {
	c := &Client{
		rc:           rc,
		artifactDir:  gen.TempDir,
		pollInterval: time.Duration(gen.PollInterval),
		pollTimeout:  time.Duration(gen.PollTimeout),
	}
	c.Configure(cfg)
	return c
}

// Configure updates the client with new settings.
func (c *Client) Configure(cfg config.TuziConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	c.baseURL = strings.TrimSuffix(baseURL, "/")

	if !cfg.Enabled {
		c.apiKey = ""
		return
	}
	c.apiKey = cfg.Key
}

// Configured reports whether the client is enabled and holds a key.
func (c *Client) Configured() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey != ""
}

// GenerateText sends a prompt and returns the text response.
func (c *Client) GenerateText(ctx context.Context, model, prompt string) (string, error) {
	req := Request{
		Model: model,
		Messages: []Message{
			{Role: "user", Content: prompt},
		},
		Temperature: 0.7,
		MaxTokens:   maxTokens,
	}

	resp, err := c.execute(ctx, req)
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", llm.ErrEmptyResponse
	}
	return text, nil
}

// GenerateImage sends the prompt plus inline base64 reference images
// in one chat request and resolves whatever artifact encoding the
// relay answered with: an async task is polled to completion, a URL is
// downloaded, an inline payload is written out.
func (c *Client) GenerateImage(ctx context.Context, model, prompt string, refs []string) (string, error) {
	parts := []ContentPart{{Type: "text", Text: prompt}}
	for _, ref := range refs {
		dataURL, err := encodeDataURL(ref)
		if err != nil {
			slog.Warn("Skipping unreadable reference image", "path", ref, "error", err)
			continue
		}
		parts = append(parts, ContentPart{Type: "image_url", ImageURL: &ImageURLContent{URL: dataURL}})
	}

	req := Request{
		Model: model,
		Messages: []Message{
			{Role: "user", Content: parts},
		},
		Temperature: 0.7,
		MaxTokens:   maxTokens,
	}

	resp, err := c.execute(ctx, req)
	if err != nil {
		return "", err
	}

	msg := resp.Choices[0].Message
	if strings.TrimSpace(msg.Content) != "" {
		if err := validateResponse(msg.Content); err != nil {
			return "", err
		}
	}

	args := make([]string, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		args = append(args, tc.Function.Arguments)
	}

	switch m := extract.FindWithToolArgs(msg.Content, args); m.Kind {
	case extract.KindAsyncTask:
		slog.Info("Relay returned an async task, polling", "url", m.URL)
		h := task.Handle{PollURL: m.URL, Interval: c.pollInterval, PollTimeout: c.pollTimeout}
		return task.WaitAndDownload(ctx, c.rc, h, c.artifactDir, "tuzi")
	case extract.KindImageURL, extract.KindToolCallURL:
		path, err := c.rc.DownloadFile(ctx, m.URL, c.artifactDir, "tuzi")
		if err != nil {
			return "", &llm.TransportError{Provider: "tuzi", Err: err}
		}
		return path, nil
	case extract.KindInlineData:
		return llm.WriteArtifact(c.artifactDir, "tuzi", m.MIME, m.Data)
	default:
		if strings.TrimSpace(msg.Content) == "" && len(args) == 0 {
			return "", llm.ErrEmptyResponse
		}
		return "", llm.ErrUnparseableResponse
	}
}

func (c *Client) execute(ctx context.Context, req Request) (*Response, error) {
	c.mu.RLock()
	apiKey := c.apiKey
	baseURL := c.baseURL
	c.mu.RUnlock()

	if apiKey == "" {
		return nil, llm.ErrNotConfigured
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	headers := map[string]string{
		"Authorization": "Bearer " + apiKey,
		"Content-Type":  "application/json",
	}

	respBody, err := c.rc.PostWithHeaders(ctx, baseURL+"/v1/chat/completions", body, headers)
	if err != nil {
		return nil, &llm.TransportError{Provider: "tuzi", Err: err}
	}

	var resp Response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, llm.ErrUnparseableResponse
	}

	if resp.Error != nil {
		msg := resp.Error.Message
		if resp.Error.Type != "" {
			msg = fmt.Sprintf("%s (%s)", msg, resp.Error.Type)
		}
		return nil, &llm.ProviderError{Provider: "tuzi", Message: msg}
	}

	if len(resp.Choices) == 0 {
		return nil, llm.ErrEmptyResponse
	}

	return &resp, nil
}

// encodeDataURL reads an image file into a data: URL for inline use.
func encodeDataURL(path string) (string, error) {
	data, mime, err := imageutil.PrepareReference(path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data)), nil
}
