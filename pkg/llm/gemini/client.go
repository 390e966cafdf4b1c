// Package gemini implements the Google provider for script and image
// generation. Text and the first image strategy go through the genai
// SDK; a minimal REST fallback rotates smaller image models when the
// SDK surface fails.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/api/iterator"
	"google.golang.org/genai"

	"comicgen/pkg/config"
	"comicgen/pkg/llm"
	"comicgen/pkg/llm/extract"
	"comicgen/pkg/llm/imageutil"
	"comicgen/pkg/request"
)

const defaultRESTBaseURL = "https://generativelanguage.googleapis.com"

var validateResponse = llm.MarkerValidator("gemini")

// restFallbackModels are tried in order by the REST image strategy
// when the configured model is unavailable.
var restFallbackModels = []string{
	"gemini-2.5-flash-image",
	"gemini-2.0-flash-preview-image-generation",
	"gemini-2.0-flash-exp-image-generation",
}

// Client talks to the Gemini API.
type Client struct {
	genaiClient *genai.Client
	rc          *request.Client
	httpClient  *http.Client
	apiKey      string
	restBaseURL string
	artifactDir string

	mu sync.RWMutex
}

// NewClient creates a new Gemini client. httpClient carries the proxy
// configuration for the SDK; rc is used for the REST strategy and
// artifact downloads. artifactDir receives generated image files.
func NewClient(cfg config.GeminiConfig, httpClient *http.Client, rc *request.Client, artifactDir string) (*Client, error) {
	c := &Client{
		rc:          rc,
		httpClient:  httpClient,
		restBaseURL: defaultRESTBaseURL,
		artifactDir: artifactDir,
	}
	if err := c.Configure(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// Configure updates the client with new settings.
func (c *Client) Configure(cfg config.GeminiConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.apiKey = cfg.Key

	if c.apiKey == "" {
		// Can't initialize without key.
		c.genaiClient = nil
		return nil
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:     c.apiKey,
		HTTPClient: c.httpClient,
	})
	if err != nil {
		return fmt.Errorf("failed to create genai client: %w", err)
	}
	c.genaiClient = client

	// Validate Model Availability
	if cfg.Model != "" {
		if err := c.validateModel(context.Background(), cfg.Model); err != nil {
			slog.Warn("Gemini model validation failed (proceeding anyway)", "error", err)
			// If the key/model is truly invalid, generation calls will fail later.
		}
	}

	return nil
}

// Close cleans up resources.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.genaiClient = nil
}

// Configured reports whether the client holds a usable API key.
func (c *Client) Configured() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.genaiClient != nil
}

// GenerateText sends a prompt and returns the text response.
func (c *Client) GenerateText(ctx context.Context, model, prompt string) (string, error) {
	c.mu.RLock()
	client := c.genaiClient
	c.mu.RUnlock()

	if client == nil {
		return "", llm.ErrNotConfigured
	}

	resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		return "", &llm.TransportError{Provider: "gemini", Err: err}
	}

	text, err := getResponseText(resp)
	if err != nil {
		return "", err
	}
	return text, nil
}

// GenerateImage produces an image artifact for the prompt plus
// reference images. It tries the SDK surface with the given model
// first, then falls back to the REST endpoint rotating through smaller
// models; an unavailable model (503) skips to the next one.
func (c *Client) GenerateImage(ctx context.Context, model, prompt string, refs []string) (string, error) {
	c.mu.RLock()
	client := c.genaiClient
	c.mu.RUnlock()

	if client == nil {
		return "", llm.ErrNotConfigured
	}

	path, err := c.generateImageSDK(ctx, client, model, prompt, refs)
	if err == nil {
		return path, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	slog.Debug("Gemini SDK image strategy failed, trying REST", "model", model, "error", err)

	lastErr := err
	for _, m := range rotateModels(model) {
		path, err := c.generateImageREST(ctx, m, prompt, refs)
		if err == nil {
			return path, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if request.IsStatus(err, http.StatusServiceUnavailable) {
			slog.Debug("Gemini REST model unavailable, rotating", "model", m)
		} else {
			slog.Debug("Gemini REST image strategy failed", "model", m, "error", err)
		}
		lastErr = err
	}
	return "", lastErr
}

// rotateModels puts the configured model first and removes duplicates.
func rotateModels(configured string) []string {
	models := make([]string, 0, len(restFallbackModels)+1)
	seen := make(map[string]bool)
	for _, m := range append([]string{configured}, restFallbackModels...) {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		models = append(models, m)
	}
	return models
}

func (c *Client) generateImageSDK(ctx context.Context, client *genai.Client, model, prompt string, refs []string) (string, error) {
	parts := []*genai.Part{{Text: prompt}}
	for _, ref := range refs {
		data, mime, err := imageutil.PrepareReference(ref)
		if err != nil {
			slog.Warn("Skipping unreadable reference image", "path", ref, "error", err)
			continue
		}
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{
			MIMEType: mime,
			Data:     data,
		}})
	}

	contents := []*genai.Content{{Role: "user", Parts: parts}}
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}

	resp, err := client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return "", &llm.TransportError{Provider: "gemini", Err: err}
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", llm.ErrEmptyResponse
	}

	var texts []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return llm.WriteArtifact(c.artifactDir, "gemini", part.InlineData.MIMEType, part.InlineData.Data)
		}
		if part.Text != "" {
			texts = append(texts, part.Text)
		}
	}

	return c.resolveTextArtifact(ctx, strings.Join(texts, "\n"))
}

// restPayload is the minimal generateContent request body.
type restPayload struct {
	Contents         []restContent `json:"contents"`
	GenerationConfig restGenConfig `json:"generationConfig"`
}

type restContent struct {
	Role  string     `json:"role"`
	Parts []restPart `json:"parts"`
}

type restPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *restInline `json:"inlineData,omitempty"`
}

type restInline struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type restGenConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

type restResponse struct {
	Candidates []struct {
		Content struct {
			Parts []restResponsePart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

type restResponsePart struct {
	Text       string      `json:"text"`
	InlineData *restInline `json:"inlineData"`
}

func (c *Client) generateImageREST(ctx context.Context, model, prompt string, refs []string) (string, error) {
	parts := []restPart{{Text: prompt}}
	for _, ref := range refs {
		data, mime, err := imageutil.PrepareReference(ref)
		if err != nil {
			slog.Warn("Skipping unreadable reference image", "path", ref, "error", err)
			continue
		}
		parts = append(parts, restPart{InlineData: &restInline{
			MIMEType: mime,
			Data:     base64.StdEncoding.EncodeToString(data),
		}})
	}

	payload := restPayload{
		Contents:         []restContent{{Role: "user", Parts: parts}},
		GenerationConfig: restGenConfig{ResponseModalities: []string{"TEXT", "IMAGE"}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	c.mu.RLock()
	apiKey := c.apiKey
	baseURL := c.restBaseURL
	c.mu.RUnlock()

	u := fmt.Sprintf("%s/v1beta/models/%s:generateContent", baseURL, model)
	headers := map[string]string{
		"Content-Type":   "application/json",
		"x-goog-api-key": apiKey,
	}

	respBody, err := c.rc.PostWithHeaders(ctx, u, body, headers)
	if err != nil {
		return "", &llm.TransportError{Provider: "gemini", Err: err}
	}

	var resp restResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", llm.ErrUnparseableResponse
	}
	if len(resp.Candidates) == 0 {
		return "", llm.ErrEmptyResponse
	}

	var texts []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.InlineData != nil && part.InlineData.Data != "" {
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil || len(data) == 0 {
				continue
			}
			return llm.WriteArtifact(c.artifactDir, "gemini", part.InlineData.MIMEType, data)
		}
		if part.Text != "" {
			texts = append(texts, part.Text)
		}
	}

	return c.resolveTextArtifact(ctx, strings.Join(texts, "\n"))
}

// resolveTextArtifact extracts an artifact reference from text-only
// responses: a direct URL is downloaded, an inline payload is written
// out, anything else is unparseable.
func (c *Client) resolveTextArtifact(ctx context.Context, text string) (string, error) {
	if err := validateResponse(text); err != nil {
		return "", err
	}

	switch m := extract.Find(text); m.Kind {
	case extract.KindImageURL:
		path, err := c.rc.DownloadFile(ctx, m.URL, c.artifactDir, "gemini")
		if err != nil {
			return "", &llm.TransportError{Provider: "gemini", Err: err}
		}
		return path, nil
	case extract.KindInlineData:
		return llm.WriteArtifact(c.artifactDir, "gemini", m.MIME, m.Data)
	default:
		return "", llm.ErrUnparseableResponse
	}
}

func getResponseText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", llm.ErrEmptyResponse
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return "", llm.ErrEmptyResponse
	}
	return sb.String(), nil
}

// validateModel checks if the configured model is available for the API key.
func (c *Client) validateModel(ctx context.Context, modelName string) error {
	// Ensure model name has 'models/' prefix
	name := modelName
	if !strings.HasPrefix(name, "models/") {
		name = "models/" + name
	}

	// Try to get the specific model (1 API call)
	_, err := c.genaiClient.Models.Get(ctx, name, nil)
	if err == nil {
		slog.Debug("Gemini model validation success", "model", modelName)
		return nil
	}

	slog.Warn("Gemini model validation failed, fetching available models...", "model", modelName, "error", err)

	// Fetch available models for recovery
	iter, listErr := c.genaiClient.Models.List(ctx, nil)
	if listErr != nil {
		slog.Warn("Failed to list models for recovery", "error", listErr)
		return nil // Proceed anyway
	}

	var availableModels []string
	for {
		resp, nextErr := iter.Next(ctx)
		if nextErr == iterator.Done {
			break
		}
		if nextErr != nil {
			break
		}
		if strings.Contains(strings.ToLower(resp.Name), "gemini") {
			availableModels = append(availableModels, resp.Name)
		}
	}

	slog.Error("Configured model not found", "configured", modelName)
	slog.Error("Available 'gemini' models for this key:")
	for _, m := range availableModels {
		slog.Error("- " + m)
	}

	return nil // Proceed anyway (lazy validation on generation)
}
