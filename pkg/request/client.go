package request

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/proxy"

	"comicgen/pkg/logging"
	"comicgen/pkg/tracker"
	"comicgen/pkg/version"
)

var defaultUserAgent = fmt.Sprintf("comicgen/%s", version.Version)

// StatusError is returned for HTTP responses with status >= 400.
// The body is kept so callers can inspect provider error payloads.
type StatusError struct {
	Code int
	Body []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api error: status %d", e.Code)
}

// IsStatus reports whether err is a StatusError with the given code,
// unwrapping as needed.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// Options configures a Client.
type Options struct {
	// Timeout is the whole-request ceiling; per-call contexts may be
	// shorter. Zero means 300s.
	Timeout time.Duration
	// Proxy is an optional http://, https:// or socks5:// URL. It is
	// applied to this client only, never to the process environment.
	Proxy     string
	UserAgent string
}

// Client handles HTTP requests with per-provider queuing, request
// logging and tracking. It never retries on its own; callers own the
// retry discipline, so one call is one attempt.
type Client struct {
	httpClient *http.Client
	tracker    *tracker.Tracker
	userAgent  string

	// Queues per provider (domain)
	queues map[string]chan job
	mu     sync.Mutex // Protects queues map
}

// job represents a queued request.
type job struct {
	req      *http.Request
	headers  map[string]string
	respChan chan jobResult
}

type jobResult struct {
	body        []byte
	contentType string
	err         error
}

// New creates a new Client.
func New(t *tracker.Tracker, opts Options) (*Client, error) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 300 * time.Second
	}

	transport, err := buildTransport(opts.Proxy)
	if err != nil {
		return nil, err
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		tracker:    t,
		userAgent:  ua,
		queues:     make(map[string]chan job),
	}, nil
}

// NewHTTPClient builds a plain http.Client with the same proxy and
// timeout handling as Client. SDKs that manage their own transport
// loop take this instead of the queued client.
func NewHTTPClient(timeout time.Duration, proxyURL string) (*http.Client, error) {
	if timeout == 0 {
		timeout = 300 * time.Second
	}
	transport, err := buildTransport(proxyURL)
	if err != nil {
		return nil, err
	}
	return &http.Client{Timeout: timeout, Transport: transport}, nil
}

// buildTransport clones the default transport and wires the proxy in.
func buildTransport(proxyURL string) (*http.Transport, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL == "" {
		return transport, nil
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(u)
	case "socks5":
		var auth *proxy.Auth
		if u.User != nil {
			auth = &proxy.Auth{User: u.User.Username()}
			if pw, ok := u.User.Password(); ok {
				auth.Password = pw
			}
		}
		dialer, err := proxy.SOCKS5("tcp", u.Host, auth, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("socks5 proxy: %w", err)
		}
		cd, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks5 proxy: dialer does not support contexts")
		}
		transport.Proxy = nil
		transport.DialContext = cd.DialContext
	default:
		return nil, fmt.Errorf("unsupported proxy scheme: %s", u.Scheme)
	}

	return transport, nil
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, u string) ([]byte, error) {
	return c.GetWithHeaders(ctx, u, nil)
}

// GetWithHeaders performs a GET request with custom headers.
func (c *Client) GetWithHeaders(ctx context.Context, u string, headers map[string]string) ([]byte, error) {
	body, _, err := c.do(ctx, "GET", u, nil, headers)
	return body, err
}

// Post performs a POST request.
func (c *Client) Post(ctx context.Context, u string, body []byte, contentType string) ([]byte, error) {
	return c.PostWithHeaders(ctx, u, body, map[string]string{"Content-Type": contentType})
}

// PostWithHeaders performs a POST request with custom headers.
func (c *Client) PostWithHeaders(ctx context.Context, u string, body []byte, headers map[string]string) ([]byte, error) {
	respBody, _, err := c.do(ctx, "POST", u, body, headers)
	return respBody, err
}

// DownloadFile fetches a URL and stores the body under dir as
// "<prefix>_<uuid><ext>", inferring the extension from the response
// Content-Type, falling back to the URL path. Returns the file path.
func (c *Client) DownloadFile(ctx context.Context, u, dir, prefix string) (string, error) {
	body, contentType, err := c.do(ctx, "GET", u, nil, nil)
	if err != nil {
		return "", err
	}
	if len(body) == 0 {
		return "", fmt.Errorf("empty download body from %s", u)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}

	name := fmt.Sprintf("%s_%s%s", prefix, uuid.NewString(), inferExtension(contentType, u))
	dest := filepath.Join(dir, name)
	if err := os.WriteFile(dest, body, 0o644); err != nil {
		return "", fmt.Errorf("failed to write download: %w", err)
	}
	return dest, nil
}

var mimeExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

func inferExtension(contentType, rawURL string) string {
	ct := contentType
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	if ext, ok := mimeExtensions[strings.TrimSpace(ct)]; ok {
		return ext
	}
	if u, err := url.Parse(rawURL); err == nil {
		switch ext := strings.ToLower(path.Ext(u.Path)); ext {
		case ".png", ".jpg", ".jpeg", ".webp", ".gif":
			return ext
		}
	}
	return ".png"
}

func (c *Client) do(ctx context.Context, method, u string, body []byte, headers map[string]string) ([]byte, string, error) {
	parsedURL, err := url.Parse(u)
	if err != nil {
		return nil, "", fmt.Errorf("invalid url: %w", err)
	}
	provider := normalizeProvider(parsedURL.Host)

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	respChan := make(chan jobResult, 1)
	j := job{req: req, headers: headers, respChan: respChan}

	c.dispatch(provider, j)

	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case res := <-respChan:
		return res.body, res.contentType, res.err
	}
}

func normalizeProvider(host string) string {
	// Group API subdomains into one provider name for queue
	// serialization and stats.
	if strings.HasSuffix(host, "googleapis.com") {
		return "gemini"
	}
	if strings.HasSuffix(host, ".tu-zi.com") || host == "tu-zi.com" {
		return "tuzi"
	}
	return host
}

// dispatch sends the job to the provider's queue, creating the queue/worker if needed.
func (c *Client) dispatch(provider string, j job) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, ok := c.queues[provider]
	if !ok {
		// Create new queue and start worker
		q = make(chan job, 100)
		c.queues[provider] = q
		go c.worker(provider, q)
	}

	// We block here if the queue is full, effectively throttling the caller
	select {
	case q <- j:
	case <-j.req.Context().Done():
		// Caller gave up before we could even enqueue
		j.respChan <- jobResult{err: j.req.Context().Err()}
	}
}

// worker processes requests for a specific provider sequentially.
func (c *Client) worker(provider string, q <-chan job) {
	for j := range q {
		// Check context before processing
		if j.req.Context().Err() != nil {
			j.respChan <- jobResult{err: j.req.Context().Err()}
			continue
		}

		// Apply User-Agent (Default if not provided)
		uaMatch := false
		for k, v := range j.headers {
			j.req.Header.Set(k, v)
			if http.CanonicalHeaderKey(k) == "User-Agent" {
				uaMatch = true
			}
		}
		if !uaMatch {
			j.req.Header.Set("User-Agent", c.userAgent)
		}

		res := c.execute(provider, j.req)

		if res.err == nil {
			c.tracker.TrackAPISuccess(provider)
		} else {
			c.tracker.TrackAPIFailure(provider)
		}

		j.respChan <- res

		// Hardcoded safety gap to prevent hitting rate limits
		time.Sleep(100 * time.Millisecond)
	}
}

// execute performs exactly one request. Every failure surfaces to the
// caller so attempt counting stays accurate.
func (c *Client) execute(provider string, req *http.Request) jobResult {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Prefer the caller's cancellation over the wrapped dial error
		if req.Context().Err() != nil {
			err = req.Context().Err()
		}
		logRequest(provider, req, 0, 0, time.Since(start), err)
		return jobResult{err: err}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		logRequest(provider, req, resp.StatusCode, 0, time.Since(start), readErr)
		return jobResult{err: fmt.Errorf("read error: %w", readErr)}
	}

	if resp.StatusCode >= 400 {
		err := &StatusError{Code: resp.StatusCode, Body: body}
		logRequest(provider, req, resp.StatusCode, len(body), time.Since(start), err)
		return jobResult{err: err}
	}

	logRequest(provider, req, resp.StatusCode, len(body), time.Since(start), nil)
	return jobResult{body: body, contentType: resp.Header.Get("Content-Type")}
}

func logRequest(provider string, req *http.Request, status, bytes int, elapsed time.Duration, err error) {
	if logging.RequestLogger == nil {
		return
	}
	attrs := []any{
		"provider", provider,
		"method", req.Method,
		"host", req.URL.Host,
		"path", req.URL.Path,
		"status", status,
		"bytes", bytes,
		"elapsed", elapsed.Round(time.Millisecond),
	}
	if err != nil {
		attrs = append(attrs, "error", err)
		logging.RequestLogger.Warn("HTTP", attrs...)
		return
	}
	logging.RequestLogger.Info("HTTP", attrs...)
}
