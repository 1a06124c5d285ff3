// Package upstream talks to the generative API on behalf of the proxy.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/genai-studio/edge-proxy/internal/models"
	"github.com/genai-studio/edge-proxy/internal/token"
)

// Capability identifies one proxied upstream feature.
type Capability string

const (
	Chat  Capability = "chat"
	Image Capability = "image"
	Video Capability = "video"
)

// maxErrorBody bounds how much of an upstream error body is read.
const maxErrorBody = 1 << 20

// ErrMissingCredential is returned when no upstream credential is configured.
var ErrMissingCredential = errors.New("API key not configured")

// Config describes the upstream API.
type Config struct {
	ProviderName      string        `mapstructure:"provider_name"`
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	ChatPath          string        `mapstructure:"chat_path"`
	ImagePath         string        `mapstructure:"image_path"`
	VideoPath         string        `mapstructure:"video_path"`
	VideoRetrievePath string        `mapstructure:"video_retrieve_path"`
	ChatTimeout       time.Duration `mapstructure:"chat_timeout"`
	ImageTimeout      time.Duration `mapstructure:"image_timeout"`
	VideoTimeout      time.Duration `mapstructure:"video_timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
}

// StatusError is a non-2xx upstream response. Body holds the decoded error
// body, or an empty object when it was not valid JSON.
type StatusError struct {
	Status int
	Body   json.RawMessage
	// Parsed is false when Body is the empty-object fallback.
	Parsed bool
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned HTTP %d: %s", e.Status, e.Body)
}

// Client issues authenticated calls to the upstream API. A new bearer token
// is minted for every call.
type Client struct {
	cfg    Config
	http   *http.Client
	minter *token.Minter
	logger *zap.Logger
	onMint func(error)
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithMintObserver registers fn to be called after every mint attempt.
func WithMintObserver(fn func(error)) Option {
	return func(c *Client) {
		c.onMint = fn
	}
}

// New creates a client.
func New(cfg Config, minter *token.Minter, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{},
		minter: minter,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ProviderName returns the display name of the upstream provider.
func (c *Client) ProviderName() string {
	return c.cfg.ProviderName
}

// Timeout returns the deadline budget of a capability. It covers the
// upstream call and, for streams, the whole relay.
func (c *Client) Timeout(capability Capability) time.Duration {
	switch capability {
	case Chat:
		return c.cfg.ChatTimeout
	case Image:
		return c.cfg.ImageTimeout
	case Video:
		return c.cfg.VideoTimeout
	}
	return 0
}

// Chat posts a chat completion request. When req.Stream is set the caller
// reads the event stream from the returned body.
func (c *Client) Chat(ctx context.Context, req *models.ChatRequest) (*http.Response, error) {
	return c.Do(ctx, http.MethodPost, c.cfg.ChatPath, nil, req)
}

// Image posts an image generation request.
func (c *Client) Image(ctx context.Context, req *models.ImageRequest) (*http.Response, error) {
	return c.Do(ctx, http.MethodPost, c.cfg.ImagePath, nil, req)
}

// CreateVideo posts a video generation task.
func (c *Client) CreateVideo(ctx context.Context, req *models.VideoRequest) (*http.Response, error) {
	return c.Do(ctx, http.MethodPost, c.cfg.VideoPath, nil, req)
}

// RetrieveVideo fetches the status of a video generation task.
func (c *Client) RetrieveVideo(ctx context.Context, q *models.VideoQuery) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, c.cfg.VideoRetrievePath, url.Values{"id": {q.ID}}, nil)
}

// Do sends an authenticated request. A 2xx response is returned with its
// body open; any other status is consumed and returned as *StatusError.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body interface{}) (*http.Response, error) {
	if c.cfg.APIKey == "" {
		return nil, ErrMissingCredential
	}

	tok, err := c.minter.TokenSource(c.cfg.APIKey).Token()
	if c.onMint != nil {
		c.onMint(err)
	}
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	tok.SetAuthHeader(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	c.logger.Debug("Sending upstream request",
		zap.String("method", method),
		zap.String("path", path),
		zap.String("key_id", token.MaskID(c.cfg.APIKey)),
	)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if readErr != nil {
			c.logger.Warn("Failed to read upstream error body", zap.Error(readErr))
		}
		return nil, newStatusError(resp.StatusCode, raw)
	}

	return resp, nil
}

// newStatusError decodes an error body, falling back to {} when it is not
// valid JSON.
func newStatusError(status int, raw []byte) *StatusError {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		return &StatusError{Status: status, Body: json.RawMessage(trimmed), Parsed: true}
	}
	return &StatusError{Status: status, Body: json.RawMessage(`{}`)}
}

// ReadJSON reads a success body and checks that it is JSON. The bytes are
// returned unchanged.
func ReadJSON(resp *http.Response) (json.RawMessage, error) {
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("upstream returned invalid JSON (HTTP %d)", resp.StatusCode)
	}
	return raw, nil
}
