package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config configures the inference endpoint client.
type Config struct {
	BaseURL   string
	Model     string
	KeepAlive string
	// Timeout bounds non-streaming calls; streams are bounded by their context.
	Timeout time.Duration
	Options map[string]any
}

// Client talks to an Ollama-style /api/chat endpoint.
type Client struct {
	cfg  Config
	http *http.Client
	log  zerolog.Logger
}

// NewClient creates a client. A nil httpClient uses a dedicated transport
// that keeps idle connections for reuse across continuation requests.
func NewClient(cfg Config, httpClient *http.Client, log zerolog.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.MaxIdleConnsPerHost = 4
		httpClient = &http.Client{Transport: transport}
	}
	return &Client{cfg: cfg, http: httpClient, log: log.With().Str("component", "llm").Logger()}
}

// Model returns the default model.
func (c *Client) Model() string { return c.cfg.Model }

// BaseURL returns the endpoint root.
func (c *Client) BaseURL() string { return c.cfg.BaseURL }

// ChatStream opens a streaming chat request. A non-200 status is returned
// as a *ClientError with the server's message when it sent one.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest) (*StreamReader, error) {
	if req.Model == "" {
		req.Model = c.cfg.Model
	}
	if req.Model == "" {
		return nil, &ClientError{Type: ErrTypeModelNotFound, Message: "no model configured"}
	}
	req.Stream = true
	if req.Options == nil && len(c.cfg.Options) > 0 {
		req.Options = c.cfg.Options
	}
	if req.KeepAlive == "" {
		req.KeepAlive = c.cfg.KeepAlive
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	c.log.Debug().
		Str("model", req.Model).
		Int("messages", len(req.Messages)).
		Int("tools", len(req.Tools)).
		Msg("opening chat stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(err)
	}
	if resp.StatusCode != http.StatusOK {
		defer drainAndClose(resp.Body)
		return nil, statusError(resp, req.Model)
	}
	return NewStreamReader(resp.Body, c.log), nil
}

// ListModels returns the models installed on the endpoint.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer drainAndClose(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, "")
	}

	var tags struct {
		Models []ModelInfo `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return tags.Models, nil
}

// Ping checks the endpoint is reachable.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/", nil)
	if err != nil {
		return &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer drainAndClose(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return statusError(resp, "")
	}
	return nil
}

func statusError(resp *http.Response, model string) *ClientError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	msg := strings.TrimSpace(string(data))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	if msg == "" {
		msg = resp.Status
	}

	errType := ErrTypeStatus
	if resp.StatusCode == http.StatusNotFound && (model == "" || strings.Contains(msg, "not found")) {
		errType = ErrTypeModelNotFound
	}
	return &ClientError{
		Type:       errType,
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("HTTP %d: %s", resp.StatusCode, msg),
	}
}

func drainAndClose(r io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 256*1024))
	r.Close()
}
