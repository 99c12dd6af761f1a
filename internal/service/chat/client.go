// Package chat is the client for the upstream conversational API (Dify).
package chat

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chat-stt-gateway/internal/models"
)

// ErrUpstreamUnavailable means the API could not be reached or refused the
// request.
var ErrUpstreamUnavailable = errors.New("upstream conversational API unavailable")

// UpstreamError is a non-success response from the API.
type UpstreamError struct {
	StatusCode int
	Body       string // first 100 characters
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Body)
}

// Is lets errors.Is(err, ErrUpstreamUnavailable) match status failures too.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstreamUnavailable
}

// Config holds client settings.
type Config struct {
	BaseURL               string
	APIKey                string
	User                  string
	InsecureSkipVerify    bool
	HealthTimeout         time.Duration
	ResponseHeaderTimeout time.Duration
}

// Client talks to the API.
type Client struct {
	cfg    Config
	http   *http.Client
	logger zerolog.Logger
}

// NewClient creates a client. The HTTP client has no overall timeout since
// streamed responses stay open; only the wait for response headers is bounded.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 3 * time.Second
	}
	if cfg.User == "" {
		cfg.User = "test"
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   16,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via config
	}

	return &Client{
		cfg:    cfg,
		http:   &http.Client{Transport: transport},
		logger: logger.With().Str("component", "chat_client").Logger(),
	}
}

type chatMessageRequest struct {
	Inputs         map[string]any `json:"inputs"`
	Query          string         `json:"query"`
	ResponseMode   string         `json:"response_mode"`
	ConversationID string         `json:"conversation_id"`
	User           string         `json:"user"`
}

// Stream starts a streaming chat request and returns the response body.
// The request is bound to ctx, so canceling ctx closes the connection. The
// caller must close the body.
func (c *Client) Stream(ctx context.Context, req models.ChatRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(chatMessageRequest{
		Inputs:         map[string]any{},
		Query:          req.Query,
		ResponseMode:   "streaming",
		ConversationID: req.ConversationID,
		User:           c.cfg.User,
	})
	if err != nil {
		return nil, err
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat-messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	hreq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(hreq)
	if err != nil {
		c.logger.Error().Err(err).Str("url", hreq.URL.String()).Msg("Chat request failed")
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 400))
		uerr := &UpstreamError{StatusCode: resp.StatusCode, Body: truncate(string(snippet), 100)}
		c.logger.Warn().Int("status", resp.StatusCode).Str("body", uerr.Body).Msg("Chat request rejected")
		return nil, uerr
	}
	return resp.Body, nil
}

// Health probes {base}/health. Any 200 counts as healthy.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode != http.StatusOK {
		return &UpstreamError{StatusCode: resp.StatusCode}
	}
	return nil
}

// truncate cuts s to n characters.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
