package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxReplyBodySize caps how much of a reply body is read (1MB).
const maxReplyBodySize = 1 << 20

// CallError is a failed request/response round trip.
type CallError struct {
	Status int    // HTTP status, 0 when no response was received
	Detail string // server supplied detail, if any
	Err    error
}

func (e *CallError) Error() string {
	return "chat request failed: " + e.Reason()
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Reason is the failure text shown to the user.
func (e *CallError) Reason() string {
	switch {
	case e.Detail != "":
		return e.Detail
	case e.Status != 0:
		return fmt.Sprintf("request failed with status %d", e.Status)
	case e.Err != nil:
		return e.Err.Error()
	default:
		return "unknown error"
	}
}

// Caller is a request/response channel: one call, one reply.
type Caller interface {
	Call(ctx context.Context, text string) (string, error)
}

// HTTPChannelConfig holds configuration for the request/response channel.
type HTTPChannelConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// HTTPChannel posts each message to the assistant's chat endpoint.
type HTTPChannel struct {
	client   *http.Client
	endpoint string
	timeout  time.Duration
	logger   *slog.Logger
}

// chatRequest is the request body of the chat endpoint.
type chatRequest struct {
	Query string `json:"query"`
}

// NewHTTPChannel creates a request/response channel.
// A nil client uses a fresh http.Client.
func NewHTTPChannel(cfg HTTPChannelConfig, client *http.Client, logger *slog.Logger) *HTTPChannel {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPChannel{
		client:   client,
		endpoint: cfg.Endpoint,
		timeout:  cfg.Timeout,
		logger:   logger,
	}
}

// Call sends text and returns the normalized reply.
// Failures are always a *CallError.
func (c *HTTPChannel) Call(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(chatRequest{Query: text})
	if err != nil {
		return "", &CallError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", &CallError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", &CallError{Err: fmt.Errorf("no reply within %s: %w", c.timeout, err)}
		}
		return "", &CallError{Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close reply body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBodySize))
	if err != nil {
		return "", &CallError{Status: resp.StatusCode, Err: fmt.Errorf("read reply: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("chat endpoint returned non-success status",
			"endpoint", c.endpoint,
			"status", resp.StatusCode,
		)
		return "", &CallError{Status: resp.StatusCode, Detail: errorDetail(body)}
	}

	reply := DecodeReply(resp.Header.Get("Content-Type"), body)
	c.logger.Debug("chat reply decoded", "endpoint", c.endpoint, "reply_type", fmt.Sprintf("%T", reply))
	return Render(text, reply), nil
}

// errorDetail extracts a {"detail": "..."} message from an error body.
func errorDetail(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Detail) == 0 {
		return ""
	}
	var detail string
	if err := json.Unmarshal(payload.Detail, &detail); err == nil {
		return detail
	}
	// Validation errors carry structured detail; show it compactly.
	return string(payload.Detail)
}

var _ Caller = (*HTTPChannel)(nil)
