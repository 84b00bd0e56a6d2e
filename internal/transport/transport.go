// Package transport is the HTTP layer shared by the REST-backed registry
// plugins: auth headers, TLS, per-instance timeout and retry with backoff.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kamir/global-schema-registry/internal/schema"
)

const maxBackoff = 30 * time.Second

// Config configures a Client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	// Backoff is the delay before the first retry; it doubles per attempt.
	Backoff time.Duration
	TLS     schema.TLSConfig

	Username    string
	Password    string
	BearerToken string

	ContentType string
	Headers     map[string]string
}

// Client performs requests against one base URL.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	cfg        Config
	log        *zap.Logger
}

// New creates a Client. The TLS CA file, when set, must be readable.
func New(cfg Config, log *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, schema.InvalidArgumentf("base URL is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = schema.DefaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "application/json"
	}

	tlsCfg, err := buildTLS(cfg.TLS)
	if err != nil {
		return nil, err
	}
	httpTransport := http.DefaultTransport.(*http.Transport).Clone()
	httpTransport.TLSClientConfig = tlsCfg

	return &Client{
		BaseURL: strings.TrimRight(cfg.BaseURL, "/"),
		HTTPClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: httpTransport,
		},
		cfg: cfg,
		log: log,
	}, nil
}

func buildTLS(cfg schema.TLSConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify, // #nosec G402 -- operator-controlled setting
	}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, schema.InvalidArgumentf("no certificates found in %s", cfg.CAFile)
		}
		tlsCfg.RootCAs = pool
	}
	return tlsCfg, nil
}

// Retryable reports whether a response status warrants another attempt.
func Retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Do sends a request to BaseURL+path with body JSON-encoded. It retries
// transport errors and retryable statuses up to MaxRetries times with
// exponential backoff. The final response is returned whatever its status.
func (c *Client) Do(ctx context.Context, method, path string, body interface{}) ([]byte, int, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	backoff := c.cfg.Backoff
	for attempt := 0; ; attempt++ {
		respBody, status, err := c.once(ctx, method, path, payload)
		if err == nil && !Retryable(status) {
			return respBody, status, nil
		}
		if attempt >= c.cfg.MaxRetries || ctx.Err() != nil {
			return respBody, status, err
		}

		c.log.Debug("retrying request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Int("status", status),
			zap.Error(err),
			zap.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return respBody, status, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte) ([]byte, int, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", c.cfg.ContentType)
	req.Header.Set("Accept", c.cfg.ContentType)
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	switch {
	case c.cfg.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.cfg.BearerToken)
	case c.cfg.Username != "":
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

// Error is a non-success HTTP response. It unwraps to the matching error
// sentinel so callers can use errors.Is against the schema taxonomy.
type Error struct {
	Op         string
	StatusCode int
	Body       string
	kind       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Body, e.StatusCode)
}

func (e *Error) Unwrap() error { return e.kind }

// StatusError converts a non-success response into the error taxonomy:
// 404 is NotFound, 400 and 422 are InvalidArgument, anything else is
// OperationFailed.
func StatusError(op string, body []byte, status int) error {
	kind := schema.ErrOperationFailed
	switch status {
	case http.StatusNotFound:
		kind = schema.ErrNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		kind = schema.ErrInvalidArgument
	}
	return &Error{Op: op, StatusCode: status, Body: strings.TrimSpace(string(body)), kind: kind}
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}
