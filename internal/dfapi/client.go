package dfapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ErlanBelekov/df-notifier/internal/clock"
	"github.com/ErlanBelekov/df-notifier/internal/metrics"
)

const maxBodyBytes = 4 << 20

// Status classifies a single attempt.
type Status int

const (
	StatusSuccess Status = iota
	StatusRetryableServerError
	StatusTerminalError
	StatusTimeout
	StatusTransportError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusRetryableServerError:
		return "retryable"
	case StatusTerminalError:
		return "terminal"
	case StatusTimeout:
		return "timeout"
	default:
		return "transport"
	}
}

type Config struct {
	APIKey     string
	Timeout    time.Duration // per attempt
	RetryCount int           // attempts per endpoint
	RetryDelay time.Duration // linear backoff base
}

// Request describes one logical call; it may be sent several times.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	JSON   any
	Form   url.Values
	Auth   bool
}

// Client issues requests against the endpoint pool with per-endpoint retries
// and failover. Expected remote failures are reported in the Response, never
// as Go errors.
type Client struct {
	http   *http.Client
	pool   *Pool
	cfg    Config
	logger *slog.Logger
}

func NewClient(pool *Pool, cfg Config, logger *slog.Logger) *Client {
	if cfg.RetryCount < 1 {
		cfg.RetryCount = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		http:   &http.Client{}, // timeouts are per attempt via context
		pool:   pool,
		cfg:    cfg,
		logger: logger.With("component", "dfapi"),
	}
}

func (c *Client) Pool() *Pool { return c.pool }

// Execute runs req until one endpoint answers with success or a terminal
// error. 5xx codes, timeouts and transport failures are retried on the same
// endpoint with linear backoff; an endpoint that exhausts its budget is marked
// failed and the next one is tried.
func (c *Client) Execute(ctx context.Context, req Request) Response {
	body, contentType, err := encodeBody(req)
	if err != nil {
		return Response{Code: CodeMalformed, Message: fmt.Sprintf("encode request: %v", err)}
	}

	var lastErr string
	for _, base := range c.pool.Endpoints() {
		for attempt := 1; attempt <= c.cfg.RetryCount; attempt++ {
			resp, status, attemptErr := c.attempt(ctx, base, req, body, contentType)

			switch status {
			case StatusSuccess:
				return resp
			case StatusTerminalError:
				return resp
			case StatusRetryableServerError:
				lastErr = fmt.Sprintf("server error (%d): %s", resp.Code, resp.Message)
			case StatusTimeout:
				lastErr = fmt.Sprintf("request timed out (%s)", c.cfg.Timeout)
			case StatusTransportError:
				lastErr = attemptErr.Error()
			}

			if ctx.Err() != nil {
				return Response{Code: CodeExhausted, Message: fmt.Sprintf("request cancelled: %v", ctx.Err())}
			}

			c.logger.WarnContext(ctx, "api attempt failed",
				"endpoint", base,
				"path", req.Path,
				"attempt", attempt,
				"max_attempts", c.cfg.RetryCount,
				"outcome", status.String(),
				"error", lastErr,
			)

			if attempt < c.cfg.RetryCount {
				if err := clock.Sleep(ctx, c.cfg.RetryDelay*time.Duration(attempt)); err != nil {
					return Response{Code: CodeExhausted, Message: fmt.Sprintf("request cancelled: %v", err)}
				}
			}
		}

		c.logger.ErrorContext(ctx, "endpoint exhausted, failing over", "endpoint", base, "path", req.Path)
		metrics.APIFailoversTotal.WithLabelValues(base).Inc()
		c.pool.MarkFailed(base)
	}

	metrics.APIExhaustedTotal.Inc()
	return Response{Code: CodeExhausted, Message: "all endpoints failed: " + lastErr}
}

func (c *Client) attempt(ctx context.Context, base string, req Request, body []byte, contentType string) (Response, Status, error) {
	start := time.Now()
	resp, status, err := c.send(ctx, base, req, body, contentType)
	metrics.APIAttemptDuration.WithLabelValues(base).Observe(time.Since(start).Seconds())
	metrics.APIAttemptsTotal.WithLabelValues(base, status.String()).Inc()
	return resp, status, err
}

func (c *Client) send(ctx context.Context, base string, req Request, body []byte, contentType string) (Response, Status, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	target := strings.TrimRight(base, "/") + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, methodOrGet(req.Method), target, bodyReader)
	if err != nil {
		return Response{}, StatusTransportError, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if req.Auth && c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return Response{}, StatusTimeout, err
		}
		return Response{}, StatusTransportError, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		if isTimeout(err) {
			return Response{}, StatusTimeout, err
		}
		return Response{}, StatusTransportError, fmt.Errorf("read body: %w", err)
	}

	resp := NormalizeResponse(httpResp.StatusCode, raw)
	switch {
	case resp.Succeeded:
		return resp, StatusSuccess, nil
	case resp.Retryable():
		return resp, StatusRetryableServerError, nil
	default:
		return resp, StatusTerminalError, nil
	}
}

func encodeBody(req Request) ([]byte, string, error) {
	switch {
	case req.JSON != nil:
		b, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, "", err
		}
		return b, "application/json", nil
	case req.Form != nil:
		return []byte(req.Form.Encode()), "application/x-www-form-urlencoded", nil
	default:
		return nil, "", nil
	}
}

func methodOrGet(m string) string {
	if m == "" {
		return http.MethodGet
	}
	return strings.ToUpper(m)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
