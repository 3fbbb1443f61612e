// Package dispatcher executes one HTTP endpoint call with a bounded timeout
// and captures its outcome. It is a direct generalization of the teacher's
// internal/scheduler/executor.go: same pooled *http.Client, same
// request-ID/logging shape, adapted to the endpoint's dynamic method,
// headers, body, timeout, and response-capture rules.
package dispatcher

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cronicorn/cronicorn/internal/domain"
	"github.com/cronicorn/cronicorn/internal/requestid"
)

const (
	minTimeout     = 1 * time.Second
	defaultTimeout = 30 * time.Second
)

// Outcome is the result of one dispatch.
type Outcome struct {
	Status       domain.RunStatus
	DurationMs   int64
	StatusCode   *int
	ResponseBody *string
	ErrorMessage *string
}

// Dispatcher sends one HTTP request per call via a single reusable client
// with pooled connections — the teacher's executor keeps exactly one
// *http.Client per instance for the same reason.
type Dispatcher struct {
	client *http.Client
	logger *slog.Logger
}

func New(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: &http.Client{
			// Per-call timeouts are enforced via context; this is a safety net.
			Timeout: 5 * time.Minute,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
			},
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				return nil
			},
		},
		logger: logger.With("component", "dispatcher"),
	}
}

// Execute runs one endpoint call. It never returns an error itself — all
// failure modes surface as a failed Outcome, per spec.md §4.3.
func (d *Dispatcher) Execute(ctx context.Context, e *domain.Endpoint) Outcome {
	start := time.Now()

	if e.URL == "" {
		return failure(start, "url is empty")
	}

	timeout := clampTimeout(e.TimeoutMs)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := string(e.Method)
	if method == "" {
		method = string(domain.MethodGET)
	}

	var body io.Reader
	if e.BodyJSON != nil && method != string(domain.MethodGET) {
		body = strings.NewReader(*e.BodyJSON)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.URL, body)
	if err != nil {
		return failure(start, fmt.Sprintf("build request: %v", err))
	}

	for k, v := range e.Headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	reqID := requestid.New()
	req.Header.Set("X-Request-ID", reqID)
	ctx = requestid.WithRequestID(ctx, reqID)

	d.logger.InfoContext(ctx, "dispatching endpoint",
		"endpoint_id", e.ID, "method", method, "url", e.URL)

	resp, err := d.client.Do(req)
	if err != nil {
		duration := time.Since(start)
		if ctx.Err() != nil {
			d.logger.WarnContext(ctx, "endpoint request timed out",
				"endpoint_id", e.ID, "timeout_ms", timeout.Milliseconds())
			return Outcome{
				Status:       domain.RunFailed,
				DurationMs:   duration.Milliseconds(),
				ErrorMessage: strPtr(fmt.Sprintf("request timed out after %dms", timeout.Milliseconds())),
			}
		}
		d.logger.ErrorContext(ctx, "endpoint request failed", "endpoint_id", e.ID, "error", err)
		return Outcome{
			Status:       domain.RunFailed,
			DurationMs:   duration.Milliseconds(),
			ErrorMessage: strPtr(err.Error()),
		}
	}
	defer func() { _ = resp.Body.Close() }()

	maxKb := domain.DefaultMaxResponseSizeKb
	if e.MaxResponseSizeKb != nil {
		maxKb = *e.MaxResponseSizeKb
	}
	captured := captureBody(resp, maxKb)

	duration := time.Since(start)
	statusCode := resp.StatusCode

	d.logger.InfoContext(ctx, "endpoint response received",
		"endpoint_id", e.ID, "status", statusCode, "duration_ms", duration.Milliseconds())

	if statusCode >= 200 && statusCode < 300 {
		return Outcome{
			Status:       domain.RunSuccess,
			DurationMs:   duration.Milliseconds(),
			StatusCode:   &statusCode,
			ResponseBody: captured,
		}
	}

	return Outcome{
		Status:       domain.RunFailed,
		DurationMs:   duration.Milliseconds(),
		StatusCode:   &statusCode,
		ResponseBody: captured,
		ErrorMessage: strPtr(fmt.Sprintf("HTTP %d %s", statusCode, http.StatusText(statusCode))),
	}
}

// captureBody returns the response body only when its content type is
// application/json-like and its size fits within capKb — otherwise it is
// drained (so the connection returns to the pool) and dropped silently.
func captureBody(resp *http.Response, capKb int64) *string {
	capBytes := capKb * 1024

	ct := resp.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil || !strings.HasPrefix(mediaType, "application/json") {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n > capBytes {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
	}

	limited := io.LimitReader(resp.Body, capBytes+1)
	data, err := io.ReadAll(limited)
	// Drain whatever remains so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	if err != nil || int64(len(data)) > capBytes {
		return nil
	}
	s := string(data)
	return &s
}

func clampTimeout(timeoutMs *int64) time.Duration {
	if timeoutMs == nil {
		return defaultTimeout
	}
	t := time.Duration(*timeoutMs) * time.Millisecond
	if t < minTimeout {
		return minTimeout
	}
	return t
}

func failure(start time.Time, msg string) Outcome {
	return Outcome{
		Status:       domain.RunFailed,
		DurationMs:   time.Since(start).Milliseconds(),
		ErrorMessage: strPtr(msg),
	}
}

func strPtr(s string) *string { return &s }
