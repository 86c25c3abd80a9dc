package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/imroc/req/v3"

	"github.com/revharvest/revharvest/internal/apperr"
	"github.com/revharvest/revharvest/internal/version"
)

// NewHTTPClient builds the *req.Client shared by all provider clients.
// When debug is true and logger is non-nil, an OnAfterResponse hook is
// attached that logs the HTTP method, URL, and status code at DEBUG level.
// Retries and pacing are not configured here: the harvest loop owns both, so
// every wait is observable and recorded in session progress.
func NewHTTPClient(timeout time.Duration, logger *slog.Logger, debug bool) *req.Client {
	client := req.NewClient().
		SetUserAgent(version.UserAgent()).
		SetTimeout(timeout)

	if debug && logger != nil {
		attachDebugHook(client, logger)
	}

	return client
}

// attachDebugHook registers an OnAfterResponse hook that logs the HTTP method,
// URL, and status code at DEBUG level, and logs a body snippet on non-2xx responses.
func attachDebugHook(client *req.Client, logger *slog.Logger) {
	client.OnAfterResponse(func(_ *req.Client, resp *req.Response) error {
		if resp.Request == nil || resp.Request.RawRequest == nil {
			return nil
		}
		logger.Debug("http response",
			"method", resp.Request.RawRequest.Method,
			"url", resp.Request.RawRequest.URL.String(),
			"status", resp.StatusCode,
		)
		if !resp.IsSuccessState() {
			body := resp.String()
			if len(body) > 512 {
				body = body[:512]
			}
			logger.Debug("http error body",
				"status", resp.StatusCode,
				"body", body,
			)
		}
		return nil
	})
}

// classifyRequestError maps a transport-level failure to the apperr taxonomy.
// Context cancellation and deadline errors pass through untouched so the
// harvest loop can tell a pause request from a failed request.
func classifyRequestError(name string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s request error: %w", apperr.ErrTransient, name, err)
}

// classifyStatus maps a non-2xx response to the apperr taxonomy: 401/403 is
// Unauthorized, 429 carries the parsed Retry-After, 5xx is Transient, and
// anything else is fatal with the response body attached.
func classifyStatus(name string, resp *req.Response) error {
	body := resp.String()
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s returned HTTP %d: %q", apperr.ErrUnauthorized, name, resp.StatusCode, body)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s returned HTTP 429: %w", name, &apperr.RateLimitError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		})
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s returned HTTP %d: %q", apperr.ErrTransient, name, resp.StatusCode, body)
	default:
		return fmt.Errorf("%s returned HTTP %d: %q", name, resp.StatusCode, body)
	}
}

// parseRetryAfter parses a Retry-After header value (integer seconds or HTTP-date)
// and returns a capped wait duration.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return retryAfterFallback
	}
	// Try integer seconds first.
	if secs, err := strconv.Atoi(header); err == nil {
		d := time.Duration(secs) * time.Second
		return min(d, retryAfterCap)
	}
	// Try HTTP-date format.
	if t, err := http.ParseTime(header); err == nil {
		d := max(time.Until(t), 0)
		return min(d, retryAfterCap)
	}
	return retryAfterFallback
}
