package api

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/dl-alexandre/ocsync/internal/logging"
	"github.com/dl-alexandre/ocsync/internal/utils"
	"github.com/google/uuid"
)

// ExecuteWithRetry runs a request with retry logic. Only server-side
// failures (429 and 5xx) are retried.
func ExecuteWithRetry[T any](ctx context.Context, client *Client, op string, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error

	traceID := logging.TraceIDFromContext(ctx)
	if traceID == "" {
		traceID = uuid.New().String()
	}
	logger := client.logger.WithTraceID(traceID)
	logger.Debug("WebDAV operation starting", logging.F("operation", op))

	start := time.Now()

	for attempt := 0; attempt <= client.maxRetries; attempt++ {
		if attempt > 0 {
			logger.Warn("Retrying WebDAV operation",
				logging.F("operation", op),
				logging.F("attempt", attempt),
				logging.F("maxRetries", client.maxRetries),
			)
		}

		result, lastErr = fn()
		if lastErr == nil {
			logger.Debug("WebDAV operation completed",
				logging.F("operation", op),
				logging.F("duration_ms", time.Since(start).Milliseconds()),
				logging.F("attempts", attempt+1),
			)
			return result, nil
		}

		if !isRetryable(lastErr) {
			logger.Error("WebDAV operation failed (non-retryable)",
				logging.F("operation", op),
				logging.F("duration_ms", time.Since(start).Milliseconds()),
				logging.F("error", lastErr.Error()),
				logging.F("attempts", attempt+1),
			)
			return result, classifyError(lastErr, op, client.logger)
		}

		if attempt < client.maxRetries {
			delay := calculateBackoff(client.retryDelay, attempt, lastErr)
			logger.Warn("WebDAV operation failed (retryable)",
				logging.F("operation", op),
				logging.F("attempt", attempt+1),
				logging.F("delay_ms", delay.Milliseconds()),
				logging.F("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return result, classifyError(ctx.Err(), op, client.logger)
			case <-time.After(delay):
			}
		}
	}

	logger.Error("WebDAV operation failed after max retries",
		logging.F("operation", op),
		logging.F("duration_ms", time.Since(start).Milliseconds()),
		logging.F("attempts", client.maxRetries+1),
		logging.F("error", lastErr.Error()),
	)
	return result, classifyError(lastErr, op, client.logger)
}

// isRetryable checks if an error is retryable
func isRetryable(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
	}
	return false
}

// calculateBackoff calculates the retry delay with exponential backoff
func calculateBackoff(baseDelay time.Duration, attempt int, err error) time.Duration {
	maxDelay := time.Duration(utils.MaxRetryDelayMs) * time.Millisecond

	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.Header != nil {
		if retryAfter := httpErr.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := strconv.Atoi(retryAfter); err == nil {
				delay := time.Duration(seconds) * time.Second
				if delay > maxDelay {
					return maxDelay
				}
				return delay
			}
		}
	}

	// Exponential backoff: base * 2^attempt
	delay := baseDelay * time.Duration(math.Pow(2, float64(attempt)))
	if delay > maxDelay {
		delay = maxDelay
	}

	// Add jitter (±25% of delay)
	jitterRange := delay / 4
	if jitterRange > 0 {
		jitter := time.Duration(rand.Int63n(int64(jitterRange*2))) - jitterRange
		delay = delay + jitter
	}

	if delay < 0 {
		delay = baseDelay
	}
	return delay
}
