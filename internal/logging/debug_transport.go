package logging

import (
	"net/http"
	"time"
)

// DebugTransport logs every WebDAV round trip at DEBUG level.
type DebugTransport struct {
	base   http.RoundTripper
	logger Logger
}

// NewDebugTransport wraps base; a nil base means http.DefaultTransport.
func NewDebugTransport(base http.RoundTripper, logger Logger) *DebugTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &DebugTransport{base: base, logger: logger}
}

// Wrap returns a copy of the transport delegating to base.
func (t *DebugTransport) Wrap(base http.RoundTripper) *DebugTransport {
	return NewDebugTransport(base, t.logger)
}

func (t *DebugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	t.logger.Debug("HTTP request",
		F("method", req.Method),
		F("url", req.URL.Redacted()),
		F("content_length", req.ContentLength),
		F("authenticated", req.Header.Get("Authorization") != ""),
	)

	resp, err := t.base.RoundTrip(req)
	elapsed := time.Since(start)
	if err != nil {
		t.logger.Debug("HTTP request failed",
			F("method", req.Method),
			F("url", req.URL.Redacted()),
			F("duration_ms", elapsed.Milliseconds()),
			F("error", err.Error()),
		)
		return nil, err
	}

	t.logger.Debug("HTTP response",
		F("method", req.Method),
		F("url", req.URL.Redacted()),
		F("status", resp.StatusCode),
		F("duration_ms", elapsed.Milliseconds()),
	)
	return resp, nil
}
