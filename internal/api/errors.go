package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/dl-alexandre/ocsync/internal/logging"
	"github.com/dl-alexandre/ocsync/internal/trust"
	"github.com/dl-alexandre/ocsync/internal/utils"
)

// HTTPError is a completed request with a non-2xx status.
type HTTPError struct {
	Verb       string
	URL        string
	StatusCode int
	Header     http.Header
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Verb, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// CertificateError is returned when the server certificate has problems
// that were not accepted.
type CertificateError struct {
	Problems []trust.CertError
}

func (e *CertificateError) Error() string {
	return "server certificate not trusted:\n" + trust.Describe(e.Problems)
}

// IsStatus reports whether err is an HTTPError with the given status.
func IsStatus(err error, status int) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == status
}

// IsNotFound reports whether err means the remote resource does not exist,
// before or after classification.
func IsNotFound(err error) bool {
	if IsStatus(err, http.StatusNotFound) {
		return true
	}
	var appErr *utils.AppError
	return errors.As(err, &appErr) && appErr.CLIError.HTTPStatus == http.StatusNotFound
}

// StatusOf returns the HTTP status carried by err, before or after
// classification, or 0.
func StatusOf(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		return appErr.CLIError.HTTPStatus
	}
	return 0
}

// classifyError converts request errors to CLI errors.
func classifyError(err error, op string, logger logging.Logger) error {
	if err == nil {
		return nil
	}

	var httpErr *HTTPError
	var certErr *CertificateError
	var netErr net.Error
	var builder *utils.CLIErrorBuilder

	switch {
	case errors.As(err, &httpErr):
		builder = utils.NewCLIError(utils.HTTPStatusErrorCode(httpErr.StatusCode), httpErr.Error()).
			WithHTTPStatus(httpErr.StatusCode).
			WithRetryable(isRetryable(err))
	case errors.As(err, &certErr):
		builder = utils.NewCLIError(utils.ErrCodeCertificateRejected, certErr.Error())
	case errors.Is(err, context.Canceled):
		builder = utils.NewCLIError(utils.ErrCodeCancelled, "request cancelled")
	case errors.Is(err, context.DeadlineExceeded):
		builder = utils.NewCLIError(utils.ErrCodeTimeout, err.Error()).WithRetryable(true)
	case errors.As(err, &netErr) && netErr.Timeout():
		builder = utils.NewCLIError(utils.ErrCodeTimeout, err.Error()).WithRetryable(true)
	default:
		builder = utils.NewCLIError(utils.ErrCodeNetworkError, err.Error()).WithRetryable(true)
	}

	cliErr := builder.WithContext("operation", op).Build()
	logger.Debug("Classified request error",
		logging.F("operation", op),
		logging.F("code", cliErr.Code),
		logging.F("error", err.Error()),
	)
	return utils.NewAppError(cliErr)
}
