package utils

import (
	"fmt"

	"github.com/dl-alexandre/ocsync/internal/types"
)

// Exit codes
const (
	ExitSuccess = 0
	// Auth errors (10-14)
	ExitAuthRequired = 10
	ExitAuthInvalid  = 12
	// Certificate errors (15-19)
	ExitCertificateRejected = 15
	// Sync errors (20-29)
	ExitSyncFailed     = 20
	ExitSyncBusy       = 21
	ExitFolderNotFound = 22
	// Network errors (30-39)
	ExitNetworkError    = 30
	ExitTimeout         = 31
	ExitServiceNotFound = 32
	ExitServerTooOld    = 33
	ExitRemoteNotFound  = 34
	// Validation errors (40-49)
	ExitInvalidArgument = 40
	ExitInvalidPath     = 41
	ExitInvalidConfig   = 42
	// Unknown
	ExitUnknown = 99
)

// Error codes (tool-owned, stable)
const (
	ErrCodeAuthRequired        = "AUTH_REQUIRED"
	ErrCodeAuthInvalid         = "AUTH_INVALID"
	ErrCodeCertificateRejected = "CERTIFICATE_REJECTED"
	ErrCodeSyncFailed          = "SYNC_FAILED"
	ErrCodeSyncBusy            = "SYNC_BUSY"
	ErrCodeFolderNotFound      = "FOLDER_NOT_FOUND"
	ErrCodeNetworkError        = "NETWORK_ERROR"
	ErrCodeTimeout             = "TIMEOUT"
	ErrCodeServiceNotFound     = "SERVICE_NOT_FOUND"
	ErrCodeServerTooOld        = "SERVER_TOO_OLD"
	ErrCodeRemoteNotFound      = "REMOTE_NOT_FOUND"
	ErrCodeInvalidArgument     = "INVALID_ARGUMENT"
	ErrCodeInvalidPath         = "INVALID_PATH"
	ErrCodeInvalidConfig       = "INVALID_CONFIG"
	ErrCodeCancelled           = "CANCELLED"
	ErrCodeInternalError       = "INTERNAL_ERROR"
	ErrCodeUnknown             = "UNKNOWN"
)

// CLIErrorBuilder helps construct CLIError instances
type CLIErrorBuilder struct {
	err types.CLIError
}

// NewCLIError creates a new error builder
func NewCLIError(code, message string) *CLIErrorBuilder {
	return &CLIErrorBuilder{
		err: types.CLIError{
			Code:    code,
			Message: message,
		},
	}
}

func (b *CLIErrorBuilder) WithHTTPStatus(status int) *CLIErrorBuilder {
	b.err.HTTPStatus = status
	return b
}

func (b *CLIErrorBuilder) WithRetryable(retryable bool) *CLIErrorBuilder {
	b.err.Retryable = retryable
	return b
}

func (b *CLIErrorBuilder) WithContext(key string, value interface{}) *CLIErrorBuilder {
	if b.err.Context == nil {
		b.err.Context = make(map[string]interface{})
	}
	b.err.Context[key] = value
	return b
}

func (b *CLIErrorBuilder) Build() types.CLIError {
	return b.err
}

var exitCodes = map[string]int{
	ErrCodeAuthRequired:        ExitAuthRequired,
	ErrCodeAuthInvalid:         ExitAuthInvalid,
	ErrCodeCertificateRejected: ExitCertificateRejected,
	ErrCodeSyncFailed:          ExitSyncFailed,
	ErrCodeSyncBusy:            ExitSyncBusy,
	ErrCodeFolderNotFound:      ExitFolderNotFound,
	ErrCodeNetworkError:        ExitNetworkError,
	ErrCodeTimeout:             ExitTimeout,
	ErrCodeServiceNotFound:     ExitServiceNotFound,
	ErrCodeServerTooOld:        ExitServerTooOld,
	ErrCodeRemoteNotFound:      ExitRemoteNotFound,
	ErrCodeInvalidArgument:     ExitInvalidArgument,
	ErrCodeInvalidPath:         ExitInvalidPath,
	ErrCodeInvalidConfig:       ExitInvalidConfig,
}

// GetExitCode returns the exit code for an error code
func GetExitCode(errorCode string) int {
	if code, ok := exitCodes[errorCode]; ok {
		return code
	}
	return ExitUnknown
}

// HTTPStatusErrorCode maps a WebDAV response status to an error code.
func HTTPStatusErrorCode(status int) string {
	switch {
	case status == 401:
		return ErrCodeAuthInvalid
	case status == 404:
		return ErrCodeRemoteNotFound
	case status == 408 || status == 504:
		return ErrCodeTimeout
	case status >= 500:
		return ErrCodeNetworkError
	default:
		return ErrCodeUnknown
	}
}

// AppError is a custom error type that carries CLI error info
type AppError struct {
	CLIError types.CLIError
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.CLIError.Code, e.CLIError.Message)
}

// NewAppError creates an AppError from a CLIError
func NewAppError(cliErr types.CLIError) *AppError {
	return &AppError{CLIError: cliErr}
}
