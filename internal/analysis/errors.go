package analysis

import (
	"errors"
	"net/http"
)

// ErrorCode is the stable failure vocabulary surfaced to callers. The
// presentation layer owns the human-readable text.
type ErrorCode string

const (
	ErrAPIKeyNotConfigured       ErrorCode = "API_KEY_NOT_CONFIGURED"
	ErrAPIKeyInvalid             ErrorCode = "API_KEY_INVALID"
	ErrCustomAPIKeyInvalid       ErrorCode = "CUSTOM_API_KEY_INVALID"
	ErrCustomAPIKeyRequiresHTTPS ErrorCode = "CUSTOM_API_KEY_REQUIRES_HTTPS"
	ErrRateLimitExceeded         ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrNetwork                   ErrorCode = "NETWORK_ERROR"
	ErrAnalysisFailed            ErrorCode = "ANALYSIS_FAILED"
	ErrTextRequired              ErrorCode = "TEXT_REQUIRED"
	ErrTextTooLong               ErrorCode = "TEXT_TOO_LONG"
	ErrInvalidRequest            ErrorCode = "INVALID_REQUEST"
)

// HTTPStatus maps a code to the status used by the single-shot endpoint.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrTextRequired, ErrTextTooLong, ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrCustomAPIKeyRequiresHTTPS:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Boundary reports whether the code comes from request validation and
// therefore never reaches the pipeline.
func (c ErrorCode) Boundary() bool {
	switch c {
	case ErrTextRequired, ErrTextTooLong, ErrInvalidRequest, ErrCustomAPIKeyRequiresHTTPS:
		return true
	default:
		return false
	}
}

// Error pairs a stable code with the internal cause.
type Error struct {
	Code ErrorCode
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Code) + ": " + e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with code.
func NewError(code ErrorCode, err error) *Error {
	return &Error{Code: code, Err: err}
}

// CodeOf extracts the code carried by err, falling back to ANALYSIS_FAILED.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) && ae.Code != "" {
		return ae.Code
	}
	return ErrAnalysisFailed
}
