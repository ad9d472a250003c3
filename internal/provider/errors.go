package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/straja-ai/postscore/internal/analysis"
)

// APIError is a non-2xx answer from the Gemini API.
type APIError struct {
	StatusCode int
	Status     string // e.g. INVALID_ARGUMENT, RESOURCE_EXHAUSTED
	Reason     string // e.g. API_KEY_INVALID
	Message    string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("gemini error %d (%s): %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("gemini error %d: %s", e.StatusCode, e.Message)
}

// Classify maps an upstream failure onto the stable error taxonomy.
// customKey tells whether the request used a caller-supplied key, which
// decides between API_KEY_INVALID and CUSTOM_API_KEY_INVALID.
//
// Structured information (typed errors, HTTP status) is checked first; the
// message heuristics only apply to whatever is left.
func Classify(err error, customKey bool) analysis.ErrorCode {
	if err == nil {
		return ""
	}

	var coded *analysis.Error
	if errors.As(err, &coded) && coded.Code != "" {
		return coded.Code
	}

	invalidKey := analysis.ErrAPIKeyInvalid
	if customKey {
		invalidKey = analysis.ErrCustomAPIKeyInvalid
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Reason == "API_KEY_INVALID",
			apiErr.StatusCode == http.StatusUnauthorized,
			apiErr.StatusCode == http.StatusForbidden && apiErr.Status == "PERMISSION_DENIED",
			strings.Contains(apiErr.Message, "API key"):
			return invalidKey
		case apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.Status == "RESOURCE_EXHAUSTED":
			return analysis.ErrRateLimitExceeded
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return analysis.ErrNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return analysis.ErrNetwork
	}

	return classifyMessage(err.Error(), invalidKey)
}

func classifyMessage(msg string, invalidKey analysis.ErrorCode) analysis.ErrorCode {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "API key"):
		return invalidKey
	case strings.Contains(lower, "quota"), strings.Contains(lower, "rate limit"):
		return analysis.ErrRateLimitExceeded
	case strings.Contains(lower, "network"), strings.Contains(lower, "fetch"):
		return analysis.ErrNetwork
	default:
		return analysis.ErrAnalysisFailed
	}
}
