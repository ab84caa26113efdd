package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType buckets evaluator-backend failures for logging and for deciding
// whether a retry can help.
type ErrorType string

const (
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeModel       ErrorType = "model"
	ErrorTypeEndpoint    ErrorType = "endpoint"
	ErrorTypeRateLimited ErrorType = "rate_limited"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Error is a classified backend failure.
type Error struct {
	Type       ErrorType
	Message    string
	Retryable  bool
	StatusCode int
	Cause      error
}

func (e *Error) Error() string {
	head := string(e.Type)
	if e.StatusCode > 0 {
		head = fmt.Sprintf("%s HTTP %d", head, e.StatusCode)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %v", head, e.Message, e.Cause)
	}
	return head + " " + e.Message
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable lets the retry package consult the classification without
// importing this package.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// classification rules, checked in order. Matching is substring-based
// because provider SDKs surface most of these only as message text.
type errorRule struct {
	matches   func(lower string) bool
	errType   ErrorType
	message   string
	retryable bool
}

var errorRules = []errorRule{
	{
		matches: func(s string) bool {
			return strings.Contains(s, "401") || strings.Contains(s, "unauthorized") ||
				strings.Contains(s, "invalid api key")
		},
		errType: ErrorTypeAuth, message: "authentication failed", retryable: false,
	},
	{
		matches: func(s string) bool {
			return strings.Contains(s, "model") &&
				(strings.Contains(s, "not found") || strings.Contains(s, "does not exist"))
		},
		errType: ErrorTypeModel, message: "model not found", retryable: false,
	},
	{
		matches: func(s string) bool {
			return strings.Contains(s, "429") || strings.Contains(s, "rate limit") ||
				strings.Contains(s, "too many requests")
		},
		errType: ErrorTypeRateLimited, message: "rate limited", retryable: true,
	},
	{
		matches: func(s string) bool {
			return strings.Contains(s, "404")
		},
		errType: ErrorTypeEndpoint, message: "endpoint not found", retryable: false,
	},
	{
		matches: func(s string) bool {
			return strings.Contains(s, "connection refused") || strings.Contains(s, "no such host")
		},
		errType: ErrorTypeEndpoint, message: "connection failed", retryable: true,
	},
	{
		matches: func(s string) bool {
			return strings.Contains(s, "timeout") || strings.Contains(s, "deadline exceeded") ||
				strings.Contains(s, "context canceled")
		},
		errType: ErrorTypeEndpoint, message: "request timeout", retryable: true,
	},
	{
		matches: func(s string) bool {
			for _, code := range []string{"500", "502", "503", "504"} {
				if strings.Contains(s, code) {
					return true
				}
			}
			return strings.Contains(s, "overloaded") || strings.Contains(s, "service unavailable")
		},
		errType: ErrorTypeEndpoint, message: "server error", retryable: true,
	},
}

var knownStatusCodes = []int{400, 401, 403, 404, 429, 500, 502, 503, 504}

// ClassifyError wraps a raw backend error in a classified *Error. An error
// that is already classified passes through unchanged.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	text := err.Error()
	lower := strings.ToLower(text)

	status := 0
	for _, code := range knownStatusCodes {
		if strings.Contains(text, fmt.Sprintf("%d", code)) {
			status = code
			break
		}
	}

	for _, rule := range errorRules {
		if rule.matches(lower) {
			return &Error{
				Type:       rule.errType,
				Message:    rule.message,
				Retryable:  rule.retryable,
				StatusCode: status,
				Cause:      err,
			}
		}
	}
	return &Error{
		Type:       ErrorTypeUnknown,
		Message:    "request failed",
		Retryable:  false,
		StatusCode: status,
		Cause:      err,
	}
}
