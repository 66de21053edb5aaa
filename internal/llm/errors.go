package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// Kind classifies an upstream failure.
type Kind string

const (
	KindAuth       Kind = "auth"
	KindQuota      Kind = "quota"
	KindRateLimit  Kind = "rate_limit"
	KindBadRequest Kind = "bad_request"
	KindServer     Kind = "server"
	KindUnknown    Kind = "unknown"
)

// Error is the only error type returned by completers in this package.
type Error struct {
	// Kind is the failure class.
	Kind Kind
	// Message is a short machine-oriented description.
	Message string
	// UserMessage is safe to show to end users.
	UserMessage string
	// Status is the upstream HTTP status, or 0 when no response was received.
	Status int
	// Cause is the original error.
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Diagnostic returns the raw upstream detail for debugging output.
func (e *Error) Diagnostic() string {
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Message
}

// AsError extracts an *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr, true
	}
	return nil, false
}

// rule maps an upstream status (and optionally a body fragment) to a Kind.
// Rules are tried in order; the first match wins.
type rule struct {
	match       func(status int, body string) bool
	kind        Kind
	message     string
	userMessage string
	// useUpstream prefers the upstream error message as the user message.
	useUpstream bool
}

func statusIs(codes ...int) func(int, string) bool {
	return func(status int, _ string) bool {
		for _, c := range codes {
			if status == c {
				return true
			}
		}
		return false
	}
}

var rules = []rule{
	{
		match:       statusIs(http.StatusUnauthorized, http.StatusForbidden),
		kind:        KindAuth,
		message:     "Authentication failed - Invalid API key",
		userMessage: "The Anthropic API key is invalid. Please check your configuration.",
	},
	{
		match: func(status int, body string) bool {
			return status == http.StatusBadRequest &&
				strings.Contains(strings.ToLower(body), "credit balance")
		},
		kind:        KindQuota,
		message:     "Insufficient credits",
		userMessage: "Your Anthropic account has insufficient credits. Please add credits at https://console.anthropic.com/",
	},
	{
		match:       statusIs(http.StatusTooManyRequests),
		kind:        KindRateLimit,
		message:     "Rate limit exceeded",
		userMessage: "Too many requests. Please wait a moment and try again.",
	},
	{
		match:       statusIs(http.StatusBadRequest),
		kind:        KindBadRequest,
		message:     "Bad request",
		userMessage: "Invalid request format.",
		useUpstream: true,
	},
	{
		match:       func(status int, _ string) bool { return status >= 500 },
		kind:        KindServer,
		message:     "Server error",
		userMessage: "Anthropic service is currently unavailable. Please try again later.",
	},
}

var fallbackRule = rule{
	kind:        KindUnknown,
	message:     "API error",
	userMessage: "An unexpected error occurred with the AI service.",
	useUpstream: true,
}

// Classify builds an *Error from an upstream status and response body.
func Classify(status int, body string, cause error) *Error {
	r := fallbackRule
	for _, candidate := range rules {
		if candidate.match(status, body) {
			r = candidate
			break
		}
	}

	userMessage := r.userMessage
	if r.useUpstream {
		if upstream := upstreamMessage(body); upstream != "" {
			userMessage = upstream
		}
	}

	return &Error{
		Kind:        r.kind,
		Message:     r.message,
		UserMessage: userMessage,
		Status:      status,
		Cause:       cause,
	}
}

// upstreamMessage pulls error.message out of an Anthropic error body.
func upstreamMessage(body string) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return ""
	}
	return payload.Error.Message
}

// Normalize converts any error into an *Error. Errors that already are
// *Error pass through unchanged.
func Normalize(err error) *Error {
	if err == nil {
		return nil
	}
	if llmErr, ok := AsError(err); ok {
		return llmErr
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return Classify(apiErr.StatusCode, apiErr.RawJSON(), err)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return timeoutError(err)
	case errors.Is(err, context.Canceled):
		return &Error{
			Kind:        KindUnknown,
			Message:     "Request cancelled",
			UserMessage: "The request was cancelled before the AI service responded.",
			Cause:       err,
		}
	}

	return Classify(0, "", err)
}

func timeoutError(cause error) *Error {
	return &Error{
		Kind:        KindServer,
		Message:     "Request timed out",
		UserMessage: "The AI service took too long to respond. Please try again later.",
		Cause:       cause,
	}
}
