// Package failure defines the error taxonomy surfaced by the generation pipeline.
//
// Every error that leaves a component is an *Error carrying a Kind. Callers
// branch with errors.Is against the Err* sentinels, which match on Kind only.
package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
)

// Kind classifies a failure by how the user can recover from it.
type Kind int

const (
	KindGeneric Kind = iota
	KindNeedsCredential
	KindInvalidCredential
	KindQuotaExceeded
	KindQuotaDenied
	KindNetwork
	KindParse
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNeedsCredential:
		return "needs_credential"
	case KindInvalidCredential:
		return "invalid_credential"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindQuotaDenied:
		return "quota_denied"
	case KindNetwork:
		return "network"
	case KindParse:
		return "parse"
	case KindValidation:
		return "validation"
	default:
		return "generic"
	}
}

// maxProviderMessage is the longest provider message shown to users verbatim.
const maxProviderMessage = 200

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Kind.String() + ": " + e.Err.Error()
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// Sentinels for errors.Is.
var (
	ErrNeedsCredential   = &Error{Kind: KindNeedsCredential, Message: "a personal Gemini API key is required"}
	ErrInvalidCredential = &Error{Kind: KindInvalidCredential, Message: "the Gemini API key was rejected"}
	ErrQuotaExceeded     = &Error{Kind: KindQuotaExceeded, Message: "the Gemini API key has exceeded its quota"}
	ErrQuotaDenied       = &Error{Kind: KindQuotaDenied, Message: "usage limit reached"}
	ErrNetwork           = &Error{Kind: KindNetwork, Message: "network error reaching the provider"}
	ErrParse             = &Error{Kind: KindParse, Message: "could not parse provider response"}
	ErrValidation        = &Error{Kind: KindValidation, Message: "invalid request"}
	ErrGeneric           = &Error{Kind: KindGeneric, Message: "content generation failed"}
)

// New returns an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns an *Error of the given kind wrapping err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Validationf returns a validation failure with a formatted message.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// QuotaDenied returns a local governor denial carrying the reason shown to the user.
func QuotaDenied(reason string) *Error {
	return &Error{Kind: KindQuotaDenied, Message: reason}
}

// KindOf returns the Kind of err, or KindGeneric if err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindGeneric
}

// NeedsOnboarding reports whether err should send the user back to the API key setup.
func NeedsOnboarding(err error) bool {
	switch KindOf(err) {
	case KindNeedsCredential, KindInvalidCredential:
		return true
	}
	return false
}

var networkMarkers = []string{
	"failed to fetch",
	"network",
	"connection refused",
	"connection reset",
	"no such host",
	"timeout",
	"deadline exceeded",
	"eof",
}

// Classify turns a raw provider error into an *Error. Already classified errors are returned as-is.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if kind, ok := kindForStatus(apiErr.Code, apiErr.Message+" "+apiErr.Body); ok {
			return &Error{Kind: kind, Message: messageFor(kind, apiErr.Message), Err: err}
		}
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "quota") || strings.Contains(lower, "resource_exhausted") || strings.Contains(lower, "rate limit"):
		return &Error{Kind: KindQuotaExceeded, Message: ErrQuotaExceeded.Message, Err: err}
	case strings.Contains(msg, "API_KEY_INVALID") || strings.Contains(lower, "api key not valid") || strings.Contains(lower, "invalid"):
		return &Error{Kind: KindInvalidCredential, Message: ErrInvalidCredential.Message, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindNetwork, Message: ErrNetwork.Message, Err: err}
	}
	for _, marker := range networkMarkers {
		if strings.Contains(lower, marker) {
			return &Error{Kind: KindNetwork, Message: ErrNetwork.Message, Err: err}
		}
	}

	return &Error{Kind: KindGeneric, Message: messageFor(KindGeneric, msg), Err: err}
}

func kindForStatus(code int, text string) (Kind, bool) {
	lower := strings.ToLower(text)
	switch {
	case code == http.StatusTooManyRequests || strings.Contains(lower, "quota"):
		return KindQuotaExceeded, true
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindInvalidCredential, true
	case code == http.StatusBadRequest && (strings.Contains(text, "API_KEY_INVALID") || strings.Contains(lower, "api key")):
		return KindInvalidCredential, true
	case code >= 500:
		return KindNetwork, true
	}
	return KindGeneric, false
}

func messageFor(kind Kind, providerMessage string) string {
	switch kind {
	case KindQuotaExceeded:
		return ErrQuotaExceeded.Message
	case KindInvalidCredential:
		return ErrInvalidCredential.Message
	case KindNetwork:
		return ErrNetwork.Message
	}
	providerMessage = strings.TrimSpace(providerMessage)
	if providerMessage == "" || len(providerMessage) > maxProviderMessage {
		return ErrGeneric.Message
	}
	return providerMessage
}

// UserMessage returns the human-readable reason for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		e = Classify(err)
	}
	switch e.Kind {
	case KindNeedsCredential:
		return "Add your free Gemini API key to start generating content."
	case KindInvalidCredential:
		return "Your Gemini API key was rejected. Please enter a valid key."
	case KindQuotaExceeded:
		return "Your Gemini API key has hit its quota. Wait a while or use a different key."
	case KindNetwork:
		return "Could not reach the content provider. Please try again."
	}
	if e.Message != "" {
		return e.Message
	}
	return ErrGeneric.Message
}
