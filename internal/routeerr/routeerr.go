// Package routeerr expresses pipeline failures as typed outcomes instead of
// ad-hoc errors, so the fallback state machine can classify them without
// string matching at every call site.
package routeerr

import (
	"fmt"
	"net/http"
	"time"
)

// Kind classifies why a step failed.
type Kind int

const (
	// KindRetryable means the caller should try the next credential/provider.
	KindRetryable Kind = iota
	// KindTerminal means the failure must be surfaced to the client as-is.
	KindTerminal
	// KindAuth means the client's own credentials were rejected (401).
	KindAuth
	// KindNetwork means no HTTP status was observed (dial/timeout failure).
	KindNetwork
)

// Error is the typed outcome threaded through credential selection and dispatch.
type Error struct {
	Kind       Kind
	Code       string
	Message    string
	HTTPStatus int
	RetryAfter time.Duration
	Provider   string
	Model      string
	LastError  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// StatusCode returns the HTTP status to use when this error reaches a client.
func (e *Error) StatusCode() int {
	if e == nil || e.HTTPStatus == 0 {
		return http.StatusInternalServerError
	}
	return e.HTTPStatus
}

// Retryable reports whether the fallback loop should try another credential.
func (e *Error) Retryable() bool {
	return e != nil && (e.Kind == KindRetryable || e.Kind == KindAuth || e.Kind == KindNetwork)
}

// New builds a terminal error with the given HTTP status.
func New(code, message string, status int) *Error {
	return &Error{Kind: KindTerminal, Code: code, Message: message, HTTPStatus: status}
}

// Retryable builds a retryable error carrying an optional upstream status and hint.
func Retryable(code, message string, status int, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRetryable, Code: code, Message: message, HTTPStatus: status, RetryAfter: retryAfter}
}

// NoCredentials reports that no connection exists for the provider at all.
var NoCredentials = &Error{Kind: KindTerminal, Code: "no_credentials", Message: "no credentials configured for provider", HTTPStatus: http.StatusBadRequest}

// AllRateLimited reports that every eligible connection is cooling down.
type AllRateLimitedError struct {
	Provider    string
	Model       string
	RetryAfter  time.Duration
	LastError   string
	LastErrorAt time.Time
}

func (e *AllRateLimitedError) Error() string {
	return fmt.Sprintf("all credentials for provider %s rate limited, retry after %s", e.Provider, e.RetryAfter)
}

// StatusCode implements the StatusError contract used by the pipeline.
func (e *AllRateLimitedError) StatusCode() int { return http.StatusServiceUnavailable }

// RetryAfterSeconds returns the ceil'd Retry-After value in seconds, minimum 1.
func (e *AllRateLimitedError) RetryAfterSeconds() int {
	secs := int(e.RetryAfter.Seconds())
	if e.RetryAfter%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}
