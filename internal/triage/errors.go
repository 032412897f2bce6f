package triage

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/wolfman30/rescue-triage/internal/intake"
)

// ErrorKind is the closed set of failure classes the pipeline can produce.
type ErrorKind string

const (
	KindAPIConnection ErrorKind = "api_connection"
	KindAPIServer     ErrorKind = "api_server"
	KindTemporary     ErrorKind = "temporary"
	KindParse         ErrorKind = "parse"
	KindValidation    ErrorKind = "validation"
	KindConfiguration ErrorKind = "configuration"
	KindUnknown       ErrorKind = "unknown"
)

// Retriable reports whether the job runtime may retry this kind.
func (k ErrorKind) Retriable() bool {
	switch k {
	case KindAPIConnection, KindAPIServer, KindTemporary:
		return true
	default:
		return false
	}
}

// Error carries a classified pipeline failure with typed context.
type Error struct {
	Kind       ErrorKind
	Reason     string
	StatusCode int
	RawText    string
	Err        error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func ConnectionError(reason string, err error) *Error {
	return &Error{Kind: KindAPIConnection, Reason: reason, Err: err}
}

func ServerError(status int, body string) *Error {
	return &Error{Kind: KindAPIServer, Reason: "ai service returned server error", StatusCode: status, RawText: body}
}

func TemporaryError(reason string, status int) *Error {
	return &Error{Kind: KindTemporary, Reason: reason, StatusCode: status}
}

func ParseError(reason, raw string) *Error {
	return &Error{Kind: KindParse, Reason: reason, RawText: raw}
}

func ValidationError(reason string) *Error {
	return &Error{Kind: KindValidation, Reason: reason}
}

func ConfigurationError(reason string, err error) *Error {
	return &Error{Kind: KindConfiguration, Reason: reason, Err: err}
}

// KindOf classifies any error. Unclassified errors are KindUnknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}

// IsRetriable reports whether err belongs to a retriable kind.
func IsRetriable(err error) bool {
	return KindOf(err).Retriable()
}

// HTTPStatusError is returned by AI clients for a non-2xx response.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("triage: %s returned %d", e.URL, e.StatusCode)
}

// classifyStatus maps a non-2xx status to a pipeline error, or nil when it
// should propagate unclassified.
func classifyStatus(e *HTTPStatusError) *Error {
	switch {
	case e.StatusCode >= http.StatusInternalServerError:
		return ServerError(e.StatusCode, e.Body)
	case e.StatusCode == http.StatusTooManyRequests:
		return TemporaryError("ai service rate limited the request", e.StatusCode)
	default:
		return nil
	}
}

// fallbackMessage is the user-safe text written to the pending message for each kind.
func fallbackMessage(kind ErrorKind) string {
	switch kind {
	case KindAPIConnection, KindAPIServer, KindTemporary:
		return intake.NoticeUnavailable
	case KindParse:
		return intake.NoticeUnparsed
	case KindValidation:
		return intake.NoticeUnvalidated
	default:
		return intake.NoticeFailed
	}
}

// TimeoutMessage is written to pending messages abandoned by a lost job.
const TimeoutMessage = intake.NoticeTimedOut
