package pipeline

import (
	"fmt"
	"strings"
)

// Kind names a closed set of error categories the pipeline and its
// collaborators can raise. Grounded on original_source's worker_service.py
// (_is_retryable_error) and url_router.py's validation error, adapted from
// Python exception types to a Go-idiomatic closed kind enum.
type Kind string

const (
	KindValidation         Kind = "Validation"
	KindUnsupportedPlatform Kind = "UnsupportedPlatform"
	KindFetch              Kind = "FetchError"
	KindFormat             Kind = "FormatError"
	KindAnalyzer            Kind = "AnalyzerError"
	KindStore              Kind = "StoreError"
)

// Error is the pipeline's single error type: a Kind plus a short message.
// Its persisted form is "Kind: message", matching queue_service.py's
// last_error convention.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// New builds a pipeline error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// nonRetryableMessageFragments mirrors worker_service.py's
// _is_retryable_error message substring checks, applied when a Fetch
// error's kind alone doesn't already settle the question (e.g. a 404 vs.
// an explicit "video not found" from the remote).
var nonRetryableMessageFragments = []string{
	"invalid url",
	"malformed url",
	"video not found",
	"private video",
	"video unavailable",
	"unsupported format",
	"invalid video id",
}

// Retryable classifies an error for the worker pool's retry decision
// (spec.md §4.6). Validation errors never reach the worker path (they
// short-circuit at the dispatcher), so they're treated as non-retryable
// here defensively.
func Retryable(err error) bool {
	pe, ok := err.(*Error)
	if !ok {
		return true
	}

	switch pe.Kind {
	case KindUnsupportedPlatform, KindFormat, KindValidation:
		return false
	case KindAnalyzer:
		return true
	case KindFetch:
		return !containsAny(pe.Msg, nonRetryableMessageFragments)
	default:
		return true
	}
}

func containsAny(s string, fragments []string) bool {
	lower := strings.ToLower(s)
	for _, f := range fragments {
		if strings.Contains(lower, f) {
			return true
		}
	}
	return false
}
