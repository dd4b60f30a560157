package session

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrInvalidTransition is returned when an operation is not legal in
	// the current state.
	ErrInvalidTransition = errors.New("session: invalid state transition")

	// ErrNoTranscript is returned when a transcript has not been retrieved.
	ErrNoTranscript = errors.New("session: no transcript available")

	// ErrNoAgent is returned when no agent is configured for a phase.
	ErrNoAgent = errors.New("session: no agent configured")
)

// Kind classifies session failures.
type Kind int

const (
	// KindTransport covers channel open, send and receive failures.
	KindTransport Kind = iota + 1
	// KindPermission covers audio capture devices that cannot be opened.
	KindPermission
	// KindExternalService covers non-2xx replies from REST calls.
	KindExternalService
	// KindAnalysisDegraded marks a substituted assessment. It never
	// fails an operation.
	KindAnalysisDegraded
	// KindMalformedTranscript covers transcripts that cannot be normalized.
	KindMalformedTranscript
)

// String returns the kind name used in logs, metrics and API errors.
func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindPermission:
		return "permission"
	case KindExternalService:
		return "external_service"
	case KindAnalysisDegraded:
		return "analysis_degraded"
	case KindMalformedTranscript:
		return "malformed_transcript"
	default:
		return "unknown"
	}
}

// Error is a classified session failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("session: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("session: %s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same Kind, so callers can test
// errors.Is(err, &session.Error{Kind: session.KindTransport}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
