// Package coreerr defines the error taxonomy shared across memcore's
// subsystems. Every component-level failure that crosses the API boundary
// becomes one CoreError so api.Server can turn it into a single
// {ok:false, error:string} reply without type-switching on package-private
// sentinels.
package coreerr

import "fmt"

// Kind classifies a CoreError the way the request layer needs to react to it.
type Kind int

const (
	// Transport covers a VMM that is unreachable or whose handle was lost.
	Transport Kind = iota
	// NotFound covers a missing pid, module, region, task, or snapshot.
	NotFound
	// InvalidInput covers malformed or out-of-range request parameters.
	InvalidInput
	// ReadFailure covers a memory read that returned empty or short.
	ReadFailure
	// DecodeFailure covers a byte that does not begin a valid instruction.
	DecodeFailure
	// PartialAnalysis covers a scan that terminated early via cancellation
	// or a safety bound; the caller still receives a partial result.
	PartialAnalysis
	// Fatal covers VMM initialization failure; the only kind a caller
	// should treat as non-retryable without re-establishing the session.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "Transport"
	case NotFound:
		return "NotFound"
	case InvalidInput:
		return "InvalidInput"
	case ReadFailure:
		return "ReadFailure"
	case DecodeFailure:
		return "DecodeFailure"
	case PartialAnalysis:
		return "PartialAnalysis"
	case Fatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// CoreError is the concrete error type every component returns across its
// public boundary. Op names the failing operation, Field names the
// offending parameter when the failure is input-shaped, and Err wraps the
// underlying cause when there is one.
type CoreError struct {
	Kind  Kind
	Op    string
	Field string
	Err   error
}

func (e *CoreError) Error() string {
	if e.Field != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s (%s): %v", e.Op, e.Kind, e.Field, e.Err)
		}
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Kind, e.Field)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *CoreError) Unwrap() error { return e.Err }

// New builds a CoreError with no underlying cause.
func New(kind Kind, op, field string) *CoreError {
	return &CoreError{Kind: kind, Op: op, Field: field}
}

// Wrap builds a CoreError around an underlying cause.
func Wrap(kind Kind, op, field string, err error) *CoreError {
	return &CoreError{Kind: kind, Op: op, Field: field, Err: err}
}

// Is reports whether err is a CoreError of the given kind.
func Is(err error, kind Kind) bool {
	ce, ok := err.(*CoreError)
	return ok && ce.Kind == kind
}
