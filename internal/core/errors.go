package core

import (
	"errors"
	"fmt"

	"go.trai.ch/zerr"
)

// Step-level failures. Each one makes the orchestrator move on to the next
// candidate source.
var (
	// ErrTransport is returned for network failures and non-2xx responses.
	ErrTransport = zerr.New("transport failure")

	// ErrDecode is returned when a byte stream cannot be decoded into rows.
	ErrDecode = zerr.New("decode failure")

	// ErrSchemaUnresolved is returned when a mandatory logical field has no
	// matching header.
	ErrSchemaUnresolved = zerr.New("schema unresolved")

	// ErrDegenerateResult is returned when a parse succeeds but the approved
	// grand total is zero.
	ErrDegenerateResult = zerr.New("degenerate result")

	// ErrNoCandidates is returned when a pipeline has no configured source.
	ErrNoCandidates = zerr.New("no candidate sources")
)

// Row-level failures. These never leave the aggregator.
var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidCategoryID = errors.New("invalid category id")
)

// Failure tags cause with the step sentinel kind and the source it came from.
// The result satisfies errors.Is for both kind and cause.
func Failure(kind error, source string, cause error) error {
	var err error
	if cause == nil {
		err = zerr.Wrap(kind, "")
	} else {
		err = fmt.Errorf("%w: %w", kind, cause)
	}
	return zerr.With(err, "source", source)
}

// FailureKind returns a short label for the step sentinel wrapped by err.
func FailureKind(err error) string {
	switch {
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrSchemaUnresolved):
		return "schema_unresolved"
	case errors.Is(err, ErrDegenerateResult):
		return "degenerate_result"
	case errors.Is(err, ErrNoCandidates):
		return "no_candidates"
	default:
		return "unknown"
	}
}
