package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/hitzhangjie/hgdb/pkg/client"
)

var (
	// ErrConnectionLost ends the session, see client.ErrConnectionLost.
	ErrConnectionLost = client.ErrConnectionLost
	// ErrInvalidState is returned for a command not allowed in the current state.
	ErrInvalidState = errors.New("invalid state")
	// ErrRewindUnsupported is returned for reverse commands on a target without rewind.
	ErrRewindUnsupported = errors.New("target does not support rewind")
	// ErrWatchNotExisted is returned when deleting an unknown console id.
	ErrWatchNotExisted = errors.New("breakpoint or watchpoint not existed")
)

// ProtocolRejection is a request refused by the target.
type ProtocolRejection = client.RejectionError

// SymbolLookupError reports a location without an instrumented definition.
type SymbolLookupError struct {
	Location string
	Err      error
}

func (e *SymbolLookupError) Error() string {
	return fmt.Sprintf("no instrumented statement at %s: %v", e.Location, e.Err)
}

func (e *SymbolLookupError) Unwrap() error {
	return e.Err
}

// ParseError reports a malformed command line.
type ParseError struct {
	Input string
	Msg   string
}

func (e *ParseError) Error() string {
	if e.Input == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Msg, e.Input)
}

// EvaluationError reports an expression that cannot be evaluated, locally
// or by the target.
type EvaluationError struct {
	Expr string
	Err  error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("cannot evaluate %q: %v", e.Expr, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err ends the console loop.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
