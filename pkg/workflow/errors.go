package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderFailure wraps generation model errors.
	ErrProviderFailure = errors.New("generation model failure")
	// ErrParseFailure marks model output without a usable plan or file.
	ErrParseFailure = errors.New("unparseable model output")
	// ErrMaxTransitions is returned when a run does not reach Done in time.
	ErrMaxTransitions = errors.New("workflow exceeded maximum transitions")
	// ErrInvalidUpdate is returned when an update would break a state rule.
	ErrInvalidUpdate = errors.New("invalid state update")
)

// RunError aborts a run and carries the state accumulated so far.
type RunError struct {
	Node  Node
	State State
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("workflow aborted in %s: %v", e.Node, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}
