package tools

import (
	"errors"
	"fmt"
)

// ErrInvalidTool is returned by Register for a tool without a name or handler.
var ErrInvalidTool = errors.New("tool must have a name and a handler")

// ErrToolNotFound is recorded on a Result when a call targets a tool that
// is not registered. The model sees it as an error payload and can
// recover; it never aborts the conversation.
type ErrToolNotFound struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolNotFound) Error() string {
	return fmt.Sprintf("%s not found", e.ToolName)
}

// ErrDuplicateTool is returned by Register when the name is taken.
type ErrDuplicateTool struct {
	ToolName string
}

func (e *ErrDuplicateTool) Error() string {
	return fmt.Sprintf("tool %q already registered", e.ToolName)
}

// PanicError wraps a value recovered from a panicking handler.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// FatalError marks a handler failure that must abort the whole
// conversation turn instead of being reported to the model. Dispatch
// still produces an error payload; the caller decides to stop.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err so the agent loop treats it as a hard failure.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err carries a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
