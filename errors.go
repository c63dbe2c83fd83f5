package chain

import (
	"errors"
	"fmt"
)

// errTypeMismatch and errPanic are the sentinel causes used when a
// failure has no more specific underlying error to report.
var (
	errTypeMismatch = errors.New("side output record type does not match the bound tag's element type")
	errPanic        = errors.New("recovered panic")
)

// errSinkCountMismatch reports that a NetworkSinkSet supplied a
// different number of entries than the StreamConfig it was paired with
// declares, at the level named by operatorID (spec.md §9's resolved
// "positional record-writer alignment" open question: validated here,
// rather than left to an out-of-bounds slice index).
func errSinkCountMismatch(operatorID string, want, got int) error {
	return fmt.Errorf("operator %s: expected %d network sink(s), got %d", operatorID, want, got)
}

// guardOperatorCall invokes fn and wraps both its returned error and
// any panic it raises as a *ChainedOperatorError. The panic recovery
// is a safety net only — operator code is expected to report failures
// through its error return, as the teacher's vertex.go wraps every
// handler with a recover() that turns a panic into a reported *Error
// rather than crashing the task thread.
func guardOperatorCall(operatorID string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if already, ok := r.(*ChainedOperatorError); ok {
				err = already
				return
			}
			if asErr, ok := r.(error); ok {
				err = &ChainedOperatorError{OperatorID: operatorID, Cause: asErr}
				return
			}
			err = &ChainedOperatorError{OperatorID: operatorID, Cause: fmt.Errorf("%v: %w", r, errPanic)}
		}
	}()

	if cause := fn(); cause != nil {
		if ce, ok := cause.(*ChainedOperatorError); ok {
			return ce
		}
		if se, ok := cause.(*SideOutputTypeError); ok {
			return &ChainedOperatorError{OperatorID: operatorID, Cause: se}
		}
		return &ChainedOperatorError{OperatorID: operatorID, Cause: cause}
	}
	return nil
}

// ChainedOperatorError wraps any failure raised by an operator's
// ProcessElement/ProcessWatermark/ProcessLatencyMarker/Close when
// invoked by a chaining output. It preserves the original cause and is
// never retried; it is fatal to the owning task (spec.md §7).
type ChainedOperatorError struct {
	OperatorID string
	Cause      error
}

func (e *ChainedOperatorError) Error() string {
	return fmt.Sprintf("exception in chained operator %s: %v", e.OperatorID, e.Cause)
}

// Unwrap allows errors.Is/errors.As to see through to Cause.
func (e *ChainedOperatorError) Unwrap() error { return e.Cause }

// SideOutputTypeError is raised when a side-output emit's dynamic type
// does not match the element type the bound OutputTag was declared
// with. It carries an actionable message naming the offending tag.
type SideOutputTypeError struct {
	TagID string
	Cause error
}

func (e *SideOutputTypeError) Error() string {
	return fmt.Sprintf(
		"output tag %q: multiple OutputTags with different types but identical names: %v",
		e.TagID, e.Cause,
	)
}

// Unwrap allows errors.Is/errors.As to see through to Cause.
func (e *SideOutputTypeError) Unwrap() error { return e.Cause }

// ChainConstructionError is raised when chain construction fails;
// Build closes every network writer output already wired before
// returning it (spec.md §4.6, §7).
type ChainConstructionError struct {
	Stage string
	Cause error
}

func (e *ChainConstructionError) Error() string {
	return fmt.Sprintf("chain construction failed at %s: %v", e.Stage, e.Cause)
}

// Unwrap allows errors.Is/errors.As to see through to Cause.
func (e *ChainConstructionError) Unwrap() error { return e.Cause }
