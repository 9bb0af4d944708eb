// Package failure defines the error taxonomy shared by the resolver, the
// sessions, the assertion engine and the scenario runner.
//
// Every error that can end (or be tolerated by) a step is a *Error carrying
// a Code. Callers classify errors with the IsXxx helpers, which use
// errors.As so wrapped errors are recognised.
package failure

import (
	"errors"
	"fmt"
)

// Code categorizes harness errors.
type Code string

const (
	// CodeResolutionTimeout indicates the step target never became available.
	CodeResolutionTimeout Code = "RESOLUTION_TIMEOUT"

	// CodeAmbiguous indicates a locator matched more than one element where
	// exactly one was required.
	CodeAmbiguous Code = "AMBIGUOUS"

	// CodeUnreachable indicates a network or connection failure.
	CodeUnreachable Code = "UNREACHABLE"

	// CodeRejected indicates the target answered with a status outside the
	// expected set.
	CodeRejected Code = "REJECTED"

	// CodeAssertionFailed indicates the observed state did not match the
	// expectation.
	CodeAssertionFailed Code = "ASSERTION_FAILED"

	// CodeTimedOut indicates the scenario exceeded its ceiling.
	CodeTimedOut Code = "TIMED_OUT"

	// CodeAborted indicates the scenario was cancelled from outside
	// (suite deadline, unreachable target, session could not be opened).
	CodeAborted Code = "ABORTED"

	// CodeInvalidStep indicates a step that cannot be executed as written.
	CodeInvalidStep Code = "INVALID_STEP"
)

// NoStep is the Step value for errors not attributable to a single step.
const NoStep = -1

// Error is a classified harness error.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Step is the index of the offending step, or NoStep.
	Step int

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Step >= 0 {
		msg = fmt.Sprintf("%s (step %d)", msg, e.Step)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error not yet attributed to a step.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Step: NoStep}
}

// Wrap creates an Error with an underlying cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Step: NoStep, Err: err}
}

// AtStep returns err attributed to the given step index. Errors that are not
// a *Error are classified as CodeInvalidStep. An existing attribution is
// kept.
func AtStep(err error, step int) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		out := *fe
		if out.Step < 0 {
			out.Step = step
		}
		return &out
	}
	return &Error{Code: CodeInvalidStep, Message: "step failed", Step: step, Err: err}
}

// CodeOf returns the code of err, or "" when err is not a *Error.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsResolutionTimeout returns true if err is a resolution timeout.
func IsResolutionTimeout(err error) bool { return Is(err, CodeResolutionTimeout) }

// IsAmbiguous returns true if err is an ambiguous-locator error.
func IsAmbiguous(err error) bool { return Is(err, CodeAmbiguous) }

// IsUnreachable returns true if err is a transport failure.
func IsUnreachable(err error) bool { return Is(err, CodeUnreachable) }

// IsRejected returns true if err is an unexpected-status error.
func IsRejected(err error) bool { return Is(err, CodeRejected) }

// IsAssertionFailed returns true if err is an assertion failure.
func IsAssertionFailed(err error) bool { return Is(err, CodeAssertionFailed) }

// Recoverable reports whether a best-effort step may swallow err.
// Only resolver and transport failures qualify; assertion failures and
// rejected responses always propagate.
func Recoverable(err error) bool {
	switch CodeOf(err) {
	case CodeResolutionTimeout, CodeAmbiguous, CodeUnreachable:
		return true
	default:
		return false
	}
}

// NewResolutionTimeout creates an error for a locator that never matched.
func NewResolutionTimeout(locator string, waited fmt.Stringer) *Error {
	return New(CodeResolutionTimeout, fmt.Sprintf("%s not found after %s", locator, waited))
}

// NewAmbiguous creates an error for a locator with too many matches.
func NewAmbiguous(locator string, matches int) *Error {
	return New(CodeAmbiguous, fmt.Sprintf("%s matched %d elements, expected exactly one", locator, matches))
}

// NewRejected creates an error for an unexpected response status.
func NewRejected(method, url string, status int, want string) *Error {
	return New(CodeRejected, fmt.Sprintf("%s %s returned %d, expected %s", method, url, status, want))
}
