package scenario

import (
	"time"

	"github.com/arroschaves/brandaocontador-e2e/internal/failure"
)

// State is the lifecycle state of a scenario run.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
	StateTimedOut  State = "timed_out"
)

// IsTerminal returns true for Completed, Aborted and TimedOut.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateAborted, StateTimedOut:
		return true
	}
	return false
}

// StepStatus is the outcome of a single step.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepTimeout StepStatus = "timeout"
	StepError   StepStatus = "error"
	StepNotRun  StepStatus = "not_run"
)

// Outcome is the aggregate classification of a scenario run.
type Outcome string

const (
	OutcomePass  Outcome = "pass"
	OutcomeFail  Outcome = "fail"
	OutcomeError Outcome = "error"
)

// StepOutcome records what happened to one declared step.
type StepOutcome struct {
	Index     int           `json:"index"`
	Name      string        `json:"name"`
	Action    Action        `json:"action"`
	Status    StepStatus    `json:"status"`
	Tolerated bool          `json:"tolerated,omitempty"`
	Code      failure.Code  `json:"code,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"-"`
}

// AssertionOutcome is the verdict of the terminal expectation.
type AssertionOutcome struct {
	Evaluated bool   `json:"evaluated"`
	Pass      bool   `json:"pass"`
	Message   string `json:"message,omitempty"`
	Diff      string `json:"diff,omitempty"`
}

// Failure describes why a run did not pass.
type Failure struct {
	Code    failure.Code `json:"code"`
	Message string       `json:"message"`
	Step    int          `json:"step"`
}

// ExecutionResult is the record of one scenario run. It is never modified
// after the runner returns it.
type ExecutionResult struct {
	RunID     string           `json:"run_id,omitempty"`
	Scenario  string           `json:"scenario"`
	Source    string           `json:"source,omitempty"`
	State     State            `json:"state"`
	Outcome   Outcome          `json:"outcome"`
	Steps     []StepOutcome    `json:"steps"`
	Final     AssertionOutcome `json:"final"`
	Failure   *Failure         `json:"failure,omitempty"`
	StartedAt time.Time        `json:"started_at"`
	Duration  time.Duration    `json:"-"`
}

// Passed reports whether the run is classified as pass.
func (r *ExecutionResult) Passed() bool {
	return r.Outcome == OutcomePass
}

// NotRunSteps returns one not_run outcome per step of s, starting at index
// from.
func NotRunSteps(s *Scenario, from int) []StepOutcome {
	if from >= len(s.Steps) {
		return nil
	}
	out := make([]StepOutcome, 0, len(s.Steps)-from)
	for i := from; i < len(s.Steps); i++ {
		out = append(out, StepOutcome{
			Index:  i,
			Name:   s.Steps[i].Label(),
			Action: s.Steps[i].Action,
			Status: StepNotRun,
		})
	}
	return out
}

// Classify derives the outcome from the terminal state, the failure (if
// any) and the terminal assertion.
//
// Completed runs pass when the final assertion did. Assertion failures and
// rejected responses are behavioral mismatches (fail); everything else is
// an infrastructure problem (error).
func Classify(state State, f *Failure, final AssertionOutcome) Outcome {
	if f != nil {
		switch f.Code {
		case failure.CodeAssertionFailed, failure.CodeRejected:
			return OutcomeFail
		default:
			return OutcomeError
		}
	}
	if state != StateCompleted {
		return OutcomeError
	}
	if final.Evaluated && !final.Pass {
		return OutcomeFail
	}
	return OutcomePass
}
