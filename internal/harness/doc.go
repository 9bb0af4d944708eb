// Package harness executes scenarios against a target application.
//
// A Runner executes one scenario in its own session and returns an
// ExecutionResult. A Suite runs many scenarios concurrently and appends
// each result to a report.Sink as it finishes.
//
// # Scenario lifecycle
//
//	Pending -> Running -> Completed
//	                   -> Aborted   (step failure, suite cancelled)
//	                   -> TimedOut  (scenario ceiling elapsed)
//	Pending -> Aborted             (session could not be opened)
//
// Steps execute strictly in declared order. A failed step stops the
// scenario unless it is best_effort and the failure is a resolver or
// transport failure (ResolutionTimeout, Ambiguous, Unreachable); such
// failures are recorded as tolerated and the scenario continues. Every
// step gets an outcome: steps after a stop are recorded as not_run.
//
// # Assertions
//
// Request steps check their status first; a status outside the expected
// set (2xx by default) is REJECTED. The remaining predicates are evaluated
// once against the response. Browser steps and assert steps poll their
// predicates until they hold or the assert ceiling elapses. The scenario's
// terminal expect block is polled last; its verdict is the final assertion
// outcome and never aborts the scenario.
//
// # Timeouts
//
// Every suspension point is bounded: session acquisition by the session
// timeout, resolver waits and network calls by the step timeout, polling
// by the assert timeout, the whole scenario by its ceiling and the suite by
// the suite deadline. Sessions are closed on every exit path with a fresh
// bounded context.
package harness
