// Package expect is the assertion engine: it compiles the declarative
// expect blocks of a scenario into predicates and evaluates them against
// an observation, either once or by polling until a ceiling.
package expect

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/arroschaves/brandaocontador-e2e/internal/failure"
	"github.com/arroschaves/brandaocontador-e2e/internal/scenario"
)

// Observation is the observed state of the target after an action.
// HTTP sessions fill Status, Header, Body, JSON and Text; browser sessions
// fill Text, URL and Visible.
type Observation struct {
	Status int
	Header http.Header
	Body   []byte

	// JSON is the decoded body (numbers as json.Number), nil when the body
	// is not JSON.
	JSON any

	// Text is the visible page text, or the response body as text.
	Text string

	// URL is the current page URL.
	URL string

	// Visible maps selectors to their number of visible matches.
	Visible map[string]int
}

// DecodeJSON fills JSON from Body. Bodies that are not JSON leave JSON nil.
func (o *Observation) DecodeJSON() {
	o.JSON = nil
	trimmed := bytes.TrimSpace(o.Body)
	if len(trimmed) == 0 {
		return
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return
	}
	o.JSON = v
}

// Mismatch describes one failed predicate.
type Mismatch struct {
	Predicate string
	Expected  string
	Actual    string
	Diff      string
}

// Verdict is the result of evaluating a set of predicates.
type Verdict struct {
	Pass       bool
	Mismatches []Mismatch
}

// Message returns a one-line summary of the mismatches.
func (v Verdict) Message() string {
	if v.Pass {
		return ""
	}
	parts := make([]string, 0, len(v.Mismatches))
	for _, m := range v.Mismatches {
		parts = append(parts, fmt.Sprintf("%s: expected %s, got %s", m.Predicate, m.Expected, m.Actual))
	}
	return strings.Join(parts, "; ")
}

// Diff concatenates the diffs of all mismatches.
func (v Verdict) Diff() string {
	var buf strings.Builder
	for _, m := range v.Mismatches {
		if m.Diff == "" {
			continue
		}
		buf.WriteString(m.Diff)
		if !strings.HasSuffix(m.Diff, "\n") {
			buf.WriteString("\n")
		}
	}
	return buf.String()
}

// Err returns nil for a passing verdict and an ASSERTION_FAILED error
// otherwise.
func (v Verdict) Err() error {
	if v.Pass {
		return nil
	}
	return failure.Wrap(failure.CodeAssertionFailed, v.Message(), &AssertionError{Mismatches: v.Mismatches})
}

// Outcome converts the verdict to the result model.
func (v Verdict) Outcome() scenario.AssertionOutcome {
	return scenario.AssertionOutcome{
		Evaluated: true,
		Pass:      v.Pass,
		Message:   v.Message(),
		Diff:      v.Diff(),
	}
}

// AssertionError carries the detailed mismatches of a failed verdict.
type AssertionError struct {
	Mismatches []Mismatch
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	for i, m := range e.Mismatches {
		if i > 0 {
			buf.WriteString("\n")
		}
		fmt.Fprintf(&buf, "Assertion failed: %s\n", m.Predicate)
		fmt.Fprintf(&buf, "  Expected: %s\n", m.Expected)
		fmt.Fprintf(&buf, "  Actual: %s\n", m.Actual)
		if m.Diff != "" {
			buf.WriteString(m.Diff)
		}
	}
	return buf.String()
}

// Predicate is one compiled expectation.
type Predicate interface {
	// Name identifies the predicate in messages.
	Name() string

	// Evaluate checks the observation. A nil Mismatch means pass.
	Evaluate(obs *Observation) *Mismatch
}

// Evaluate runs every predicate against obs.
func Evaluate(preds []Predicate, obs *Observation) Verdict {
	v := Verdict{Pass: true}
	for _, p := range preds {
		if m := p.Evaluate(obs); m != nil {
			v.Pass = false
			v.Mismatches = append(v.Mismatches, *m)
		}
	}
	return v
}

// Options tune compilation.
type Options struct {
	// DefaultStatus is used when the block does not set a status.
	// Nil means no status predicate.
	DefaultStatus scenario.StatusSet
}

// Compile turns an expect block into predicates. A nil block yields only
// the default status predicate, if any.
func Compile(e *scenario.Expect, opts Options) ([]Predicate, error) {
	var preds []Predicate

	status := opts.DefaultStatus
	if e != nil && len(e.Status) > 0 {
		status = e.Status
	}
	if len(status) > 0 {
		preds = append(preds, statusPredicate{set: status})
	}
	if e == nil {
		return preds, nil
	}

	for _, text := range e.Text {
		preds = append(preds, textPredicate{want: text, fold: e.IgnoreCase})
	}
	for _, text := range e.AbsentText {
		preds = append(preds, textPredicate{want: text, fold: e.IgnoreCase, absent: true})
	}
	for _, sel := range e.Visible {
		preds = append(preds, visiblePredicate{selector: sel})
	}
	if e.URLContains != "" {
		preds = append(preds, urlPredicate{want: e.URLContains})
	}
	if e.NonEmpty {
		preds = append(preds, nonEmptyPredicate{})
	}
	if e.JWT != "" {
		preds = append(preds, jwtPredicate{field: e.JWT})
	}
	if e.Shape != nil {
		p, err := compileShape(e.Shape)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, nil
}

// StatusOnly splits out the status predicate so sessions can classify a
// wrong status as REJECTED before body predicates run.
func StatusOnly(preds []Predicate) (status []Predicate, rest []Predicate) {
	for _, p := range preds {
		if _, ok := p.(statusPredicate); ok {
			status = append(status, p)
		} else {
			rest = append(rest, p)
		}
	}
	return status, rest
}
