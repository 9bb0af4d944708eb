package report

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/arroschaves/brandaocontador-e2e/internal/scenario"
)

// Format names accepted by Write.
const (
	FormatText  = "text"
	FormatJSON  = "json"
	FormatJUnit = "junit"
)

// Write renders results in the given format.
func Write(w io.Writer, format string, results []scenario.ExecutionResult, verbose bool) error {
	switch format {
	case FormatText, "":
		return WriteText(w, results, verbose)
	case FormatJSON:
		return WriteJSON(w, results)
	case FormatJUnit:
		return WriteJUnit(w, "e2e", results)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

func formatDuration(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}

// WriteText renders a human-readable summary: one line per scenario, the
// failure reason, and with verbose a per-step breakdown.
func WriteText(w io.Writer, results []scenario.ExecutionResult, verbose bool) error {
	var b strings.Builder
	for _, r := range results {
		mark := "✓"
		if !r.Passed() {
			mark = "✗"
		}
		fmt.Fprintf(&b, "%s %s (%s)", mark, r.Scenario, formatDuration(r.Duration))
		if !r.Passed() {
			fmt.Fprintf(&b, " [%s]", r.Outcome)
		}
		b.WriteString("\n")

		if f := r.Failure; f != nil {
			if f.Step >= 0 {
				fmt.Fprintf(&b, "    %s at step %d: %s\n", f.Code, f.Step, f.Message)
			} else {
				fmt.Fprintf(&b, "    %s: %s\n", f.Code, f.Message)
			}
		} else if r.Final.Evaluated && !r.Final.Pass {
			fmt.Fprintf(&b, "    final assertion: %s\n", r.Final.Message)
		}
		if r.Final.Diff != "" && !r.Final.Pass {
			for _, line := range strings.Split(strings.TrimRight(r.Final.Diff, "\n"), "\n") {
				fmt.Fprintf(&b, "      %s\n", line)
			}
		}

		if verbose {
			for _, s := range r.Steps {
				fmt.Fprintf(&b, "    [%d] %-8s %s", s.Index, s.Status, s.Name)
				switch {
				case s.Tolerated:
					fmt.Fprintf(&b, " (tolerated %s)", s.Code)
				case s.Code != "":
					fmt.Fprintf(&b, " (%s)", s.Code)
				}
				b.WriteString("\n")
			}
		}
	}

	sum := Summarize(results)
	fmt.Fprintf(&b, "\n%d scenarios: %d passed, %d failed, %d errored (%s)\n",
		sum.Total, sum.Passed, sum.Failed, sum.Errored, formatDuration(sum.Duration))

	_, err := io.WriteString(w, b.String())
	return err
}

// Document is the JSON rendering of a report.
type Document struct {
	Summary SummaryJSON  `json:"summary"`
	Results []ResultJSON `json:"results"`
}

// SummaryJSON is Summary with its duration in milliseconds.
type SummaryJSON struct {
	Summary
	DurationMS int64 `json:"duration_ms"`
}

// ResultJSON is an ExecutionResult with its duration in milliseconds.
type ResultJSON struct {
	scenario.ExecutionResult
	DurationMS int64 `json:"duration_ms"`
}

// NewDocument builds the JSON view of results.
func NewDocument(results []scenario.ExecutionResult) Document {
	sum := Summarize(results)
	doc := Document{
		Summary: SummaryJSON{Summary: sum, DurationMS: sum.Duration.Milliseconds()},
		Results: make([]ResultJSON, len(results)),
	}
	for i, r := range results {
		doc.Results[i] = ResultJSON{ExecutionResult: r, DurationMS: r.Duration.Milliseconds()}
	}
	return doc
}

// WriteJSON renders results as an indented JSON Document.
func WriteJSON(w io.Writer, results []scenario.ExecutionResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(NewDocument(results))
}

type junitSuites struct {
	XMLName  xml.Name     `xml:"testsuites"`
	Name     string       `xml:"name,attr"`
	Tests    int          `xml:"tests,attr"`
	Failures int          `xml:"failures,attr"`
	Errors   int          `xml:"errors,attr"`
	Time     string       `xml:"time,attr"`
	Suites   []junitSuite `xml:"testsuite"`
}

type junitSuite struct {
	Name      string      `xml:"name,attr"`
	Tests     int         `xml:"tests,attr"`
	Failures  int         `xml:"failures,attr"`
	Errors    int         `xml:"errors,attr"`
	Time      string      `xml:"time,attr"`
	Timestamp string      `xml:"timestamp,attr,omitempty"`
	Cases     []junitCase `xml:"testcase"`
}

type junitCase struct {
	Classname string        `xml:"classname,attr"`
	Name      string        `xml:"name,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitProblem `xml:"failure,omitempty"`
	Error     *junitProblem `xml:"error,omitempty"`
}

type junitProblem struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",cdata"`
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}

// classname groups test cases by the directory of their scenario file.
func classname(r scenario.ExecutionResult) string {
	if r.Source == "" {
		return "e2e"
	}
	return filepath.Base(filepath.Dir(r.Source))
}

// WriteJUnit renders results as a JUnit XML report with one testcase per
// scenario. fail outcomes become <failure>, error outcomes <error>.
func WriteJUnit(w io.Writer, name string, results []scenario.ExecutionResult) error {
	sum := Summarize(results)
	suite := junitSuite{
		Name:     name,
		Tests:    sum.Total,
		Failures: sum.Failed,
		Errors:   sum.Errored,
		Time:     seconds(sum.Duration),
	}
	if len(results) > 0 {
		suite.Timestamp = results[0].StartedAt.UTC().Format("2006-01-02T15:04:05")
	}

	for _, r := range results {
		tc := junitCase{Classname: classname(r), Name: r.Scenario, Time: seconds(r.Duration)}
		if !r.Passed() {
			p := problem(r)
			if r.Outcome == scenario.OutcomeFail {
				tc.Failure = p
			} else {
				tc.Error = p
			}
		}
		suite.Cases = append(suite.Cases, tc)
	}

	doc := junitSuites{
		Name:     name,
		Tests:    sum.Total,
		Failures: sum.Failed,
		Errors:   sum.Errored,
		Time:     suite.Time,
		Suites:   []junitSuite{suite},
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode junit report: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func problem(r scenario.ExecutionResult) *junitProblem {
	p := &junitProblem{Type: string(r.Outcome)}
	if f := r.Failure; f != nil {
		p.Type = string(f.Code)
		p.Message = f.Message
	} else {
		p.Type = "ASSERTION_FAILED"
		p.Message = r.Final.Message
	}

	var body strings.Builder
	for _, s := range r.Steps {
		fmt.Fprintf(&body, "[%d] %s %s", s.Index, s.Status, s.Name)
		if s.Error != "" {
			fmt.Fprintf(&body, ": %s", s.Error)
		}
		body.WriteString("\n")
	}
	if r.Final.Diff != "" {
		body.WriteString(r.Final.Diff)
	}
	p.Body = body.String()
	return p
}
