package scenario

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SessionKind selects the automation session a scenario runs in.
type SessionKind string

const (
	SessionHTTP    SessionKind = "http"
	SessionBrowser SessionKind = "browser"
)

// Action is the operation a step performs.
type Action string

const (
	ActionNavigate Action = "navigate"
	ActionFill     Action = "fill"
	ActionClick    Action = "click"
	ActionUpload   Action = "upload"
	ActionWait     Action = "wait"
	ActionAssert   Action = "assert"
	ActionRequest  Action = "request"
)

// browserOnly reports whether the action needs a browser session.
func (a Action) browserOnly() bool {
	switch a {
	case ActionNavigate, ActionFill, ActionClick, ActionUpload, ActionWait:
		return true
	}
	return false
}

// Scenario is one end-to-end flow: an ordered sequence of steps with a
// terminal expectation. A loaded Scenario is never modified.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description,omitempty"`

	// Session selects the session kind. Defaults to http.
	Session SessionKind `yaml:"session,omitempty"`

	// Tags allow selecting subsets of a suite.
	Tags []string `yaml:"tags,omitempty"`

	// Timeout is the scenario ceiling. Zero uses the suite default.
	Timeout Duration `yaml:"timeout,omitempty"`

	// Steps execute in declared order.
	Steps []Step `yaml:"steps"`

	// Expect is evaluated after the last step with the polling ceiling.
	Expect *Expect `yaml:"expect,omitempty"`

	// Source is the file the scenario was loaded from.
	Source string `yaml:"-"`
}

// HasTag reports whether the scenario carries tag.
func (s *Scenario) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Step is one atomic action with its target locator.
type Step struct {
	// Name describes the step in reports. Defaults to "<action> <target>".
	Name string `yaml:"name,omitempty"`

	// Action is the operation to perform.
	Action Action `yaml:"action"`

	// Selector locates the element for browser actions
	// (css=, xpath=, text=, id= prefixes; css when omitted).
	Selector string `yaml:"selector,omitempty"`

	// URL is the navigation target, absolute or relative to the base URL.
	URL string `yaml:"url,omitempty"`

	// Method is the HTTP method for request steps. Defaults to GET.
	Method string `yaml:"method,omitempty"`

	// Path is the request path relative to the API URL.
	Path string `yaml:"path,omitempty"`

	// Headers are extra request headers.
	Headers map[string]string `yaml:"headers,omitempty"`

	// Bearer sets "Authorization: Bearer <value>".
	Bearer string `yaml:"bearer,omitempty"`

	// JSON is encoded as the request body with a JSON content type.
	JSON any `yaml:"json,omitempty"`

	// Body is a raw request body, used when JSON is nil.
	Body string `yaml:"body,omitempty"`

	// Value is the text typed by fill steps.
	Value string `yaml:"value,omitempty"`

	// File is the local path handed to upload steps.
	File string `yaml:"file,omitempty"`

	// Timeout bounds resolution and network calls. Zero uses the default.
	Timeout Duration `yaml:"timeout,omitempty"`

	// BestEffort steps tolerate resolver and transport failures.
	BestEffort bool `yaml:"best_effort,omitempty"`

	// Exact requires the selector to match exactly one element.
	Exact bool `yaml:"exact,omitempty"`

	// Expect is checked against the step's observation.
	Expect *Expect `yaml:"expect,omitempty"`

	// Capture maps variable names to dotted JSON paths of the response.
	Capture map[string]string `yaml:"capture,omitempty"`
}

// Label returns the step name, or a description derived from the action.
func (s Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	switch s.Action {
	case ActionRequest:
		return fmt.Sprintf("%s %s", s.HTTPMethod(), s.Path)
	case ActionNavigate:
		return fmt.Sprintf("navigate %s", s.URL)
	case ActionAssert:
		return "assert"
	default:
		return fmt.Sprintf("%s %s", s.Action, s.Selector)
	}
}

// HTTPMethod returns the upper-cased method, GET when unset.
func (s Step) HTTPMethod() string {
	if s.Method == "" {
		return "GET"
	}
	return strings.ToUpper(s.Method)
}

// Expect lists the predicates checked against an observation.
// All listed predicates must hold.
type Expect struct {
	// Status is the accepted response status set (request steps).
	Status StatusSet `yaml:"status,omitempty"`

	// Text must appear in the visible page text or response body.
	Text StringList `yaml:"text,omitempty"`

	// AbsentText must not appear.
	AbsentText StringList `yaml:"absent_text,omitempty"`

	// Visible selectors must have at least one visible match.
	Visible StringList `yaml:"visible,omitempty"`

	// URLContains must be a substring of the current page URL.
	URLContains string `yaml:"url_contains,omitempty"`

	// Shape is the expected JSON schema of the response.
	Shape *Shape `yaml:"shape,omitempty"`

	// JWT names a JSON field that must hold a well-formed JWT.
	JWT string `yaml:"jwt,omitempty"`

	// NonEmpty requires the response to be a non-empty JSON object.
	NonEmpty bool `yaml:"non_empty,omitempty"`

	// IgnoreCase makes text predicates case-insensitive.
	IgnoreCase bool `yaml:"ignore_case,omitempty"`

	// Timeout overrides the polling ceiling for this block.
	Timeout Duration `yaml:"timeout,omitempty"`
}

// Empty reports whether no predicate is set.
func (e *Expect) Empty() bool {
	if e == nil {
		return true
	}
	return len(e.Status) == 0 && len(e.Text) == 0 && len(e.AbsentText) == 0 &&
		len(e.Visible) == 0 && e.URLContains == "" && e.Shape == nil &&
		e.JWT == "" && !e.NonEmpty
}

// Duration is a time.Duration decoded from "5s"-style strings or from an
// integer number of milliseconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Or returns d, or def when d is zero.
func (d Duration) Or(def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	var parsed time.Duration
	if node.Tag == "!!int" {
		ms, err := strconv.ParseInt(node.Value, 10, 64)
		if err != nil {
			return fmt.Errorf("line %d: invalid duration %q: %w", node.Line, node.Value, err)
		}
		parsed = time.Duration(ms) * time.Millisecond
	} else {
		var err error
		parsed, err = time.ParseDuration(node.Value)
		if err != nil {
			return fmt.Errorf("line %d: invalid duration %q: %w", node.Line, node.Value, err)
		}
	}
	if parsed < 0 {
		return fmt.Errorf("line %d: duration must be non-negative, got %s", node.Line, node.Value)
	}
	*d = Duration(parsed)
	return nil
}

// StringList accepts either a single scalar or a sequence of scalars.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*l = StringList{node.Value}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil
	default:
		return fmt.Errorf("line %d: expected a string or a list of strings", node.Line)
	}
}
