package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or fails validation.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	s, err := Parse(data)
	if err != nil {
		return nil, err
	}
	s.Source = path

	// Upload files are resolved relative to the scenario file.
	for i := range s.Steps {
		if f := s.Steps[i].File; f != "" && !filepath.IsAbs(f) {
			s.Steps[i].File = filepath.Join(filepath.Dir(path), f)
		}
	}
	return s, nil
}

// Parse decodes and validates a scenario document.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse YAML: empty document")
		}
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if s.Session == "" {
		s.Session = SessionHTTP
	}

	if err := Validate(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

var validMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodPatch: true, http.MethodDelete: true, http.MethodHead: true,
	http.MethodOptions: true,
}

// Validate checks that required fields are present and consistent.
func Validate(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	switch s.Session {
	case SessionHTTP, SessionBrowser:
	default:
		return fmt.Errorf("unknown session %q (want http or browser)", s.Session)
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(s.Session, step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	if s.Expect != nil && s.Expect.Empty() {
		return fmt.Errorf("expect: at least one predicate is required")
	}
	if err := validateExpect(s.Session, s.Expect); err != nil {
		return fmt.Errorf("expect: %w", err)
	}
	return nil
}

func validateStep(kind SessionKind, step Step) error {
	if step.Action == "" {
		return fmt.Errorf("action is required")
	}
	if step.Action.browserOnly() && kind != SessionBrowser {
		return fmt.Errorf("action %q requires session: browser", step.Action)
	}

	switch step.Action {
	case ActionNavigate:
		if step.URL == "" {
			return fmt.Errorf("url is required for navigate")
		}
	case ActionFill, ActionClick, ActionWait:
		if step.Selector == "" {
			return fmt.Errorf("selector is required for %s", step.Action)
		}
	case ActionUpload:
		if step.Selector == "" || step.File == "" {
			return fmt.Errorf("selector and file are required for upload")
		}
	case ActionAssert:
		if step.Expect.Empty() {
			return fmt.Errorf("expect is required for assert")
		}
	case ActionRequest:
		if step.Path == "" {
			return fmt.Errorf("path is required for request")
		}
		if !validMethods[step.HTTPMethod()] {
			return fmt.Errorf("unsupported method %q", step.Method)
		}
		if step.JSON != nil && step.Body != "" {
			return fmt.Errorf("json and body are mutually exclusive")
		}
	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}

	if len(step.Capture) > 0 && step.Action != ActionRequest {
		return fmt.Errorf("capture is only supported on request steps")
	}
	for name, path := range step.Capture {
		if name == "" || strings.TrimSpace(path) == "" {
			return fmt.Errorf("capture entries need a variable name and a JSON path")
		}
	}

	if step.Exact && step.Selector == "" {
		return fmt.Errorf("exact requires a selector")
	}

	if err := validateExpect(kind, step.Expect); err != nil {
		return fmt.Errorf("expect: %w", err)
	}
	if len(step.Expect.statusOrNil()) > 0 && step.Action != ActionRequest {
		return fmt.Errorf("expect.status is only meaningful on request steps")
	}
	if step.Action == ActionRequest && step.Expect.pageChecks() {
		return fmt.Errorf("expect: visible and url_contains are not supported on request steps")
	}
	return nil
}

func validateExpect(kind SessionKind, e *Expect) error {
	if e == nil {
		return nil
	}
	if kind != SessionBrowser && e.pageChecks() {
		return fmt.Errorf("visible and url_contains require session: browser")
	}
	for _, sel := range e.Visible {
		if strings.TrimSpace(sel) == "" {
			return fmt.Errorf("visible entries must be non-empty selectors")
		}
	}
	if e.Shape != nil && e.Shape.Kind == ShapeFields {
		for _, name := range e.Shape.FieldNames() {
			if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") || strings.Contains(name, "..") {
				return fmt.Errorf("shape.fields: malformed path %q", name)
			}
		}
	}
	return nil
}

// pageChecks reports whether e inspects the browser page.
func (e *Expect) pageChecks() bool {
	return e != nil && (len(e.Visible) > 0 || e.URLContains != "")
}

func (e *Expect) statusOrNil() StatusSet {
	if e == nil {
		return nil
	}
	return e.Status
}
