package resolver

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/arroschaves/brandaocontador-e2e/internal/failure"
	"github.com/arroschaves/brandaocontador-e2e/internal/scenario"
)

// Vars holds the ${name} values visible to a scenario: configured
// credentials plus values captured by earlier steps.
type Vars map[string]string

// Clone returns a copy of v.
func (v Vars) Clone() Vars {
	out := make(Vars, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

var varRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_.]*)\}`)

// Expand replaces ${name} references in s. Unknown names fail with
// INVALID_STEP. Other uses of "$" are left alone.
func (v Vars) Expand(s string) (string, error) {
	var missing []string
	out := varRef.ReplaceAllStringFunc(s, func(ref string) string {
		name := varRef.FindStringSubmatch(ref)[1]
		val, ok := v[name]
		if !ok {
			missing = append(missing, name)
			return ref
		}
		return val
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", failure.New(failure.CodeInvalidStep, fmt.Sprintf("undefined variable(s): %s", strings.Join(missing, ", ")))
	}
	return out, nil
}

// ExpandValue expands every string inside a decoded YAML/JSON value.
func (v Vars) ExpandValue(in any) (any, error) {
	switch x := in.(type) {
	case string:
		return v.Expand(x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			e, err := v.ExpandValue(val)
			if err != nil {
				return nil, err
			}
			out[k] = e
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			e, err := v.ExpandValue(val)
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil
	default:
		return in, nil
	}
}

// ExpandStep returns a copy of step with ${name} references expanded in
// its targets, headers, values and JSON body.
func (v Vars) ExpandStep(step scenario.Step) (scenario.Step, error) {
	out := step
	for _, f := range []*string{&out.Selector, &out.URL, &out.Path, &out.Bearer, &out.Body, &out.Value, &out.File} {
		e, err := v.Expand(*f)
		if err != nil {
			return step, err
		}
		*f = e
	}

	if len(step.Headers) > 0 {
		out.Headers = make(map[string]string, len(step.Headers))
		for k, val := range step.Headers {
			e, err := v.Expand(val)
			if err != nil {
				return step, err
			}
			out.Headers[k] = e
		}
	}

	if step.JSON != nil {
		body, err := v.ExpandValue(step.JSON)
		if err != nil {
			return step, err
		}
		out.JSON = body
	}
	return out, nil
}

// JoinURL resolves ref against base. Absolute refs are returned unchanged;
// relative refs are appended to the base path.
func JoinURL(base, ref string) (string, error) {
	if u, err := url.Parse(ref); err == nil && u.IsAbs() {
		return ref, nil
	}
	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() {
		return "", failure.New(failure.CodeInvalidStep, fmt.Sprintf("invalid base URL %q", base))
	}
	if ref == "" {
		return b.String(), nil
	}
	return strings.TrimRight(b.String(), "/") + "/" + strings.TrimLeft(ref, "/"), nil
}
