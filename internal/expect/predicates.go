package expect

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/arroschaves/brandaocontador-e2e/internal/scenario"
)

// maxExcerpt bounds how much observed text is quoted in messages.
const maxExcerpt = 200

type statusPredicate struct {
	set scenario.StatusSet
}

func (p statusPredicate) Name() string { return "status" }

func (p statusPredicate) Evaluate(obs *Observation) *Mismatch {
	if obs.Status == 0 {
		return &Mismatch{Predicate: p.Name(), Expected: p.set.String(), Actual: "no response"}
	}
	if p.set.Match(obs.Status) {
		return nil
	}
	return &Mismatch{Predicate: p.Name(), Expected: p.set.String(), Actual: strconv.Itoa(obs.Status)}
}

type textPredicate struct {
	want   string
	fold   bool
	absent bool
}

func (p textPredicate) Name() string {
	if p.absent {
		return "absent_text"
	}
	return "text"
}

func (p textPredicate) Evaluate(obs *Observation) *Mismatch {
	found := ContainsText(obs.Text, p.want, p.fold)
	if found != p.absent {
		return nil
	}
	expected := fmt.Sprintf("text %q present", p.want)
	actual := "not found in " + excerpt(obs.Text)
	if p.absent {
		expected = fmt.Sprintf("text %q absent", p.want)
		actual = "found in " + excerpt(obs.Text)
	}
	return &Mismatch{Predicate: p.Name(), Expected: expected, Actual: actual}
}

type visiblePredicate struct {
	selector string
}

func (p visiblePredicate) Name() string { return "visible" }

func (p visiblePredicate) Evaluate(obs *Observation) *Mismatch {
	if obs.Visible[p.selector] > 0 {
		return nil
	}
	return &Mismatch{
		Predicate: p.Name(),
		Expected:  fmt.Sprintf("%s visible", p.selector),
		Actual:    "no visible match",
	}
}

type urlPredicate struct {
	want string
}

func (p urlPredicate) Name() string { return "url_contains" }

func (p urlPredicate) Evaluate(obs *Observation) *Mismatch {
	if strings.Contains(obs.URL, p.want) {
		return nil
	}
	return &Mismatch{Predicate: p.Name(), Expected: fmt.Sprintf("URL containing %q", p.want), Actual: obs.URL}
}

type nonEmptyPredicate struct{}

func (nonEmptyPredicate) Name() string { return "non_empty" }

func (p nonEmptyPredicate) Evaluate(obs *Observation) *Mismatch {
	obj, ok := obs.JSON.(map[string]any)
	if ok && len(obj) > 0 {
		return nil
	}
	return &Mismatch{Predicate: p.Name(), Expected: "non-empty JSON object", Actual: describeJSON(obs)}
}

// NormalizeText applies NFC normalization and collapses whitespace runs.
// With fold set the result is also case-folded.
func NormalizeText(s string, fold bool) string {
	s = strings.Join(strings.Fields(norm.NFC.String(s)), " ")
	if fold {
		s = cases.Fold().String(s)
	}
	return s
}

// ContainsText reports whether needle occurs in haystack after
// normalization of both sides.
func ContainsText(haystack, needle string, fold bool) bool {
	return strings.Contains(NormalizeText(haystack, fold), NormalizeText(needle, fold))
}

func excerpt(s string) string {
	s = NormalizeText(s, false)
	if s == "" {
		return "(empty)"
	}
	if len(s) > maxExcerpt {
		return strconv.Quote(s[:maxExcerpt]) + "…"
	}
	return strconv.Quote(s)
}

func describeJSON(obs *Observation) string {
	if obs.JSON == nil {
		if len(obs.Body) == 0 {
			return "empty body"
		}
		return "non-JSON body " + excerpt(string(obs.Body))
	}
	return kindOf(obs.JSON)
}
