// Package resolver turns step targets into concrete things to act on:
// selectors into a single marked DOM element, request paths into URLs,
// and ${var} references into values.
package resolver

import (
	"fmt"
	"strings"
)

// Kind is the selector dialect of a locator.
type Kind string

const (
	KindCSS   Kind = "css"
	KindXPath Kind = "xpath"
	KindText  Kind = "text"
	KindID    Kind = "id"
)

// Locator is a parsed selector.
type Locator struct {
	Kind  Kind
	Value string
	Raw   string
}

// String returns the selector as written in the scenario.
func (l Locator) String() string { return l.Raw }

// ParseLocator parses "css=...", "xpath=...", "text=..." and "id=..."
// selectors. Bare selectors starting with "/" or "(" are XPath; anything
// else is CSS.
func ParseLocator(sel string) (Locator, error) {
	raw := sel
	sel = strings.TrimSpace(sel)
	if sel == "" {
		return Locator{}, fmt.Errorf("empty selector")
	}

	if prefix, rest, ok := strings.Cut(sel, "="); ok {
		switch k := Kind(strings.ToLower(prefix)); k {
		case KindCSS, KindXPath, KindText, KindID:
			rest = strings.TrimSpace(rest)
			if rest == "" {
				return Locator{}, fmt.Errorf("selector %q has an empty %s expression", raw, k)
			}
			return Locator{Kind: k, Value: rest, Raw: raw}, nil
		}
	}

	if strings.HasPrefix(sel, "/") || strings.HasPrefix(sel, "(") {
		return Locator{Kind: KindXPath, Value: sel, Raw: raw}, nil
	}
	return Locator{Kind: KindCSS, Value: sel, Raw: raw}, nil
}
