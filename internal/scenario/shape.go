package scenario

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ShapeKind tags the variant held by a Shape.
type ShapeKind string

const (
	ShapeAnyKey ShapeKind = "any_key"
	ShapeFields ShapeKind = "fields"
	ShapeCUE    ShapeKind = "cue"
)

// Shape is the expected schema of a JSON response. Exactly one variant is
// set; Kind says which.
type Shape struct {
	Kind ShapeKind

	// AnyKey: the object must contain at least one of these keys.
	AnyKey []string

	// Fields: every field must exist with the given kind. Dotted names
	// address nested objects.
	Fields map[string]FieldKind

	// CUE: CUE source the document must unify with.
	CUE string
}

// FieldNames returns the Fields keys in sorted order.
func (s *Shape) FieldNames() []string {
	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnmarshalYAML implements yaml.Unmarshaler and enforces exactly one
// variant.
func (s *Shape) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: shape must be a mapping", node.Line)
	}

	// node.Decode does not inherit KnownFields, so check keys here.
	for i := 0; i < len(node.Content); i += 2 {
		switch key := node.Content[i].Value; ShapeKind(key) {
		case ShapeAnyKey, ShapeFields, ShapeCUE:
		default:
			return fmt.Errorf("line %d: unknown shape variant %q (want any_key, fields or cue)", node.Content[i].Line, key)
		}
	}

	var raw struct {
		AnyKey []string             `yaml:"any_key"`
		Fields map[string]FieldKind `yaml:"fields"`
		CUE    string               `yaml:"cue"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	var set []ShapeKind
	if raw.AnyKey != nil {
		set = append(set, ShapeAnyKey)
	}
	if raw.Fields != nil {
		set = append(set, ShapeFields)
	}
	if raw.CUE != "" {
		set = append(set, ShapeCUE)
	}
	if len(set) != 1 {
		return fmt.Errorf("line %d: shape must set exactly one of any_key, fields, cue (got %d)", node.Line, len(set))
	}

	*s = Shape{Kind: set[0], AnyKey: raw.AnyKey, Fields: raw.Fields, CUE: raw.CUE}
	switch s.Kind {
	case ShapeAnyKey:
		if len(s.AnyKey) == 0 {
			return fmt.Errorf("line %d: shape.any_key must list at least one key", node.Line)
		}
	case ShapeFields:
		if len(s.Fields) == 0 {
			return fmt.Errorf("line %d: shape.fields must list at least one field", node.Line)
		}
	}
	return nil
}

// FieldKind is the expected JSON kind of a field.
type FieldKind string

const (
	KindAny    FieldKind = "any"
	KindString FieldKind = "string"
	KindInt    FieldKind = "int"
	KindNumber FieldKind = "number"
	KindBool   FieldKind = "bool"
	KindTrue   FieldKind = "true"
	KindFalse  FieldKind = "false"
	KindList   FieldKind = "list"
	KindObject FieldKind = "object"
	KindJWT    FieldKind = "jwt"
)

var validFieldKinds = map[FieldKind]bool{
	KindAny: true, KindString: true, KindInt: true, KindNumber: true,
	KindBool: true, KindTrue: true, KindFalse: true, KindList: true,
	KindObject: true, KindJWT: true,
}

// UnmarshalYAML implements yaml.Unmarshaler. Unquoted true/false are
// accepted as the literal kinds.
func (k *FieldKind) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: field kind must be a scalar", node.Line)
	}
	kind := FieldKind(strings.ToLower(node.Value))
	if !validFieldKinds[kind] {
		return fmt.Errorf("line %d: unknown field kind %q", node.Line, node.Value)
	}
	*k = kind
	return nil
}

// StatusSet is the set of accepted HTTP statuses. Entries are exact codes
// ("201") or classes ("2xx").
type StatusSet []string

// DefaultStatus is applied to request steps without an explicit status.
var DefaultStatus = StatusSet{"2xx"}

// UnmarshalYAML implements yaml.Unmarshaler. Accepts 200, "4xx" or a list.
func (s *StatusSet) UnmarshalYAML(node *yaml.Node) error {
	var entries []*yaml.Node
	switch node.Kind {
	case yaml.ScalarNode:
		entries = []*yaml.Node{node}
	case yaml.SequenceNode:
		entries = node.Content
	default:
		return fmt.Errorf("line %d: status must be a code, a class or a list", node.Line)
	}

	out := make(StatusSet, 0, len(entries))
	for _, e := range entries {
		v := strings.ToLower(strings.TrimSpace(e.Value))
		if err := validateStatus(v); err != nil {
			return fmt.Errorf("line %d: %w", e.Line, err)
		}
		out = append(out, v)
	}
	*s = out
	return nil
}

func validateStatus(v string) error {
	if len(v) == 3 && strings.HasSuffix(v, "xx") && v[0] >= '1' && v[0] <= '5' {
		return nil
	}
	code, err := strconv.Atoi(v)
	if err != nil || code < 100 || code > 599 {
		return fmt.Errorf("invalid status %q", v)
	}
	return nil
}

// Match reports whether code is accepted.
func (s StatusSet) Match(code int) bool {
	digits := strconv.Itoa(code)
	for _, e := range s {
		if strings.HasSuffix(e, "xx") {
			if digits[:1] == e[:1] {
				return true
			}
			continue
		}
		if e == digits {
			return true
		}
	}
	return false
}

// String renders the set for messages, e.g. "2xx" or "one of [400 422]".
func (s StatusSet) String() string {
	if len(s) == 1 {
		return s[0]
	}
	return fmt.Sprintf("one of %v", []string(s))
}
