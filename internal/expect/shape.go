package expect

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/arroschaves/brandaocontador-e2e/internal/scenario"
)

func compileShape(s *scenario.Shape) (Predicate, error) {
	switch s.Kind {
	case scenario.ShapeAnyKey:
		return anyKeyPredicate{keys: s.AnyKey}, nil
	case scenario.ShapeFields:
		return fieldsPredicate{fields: s.Fields, names: s.FieldNames()}, nil
	case scenario.ShapeCUE:
		return compileCUE(s.CUE)
	default:
		return nil, fmt.Errorf("unknown shape kind %q", s.Kind)
	}
}

// Lookup resolves a dotted path ("usuario.email", "itens.0.id") in a
// decoded JSON document.
func Lookup(doc any, path string) (any, bool) {
	cur := doc
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// kindOf names the JSON kind of a decoded value.
func kindOf(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case bool:
		if x {
			return "true"
		}
		return "false"
	case json.Number:
		if _, err := x.Int64(); err == nil {
			return "int"
		}
		return "number"
	case float64:
		if x == float64(int64(x)) {
			return "int"
		}
		return "number"
	case string:
		return "string"
	case []any:
		return "list"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// matchKind reports whether v satisfies kind.
func matchKind(kind scenario.FieldKind, v any) bool {
	actual := kindOf(v)
	switch kind {
	case scenario.KindAny:
		return true
	case scenario.KindBool:
		return actual == "true" || actual == "false"
	case scenario.KindNumber:
		return actual == "int" || actual == "number"
	case scenario.KindJWT:
		s, ok := v.(string)
		return ok && IsJWT(s)
	default:
		return actual == string(kind)
	}
}

// IsJWT reports whether s is a structurally valid JWT. The signature is
// not verified.
func IsJWT(s string) bool {
	if strings.Count(s, ".") != 2 {
		return false
	}
	_, _, err := jwt.NewParser().ParseUnverified(s, jwt.MapClaims{})
	return err == nil
}

func diffLines(expected, actual []string) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(strings.Join(expected, "\n") + "\n"),
		B:        difflib.SplitLines(strings.Join(actual, "\n") + "\n"),
		FromFile: "expected",
		ToFile:   "actual",
		Context:  2,
	})
	if err != nil {
		return ""
	}
	return diff
}

type anyKeyPredicate struct {
	keys []string
}

func (p anyKeyPredicate) Name() string { return "shape.any_key" }

func (p anyKeyPredicate) Evaluate(obs *Observation) *Mismatch {
	obj, ok := obs.JSON.(map[string]any)
	if ok {
		for _, k := range p.keys {
			if _, present := obj[k]; present {
				return nil
			}
		}
	}
	actual := describeJSON(obs)
	if ok {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		actual = fmt.Sprintf("object with keys %v", keys)
	}
	return &Mismatch{
		Predicate: p.Name(),
		Expected:  fmt.Sprintf("object with one of %v", p.keys),
		Actual:    actual,
	}
}

type fieldsPredicate struct {
	fields map[string]scenario.FieldKind
	names  []string
}

func (p fieldsPredicate) Name() string { return "shape.fields" }

func (p fieldsPredicate) Evaluate(obs *Observation) *Mismatch {
	if _, ok := obs.JSON.(map[string]any); !ok {
		return &Mismatch{Predicate: p.Name(), Expected: "JSON object", Actual: describeJSON(obs)}
	}

	var expected, actual, bad []string
	for _, name := range p.names {
		kind := p.fields[name]
		expected = append(expected, fmt.Sprintf("%s: %s", name, kind))

		v, ok := Lookup(obs.JSON, name)
		switch {
		case !ok:
			actual = append(actual, fmt.Sprintf("%s: <missing>", name))
			bad = append(bad, name)
		case matchKind(kind, v):
			actual = append(actual, fmt.Sprintf("%s: %s", name, kind))
		default:
			actual = append(actual, fmt.Sprintf("%s: %s", name, kindOf(v)))
			bad = append(bad, name)
		}
	}
	if len(bad) == 0 {
		return nil
	}
	return &Mismatch{
		Predicate: p.Name(),
		Expected:  fmt.Sprintf("fields %v", p.names),
		Actual:    fmt.Sprintf("mismatched %v", bad),
		Diff:      diffLines(expected, actual),
	}
}

type jwtPredicate struct {
	field string
}

func (p jwtPredicate) Name() string { return "jwt" }

func (p jwtPredicate) Evaluate(obs *Observation) *Mismatch {
	v, ok := Lookup(obs.JSON, p.field)
	if !ok {
		return &Mismatch{Predicate: p.Name(), Expected: fmt.Sprintf("JWT at %q", p.field), Actual: "field missing"}
	}
	s, isString := v.(string)
	if !isString {
		return &Mismatch{Predicate: p.Name(), Expected: fmt.Sprintf("JWT at %q", p.field), Actual: kindOf(v)}
	}
	if !IsJWT(s) {
		return &Mismatch{Predicate: p.Name(), Expected: fmt.Sprintf("JWT at %q", p.field), Actual: "malformed token"}
	}
	return nil
}

// cuePredicate unifies the response with a CUE schema. cue.Context is not
// safe for concurrent use, so evaluation is serialized.
type cuePredicate struct {
	mu     *sync.Mutex
	ctx    *cue.Context
	schema cue.Value
}

func compileCUE(src string) (Predicate, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(src)
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile shape.cue: %w", err)
	}
	return cuePredicate{mu: &sync.Mutex{}, ctx: ctx, schema: schema}, nil
}

func (p cuePredicate) Name() string { return "shape.cue" }

func (p cuePredicate) Evaluate(obs *Observation) *Mismatch {
	if obs.JSON == nil {
		return &Mismatch{Predicate: p.Name(), Expected: "JSON document", Actual: describeJSON(obs)}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	data := p.ctx.CompileBytes(obs.Body)
	if err := data.Err(); err != nil {
		return &Mismatch{Predicate: p.Name(), Expected: "JSON document", Actual: err.Error()}
	}
	if err := p.schema.Unify(data).Validate(cue.Concrete(true)); err != nil {
		return &Mismatch{Predicate: p.Name(), Expected: fmt.Sprint(p.schema), Actual: err.Error()}
	}
	return nil
}
