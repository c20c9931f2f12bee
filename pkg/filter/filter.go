// Package filter implements the metadata filter language used by
// Database.SearchByFilter: a small expression AST over dynamically
// typed metadata values, built node-per-operator in the style of
// pkg/cypher's AST types without depending on the Cypher package
// itself.
package filter

import (
	"fmt"
	"sort"
)

// Kind identifies the dynamic type carried by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindStr
	KindList
	KindMap
)

// Value is the sum type metadata comparisons operate over. Exactly one
// field is meaningful, selected by Kind.
type Value struct {
	Kind Kind
	B    bool
	I    int64
	F    float64
	S    string
	List []Value
	Map  map[string]Value
}

func Null() Value            { return Value{Kind: KindNull} }
func Bool(b bool) Value      { return Value{Kind: KindBool, B: b} }
func Int(i int64) Value      { return Value{Kind: KindInt, I: i} }
func Float(f float64) Value  { return Value{Kind: KindFloat, F: f} }
func Str(s string) Value     { return Value{Kind: KindStr, S: s} }
func List(v []Value) Value   { return Value{Kind: KindList, List: v} }
func Map(m map[string]Value) Value { return Value{Kind: KindMap, Map: m} }

// FromAny converts a JSON-decoded value (as produced by
// encoding/json.Unmarshal into an any) into a Value.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int64:
		return Int(t)
	case float64:
		return Float(t)
	case string:
		return Str(t)
	case []any:
		out := make([]Value, len(t))
		for i, e := range t {
			out[i] = FromAny(e)
		}
		return List(out)
	case map[string]any:
		out := make(map[string]Value, len(t))
		for k, e := range t {
			out[k] = FromAny(e)
		}
		return Map(out)
	default:
		return Str(fmt.Sprintf("%v", t))
	}
}

// numeric reports whether v holds a number and returns it as a float64
// for ordered comparison, so Int(3) gt Float(2.5) compares correctly.
func numeric(v Value) (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.I), true
	case KindFloat:
		return v.F, true
	default:
		return 0, false
	}
}

// Equal reports whether a and b hold the same value, comparing numeric
// kinds across Int/Float so Int(3) equals Float(3.0).
func Equal(a, b Value) bool {
	if af, aok := numeric(a); aok {
		if bf, bok := numeric(b); bok {
			return af == bf
		}
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNull:
		return true
	case KindBool:
		return a.B == b.B
	case KindStr:
		return a.S == b.S
	case KindList:
		if len(a.List) != len(b.List) {
			return false
		}
		for i := range a.List {
			if !Equal(a.List[i], b.List[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.Map) != len(b.Map) {
			return false
		}
		for k, av := range a.Map {
			bv, ok := b.Map[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Less reports whether a < b under ordered comparison. Only numeric and
// string kinds are ordered; any other pairing returns false.
func Less(a, b Value) bool {
	if af, aok := numeric(a); aok {
		if bf, bok := numeric(b); bok {
			return af < bf
		}
	}
	if a.Kind == KindStr && b.Kind == KindStr {
		return a.S < b.S
	}
	return false
}

// Op identifies an Expr node's operator.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpGt
	OpGte
	OpLt
	OpLte
	OpIn
	OpNin
	OpAnd
	OpOr
	OpNot
	OpExists
)

// Expr is a node in the filter AST. Leaf comparisons (Eq, Ne, Gt, ...)
// set Field and Value; In/Nin set Field and List; And/Or set Children;
// Not and Exists set Child/Field respectively.
type Expr struct {
	Op       Op
	Field    string
	Value    Value
	List     []Value
	Children []Expr
	Child    *Expr
}

func Eq(field string, v Value) Expr  { return Expr{Op: OpEq, Field: field, Value: v} }
func Ne(field string, v Value) Expr  { return Expr{Op: OpNe, Field: field, Value: v} }
func Gt(field string, v Value) Expr  { return Expr{Op: OpGt, Field: field, Value: v} }
func Gte(field string, v Value) Expr { return Expr{Op: OpGte, Field: field, Value: v} }
func Lt(field string, v Value) Expr  { return Expr{Op: OpLt, Field: field, Value: v} }
func Lte(field string, v Value) Expr { return Expr{Op: OpLte, Field: field, Value: v} }
func In(field string, vs []Value) Expr  { return Expr{Op: OpIn, Field: field, List: vs} }
func Nin(field string, vs []Value) Expr { return Expr{Op: OpNin, Field: field, List: vs} }
func Exists(field string) Expr          { return Expr{Op: OpExists, Field: field} }

func And(children ...Expr) Expr { return Expr{Op: OpAnd, Children: children} }
func Or(children ...Expr) Expr  { return Expr{Op: OpOr, Children: children} }
func Not(child Expr) Expr       { return Expr{Op: OpNot, Child: &child} }

// Eval evaluates e against a metadata map, resolving Field lookups
// through FromAny so callers can pass a plain map[string]any straight
// from decoded JSON.
func Eval(e Expr, metadata map[string]any) bool {
	switch e.Op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		raw, ok := metadata[e.Field]
		if !ok {
			return false
		}
		actual := FromAny(raw)
		switch e.Op {
		case OpEq:
			return Equal(actual, e.Value)
		case OpNe:
			return !Equal(actual, e.Value)
		case OpGt:
			return Less(e.Value, actual)
		case OpGte:
			return !Less(actual, e.Value)
		case OpLt:
			return Less(actual, e.Value)
		case OpLte:
			return !Less(e.Value, actual)
		}
	case OpIn, OpNin:
		raw, ok := metadata[e.Field]
		if !ok {
			return e.Op == OpNin
		}
		actual := FromAny(raw)
		found := false
		for _, v := range e.List {
			if Equal(actual, v) {
				found = true
				break
			}
		}
		if e.Op == OpIn {
			return found
		}
		return !found
	case OpExists:
		_, ok := metadata[e.Field]
		return ok
	case OpAnd:
		for _, c := range e.Children {
			if !Eval(c, metadata) {
				return false
			}
		}
		return true
	case OpOr:
		for _, c := range e.Children {
			if Eval(c, metadata) {
				return true
			}
		}
		return false
	case OpNot:
		if e.Child == nil {
			return true
		}
		return !Eval(*e.Child, metadata)
	}
	return false
}

// SortedFields returns metadata's keys in sorted order, used by callers
// that need a deterministic field iteration order (e.g. explain output).
func SortedFields(metadata map[string]any) []string {
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
