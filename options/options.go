// Package options stores per-strategy controller configuration: each
// strategy carries a typed schema and its own current values.  Switching the
// active strategy never discards another strategy's values, and text input
// that fails to parse or violates bounds is rejected while the last valid
// value is retained.
package options

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind is the closed set of option value kinds
type Kind int

const (
	// Int is an integer-valued option
	Int Kind = iota
	// Float is a float-valued option
	Float
	// FloatList is a comma-separated list of floats
	FloatList
)

func (k Kind) String() string {
	switch k {
	case Int:
		return "int"
	case Float:
		return "float"
	case FloatList:
		return "float list"
	default:
		return "unknown"
	}
}

// Spec describes one option: its kind, optional numeric bounds, and a
// human-readable description.  Bounds apply to Int and Float kinds and to
// every element of a FloatList.
type Spec struct {
	Kind        Kind
	Min, Max    *float64
	Default     Value
	Description string
}

// Bound is a convenience for building *float64 bounds in schema literals
func Bound(v float64) *float64 { return &v }

// Value is a tagged variant holding one option value
type Value struct {
	Kind  Kind
	Int   int
	Float float64
	List  []float64
}

// IntValue builds an Int Value
func IntValue(i int) Value { return Value{Kind: Int, Int: i} }

// FloatValue builds a Float Value
func FloatValue(f float64) Value { return Value{Kind: Float, Float: f} }

// ListValue builds a FloatList Value
func ListValue(l ...float64) Value { return Value{Kind: FloatList, List: l} }

func (v Value) clone() Value {
	if v.Kind == FloatList {
		v.List = append([]float64(nil), v.List...)
	}
	return v
}

// String renders the value the way the editor displays it
func (v Value) String() string {
	switch v.Kind {
	case Int:
		return strconv.Itoa(v.Int)
	case Float:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case FloatList:
		parts := make([]string, len(v.List))
		for i, f := range v.List {
			parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}

// Schema maps option keys to their specs
type Schema map[string]Spec

// ValidationError reports a rejected option edit.  It is local to the edit:
// the stored value is unchanged and the editor should revert its display.
type ValidationError struct {
	Strategy, Key, Raw, Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("options: %s.%s rejected %q: %s", e.Strategy, e.Key, e.Raw, e.Reason)
}

type strategy struct {
	schema Schema
	values map[string]Value
}

// Store holds the option sets of every registered strategy and tracks which
// one is active
type Store struct {
	strategies map[string]*strategy
	active     string
}

// NewStore builds a store from strategy schemas.  Every schema key is seeded
// with its default value, which keeps the schema/values invariant from the
// start.  The active strategy is the first name in sorted order.
func NewStore(schemas map[string]Schema) (*Store, error) {
	if len(schemas) == 0 {
		return nil, fmt.Errorf("options: no strategies registered")
	}
	s := &Store{strategies: map[string]*strategy{}}
	names := make([]string, 0, len(schemas))
	for name, schema := range schemas {
		st := &strategy{schema: schema, values: map[string]Value{}}
		for key, spec := range schema {
			if spec.Default.Kind != spec.Kind {
				return nil, fmt.Errorf("options: %s.%s default is %s, schema wants %s",
					name, key, spec.Default.Kind, spec.Kind)
			}
			st.values[key] = spec.Default.clone()
		}
		s.strategies[name] = st
		names = append(names, name)
	}
	sort.Strings(names)
	s.active = names[0]
	return s, nil
}

// Names returns the registered strategy names in sorted order
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.strategies))
	for name := range s.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Active returns the active strategy name
func (s *Store) Active() string { return s.active }

// Select switches the active strategy.  The values of the previously active
// strategy stay in the store untouched.
func (s *Store) Select(name string) error {
	if _, ok := s.strategies[name]; !ok {
		return fmt.Errorf("options: unknown strategy %q", name)
	}
	s.active = name
	return nil
}

// Schema returns the schema of a strategy
func (s *Store) Schema(name string) (Schema, error) {
	st, ok := s.strategies[name]
	if !ok {
		return nil, fmt.Errorf("options: unknown strategy %q", name)
	}
	return st.schema, nil
}

// Options returns the strategy name and a defensive copy of its current
// values; callers cannot mutate the store through the result
func (s *Store) Options(name string) (string, map[string]Value, error) {
	st, ok := s.strategies[name]
	if !ok {
		return "", nil, fmt.Errorf("options: unknown strategy %q", name)
	}
	out := make(map[string]Value, len(st.values))
	for k, v := range st.values {
		out[k] = v.clone()
	}
	return name, out, nil
}

// SetOption parses rawText per the key's kind and stores the result.  Parse
// failures and bound violations reject the edit atomically: the previous
// value is kept and a *ValidationError returned.
func (s *Store) SetOption(strategyName, key, rawText string) error {
	st, ok := s.strategies[strategyName]
	if !ok {
		return fmt.Errorf("options: unknown strategy %q", strategyName)
	}
	spec, ok := st.schema[key]
	if !ok {
		return fmt.Errorf("options: unknown option %s.%s", strategyName, key)
	}
	reject := func(reason string) error {
		return &ValidationError{Strategy: strategyName, Key: key, Raw: rawText, Reason: reason}
	}

	text := strings.TrimSpace(rawText)
	switch spec.Kind {
	case Int:
		i, err := strconv.Atoi(text)
		if err != nil {
			return reject("not an integer")
		}
		if bad := spec.outOfBounds(float64(i)); bad != "" {
			return reject(bad)
		}
		st.values[key] = IntValue(i)
	case Float:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return reject("not a number")
		}
		if bad := spec.outOfBounds(f); bad != "" {
			return reject(bad)
		}
		st.values[key] = FloatValue(f)
	case FloatList:
		parts := strings.Split(text, ",")
		list := make([]float64, 0, len(parts))
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" && len(parts) == 1 {
				break // empty text is an empty list
			}
			f, err := strconv.ParseFloat(part, 64)
			if err != nil {
				return reject(fmt.Sprintf("element %q is not a number", part))
			}
			if bad := spec.outOfBounds(f); bad != "" {
				return reject(fmt.Sprintf("element %q %s", part, bad))
			}
			list = append(list, f)
		}
		st.values[key] = Value{Kind: FloatList, List: list}
	default:
		return reject("unknown kind")
	}
	return nil
}

func (sp Spec) outOfBounds(v float64) string {
	if sp.Min != nil && v < *sp.Min {
		return fmt.Sprintf("below minimum %g", *sp.Min)
	}
	if sp.Max != nil && v > *sp.Max {
		return fmt.Sprintf("above maximum %g", *sp.Max)
	}
	return ""
}

// Snapshot returns a plain-data rendering of a strategy's values for
// persistence: ints, floats, and []float64 keyed by option name
func (s *Store) Snapshot(name string) (map[string]interface{}, error) {
	st, ok := s.strategies[name]
	if !ok {
		return nil, fmt.Errorf("options: unknown strategy %q", name)
	}
	out := make(map[string]interface{}, len(st.values))
	for k, v := range st.values {
		switch v.Kind {
		case Int:
			out[k] = v.Int
		case Float:
			out[k] = v.Float
		case FloatList:
			// never nil, so the list renders as [] in JSON, not null
			out[k] = append([]float64{}, v.List...)
		}
	}
	return out, nil
}

// LoadValues merges a persisted plain-data document into a strategy.  Keys
// that are unknown, fail coercion, or violate the schema bounds are skipped
// and reported; valid keys are applied.  This keeps a stale or hand-edited
// persisted document from wedging the session.
func (s *Store) LoadValues(name string, doc map[string]interface{}) []error {
	st, ok := s.strategies[name]
	if !ok {
		return []error{fmt.Errorf("options: unknown strategy %q", name)}
	}
	var errs []error
	for key, raw := range doc {
		spec, ok := st.schema[key]
		if !ok {
			errs = append(errs, fmt.Errorf("options: %s.%s not in schema, ignored", name, key))
			continue
		}
		v, err := coerce(spec, raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("options: %s.%s: %w", name, key, err))
			continue
		}
		st.values[key] = v
	}
	return errs
}

// coerce validates a plain-data value against a spec, applying the same
// bounds the interactive editor enforces
func coerce(spec Spec, raw interface{}) (Value, error) {
	switch spec.Kind {
	case Int:
		switch x := raw.(type) {
		case int:
			if bad := spec.outOfBounds(float64(x)); bad != "" {
				return Value{}, fmt.Errorf("%d %s", x, bad)
			}
			return IntValue(x), nil
		case float64:
			if x != float64(int(x)) {
				return Value{}, fmt.Errorf("%v is not an integer", x)
			}
			if bad := spec.outOfBounds(x); bad != "" {
				return Value{}, fmt.Errorf("%v %s", x, bad)
			}
			return IntValue(int(x)), nil
		}
	case Float:
		switch x := raw.(type) {
		case int:
			if bad := spec.outOfBounds(float64(x)); bad != "" {
				return Value{}, fmt.Errorf("%d %s", x, bad)
			}
			return FloatValue(float64(x)), nil
		case float64:
			if bad := spec.outOfBounds(x); bad != "" {
				return Value{}, fmt.Errorf("%v %s", x, bad)
			}
			return FloatValue(x), nil
		}
	case FloatList:
		switch x := raw.(type) {
		case nil:
			// JSON renders a nil list as null
			return ListValue(), nil
		case []float64:
			for _, f := range x {
				if bad := spec.outOfBounds(f); bad != "" {
					return Value{}, fmt.Errorf("element %v %s", f, bad)
				}
			}
			return ListValue(x...), nil
		case []interface{}:
			list := make([]float64, 0, len(x))
			for _, el := range x {
				f, ok := el.(float64)
				if !ok {
					return Value{}, fmt.Errorf("element %v is not a number", el)
				}
				if bad := spec.outOfBounds(f); bad != "" {
					return Value{}, fmt.Errorf("element %v %s", f, bad)
				}
				list = append(list, f)
			}
			return ListValue(list...), nil
		}
	}
	return Value{}, fmt.Errorf("cannot coerce %T to %s", raw, spec.Kind)
}
