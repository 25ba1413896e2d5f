// Package claims models a decoded claim set: the JSON object carried in a
// token payload or returned by the userinfo and introspection endpoints.
package claims

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Set maps claim names to JSON-typed values (string, float64, bool, nil,
// []any, map[string]any, json.Number).
type Set map[string]any

// Get returns the top-level claim name and whether it was present.
func (s Set) Get(name string) (any, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s[name]
	return v, ok
}

// String returns the claim as text. Non-string scalars are formatted; absent
// claims and nested values report false.
func (s Set) String(name string) (string, bool) {
	v, ok := s.Get(name)
	if !ok || v == nil {
		return "", false
	}
	return scalarString(v)
}

// Lookup walks path through nested objects. The second result is false as soon
// as a segment is missing or the value at that point is not an object.
func (s Set) Lookup(path []string) (any, bool) {
	if s == nil {
		return nil, false
	}
	return lookup(map[string]any(s), path)
}

func lookup(node any, path []string) (any, bool) {
	if len(path) == 0 {
		return node, true
	}
	var obj map[string]any
	switch v := node.(type) {
	case map[string]any:
		obj = v
	case Set:
		obj = v
	default:
		return nil, false
	}
	next, ok := obj[path[0]]
	if !ok {
		return nil, false
	}
	return lookup(next, path[1:])
}

// Strings returns the value at path as a list of strings. A missing path or a
// value that is not a list yields nil. Non-string elements are skipped.
func (s Set) Strings(path []string) []string {
	v, ok := s.Lookup(path)
	if !ok {
		return nil
	}
	var out []string
	switch list := v.(type) {
	case []string:
		out = append(out, list...)
	case []any:
		for _, e := range list {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
	}
	return out
}

// Clone returns a deep copy.
func (s Set) Clone() Set {
	if s == nil {
		return nil
	}
	out := make(Set, len(s))
	for k, v := range s {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		l := make([]any, len(t))
		for i, e := range t {
			l[i] = cloneValue(e)
		}
		return l
	default:
		return v
	}
}

// Decode unmarshals the set into ref, which should be a pointer to a struct
// with json tags.
func (s Set) Decode(ref any) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal claims: %w", err)
	}
	if err := json.Unmarshal(b, ref); err != nil {
		return fmt.Errorf("unmarshal claims: %w", err)
	}
	return nil
}

// SplitPath turns a dotted path like "resource_access.account.roles" into its
// segments. Empty segments are dropped.
func SplitPath(dotted string) []string {
	var out []string
	for _, seg := range strings.Split(dotted, ".") {
		if seg = strings.TrimSpace(seg); seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t)), true
		}
		return fmt.Sprintf("%g", t), true
	case bool, int, int64:
		return fmt.Sprint(t), true
	default:
		return "", false
	}
}
