package claims

import (
	"encoding/json"
	"reflect"
	"testing"
)

func fixture(t *testing.T) Set {
	t.Helper()
	var s Set
	raw := `{
		"preferred_username": "ZOIDBERG",
		"age": 42,
		"resource_access": {"account": {"roles": ["view-profile", 7, "manage-account"]}},
		"realm_access": {"roles": "not-a-list"}
	}`
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
	return s
}

func TestLookup(t *testing.T) {
	s := fixture(t)
	tests := []struct {
		name  string
		path  string
		found bool
	}{
		{"top level", "preferred_username", true},
		{"nested", "resource_access.account.roles", true},
		{"missing leaf", "resource_access.account.groups", false},
		{"missing branch", "resource_access.broker.roles", false},
		{"through scalar", "preferred_username.x", false},
		{"empty path returns root", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := s.Lookup(SplitPath(tt.path))
			if ok != tt.found {
				t.Fatalf("Lookup(%q) found=%v, want %v", tt.path, ok, tt.found)
			}
		})
	}
}

func TestStrings(t *testing.T) {
	s := fixture(t)
	got := s.Strings(SplitPath("resource_access.account.roles"))
	want := []string{"view-profile", "manage-account"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Strings mismatch: got %v want %v", got, want)
	}
	if got := s.Strings(SplitPath("realm_access.roles")); got != nil {
		t.Fatalf("non-list value should yield nil, got %v", got)
	}
	var nilSet Set
	if got := nilSet.Strings([]string{"a"}); got != nil {
		t.Fatalf("nil set should yield nil, got %v", got)
	}
}

func TestString(t *testing.T) {
	s := fixture(t)
	if v, ok := s.String("preferred_username"); !ok || v != "ZOIDBERG" {
		t.Fatalf("String(preferred_username) = %q, %v", v, ok)
	}
	if v, ok := s.String("age"); !ok || v != "42" {
		t.Fatalf("String(age) = %q, %v", v, ok)
	}
	if _, ok := s.String("resource_access"); ok {
		t.Fatal("object claims should not convert to string")
	}
	if _, ok := s.String("nope"); ok {
		t.Fatal("absent claim reported present")
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := fixture(t)
	c := s.Clone()
	c["resource_access"].(map[string]any)["account"].(map[string]any)["roles"] = []any{}
	if got := s.Strings(SplitPath("resource_access.account.roles")); len(got) != 2 {
		t.Fatalf("clone mutated original: %v", got)
	}
}

func TestDecode(t *testing.T) {
	s := fixture(t)
	var out struct {
		Username string `json:"preferred_username"`
		Age      int    `json:"age"`
	}
	if err := s.Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Username != "ZOIDBERG" || out.Age != 42 {
		t.Fatalf("decode mismatch: %+v", out)
	}
}
