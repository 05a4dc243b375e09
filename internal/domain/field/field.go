// Package field defines field values and the case-insensitive field store.
package field

import (
	"sort"
	"strings"
)

// Value is one stored field value with its provenance metadata.
type Value struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Note     string `json:"note,omitempty"`
	Inferred bool   `json:"inferred,omitempty"`
	Drafted  bool   `json:"drafted,omitempty"`
}

// Store maps lowercased field names to values. Keys are normalized on
// every write so that "Name" and "name" address the same entry.
type Store map[string]Value

// Key normalizes a field name for map addressing.
func Key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Get returns the value stored under name, case-insensitively.
func (s Store) Get(name string) (Value, bool) {
	v, ok := s[Key(name)]
	return v, ok
}

// Set stores v under its normalized name, replacing any prior entry.
func (s Store) Set(v Value) {
	s[Key(v.Name)] = v
}

// Merge applies updates last-write-wins and returns the names that changed.
func (s Store) Merge(updates []Value) []string {
	var changed []string
	for _, v := range updates {
		k := Key(v.Name)
		if prev, ok := s[k]; ok && prev == v {
			continue
		}
		s[k] = v
		changed = append(changed, v.Name)
	}
	return changed
}

// Names returns the stored field names in sorted order.
func (s Store) Names() []string {
	names := make([]string, 0, len(s))
	for _, v := range s {
		names = append(names, v.Name)
	}
	sort.Strings(names)
	return names
}

// Values returns all stored values ordered by name.
func (s Store) Values() []Value {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vals := make([]Value, 0, len(keys))
	for _, k := range keys {
		vals = append(vals, s[k])
	}
	return vals
}

// Clone returns an independent copy of the store.
func (s Store) Clone() Store {
	out := make(Store, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
