// Package form defines the versioned form schema loaded from the content store.
package form

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Field is one entry in a form schema. The Note carries free-text
// validation and business rules consumed by the extractor and validator
// capabilities, not by the core.
type Field struct {
	ID        string   `json:"id"`
	Label     string   `json:"label"`
	Type      string   `json:"type"`
	Section   string   `json:"section,omitempty"`
	Required  bool     `json:"required,omitempty"`
	Multiline bool     `json:"multiline,omitempty"`
	AllowNA   bool     `json:"allow_na,omitempty"`
	Choices   []string `json:"choices,omitempty"`
	Note      string   `json:"note,omitempty"`
}

// Form is an immutable, versioned field schema.
type Form struct {
	Code    string  `json:"code"`
	Version string  `json:"version"`
	Title   string  `json:"title,omitempty"`
	Fields  []Field `json:"fields"`
}

// Decode parses a form document fetched from the content store.
func Decode(data []byte) (*Form, error) {
	var f Form
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode form: %w", err)
	}
	if len(f.Fields) == 0 {
		return nil, fmt.Errorf("decode form: no fields")
	}
	return &f, nil
}

// FieldIDs returns the flat ordered list of field IDs, used as classifier
// and extractor context.
func (f *Form) FieldIDs() []string {
	ids := make([]string, 0, len(f.Fields))
	for _, fld := range f.Fields {
		ids = append(ids, fld.ID)
	}
	return ids
}

// SectionNames returns the distinct section labels in schema order.
func (f *Form) SectionNames() []string {
	seen := make(map[string]bool, len(f.Fields))
	var names []string
	for _, fld := range f.Fields {
		if fld.Section == "" || seen[fld.Section] {
			continue
		}
		seen[fld.Section] = true
		names = append(names, fld.Section)
	}
	return names
}

// HasField reports whether id names a declared field, case-insensitively.
func (f *Form) HasField(id string) bool {
	for _, fld := range f.Fields {
		if strings.EqualFold(fld.ID, id) {
			return true
		}
	}
	return false
}
