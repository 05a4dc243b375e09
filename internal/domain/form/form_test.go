package form_test

import (
	"reflect"
	"testing"

	"github.com/formpilot/formpilot/internal/domain/form"
)

const doc = `{
	"code": "intake",
	"version": "v2",
	"title": "Patient Intake",
	"fields": [
		{"id": "name", "label": "Full name", "type": "text", "section": "Identity", "required": true},
		{"id": "age", "label": "Age", "type": "number", "section": "Identity"},
		{"id": "symptoms", "label": "Symptoms", "type": "text", "section": "Medical", "multiline": true, "allow_na": true}
	]
}`

func TestDecode(t *testing.T) {
	f, err := form.Decode([]byte(doc))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Code != "intake" || f.Version != "v2" || len(f.Fields) != 3 {
		t.Fatalf("form = %+v", f)
	}
	if !f.Fields[2].Multiline || !f.Fields[2].AllowNA {
		t.Fatalf("field flags lost: %+v", f.Fields[2])
	}
}

func TestDecodeRejectsEmptyForms(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"no fields", `{"code": "x", "version": "v1", "fields": []}`},
		{"missing fields", `{"code": "x", "version": "v1"}`},
		{"not json", `{{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := form.Decode([]byte(tt.doc)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestProjections(t *testing.T) {
	f, err := form.Decode([]byte(doc))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got := f.FieldIDs(); !reflect.DeepEqual(got, []string{"name", "age", "symptoms"}) {
		t.Fatalf("field IDs = %v", got)
	}
	if got := f.SectionNames(); !reflect.DeepEqual(got, []string{"Identity", "Medical"}) {
		t.Fatalf("sections = %v", got)
	}
}

func TestHasField(t *testing.T) {
	f, err := form.Decode([]byte(doc))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if !f.HasField("name") || !f.HasField("NAME") || !f.HasField("Symptoms") {
		t.Fatal("declared fields not found")
	}
	if f.HasField("favorite_color") {
		t.Fatal("unknown field reported present")
	}
}
