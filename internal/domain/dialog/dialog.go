// Package dialog defines the typed contracts of the AI capabilities.
// The core depends only on these shapes, never on prompt text.
package dialog

import "github.com/formpilot/formpilot/internal/domain/field"

// Classification is the structural judgment of one inbound message.
// The four booleans are independent; a message may both ask a question
// and carry field values.
type Classification struct {
	ContainsQuestion    bool `json:"contains_question"`
	ContainsRequest     bool `json:"contains_request"`
	ContainsDistraction bool `json:"contains_distraction"`
	ContainsValues      bool `json:"contains_values"`
}

// Concern is one validation finding tied to a field.
type Concern struct {
	FieldID string `json:"field_id"`
	Concern string `json:"concern"`
}

// ValidationResult categorizes validator findings.
type ValidationResult struct {
	Errors   []Concern `json:"errors,omitempty"`
	Warnings []Concern `json:"warnings,omitempty"`
}

// Empty reports whether the validator found nothing.
func (v ValidationResult) Empty() bool {
	return len(v.Errors) == 0 && len(v.Warnings) == 0
}

// Reply is the responder's structured multi-part answer.
type Reply struct {
	QuestionResponse   string       `json:"question_response,omitempty"`
	AcknowledgeInputs  string       `json:"acknowledge_inputs,omitempty"`
	ValidationConcerns string       `json:"validation_concerns,omitempty"`
	FinalThoughts      string       `json:"final_thoughts,omitempty"`
	FieldFocus         string       `json:"field_focus,omitempty"`
	DraftedField       *field.Value `json:"drafted_field,omitempty"`
}

// RedirectReply is the redirect responder's answer for off-task messages.
type RedirectReply struct {
	FinalThoughts string `json:"final_thoughts,omitempty"`
	FieldFocus    string `json:"field_focus,omitempty"`
}
