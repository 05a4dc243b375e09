package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/formpilot/formpilot/internal/domain/dialog"
	"github.com/formpilot/formpilot/internal/domain/field"
	"github.com/formpilot/formpilot/internal/domain/form"
	"github.com/formpilot/formpilot/internal/domain/transcript"
)

// Classify judges the structure of the latest user message.
func (c *Client) Classify(ctx context.Context, dialogTail []string, formContext string, fieldIDs, sectionNames []string) (dialog.Classification, error) {
	system := `You judge the structure of the latest user message in a form-filling
conversation. Respond with a JSON object with exactly these boolean keys:
contains_question, contains_request, contains_distraction, contains_values.
A short answer counts as a value only when the preceding assistant turn
asked a question.`

	var b strings.Builder
	fmt.Fprintf(&b, "Form: %s\n", formContext)
	fmt.Fprintf(&b, "Field IDs: %s\n", strings.Join(fieldIDs, ", "))
	if len(sectionNames) > 0 {
		fmt.Fprintf(&b, "Sections: %s\n", strings.Join(sectionNames, ", "))
	}
	fmt.Fprintf(&b, "Recent dialog:\n%s\n", strings.Join(dialogTail, "\n"))
	fmt.Fprintf(&b, "Preceding assistant turn asked a question: %t\n",
		transcript.LastAssistantAskedQuestion(dialogTail))

	var out dialog.Classification
	if err := c.completeJSON(ctx, system, b.String(), &out); err != nil {
		return dialog.Classification{}, fmt.Errorf("classify: %w", err)
	}
	return out, nil
}

// extractionResponse is the wire shape of the extractor output.
type extractionResponse struct {
	Fields []field.Value `json:"fields"`
}

// Extract produces new or changed field values from the recent dialog.
func (c *Client) Extract(ctx context.Context, dialogTail []string, f *form.Form, existing field.Store, bulkHint bool) ([]field.Value, error) {
	system := `You extract form field values from a conversation. Respond with a JSON
object {"fields": [{"name", "value", "note", "inferred", "drafted"}]}.
Only include fields whose value is new or changed. Mark values you deduced
rather than read verbatim as inferred. Never invent values.`

	var b strings.Builder
	writeFormSchema(&b, f)
	writeExistingFields(&b, existing)
	if bulkHint {
		b.WriteString("The message likely contains many values at once; extract all of them.\n")
	}
	fmt.Fprintf(&b, "Recent dialog:\n%s\n", strings.Join(dialogTail, "\n"))

	var out extractionResponse
	if err := c.completeJSON(ctx, system, b.String(), &out); err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	return out.Fields, nil
}

// Validate checks newly extracted values against the form's rules.
func (c *Client) Validate(ctx context.Context, message string, f *form.Form, existing field.Store, newValues []field.Value) (dialog.ValidationResult, error) {
	system := `You validate form field values against the schema rules in each field's
note. Respond with a JSON object {"errors": [{"field_id","concern"}],
"warnings": [{"field_id","concern"}]}. Only report genuine rule
violations; doubts are warnings, not errors.`

	var b strings.Builder
	writeFormSchema(&b, f)
	writeExistingFields(&b, existing)
	b.WriteString("New values:\n")
	for _, v := range newValues {
		fmt.Fprintf(&b, "- %s = %q\n", v.Name, v.Value)
	}
	fmt.Fprintf(&b, "User message: %s\n", message)

	var out dialog.ValidationResult
	if err := c.completeJSON(ctx, system, b.String(), &out); err != nil {
		return dialog.ValidationResult{}, fmt.Errorf("validate: %w", err)
	}
	return out, nil
}

// Recheck asks the validator to discard spurious findings from a first pass.
func (c *Client) Recheck(ctx context.Context, f *form.Form, newValues []field.Value, first dialog.ValidationResult) (dialog.ValidationResult, error) {
	system := `You review validation findings for a form submission and discard any that
are not actually supported by the schema rules. Respond with the same JSON
shape, keeping only well-founded findings: {"errors": [...], "warnings": [...]}.`

	var b strings.Builder
	writeFormSchema(&b, f)
	b.WriteString("Submitted values:\n")
	for _, v := range newValues {
		fmt.Fprintf(&b, "- %s = %q\n", v.Name, v.Value)
	}
	b.WriteString("Findings to review:\n")
	for _, e := range first.Errors {
		fmt.Fprintf(&b, "- error %s: %s\n", e.FieldID, e.Concern)
	}
	for _, w := range first.Warnings {
		fmt.Fprintf(&b, "- warning %s: %s\n", w.FieldID, w.Concern)
	}

	var out dialog.ValidationResult
	if err := c.completeJSON(ctx, system, b.String(), &out); err != nil {
		return dialog.ValidationResult{}, fmt.Errorf("recheck: %w", err)
	}
	return out, nil
}

// Respond produces the next conversational turn.
func (c *Client) Respond(ctx context.Context, history []string, f *form.Form, fields field.Store, newValues []field.Value, validation dialog.ValidationResult, focusField string) (dialog.Reply, error) {
	system := `You are a helpful form-filling assistant. Given the conversation and the
current form state, respond with a JSON object with optional string keys
question_response, acknowledge_inputs, validation_concerns, final_thoughts,
field_focus, and an optional drafted_field object {"name","value","note"}.
final_thoughts should move the conversation toward the next empty field.`

	var b strings.Builder
	writeFormSchema(&b, f)
	writeExistingFields(&b, fields)
	if len(newValues) > 0 {
		b.WriteString("Values captured this turn:\n")
		for _, v := range newValues {
			fmt.Fprintf(&b, "- %s = %q\n", v.Name, v.Value)
		}
	}
	if !validation.Empty() {
		b.WriteString("Validation findings:\n")
		for _, e := range validation.Errors {
			fmt.Fprintf(&b, "- error %s: %s\n", e.FieldID, e.Concern)
		}
		for _, w := range validation.Warnings {
			fmt.Fprintf(&b, "- warning %s: %s\n", w.FieldID, w.Concern)
		}
	}
	if focusField != "" {
		fmt.Fprintf(&b, "Focus on field: %s\n", focusField)
	}
	fmt.Fprintf(&b, "Conversation:\n%s\n", strings.Join(history, "\n"))

	var out dialog.Reply
	if err := c.completeJSON(ctx, system, b.String(), &out); err != nil {
		return dialog.Reply{}, fmt.Errorf("respond: %w", err)
	}
	return out, nil
}

// Redirect produces an encouraging redirect when the user is off task.
func (c *Client) Redirect(ctx context.Context, f *form.Form, fields field.Store, focusField string, distraction bool) (dialog.RedirectReply, error) {
	system := `The user drifted away from filling their form. Respond with a JSON object
{"final_thoughts", "field_focus"}: a brief, encouraging nudge back to the
form and the next field worth asking about.`

	var b strings.Builder
	writeFormSchema(&b, f)
	writeExistingFields(&b, fields)
	if focusField != "" {
		fmt.Fprintf(&b, "Suggested focus: %s\n", focusField)
	}
	if !distraction {
		b.WriteString("The user simply asked to continue; skip any gentle scolding.\n")
	}

	var out dialog.RedirectReply
	if err := c.completeJSON(ctx, system, b.String(), &out); err != nil {
		return dialog.RedirectReply{}, fmt.Errorf("redirect: %w", err)
	}
	return out, nil
}

func writeFormSchema(b *strings.Builder, f *form.Form) {
	fmt.Fprintf(b, "Form %s (version %s):\n", f.Code, f.Version)
	for _, fld := range f.Fields {
		fmt.Fprintf(b, "- %s (%s, type=%s", fld.ID, fld.Label, fld.Type)
		if fld.Required {
			b.WriteString(", required")
		}
		if fld.AllowNA {
			b.WriteString(", N/A allowed")
		}
		if len(fld.Choices) > 0 {
			fmt.Fprintf(b, ", choices=[%s]", strings.Join(fld.Choices, "|"))
		}
		b.WriteString(")")
		if fld.Note != "" {
			fmt.Fprintf(b, " note: %s", fld.Note)
		}
		b.WriteString("\n")
	}
}

func writeExistingFields(b *strings.Builder, fields field.Store) {
	if len(fields) == 0 {
		b.WriteString("No fields completed yet.\n")
		return
	}
	b.WriteString("Completed fields:\n")
	for _, v := range fields.Values() {
		fmt.Fprintf(b, "- %s = %q\n", v.Name, v.Value)
	}
}
