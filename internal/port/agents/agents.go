// Package agents defines the port interfaces for the AI capabilities.
// Each capability is a possibly-flaky structured-judgment function; retry
// and degradation policy lives in the service harness, not here and not
// in the adapters.
package agents

import (
	"context"

	"github.com/formpilot/formpilot/internal/domain/dialog"
	"github.com/formpilot/formpilot/internal/domain/field"
	"github.com/formpilot/formpilot/internal/domain/form"
)

// Classifier judges the structure of the latest user message. The dialog
// tail includes the last assistant turn so a bare one-word reply is only
// read as a value when a question preceded it.
type Classifier interface {
	Classify(ctx context.Context, dialogTail []string, formContext string, fieldIDs, sectionNames []string) (dialog.Classification, error)
}

// Extractor produces zero or more new or changed field values from the
// recent dialog. bulkHint signals a dense initial data dump.
type Extractor interface {
	Extract(ctx context.Context, dialogTail []string, f *form.Form, existing field.Store, bulkHint bool) ([]field.Value, error)
}

// Validator checks newly extracted values against the form's rules.
// Recheck is the self-validation pass that reviews a first-pass result
// and discards findings the capability invented.
type Validator interface {
	Validate(ctx context.Context, message string, f *form.Form, existing field.Store, newValues []field.Value) (dialog.ValidationResult, error)
	Recheck(ctx context.Context, f *form.Form, newValues []field.Value, first dialog.ValidationResult) (dialog.ValidationResult, error)
}

// Responder produces the next conversational turn from full context.
type Responder interface {
	Respond(ctx context.Context, history []string, f *form.Form, fields field.Store, newValues []field.Value, validation dialog.ValidationResult, focusField string) (dialog.Reply, error)
}

// Redirector produces an encouraging redirect when the user is off task.
type Redirector interface {
	Redirect(ctx context.Context, f *form.Form, fields field.Store, focusField string, distraction bool) (dialog.RedirectReply, error)
}
