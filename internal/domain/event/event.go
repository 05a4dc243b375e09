// Package event defines the envelope delivered to a session's
// orchestration instance and the payload shape of each event type.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/formpilot/formpilot/internal/domain/field"
)

// Type identifies the kind of external signal.
type Type string

const (
	TypeMessage      Type = "message"
	TypeFormAction   Type = "form_action"
	TypeTokenUpdate  Type = "token_update"
	TypeInvalidInput Type = "invalid_input"
)

// Envelope is the unit of signal delivered to the orchestrator. The ID is
// assigned at the boundary so replayed deliveries of the same envelope can
// be deduplicated by the entity store. OccurredAt is captured at the
// boundary too; the orchestration loop never reads the wall clock.
type Envelope struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id"`
	Type       Type            `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// MessagePayload carries transcript lines and, optionally, newly
// confirmed field completions from one processed chat turn.
type MessagePayload struct {
	Messages         []string      `json:"messages"`
	FieldCompletions []field.Value `json:"field_completions,omitempty"`
}

// FormActionPayload carries explicit field updates that bypass the
// extraction pipeline, plus their transcript annotations.
type FormActionPayload struct {
	NewFieldValues []field.Value `json:"new_field_values"`
	Messages       []string      `json:"messages,omitempty"`
}

// TokenUpdatePayload replaces the session's access token.
type TokenUpdatePayload struct {
	Token      string    `json:"token"`
	Expiration time.Time `json:"expiration"`
}

// InvalidInputPayload records a rejected or off-task message for
// observability. It never mutates the field store.
type InvalidInputPayload struct {
	Messages []string `json:"messages"`
}

// New builds an envelope with a marshaled payload.
func New(id, sessionID string, typ Type, payload any, occurredAt time.Time) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Envelope{
		ID:         id,
		SessionID:  sessionID,
		Type:       typ,
		Payload:    data,
		OccurredAt: occurredAt,
	}, nil
}

// DecodePayload unmarshals the envelope payload into dst.
func (e Envelope) DecodePayload(dst any) error {
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}
