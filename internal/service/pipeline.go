package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/formpilot/formpilot/internal/domain/dialog"
	"github.com/formpilot/formpilot/internal/domain/event"
	"github.com/formpilot/formpilot/internal/domain/field"
	"github.com/formpilot/formpilot/internal/domain/form"
	"github.com/formpilot/formpilot/internal/domain/transcript"
	"github.com/formpilot/formpilot/internal/port/messagequeue"
	"github.com/formpilot/formpilot/internal/port/sessionstore"
)

// Statuses returned to the caller of HandleMessage.
const (
	StatusFieldsUpdated = "fields_updated"
	StatusOK            = "ok"
	StatusNextAction    = "next_action"
	StatusDistraction   = "distraction_detected"
)

// Commands recognized at the start of a message body.
const (
	CommandInit = "init"
	CommandNext = "next"
)

// classifierTailLines is how much transcript the classifier sees. Two
// prior lines are enough to tell whether the last assistant turn asked a
// question, which decides whether a one-word reply counts as a value.
const classifierTailLines = 2

// extractorTailLines is the dialog window handed to the extractor.
const extractorTailLines = 5

// MessageResult is the structured response of one processed chat turn.
type MessageResult struct {
	Status             string                  `json:"status"`
	SessionID          string                  `json:"session_id"`
	NewFieldValues     []field.Value           `json:"new_field_values,omitempty"`
	Validation         dialog.ValidationResult `json:"validation,omitzero"`
	QuestionResponse   string                  `json:"question_response,omitempty"`
	AcknowledgeInputs  string                  `json:"acknowledge_inputs,omitempty"`
	ValidationConcerns string                  `json:"validation_concerns,omitempty"`
	FinalThoughts      string                  `json:"final_thoughts,omitempty"`
	FieldFocus         string                  `json:"field_focus,omitempty"`
}

// PipelineService runs the per-message request pipeline. It reads session
// state directly but never mutates it: every mutation leaves here as an
// event envelope published to the session's subject, so ordering stays
// with the per-session orchestration loop.
type PipelineService struct {
	lifecycle *LifecycleService
	forms     *FormLoaderService
	agents    *AgentHarness
	store     sessionstore.Store
	queue     messagequeue.Queue
	now       func() time.Time
	newID     func() string
}

// NewPipelineService creates the pipeline.
func NewPipelineService(lifecycle *LifecycleService, forms *FormLoaderService, agents *AgentHarness, store sessionstore.Store, queue messagequeue.Queue) *PipelineService {
	return &PipelineService{
		lifecycle: lifecycle,
		forms:     forms,
		agents:    agents,
		store:     store,
		queue:     queue,
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
	}
}

// HandleMessage processes one inbound chat message for the session.
// A terminal session returns *GoneError with the successor ID; a missing
// session or form returns domain.ErrNotFound.
func (p *PipelineService) HandleMessage(ctx context.Context, sessionID, raw string) (*MessageResult, error) {
	command, body := parseCommand(raw)

	sess, err := p.lifecycle.Resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	f, err := p.forms.Load(ctx, sess.FormCode, sess.Version)
	if err != nil {
		return nil, err
	}

	history, err := p.store.GetHistory(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	fields, err := p.store.GetFields(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("load fields: %w", err)
	}

	// An empty body or an explicit advance never needs classification;
	// it always proceeds straight to the next conversational turn.
	jump := body == "" || command == CommandNext

	var cls dialog.Classification
	switch {
	case jump:
		// neutral
	case command == CommandInit:
		// A known bulk dump skips the classifier call entirely.
		cls = dialog.Classification{ContainsValues: true}
	default:
		tail := append(transcript.Tail(history, classifierTailLines), transcript.UserLine(body))
		cls = p.agents.Classify(ctx, tail, f.Title, f.FieldIDs(), f.SectionNames())
	}

	if jump || cls.ContainsDistraction {
		return p.redirect(ctx, sess.ID, f, fields, command, body, cls.ContainsDistraction)
	}

	working := fields.Clone()
	var newValues []field.Value
	if cls.ContainsValues && body != "" {
		tail := transcript.Tail(append(history, transcript.UserLine(body)), extractorTailLines)
		extracted := p.agents.Extract(ctx, tail, f, fields, command == CommandInit)
		newValues = applyExtracted(working, f, extracted)
	}

	var validation dialog.ValidationResult
	if len(newValues) > 0 {
		validation = p.agents.Validate(ctx, body, f, fields, newValues)
	}

	fullHistory := append(history, transcript.UserLine(body))
	reply := p.agents.Respond(ctx, fullHistory, f, working, newValues, validation, "")

	if reply.DraftedField != nil {
		draft := *reply.DraftedField
		draft.Drafted = true
		if f.HasField(draft.Name) {
			if changed := working.Merge([]field.Value{draft}); len(changed) > 0 {
				newValues = append(newValues, draft)
			}
		}
	}

	delta := []string{transcript.UserLine(body)}
	if reply.FinalThoughts != "" {
		delta = append(delta, transcript.AssistantLine(reply.FinalThoughts, reply.FieldFocus))
	}
	if len(newValues) > 0 {
		delta = append(delta, transcript.FormInputLine(valueNames(newValues)))
	}

	// One event per turn, carrying only the new completions.
	if err := p.publish(ctx, sess.ID, event.TypeMessage, event.MessagePayload{
		Messages:         delta,
		FieldCompletions: newValues,
	}); err != nil {
		return nil, err
	}

	status := StatusOK
	if len(newValues) > 0 {
		status = StatusFieldsUpdated
	}
	return &MessageResult{
		Status:             status,
		SessionID:          sess.ID,
		NewFieldValues:     newValues,
		Validation:         validation,
		QuestionResponse:   reply.QuestionResponse,
		AcknowledgeInputs:  reply.AcknowledgeInputs,
		ValidationConcerns: reply.ValidationConcerns,
		FinalThoughts:      reply.FinalThoughts,
		FieldFocus:         reply.FieldFocus,
	}, nil
}

// redirect handles the off-task and advance branch. Extraction and
// validation never run here.
func (p *PipelineService) redirect(ctx context.Context, sessionID string, f *form.Form, fields field.Store, command, body string, distraction bool) (*MessageResult, error) {
	// A plain "/next" is not worth recording as invalid input.
	if command != CommandNext {
		var msgs []string
		if body != "" {
			msgs = []string{transcript.UserLine(body)}
		}
		if err := p.publish(ctx, sessionID, event.TypeInvalidInput, event.InvalidInputPayload{Messages: msgs}); err != nil {
			return nil, err
		}
	}

	reply := p.agents.Redirect(ctx, f, fields, "", distraction)

	if reply.FinalThoughts != "" {
		if err := p.publish(ctx, sessionID, event.TypeMessage, event.MessagePayload{
			Messages: []string{transcript.AssistantLine(reply.FinalThoughts, reply.FieldFocus)},
		}); err != nil {
			return nil, err
		}
	}

	status := StatusDistraction
	if command == CommandNext {
		status = StatusNextAction
	}
	return &MessageResult{
		Status:        status,
		SessionID:     sessionID,
		FinalThoughts: reply.FinalThoughts,
		FieldFocus:    reply.FieldFocus,
	}, nil
}

// publish wraps payload in an envelope and sends it to the session's
// subject. ID and timestamp are assigned here, outside the replayed loop.
func (p *PipelineService) publish(ctx context.Context, sessionID string, typ event.Type, payload any) error {
	env, err := event.New(p.newID(), sessionID, typ, payload, p.now())
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := p.queue.Publish(ctx, messagequeue.SessionSubject(sessionID), data); err != nil {
		return fmt.Errorf("publish %s event: %w", typ, err)
	}
	return nil
}

// applyExtracted merges extracted values into working, dropping names the
// form does not define and values identical to what is already stored.
// It returns the values that actually changed something.
func applyExtracted(working field.Store, f *form.Form, extracted []field.Value) []field.Value {
	var kept []field.Value
	for _, v := range extracted {
		if !f.HasField(v.Name) {
			slog.Debug("extractor produced unknown field", "name", v.Name)
			continue
		}
		if changed := working.Merge([]field.Value{v}); len(changed) > 0 {
			kept = append(kept, v)
		}
	}
	return kept
}

func valueNames(values []field.Value) []string {
	names := make([]string, 0, len(values))
	for _, v := range values {
		names = append(names, v.Name)
	}
	return names
}

// parseCommand splits a recognized leading "/command" token from the raw
// message. Matching is exact and case sensitive; any other leading slash
// word is ordinary message text and stays in the body untouched.
func parseCommand(raw string) (command, body string) {
	body = strings.TrimSpace(raw)
	if !strings.HasPrefix(body, "/") {
		return "", body
	}
	token := body
	rest := ""
	if idx := strings.IndexAny(body, " \t\n"); idx >= 0 {
		token, rest = body[:idx], body[idx+1:]
	}
	switch token {
	case "/" + CommandInit, "/" + CommandNext:
		return strings.TrimPrefix(token, "/"), strings.TrimSpace(rest)
	}
	return "", body
}
