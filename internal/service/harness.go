package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/formpilot/formpilot/internal/adapter/otel"
	"github.com/formpilot/formpilot/internal/config"
	"github.com/formpilot/formpilot/internal/domain/dialog"
	"github.com/formpilot/formpilot/internal/domain/field"
	"github.com/formpilot/formpilot/internal/domain/form"
	"github.com/formpilot/formpilot/internal/port/agents"
)

// Bulk-completion heuristic: a long first message that yields only a
// couple of fields is suspicious, so extraction is retried and results
// aggregated until either enough fields accumulate or the extra
// attempts run out.
const (
	bulkMinFields = 3
	bulkLongInput = 200 // total dialog characters
)

// AgentHarness wraps the raw AI capabilities with bounded retry,
// aggregation, and graceful degradation. Exhausted retries produce a
// neutral result, never an error: AI flakiness is invisible to callers.
type AgentHarness struct {
	classifier agents.Classifier
	extractor  agents.Extractor
	validator  agents.Validator
	responder  agents.Responder
	redirector agents.Redirector
	cfg        config.Agents
	metrics    *otel.Metrics
	now        func() time.Time
}

// NewAgentHarness creates the harness around the given capabilities.
func NewAgentHarness(cl agents.Classifier, ex agents.Extractor, va agents.Validator, re agents.Responder, rd agents.Redirector, cfg config.Agents, metrics *otel.Metrics) *AgentHarness {
	return &AgentHarness{
		classifier: cl,
		extractor:  ex,
		validator:  va,
		responder:  re,
		redirector: rd,
		cfg:        cfg,
		metrics:    metrics,
		now:        time.Now,
	}
}

// Classify judges the message, degrading to the neutral classification
// (all false) when every attempt fails.
func (h *AgentHarness) Classify(ctx context.Context, dialogTail []string, formContext string, fieldIDs, sectionNames []string) dialog.Classification {
	var out dialog.Classification
	err := h.attempt(ctx, "classify", h.cfg.ClassifierAttempts, func(ctx context.Context) error {
		c, err := h.classifier.Classify(ctx, dialogTail, formContext, fieldIDs, sectionNames)
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		slog.Warn("classifier degraded to neutral", "error", err)
		return dialog.Classification{}
	}
	return out
}

// Extract runs the extractor with retry and, under the bulk hint,
// keeps retrying while the aggregate stays implausibly small for a
// long input. Results from all attempts merge last-write-wins.
func (h *AgentHarness) Extract(ctx context.Context, dialogTail []string, f *form.Form, existing field.Store, bulkHint bool) []field.Value {
	agg := make(field.Store)

	runOnce := func(ctx context.Context) error {
		values, err := h.extractor.Extract(ctx, dialogTail, f, existing, bulkHint)
		if err != nil {
			return err
		}
		for _, v := range values {
			agg.Set(v)
		}
		return nil
	}

	if err := h.attempt(ctx, "extract", h.cfg.ExtractorAttempts, runOnce); err != nil {
		slog.Warn("extractor degraded to empty", "error", err)
		return nil
	}

	if bulkHint && inputLength(dialogTail) >= bulkLongInput {
		for extra := 0; extra < h.cfg.BulkExtraAttempts && len(agg) < bulkMinFields; extra++ {
			if err := runOnce(ctx); err != nil {
				slog.Debug("bulk extraction extra attempt failed", "error", err)
				break
			}
		}
	}

	if len(agg) > 0 && h.metrics != nil {
		h.metrics.Extractions.Add(ctx, int64(len(agg)))
	}
	return agg.Values()
}

// Validate runs the validator then its self-check pass, which exists to
// discard findings the first pass invented. Either pass failing degrades
// to whatever survived so far.
func (h *AgentHarness) Validate(ctx context.Context, message string, f *form.Form, existing field.Store, newValues []field.Value) dialog.ValidationResult {
	var first dialog.ValidationResult
	err := h.attempt(ctx, "validate", h.cfg.ValidatorAttempts, func(ctx context.Context) error {
		r, err := h.validator.Validate(ctx, message, f, existing, newValues)
		if err != nil {
			return err
		}
		first = r
		return nil
	})
	if err != nil {
		slog.Warn("validator degraded to empty", "error", err)
		return dialog.ValidationResult{}
	}
	if first.Empty() {
		return first
	}

	var checked dialog.ValidationResult
	err = h.attempt(ctx, "recheck", h.cfg.ValidatorAttempts, func(ctx context.Context) error {
		r, err := h.validator.Recheck(ctx, f, newValues, first)
		if err != nil {
			return err
		}
		checked = r
		return nil
	})
	if err != nil {
		slog.Warn("validator self-check degraded, keeping first pass", "error", err)
		return first
	}
	return checked
}

// Respond produces the next turn, degrading to an empty reply.
func (h *AgentHarness) Respond(ctx context.Context, history []string, f *form.Form, fields field.Store, newValues []field.Value, validation dialog.ValidationResult, focusField string) dialog.Reply {
	var out dialog.Reply
	err := h.attempt(ctx, "respond", h.cfg.ResponderAttempts, func(ctx context.Context) error {
		r, err := h.responder.Respond(ctx, history, f, fields, newValues, validation, focusField)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		slog.Warn("responder degraded to empty reply", "error", err)
		return dialog.Reply{}
	}
	return out
}

// Redirect produces the off-task nudge, degrading to an empty reply.
func (h *AgentHarness) Redirect(ctx context.Context, f *form.Form, fields field.Store, focusField string, distraction bool) dialog.RedirectReply {
	var out dialog.RedirectReply
	err := h.attempt(ctx, "redirect", h.cfg.RedirectAttempts, func(ctx context.Context) error {
		r, err := h.redirector.Redirect(ctx, f, fields, focusField, distraction)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		slog.Warn("redirect responder degraded to empty reply", "error", err)
		return dialog.RedirectReply{}
	}
	return out
}

// attempt runs fn up to attempts times with a constant delay, recording
// the total call duration.
func (h *AgentHarness) attempt(ctx context.Context, name string, attempts int, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	ctx, span := otel.StartCapabilitySpan(ctx, name)
	defer span.End()

	start := h.now()
	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewConstant(h.cfg.RetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if h.metrics != nil {
		h.metrics.AICallDuration.Record(ctx, h.now().Sub(start).Seconds(),
			metric.WithAttributes(attribute.String("capability", name)))
	}
	return err
}

func inputLength(lines []string) int {
	total := 0
	for _, l := range lines {
		total += len(l)
	}
	return total
}
