package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/adpilot-ai/adpilot/pkg/model"
	"github.com/adpilot-ai/adpilot/pkg/turn"
)

// Canned replies. Error replies never surface raw internal errors; the turn
// error taxonomy picks the template and details fill the blanks.
const (
	replyCancelled = "Okay, I won't do that. Nothing was changed and no credits were charged. Anything else I can help with?"
	replyFallback  = "I can help you generate ad creatives, pull performance reports, manage campaigns, build landing pages, or look at market insights. What would you like to do?"

	replyServiceUnavailable = "That service is temporarily unavailable and the operation did not run. Your credits were not charged. Please try again in a few minutes."
	replyTimeout            = "The operation took too long and was stopped. Your credits were not charged. Please try again."
	replyRateLimited        = "We're handling a lot of requests right now. Please wait a moment and try again."
	replyUnexpected         = "Something went wrong on our side and the operation did not complete. Please try again."
)

// Responder turns a finished state into the assistant's reply. Result
// summaries go through the model; every other path is a template so a model
// outage can never leave the user without an answer.
type Responder struct {
	gen *model.Classifier
	log *slog.Logger
}

// NewResponder creates a responder. gen may be nil, in which case result
// summaries fall back to plain text.
func NewResponder(gen *model.Classifier, log *slog.Logger) *Responder {
	if log == nil {
		log = slog.Default()
	}
	return &Responder{gen: gen, log: log}
}

// ErrorReply renders the canned template for a turn error.
func (r *Responder) ErrorReply(errInfo *turn.ErrorInfo) string {
	if errInfo == nil {
		return replyUnexpected
	}
	switch errInfo.Type {
	case turn.ErrInsufficientCredits:
		required := detailFloat(errInfo.Details, "required")
		available := detailFloat(errInfo.Details, "available")
		return fmt.Sprintf(
			"You don't have enough credits for this action. It needs %.1f credits but your balance is %.1f. Top up your account and try again.",
			required, available,
		)
	case turn.ErrServiceUnavailable:
		return replyServiceUnavailable
	case turn.ErrTimeout:
		return replyTimeout
	case turn.ErrRateLimited:
		return replyRateLimited
	case turn.ErrValidation:
		if errInfo.Message != "" {
			return "Something about that request didn't look right: " + errInfo.Message
		}
		return "Something about that request didn't look right. Could you rephrase it?"
	default:
		reply := replyUnexpected
		if refundFailed, _ := errInfo.Details["refund_failed"].(bool); refundFailed {
			reply += " A charge from the failed step may not have been reversed yet; it will be reconciled automatically."
		}
		return reply
	}
}

// Clarification returns the question the classifier asked for, or the
// generic fallback when none was recorded.
func (r *Responder) Clarification(st *turn.State) string {
	if q, ok := st.ExtractedParams["clarify_question"].(string); ok && strings.TrimSpace(q) != "" {
		return q
	}
	return replyFallback
}

// Summarize produces a natural-language reply describing the turn's action
// results. Model failures degrade to a plain-text summary.
func (r *Responder) Summarize(ctx context.Context, st *turn.State, results []turn.ActionResult) string {
	if len(results) == 0 {
		return replyFallback
	}
	if r.gen == nil {
		return plainSummary(results)
	}

	payload, err := json.Marshal(results)
	if err != nil {
		return plainSummary(results)
	}

	messages := []model.Message{
		{Role: "user", Content: fmt.Sprintf(
			"The user asked: %q\n\nThese actions completed:\n%s\n\nReply to the user.",
			st.LastUserMessage(), payload,
		)},
	}
	reply, err := r.gen.Generate(ctx, summarizeSystemPrompt, messages)
	if err != nil || strings.TrimSpace(reply) == "" {
		r.log.Warn("result summarization failed, using plain summary", "error", err)
		return plainSummary(results)
	}
	return reply
}

// Chat answers a general query directly through the model.
func (r *Responder) Chat(ctx context.Context, st *turn.State) string {
	if r.gen == nil {
		return replyFallback
	}
	reply, err := r.gen.Generate(ctx, chatSystemPrompt, []model.Message{
		{Role: "user", Content: st.LastUserMessage()},
	})
	if err != nil || strings.TrimSpace(reply) == "" {
		r.log.Warn("general query generation failed, using fallback", "error", err)
		return replyFallback
	}
	return reply
}

func plainSummary(results []turn.ActionResult) string {
	var b strings.Builder
	b.WriteString("Done. ")
	for i, res := range results {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(res.Summary())
	}
	b.WriteString(".")
	return b.String()
}

func detailFloat(details map[string]any, key string) float64 {
	switch v := details[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return 0
	}
}

const summarizeSystemPrompt = `You are an assistant for an ad-campaign management platform.
Summarize the completed actions for the user in one short, friendly paragraph.
Mention concrete outputs (image URLs, campaign IDs, report numbers) when present.
Answer in the language the user wrote in. Do not mention internal systems or JSON.`

const chatSystemPrompt = `You are an assistant for an ad-campaign management platform.
You help with ad creatives, performance reports, campaign management, landing pages, and market insights.
Answer briefly and helpfully, in the language the user wrote in.`
