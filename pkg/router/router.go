// Package router classifies a user message into an intent and a list of
// prioritized, costed actions, or downgrades to a clarification. Pure
// classification: it calls the structured-output model client and applies
// cost and confirmation policy, but never touches credit or persistence.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/adpilot-ai/adpilot/pkg/conversation"
	"github.com/adpilot-ai/adpilot/pkg/model"
	"github.com/adpilot-ai/adpilot/pkg/reliability"
	"github.com/adpilot-ai/adpilot/pkg/turn"
)

// ConfidenceThreshold is the classifier confidence below which routing
// always downgrades to clarification, regardless of parsed actions.
const ConfidenceThreshold = 0.6

// FallbackClarification is the canned prompt used when the classifier fails
// or returns no usable question.
const FallbackClarification = "I didn't quite catch that. Could you tell me more about what you'd like to do — generate creatives, check reports, manage campaigns, build a landing page, or look at market insights?"

// historyWindow bounds how much history is sent with each classification.
const historyWindow = 20

// Classification is the fixed output schema the model fills in.
type Classification struct {
	Intent               string             `json:"intent"`
	Confidence           float64            `json:"confidence"`
	Params               map[string]any     `json:"params,omitempty"`
	Actions              []ActionDescriptor `json:"actions,omitempty"`
	RequiresConfirmation bool               `json:"requires_confirmation,omitempty"`
	ClarifyQuestion      string             `json:"clarify_question,omitempty"`
}

// ActionDescriptor is one action the classifier extracted.
type ActionDescriptor struct {
	Type          string         `json:"type"`
	Module        string         `json:"module"`
	Params        map[string]any `json:"params,omitempty"`
	DependsOn     []int          `json:"depends_on,omitempty"`
	EstimatedCost float64        `json:"estimated_cost,omitempty"`
}

// Classifier is the structured-output client contract the router consumes.
type Classifier interface {
	Classify(ctx context.Context, systemPrompt string, messages []model.Message, out any) error
}

// Router turns a message into prioritized actions.
type Router struct {
	classifier Classifier
	retry      *reliability.Strategy
	log        *slog.Logger
}

// New builds a router. retry may be nil to use the default strategy; log may
// be nil to discard.
func New(classifier Classifier, retry *reliability.Strategy, log *slog.Logger) *Router {
	if retry == nil {
		retry = reliability.Default()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Router{classifier: classifier, retry: retry, log: log}
}

// Route classifies the latest user message against the conversation history
// and returns the state update for the turn: intent, params, pending actions,
// total estimated cost, and the confirmation flag. A failed or empty
// classification yields clarification_needed, never an error.
func (r *Router) Route(ctx context.Context, st *turn.State) *turn.Update {
	if r.classifier == nil {
		return clarificationUpdate(FallbackClarification)
	}
	msgs := historyForClassification(st.Messages)

	var cls Classification
	err := r.retry.Execute(ctx, func() error {
		cls = Classification{}
		return r.classifier.Classify(ctx, classifySystemPrompt, msgs, &cls)
	})
	if err != nil {
		r.log.Warn("classification failed, downgrading to clarification",
			"session_id", st.SessionID, "error", err)
		return clarificationUpdate(FallbackClarification)
	}

	if cls.Confidence < ConfidenceThreshold {
		return clarificationUpdate(cls.ClarifyQuestion)
	}

	intent := normalizeIntent(cls.Intent)
	if intent == turn.IntentClarificationNeeded {
		// The classifier itself asked; its question must survive to the reply.
		return clarificationUpdate(cls.ClarifyQuestion)
	}
	if intent == turn.IntentGeneralQuery {
		return &turn.Update{
			Intent:          turn.IntentPtr(intent),
			ExtractedParams: cls.Params,
			SetPending:      true,
		}
	}

	actions := buildActions(intent, cls)
	total := 0.0
	for _, a := range actions {
		total += a.EstimatedCost
	}

	confirm := cls.RequiresConfirmation || requiresConfirmation(actions)

	return &turn.Update{
		Intent:               turn.IntentPtr(intent),
		ExtractedParams:      cls.Params,
		SetPending:           true,
		PendingActions:       actions,
		EstimatedCost:        turn.Float(total),
		RequiresConfirmation: turn.Bool(confirm),
	}
}

func clarificationUpdate(question string) *turn.Update {
	question = strings.TrimSpace(question)
	if question == "" {
		question = FallbackClarification
	}
	return &turn.Update{
		Intent:          turn.IntentPtr(turn.IntentClarificationNeeded),
		SetPending:      true,
		ExtractedParams: map[string]any{"clarify_question": question},
	}
}

// buildActions converts descriptors into immutable action items, pricing
// each one. When the classifier returned no actions for an actionable
// intent, a single default action for the intent's module is synthesized.
func buildActions(intent turn.Intent, cls Classification) []turn.ActionItem {
	descriptors := cls.Actions
	if len(descriptors) == 0 {
		if module, ok := turn.ModuleForIntent(intent); ok {
			descriptors = []ActionDescriptor{{
				Type:   string(intent),
				Module: string(module),
				Params: cls.Params,
			}}
		}
	}

	actions := make([]turn.ActionItem, 0, len(descriptors))
	for _, d := range descriptors {
		module := turn.Module(d.Module)
		if !validModule(module) {
			if m, ok := turn.ModuleForIntent(intent); ok {
				module = m
			} else {
				continue
			}
		}
		actions = append(actions, turn.ActionItem{
			Type:          d.Type,
			Module:        module,
			Params:        d.Params,
			DependsOn:     d.DependsOn,
			EstimatedCost: actionCost(d),
		})
	}
	return actions
}

func validModule(m turn.Module) bool {
	for _, known := range turn.Modules {
		if m == known {
			return true
		}
	}
	return false
}

func normalizeIntent(raw string) turn.Intent {
	switch turn.Intent(strings.TrimSpace(strings.ToLower(raw))) {
	case turn.IntentGenerateCreative:
		return turn.IntentGenerateCreative
	case turn.IntentGetReport:
		return turn.IntentGetReport
	case turn.IntentManageCampaign:
		return turn.IntentManageCampaign
	case turn.IntentCreateLandingPage:
		return turn.IntentCreateLandingPage
	case turn.IntentMarketInsights:
		return turn.IntentMarketInsights
	case turn.IntentClarificationNeeded:
		return turn.IntentClarificationNeeded
	default:
		return turn.IntentGeneralQuery
	}
}

// historyForClassification converts recent history for the classifier,
// excluding system messages.
func historyForClassification(messages []conversation.Message) []model.Message {
	recent := conversation.LastN(messages, historyWindow)
	out := make([]model.Message, 0, len(recent))
	for _, msg := range recent {
		if msg.Role == conversation.RoleSystem {
			continue
		}
		out = append(out, model.Message{Role: msg.Role, Content: msg.Content})
	}
	return out
}

var classifySystemPrompt = fmt.Sprintf(`You are the intent classifier for an ad-campaign management assistant.
Classify the user's latest message and reply with ONLY a JSON object matching this schema:

{
  "intent": one of %q,
  "confidence": number between 0 and 1,
  "params": object with extracted parameters (counts, campaign ids, budgets, dates),
  "actions": [{"type": string, "module": one of %q, "params": object, "depends_on": [indices], "estimated_cost": number}],
  "requires_confirmation": boolean, true for destructive or costly operations,
  "clarify_question": string, set only when the request is ambiguous
}

Extract every discrete operation as its own action. Use depends_on to record
ordering between actions. Leave estimated_cost at 0 unless the user named a
price.`,
	[]string{
		string(turn.IntentGenerateCreative), string(turn.IntentGetReport),
		string(turn.IntentManageCampaign), string(turn.IntentCreateLandingPage),
		string(turn.IntentMarketInsights), string(turn.IntentGeneralQuery),
		string(turn.IntentClarificationNeeded),
	},
	[]string{
		string(turn.ModuleCreative), string(turn.ModuleReporting),
		string(turn.ModuleCampaign), string(turn.ModuleLanding),
		string(turn.ModuleInsights),
	})
