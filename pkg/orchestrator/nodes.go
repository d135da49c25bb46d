package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/adpilot-ai/adpilot/pkg/contextref"
	"github.com/adpilot-ai/adpilot/pkg/conversation"
	"github.com/adpilot-ai/adpilot/pkg/turn"
)

// turnRun carries per-turn outputs that live outside the state object: the
// reply text and how the turn ended.
type turnRun struct {
	o             *Orchestrator
	resultsBefore int
	response      string
	suspended     bool
	cancelled     bool
	emit          func(ev StreamEvent)
}

func (r *turnRun) notify(ev StreamEvent) {
	if r.emit != nil {
		r.emit(ev)
	}
}

// graph builds the turn graph. Transitions read only the state plus the
// run's terminal flags, so a resumed checkpoint takes the same path.
func (r *turnRun) graph() *graph {
	return &graph{
		nodes: map[string]node{
			nodeCompress: r.compressNode,
			nodeResolve:  r.resolveNode,
			nodeRoute:    r.routeNode,
			nodeGate:     r.gateNode,
			nodeExecute:  r.executeNode,
			nodeRespond:  r.respondNode,
		},
		next: func(current string, st *turn.State) string {
			switch current {
			case nodeCompress:
				return nodeResolve
			case nodeResolve:
				return nodeRoute
			case nodeRoute:
				if len(st.PendingActions) == 0 {
					return nodeRespond
				}
				return nodeGate
			case nodeGate:
				if r.suspended || r.cancelled || st.Error != nil {
					return nodeRespond
				}
				return nodeExecute
			case nodeExecute:
				if st.Error == nil && len(st.PendingActions) > 0 {
					return nodeExecute
				}
				return nodeRespond
			default:
				return ""
			}
		},
	}
}

// compressNode folds old rounds into a summary message when the history
// exceeds the round cap.
func (r *turnRun) compressNode(_ context.Context, st *turn.State) (*turn.Update, error) {
	summaries := make([]string, 0, len(st.CompletedResults))
	for _, res := range st.CompletedResults {
		summaries = append(summaries, res.Summary())
	}

	compressed, did := r.o.sessionCompressor(st.SessionID).Compress(st.Messages, summaries)
	if !did {
		return nil, nil
	}
	r.o.log.Info("conversation history compressed",
		"session_id", st.SessionID, "messages", len(compressed))
	return &turn.Update{ReplaceMessages: compressed, Compressed: turn.Bool(true)}, nil
}

// resolveNode scans the new message for back-references and records what
// they point at. Unresolvable references are recorded too; the classifier
// decides whether to ask for clarification.
func (r *turnRun) resolveNode(_ context.Context, st *turn.State) (*turn.Update, error) {
	ref := contextref.ExtractReferences(st.LastUserMessage())
	if !ref.HasReference {
		return nil, nil
	}

	refs := map[string]any{
		"reference_type": ref.ReferenceType,
		"entity_type":    ref.EntityType,
	}
	if ref.ReferenceType == contextref.ReferenceRelativeValue {
		refs["relative_op"] = ref.RelativeOp
		refs["relative_value"] = ref.RelativeValue
	}

	if resolved, ok := contextref.Resolve(ref.EntityType, st.Messages, st.CompletedResults); ok {
		refs["resolved"] = resolved
	} else {
		refs["unresolved"] = true
	}

	return &turn.Update{ContextReferences: refs}, nil
}

func (r *turnRun) routeNode(ctx context.Context, st *turn.State) (*turn.Update, error) {
	r.notify(StreamEvent{Type: EventStatus, Text: "routing"})
	return r.o.router.Route(ctx, st), nil
}

// gateNode is the confirmation gate. It also folds resolved references into
// the pending actions so the confirmation prompt and the handlers see the
// enriched parameters.
func (r *turnRun) gateNode(_ context.Context, st *turn.State) (*turn.Update, error) {
	upd := &turn.Update{}
	pending := st.PendingActions
	if merged := mergeResolvedParams(st); merged != nil {
		pending = merged
		upd.SetPending = true
		upd.PendingActions = merged
	}

	if !st.RequiresConfirmation {
		return upd, nil
	}

	switch st.UserConfirmed {
	case turn.ConfirmationYes:
		return upd, nil
	case turn.ConfirmationNo:
		r.cancelled = true
		upd.SetPending = true
		upd.PendingActions = nil
		upd.RequiresConfirmation = turn.Bool(false)
		return upd, nil
	default:
		// Pending answer: park the turn here. The checkpoint written at the
		// end of the turn is the suspension point.
		r.suspended = true
		prompt := confirmationPrompt(pending, st.EstimatedCost)
		upd.ConfirmationMessage = turn.String(prompt)
		return upd, nil
	}
}

// executeNode dispatches the head of the pending queue to its module
// handler. The transition table loops back here until the queue drains or an
// action fails.
func (r *turnRun) executeNode(ctx context.Context, st *turn.State) (*turn.Update, error) {
	if len(st.PendingActions) == 0 {
		return nil, nil
	}

	item := st.PendingActions[0]
	handler, ok := r.o.handlers[item.Module]
	if !ok || handler == nil {
		errInfo := turn.NewError(turn.ErrValidation,
			fmt.Sprintf("no handler registered for module %q", item.Module))
		return &turn.Update{
			Error:          errInfo,
			SetPending:     true,
			PendingActions: st.PendingActions[1:],
		}, nil
	}

	r.notify(StreamEvent{Type: EventStatus, Text: "executing " + item.Type})
	upd := handler.Handle(ctx, st)

	for _, res := range upd.AppendResults {
		r.o.publishActionCompleted(st, res)
		r.notify(StreamEvent{Type: EventResult, Result: &res})
	}
	return upd, nil
}

// respondNode builds the reply. Every terminal path produces text; a turn
// never ends silently.
func (r *turnRun) respondNode(ctx context.Context, st *turn.State) (*turn.Update, error) {
	switch {
	case r.suspended:
		r.response = st.ConfirmationMessage
	case r.cancelled:
		r.response = replyCancelled
	case st.Error != nil:
		r.response = r.o.responder.ErrorReply(st.Error)
	case st.CurrentIntent == turn.IntentClarificationNeeded:
		r.response = r.o.responder.Clarification(st)
	case len(st.CompletedResults) > r.resultsBefore:
		r.response = r.o.responder.Summarize(ctx, st, st.CompletedResults[r.resultsBefore:])
	case st.CurrentIntent == turn.IntentGeneralQuery:
		r.response = r.o.responder.Chat(ctx, st)
	default:
		r.response = replyFallback
	}

	return &turn.Update{
		AppendMessages: []conversation.Message{conversation.NewAssistantMessage(r.response)},
	}, nil
}

// mergeResolvedParams copies resolved reference data into pending action
// params that don't already carry those keys. Relative budget phrases ("add
// $50") become a signed budget_adjustment. Returns nil when nothing changed.
func mergeResolvedParams(st *turn.State) []turn.ActionItem {
	refs := st.ContextReferences
	if len(refs) == 0 || len(st.PendingActions) == 0 {
		return nil
	}

	extra := map[string]any{}
	if resolved, ok := refs["resolved"].(map[string]any); ok {
		for k, v := range resolved {
			extra[k] = v
		}
	}
	if refs["reference_type"] == contextref.ReferenceRelativeValue {
		value := detailFloat(refs, "relative_value")
		if refs["relative_op"] == "subtract" {
			value = -value
		}
		extra["budget_adjustment"] = value
	}
	if len(extra) == 0 {
		return nil
	}

	changed := false
	merged := make([]turn.ActionItem, len(st.PendingActions))
	for i, item := range st.PendingActions {
		missing := false
		for k := range extra {
			if _, exists := item.Params[k]; !exists {
				missing = true
				break
			}
		}
		if missing {
			clone := make(map[string]any, len(item.Params)+len(extra))
			for pk, pv := range item.Params {
				clone[pk] = pv
			}
			for k, v := range extra {
				if _, exists := clone[k]; !exists {
					clone[k] = v
				}
			}
			item.Params = clone
			changed = true
		}
		merged[i] = item
	}
	if !changed {
		return nil
	}
	return merged
}

// confirmationPrompt lists what is about to run and its total cost.
func confirmationPrompt(actions []turn.ActionItem, totalCost float64) string {
	var b strings.Builder
	b.WriteString("Before I proceed, please confirm:\n")
	for _, a := range actions {
		fmt.Fprintf(&b, "- %s (%s", a.Type, a.Module)
		if a.EstimatedCost > 0 {
			fmt.Fprintf(&b, ", ~%.1f credits", a.EstimatedCost)
		}
		b.WriteString(")\n")
	}
	if totalCost > 0 {
		fmt.Fprintf(&b, "Estimated total: %.1f credits.\n", totalCost)
	}
	b.WriteString("Reply yes to proceed or no to cancel.")
	return b.String()
}
