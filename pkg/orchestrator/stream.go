package orchestrator

import (
	"context"

	"github.com/adpilot-ai/adpilot/pkg/turn"
)

// Stream event types.
const (
	EventStatus = "status"
	EventResult = "result"
	EventText   = "text"
	EventError  = "error"
	EventDone   = "done"
)

// StreamEvent is one progress update emitted while a turn runs.
type StreamEvent struct {
	Type      string             `json:"type"`
	Text      string             `json:"text,omitempty"`
	Result    *turn.ActionResult `json:"result,omitempty"`
	Outcome   string             `json:"outcome,omitempty"`
	Suspended bool               `json:"suspended,omitempty"`
}

// ProcessMessageStream runs one turn and emits progress events on the
// returned channel. The channel closes after the final done or error event;
// the terminal result also comes back directly once the turn finishes.
func (o *Orchestrator) ProcessMessageStream(ctx context.Context, userID, sessionID, message string) (<-chan StreamEvent, func() (*TurnResult, error)) {
	events := make(chan StreamEvent, 16)

	emit := func(ev StreamEvent) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	type outcome struct {
		result *TurnResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer close(events)
		result, err := o.process(ctx, userID, sessionID, message, emit)
		if err != nil {
			emit(StreamEvent{Type: EventError, Text: err.Error()})
		} else {
			emit(StreamEvent{Type: EventText, Text: result.ResponseText})
			emit(StreamEvent{
				Type:      EventDone,
				Outcome:   result.Outcome,
				Suspended: result.Suspended,
			})
		}
		done <- outcome{result, err}
	}()

	wait := func() (*TurnResult, error) {
		out := <-done
		return out.result, out.err
	}
	return events, wait
}
