package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/adpilot-ai/adpilot/pkg/bus"
	"github.com/adpilot-ai/adpilot/pkg/turn"
)

// Bus event payloads. Publishing is best effort; a bus outage never fails a
// turn.

// TurnEvent is published on turn.started, turn.completed, and
// turn.suspended.
type TurnEvent struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	TurnID    string    `json:"turn_id"`
	Intent    string    `json:"intent,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	Resumed   bool      `json:"resumed,omitempty"`
	Question  string    `json:"question,omitempty"`
	Duration  int64     `json:"duration_ms,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ActionEvent is published on action.completed for every action result.
type ActionEvent struct {
	SessionID  string    `json:"session_id"`
	TurnID     string    `json:"turn_id"`
	Module     string    `json:"module"`
	ActionType string    `json:"action_type"`
	Status     string    `json:"status"`
	Cost       float64   `json:"cost"`
	Timestamp  time.Time `json:"timestamp"`
}

// CreditEvent is published on credit.deducted and credit.refunded.
type CreditEvent struct {
	UserID    string    `json:"user_id"`
	Amount    float64   `json:"amount"`
	OpType    string    `json:"op_type"`
	OpID      string    `json:"op_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (o *Orchestrator) publish(subject string, payload any) {
	if o.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := o.bus.Publish(context.Background(), subject, data); err != nil {
		o.log.Warn("event publish failed", "subject", subject, "error", err)
	}
}

func (o *Orchestrator) publishTurnStarted(st *turn.State, resumed bool) {
	o.publish(bus.SubjectTurnStarted, TurnEvent{
		UserID:    st.UserID,
		SessionID: st.SessionID,
		TurnID:    st.TurnID,
		Resumed:   resumed,
		Timestamp: time.Now().UTC(),
	})
}

func (o *Orchestrator) publishTurnCompleted(st *turn.State, outcome string, elapsed time.Duration) {
	o.publish(bus.SubjectTurnCompleted, TurnEvent{
		UserID:    st.UserID,
		SessionID: st.SessionID,
		TurnID:    st.TurnID,
		Intent:    string(st.CurrentIntent),
		Outcome:   outcome,
		Duration:  elapsed.Milliseconds(),
		Timestamp: time.Now().UTC(),
	})
}

func (o *Orchestrator) publishTurnSuspended(st *turn.State) {
	o.publish(bus.SubjectTurnSuspended, TurnEvent{
		UserID:    st.UserID,
		SessionID: st.SessionID,
		TurnID:    st.TurnID,
		Intent:    string(st.CurrentIntent),
		Outcome:   OutcomeSuspended,
		Question:  st.ConfirmationMessage,
		Timestamp: time.Now().UTC(),
	})
}

func (o *Orchestrator) publishActionCompleted(st *turn.State, res turn.ActionResult) {
	o.publish(bus.SubjectActionCompleted, ActionEvent{
		SessionID:  st.SessionID,
		TurnID:     st.TurnID,
		Module:     string(res.Module),
		ActionType: res.ActionType,
		Status:     string(res.Status),
		Cost:       res.Cost,
		Timestamp:  time.Now().UTC(),
	})
}

// creditEventSink forwards handler credit movements onto the bus.
type creditEventSink struct {
	o *Orchestrator
}

func (s *creditEventSink) CreditDeducted(userID string, amount float64, opType, opID string) {
	s.o.publish(bus.SubjectCreditDeducted, CreditEvent{
		UserID: userID, Amount: amount, OpType: opType, OpID: opID,
		Timestamp: time.Now().UTC(),
	})
}

func (s *creditEventSink) CreditRefunded(userID string, amount float64, opType, opID string) {
	s.o.publish(bus.SubjectCreditRefunded, CreditEvent{
		UserID: userID, Amount: amount, OpType: opType, OpID: opID,
		Timestamp: time.Now().UTC(),
	})
}
