package turn

import (
	"time"

	"github.com/adpilot-ai/adpilot/pkg/conversation"
)

// Update is a partial state change produced by one executor node. Nil slices
// and nil pointers mean "leave as is"; the executor merges updates with Apply
// rather than letting nodes mutate the state directly.
type Update struct {
	AppendMessages []conversation.Message
	// ReplaceMessages swaps the whole history (history compression).
	ReplaceMessages []conversation.Message

	Intent          *Intent
	ExtractedParams map[string]any

	// SetPending replaces the pending action list, including with an empty
	// one when PendingActions is nil.
	SetPending     bool
	PendingActions []ActionItem

	AppendResults []ActionResult

	RequiresConfirmation *bool
	UserConfirmed        *Confirmation
	ConfirmationMessage  *string

	CreditChecked    *bool
	CreditSufficient *bool
	EstimatedCost    *float64

	Error      *ErrorInfo
	RetryCount *int

	ContextReferences map[string]any
	Compressed        *bool
}

// Apply merges the update into the state.
func (s *State) Apply(u *Update) {
	if u == nil {
		return
	}
	if u.ReplaceMessages != nil {
		s.Messages = u.ReplaceMessages
	}
	if len(u.AppendMessages) > 0 {
		s.Messages = append(s.Messages, u.AppendMessages...)
	}
	if u.Intent != nil {
		s.CurrentIntent = *u.Intent
	}
	if u.ExtractedParams != nil {
		s.ExtractedParams = u.ExtractedParams
	}
	if u.SetPending {
		s.PendingActions = u.PendingActions
	}
	if len(u.AppendResults) > 0 {
		s.CompletedResults = append(s.CompletedResults, u.AppendResults...)
	}
	if u.RequiresConfirmation != nil {
		s.RequiresConfirmation = *u.RequiresConfirmation
	}
	if u.UserConfirmed != nil {
		s.UserConfirmed = *u.UserConfirmed
	}
	if u.ConfirmationMessage != nil {
		s.ConfirmationMessage = *u.ConfirmationMessage
	}
	if u.CreditChecked != nil {
		s.CreditChecked = *u.CreditChecked
	}
	if u.CreditSufficient != nil {
		s.CreditSufficient = *u.CreditSufficient
	}
	if u.EstimatedCost != nil {
		s.EstimatedCost = *u.EstimatedCost
	}
	if u.Error != nil {
		s.Error = u.Error
	}
	if u.RetryCount != nil {
		s.RetryCount = *u.RetryCount
	}
	if u.ContextReferences != nil {
		s.ContextReferences = u.ContextReferences
	}
	if u.Compressed != nil {
		s.ConversationCompressed = *u.Compressed
	}
	s.UpdatedAt = time.Now()
}

// Helpers for pointer fields.

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// Float returns a pointer to f.
func Float(f float64) *float64 { return &f }

// Int returns a pointer to i.
func Int(i int) *int { return &i }

// String returns a pointer to s.
func String(s string) *string { return &s }

// IntentPtr returns a pointer to the intent.
func IntentPtr(i Intent) *Intent { return &i }

// ConfirmationPtr returns a pointer to the confirmation value.
func ConfirmationPtr(c Confirmation) *Confirmation { return &c }
