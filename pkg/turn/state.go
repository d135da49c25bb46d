// Package turn defines the state object threaded through one conversational
// turn and the partial updates node functions return. The orchestrator owns a
// State exclusively for the duration of a turn and checkpoints it between
// turns.
package turn

import (
	"time"

	"github.com/adpilot-ai/adpilot/pkg/conversation"
)

// Module identifies a domain action handler.
type Module string

// Known modules.
const (
	ModuleCreative  Module = "creative"
	ModuleReporting Module = "reporting"
	ModuleCampaign  Module = "campaign"
	ModuleLanding   Module = "landing_page"
	ModuleInsights  Module = "market_insights"
)

// Modules lists every dispatchable module in priority order.
var Modules = []Module{ModuleCreative, ModuleReporting, ModuleCampaign, ModuleLanding, ModuleInsights}

// Intent is the classified purpose of a user message.
type Intent string

// Known intents. The first five map one-to-one onto modules; the last two
// route straight to the responder.
const (
	IntentGenerateCreative    Intent = "generate_creative"
	IntentGetReport           Intent = "get_report"
	IntentManageCampaign      Intent = "manage_campaign"
	IntentCreateLandingPage   Intent = "create_landing_page"
	IntentMarketInsights      Intent = "market_insights"
	IntentGeneralQuery        Intent = "general_query"
	IntentClarificationNeeded Intent = "clarification_needed"
)

// ModuleForIntent maps an intent onto the module that serves it. Intents with
// no module (general queries, clarifications) return false.
func ModuleForIntent(intent Intent) (Module, bool) {
	switch intent {
	case IntentGenerateCreative:
		return ModuleCreative, true
	case IntentGetReport:
		return ModuleReporting, true
	case IntentManageCampaign:
		return ModuleCampaign, true
	case IntentCreateLandingPage:
		return ModuleLanding, true
	case IntentMarketInsights:
		return ModuleInsights, true
	default:
		return "", false
	}
}

// Confirmation is the tri-state answer to a confirmation prompt.
type Confirmation string

const (
	ConfirmationPending Confirmation = "pending"
	ConfirmationYes     Confirmation = "yes"
	ConfirmationNo      Confirmation = "no"
)

// ActionItem is one discrete operation extracted from a message, bound to a
// module. Immutable once produced by the router. DependsOn holds indices into
// the same pending-actions list; dependency ordering is recorded but not
// scheduled — dispatch runs at most one action per module per turn.
type ActionItem struct {
	Type          string         `json:"type"`
	Module        Module         `json:"module"`
	Params        map[string]any `json:"params,omitempty"`
	DependsOn     []int          `json:"depends_on,omitempty"`
	EstimatedCost float64        `json:"estimated_cost,omitempty"`
}

// ResultStatus classifies an action result.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusError   ResultStatus = "error"
	StatusPartial ResultStatus = "partial"
)

// ActionResult records the outcome of one dispatched action. Append-only once
// created. IsMock flags results produced by a stub backend rather than a live
// integration.
type ActionResult struct {
	ActionType string         `json:"action_type"`
	Module     Module         `json:"module"`
	Status     ResultStatus   `json:"status"`
	Data       map[string]any `json:"data,omitempty"`
	Error      *ErrorInfo     `json:"error,omitempty"`
	Cost       float64        `json:"cost"`
	IsMock     bool           `json:"is_mock,omitempty"`
}

// Summary renders a one-line description of the result for history
// compression and back-reference resolution.
func (r ActionResult) Summary() string {
	status := string(r.Status)
	return string(r.Module) + "/" + r.ActionType + " (" + status + ")"
}

// MaxRetries caps nested retries within one turn.
const MaxRetries = 3

// State is the record threaded through one conversational turn.
type State struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	TurnID    string `json:"turn_id,omitempty"`

	// Messages grows monotonically within a session; only the history
	// compressor truncates it.
	Messages []conversation.Message `json:"messages"`

	// Classification output for the active turn; reset each turn.
	CurrentIntent   Intent         `json:"current_intent,omitempty"`
	ExtractedParams map[string]any `json:"extracted_params,omitempty"`

	PendingActions   []ActionItem   `json:"pending_actions,omitempty"`
	CompletedResults []ActionResult `json:"completed_results,omitempty"`

	RequiresConfirmation bool         `json:"requires_confirmation,omitempty"`
	UserConfirmed        Confirmation `json:"user_confirmed,omitempty"`
	ConfirmationMessage  string       `json:"confirmation_message,omitempty"`

	CreditChecked    bool    `json:"credit_checked,omitempty"`
	CreditSufficient bool    `json:"credit_sufficient,omitempty"`
	EstimatedCost    float64 `json:"estimated_cost,omitempty"`

	// Error short-circuits remaining dispatch for the turn once set.
	Error *ErrorInfo `json:"error,omitempty"`

	RetryCount int `json:"retry_count,omitempty"`

	ContextReferences      map[string]any `json:"context_references,omitempty"`
	ConversationCompressed bool           `json:"conversation_compressed,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewState builds a fresh state for a session.
func NewState(userID, sessionID string) *State {
	return &State{
		UserID:        userID,
		SessionID:     sessionID,
		UserConfirmed: ConfirmationPending,
		UpdatedAt:     time.Now(),
	}
}

// ResetForTurn clears per-turn classification and bookkeeping so a new user
// message starts from a clean slate. Messages and completed results carry
// over; the retry counter resets on every new message.
func (s *State) ResetForTurn() {
	s.CurrentIntent = ""
	s.ExtractedParams = nil
	s.PendingActions = nil
	s.RequiresConfirmation = false
	s.UserConfirmed = ConfirmationPending
	s.ConfirmationMessage = ""
	s.CreditChecked = false
	s.CreditSufficient = false
	s.EstimatedCost = 0
	s.Error = nil
	s.RetryCount = 0
	s.ContextReferences = nil
	s.UpdatedAt = time.Now()
}

// AwaitingConfirmation reports whether the state is parked at the
// confirmation gate waiting for the user's yes/no.
func (s *State) AwaitingConfirmation() bool {
	return s.RequiresConfirmation && s.UserConfirmed == ConfirmationPending && len(s.PendingActions) > 0
}

// LastUserMessage returns the most recent user message content, or "".
func (s *State) LastUserMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == conversation.RoleUser {
			return s.Messages[i].Content
		}
	}
	return ""
}
