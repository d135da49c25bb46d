package router

import (
	"math"
	"strings"

	"github.com/adpilot-ai/adpilot/pkg/turn"
)

// DefaultActionCost prices unknown action types.
const DefaultActionCost = 1.0

// creativeBaseCost is the base rate for a batch of ten images; creative
// generation scales linearly with the requested count.
const creativeBaseCost = 10.0

// baseCosts are static per-action-type rates, used when the classifier did
// not declare a positive cost.
var baseCosts = map[string]float64{
	"generate_creative":   creativeBaseCost,
	"generate_video":      20.0,
	"get_report":          1.0,
	"analyze_performance": 2.0,
	"create_campaign":     5.0,
	"update_budget":       1.0,
	"pause_campaign":      0.5,
	"resume_campaign":     0.5,
	"pause_all":           1.0,
	"delete_campaign":     1.0,
	"create_landing_page": 5.0,
	"update_landing_page": 2.0,
	"market_insights":     2.0,
	"competitor_analysis": 3.0,
}

// highRiskActions always require explicit user approval.
var highRiskActions = map[string]struct{}{
	"pause_all":       {},
	"delete_campaign": {},
}

// budgetConfirmPercent is the budget-change delta above which confirmation
// is forced regardless of the classifier's flag.
const budgetConfirmPercent = 50.0

// actionCost prices one action: the model-declared cost when positive,
// otherwise the static base rate. Creative generation scales with the
// requested image count (base rate covers a batch of ten).
func actionCost(d ActionDescriptor) float64 {
	if d.EstimatedCost > 0 {
		return d.EstimatedCost
	}

	base, ok := baseCosts[d.Type]
	if !ok {
		return DefaultActionCost
	}

	if d.Type == "generate_creative" {
		if count := paramCount(d.Params); count > 0 {
			return base * float64(count) / 10
		}
	}
	return base
}

func paramCount(params map[string]any) int {
	if params == nil {
		return 0
	}
	switch v := params["count"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// requiresConfirmation applies the policy layer on top of the classifier's
// own flag: any high-risk action, or a budget change whose percentage delta
// exceeds the threshold, forces confirmation.
func requiresConfirmation(actions []turn.ActionItem) bool {
	for _, a := range actions {
		if _, risky := highRiskActions[a.Type]; risky {
			return true
		}
		if a.Type == "update_budget" {
			if pct, ok := budgetChangePercent(a.Params); ok && math.Abs(pct) > budgetConfirmPercent {
				return true
			}
		}
	}
	return false
}

func budgetChangePercent(params map[string]any) (float64, bool) {
	if params == nil {
		return 0, false
	}
	switch v := params["budget_change_percent"].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// Confirmation vocabularies for resumed turns.
var (
	yesWords = []string{"yes", "y", "yeah", "yep", "ok", "okay", "sure", "confirm", "confirmed", "go ahead", "do it", "好", "好的", "确认", "是", "可以"}
	noWords  = []string{"no", "n", "nope", "cancel", "stop", "abort", "don't", "不", "不要", "取消", "算了"}
)

// InterpretConfirmation maps a resumed-turn reply onto the tri-state
// confirmation value. Messages that are neither a clear yes nor a clear no
// leave the state pending and return false.
func InterpretConfirmation(message string) (turn.Confirmation, bool) {
	normalized := strings.ToLower(strings.TrimSpace(message))
	normalized = strings.Trim(normalized, ".!?。！？ ")

	for _, w := range yesWords {
		if normalized == w {
			return turn.ConfirmationYes, true
		}
	}
	for _, w := range noWords {
		if normalized == w {
			return turn.ConfirmationNo, true
		}
	}
	return turn.ConfirmationPending, false
}
