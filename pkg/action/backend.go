// Package action implements the credit-guarded execution protocol shared by
// every domain action handler: estimate, check credit, execute, then deduct
// or refund. Handlers differ only in their module, cost table, and bound
// execution backend.
package action

import (
	"context"

	"github.com/adpilot-ai/adpilot/pkg/turn"
)

// Context carries the identifiers an execution backend needs. OperationID is
// the idempotency key for this action; backends that create external side
// effects are expected to deduplicate on it, which is what makes retrying a
// transient failure safe.
type Context struct {
	UserID      string
	SessionID   string
	OperationID string
}

// Result is what an execution backend returns. Cost, when positive, is the
// backend-reported actual cost used for settlement in place of the estimate.
// Mock flags results from a stub rather than a live integration.
type Result struct {
	Data map[string]any
	Cost float64
	Mock bool
}

// Backend is the external action-implementation collaborator: image
// generation, an ad-platform adapter, a landing-page renderer, a market-data
// fetcher. The protocol assumes nothing about idempotence beyond the
// OperationID contract above.
type Backend interface {
	Execute(ctx context.Context, actionType string, params map[string]any, actx Context) (*Result, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, actionType string, params map[string]any, actx Context) (*Result, error)

// Execute implements Backend.
func (f BackendFunc) Execute(ctx context.Context, actionType string, params map[string]any, actx Context) (*Result, error) {
	return f(ctx, actionType, params, actx)
}

// costTables holds the per-module static action rates; unknown action types
// fall back to the handler's default cost.
var costTables = map[turn.Module]map[string]float64{
	turn.ModuleCreative: {
		"generate_creative": 10.0,
		"generate_video":    20.0,
	},
	turn.ModuleReporting: {
		"get_report":          1.0,
		"analyze_performance": 2.0,
	},
	turn.ModuleCampaign: {
		"create_campaign": 5.0,
		"update_budget":   1.0,
		"pause_campaign":  0.5,
		"resume_campaign": 0.5,
		"pause_all":       1.0,
		"delete_campaign": 1.0,
	},
	turn.ModuleLanding: {
		"create_landing_page": 5.0,
		"update_landing_page": 2.0,
	},
	turn.ModuleInsights: {
		"market_insights":     2.0,
		"competitor_analysis": 3.0,
	},
}
