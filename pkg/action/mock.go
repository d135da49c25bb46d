package action

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/adpilot-ai/adpilot/pkg/turn"
)

// MockBackend is a stub execution backend used until a live integration is
// wired for a module. Results are flagged IsMock so downstream consumers can
// tell canned data from real side effects.
type MockBackend struct {
	module turn.Module
}

// NewMockBackend builds a stub backend for a module.
func NewMockBackend(module turn.Module) *MockBackend {
	return &MockBackend{module: module}
}

// NewMockBackends builds a stub backend per module.
func NewMockBackends() map[turn.Module]Backend {
	backends := make(map[turn.Module]Backend, len(turn.Modules))
	for _, module := range turn.Modules {
		backends[module] = NewMockBackend(module)
	}
	return backends
}

// Execute implements Backend with canned per-module data.
func (b *MockBackend) Execute(ctx context.Context, actionType string, params map[string]any, actx Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data := map[string]any{"operation_id": actx.OperationID}
	switch b.module {
	case turn.ModuleCreative:
		count := 1
		if v, ok := params["count"].(float64); ok && v > 0 {
			count = int(v)
		}
		urls := make([]string, count)
		for i := range urls {
			urls[i] = fmt.Sprintf("https://cdn.adpilot.example/creatives/%s/%d.png", uuid.NewString(), i+1)
		}
		data["images"] = urls
		data["count"] = count
	case turn.ModuleReporting:
		data["report"] = map[string]any{
			"impressions": 125_000,
			"clicks":      3_400,
			"ctr":         0.0272,
			"spend":       412.50,
		}
	case turn.ModuleCampaign:
		data["campaign_id"] = "cmp_" + uuid.NewString()[:8]
		data["status"] = "applied"
	case turn.ModuleLanding:
		data["url"] = "https://pages.adpilot.example/" + uuid.NewString()[:8]
	case turn.ModuleInsights:
		data["summary"] = "Category interest is trending up 12% week over week; top competitor increased spend on video placements."
	}

	return &Result{Data: data, Mock: true}, nil
}
