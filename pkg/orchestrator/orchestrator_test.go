package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adpilot-ai/adpilot/pkg/action"
	"github.com/adpilot-ai/adpilot/pkg/bus"
	"github.com/adpilot-ai/adpilot/pkg/conversation"
	"github.com/adpilot-ai/adpilot/pkg/credit"
	"github.com/adpilot-ai/adpilot/pkg/model"
	"github.com/adpilot-ai/adpilot/pkg/reliability"
	"github.com/adpilot-ai/adpilot/pkg/router"
	"github.com/adpilot-ai/adpilot/pkg/storage"
	"github.com/adpilot-ai/adpilot/pkg/turn"
)

// scriptClassifier feeds the router a canned classification.
type scriptClassifier struct {
	cls router.Classification
}

func (s *scriptClassifier) Classify(_ context.Context, _ string, _ []model.Message, out any) error {
	data, err := json.Marshal(s.cls)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func fastRetry() *reliability.Strategy {
	return &reliability.Strategy{MaxRetries: 0, BaseDelay: 0, MaxDelay: 0, Multiplier: 1}
}

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOrchestrator(t *testing.T, cls router.Classification, balance float64, eventBus bus.MessageBus) (*Orchestrator, *credit.MemoryService) {
	t.Helper()

	credits := credit.NewMemoryService()
	credits.SetBalance("user-1", balance)

	log := quietLog()
	handlers := action.DefaultHandlers(action.NewMockBackends(), credits, fastRetry(), log)
	r := router.New(&scriptClassifier{cls: cls}, fastRetry(), log)

	o, err := New(Deps{
		Router:   r,
		Handlers: handlers,
		Bus:      eventBus,
		Log:      log,
	})
	require.NoError(t, err)
	return o, credits
}

func TestTurnExecutesCreativeGeneration(t *testing.T) {
	o, credits := newTestOrchestrator(t, router.Classification{
		Intent:     "generate_creative",
		Confidence: 0.9,
		Params:     map[string]any{"count": float64(4), "product": "cat food"},
	}, 100, nil)

	res, err := o.ProcessMessage(context.Background(), "user-1", "sess-1", "帮我生成 4 张猫粮广告图")
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.False(t, res.Suspended)
	require.Len(t, res.State.CompletedResults, 1)

	result := res.State.CompletedResults[0]
	assert.Equal(t, turn.StatusSuccess, result.Status)
	assert.Equal(t, 4.0, result.Cost)
	assert.True(t, result.IsMock)
	assert.Len(t, result.Data["images"], 4)

	assert.Equal(t, 96.0, credits.Balance("user-1"))
	assert.Contains(t, res.ResponseText, "generate_creative")
}

func TestTurnSuspendsAndResumesOnYes(t *testing.T) {
	cls := router.Classification{
		Intent:     "manage_campaign",
		Confidence: 0.85,
		Actions: []router.ActionDescriptor{{
			Type:   "update_budget",
			Module: string(turn.ModuleCampaign),
			Params: map[string]any{"campaign_id": "cmp_1", "budget_change_percent": float64(60)},
		}},
	}
	o, credits := newTestOrchestrator(t, cls, 100, nil)

	first, err := o.ProcessMessage(context.Background(), "user-1", "sess-1", "raise the budget by 60%")
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuspended, first.Outcome)
	assert.True(t, first.Suspended)
	assert.Contains(t, first.ResponseText, "update_budget")
	assert.Contains(t, first.ResponseText, "Reply yes to proceed or no to cancel.")
	assert.Empty(t, first.State.CompletedResults)
	assert.Equal(t, 100.0, credits.Balance("user-1"))

	second, err := o.ProcessMessage(context.Background(), "user-1", "sess-1", "yes")
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuccess, second.Outcome)
	assert.False(t, second.Suspended)
	require.Len(t, second.State.CompletedResults, 1)
	assert.Equal(t, "update_budget", second.State.CompletedResults[0].ActionType)
	assert.Equal(t, 99.0, credits.Balance("user-1"))
}

func TestResumeDeclineCancels(t *testing.T) {
	cls := router.Classification{
		Intent:     "manage_campaign",
		Confidence: 0.9,
		Actions: []router.ActionDescriptor{{
			Type:   "delete_campaign",
			Module: string(turn.ModuleCampaign),
			Params: map[string]any{"campaign_id": "cmp_1"},
		}},
	}
	o, credits := newTestOrchestrator(t, cls, 100, nil)

	first, err := o.ProcessMessage(context.Background(), "user-1", "sess-1", "delete campaign cmp_1")
	require.NoError(t, err)
	require.True(t, first.Suspended)

	second, err := o.ProcessMessage(context.Background(), "user-1", "sess-1", "no")
	require.NoError(t, err)

	assert.Equal(t, OutcomeCancelled, second.Outcome)
	assert.Equal(t, replyCancelled, second.ResponseText)
	assert.Empty(t, second.State.CompletedResults)
	assert.Empty(t, second.State.PendingActions)
	assert.Equal(t, 100.0, credits.Balance("user-1"))
	assert.False(t, second.State.AwaitingConfirmation())
}

func TestResumeAmbiguousAnswerCancels(t *testing.T) {
	cls := router.Classification{
		Intent:     "manage_campaign",
		Confidence: 0.9,
		Actions: []router.ActionDescriptor{{
			Type:   "pause_all",
			Module: string(turn.ModuleCampaign),
		}},
	}
	o, credits := newTestOrchestrator(t, cls, 100, nil)

	first, err := o.ProcessMessage(context.Background(), "user-1", "sess-1", "pause everything")
	require.NoError(t, err)
	require.True(t, first.Suspended)

	second, err := o.ProcessMessage(context.Background(), "user-1", "sess-1", "hmm, what would that cost")
	require.NoError(t, err)

	assert.Equal(t, OutcomeCancelled, second.Outcome)
	assert.Empty(t, second.State.CompletedResults)
	assert.Equal(t, 100.0, credits.Balance("user-1"))
}

func TestInsufficientCreditsReply(t *testing.T) {
	cls := router.Classification{
		Intent:     "generate_creative",
		Confidence: 0.9,
		Actions: []router.ActionDescriptor{{
			Type:          "generate_creative",
			Module:        string(turn.ModuleCreative),
			EstimatedCost: 5.0,
		}},
	}
	o, credits := newTestOrchestrator(t, cls, 1.0, nil)

	res, err := o.ProcessMessage(context.Background(), "user-1", "sess-1", "generate an ad image")
	require.NoError(t, err)

	assert.Equal(t, OutcomeError, res.Outcome)
	assert.Equal(t,
		"You don't have enough credits for this action. It needs 5.0 credits but your balance is 1.0. Top up your account and try again.",
		res.ResponseText)

	require.Len(t, res.State.CompletedResults, 1)
	assert.Equal(t, 0.0, res.State.CompletedResults[0].Cost)
	assert.Equal(t, 1.0, credits.Balance("user-1"))
}

func TestClarificationOutcome(t *testing.T) {
	cls := router.Classification{
		Intent:          "generate_creative",
		Confidence:      0.4,
		ClarifyQuestion: "How many images would you like?",
	}
	o, _ := newTestOrchestrator(t, cls, 100, nil)

	res, err := o.ProcessMessage(context.Background(), "user-1", "sess-1", "make some ads")
	require.NoError(t, err)

	assert.Equal(t, OutcomeClarification, res.Outcome)
	assert.Equal(t, "How many images would you like?", res.ResponseText)
	assert.Empty(t, res.State.CompletedResults)
	assert.False(t, res.Suspended)
}

func TestMultiActionQueueDrains(t *testing.T) {
	cls := router.Classification{
		Intent:     "get_report",
		Confidence: 0.9,
		Actions: []router.ActionDescriptor{
			{Type: "get_report", Module: string(turn.ModuleReporting)},
			{Type: "market_insights", Module: string(turn.ModuleInsights)},
		},
	}
	o, credits := newTestOrchestrator(t, cls, 100, nil)

	res, err := o.ProcessMessage(context.Background(), "user-1", "sess-1", "pull the report and the market trends")
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuccess, res.Outcome)
	require.Len(t, res.State.CompletedResults, 2)
	assert.Equal(t, "get_report", res.State.CompletedResults[0].ActionType)
	assert.Equal(t, "market_insights", res.State.CompletedResults[1].ActionType)
	assert.Empty(t, res.State.PendingActions)
	assert.Equal(t, 97.0, credits.Balance("user-1"))
}

func TestTurnEventsPublished(t *testing.T) {
	eventBus := bus.NewMemoryBus()
	defer eventBus.Close()

	subjects := make(chan string, 16)
	_, err := eventBus.Subscribe(context.Background(), "adpilot.>", func(msg *bus.Message) {
		subjects <- msg.Subject
	})
	require.NoError(t, err)

	cls := router.Classification{
		Intent:     "get_report",
		Confidence: 0.9,
	}
	o, _ := newTestOrchestrator(t, cls, 100, eventBus)

	_, err = o.ProcessMessage(context.Background(), "user-1", "sess-1", "how did the campaign do")
	require.NoError(t, err)

	want := map[string]bool{
		bus.SubjectTurnStarted:     false,
		bus.SubjectActionCompleted: false,
		bus.SubjectCreditDeducted:  false,
		bus.SubjectTurnCompleted:   false,
	}
	deadline := time.After(2 * time.Second)
	for remaining := len(want); remaining > 0; {
		select {
		case subj := <-subjects:
			if seen, tracked := want[subj]; tracked && !seen {
				want[subj] = true
				remaining--
			}
		case <-deadline:
			missing := []string{}
			for subj, seen := range want {
				if !seen {
					missing = append(missing, subj)
				}
			}
			t.Fatalf("missing events: %s", strings.Join(missing, ", "))
		}
	}
}

func TestProcessMessageStream(t *testing.T) {
	cls := router.Classification{
		Intent:     "get_report",
		Confidence: 0.9,
	}
	o, _ := newTestOrchestrator(t, cls, 100, nil)

	events, wait := o.ProcessMessageStream(context.Background(), "user-1", "sess-1", "show the report")

	types := []string{}
	for ev := range events {
		types = append(types, ev.Type)
	}
	res, err := wait()
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)

	assert.Contains(t, types, EventStatus)
	assert.Contains(t, types, EventResult)
	assert.Equal(t, EventDone, types[len(types)-1])
}

func TestResponderErrorReplies(t *testing.T) {
	r := NewResponder(nil, quietLog())

	tests := []struct {
		name string
		err  *turn.ErrorInfo
		want string
	}{
		{"nil", nil, replyUnexpected},
		{"timeout", turn.NewError(turn.ErrTimeout, "deadline"), replyTimeout},
		{"unavailable", turn.NewError(turn.ErrServiceUnavailable, "down"), replyServiceUnavailable},
		{"rate limited", turn.NewError(turn.ErrRateLimited, "slow down"), replyRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.ErrorReply(tt.err))
		})
	}

	t.Run("refund failed", func(t *testing.T) {
		errInfo := turn.NewError(turn.ErrUnexpected, "boom").WithDetail("refund_failed", true)
		assert.Contains(t, r.ErrorReply(errInfo), "reconciled automatically")
	})
}

func TestGraphStepCap(t *testing.T) {
	looping := &graph{
		nodes: map[string]node{
			"spin": func(context.Context, *turn.State) (*turn.Update, error) { return nil, nil },
		},
		next: func(string, *turn.State) string { return "spin" },
	}

	err := looping.run(context.Background(), "spin", turn.NewState("user-1", "sess-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded")
}

func TestSessionCompressorHonorsOverrides(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "orch-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := quietLog()
	credits := credit.NewMemoryService()
	handlers := action.DefaultHandlers(action.NewMockBackends(), credits, fastRetry(), log)
	o, err := New(Deps{
		Router:     router.New(nil, fastRetry(), log),
		Handlers:   handlers,
		Compressor: conversation.NewCompressor(100, 10),
		Store:      store,
		Log:        log,
	})
	require.NoError(t, err)

	require.NoError(t, store.SetSessionOverride("sess-1", storage.OverrideMaxRounds, "4"))
	require.NoError(t, store.SetSessionOverride("sess-1", storage.OverrideSummaryRounds, "2"))

	c := o.sessionCompressor("sess-1")
	assert.Equal(t, 4, c.MaxRounds)
	assert.Equal(t, 2, c.SummaryRounds)

	// Sessions without stored overrides keep the configured thresholds.
	d := o.sessionCompressor("sess-2")
	assert.Equal(t, 100, d.MaxRounds)
	assert.Equal(t, 10, d.SummaryRounds)

	// A value that does not parse falls back field by field.
	require.NoError(t, store.SetSessionOverride("sess-3", storage.OverrideMaxRounds, "lots"))
	e := o.sessionCompressor("sess-3")
	assert.Equal(t, 100, e.MaxRounds)
	assert.Equal(t, 10, e.SummaryRounds)
}
