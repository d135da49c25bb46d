package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/adpilot-ai/adpilot/pkg/action"
	"github.com/adpilot-ai/adpilot/pkg/bus"
	"github.com/adpilot-ai/adpilot/pkg/conversation"
	"github.com/adpilot-ai/adpilot/pkg/router"
	"github.com/adpilot-ai/adpilot/pkg/storage"
	"github.com/adpilot-ai/adpilot/pkg/telemetry"
	"github.com/adpilot-ai/adpilot/pkg/turn"
)

// Turn outcomes, used for metrics and the completed event.
const (
	OutcomeSuccess       = "success"
	OutcomeSuspended     = "suspended"
	OutcomeCancelled     = "cancelled"
	OutcomeClarification = "clarification"
	OutcomeError         = "error"
)

// TurnResult is what one processed message produced.
type TurnResult struct {
	ResponseText string
	Outcome      string
	Suspended    bool
	State        *turn.State
}

// Deps wires an orchestrator. Router, Handlers, and Checkpoints are
// required; Store and Bus are optional (nil disables persistence and
// events respectively).
type Deps struct {
	Router      *router.Router
	Handlers    map[turn.Module]*action.Handler
	Responder   *Responder
	Compressor  *conversation.Compressor
	Checkpoints CheckpointStore
	Store       *storage.Store
	Bus         bus.MessageBus
	Log         *slog.Logger
}

// Orchestrator processes conversation turns: one goroutine per call, state
// isolated per session through the checkpoint store.
type Orchestrator struct {
	router      *router.Router
	handlers    map[turn.Module]*action.Handler
	responder   *Responder
	compressor  *conversation.Compressor
	checkpoints CheckpointStore
	store       *storage.Store
	bus         bus.MessageBus
	log         *slog.Logger
	tracer      trace.Tracer
}

// New creates an orchestrator and points the handlers' credit events at the
// bus.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Router == nil {
		return nil, fmt.Errorf("orchestrator requires a router")
	}
	if len(deps.Handlers) == 0 {
		return nil, fmt.Errorf("orchestrator requires action handlers")
	}
	if deps.Checkpoints == nil {
		deps.Checkpoints = NewMemoryCheckpoints()
	}
	if deps.Responder == nil {
		deps.Responder = NewResponder(nil, deps.Log)
	}
	if deps.Compressor == nil {
		deps.Compressor = conversation.NewCompressor(0, 0)
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}

	o := &Orchestrator{
		router:      deps.Router,
		handlers:    deps.Handlers,
		responder:   deps.Responder,
		compressor:  deps.Compressor,
		checkpoints: deps.Checkpoints,
		store:       deps.Store,
		bus:         deps.Bus,
		log:         deps.Log,
		tracer:      telemetry.Tracer(),
	}

	if deps.Bus != nil {
		sink := &creditEventSink{o: o}
		for _, h := range deps.Handlers {
			if h.Events == nil {
				h.Events = sink
			}
		}
	}

	return o, nil
}

// ProcessMessage runs one conversation turn to a terminal node and returns
// the reply. The checkpoint is written at every terminal exit, including
// suspension at the confirmation gate.
func (o *Orchestrator) ProcessMessage(ctx context.Context, userID, sessionID, message string) (*TurnResult, error) {
	return o.process(ctx, userID, sessionID, message, nil)
}

func (o *Orchestrator) process(ctx context.Context, userID, sessionID, message string, emit func(StreamEvent)) (*TurnResult, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.turn",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("user.id", userID),
		))
	defer span.End()
	start := time.Now()

	st, err := o.checkpoints.LoadCheckpoint(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if st == nil {
		st = turn.NewState(userID, sessionID)
	}
	st.TurnID = uuid.NewString()

	resumed := st.AwaitingConfirmation()
	entry := nodeCompress
	userMsg := conversation.NewUserMessage(message)

	if resumed {
		answer, recognized := router.InterpretConfirmation(message)
		if !recognized {
			// Anything that is not a clear yes counts as declining; the
			// pending actions never run on an ambiguous answer.
			answer = turn.ConfirmationNo
		}
		st.Apply(&turn.Update{
			AppendMessages: []conversation.Message{userMsg},
			UserConfirmed:  turn.ConfirmationPtr(answer),
		})
		entry = nodeGate
	} else {
		st.ResetForTurn()
		st.Apply(&turn.Update{
			AppendMessages: []conversation.Message{userMsg},
		})
	}

	o.publishTurnStarted(st, resumed)

	run := &turnRun{o: o, resultsBefore: len(st.CompletedResults), emit: emit}
	if err := run.graph().run(ctx, entry, st); err != nil {
		// Graph errors are cancellation or internal bugs, not domain
		// failures. Checkpoint what we have and surface the error.
		if saveErr := o.checkpoints.SaveCheckpoint(context.WithoutCancel(ctx), sessionID, st); saveErr != nil {
			o.log.Error("checkpoint save failed after graph error",
				"session_id", sessionID, "error", saveErr)
		}
		telemetry.RecordTurn(OutcomeError, time.Since(start).Seconds())
		return nil, err
	}

	outcome := turnOutcome(run, st)
	telemetry.RecordTurn(outcome, time.Since(start).Seconds())
	if outcome == OutcomeClarification {
		telemetry.RecordClarification()
	}

	// The turn's durable log entries: the incoming message plus the reply
	// appended by the respond node.
	logged := []conversation.Message{userMsg}
	if n := len(st.Messages); n > 0 && st.Messages[n-1].Role == conversation.RoleAssistant {
		logged = append(logged, st.Messages[n-1])
	}
	o.persist(st, outcome, logged, run.resultsBefore)

	if err := o.checkpoints.SaveCheckpoint(ctx, sessionID, st); err != nil {
		return nil, fmt.Errorf("save checkpoint: %w", err)
	}

	if run.suspended {
		o.publishTurnSuspended(st)
	} else {
		o.publishTurnCompleted(st, outcome, time.Since(start))
	}

	o.log.Info("turn processed",
		"session_id", sessionID, "turn_id", st.TurnID,
		"intent", st.CurrentIntent, "outcome", outcome,
		"duration", time.Since(start))

	return &TurnResult{
		ResponseText: run.response,
		Outcome:      outcome,
		Suspended:    run.suspended,
		State:        st,
	}, nil
}

func turnOutcome(run *turnRun, st *turn.State) string {
	switch {
	case run.suspended:
		return OutcomeSuspended
	case run.cancelled:
		return OutcomeCancelled
	case st.Error != nil:
		return OutcomeError
	case st.CurrentIntent == turn.IntentClarificationNeeded:
		return OutcomeClarification
	default:
		return OutcomeSuccess
	}
}

// sessionCompressor returns the compressor for a session. Stored per-session
// round overrides take precedence over the configured thresholds; a missing
// store or unreadable overrides fall back to the shared compressor.
func (o *Orchestrator) sessionCompressor(sessionID string) *conversation.Compressor {
	if o.store == nil {
		return o.compressor
	}
	overrides, err := o.store.SessionOverrides(sessionID,
		storage.OverrideMaxRounds, storage.OverrideSummaryRounds)
	if err != nil {
		o.log.Warn("session override load failed", "session_id", sessionID, "error", err)
		return o.compressor
	}
	if len(overrides) == 0 {
		return o.compressor
	}

	maxRounds := o.compressor.MaxRounds
	summaryRounds := o.compressor.SummaryRounds
	if v, err := strconv.Atoi(overrides[storage.OverrideMaxRounds]); err == nil && v > 0 {
		maxRounds = v
	}
	if v, err := strconv.Atoi(overrides[storage.OverrideSummaryRounds]); err == nil && v > 0 {
		summaryRounds = v
	}
	return conversation.NewCompressor(maxRounds, summaryRounds)
}

// turnCost sums the credits settled for successful actions completed after
// the resultsBefore high-water mark, i.e. during this turn.
func turnCost(st *turn.State, resultsBefore int) float64 {
	if resultsBefore < 0 || resultsBefore > len(st.CompletedResults) {
		resultsBefore = 0
	}
	var total float64
	for _, r := range st.CompletedResults[resultsBefore:] {
		if r.Status == turn.StatusSuccess {
			total += r.Cost
		}
	}
	return total
}

// persist writes the durable record of a finished turn. Suspended turns keep
// their messages in the checkpoint only, and pure clarification exchanges
// are not logged.
func (o *Orchestrator) persist(st *turn.State, outcome string, logged []conversation.Message, resultsBefore int) {
	if o.store == nil {
		return
	}

	if err := o.store.EnsureSession(st.SessionID, st.UserID); err != nil {
		o.log.Error("session ensure failed", "session_id", st.SessionID, "error", err)
		return
	}

	switch outcome {
	case OutcomeSuspended:
		if err := o.store.SuspendSession(st.SessionID, st.ConfirmationMessage); err != nil {
			o.log.Error("session suspend failed", "session_id", st.SessionID, "error", err)
		}
		return
	case OutcomeClarification:
		return
	}

	if err := o.store.AppendMessages(st.SessionID, logged); err != nil {
		o.log.Error("message log write failed", "session_id", st.SessionID, "error", err)
	}
	if spent := turnCost(st, resultsBefore); spent > 0 {
		if err := o.store.AddSessionCost(st.SessionID, spent); err != nil {
			o.log.Error("session cost update failed", "session_id", st.SessionID, "error", err)
		}
	}
	if err := o.store.ResumeSession(st.SessionID); err != nil {
		o.log.Error("session resume failed", "session_id", st.SessionID, "error", err)
	}
}
