package action

import (
	"context"
	"errors"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"github.com/adpilot-ai/adpilot/pkg/credit"
	"github.com/adpilot-ai/adpilot/pkg/reliability"
	"github.com/adpilot-ai/adpilot/pkg/telemetry"
	"github.com/adpilot-ai/adpilot/pkg/turn"
)

// DefaultCost prices action types missing from the handler's table.
const DefaultCost = 1.0

// Handler runs the six-step credit-guarded protocol for one module.
//
// Guarantee: after Handle returns, exactly one of {success and deducted,
// error and cost 0, error and refunded} holds for the dispatched action —
// never success without deduction, never a charge without the side effect.
type Handler struct {
	Module  turn.Module
	Costs   map[string]float64
	Backend Backend
	Credits credit.Service
	Retry   *reliability.Strategy
	Log     *slog.Logger

	// DeductUpfront reserves the credits before executing, for backends
	// that require payment-first semantics. A failed execution on this path
	// triggers the compensating refund.
	DeductUpfront bool

	// Events receives credit movements as they happen. Optional.
	Events CreditEvents
}

// CreditEvents observes successful credit mutations, e.g. to publish them on
// a message bus.
type CreditEvents interface {
	CreditDeducted(userID string, amount float64, opType, opID string)
	CreditRefunded(userID string, amount float64, opType, opID string)
}

// NewHandler wires a handler for a module with its static cost table.
func NewHandler(module turn.Module, backend Backend, credits credit.Service, retry *reliability.Strategy, log *slog.Logger) *Handler {
	if retry == nil {
		retry = reliability.Default()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		Module:  module,
		Costs:   costTables[module],
		Backend: backend,
		Credits: credits,
		Retry:   retry,
		Log:     log,
	}
}

// DefaultHandlers builds one handler per module over the given backends.
func DefaultHandlers(backends map[turn.Module]Backend, credits credit.Service, retry *reliability.Strategy, log *slog.Logger) map[turn.Module]*Handler {
	handlers := make(map[turn.Module]*Handler, len(turn.Modules))
	for _, module := range turn.Modules {
		backend := backends[module]
		if backend == nil {
			backend = NewMockBackend(module)
		}
		handlers[module] = NewHandler(module, backend, credits, retry, log)
	}
	return handlers
}

// Handle dispatches the first pending action matching this handler's module.
// No matching action is a no-op returning an empty update.
func (h *Handler) Handle(ctx context.Context, st *turn.State) *turn.Update {
	idx := -1
	for i, a := range st.PendingActions {
		if a.Module == h.Module {
			idx = i
			break
		}
	}
	if idx < 0 {
		return &turn.Update{}
	}

	item := st.PendingActions[idx]
	remaining := make([]turn.ActionItem, 0, len(st.PendingActions)-1)
	remaining = append(remaining, st.PendingActions[:idx]...)
	remaining = append(remaining, st.PendingActions[idx+1:]...)

	cost := h.estimateCost(item)
	opID := newOperationID()
	retries := st.RetryCount

	// Check credit before anything else.
	if err := h.retryStep(ctx, &retries, func() error {
		return h.Credits.Check(ctx, st.UserID, cost, item.Type)
	}); err != nil {
		return h.creditFailure(st, item, remaining, cost, retries, err)
	}

	actx := Context{UserID: st.UserID, SessionID: st.SessionID, OperationID: opID}

	if h.DeductUpfront {
		if err := h.retryStep(ctx, &retries, func() error {
			return h.Credits.Deduct(ctx, st.UserID, cost, item.Type, opID, item.Params)
		}); err != nil {
			return h.creditFailure(st, item, remaining, cost, retries, err)
		}
	}

	var backendResult *Result
	execErr := h.retryStep(ctx, &retries, func() error {
		res, err := h.Backend.Execute(ctx, item.Type, item.Params, actx)
		if err != nil {
			return err
		}
		backendResult = res
		return nil
	})
	if execErr != nil {
		return h.executionFailure(ctx, st, item, remaining, cost, opID, retries, execErr)
	}

	actual := cost
	if backendResult != nil && backendResult.Cost > 0 {
		actual = backendResult.Cost
	}

	if !h.DeductUpfront {
		// The action already succeeded for the user; a settlement failure is
		// logged and reconciled out of band, it does not fail the turn.
		if err := h.retryStep(ctx, &retries, func() error {
			return h.Credits.Deduct(ctx, st.UserID, actual, item.Type, opID, item.Params)
		}); err != nil {
			h.Log.Error("credit settlement failed after successful execution",
				"module", h.Module, "action", item.Type, "op_id", opID,
				"amount", actual, "error", err)
		} else {
			telemetry.RecordCreditDeduction(actual)
			if h.Events != nil {
				h.Events.CreditDeducted(st.UserID, actual, item.Type, opID)
			}
		}
	} else {
		telemetry.RecordCreditDeduction(cost)
		if h.Events != nil {
			h.Events.CreditDeducted(st.UserID, cost, item.Type, opID)
		}
		actual = cost
	}

	result := turn.ActionResult{
		ActionType: item.Type,
		Module:     h.Module,
		Status:     turn.StatusSuccess,
		Cost:       actual,
	}
	if backendResult != nil {
		result.Data = backendResult.Data
		result.IsMock = backendResult.Mock
	}
	telemetry.RecordAction(string(h.Module), string(turn.StatusSuccess))

	return &turn.Update{
		AppendResults:    []turn.ActionResult{result},
		SetPending:       true,
		PendingActions:   remaining,
		CreditChecked:    turn.Bool(true),
		CreditSufficient: turn.Bool(true),
		EstimatedCost:    turn.Float(cost),
		RetryCount:       turn.Int(retries),
	}
}

// retryStep wraps one protocol step in backoff, spending from the turn's
// shared retry budget so nested steps never exceed turn.MaxRetries combined.
func (h *Handler) retryStep(ctx context.Context, used *int, fn func() error) error {
	n, err := h.Retry.Limited(turn.MaxRetries - *used).ExecuteCounted(ctx, fn)
	*used += n
	return err
}

func (h *Handler) estimateCost(item turn.ActionItem) float64 {
	if item.EstimatedCost > 0 {
		return item.EstimatedCost
	}
	if cost, ok := h.Costs[item.Type]; ok {
		return cost
	}
	return DefaultCost
}

// creditFailure covers both short-circuit outcomes of the credit check:
// insufficient credit (terminal, surfaced verbatim) and a service failure
// after retries exhausted. Either way the action never executed, so cost is
// zero.
func (h *Handler) creditFailure(st *turn.State, item turn.ActionItem, remaining []turn.ActionItem, cost float64, retries int, err error) *turn.Update {
	var errInfo *turn.ErrorInfo
	sufficient := true

	var insufficient *credit.InsufficientError
	if errors.As(err, &insufficient) {
		sufficient = false
		errInfo = turn.NewError(turn.ErrInsufficientCredits, insufficient.Error()).
			WithDetail("required", insufficient.Required).
			WithDetail("available", insufficient.Available)
	} else {
		errInfo = turn.NewError(turn.ErrServiceUnavailable, "credit service unavailable: "+err.Error())
		errInfo.Retryable = false // retries already exhausted
	}

	h.Log.Warn("credit check failed", "module", h.Module, "action", item.Type,
		"amount", cost, "error", err)
	telemetry.RecordAction(string(h.Module), string(turn.StatusError))

	result := turn.ActionResult{
		ActionType: item.Type,
		Module:     h.Module,
		Status:     turn.StatusError,
		Error:      errInfo,
		Cost:       0,
	}
	return &turn.Update{
		AppendResults:    []turn.ActionResult{result},
		SetPending:       true,
		PendingActions:   remaining,
		CreditChecked:    turn.Bool(true),
		CreditSufficient: turn.Bool(sufficient),
		Error:            errInfo,
		RetryCount:       turn.Int(retries),
	}
}

// executionFailure handles a failed backend call. On the deduct-upfront path
// the prior deduction is compensated with exactly one refund attempt before
// the error propagates; the user is never charged for an action whose side
// effect did not happen.
func (h *Handler) executionFailure(ctx context.Context, st *turn.State, item turn.ActionItem, remaining []turn.ActionItem, cost float64, opID string, retries int, execErr error) *turn.Update {
	errInfo := classifyExecutionError(execErr)
	resultCost := 0.0

	if h.DeductUpfront {
		if refundErr := h.Credits.Refund(ctx, st.UserID, cost, item.Type, opID, execErr.Error()); refundErr != nil {
			// At-most-one compensation attempt; flag for reconciliation.
			h.Log.Error("refund failed after execution failure",
				"module", h.Module, "action", item.Type, "op_id", opID,
				"amount", cost, "error", refundErr)
			errInfo.WithDetail("refund_failed", true)
			resultCost = cost
		} else {
			telemetry.RecordCreditRefund(cost)
			if h.Events != nil {
				h.Events.CreditRefunded(st.UserID, cost, item.Type, opID)
			}
		}
	}

	h.Log.Warn("action execution failed", "module", h.Module, "action", item.Type,
		"op_id", opID, "error", execErr)
	telemetry.RecordAction(string(h.Module), string(turn.StatusError))

	result := turn.ActionResult{
		ActionType: item.Type,
		Module:     h.Module,
		Status:     turn.StatusError,
		Error:      errInfo,
		Cost:       resultCost,
	}
	return &turn.Update{
		AppendResults:    []turn.ActionResult{result},
		SetPending:       true,
		PendingActions:   remaining,
		CreditChecked:    turn.Bool(true),
		CreditSufficient: turn.Bool(true),
		Error:            errInfo,
		RetryCount:       turn.Int(retries),
	}
}

func classifyExecutionError(err error) *turn.ErrorInfo {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return turn.NewError(turn.ErrTimeout, err.Error())
	case reliability.IsRetriable(err):
		return turn.NewError(turn.ErrServiceUnavailable, err.Error())
	default:
		var existing *turn.ErrorInfo
		if errors.As(err, &existing) {
			return existing
		}
		return turn.NewError(turn.ErrUnexpected, err.Error())
	}
}

// newOperationID mints a sortable idempotency key for the credit protocol.
func newOperationID() string {
	return "op_" + ulid.Make().String()
}
