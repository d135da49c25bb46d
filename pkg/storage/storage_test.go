package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/adpilot-ai/adpilot/pkg/conversation"
	"github.com/adpilot-ai/adpilot/pkg/turn"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "adpilot-test.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSessionLifecycle(t *testing.T) {
	store := newTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	err := store.CreateSession(&Session{
		ID: "sess-1", UserID: "user-1",
		CreatedAt: now, LastActive: now,
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := store.GetSession("sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got == nil {
		t.Fatal("session not found")
	}
	if got.UserID != "user-1" || got.Status != SessionStatusActive {
		t.Errorf("session = %+v", got)
	}

	if err := store.SuspendSession("sess-1", "Reply yes to proceed or no to cancel."); err != nil {
		t.Fatalf("SuspendSession: %v", err)
	}
	got, _ = store.GetSession("sess-1")
	if got.Status != SessionStatusSuspended {
		t.Errorf("status = %s, want suspended", got.Status)
	}
	if got.PauseQuestion == "" {
		t.Error("pause question not stored")
	}

	if err := store.ResumeSession("sess-1"); err != nil {
		t.Fatalf("ResumeSession: %v", err)
	}
	got, _ = store.GetSession("sess-1")
	if got.Status != SessionStatusActive || got.PauseQuestion != "" {
		t.Errorf("after resume: %+v", got)
	}

	if err := store.CompleteSession("sess-1"); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}
	got, _ = store.GetSession("sess-1")
	if got.Status != SessionStatusCompleted || got.CompletedAt == nil {
		t.Errorf("after complete: %+v", got)
	}
}

func TestGetSessionMissing(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetSession("nope")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil", got)
	}
}

func TestEnsureSessionIdempotent(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 3; i++ {
		if err := store.EnsureSession("sess-1", "user-1"); err != nil {
			t.Fatalf("EnsureSession #%d: %v", i, err)
		}
	}

	sessions, err := store.ListSessions("user-1", 0)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Errorf("sessions = %d, want 1", len(sessions))
	}
}

func TestAddSessionCostAccumulates(t *testing.T) {
	store := newTestStore(t)
	store.EnsureSession("sess-1", "user-1")

	if err := store.AddSessionCost("sess-1", 4.0); err != nil {
		t.Fatalf("AddSessionCost: %v", err)
	}
	if err := store.AddSessionCost("sess-1", 2.5); err != nil {
		t.Fatalf("AddSessionCost: %v", err)
	}
	// Non-positive amounts are no-ops.
	if err := store.AddSessionCost("sess-1", 0); err != nil {
		t.Fatalf("AddSessionCost zero: %v", err)
	}

	got, err := store.GetSession("sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.TotalCost != 6.5 {
		t.Errorf("TotalCost = %v, want 6.5", got.TotalCost)
	}
}

func TestListSessionsScopedToUser(t *testing.T) {
	store := newTestStore(t)

	store.EnsureSession("sess-a", "user-1")
	store.EnsureSession("sess-b", "user-1")
	store.EnsureSession("sess-c", "user-2")

	sessions, err := store.ListSessions("user-1", 10)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Errorf("sessions = %d, want 2", len(sessions))
	}
	for _, s := range sessions {
		if s.UserID != "user-1" {
			t.Errorf("leaked session %+v", s)
		}
	}
}

func TestAppendAndListMessages(t *testing.T) {
	store := newTestStore(t)
	store.EnsureSession("sess-1", "user-1")

	msgs := []conversation.Message{
		conversation.NewUserMessage("generate 4 ad images"),
		conversation.NewAssistantMessage("Done. creative/generate_creative (success)."),
	}
	if err := store.AppendMessages("sess-1", msgs); err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}

	got, err := store.ListMessages("sess-1", 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("messages = %d, want 2", len(got))
	}
	if got[0].Role != conversation.RoleUser || got[1].Role != conversation.RoleAssistant {
		t.Errorf("order or roles wrong: %+v", got)
	}
	if got[0].Content != "generate 4 ad images" {
		t.Errorf("content = %q", got[0].Content)
	}

	count, err := store.CountMessages("sess-1")
	if err != nil {
		t.Fatalf("CountMessages: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	sess, _ := store.GetSession("sess-1")
	if sess.MessageCount != 2 {
		t.Errorf("session message_count = %d, want 2", sess.MessageCount)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	st := turn.NewState("user-1", "sess-1")
	st.CurrentIntent = turn.IntentGenerateCreative
	st.PendingActions = []turn.ActionItem{{
		Type: "generate_creative", Module: turn.ModuleCreative, EstimatedCost: 4,
	}}
	st.RequiresConfirmation = true

	if err := store.SaveCheckpoint(ctx, "sess-1", st); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	loaded, err := store.LoadCheckpoint(ctx, "sess-1")
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if loaded == nil {
		t.Fatal("checkpoint not found")
	}
	if loaded.CurrentIntent != turn.IntentGenerateCreative || !loaded.RequiresConfirmation {
		t.Errorf("loaded = %+v", loaded)
	}
	if len(loaded.PendingActions) != 1 || loaded.PendingActions[0].Type != "generate_creative" {
		t.Errorf("pending = %+v", loaded.PendingActions)
	}

	// Overwrite replaces, it does not stack.
	st.RequiresConfirmation = false
	if err := store.SaveCheckpoint(ctx, "sess-1", st); err != nil {
		t.Fatalf("SaveCheckpoint overwrite: %v", err)
	}
	loaded, _ = store.LoadCheckpoint(ctx, "sess-1")
	if loaded.RequiresConfirmation {
		t.Error("overwrite not applied")
	}

	if err := store.DeleteCheckpoint(ctx, "sess-1"); err != nil {
		t.Fatalf("DeleteCheckpoint: %v", err)
	}
	loaded, err = store.LoadCheckpoint(ctx, "sess-1")
	if err != nil || loaded != nil {
		t.Errorf("after delete: %+v, %v", loaded, err)
	}
}

func TestSessionOverrides(t *testing.T) {
	store := newTestStore(t)

	if err := store.SetSessionOverride("sess-1", OverrideMaxRounds, "40"); err != nil {
		t.Fatalf("SetSessionOverride: %v", err)
	}
	if err := store.SetSessionOverride("sess-1", OverrideMaxRounds, "60"); err != nil {
		t.Fatalf("SetSessionOverride update: %v", err)
	}
	if err := store.SetSessionOverride("sess-1", OverrideSummaryRounds, "5"); err != nil {
		t.Fatalf("SetSessionOverride: %v", err)
	}

	got, err := store.SessionOverrides("sess-1", OverrideMaxRounds, OverrideSummaryRounds, "missing")
	if err != nil {
		t.Fatalf("SessionOverrides: %v", err)
	}
	if got[OverrideMaxRounds] != "60" || got[OverrideSummaryRounds] != "5" {
		t.Errorf("overrides = %v", got)
	}
	if _, ok := got["missing"]; ok {
		t.Error("unset name should be absent")
	}

	// Overrides are scoped to their session.
	other, err := store.SessionOverrides("sess-2", OverrideMaxRounds)
	if err != nil {
		t.Fatalf("SessionOverrides other session: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("leaked overrides across sessions: %v", other)
	}

	// Empty value clears.
	if err := store.SetSessionOverride("sess-1", OverrideSummaryRounds, ""); err != nil {
		t.Fatalf("SetSessionOverride clear: %v", err)
	}
	got, _ = store.SessionOverrides("sess-1", OverrideSummaryRounds)
	if _, ok := got[OverrideSummaryRounds]; ok {
		t.Error("empty value should clear the override")
	}
}

func TestSchemaVersion(t *testing.T) {
	store := newTestStore(t)

	version, err := store.GetSchemaVersion()
	if err != nil {
		t.Fatalf("GetSchemaVersion: %v", err)
	}
	if version < 2 {
		t.Errorf("schema version = %d, want at least 2", version)
	}
}

func TestClosedStore(t *testing.T) {
	store := newTestStore(t)
	store.Close()

	if err := store.EnsureSession("sess-1", "user-1"); err == nil {
		t.Error("expected an error from a closed store")
	}
}
