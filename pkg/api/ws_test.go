package api

import (
	"errors"
	"testing"
	"time"

	"github.com/adpilot-ai/adpilot/pkg/orchestrator"
)

func TestForwardStreamDeliversInOrder(t *testing.T) {
	events := make(chan orchestrator.StreamEvent, 4)
	events <- orchestrator.StreamEvent{Type: orchestrator.EventStatus, Text: "routing"}
	events <- orchestrator.StreamEvent{Type: orchestrator.EventText, Text: "done"}
	events <- orchestrator.StreamEvent{Type: orchestrator.EventDone}
	close(events)

	var got []orchestrator.StreamEvent
	err := forwardStream(events, func(ev orchestrator.StreamEvent) error {
		got = append(got, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("forwardStream: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("forwarded %d events, want 3", len(got))
	}
	if got[0].Type != orchestrator.EventStatus || got[2].Type != orchestrator.EventDone {
		t.Fatalf("events out of order: %+v", got)
	}
}

func TestForwardStreamDrainsAfterWriteFailure(t *testing.T) {
	events := make(chan orchestrator.StreamEvent)
	produced := make(chan struct{})

	// The producer blocks on every send, like a turn emitting past the
	// channel buffer. It must still run to completion after the first
	// write fails.
	go func() {
		defer close(produced)
		for i := 0; i < 40; i++ {
			events <- orchestrator.StreamEvent{Type: orchestrator.EventText, Text: "chunk"}
		}
		close(events)
	}()

	writeErr := errors.New("peer gone")
	writes := 0
	err := forwardStream(events, func(orchestrator.StreamEvent) error {
		writes++
		return writeErr
	})
	if !errors.Is(err, writeErr) {
		t.Fatalf("err = %v, want %v", err, writeErr)
	}
	if writes != 1 {
		t.Fatalf("writes = %d, want 1 after first failure", writes)
	}

	select {
	case <-produced:
	case <-time.After(2 * time.Second):
		t.Fatal("producer still blocked after write failure")
	}
}
