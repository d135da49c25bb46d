package bus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestMemoryBusPublishSubscribe(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	var mu sync.Mutex
	var received []*Message

	_, err := b.Subscribe(context.Background(), SubjectTurnStarted, func(msg *Message) {
		mu.Lock()
		received = append(received, msg)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := b.Publish(context.Background(), SubjectTurnStarted, []byte(`{"turn_id":"t1"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := b.Publish(context.Background(), SubjectTurnCompleted, []byte(`{}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if received[0].Subject != SubjectTurnStarted {
		t.Errorf("subject = %s", received[0].Subject)
	}
	if string(received[0].Data) != `{"turn_id":"t1"}` {
		t.Errorf("data = %s", received[0].Data)
	}
}

func TestMemoryBusWildcards(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	var mu sync.Mutex
	counts := map[string]int{}
	subscribe := func(pattern string) {
		_, err := b.Subscribe(context.Background(), pattern, func(msg *Message) {
			mu.Lock()
			counts[pattern]++
			mu.Unlock()
		})
		if err != nil {
			t.Fatalf("Subscribe(%s): %v", pattern, err)
		}
	}
	subscribe("adpilot.>")
	subscribe("adpilot.turn.*")
	subscribe("adpilot.credit.*")

	b.Publish(context.Background(), SubjectTurnStarted, nil)
	b.Publish(context.Background(), SubjectTurnCompleted, nil)
	b.Publish(context.Background(), SubjectCreditDeducted, nil)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return counts["adpilot.>"] == 3 && counts["adpilot.turn.*"] == 2 && counts["adpilot.credit.*"] == 1
	})
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	var mu sync.Mutex
	got := 0
	sub, err := b.Subscribe(context.Background(), SubjectTurnStarted, func(msg *Message) {
		mu.Lock()
		got++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	b.Publish(context.Background(), SubjectTurnStarted, nil)
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got == 1
	})

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	b.Publish(context.Background(), SubjectTurnStarted, nil)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if got != 1 {
		t.Errorf("received %d messages after unsubscribe, want 1", got)
	}
}

func TestMemoryBusClosed(t *testing.T) {
	b := NewMemoryBus()
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := b.Publish(context.Background(), SubjectTurnStarted, nil); err != ErrClosed {
		t.Errorf("Publish after close = %v, want ErrClosed", err)
	}
	if _, err := b.Subscribe(context.Background(), SubjectTurnStarted, func(*Message) {}); err != ErrClosed {
		t.Errorf("Subscribe after close = %v, want ErrClosed", err)
	}
	if err := b.Close(); err != ErrClosed {
		t.Errorf("double Close = %v, want ErrClosed", err)
	}
}

func TestMatchSubject(t *testing.T) {
	tests := []struct {
		pattern string
		subject string
		want    bool
	}{
		{"adpilot.turn.started", "adpilot.turn.started", true},
		{"adpilot.turn.*", "adpilot.turn.started", true},
		{"adpilot.turn.*", "adpilot.credit.deducted", false},
		{"adpilot.>", "adpilot.turn.started", true},
		{"adpilot.>", "adpilot.credit.refunded", true},
		{"adpilot.>", "other.turn.started", false},
		{"adpilot.turn.started", "adpilot.turn", false},
		{"*.turn.started", "adpilot.turn.started", true},
	}

	for _, tt := range tests {
		if got := matchSubject(tt.pattern, tt.subject); got != tt.want {
			t.Errorf("matchSubject(%q, %q) = %v, want %v", tt.pattern, tt.subject, got, tt.want)
		}
	}
}
