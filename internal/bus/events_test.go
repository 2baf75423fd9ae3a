package bus

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestEventBus_EmitAndReceive(t *testing.T) {
	eb := NewEventBus(testLogger())

	var got Event
	eb.On(EventReplyFailed, func(e Event) { got = e })

	eb.Emit(Event{Type: EventReplyFailed, Payload: map[string]any{"chat_id": "42"}})

	if got.Payload["chat_id"] != "42" {
		t.Fatalf("expected payload chat_id=42, got %v", got.Payload)
	}
}

func TestEventBus_WildcardHandler(t *testing.T) {
	eb := NewEventBus(testLogger())

	count := 0
	eb.On("*", func(e Event) { count++ })

	eb.Emit(Event{Type: EventReceived})
	eb.Emit(Event{Type: EventExtractionCompleted})

	if count != 2 {
		t.Errorf("expected 2, got %d", count)
	}
}

func TestEventBus_Off(t *testing.T) {
	eb := NewEventBus(testLogger())

	count := 0
	id := eb.On("test.event", func(e Event) { count++ })

	eb.Emit(Event{Type: "test.event"})
	eb.Off("test.event", id)
	eb.Emit(Event{Type: "test.event"})

	if count != 1 {
		t.Errorf("expected 1 after unsubscribe, got %d", count)
	}
}

func TestEventBus_HandlerIDsUniqueAfterOff(t *testing.T) {
	eb := NewEventBus(testLogger())

	first := eb.On("x", func(Event) {})
	second := eb.On("x", func(Event) {})
	eb.Off("x", first)
	third := eb.On("x", func(Event) {})

	if third == second {
		t.Fatalf("handler id reused: %s", third)
	}
}

func TestEventBus_Replay(t *testing.T) {
	eb := NewEventBus(testLogger())

	eb.Emit(Event{Type: "a"})
	eb.Emit(Event{Type: "b"})
	eb.Emit(Event{Type: "a"})

	if n := len(eb.Replay("a", time.Time{})); n != 2 {
		t.Errorf("expected 2 'a' events, got %d", n)
	}
	if n := len(eb.Replay("*", time.Time{})); n != 3 {
		t.Errorf("expected 3 total events, got %d", n)
	}
}

func TestEventBus_ReplaySince(t *testing.T) {
	eb := NewEventBus(testLogger())

	eb.Emit(Event{Type: "old", Timestamp: time.Now().Add(-time.Hour)})
	threshold := time.Now()
	eb.Emit(Event{Type: "new"})

	if n := len(eb.Replay("*", threshold)); n != 1 {
		t.Errorf("expected 1 event since threshold, got %d", n)
	}
}

func TestEventBus_HistoryLimit(t *testing.T) {
	eb := NewEventBus(testLogger())
	eb.maxHistory = 5

	for i := 0; i < 10; i++ {
		eb.Emit(Event{Type: "test"})
	}

	if eb.HistoryLen() != 5 {
		t.Errorf("expected 5, got %d", eb.HistoryLen())
	}
}

func TestEventBus_PanicRecovery(t *testing.T) {
	eb := NewEventBus(testLogger())

	after := false
	eb.On("panic", func(e Event) { panic("test panic") })
	eb.On("panic", func(e Event) { after = true })

	eb.Emit(Event{Type: "panic"})

	if !after {
		t.Error("handler after a panicking one should still run")
	}
}

func TestEventBus_TimestampAutoSet(t *testing.T) {
	eb := NewEventBus(testLogger())

	eb.Emit(Event{Type: "test"})

	events := eb.Replay("test", time.Time{})
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Timestamp.IsZero() {
		t.Error("timestamp should be auto-set")
	}
}
