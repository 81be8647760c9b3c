package events

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestEmitRejectsUnknownEvent(t *testing.T) {
	if _, err := Emit("info", "puzzle.exploded", "", nil); err == nil {
		t.Fatal("expected error for unknown event name")
	}
}

func TestEmitCountsAndBuffers(t *testing.T) {
	Clear()
	before := TotalCount()

	b, err := Emit("info", "puzzle.solved", "", map[string]interface{}{"source": "remote"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		t.Fatalf("emitted bytes are not an event: %v", err)
	}
	if e.Name != "puzzle.solved" {
		t.Errorf("expected puzzle.solved, got %s", e.Name)
	}
	if TotalCount() != before+1 {
		t.Errorf("expected total %d, got %d", before+1, TotalCount())
	}
	if snap := Snapshot(); len(snap) != 1 {
		t.Errorf("expected 1 buffered event, got %d", len(snap))
	}
}

func TestSetOutputFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, false)
	defer SetOutput(nil, false)

	Emit("debug", "lights.request", "", map[string]interface{}{"strip": 1})
	Emit("info", "puzzle.reset", "", map[string]interface{}{"source": "tag"})

	out := buf.String()
	if strings.Contains(out, "lights.request") {
		t.Error("debug event written while debug output is off")
	}
	if !strings.Contains(out, `"event":"puzzle.reset"`) {
		t.Errorf("expected puzzle.reset line, got %q", out)
	}
	if n := strings.Count(out, "\n"); n != 1 {
		t.Errorf("expected 1 line, got %d", n)
	}
}

func TestStartSessionStampsEvents(t *testing.T) {
	Clear()
	first := StartSession()
	second := StartSession()
	if first == "" || first == second {
		t.Fatalf("expected two distinct session ids, got %q and %q", first, second)
	}
	if SessionID() != second {
		t.Errorf("expected current session %q, got %q", second, SessionID())
	}

	Emit("info", "puzzle.reset", "", nil)
	snap := Snapshot()
	last := snap[len(snap)-1]
	if last.SessionID != second {
		t.Errorf("expected event session %q, got %q", second, last.SessionID)
	}

	started := snap[len(snap)-2]
	if started.Name != "session.started" || started.Fields["previous_session_id"] != first {
		t.Errorf("expected session.started linking to %q, got %+v", first, started)
	}
}

func TestRingBufferWraps(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := 0; i < 5; i++ {
		rb.Add(Event{Name: "loop.started", Fields: map[string]interface{}{"i": i}})
	}
	snap := rb.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 events, got %d", len(snap))
	}
	if snap[0].Fields["i"] != 2 || snap[2].Fields["i"] != 4 {
		t.Errorf("expected oldest-first 2..4, got %v..%v", snap[0].Fields["i"], snap[2].Fields["i"])
	}

	rb.Clear()
	if len(rb.Snapshot()) != 0 {
		t.Error("expected empty buffer after Clear")
	}
}

func TestRingBufferLast(t *testing.T) {
	rb := NewRingBuffer(4)
	for i := 0; i < 6; i++ {
		rb.Add(Event{Name: "loop.started", Fields: map[string]interface{}{"i": i}})
	}
	if rb.Len() != 4 {
		t.Fatalf("Len = %d, want 4", rb.Len())
	}

	last := rb.Last(2)
	if len(last) != 2 || last[0].Fields["i"] != 4 || last[1].Fields["i"] != 5 {
		t.Errorf("Last(2) = %v", last)
	}
	if got := rb.Last(10); len(got) != 4 || got[0].Fields["i"] != 2 {
		t.Errorf("Last(10) should return all four, oldest 2; got %v", got)
	}
}
