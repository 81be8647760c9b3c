package mqtt

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/AaronLay10/AlchemyMachine/internal/puzzle"
)

func TestHostReporter(t *testing.T) {
	pub := newMockPublisher()
	r := NewHostReporter(pub, "ToHost/AlchemyMachine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	r.Announce()
	r.Transition(puzzle.StatePowered, puzzle.StateSolved, "solve:sensors")

	for i := 0; i < 2; i++ {
		select {
		case <-pub.sent:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for publish")
		}
	}

	msgs := pub.messages()
	if msgs[0].topic != "ToHost/AlchemyMachine" || msgs[0].payload != ConnectedMessage || msgs[0].retained {
		t.Errorf("unexpected banner: %+v", msgs[0])
	}
	if msgs[1].topic != "ToHost/AlchemyMachine/state" || !msgs[1].retained {
		t.Errorf("unexpected state message: %+v", msgs[1])
	}

	var report StateReport
	if err := json.Unmarshal([]byte(msgs[1].payload), &report); err != nil {
		t.Fatalf("invalid report: %v", err)
	}
	if report.State != puzzle.StateSolved || report.From != puzzle.StatePowered {
		t.Errorf("unexpected report: %+v", report)
	}
}
