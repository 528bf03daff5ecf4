package events

import (
	"testing"

	"go.uber.org/zap"
)

func TestBusFanOut(t *testing.T) {
	bus := NewBus(zap.NewNop())
	defer bus.Close()

	a := bus.Subscribe(4)
	b := bus.Subscribe(4)

	bus.Publish(StandingsChanged{ContestID: "c1"})

	for _, ch := range []<-chan interface{}{a, b} {
		ev, ok := (<-ch).(StandingsChanged)
		if !ok || ev.ContestID != "c1" {
			t.Fatalf("got %#v, want StandingsChanged for c1", ev)
		}
	}
}

func TestBusPublishNeverBlocks(t *testing.T) {
	bus := NewBus(zap.NewNop())
	defer bus.Close()

	ch := bus.Subscribe(1)
	bus.Publish(StandingsChanged{ContestID: "c1"})
	bus.Publish(StandingsChanged{ContestID: "c2"}) // dropped, buffer full

	ev := (<-ch).(StandingsChanged)
	if ev.ContestID != "c1" {
		t.Errorf("got %s, want c1", ev.ContestID)
	}
	select {
	case extra := <-ch:
		t.Errorf("unexpected second event %#v", extra)
	default:
	}
}

func TestBusPublishAfterClose(t *testing.T) {
	bus := NewBus(zap.NewNop())
	ch := bus.Subscribe(1)
	bus.Close()

	bus.Publish(StandingsChanged{ContestID: "c1"}) // no-op, must not panic

	if _, ok := <-ch; ok {
		t.Error("expected closed channel")
	}
}
