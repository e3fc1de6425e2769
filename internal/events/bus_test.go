package events

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPublishFanOut(t *testing.T) {
	bus := New()
	a, unsubA := bus.Subscribe(4)
	defer unsubA()
	b, unsubB := bus.Subscribe(4)
	defer unsubB()

	bus.Publish(Event{Type: DeliverySucceeded, Data: Delivery{ArticleID: "website_1"}})

	for name, ch := range map[string]<-chan Event{"a": a, "b": b} {
		select {
		case e := <-ch:
			if diff := cmp.Diff(DeliverySucceeded, e.Type); diff != "" {
				t.Errorf("subscriber %s type mismatch (-want +got):\n%s", name, diff)
			}
			if e.Time.IsZero() {
				t.Errorf("subscriber %s: expected publish time to be set", name)
			}
		default:
			t.Errorf("subscriber %s got no event", name)
		}
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	bus := New()
	ch, unsub := bus.Subscribe(1)
	defer unsub()

	bus.Publish(Event{Type: "first"})
	bus.Publish(Event{Type: "second"})

	e := <-ch
	if diff := cmp.Diff("first", e.Type); diff != "" {
		t.Errorf("type mismatch (-want +got):\n%s", diff)
	}
	select {
	case e := <-ch:
		t.Errorf("expected dropped event, got %q", e.Type)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New()
	ch, unsub := bus.Subscribe(1)
	unsub()
	unsub()

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	bus.Publish(Event{Type: CycleFinished})
}
