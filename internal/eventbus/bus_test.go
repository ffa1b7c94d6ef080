package eventbus_test

import (
	"testing"

	"github.com/qdb-io/qdbd/internal/eventbus"
)

func TestBus_PublishReachesAllSubscribers(t *testing.T) {
	b := eventbus.New()

	var got1, got2 []any
	b.Subscribe(func(ev any) { got1 = append(got1, ev) })
	b.Subscribe(func(ev any) { got2 = append(got2, ev) })

	b.Publish("hello")
	b.Publish(42)

	if len(got1) != 2 || len(got2) != 2 {
		t.Fatalf("expected 2 events each, got %d and %d", len(got1), len(got2))
	}
	if got1[0] != "hello" || got1[1] != 42 {
		t.Fatalf("unexpected events: %v", got1)
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := eventbus.New()

	var n int
	unsub := b.Subscribe(func(ev any) { n++ })

	b.Publish(1)
	unsub()
	b.Publish(2)

	if n != 1 {
		t.Fatalf("expected 1 delivery after unsubscribe, got %d", n)
	}
}

func TestBus_UnsubscribeIsIdempotent(t *testing.T) {
	b := eventbus.New()
	unsub := b.Subscribe(func(ev any) {})
	unsub()
	unsub() // no debe panickear
	b.Publish("x")
}
