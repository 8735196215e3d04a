package event

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/arkstor/coreplane"
)

func newTestBus(buf int) *Bus {
	return NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)), buf)
}

func TestRegisterDuplicate(t *testing.T) {
	t.Parallel()

	b := newTestBus(4)
	if err := b.Register("service.query", "service changes"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := b.Register("service.query", "again"); err == nil {
		t.Fatal("duplicate Register should fail")
	}
	if got := len(b.Sources()); got != 1 {
		t.Fatalf("Sources() = %d, want 1", got)
	}
}

func TestPublishSubscribe(t *testing.T) {
	t.Parallel()

	b := newTestBus(4)
	if err := b.Register("pool.query", ""); err != nil {
		t.Fatalf("Register: %v", err)
	}
	ch, cancel := b.Subscribe("pool.query")
	defer cancel()

	b.Publish("pool.query", ActionAdded, 1, coreplane.Record{"id": 1, "name": "tank"})

	select {
	case n := <-ch:
		if n.Action != ActionAdded {
			t.Errorf("action = %q, want ADDED", n.Action)
		}
		if n.Name != "pool.query" {
			t.Errorf("name = %q", n.Name)
		}
		if n.Fields["name"] != "tank" {
			t.Errorf("fields = %v", n.Fields)
		}
		if n.ID.IsNil() {
			t.Error("notification id missing")
		}
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestPublishUnregisteredDropped(t *testing.T) {
	t.Parallel()

	b := newTestBus(4)
	ch, cancel := b.Subscribe("no.such")
	defer cancel()

	b.Publish("no.such", ActionChanged, nil, nil)

	select {
	case n := <-ch:
		t.Fatalf("unexpected delivery: %+v", n)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFullBufferDropsNotBlocks(t *testing.T) {
	t.Parallel()

	b := newTestBus(1)
	if err := b.Register("jobs", ""); err != nil {
		t.Fatalf("Register: %v", err)
	}
	ch, cancel := b.Subscribe("jobs")
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Nobody is draining; the second publish must not block.
		b.Publish("jobs", ActionChanged, 1, nil)
		b.Publish("jobs", ActionChanged, 2, nil)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}

	n := <-ch
	if n.Key != 1 {
		t.Fatalf("kept notification key = %v, want 1", n.Key)
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	t.Parallel()

	b := newTestBus(4)
	if err := b.Register("jobs", ""); err != nil {
		t.Fatalf("Register: %v", err)
	}
	ch, cancel := b.Subscribe("jobs")
	cancel()
	cancel() // idempotent

	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after cancel")
	}
	// Publishing after cancel must not panic on the closed channel.
	b.Publish("jobs", ActionAdded, 1, nil)
}

func TestMultipleSubscribers(t *testing.T) {
	t.Parallel()

	b := newTestBus(4)
	if err := b.Register("alerts", ""); err != nil {
		t.Fatalf("Register: %v", err)
	}
	ch1, cancel1 := b.Subscribe("alerts")
	defer cancel1()
	ch2, cancel2 := b.Subscribe("alerts")
	defer cancel2()

	b.Publish("alerts", ActionAdded, "a1", nil)

	for i, ch := range []<-chan Notification{ch1, ch2} {
		select {
		case n := <-ch:
			if n.Key != "a1" {
				t.Errorf("subscriber %d key = %v", i, n.Key)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d missed notification", i)
		}
	}
}
