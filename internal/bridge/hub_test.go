// ABOUTME: Tests for the event hub
// ABOUTME: Checks the mirror, subscriber snapshots and slow subscriber handling
package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/Resonate-Protocol/auralis/internal/graph"
	"github.com/google/uuid"
)

func sinkOrb(description string) graph.Orb {
	return graph.NewOrb(uuid.New(), graph.Handle("sink/"+description), graph.PhysicalSink(description))
}

func TestHubMirror(t *testing.T) {
	hub := NewHub()
	a, b := sinkOrb("A"), sinkOrb("B")

	hub.Apply(graph.AddEvent(a))
	hub.Apply(graph.AddEvent(b))
	hub.Apply(graph.RemoveEvent(a.ID))
	hub.Apply(graph.RemoveEvent(uuid.New()))

	snap := hub.Snapshot()
	if len(snap) != 1 || snap[0].ID != b.ID {
		t.Errorf("expected only B mirrored, got %v", snap)
	}
	if _, ok := hub.Lookup(a.ID); ok {
		t.Error("removed orb should not be found")
	}
}

func TestHubReAddKeepsPosition(t *testing.T) {
	hub := NewHub()
	a, b := sinkOrb("A"), sinkOrb("B")
	hub.Apply(graph.AddEvent(a))
	hub.Apply(graph.AddEvent(b))

	renamed := a
	renamed.Name = "Den"
	hub.Apply(graph.AddEvent(renamed))

	snap := hub.Snapshot()
	if len(snap) != 2 || snap[0].Name != "Den" {
		t.Errorf("expected updated A first, got %v", snap)
	}
}

func TestHubSubscribeSnapshotThenEvents(t *testing.T) {
	hub := NewHub()
	a := sinkOrb("A")
	hub.Apply(graph.AddEvent(a))

	sub := hub.Subscribe(4)
	defer sub.Close()
	if len(sub.Snapshot) != 1 || sub.Snapshot[0].ID != a.ID {
		t.Fatalf("unexpected snapshot %v", sub.Snapshot)
	}

	hub.Apply(graph.RemoveEvent(a.ID))
	select {
	case ev := <-sub.Events:
		if ev.Type != graph.EventRemove || ev.ID != a.ID {
			t.Errorf("unexpected event %s", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the removal to be delivered")
	}
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := NewHub()
	slow := hub.Subscribe(1)
	fast := hub.Subscribe(8)
	defer fast.Close()

	for i := 0; i < 3; i++ {
		hub.Apply(graph.AddEvent(sinkOrb("X")))
	}

	n := 0
	for range slow.Events {
		n++
	}
	if n != 1 {
		t.Errorf("expected the slow subscriber to get one event before being dropped, got %d", n)
	}
	if len(fast.Events) != 3 {
		t.Errorf("fast subscriber should have every event, got %d", len(fast.Events))
	}

	// Closing a dropped subscription is harmless
	slow.Close()
}

func TestHubRunStopsWhenEventsClose(t *testing.T) {
	hub := NewHub()
	events := make(chan graph.Event, 1)
	events <- graph.AddEvent(sinkOrb("A"))
	close(events)

	done := make(chan struct{})
	go func() {
		hub.Run(context.Background(), events)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	if len(hub.Snapshot()) != 1 {
		t.Error("event before close should be applied")
	}
}
