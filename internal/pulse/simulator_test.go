// ABOUTME: Tests for the in-memory audio server
// ABOUTME: Checks module lifecycle, stream movement, and notification ordering
package pulse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Resonate-Protocol/auralis/internal/graph"
)

func listen(t *testing.T, sim *Simulator) <-chan graph.Notification {
	t.Helper()
	out := make(chan graph.Notification, 64)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sim.Run(ctx, out)

	// Changes made before Run starts listening would only show up in the snapshot
	deadline := time.Now().Add(time.Second)
	for !sim.isListening() {
		if time.Now().After(deadline) {
			t.Fatal("simulator never started listening")
		}
		time.Sleep(time.Millisecond)
	}
	return out
}

func collect(t *testing.T, notes <-chan graph.Notification, n int) []graph.Notification {
	t.Helper()
	var got []graph.Notification
	for len(got) < n {
		select {
		case note := <-notes:
			got = append(got, note)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d of %d notifications", len(got), n)
		}
	}
	return got
}

func TestSimulatorRunEnumeratesThenFollows(t *testing.T) {
	sim := NewSimulator()
	first := sim.AddSink("alsa_a", "A")
	gone := sim.AddSink("alsa_b", "B")
	sim.Remove(gone)

	notes := listen(t, sim)
	initial := collect(t, notes, 1)
	if initial[0].Node.Handle != first {
		t.Errorf("expected only the live sink to be enumerated, got %+v", initial)
	}

	later := sim.AddSink("alsa_c", "C")
	sim.Remove(later)
	changes := collect(t, notes, 2)
	if changes[0].Op != graph.NodeAdded || changes[1].Op != graph.NodeRemoved || changes[1].Node.Handle != later {
		t.Errorf("unexpected changes %+v", changes)
	}
}

func TestSimulatorCombineSinkLifecycle(t *testing.T) {
	sim := NewSimulator()
	ctx := context.Background()
	notes := listen(t, sim)

	sim.AddSink("alsa_a", "A")
	sim.AddSink("alsa_b", "B")
	stream := sim.AddStream("firefox", "Firefox", "YouTube")

	id, err := sim.LoadCombineSink(ctx, "auralis_cluster_1", []string{"alsa_a", "alsa_b"}, DefaultMixParams())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if err := sim.SetDefaultSink(ctx, "auralis_cluster_1"); err != nil {
		t.Fatalf("set default failed: %v", err)
	}
	if err := sim.MoveAllStreams(ctx, "auralis_cluster_1"); err != nil {
		t.Fatalf("move failed: %v", err)
	}
	if got := sim.StreamSink(stream); got != "auralis_cluster_1" {
		t.Errorf("expected stream on cluster, got %q", got)
	}

	if err := sim.UnloadModule(ctx, id); err != nil {
		t.Fatalf("unload failed: %v", err)
	}
	if got := sim.StreamSink(stream); got == "auralis_cluster_1" {
		t.Error("stream should have fallen back off the unloaded sink")
	}
	if err := sim.UnloadModule(ctx, id); err == nil {
		t.Error("second unload should fail")
	}

	got := collect(t, notes, 5)
	if got[3].Op != graph.NodeAdded || got[3].Node.Name != "auralis_cluster_1" {
		t.Errorf("expected combine sink add, got %+v", got[3])
	}
	if got[4].Op != graph.NodeRemoved {
		t.Errorf("expected combine sink removal, got %+v", got[4])
	}
}

func TestSimulatorRejectsUnknownSlave(t *testing.T) {
	sim := NewSimulator()
	sim.AddSink("alsa_a", "A")

	if _, err := sim.LoadCombineSink(context.Background(), "c", []string{"alsa_a", "missing"}, DefaultMixParams()); err == nil {
		t.Error("expected unknown slave to fail")
	}
	if len(sim.Modules()) != 0 {
		t.Error("failed load must not leave a module behind")
	}
}

func TestSimulatorInjectedFailures(t *testing.T) {
	sim := NewSimulator()
	sim.AddSink("alsa_a", "A")
	boom := errors.New("connection refused")

	sim.FailLoad(boom)
	if _, err := sim.LoadNullSink(context.Background(), "Mock1", "Kitchen"); !errors.Is(err, boom) {
		t.Errorf("expected injected load error, got %v", err)
	}
	sim.FailLoad(nil)

	id, err := sim.LoadNullSink(context.Background(), "Mock1", "Kitchen")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	sim.FailUnload(boom)
	if err := sim.UnloadModule(context.Background(), id); !errors.Is(err, boom) {
		t.Errorf("expected injected unload error, got %v", err)
	}
}

func TestSimulatorPurgeStale(t *testing.T) {
	sim := NewSimulator()
	ctx := context.Background()
	sim.AddSink("alsa_a", "A")
	sim.AddSink("alsa_b", "B")

	sim.LoadCombineSink(ctx, "auralis_cluster_old", []string{"alsa_a", "alsa_b"}, DefaultMixParams())
	sim.LoadNullSink(ctx, "Mock1", "Kitchen")
	sim.LoadNullSink(ctx, "recorder", "Recorder")

	count, err := sim.PurgeStale(ctx, []string{"auralis_cluster_"}, "Mock")
	if err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 purged modules, got %d", count)
	}
	if len(sim.Modules()) != 1 {
		t.Errorf("expected only the unrelated null sink to remain, got %v", sim.Modules())
	}
}

func TestSimulatorLink(t *testing.T) {
	sim := NewSimulator()
	sim.Link(context.Background(), "firefox", "alsa_a")

	links := sim.Links()
	if len(links) != 1 || links[0] != (Link{Source: "firefox", Sink: "alsa_a"}) {
		t.Errorf("unexpected links %v", links)
	}
}
