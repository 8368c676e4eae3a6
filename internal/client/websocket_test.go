// ABOUTME: Tests for WebSocket client implementation
// ABOUTME: Runs the client against a real bridge served by httptest
package client

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Resonate-Protocol/auralis/internal/bridge"
	"github.com/Resonate-Protocol/auralis/internal/graph"
	"github.com/google/uuid"
)

func TestNewClient(t *testing.T) {
	client := NewClient(Config{
		ServerAddr: "localhost:8928",
		Name:       "auralis-ctl",
	})
	if client == nil {
		t.Fatal("expected client to be created")
	}

	if client.config.Path != "/auralis" {
		t.Errorf("expected default path /auralis, got %s", client.config.Path)
	}
	if client.config.ClientID == "" {
		t.Error("expected a generated client ID")
	}
}

func startBridge(t *testing.T) (*bridge.Hub, chan graph.Command, string) {
	t.Helper()
	hub := bridge.NewHub()
	commands := make(chan graph.Command, 8)
	ts := httptest.NewServer(bridge.New(bridge.Config{Name: "den"}, hub, commands).Handler())
	t.Cleanup(ts.Close)
	return hub, commands, strings.TrimPrefix(ts.URL, "http://")
}

func nextEvent(t *testing.T, c *Client) graph.Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events:
		if !ok {
			t.Fatal("event stream closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return graph.Event{}
}

func TestClientMirrorsBridge(t *testing.T) {
	hub, _, addr := startBridge(t)
	orb := graph.NewOrb(uuid.New(), "sink/3", graph.PhysicalSink("Kitchen"))
	hub.Apply(graph.AddEvent(orb))

	c := NewClient(Config{ServerAddr: addr, Name: "auralis-ctl"})
	if err := c.Connect(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer c.Close()

	if c.ServerName() != "den" {
		t.Errorf("expected server name den, got %q", c.ServerName())
	}

	ev := nextEvent(t, c)
	if ev.Type != graph.EventAdd || ev.Orb.ID != orb.ID || ev.Orb.Kind.Description != "Kitchen" {
		t.Errorf("expected replay of Kitchen, got %s", ev)
	}
	select {
	case <-c.Synced():
	case <-time.After(2 * time.Second):
		t.Fatal("expected the replay to be marked complete")
	}

	hub.Apply(graph.RemoveEvent(orb.ID))
	ev = nextEvent(t, c)
	if ev.Type != graph.EventRemove || ev.ID != orb.ID {
		t.Errorf("expected removal, got %s", ev)
	}
}

func TestClientRequests(t *testing.T) {
	_, commands, addr := startBridge(t)

	c := NewClient(Config{ServerAddr: addr, Name: "auralis-ctl"})
	if err := c.Connect(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer c.Close()

	a, b := uuid.New(), uuid.New()
	if err := c.RequestConnect(a, b); err != nil {
		t.Fatalf("connect request failed: %v", err)
	}
	if err := c.RequestDisconnect(a); err != nil {
		t.Fatalf("disconnect request failed: %v", err)
	}

	want := []graph.Command{graph.Connect(a, b), graph.Disconnect(a, a)}
	for _, w := range want {
		select {
		case got := <-commands:
			if got != w {
				t.Errorf("expected %s, got %s", w, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", w)
		}
	}
}

func TestClientRejectedDuplicate(t *testing.T) {
	_, _, addr := startBridge(t)

	first := NewClient(Config{ServerAddr: addr, ClientID: "same", Name: "one"})
	if err := first.Connect(); err != nil {
		t.Fatalf("first connect failed: %v", err)
	}
	defer first.Close()

	second := NewClient(Config{ServerAddr: addr, ClientID: "same", Name: "two"})
	if err := second.Connect(); err == nil {
		second.Close()
		t.Fatal("expected duplicate client ID to be rejected")
	}
	if second.IsConnected() {
		t.Error("rejected client should not report connected")
	}
}

func TestClientEventsCloseOnDisconnect(t *testing.T) {
	_, _, addr := startBridge(t)

	c := NewClient(Config{ServerAddr: addr, Name: "auralis-ctl"})
	if err := c.Connect(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	c.Close()

	select {
	case _, ok := <-c.Events:
		if ok {
			t.Error("expected no events after close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events channel was not closed")
	}
}
