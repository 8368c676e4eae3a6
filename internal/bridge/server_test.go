// ABOUTME: Tests for the WebSocket bridge
// ABOUTME: Drives the handshake, mirror replay, live events and requests over httptest
package bridge

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Resonate-Protocol/auralis/internal/graph"
	"github.com/Resonate-Protocol/auralis/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type testBridge struct {
	hub      *Hub
	server   *Server
	commands chan graph.Command
	url      string
}

func newTestBridge(t *testing.T) *testBridge {
	t.Helper()
	hub := NewHub()
	commands := make(chan graph.Command, 8)
	srv := New(Config{Name: "test-auralis"}, hub, commands)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testBridge{
		hub:      hub,
		server:   srv,
		commands: commands,
		url:      "ws" + strings.TrimPrefix(ts.URL, "http") + Path,
	}
}

func (b *testBridge) dial(t *testing.T, clientID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(b.url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	hello := protocol.Message{
		Type:    protocol.TypeClientHello,
		Payload: protocol.ClientHello{ClientID: clientID, Name: "test-ui", Version: protocol.ProtocolVersion},
	}
	if err := conn.WriteJSON(hello); err != nil {
		t.Fatalf("failed to send hello: %v", err)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg protocol.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return msg
}

// awaitSynced reads the hello and the mirror replay, returning the replayed adds
func awaitSynced(t *testing.T, conn *websocket.Conn) []protocol.Message {
	t.Helper()
	if msg := readMessage(t, conn); msg.Type != protocol.TypeServerHello {
		t.Fatalf("expected server/hello, got %s", msg.Type)
	}
	var replay []protocol.Message
	for {
		msg := readMessage(t, conn)
		if msg.Type == protocol.TypeOrbSynced {
			return replay
		}
		replay = append(replay, msg)
	}
}

func TestBridgeHandshakeReplaysMirror(t *testing.T) {
	b := newTestBridge(t)
	a := sinkOrb("Living Room")
	b.hub.Apply(graph.AddEvent(a))

	conn := b.dial(t, "ui-1")

	hello := readMessage(t, conn)
	if hello.Type != protocol.TypeServerHello {
		t.Fatalf("expected server/hello, got %s", hello.Type)
	}
	var sh protocol.ServerHello
	if err := protocol.DecodePayload(hello.Payload, &sh); err != nil || sh.Name != "test-auralis" {
		t.Errorf("unexpected server hello %+v (%v)", sh, err)
	}

	add := readMessage(t, conn)
	var info protocol.OrbInfo
	if err := protocol.DecodePayload(add.Payload, &info); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if add.Type != protocol.TypeOrbAdd || info.ID != a.ID.String() || info.Name != "Living Room" {
		t.Errorf("expected mirror replay of Living Room, got %s %+v", add.Type, info)
	}

	if msg := readMessage(t, conn); msg.Type != protocol.TypeOrbSynced {
		t.Fatalf("expected orb/synced after the replay, got %s", msg.Type)
	}

	// Live events follow the replay
	b.hub.Apply(graph.RemoveEvent(a.ID))
	removed := readMessage(t, conn)
	var r protocol.OrbRemoved
	protocol.DecodePayload(removed.Payload, &r)
	if removed.Type != protocol.TypeOrbRemove || r.ID != a.ID.String() {
		t.Errorf("expected orb/remove, got %s %+v", removed.Type, r)
	}
}

func TestBridgeTurnsRequestsIntoCommands(t *testing.T) {
	b := newTestBridge(t)
	conn := b.dial(t, "ui-1")
	awaitSynced(t, conn)

	src, dst := uuid.New(), uuid.New()
	conn.WriteJSON(protocol.Message{
		Type:    protocol.TypeOrbConnect,
		Payload: protocol.OrbRequest{Source: src.String(), Target: dst.String()},
	})
	conn.WriteJSON(protocol.Message{
		Type:    protocol.TypeOrbDisconnect,
		Payload: protocol.OrbRequest{Source: src.String()},
	})
	conn.WriteJSON(protocol.Message{Type: protocol.TypeShutdown})

	want := []graph.Command{graph.Connect(src, dst), graph.Disconnect(src, src), graph.Shutdown()}
	for i, w := range want {
		select {
		case got := <-b.commands:
			if got != w {
				t.Errorf("command %d: expected %s, got %s", i, w, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for command %d", i)
		}
	}
}

func TestBridgeRejectsBadRequest(t *testing.T) {
	b := newTestBridge(t)
	conn := b.dial(t, "ui-1")
	awaitSynced(t, conn)

	conn.WriteJSON(protocol.Message{
		Type:    protocol.TypeOrbConnect,
		Payload: protocol.OrbRequest{Source: "not-a-uuid", Target: uuid.NewString()},
	})

	msg := readMessage(t, conn)
	var se protocol.ServerError
	protocol.DecodePayload(msg.Payload, &se)
	if msg.Type != protocol.TypeServerError || se.Error != "invalid_request" {
		t.Errorf("expected invalid_request, got %s %+v", msg.Type, se)
	}
	if len(b.commands) != 0 {
		t.Error("bad request must not produce a command")
	}
}

func TestBridgeRejectsDuplicateClientID(t *testing.T) {
	b := newTestBridge(t)
	first := b.dial(t, "ui-1")
	awaitSynced(t, first)

	second := b.dial(t, "ui-1")
	msg := readMessage(t, second)
	var se protocol.ServerError
	protocol.DecodePayload(msg.Payload, &se)
	if msg.Type != protocol.TypeServerError || se.Error != "duplicate_client_id" {
		t.Errorf("expected duplicate_client_id, got %s %+v", msg.Type, se)
	}
	if n := b.server.ClientCount(); n != 1 {
		t.Errorf("expected 1 client, got %d", n)
	}
}

func TestBridgeRequiresHello(t *testing.T) {
	b := newTestBridge(t)
	conn, _, err := websocket.DefaultDialer.Dial(b.url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	conn.WriteJSON(protocol.Message{Type: protocol.TypeShutdown})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected the connection to be closed")
	}
	if len(b.commands) != 0 {
		t.Error("no command should be accepted before the handshake")
	}
}
