// ABOUTME: WebSocket client for the Auralis bridge
// ABOUTME: Handles connection, handshake, event decoding and command requests
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/Resonate-Protocol/auralis/internal/graph"
	"github.com/Resonate-Protocol/auralis/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Config holds client configuration
type Config struct {
	ServerAddr string
	Path       string
	ClientID   string
	Name       string
	Version    int
	DeviceInfo protocol.DeviceInfo
}

// Client represents a WebSocket client
type Client struct {
	config Config
	conn   *websocket.Conn
	mu     sync.RWMutex

	// Events carries the mirror replay followed by live events. It is closed
	// when the connection ends.
	Events chan graph.Event

	// Errors carries rejections reported by the daemon
	Errors chan protocol.ServerError

	synced     chan struct{}
	syncedOnce sync.Once

	// State
	server    protocol.ServerHello
	connected bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewClient creates a new WebSocket client
func NewClient(config Config) *Client {
	if config.Path == "" {
		config.Path = "/auralis"
	}
	if config.ClientID == "" {
		config.ClientID = uuid.New().String()
	}
	if config.Version == 0 {
		config.Version = protocol.ProtocolVersion
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		config: config,
		Events: make(chan graph.Event, 100),
		Errors: make(chan protocol.ServerError, 10),
		synced: make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Connect establishes WebSocket connection and performs handshake
func (c *Client) Connect() error {
	u := url.URL{Scheme: "ws", Host: c.config.ServerAddr, Path: c.config.Path}
	log.Printf("Connecting to %s", u.String())

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	if err := c.handshake(); err != nil {
		c.Close()
		return fmt.Errorf("handshake failed: %w", err)
	}

	go c.readMessages()

	return nil
}

// handshake performs the protocol handshake
func (c *Client) handshake() error {
	hello := protocol.ClientHello{
		ClientID:   c.config.ClientID,
		Name:       c.config.Name,
		Version:    c.config.Version,
		DeviceInfo: &c.config.DeviceInfo,
	}

	if err := c.sendJSON(protocol.Message{Type: protocol.TypeClientHello, Payload: hello}); err != nil {
		return fmt.Errorf("failed to send client/hello: %w", err)
	}

	// Wait for server/hello (with timeout)
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read server/hello: %w", err)
	}
	c.conn.SetReadDeadline(time.Time{})

	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("failed to parse server/hello: %w", err)
	}

	switch msg.Type {
	case protocol.TypeServerHello:
	case protocol.TypeServerError:
		var se protocol.ServerError
		protocol.DecodePayload(msg.Payload, &se)
		return fmt.Errorf("rejected by server: %s", se.Message)
	default:
		return fmt.Errorf("expected server/hello, got %s", msg.Type)
	}

	var server protocol.ServerHello
	if err := protocol.DecodePayload(msg.Payload, &server); err != nil {
		return err
	}
	c.mu.Lock()
	c.server = server
	c.mu.Unlock()

	log.Printf("Handshake complete with %s", server.Name)
	return nil
}

// Synced is closed once the mirror replay has been delivered on Events
func (c *Client) Synced() <-chan struct{} {
	return c.synced
}

// ServerName returns the name the daemon announced
func (c *Client) ServerName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.server.Name
}

// sendJSON sends a JSON message
func (c *Client) sendJSON(msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return fmt.Errorf("not connected")
	}

	return c.conn.WriteJSON(msg)
}

// readMessages reads and routes incoming messages
func (c *Client) readMessages() {
	defer close(c.Events)
	defer c.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.ctx.Done():
			default:
				log.Printf("Read error: %v", err)
			}
			return
		}

		c.handleJSONMessage(data)
	}
}

// handleJSONMessage routes JSON messages
func (c *Client) handleJSONMessage(data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("Failed to parse JSON message: %v", err)
		return
	}

	switch msg.Type {
	case protocol.TypeOrbAdd:
		var info protocol.OrbInfo
		if err := protocol.DecodePayload(msg.Payload, &info); err != nil {
			log.Printf("Bad orb/add: %v", err)
			return
		}
		orb, err := info.Orb()
		if err != nil {
			log.Printf("Bad orb/add: %v", err)
			return
		}
		c.deliver(graph.AddEvent(orb))

	case protocol.TypeOrbRemove:
		var removed protocol.OrbRemoved
		if err := protocol.DecodePayload(msg.Payload, &removed); err != nil {
			log.Printf("Bad orb/remove: %v", err)
			return
		}
		id, err := uuid.Parse(removed.ID)
		if err != nil {
			log.Printf("Bad orb/remove: %v", err)
			return
		}
		c.deliver(graph.RemoveEvent(id))

	case protocol.TypeOrbSynced:
		c.syncedOnce.Do(func() { close(c.synced) })

	case protocol.TypeServerError:
		var se protocol.ServerError
		protocol.DecodePayload(msg.Payload, &se)
		select {
		case c.Errors <- se:
		default:
			log.Printf("Server error: %s: %s", se.Error, se.Message)
		}

	default:
		log.Printf("Unknown message type: %s", msg.Type)
	}
}

func (c *Client) deliver(ev graph.Event) {
	select {
	case c.Events <- ev:
	case <-c.ctx.Done():
	}
}

// RequestConnect asks the daemon to connect source to target
func (c *Client) RequestConnect(source, target uuid.UUID) error {
	return c.sendJSON(protocol.Message{
		Type:    protocol.TypeOrbConnect,
		Payload: protocol.OrbRequest{Source: source.String(), Target: target.String()},
	})
}

// RequestDisconnect asks the daemon to disconnect an endpoint
func (c *Client) RequestDisconnect(id uuid.UUID) error {
	return c.sendJSON(protocol.Message{
		Type:    protocol.TypeOrbDisconnect,
		Payload: protocol.OrbRequest{Source: id.String()},
	})
}

// RequestShutdown asks the daemon to tear everything down and stop
func (c *Client) RequestShutdown() error {
	return c.sendJSON(protocol.Message{Type: protocol.TypeShutdown})
}

// Close closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		c.connected = false
		c.cancel()
		c.conn.Close()
		log.Printf("Connection closed")
	}
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
