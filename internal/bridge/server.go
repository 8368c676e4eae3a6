// ABOUTME: WebSocket bridge between the engine and remote UIs
// ABOUTME: Streams the endpoint mirror to clients and turns their requests into commands
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Resonate-Protocol/auralis/internal/discovery"
	"github.com/Resonate-Protocol/auralis/internal/graph"
	"github.com/Resonate-Protocol/auralis/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Path is the WebSocket endpoint
	Path = "/auralis"

	writeDeadline  = 10 * time.Second
	pingInterval   = 30 * time.Second
	commandTimeout = 2 * time.Second
	clientBuffer   = 100
)

// Config holds bridge configuration
type Config struct {
	Port       int
	Name       string
	EnableMDNS bool
	Debug      bool
}

// Server accepts remote UI connections
type Server struct {
	config   Config
	serverID string
	hub      *Hub
	commands chan<- graph.Command

	// WebSocket upgrader
	upgrader websocket.Upgrader

	// HTTP server
	httpServer *http.Server
	mux        *http.ServeMux

	// Client management
	clients   map[string]*Client
	clientsMu sync.RWMutex

	// mDNS discovery
	mdnsManager *discovery.Manager

	// Control
	stopChan   chan struct{}
	stopOnce   sync.Once
	shutdownMu sync.RWMutex
	isShutdown bool
	wg         sync.WaitGroup
}

// Client represents a connected remote UI
type Client struct {
	ID   string
	Name string
	Conn *websocket.Conn

	// Output channel for messages
	sendChan chan interface{}
}

// New creates a bridge that mirrors hub and submits requests to commands
func New(config Config, hub *Hub, commands chan<- graph.Command) *Server {
	s := &Server{
		config:   config,
		serverID: uuid.New().String(),
		hub:      hub,
		commands: commands,
		mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Trusted local network only; browsers are not expected
				origin := r.Header.Get("Origin")
				if origin != "" {
					log.Printf("Warning: accepting WebSocket from origin: %s", origin)
				}
				return true
			},
		},
		clients:  make(map[string]*Client),
		stopChan: make(chan struct{}),
	}
	s.mux.HandleFunc(Path, s.handleWebSocket)
	return s
}

// Handler exposes the HTTP handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens until Stop is called
func (s *Server) Start() error {
	log.Printf("Bridge starting: %s (ID: %s)", s.config.Name, s.serverID)

	addr := fmt.Sprintf(":%d", s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if s.config.EnableMDNS {
		s.mdnsManager = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        s.config.Port,
			Path:        Path,
		})
		if err := s.mdnsManager.Advertise(); err != nil {
			log.Printf("Failed to start mDNS advertisement: %v", err)
		} else {
			log.Printf("mDNS advertisement started")
		}
	}

	log.Printf("WebSocket bridge listening on %s", addr)
	s.httpServer = &http.Server{Handler: s.mux}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	var serverErr error
	select {
	case <-s.stopChan:
		log.Printf("Bridge shutting down...")
	case err := <-errChan:
		log.Printf("HTTP server error: %v", err)
		serverErr = err
	}

	s.shutdownMu.Lock()
	s.isShutdown = true
	s.shutdownMu.Unlock()

	if s.mdnsManager != nil {
		s.mdnsManager.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// Hijacked connections are not closed by Shutdown
	s.closeClients()
	s.wg.Wait()
	log.Printf("Bridge stopped cleanly")

	if serverErr != nil {
		return fmt.Errorf("HTTP server failed: %w", serverErr)
	}
	return nil
}

// Stop stops the bridge
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) closeClients() {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for _, c := range s.clients {
		c.Conn.Close()
	}
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	log.Printf("New WebSocket connection from %s", r.RemoteAddr)
	s.wg.Add(1)
	defer s.wg.Done()
	s.handleConnection(conn)
}

// handleConnection manages a client connection
func (s *Server) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	s.shutdownMu.RLock()
	if s.isShutdown {
		s.shutdownMu.RUnlock()
		log.Printf("Rejecting connection during shutdown")
		return
	}
	s.shutdownMu.RUnlock()

	if s.config.Debug {
		log.Printf("[DEBUG] New connection, waiting for handshake")
	}

	hello, err := readHello(conn)
	if err != nil {
		log.Printf("Handshake failed: %v", err)
		return
	}

	log.Printf("Client hello: %s (ID: %s)", hello.Name, hello.ClientID)

	client := &Client{
		ID:       hello.ClientID,
		Name:     hello.Name,
		Conn:     conn,
		sendChan: make(chan interface{}, clientBuffer),
	}

	// Check for duplicate client ID and register atomically
	s.clientsMu.Lock()
	if existing, exists := s.clients[hello.ClientID]; exists {
		s.clientsMu.Unlock()
		log.Printf("Client ID %s already connected (name: %s), rejecting duplicate", hello.ClientID, existing.Name)
		writeDirect(conn, protocol.Message{
			Type: protocol.TypeServerError,
			Payload: protocol.ServerError{
				Error:   "duplicate_client_id",
				Message: "Client ID already connected",
			},
		})
		return
	}
	s.clients[client.ID] = client
	s.clientsMu.Unlock()

	// The mirror snapshot has to fit, or the client would start out of date
	sub := s.hub.Subscribe(clientBuffer)
	if len(sub.Snapshot)+2 > clientBuffer {
		client.sendChan = make(chan interface{}, len(sub.Snapshot)+clientBuffer)
	}

	forwarded := make(chan struct{})
	defer func() {
		sub.Close()
		<-forwarded
		s.clientsMu.Lock()
		delete(s.clients, client.ID)
		s.clientsMu.Unlock()
		close(client.sendChan)
		log.Printf("Client disconnected: %s", client.Name)
	}()

	s.sendMessage(client, protocol.TypeServerHello, protocol.ServerHello{
		ServerID: s.serverID,
		Name:     s.config.Name,
		Version:  protocol.ProtocolVersion,
	})
	for _, orb := range sub.Snapshot {
		s.send(client, protocol.EventMessage(graph.AddEvent(orb)))
	}
	s.send(client, protocol.Message{Type: protocol.TypeOrbSynced})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.clientWriter(client)
	}()

	go func() {
		defer close(forwarded)
		for ev := range sub.Events {
			if err := s.send(client, protocol.EventMessage(ev)); err != nil {
				log.Printf("Dropping %s: %v", client.Name, err)
				conn.Close()
				return
			}
		}
		// Closed by the hub when the client fell behind
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
		s.handleClientMessage(client, data)
	}
}

func readHello(conn *websocket.Conn) (protocol.ClientHello, error) {
	var hello protocol.ClientHello

	conn.SetReadDeadline(time.Now().Add(writeDeadline))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return hello, fmt.Errorf("error reading hello: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return hello, fmt.Errorf("error unmarshaling message: %w", err)
	}
	if msg.Type != protocol.TypeClientHello {
		return hello, fmt.Errorf("expected %s, got %s", protocol.TypeClientHello, msg.Type)
	}
	if err := protocol.DecodePayload(msg.Payload, &hello); err != nil {
		return hello, err
	}

	if hello.ClientID == "" {
		return hello, errors.New("client hello missing ClientID")
	}
	if hello.Name == "" {
		return hello, errors.New("client hello missing Name")
	}
	return hello, nil
}

func writeDirect(conn *websocket.Conn, msg protocol.Message) {
	if data, err := json.Marshal(msg); err == nil {
		conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		conn.WriteMessage(websocket.TextMessage, data)
	}
}

// clientWriter sends queued messages and keeps the connection alive
func (s *Server) clientWriter(client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.sendChan:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				log.Printf("Error marshaling message: %v", err)
				continue
			}
			client.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := client.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("Error writing text message: %v", err)
				client.Conn.Close()
				return
			}

		case <-ticker.C:
			if err := client.Conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}

// handleClientMessage turns client requests into engine commands
func (s *Server) handleClientMessage(client *Client, data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("Error unmarshaling message: %v", err)
		return
	}

	var cmd graph.Command
	switch msg.Type {
	case protocol.TypeOrbConnect, protocol.TypeOrbDisconnect:
		var req protocol.OrbRequest
		if err := protocol.DecodePayload(msg.Payload, &req); err != nil {
			s.reject(client, "invalid_request", err.Error())
			return
		}
		op := graph.OpConnect
		if msg.Type == protocol.TypeOrbDisconnect {
			op = graph.OpDisconnect
		}
		c, err := req.Command(op)
		if err != nil {
			s.reject(client, "invalid_request", err.Error())
			return
		}
		cmd = c
	case protocol.TypeShutdown:
		cmd = graph.Shutdown()
	default:
		log.Printf("Unknown message type: %s", msg.Type)
		s.reject(client, "unknown_type", msg.Type)
		return
	}

	if s.config.Debug {
		log.Printf("[DEBUG] %s requested %s", client.Name, cmd)
	}

	select {
	case s.commands <- cmd:
	case <-s.stopChan:
	case <-time.After(commandTimeout):
		log.Printf("Warning: command queue full, dropping %s from %s", cmd, client.Name)
		s.reject(client, "busy", "command queue full")
	}
}

func (s *Server) reject(client *Client, code, message string) {
	s.sendMessage(client, protocol.TypeServerError, protocol.ServerError{Error: code, Message: message})
}

// sendMessage queues a JSON message for a client
func (s *Server) sendMessage(client *Client, msgType string, payload interface{}) error {
	return s.send(client, protocol.Message{Type: msgType, Payload: payload})
}

func (s *Server) send(client *Client, msg protocol.Message) error {
	select {
	case client.sendChan <- msg:
		return nil
	default:
		return fmt.Errorf("client send buffer full")
	}
}
