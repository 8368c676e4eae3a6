// ABOUTME: Auralis bridge message type definitions
// ABOUTME: Defines the JSON envelope and payloads exchanged with remote UIs
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/Resonate-Protocol/auralis/internal/graph"
	"github.com/google/uuid"
)

// ProtocolVersion is sent in both hellos
const ProtocolVersion = 1

// Message types
const (
	TypeClientHello   = "client/hello"
	TypeServerHello   = "server/hello"
	TypeServerError   = "server/error"
	TypeOrbAdd        = "orb/add"
	TypeOrbRemove     = "orb/remove"
	TypeOrbSynced     = "orb/synced"
	TypeOrbConnect    = "orb/connect"
	TypeOrbDisconnect = "orb/disconnect"
	TypeShutdown      = "engine/shutdown"
)

// Message is the top-level wrapper for all protocol messages
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// DecodePayload re-decodes a generic payload into v
func DecodePayload(payload interface{}, v interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return nil
}

// ClientHello is sent by clients to initiate the handshake
type ClientHello struct {
	ClientID   string      `json:"client_id"`
	Name       string      `json:"name"`
	Version    int         `json:"version"`
	DeviceInfo *DeviceInfo `json:"device_info,omitempty"`
}

// DeviceInfo contains device identification
type DeviceInfo struct {
	ProductName     string `json:"product_name"`
	Manufacturer    string `json:"manufacturer"`
	SoftwareVersion string `json:"software_version"`
}

// ServerHello is the server's response to client/hello
type ServerHello struct {
	ServerID string `json:"server_id"`
	Name     string `json:"name"`
	Version  int    `json:"version"`
}

// ServerError reports a rejected request
type ServerError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// OrbInfo is the wire form of an endpoint snapshot (orb/add)
type OrbInfo struct {
	ID          string   `json:"id"`
	Handle      string   `json:"handle,omitempty"`
	Role        string   `json:"role"`
	Name        string   `json:"name"`
	Icon        string   `json:"icon"`
	Status      string   `json:"status"`
	Description string   `json:"description,omitempty"`
	AppName     string   `json:"app_name,omitempty"`
	Members     []string `json:"members,omitempty"`
	SessionID   string   `json:"session_id,omitempty"`
	Orbiting    bool     `json:"orbiting,omitempty"`
	Parent      string   `json:"parent,omitempty"`
}

// OrbRemoved is the payload of orb/remove
type OrbRemoved struct {
	ID string `json:"id"`
}

// OrbRequest is the payload of orb/connect and orb/disconnect
type OrbRequest struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// NewOrbInfo converts an orb snapshot to its wire form
func NewOrbInfo(orb graph.Orb) OrbInfo {
	info := OrbInfo{
		ID:          orb.ID.String(),
		Handle:      string(orb.Handle),
		Role:        orb.Kind.Role.String(),
		Name:        orb.Name,
		Icon:        orb.Icon,
		Status:      orb.Status,
		Description: orb.Kind.Description,
		AppName:     orb.Kind.AppName,
		Members:     append([]string(nil), orb.Kind.Members...),
		SessionID:   orb.Kind.SessionID,
	}
	if orb.Placement.State == graph.Orbiting {
		info.Orbiting = true
		info.Parent = orb.Placement.Parent.String()
	}
	return info
}

// Orb converts the wire form back to an orb
func (o OrbInfo) Orb() (graph.Orb, error) {
	id, err := uuid.Parse(o.ID)
	if err != nil {
		return graph.Orb{}, fmt.Errorf("invalid orb id %q: %w", o.ID, err)
	}
	role, err := ParseRole(o.Role)
	if err != nil {
		return graph.Orb{}, err
	}

	orb := graph.Orb{
		ID:     id,
		Handle: graph.Handle(o.Handle),
		Kind: graph.Kind{
			Role:        role,
			Description: o.Description,
			AppName:     o.AppName,
			Members:     append([]string(nil), o.Members...),
			SessionID:   o.SessionID,
		},
		Name:   o.Name,
		Icon:   o.Icon,
		Status: o.Status,
	}
	if o.Orbiting {
		parent, err := uuid.Parse(o.Parent)
		if err != nil {
			return graph.Orb{}, fmt.Errorf("invalid parent %q: %w", o.Parent, err)
		}
		orb.Placement = graph.Placement{State: graph.Orbiting, Parent: parent}
	}
	return orb, nil
}

// ParseRole is the inverse of graph.Role.String
func ParseRole(s string) (graph.Role, error) {
	for _, r := range []graph.Role{
		graph.RolePhysicalSink,
		graph.RoleApplicationSource,
		graph.RoleClusterSink,
		graph.RoleBeamOutput,
	} {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// EventMessage converts an engine event to its wire message
func EventMessage(ev graph.Event) Message {
	if ev.Type == graph.EventAdd {
		return Message{Type: TypeOrbAdd, Payload: NewOrbInfo(ev.Orb)}
	}
	return Message{Type: TypeOrbRemove, Payload: OrbRemoved{ID: ev.ID.String()}}
}

// Command converts an orb request to an engine command
func (r OrbRequest) Command(op graph.CommandOp) (graph.Command, error) {
	source, err := uuid.Parse(r.Source)
	if err != nil {
		return graph.Command{}, fmt.Errorf("invalid source %q: %w", r.Source, err)
	}
	// Disconnect ignores its target, so it may be omitted
	target := source
	if r.Target != "" || op == graph.OpConnect {
		target, err = uuid.Parse(r.Target)
		if err != nil {
			return graph.Command{}, fmt.Errorf("invalid target %q: %w", r.Target, err)
		}
	}
	return graph.Command{Op: op, Source: source, Target: target}, nil
}
