// ABOUTME: Event and command types crossing the engine boundary
// ABOUTME: Outbound orb events, inbound UI commands, inbound subsystem notifications
package graph

import (
	"fmt"

	"github.com/google/uuid"
)

// EventType distinguishes outbound events
type EventType int

const (
	EventAdd EventType = iota
	EventRemove
)

// Event is published by the engine. The UI treats the stream as an eventually
// consistent mirror of the visible endpoint set.
type Event struct {
	Type EventType
	Orb  Orb       // EventAdd
	ID   uuid.UUID // EventRemove
}

// AddEvent builds an EventAdd carrying a snapshot of orb
func AddEvent(orb Orb) Event {
	return Event{Type: EventAdd, Orb: orb.Clone()}
}

// RemoveEvent builds an EventRemove for id
func RemoveEvent(id uuid.UUID) Event {
	return Event{Type: EventRemove, ID: id}
}

func (e Event) String() string {
	if e.Type == EventAdd {
		return fmt.Sprintf("Add(%s %q %s)", e.Orb.ID, e.Orb.Name, e.Orb.Kind.Role)
	}
	return fmt.Sprintf("Remove(%s)", e.ID)
}

// CommandOp is one of the three command variants the UI may send
type CommandOp int

const (
	OpConnect CommandOp = iota
	OpDisconnect
	OpShutdown
)

func (op CommandOp) String() string {
	switch op {
	case OpConnect:
		return "connect"
	case OpDisconnect:
		return "disconnect"
	case OpShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("op(%d)", int(op))
	}
}

// Command is sent by the UI to the engine
type Command struct {
	Op     CommandOp
	Source uuid.UUID
	Target uuid.UUID
}

// Connect builds a Connect command
func Connect(source, target uuid.UUID) Command {
	return Command{Op: OpConnect, Source: source, Target: target}
}

// Disconnect builds a Disconnect command
func Disconnect(source, target uuid.UUID) Command {
	return Command{Op: OpDisconnect, Source: source, Target: target}
}

// Shutdown builds a Shutdown command
func Shutdown() Command {
	return Command{Op: OpShutdown}
}

func (c Command) String() string {
	if c.Op == OpShutdown {
		return "Shutdown"
	}
	return fmt.Sprintf("%s(%s, %s)", c.Op, c.Source, c.Target)
}

// NotificationOp distinguishes subsystem notifications
type NotificationOp int

const (
	NodeAdded NotificationOp = iota
	NodeRemoved
)

// Notification is a raw add/remove report from the audio subsystem.
// Removals only carry Node.Handle.
type Notification struct {
	Op   NotificationOp
	Node Node
}
