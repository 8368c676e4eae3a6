// ABOUTME: Domain types for the audio endpoint graph
// ABOUTME: Defines orbs, their roles, placement, and the subsystem node shape
package graph

import (
	"fmt"

	"github.com/google/uuid"
)

// Handle is the transient identifier the audio subsystem assigns to a node.
// It is only valid until the node is removed.
type Handle string

// NoHandle marks endpoints that have no subsystem node of their own (clusters).
const NoHandle Handle = ""

// ModuleID identifies a loaded mixing-facility instance (a pactl module index)
type ModuleID uint32

// Role classifies an endpoint. The variants are mutually exclusive.
type Role int

const (
	RolePhysicalSink Role = iota
	RoleApplicationSource
	RoleClusterSink
	RoleBeamOutput
)

func (r Role) String() string {
	switch r {
	case RolePhysicalSink:
		return "physical-sink"
	case RoleApplicationSource:
		return "application-source"
	case RoleClusterSink:
		return "cluster-sink"
	case RoleBeamOutput:
		return "beam-output"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Kind is the role of an endpoint plus the data that role carries.
// Only the field belonging to Role is meaningful.
type Kind struct {
	Role        Role
	Description string   // PhysicalSink: clustering key, e.g. "Sony Headphones"
	AppName     string   // ApplicationSource: owning application, e.g. "Firefox"
	Members     []string // ClusterSink: ordered member descriptions
	SessionID   string   // BeamOutput
}

// PhysicalSink builds the kind of a hardware output
func PhysicalSink(description string) Kind {
	return Kind{Role: RolePhysicalSink, Description: description}
}

// ApplicationSource builds the kind of a playing application stream
func ApplicationSource(appName string) Kind {
	return Kind{Role: RoleApplicationSource, AppName: appName}
}

// ClusterSink builds the kind of a merged virtual output.
// The member slice is copied.
func ClusterSink(members []string) Kind {
	return Kind{Role: RoleClusterSink, Members: append([]string(nil), members...)}
}

// BeamOutput builds the kind of a network relay target
func BeamOutput(sessionID string) Kind {
	return Kind{Role: RoleBeamOutput, SessionID: sessionID}
}

// Clone returns a copy that shares no memory with k
func (k Kind) Clone() Kind {
	if k.Members != nil {
		k.Members = append([]string(nil), k.Members...)
	}
	return k
}

// HasMember reports whether a cluster kind contains the description
func (k Kind) HasMember(description string) bool {
	for _, m := range k.Members {
		if m == description {
			return true
		}
	}
	return false
}

// PlacementState is a UI-only annotation; orchestration never reads it.
type PlacementState int

const (
	Floating PlacementState = iota
	Orbiting
)

// Placement records where the UI anchors an orb
type Placement struct {
	State  PlacementState
	Parent uuid.UUID // set when State is Orbiting
}

// Orb is a discovered audio endpoint
type Orb struct {
	ID        uuid.UUID
	Handle    Handle
	Kind      Kind
	Name      string
	Icon      string
	Status    string
	Placement Placement
}

// Clone returns a deep copy suitable for publishing as a snapshot
func (o Orb) Clone() Orb {
	o.Kind = o.Kind.Clone()
	return o
}

// Media classes reported by the audio subsystem
const (
	MediaClassSink   = "Audio/Sink"
	MediaClassStream = "Stream/Output/Audio"
)

// Node is what the audio subsystem reports about one of its nodes
type Node struct {
	Handle      Handle
	MediaClass  string
	Name        string // subsystem-level node name, e.g. alsa_output.pci-0000_00_1f.3.analog-stereo
	Description string
	AppName     string
}
