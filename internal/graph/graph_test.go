// ABOUTME: Tests for graph domain types
// ABOUTME: Checks kind copying, membership lookup, and orb presentation
package graph

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestClusterSinkCopiesMembers(t *testing.T) {
	members := []string{"A", "B"}
	kind := ClusterSink(members)
	members[0] = "Z"

	if kind.Members[0] != "A" {
		t.Errorf("expected member A, got %s", kind.Members[0])
	}
}

func TestKindCloneIsIndependent(t *testing.T) {
	kind := ClusterSink([]string{"A", "B"})
	clone := kind.Clone()
	clone.Members[1] = "C"

	if kind.Members[1] != "B" {
		t.Errorf("clone shares memory with original")
	}
}

func TestHasMember(t *testing.T) {
	kind := ClusterSink([]string{"Living Room", "Kitchen"})

	if !kind.HasMember("Kitchen") {
		t.Error("expected Kitchen to be a member")
	}
	if kind.HasMember("Garage") {
		t.Error("did not expect Garage to be a member")
	}
	if PhysicalSink("Kitchen").HasMember("Kitchen") {
		t.Error("non-cluster kinds have no members")
	}
}

func TestNewOrbPresentation(t *testing.T) {
	tests := []struct {
		kind     Kind
		wantName string
		wantIcon string
	}{
		{PhysicalSink("Kitchen"), "Kitchen", IconSink},
		{ApplicationSource("Firefox"), "Firefox", IconStream},
		{ClusterSink([]string{"A", "B", "C"}), "Cluster (3)", IconCluster},
		{BeamOutput("session-1"), "session-1", IconBeam},
	}

	for _, tt := range tests {
		orb := NewOrb(uuid.New(), "sink/1", tt.kind)
		if orb.Name != tt.wantName {
			t.Errorf("%s: expected name %q, got %q", tt.kind.Role, tt.wantName, orb.Name)
		}
		if orb.Icon != tt.wantIcon {
			t.Errorf("%s: expected icon %q, got %q", tt.kind.Role, tt.wantIcon, orb.Icon)
		}
		if orb.Status != StatusActive {
			t.Errorf("%s: expected status %q, got %q", tt.kind.Role, StatusActive, orb.Status)
		}
	}
}

func TestAddEventSnapshotsOrb(t *testing.T) {
	orb := NewOrb(uuid.New(), NoHandle, ClusterSink([]string{"A", "B"}))
	ev := AddEvent(orb)
	orb.Kind.Members[0] = "X"

	if ev.Orb.Kind.Members[0] != "A" {
		t.Error("event should hold its own copy of the orb")
	}
	if !strings.HasPrefix(ev.String(), "Add(") {
		t.Errorf("unexpected event string %q", ev.String())
	}
}

func TestCommandString(t *testing.T) {
	if Shutdown().String() != "Shutdown" {
		t.Errorf("unexpected %q", Shutdown().String())
	}
	a, b := uuid.New(), uuid.New()
	if got := Connect(a, b).String(); !strings.HasPrefix(got, "connect(") {
		t.Errorf("unexpected %q", got)
	}
}
