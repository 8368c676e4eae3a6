// ABOUTME: Presentation defaults for orbs
// ABOUTME: Derives display name and icon from an endpoint's kind
package graph

import (
	"fmt"

	"github.com/google/uuid"
)

// Icon names understood by the UI
const (
	IconSink    = "audio-card"
	IconStream  = "audio-x-generic"
	IconCluster = "view-grid-symbolic"
	IconBeam    = "network-wireless"
)

// StatusActive is the only status the engine currently reports
const StatusActive = "Active"

// NewOrb builds a floating orb with presentation fields derived from kind
func NewOrb(id uuid.UUID, handle Handle, kind Kind) Orb {
	orb := Orb{
		ID:     id,
		Handle: handle,
		Kind:   kind.Clone(),
		Status: StatusActive,
	}

	switch kind.Role {
	case RolePhysicalSink:
		orb.Name = kind.Description
		orb.Icon = IconSink
	case RoleApplicationSource:
		orb.Name = kind.AppName
		orb.Icon = IconStream
	case RoleClusterSink:
		orb.Name = fmt.Sprintf("Cluster (%d)", len(kind.Members))
		orb.Icon = IconCluster
	case RoleBeamOutput:
		orb.Name = kind.SessionID
		orb.Icon = IconBeam
	}

	return orb
}
