// ABOUTME: Discovery classification policy for subsystem nodes
// ABOUTME: Filters synthetic and noise nodes, maps media classes to roles
package registry

import (
	"strings"

	"github.com/Resonate-Protocol/auralis/internal/graph"
)

// Policy decides which subsystem nodes become endpoints
type Policy struct {
	// ReservedPrefixes mark the engine's own combine sinks
	ReservedPrefixes []string

	// NoiseApps are application names never surfaced (exact match)
	NoiseApps []string

	// NoiseNames are substrings of node names never surfaced, compared
	// case-insensitively
	NoiseNames []string
}

// DefaultPolicy filters the engine's own sinks, the compositor and dummy outputs
func DefaultPolicy() Policy {
	return Policy{
		ReservedPrefixes: []string{"auralis_cluster_", "auralis_combined_"},
		NoiseApps:        []string{"Mutter"},
		NoiseNames:       []string{"mutter", "dummy"},
	}
}

// Classify maps a node to the kind of endpoint it should become. The second
// return is false when the node must be ignored.
func (p Policy) Classify(node graph.Node) (graph.Kind, bool) {
	if p.IsReserved(node.Name) || p.isNoise(node) {
		return graph.Kind{}, false
	}

	description := node.Description
	if description == "" {
		description = node.Name
	}

	switch node.MediaClass {
	case graph.MediaClassSink:
		return graph.PhysicalSink(description), true
	case graph.MediaClassStream:
		// Prefer what the application calls itself over the stream title
		name := node.AppName
		if name == "" {
			name = description
		}
		return graph.ApplicationSource(name), true
	default:
		return graph.Kind{}, false
	}
}

// IsReserved reports whether a sink name belongs to the engine itself
func (p Policy) IsReserved(name string) bool {
	for _, prefix := range p.ReservedPrefixes {
		if prefix != "" && strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func (p Policy) isNoise(node graph.Node) bool {
	for _, app := range p.NoiseApps {
		if app != "" && node.AppName == app {
			return true
		}
	}
	lower := strings.ToLower(node.Name)
	for _, frag := range p.NoiseNames {
		if frag != "" && strings.Contains(lower, strings.ToLower(frag)) {
			return true
		}
	}
	return false
}
