// ABOUTME: Mixing facility backed by the pactl and pw-link tools
// ABOUTME: Loads combine sinks, moves streams, manages the default output and purges leftovers
package pulse

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/Resonate-Protocol/auralis/internal/graph"
)

// MixParams are the fixed parameters of every combine sink
type MixParams struct {
	Rate              int
	Channels          int
	LatencyCompensate bool
}

// DefaultMixParams matches what the audio server expects for a stereo cluster
func DefaultMixParams() MixParams {
	return MixParams{Rate: 48000, Channels: 2, LatencyCompensate: true}
}

// Module is one line of `pactl list modules short`
type Module struct {
	ID   graph.ModuleID
	Name string
	Args string
}

// Pactl talks to PulseAudio (or pipewire-pulse) through its command-line tools
type Pactl struct {
	runner Runner
}

// NewPactl creates a facility using runner; nil means ExecRunner
func NewPactl(runner Runner) *Pactl {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Pactl{runner: runner}
}

// LoadCombineSink creates a combine sink spanning slaves and returns its module
func (p *Pactl) LoadCombineSink(ctx context.Context, sinkName string, slaves []string, params MixParams) (graph.ModuleID, error) {
	if len(slaves) == 0 {
		return 0, errors.New("combine sink needs at least one slave")
	}

	args := []string{
		"load-module", "module-combine-sink",
		"sink_name=" + sinkName,
		"slaves=" + strings.Join(slaves, ","),
	}
	if params.LatencyCompensate {
		args = append(args, "latency_compensate=yes")
	}
	if params.Rate > 0 {
		args = append(args, fmt.Sprintf("rate=%d", params.Rate))
	}
	if params.Channels > 0 {
		args = append(args, fmt.Sprintf("channels=%d", params.Channels))
	}

	out, err := p.runner.Run(ctx, "pactl", args...)
	if err != nil {
		return 0, fmt.Errorf("load combine sink %s: %w", sinkName, err)
	}
	return parseModuleID(out)
}

// LoadNullSink creates a silent sink, used for mock devices
func (p *Pactl) LoadNullSink(ctx context.Context, sinkName, description string) (graph.ModuleID, error) {
	out, err := p.runner.Run(ctx, "pactl", "load-module", "module-null-sink",
		"sink_name="+sinkName,
		"sink_properties=device.description="+escapeModArg(description))
	if err != nil {
		return 0, fmt.Errorf("load null sink %s: %w", sinkName, err)
	}
	return parseModuleID(out)
}

// UnloadModule tears down a module by index
func (p *Pactl) UnloadModule(ctx context.Context, id graph.ModuleID) error {
	if _, err := p.runner.Run(ctx, "pactl", "unload-module", strconv.FormatUint(uint64(id), 10)); err != nil {
		return fmt.Errorf("unload module %d: %w", id, err)
	}
	return nil
}

// DefaultSink returns the node name of the system default output
func (p *Pactl) DefaultSink(ctx context.Context) (string, error) {
	out, err := p.runner.Run(ctx, "pactl", "get-default-sink")
	if err != nil {
		return "", fmt.Errorf("get default sink: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// SetDefaultSink points the system default output at sink
func (p *Pactl) SetDefaultSink(ctx context.Context, sink string) error {
	if _, err := p.runner.Run(ctx, "pactl", "set-default-sink", sink); err != nil {
		return fmt.Errorf("set default sink %s: %w", sink, err)
	}
	return nil
}

// MoveAllStreams moves every playing stream to sink. Streams that vanish
// between listing and moving are reported but do not stop the others.
func (p *Pactl) MoveAllStreams(ctx context.Context, sink string) error {
	out, err := p.runner.Run(ctx, "pactl", "list", "sink-inputs", "short")
	if err != nil {
		return fmt.Errorf("list sink inputs: %w", err)
	}

	var errs []error
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if _, err := p.runner.Run(ctx, "pactl", "move-sink-input", fields[0], sink); err != nil {
			errs = append(errs, fmt.Errorf("move sink input %s: %w", fields[0], err))
		}
	}
	return errors.Join(errs...)
}

// Link connects a source node directly to a sink node
func (p *Pactl) Link(ctx context.Context, source, sink string) error {
	if _, err := p.runner.Run(ctx, "pw-link", source, sink); err != nil {
		return fmt.Errorf("link %s to %s: %w", source, sink, err)
	}
	return nil
}

// ListModules returns every loaded module
func (p *Pactl) ListModules(ctx context.Context) ([]Module, error) {
	out, err := p.runner.Run(ctx, "pactl", "list", "modules", "short")
	if err != nil {
		return nil, fmt.Errorf("list modules: %w", err)
	}

	var modules []Module
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.SplitN(strings.TrimSpace(line), "\t", 3)
		if len(fields) < 2 {
			continue
		}
		id, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			continue
		}
		m := Module{ID: graph.ModuleID(id), Name: fields[1]}
		if len(fields) == 3 {
			m.Args = fields[2]
		}
		modules = append(modules, m)
	}
	return modules, nil
}

// PurgeStale unloads combine sinks whose name starts with one of the
// reserved prefixes and null sinks named with mockPrefix. It returns the
// number of modules unloaded.
func (p *Pactl) PurgeStale(ctx context.Context, reserved []string, mockPrefix string) (int, error) {
	modules, err := p.ListModules(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, m := range modules {
		if !IsStale(m, reserved, mockPrefix) {
			continue
		}
		log.Printf("Found stale module %d: %s %s", m.ID, m.Name, m.Args)
		if err := p.UnloadModule(ctx, m.ID); err != nil {
			log.Printf("Failed to unload stale module %d: %v", m.ID, err)
			continue
		}
		count++
	}
	return count, nil
}

// IsStale reports whether a module was left behind by a previous run
func IsStale(m Module, reserved []string, mockPrefix string) bool {
	switch m.Name {
	case "module-combine-sink":
		for _, prefix := range reserved {
			if prefix != "" && strings.Contains(m.Args, "sink_name="+prefix) {
				return true
			}
		}
	case "module-null-sink":
		return mockPrefix != "" && strings.Contains(m.Args, "sink_name="+mockPrefix)
	}
	return false
}

func parseModuleID(out []byte) (graph.ModuleID, error) {
	s := strings.TrimSpace(string(out))
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("unexpected module index %q: %w", s, err)
	}
	return graph.ModuleID(id), nil
}

// Module arguments are split on whitespace by the audio server
func escapeModArg(s string) string {
	return strings.ReplaceAll(s, " ", `\ `)
}
