// ABOUTME: In-memory audio server used by tests and the daemon's simulate mode
// ABOUTME: Implements the mixing facility and the notification source without pactl
package pulse

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Resonate-Protocol/auralis/internal/graph"
)

// Link is a direct source to sink connection made by the simulator
type Link struct {
	Source string
	Sink   string
}

type simModule struct {
	Module
	sink graph.Handle
}

// Simulator behaves like a small PulseAudio server. Run reports the current
// nodes and then every change, including sinks created by loaded modules.
type Simulator struct {
	mu          sync.Mutex
	nextIndex   uint32
	nextModule  graph.ModuleID
	nodes       map[graph.Handle]graph.Node
	order       []graph.Handle
	modules     map[graph.ModuleID]simModule
	streams     map[graph.Handle]string // stream -> sink node name
	links       []Link
	defaultSink string
	calls       []string
	loadErr     error
	unloadErr   error

	listening bool
	notes     chan graph.Notification
}

// NewSimulator creates an empty simulated server
func NewSimulator() *Simulator {
	return &Simulator{
		nextIndex:  1,
		nextModule: 536870912,
		nodes:      make(map[graph.Handle]graph.Node),
		modules:    make(map[graph.ModuleID]simModule),
		streams:    make(map[graph.Handle]string),
		notes:      make(chan graph.Notification, 1024),
	}
}

// Run enumerates existing nodes, then forwards changes until ctx is cancelled
func (s *Simulator) Run(ctx context.Context, out chan<- graph.Notification) error {
	s.mu.Lock()
	s.listening = true
	for _, handle := range s.order {
		s.notes <- graph.Notification{Op: graph.NodeAdded, Node: s.nodes[handle]}
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.listening = false
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-s.notes:
			select {
			case out <- n:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// AddSink plugs in a hardware output. The first sink becomes the default.
func (s *Simulator) AddSink(name, description string) graph.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addSinkLocked(name, description)
}

func (s *Simulator) addSinkLocked(name, description string) graph.Handle {
	handle := SinkHandle(s.nextIndex)
	s.nextIndex++
	node := graph.Node{Handle: handle, MediaClass: graph.MediaClassSink, Name: name, Description: description}
	s.nodes[handle] = node
	s.order = append(s.order, handle)
	if s.defaultSink == "" {
		s.defaultSink = name
	}
	s.notifyLocked(graph.Notification{Op: graph.NodeAdded, Node: node})
	return handle
}

// AddStream starts an application stream playing on the default output
func (s *Simulator) AddStream(name, appName, title string) graph.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	handle := StreamHandle(s.nextIndex)
	s.nextIndex++
	node := graph.Node{Handle: handle, MediaClass: graph.MediaClassStream, Name: name, Description: title, AppName: appName}
	s.nodes[handle] = node
	s.order = append(s.order, handle)
	s.streams[handle] = s.defaultSink
	s.notifyLocked(graph.Notification{Op: graph.NodeAdded, Node: node})
	return handle
}

// Remove unplugs a node. Streams on a removed sink fall back to the default.
func (s *Simulator) Remove(handle graph.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(handle)
}

func (s *Simulator) removeLocked(handle graph.Handle) bool {
	node, ok := s.nodes[handle]
	if !ok {
		return false
	}
	delete(s.nodes, handle)
	delete(s.streams, handle)
	for i, h := range s.order {
		if h == handle {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	if node.MediaClass == graph.MediaClassSink {
		if s.defaultSink == node.Name {
			s.defaultSink = s.anySinkLocked()
		}
		for stream, sink := range s.streams {
			if sink == node.Name {
				s.streams[stream] = s.defaultSink
			}
		}
	}

	s.notifyLocked(graph.Notification{Op: graph.NodeRemoved, Node: graph.Node{Handle: handle}})
	return true
}

func (s *Simulator) isListening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening
}

// Changes are only reported while someone is listening
func (s *Simulator) notifyLocked(n graph.Notification) {
	if s.listening {
		s.notes <- n
	}
}

func (s *Simulator) anySinkLocked() string {
	for _, n := range s.nodes {
		if n.MediaClass == graph.MediaClassSink {
			return n.Name
		}
	}
	return ""
}

func (s *Simulator) sinkByNameLocked(name string) (graph.Node, bool) {
	for _, n := range s.nodes {
		if n.MediaClass == graph.MediaClassSink && n.Name == name {
			return n, true
		}
	}
	return graph.Node{}, false
}

// FailLoad makes every following module load fail with err (nil clears it)
func (s *Simulator) FailLoad(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadErr = err
}

// FailUnload makes every following module unload fail with err (nil clears it)
func (s *Simulator) FailUnload(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unloadErr = err
}

func (s *Simulator) record(format string, args ...any) {
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
}

// LoadCombineSink creates a combine sink over existing sinks
func (s *Simulator) LoadCombineSink(_ context.Context, sinkName string, slaves []string, params MixParams) (graph.ModuleID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	args := fmt.Sprintf("sink_name=%s slaves=%s rate=%d channels=%d", sinkName, strings.Join(slaves, ","), params.Rate, params.Channels)
	s.record("load-module module-combine-sink %s", args)

	if s.loadErr != nil {
		return 0, s.loadErr
	}
	if len(slaves) == 0 {
		return 0, fmt.Errorf("load combine sink %s: no slaves", sinkName)
	}
	for _, slave := range slaves {
		if _, ok := s.sinkByNameLocked(slave); !ok {
			return 0, fmt.Errorf("load combine sink %s: no such sink %s", sinkName, slave)
		}
	}

	return s.loadLocked("module-combine-sink", args, sinkName, "Simultaneous output"), nil
}

// LoadNullSink creates a silent sink
func (s *Simulator) LoadNullSink(_ context.Context, sinkName, description string) (graph.ModuleID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	args := fmt.Sprintf("sink_name=%s sink_properties=device.description=%s", sinkName, escapeModArg(description))
	s.record("load-module module-null-sink %s", args)

	if s.loadErr != nil {
		return 0, s.loadErr
	}
	return s.loadLocked("module-null-sink", args, sinkName, description), nil
}

func (s *Simulator) loadLocked(name, args, sinkName, description string) graph.ModuleID {
	id := s.nextModule
	s.nextModule++
	sink := s.addSinkLocked(sinkName, description)
	s.modules[id] = simModule{Module: Module{ID: id, Name: name, Args: args}, sink: sink}
	return id
}

// UnloadModule removes a module and the sink it created
func (s *Simulator) UnloadModule(_ context.Context, id graph.ModuleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record("unload-module %d", id)
	if s.unloadErr != nil {
		return s.unloadErr
	}
	m, ok := s.modules[id]
	if !ok {
		return fmt.Errorf("unload module %d: no such module", id)
	}
	delete(s.modules, id)
	s.removeLocked(m.sink)
	return nil
}

// DefaultSink returns the default output's node name
func (s *Simulator) DefaultSink(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defaultSink, nil
}

// SetDefaultSink changes the default output
func (s *Simulator) SetDefaultSink(_ context.Context, sink string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record("set-default-sink %s", sink)
	if _, ok := s.sinkByNameLocked(sink); !ok {
		return fmt.Errorf("set default sink %s: no such sink", sink)
	}
	s.defaultSink = sink
	return nil
}

// MoveAllStreams moves every stream to sink
func (s *Simulator) MoveAllStreams(_ context.Context, sink string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record("move-all %s", sink)
	if _, ok := s.sinkByNameLocked(sink); !ok {
		return fmt.Errorf("move streams to %s: no such sink", sink)
	}
	for stream := range s.streams {
		s.streams[stream] = sink
	}
	return nil
}

// Link records a direct connection
func (s *Simulator) Link(_ context.Context, source, sink string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record("pw-link %s %s", source, sink)
	s.links = append(s.links, Link{Source: source, Sink: sink})
	return nil
}

// PurgeStale unloads leftovers the same way Pactl does
func (s *Simulator) PurgeStale(ctx context.Context, reserved []string, mockPrefix string) (int, error) {
	var stale []graph.ModuleID
	for _, m := range s.Modules() {
		if IsStale(m, reserved, mockPrefix) {
			stale = append(stale, m.ID)
		}
	}

	count := 0
	for _, id := range stale {
		if err := s.UnloadModule(ctx, id); err == nil {
			count++
		}
	}
	return count, nil
}

// Modules lists loaded modules
func (s *Simulator) Modules() []Module {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Module, 0, len(s.modules))
	for _, m := range s.modules {
		out = append(out, m.Module)
	}
	return out
}

// StreamSink returns the sink a stream currently plays on
func (s *Simulator) StreamSink(stream graph.Handle) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams[stream]
}

// Links returns every direct link made so far
func (s *Simulator) Links() []Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Link(nil), s.links...)
}

// Calls returns the facility calls made so far, in order
func (s *Simulator) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}
