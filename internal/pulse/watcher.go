// ABOUTME: Node discovery through pactl enumeration and `pactl subscribe`
// ABOUTME: Emits ordered add/remove notifications for sinks and sink inputs
package pulse

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"regexp"
	"strconv"

	"github.com/Resonate-Protocol/auralis/internal/graph"
)

// Source produces subsystem notifications until ctx is cancelled
type Source interface {
	Run(ctx context.Context, out chan<- graph.Notification) error
}

// Tool is a Runner that can also stream
type Tool interface {
	Runner
	Streamer
}

// Facilities tracked by the watcher, as named by pactl
const (
	facilitySink      = "sink"
	facilitySinkInput = "sink-input"
)

// SinkHandle is the handle of the sink with the given index
func SinkHandle(index uint32) graph.Handle {
	return graph.Handle(fmt.Sprintf("%s/%d", facilitySink, index))
}

// StreamHandle is the handle of the sink input with the given index
func StreamHandle(index uint32) graph.Handle {
	return graph.Handle(fmt.Sprintf("%s/%d", facilitySinkInput, index))
}

// Watcher follows the audio server's node graph
type Watcher struct {
	tool Tool
}

// NewWatcher creates a watcher using tool; nil means ExecRunner
func NewWatcher(tool Tool) *Watcher {
	if tool == nil {
		tool = ExecRunner{}
	}
	return &Watcher{tool: tool}
}

// Run enumerates existing nodes then follows changes. The subscription is
// opened before enumerating so nothing is missed in between.
func (w *Watcher) Run(ctx context.Context, out chan<- graph.Notification) error {
	stream, err := w.tool.Stream(ctx, "pactl", "subscribe")
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	done := make(chan struct{})
	defer func() {
		close(done)
		stream.Close()
	}()

	// Unblock the scanner on cancellation
	go func() {
		select {
		case <-ctx.Done():
			stream.Close()
		case <-done:
		}
	}()

	for _, facility := range []string{facilitySink, facilitySinkInput} {
		nodes, err := w.list(ctx, facility)
		if err != nil {
			return err
		}
		for _, node := range nodes {
			if !emit(ctx, out, graph.Notification{Op: graph.NodeAdded, Node: node}) {
				return ctx.Err()
			}
		}
	}

	return w.follow(ctx, stream, out)
}

func (w *Watcher) follow(ctx context.Context, stream io.Reader, out chan<- graph.Notification) error {
	scanner := bufio.NewScanner(stream)
	for scanner.Scan() {
		ev, ok := ParseSubscribeLine(scanner.Text())
		if !ok {
			continue
		}

		switch ev.Action {
		case "new":
			node, found, err := w.lookup(ctx, ev.Facility, ev.Index)
			if err != nil {
				log.Printf("Failed to look up new %s #%d: %v", ev.Facility, ev.Index, err)
				continue
			}
			if !found {
				// Already gone again
				continue
			}
			if !emit(ctx, out, graph.Notification{Op: graph.NodeAdded, Node: node}) {
				return ctx.Err()
			}
		case "remove":
			n := graph.Notification{Op: graph.NodeRemoved, Node: graph.Node{Handle: ev.Handle()}}
			if !emit(ctx, out, n) {
				return ctx.Err()
			}
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading subscribe output: %w", err)
	}
	return errors.New("pactl subscribe exited")
}

func (w *Watcher) list(ctx context.Context, facility string) ([]graph.Node, error) {
	out, err := w.tool.Run(ctx, "pactl", "--format=json", "list", facility+"s")
	if err != nil {
		return nil, fmt.Errorf("list %ss: %w", facility, err)
	}
	return ParseNodeList(facility, out)
}

func (w *Watcher) lookup(ctx context.Context, facility string, index uint32) (graph.Node, bool, error) {
	nodes, err := w.list(ctx, facility)
	if err != nil {
		return graph.Node{}, false, err
	}
	want := SubscribeEvent{Facility: facility, Index: index}.Handle()
	for _, n := range nodes {
		if n.Handle == want {
			return n, true, nil
		}
	}
	return graph.Node{}, false, nil
}

func emit(ctx context.Context, out chan<- graph.Notification, n graph.Notification) bool {
	select {
	case out <- n:
		return true
	case <-ctx.Done():
		return false
	}
}

// SubscribeEvent is one parsed line of `pactl subscribe`
type SubscribeEvent struct {
	Action   string // new, change, remove
	Facility string
	Index    uint32
}

// Handle is the node handle the event refers to
func (e SubscribeEvent) Handle() graph.Handle {
	if e.Facility == facilitySinkInput {
		return StreamHandle(e.Index)
	}
	return SinkHandle(e.Index)
}

var subscribeLine = regexp.MustCompile(`^Event '(\w+)' on ([\w-]+) #(\d+)$`)

// ParseSubscribeLine parses lines like "Event 'new' on sink #57". Only sink and
// sink-input events are reported.
func ParseSubscribeLine(line string) (SubscribeEvent, bool) {
	m := subscribeLine.FindStringSubmatch(line)
	if m == nil {
		return SubscribeEvent{}, false
	}
	if m[2] != facilitySink && m[2] != facilitySinkInput {
		return SubscribeEvent{}, false
	}
	index, err := strconv.ParseUint(m[3], 10, 32)
	if err != nil {
		return SubscribeEvent{}, false
	}
	return SubscribeEvent{Action: m[1], Facility: m[2], Index: uint32(index)}, true
}

type pactlNode struct {
	Index       uint32            `json:"index"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Properties  map[string]string `json:"properties"`
}

// ParseNodeList decodes `pactl --format=json list sinks|sink-inputs`
func ParseNodeList(facility string, data []byte) ([]graph.Node, error) {
	var raw []pactlNode
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode %s list: %w", facility, err)
	}

	nodes := make([]graph.Node, 0, len(raw))
	for _, r := range raw {
		props := r.Properties
		node := graph.Node{
			MediaClass: props["media.class"],
			AppName:    props["application.name"],
		}

		if facility == facilitySinkInput {
			node.Handle = StreamHandle(r.Index)
			node.Name = props["node.name"]
			if node.Name == "" {
				node.Name = props["media.name"]
			}
			node.Description = props["media.name"]
			if node.MediaClass == "" {
				node.MediaClass = graph.MediaClassStream
			}
		} else {
			node.Handle = SinkHandle(r.Index)
			node.Name = r.Name
			node.Description = r.Description
			if node.MediaClass == "" {
				node.MediaClass = graph.MediaClassSink
			}
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}
