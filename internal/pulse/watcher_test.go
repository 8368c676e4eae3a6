// ABOUTME: Tests for pactl subscribe parsing and node enumeration
// ABOUTME: Drives the watcher with a scripted runner and an in-memory stream
package pulse

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/Resonate-Protocol/auralis/internal/graph"
)

const sinksJSON = `[
  {"index": 57, "name": "alsa_output.kitchen", "description": "Kitchen",
   "properties": {"media.class": "Audio/Sink", "device.description": "Kitchen"}},
  {"index": 58, "name": "bluez_output.patio", "description": "Patio", "properties": {}}
]`

const sinkInputsJSON = `[
  {"index": 12, "properties": {"media.name": "YouTube", "application.name": "Firefox",
   "node.name": "Firefox", "media.class": "Stream/Output/Audio"}}
]`

func TestParseSubscribeLine(t *testing.T) {
	tests := []struct {
		line   string
		wantOK bool
		want   SubscribeEvent
	}{
		{"Event 'new' on sink #57", true, SubscribeEvent{Action: "new", Facility: "sink", Index: 57}},
		{"Event 'remove' on sink-input #12", true, SubscribeEvent{Action: "remove", Facility: "sink-input", Index: 12}},
		{"Event 'change' on sink #57", true, SubscribeEvent{Action: "change", Facility: "sink", Index: 57}},
		{"Event 'new' on client #3", false, SubscribeEvent{}},
		{"Event 'change' on server", false, SubscribeEvent{}},
		{"garbage", false, SubscribeEvent{}},
	}

	for _, tt := range tests {
		got, ok := ParseSubscribeLine(tt.line)
		if ok != tt.wantOK {
			t.Errorf("%q: expected ok=%v, got %v", tt.line, tt.wantOK, ok)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("%q: expected %+v, got %+v", tt.line, tt.want, got)
		}
	}
}

func TestParseNodeList(t *testing.T) {
	sinks, err := ParseNodeList("sink", []byte(sinksJSON))
	if err != nil {
		t.Fatalf("parse sinks failed: %v", err)
	}
	if len(sinks) != 2 {
		t.Fatalf("expected 2 sinks, got %d", len(sinks))
	}
	if sinks[0].Handle != "sink/57" || sinks[0].Description != "Kitchen" || sinks[0].Name != "alsa_output.kitchen" {
		t.Errorf("unexpected sink %+v", sinks[0])
	}
	if sinks[1].MediaClass != graph.MediaClassSink {
		t.Errorf("sinks without media.class should default to %s, got %q", graph.MediaClassSink, sinks[1].MediaClass)
	}

	streams, err := ParseNodeList("sink-input", []byte(sinkInputsJSON))
	if err != nil {
		t.Fatalf("parse sink inputs failed: %v", err)
	}
	if streams[0].Handle != "sink-input/12" || streams[0].AppName != "Firefox" || streams[0].Description != "YouTube" {
		t.Errorf("unexpected stream %+v", streams[0])
	}

	if _, err := ParseNodeList("sink", []byte("not json")); err == nil {
		t.Error("expected decode error")
	}
}

// scriptedTool replies to Run from a map and streams a fixed subscribe output
type scriptedTool struct {
	*fakeRunner
	stream io.ReadCloser
}

func (s *scriptedTool) Stream(context.Context, string, ...string) (io.ReadCloser, error) {
	return s.stream, nil
}

func TestWatcherEnumeratesThenFollows(t *testing.T) {
	runner := newFakeRunner()
	runner.replies["pactl --format=json list sinks"] = sinksJSON
	runner.replies["pactl --format=json list sink-inputs"] = sinkInputsJSON

	subscribe := strings.Join([]string{
		"Event 'change' on sink #57",
		"Event 'remove' on sink #58",
		"Event 'new' on sink #99", // not in the listing any more
		"Event 'remove' on sink-input #12",
		"",
	}, "\n")
	tool := &scriptedTool{fakeRunner: runner, stream: io.NopCloser(strings.NewReader(subscribe))}

	out := make(chan graph.Notification, 16)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := NewWatcher(tool).Run(ctx, out)
	if err == nil || !strings.Contains(err.Error(), "exited") {
		t.Errorf("expected subscribe exit error, got %v", err)
	}
	close(out)

	var got []string
	for n := range out {
		op := "add"
		if n.Op == graph.NodeRemoved {
			op = "remove"
		}
		got = append(got, op+" "+string(n.Node.Handle))
	}

	want := []string{
		"add sink/57",
		"add sink/58",
		"add sink-input/12",
		"remove sink/58",
		"remove sink-input/12",
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, got)
	}
}
