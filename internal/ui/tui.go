// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and feeds it the hub's events
package ui

import (
	"github.com/Resonate-Protocol/auralis/internal/bridge"
	"github.com/Resonate-Protocol/auralis/internal/graph"
	tea "github.com/charmbracelet/bubbletea"
)

// TUI is the terminal UI attached to a running engine
type TUI struct {
	program *tea.Program
	sub     *bridge.Subscription
}

// New creates a TUI mirroring hub and sending commands to the engine
func New(serverName string, hub *bridge.Hub, commands chan<- graph.Command) *TUI {
	sub := hub.Subscribe(256)
	return &TUI{
		program: tea.NewProgram(NewModel(serverName, sub.Snapshot, commands), tea.WithAltScreen()),
		sub:     sub,
	}
}

// Run blocks until the user quits or Stop is called
func (t *TUI) Run() error {
	go func() {
		for ev := range t.sub.Events {
			t.program.Send(EventMsg(ev))
		}
		t.program.Send(LaggedMsg{})
	}()
	defer t.sub.Close()

	_, err := t.program.Run()
	return err
}

// Stop quits the program
func (t *TUI) Stop() {
	t.program.Quit()
}
