// ABOUTME: Bubbletea model for the Auralis terminal UI
// ABOUTME: Renders the mirrored endpoints and turns key presses into commands
package ui

import (
	"fmt"
	"strings"

	"github.com/Resonate-Protocol/auralis/internal/graph"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
)

// EventMsg delivers one engine event to the model
type EventMsg graph.Event

// LaggedMsg reports that the UI fell behind and its view may be stale
type LaggedMsg struct{}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	cursorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("220"))

	markStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	helpStyle = lipgloss.NewStyle().Faint(true)
)

// Model represents the TUI state
type Model struct {
	serverName string
	orbs       []graph.Orb
	cursor     int
	marked     []uuid.UUID
	commands   chan<- graph.Command
	status     string
	stale      bool
	quitting   bool

	// Dimensions
	width  int
	height int
}

// NewModel creates a model starting from a mirror snapshot
func NewModel(serverName string, snapshot []graph.Orb, commands chan<- graph.Command) Model {
	return Model{
		serverName: serverName,
		orbs:       snapshot,
		commands:   commands,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case EventMsg:
		m.apply(graph.Event(msg))
	case LaggedMsg:
		m.stale = true
		m.status = "Fell behind the engine; restart the UI to resync"
	}

	return m, nil
}

// apply mirrors one event
func (m *Model) apply(ev graph.Event) {
	switch ev.Type {
	case graph.EventAdd:
		for i, orb := range m.orbs {
			if orb.ID == ev.Orb.ID {
				m.orbs[i] = ev.Orb
				return
			}
		}
		m.orbs = append(m.orbs, ev.Orb)
	case graph.EventRemove:
		for i, orb := range m.orbs {
			if orb.ID == ev.ID {
				m.orbs = append(m.orbs[:i], m.orbs[i+1:]...)
				break
			}
		}
		m.unmark(ev.ID)
		if m.cursor >= len(m.orbs) && m.cursor > 0 {
			m.cursor = len(m.orbs) - 1
		}
	}
}

func (m *Model) isMarked(id uuid.UUID) bool {
	for _, marked := range m.marked {
		if marked == id {
			return true
		}
	}
	return false
}

func (m *Model) unmark(id uuid.UUID) bool {
	for i, marked := range m.marked {
		if marked == id {
			m.marked = append(m.marked[:i], m.marked[i+1:]...)
			return true
		}
	}
	return false
}

func (m Model) nameOf(id uuid.UUID) string {
	for _, orb := range m.orbs {
		if orb.ID == id {
			return orb.Name
		}
	}
	return id.String()
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		m.send(graph.Shutdown())
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}

	case "down", "j":
		if m.cursor < len(m.orbs)-1 {
			m.cursor++
		}

	case " ", "space":
		if len(m.orbs) == 0 {
			break
		}
		id := m.orbs[m.cursor].ID
		if m.unmark(id) {
			break
		}
		// Only two endpoints take part in a connect; the oldest mark gives way
		if len(m.marked) == 2 {
			m.marked = m.marked[1:]
		}
		m.marked = append(m.marked, id)

	case "c":
		if len(m.marked) != 2 {
			m.status = "Mark two endpoints with space first"
			break
		}
		source, target := m.marked[0], m.marked[1]
		if m.send(graph.Connect(source, target)) {
			m.status = fmt.Sprintf("Connecting %s to %s", m.nameOf(source), m.nameOf(target))
		}
		m.marked = nil

	case "x":
		if len(m.orbs) == 0 {
			break
		}
		orb := m.orbs[m.cursor]
		if orb.Kind.Role != graph.RoleClusterSink {
			m.status = fmt.Sprintf("%s is not a cluster", orb.Name)
			break
		}
		if m.send(graph.Disconnect(orb.ID, orb.ID)) {
			m.status = fmt.Sprintf("Splitting %s", orb.Name)
		}
	}

	return m, nil
}

// send queues a command without blocking the UI
func (m *Model) send(cmd graph.Command) bool {
	select {
	case m.commands <- cmd:
		return true
	default:
		m.status = "Command queue full, try again"
		return false
	}
}

// View renders the TUI
func (m Model) View() string {
	if m.quitting {
		return "Shutting down, restoring devices...\n"
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("Auralis"))
	b.WriteString("\n")
	b.WriteString(headerStyle.Render("Daemon: "))
	b.WriteString(valueStyle.Render(m.serverName))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render(fmt.Sprintf("Endpoints (%d)", len(m.orbs))))
	b.WriteString("\n\n")

	if len(m.orbs) == 0 {
		b.WriteString(valueStyle.Render("  No endpoints discovered"))
		b.WriteString("\n")
	}
	for i, orb := range m.orbs {
		b.WriteString(m.renderOrb(i, orb))
		b.WriteString("\n")
	}

	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(valueStyle.Render(m.status))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("↑/↓:Move  space:Mark  c:Connect  x:Split cluster  q:Quit"))

	return b.String()
}

func (m Model) renderOrb(i int, orb graph.Orb) string {
	pointer := "  "
	if i == m.cursor {
		pointer = cursorStyle.Render("> ")
	}
	mark := "[ ]"
	if m.isMarked(orb.ID) {
		mark = markStyle.Render("[x]")
	}

	line := fmt.Sprintf("%s%s %-24s %s", pointer, mark, truncate(orb.Name, 24), valueStyle.Render(roleLabel(orb.Kind)))
	return line
}

func roleLabel(kind graph.Kind) string {
	switch kind.Role {
	case graph.RolePhysicalSink:
		return "output"
	case graph.RoleApplicationSource:
		return "stream"
	case graph.RoleClusterSink:
		return "cluster: " + strings.Join(kind.Members, ", ")
	case graph.RoleBeamOutput:
		return "beam"
	default:
		return kind.Role.String()
	}
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
