// ABOUTME: Publisher dashboard TUI showing tracks, subscribers and frame counters
// ABOUTME: Polls server statistics once a second using bubbletea ticks
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/resonate-audio/trackbridge/pkg/publisher"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)
	headerStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	valueStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	clientHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220"))
	helpStyle         = lipgloss.NewStyle().Faint(true)
)

// ServerInfo is the static part of the publisher dashboard
type ServerInfo struct {
	Name   string
	Addr   string
	Room   string
	Tracks []string
}

type tickMsg time.Time

// ServerModel is the bubbletea model for the publisher dashboard
type ServerModel struct {
	info      ServerInfo
	stats     func() publisher.ServerStats
	current   publisher.ServerStats
	startTime time.Time
	quitting  bool
	controls  *Controls
}

// NewServerModel creates a dashboard reading stats on every tick
func NewServerModel(info ServerInfo, stats func() publisher.ServerStats, controls *Controls) ServerModel {
	return ServerModel{
		info:      info,
		stats:     stats,
		startTime: time.Now(),
		controls:  controls,
	}
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init starts the refresh tick
func (m ServerModel) Init() tea.Cmd {
	return tickEvery()
}

// Update handles messages
func (m ServerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.quitting = true
			m.controls.quit()
			return m, tea.Quit
		}
	case tickMsg:
		if m.stats != nil {
			m.current = m.stats()
		}
		return m, tickEvery()
	}
	return m, nil
}

// View renders the dashboard
func (m ServerModel) View() string {
	if m.quitting {
		return "Shutting down server...\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Trackbridge Server"))
	b.WriteString("\n\n")

	field := func(label, value string) {
		b.WriteString(headerStyle.Render(label + ": "))
		b.WriteString(valueStyle.Render(value))
		b.WriteString("\n")
	}
	field("Server", m.info.Name)
	field("Address", m.info.Addr)
	field("Room", m.info.Room)
	field("Tracks", strings.Join(m.info.Tracks, ", "))
	field("Uptime", time.Since(m.startTime).Round(time.Second).String())
	field("Frames", fmt.Sprintf("%d sent, %d dropped", m.current.FramesSent, m.current.FramesFailed))
	if m.current.EndedTracks > 0 {
		field("Ended", fmt.Sprintf("%d of %d tracks", m.current.EndedTracks, m.current.Tracks))
	}
	b.WriteString("\n")

	b.WriteString(clientHeaderStyle.Render(fmt.Sprintf("Subscribers (%d clients, %d streams)", m.current.Clients, m.current.Streams)))
	b.WriteString("\n\n")

	if len(m.current.Subscriptions) == 0 {
		b.WriteString(valueStyle.Render("  No open streams"))
		b.WriteString("\n")
	}
	for _, sub := range m.current.Subscriptions {
		b.WriteString(fmt.Sprintf("  • %s", sub.Client))
		b.WriteString(valueStyle.Render(fmt.Sprintf(" (%s, %s, handle %d)", sub.Track, sub.Codec, sub.Handle)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("Press 'q' or Ctrl+C to quit"))
	return b.String()
}

// RunServer creates the dashboard program; the caller runs it
func RunServer(info ServerInfo, stats func() publisher.ServerStats, controls *Controls) *tea.Program {
	return tea.NewProgram(NewServerModel(info, stats, controls), tea.WithAltScreen())
}
