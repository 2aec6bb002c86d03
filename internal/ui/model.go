// ABOUTME: Bubbletea model for the trackbridge player TUI
// ABOUTME: Shows the room, the track, the stream format and buffer health
package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/resonate-audio/trackbridge/pkg/stream"
)

// Model represents the TUI state
type Model struct {
	// Connection
	connected  bool
	serverName string
	transport  string

	// Room
	room  string
	track string
	state string

	// Stream
	codec      string
	sampleRate int
	channels   int
	bitDepth   int

	// Playback
	volume int
	muted  bool

	// Stats
	stats stream.Stats

	showDebug bool
	controls  *Controls

	width  int
	height int
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
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString(m.renderStreamInfo())
	b.WriteString(m.renderControls())
	b.WriteString(m.renderStats())
	if m.showDebug {
		b.WriteString(m.renderDebug())
	}
	b.WriteString(m.renderHelp())
	return b.String()
}

func (m Model) renderHeader() string {
	connStatus := "Disconnected"
	if m.connected {
		connStatus = fmt.Sprintf("Connected to %s", truncate(m.serverName, 32))
		if m.transport != "" {
			connStatus += " (" + m.transport + ")"
		}
	}

	return fmt.Sprintf(`┌─ Trackbridge Player ─────────────────────────────────┐
│ Status: %-44s │
├──────────────────────────────────────────────────────┤
`, truncate(connStatus, 44))
}

func (m Model) renderStreamInfo() string {
	if !m.connected || m.track == "" {
		return "│ No stream                                            │\n"
	}

	s := fmt.Sprintf("│ Room:   %-44s │\n", truncate(m.room, 44))
	s += fmt.Sprintf("│ Track:  %-44s │\n", truncate(m.track, 44))
	s += fmt.Sprintf("│ State:  %-44s │\n", m.state)
	if m.sampleRate > 0 {
		format := fmt.Sprintf("%s %dHz %s %d-bit", m.codec, m.sampleRate, channelName(m.channels), m.bitDepth)
		s += fmt.Sprintf("│ Format: %-44s │\n", truncate(format, 44))
	} else {
		s += "│ Format: waiting for first frame                      │\n"
	}
	return s
}

func (m Model) renderControls() string {
	muteIcon := ""
	if m.muted {
		muteIcon = " (muted)"
	}

	volume := fmt.Sprintf("[%s] %d%%%s", renderBar(m.volume, 100, 10), m.volume, muteIcon)
	buffer := fmt.Sprintf("[%s] %dms", renderBar(m.stats.Buffered, m.stats.Capacity, 10), m.bufferMs())

	return fmt.Sprintf("│                                                      │\n"+
		"│ Volume: %-44s │\n"+
		"│ Buffer: %-44s │\n", volume, buffer)
}

func (m Model) renderStats() string {
	line := fmt.Sprintf("RX: %d  Underruns: %d  Overflows: %d",
		m.stats.FramesReceived, m.stats.Underruns, m.stats.Overflows)
	return fmt.Sprintf(`├──────────────────────────────────────────────────────┤
│ Stats:  %-44s │
│                                                      │
`, truncate(line, 44))
}

func (m Model) renderHelp() string {
	return `│ ↑/↓:Volume  m:Mute  d:Debug  q:Quit                  │
└──────────────────────────────────────────────────────┘
`
}

func (m Model) renderDebug() string {
	return fmt.Sprintf(`│ DEBUG:                                               │
│   Dropped bytes:  %-34d │
│   Malformed:      %-34d │
│   Reallocations:  %-34d │
│   Mismatches:     %-34d │
│   Render calls:   %-34d │
`, m.stats.BytesDropped, m.stats.FramesMalformed, m.stats.Reconfigurations,
		m.stats.FormatMismatches, m.stats.RenderCalls)
}

// bufferMs converts the buffered byte count to milliseconds of audio
func (m Model) bufferMs() int {
	bytesPerSecond := m.sampleRate * m.channels * 2
	if bytesPerSecond == 0 {
		return 0
	}
	return m.stats.Buffered * 1000 / bytesPerSecond
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.controls.quit()
		return m, tea.Quit
	case "up":
		m.volume = clampVolume(m.volume + 5)
		m.controls.setVolume(m.volume, m.muted)
	case "down":
		m.volume = clampVolume(m.volume - 5)
		m.controls.setVolume(m.volume, m.muted)
	case "m":
		m.muted = !m.muted
		m.controls.setVolume(m.volume, m.muted)
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Connected != nil {
		m.connected = *msg.Connected
	}
	if msg.ServerName != "" {
		m.serverName = msg.ServerName
	}
	if msg.Transport != "" {
		m.transport = msg.Transport
	}
	if msg.Room != "" {
		m.room = msg.Room
	}
	if msg.Track != "" {
		m.track = msg.Track
	}
	if msg.State != "" {
		m.state = msg.State
	}
	if msg.SampleRate != 0 {
		m.codec = msg.Codec
		m.sampleRate = msg.SampleRate
		m.channels = msg.Channels
		m.bitDepth = msg.BitDepth
	}
	if msg.Volume != nil {
		m.volume = clampVolume(*msg.Volume)
	}
	if msg.Muted != nil {
		m.muted = *msg.Muted
	}
	if msg.Stats != nil {
		m.stats = *msg.Stats
	}
}

// StatusMsg updates TUI state. Zero and nil fields leave the model unchanged.
type StatusMsg struct {
	Connected  *bool
	ServerName string
	Transport  string
	Room       string
	Track      string
	State      string
	Codec      string
	SampleRate int
	Channels   int
	BitDepth   int
	Volume     *int
	Muted      *bool
	Stats      *stream.Stats
}

func renderBar(value, max, width int) string {
	filled := 0
	if max > 0 {
		filled = (value * width) / max
	}
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

func channelName(channels int) string {
	switch channels {
	case 1:
		return "Mono"
	case 2:
		return "Stereo"
	default:
		return fmt.Sprintf("%dch", channels)
	}
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
