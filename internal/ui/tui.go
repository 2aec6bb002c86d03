// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and forwards key presses to the player
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// VolumeChangeMsg is a volume or mute change requested from the keyboard
type VolumeChangeMsg struct {
	Volume int
	Muted  bool
}

// Controls carries user requests out of the TUI
type Controls struct {
	Volume chan VolumeChangeMsg
	Quit   chan struct{}
}

// NewControls creates a control channel set
func NewControls() *Controls {
	return &Controls{
		Volume: make(chan VolumeChangeMsg, 10),
		Quit:   make(chan struct{}, 1),
	}
}

// setVolume never blocks the UI; a full queue drops the change
func (c *Controls) setVolume(volume int, muted bool) {
	if c == nil {
		return
	}
	select {
	case c.Volume <- VolumeChangeMsg{Volume: volume, Muted: muted}:
	default:
	}
}

func (c *Controls) quit() {
	if c == nil {
		return
	}
	select {
	case c.Quit <- struct{}{}:
	default:
	}
}

// NewModel creates a new TUI model
func NewModel(controls *Controls, volume int) Model {
	return Model{
		volume:   clampVolume(volume),
		state:    "idle",
		controls: controls,
	}
}

// Run creates the TUI program. The caller runs it and feeds it StatusMsg
// values through Send.
func Run(controls *Controls, volume int) *tea.Program {
	return tea.NewProgram(NewModel(controls, volume), tea.WithAltScreen())
}
