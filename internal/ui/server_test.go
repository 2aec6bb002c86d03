// ABOUTME: Tests for the publisher dashboard model
// ABOUTME: Covers stat polling, rendering and quit handling
package ui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/resonate-audio/trackbridge/pkg/publisher"
)

func TestServerModelPollsOnTick(t *testing.T) {
	calls := 0
	m := NewServerModel(ServerInfo{Name: "studio"}, func() publisher.ServerStats {
		calls++
		return publisher.ServerStats{Clients: 1, Streams: 1, FramesSent: 42}
	}, nil)

	updated, cmd := m.Update(tickMsg(time.Now()))
	if cmd == nil {
		t.Error("expected the tick to be rescheduled")
	}
	m = updated.(ServerModel)
	if calls != 1 {
		t.Errorf("expected one stats call, got %d", calls)
	}
	if m.current.FramesSent != 42 {
		t.Errorf("expected 42 frames sent, got %d", m.current.FramesSent)
	}
}

func TestServerModelView(t *testing.T) {
	m := NewServerModel(ServerInfo{Name: "studio", Addr: ":8927", Room: "main", Tracks: []string{"drums", "bass"}}, nil, nil)

	view := m.View()
	for _, want := range []string{"studio", "main", "drums, bass", "No open streams"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}

	m.current = publisher.ServerStats{
		Clients: 1,
		Streams: 1,
		Subscriptions: []publisher.SubscriptionInfo{
			{Handle: 7, Client: "kitchen", Track: "drums", Codec: "opus"},
		},
	}
	view = m.View()
	if !strings.Contains(view, "kitchen") || !strings.Contains(view, "handle 7") {
		t.Errorf("view missing subscription:\n%s", view)
	}
}

func TestServerModelQuit(t *testing.T) {
	controls := NewControls()
	m := NewServerModel(ServerInfo{}, nil, controls)

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if !strings.Contains(updated.(ServerModel).View(), "Shutting down") {
		t.Error("expected shutdown view")
	}
	select {
	case <-controls.Quit:
	default:
		t.Error("expected quit to be signalled")
	}
}
