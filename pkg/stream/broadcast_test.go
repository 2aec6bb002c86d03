// ABOUTME: Tests for the transport subscriber list
// ABOUTME: Covers dispatch order, unsubscribe and unsubscribing from inside a handler
package stream

import (
	"slices"
	"testing"
)

func TestBroadcasterDispatch(t *testing.T) {
	var b Broadcaster
	var got []string

	unsubA := b.Subscribe(func(ev Event) { got = append(got, "a") })
	b.Subscribe(func(ev Event) { got = append(got, "b") })
	if b.Len() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", b.Len())
	}

	b.Dispatch(Event{Handle: 1, Kind: EventStreamEnded})
	if !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("expected dispatch in subscribe order, got %v", got)
	}

	unsubA()
	unsubA()
	got = nil
	b.Dispatch(Event{Handle: 1, Kind: EventStreamEnded})
	if !slices.Equal(got, []string{"b"}) {
		t.Errorf("expected only b after unsubscribe, got %v", got)
	}
	if b.Len() != 1 {
		t.Errorf("expected 1 subscriber, got %d", b.Len())
	}
}

func TestBroadcasterUnsubscribeInsideHandler(t *testing.T) {
	var b Broadcaster
	calls := 0

	var unsub func()
	unsub = b.Subscribe(func(ev Event) {
		calls++
		unsub()
	})

	b.Dispatch(Event{})
	b.Dispatch(Event{})
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if b.Len() != 0 {
		t.Errorf("expected no subscribers, got %d", b.Len())
	}
}

func TestBroadcasterZeroValue(t *testing.T) {
	var b Broadcaster
	b.Dispatch(Event{})
	if b.Len() != 0 {
		t.Errorf("expected no subscribers, got %d", b.Len())
	}
}
