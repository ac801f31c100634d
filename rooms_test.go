package chatsync

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

func TestJoinWhileDisconnectedIsRecorded(t *testing.T) {
	bus := NewEventBus()
	conn := NewConnection("http://127.0.0.1:0", bus, &ConnConfig{AutoReconnect: false}, t.Logf)
	rc := NewRoomCoordinator(conn, bus, t.Logf)
	defer rc.Close()
	ctx := context.Background()

	// No socket: the wire request is dropped, the membership survives.
	rc.Join(ctx, "C")
	if !rc.Joined("C") {
		t.Fatal("membership not recorded while disconnected")
	}

	rc.Leave(ctx, "C")
	if rc.Joined("C") {
		t.Fatal("membership not cleared while disconnected")
	}

	// Empty ids are ignored.
	rc.Join(ctx, "")
	if rc.Joined("") {
		t.Fatal("empty id must not be recorded")
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	h := newWSHarness(t)
	bus := NewEventBus()
	connected := topicSignal(bus, TopicConnected)

	conn := NewConnection(h.URL, bus, &ConnConfig{AutoReconnect: false}, t.Logf)
	rc := NewRoomCoordinator(conn, bus, t.Logf)
	defer rc.Close()
	conn.Connect("tok")
	defer conn.Disconnect()
	awaitSignal(t, connected, "connected event")
	ctx := context.Background()

	// Joining the same room twice sends the request twice (the server
	// deduplicates) and records a single membership.
	rc.Join(ctx, "C")
	rc.Join(ctx, "C")
	for i := 0; i < 2; i++ {
		env := h.command(t)
		if env.Type != "join_conversation" {
			t.Fatalf("command %d type = %s", i, env.Type)
		}
	}
	if !rc.Joined("C") {
		t.Fatal("expected membership for C")
	}
}

func TestRejoinOnReconnect(t *testing.T) {
	h := newWSHarness(t)
	bus := NewEventBus()
	connected := topicSignal(bus, TopicConnected)

	conn := NewConnection(h.URL, bus, &ConnConfig{
		AutoReconnect:      true,
		ReconnectBaseDelay: 10 * time.Millisecond,
	}, t.Logf)
	rc := NewRoomCoordinator(conn, bus, t.Logf)
	defer rc.Close()
	conn.Connect("tok")
	defer conn.Disconnect()

	session := h.session(t)
	awaitSignal(t, connected, "first connect")

	rc.Join(context.Background(), "C")
	if env := h.command(t); env.Type != "join_conversation" {
		t.Fatalf("type = %s", env.Type)
	}

	// Drop the transport; membership must be replayed on the new session.
	session.Close(websocket.StatusGoingAway, "server restart")
	awaitSignal(t, connected, "reconnect")

	env := h.command(t)
	if env.Type != "join_conversation" {
		t.Fatalf("replayed command type = %s", env.Type)
	}
	var id string
	if err := json.Unmarshal(env.Payload, &id); err != nil || id != "C" {
		t.Fatalf("replayed join payload = %s", env.Payload)
	}
}
