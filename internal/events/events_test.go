// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package events

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestFanout_Emit(t *testing.T) {
	first, second := &Recorder{}, &Recorder{}
	fan := Fanout{first, nil, second}
	fan.Emit(LocationChanged, 1)

	if len(first.Events()) != 1 || len(second.Events()) != 1 {
		t.Errorf("expected both recorders to receive the event, got %d and %d",
			len(first.Events()), len(second.Events()))
	}
}

func TestRecorder_Events(t *testing.T) {
	rec := &Recorder{}
	rec.Emit(LocationChanged, 1)
	rec.Emit(HeadingChanged, 2)
	rec.Emit(LocationChanged, 3)

	if got := len(rec.Events()); got != 3 {
		t.Errorf("expected 3 events, got %d", got)
	}
	if got := len(rec.Events(LocationChanged)); got != 2 {
		t.Errorf("expected 2 location events, got %d", got)
	}
	rec.Reset()
	if got := len(rec.Events()); got != 0 {
		t.Errorf("expected no events after reset, got %d", got)
	}
}

type echoHandler struct{}

func (echoHandler) HandleCommand(_ context.Context, cmd Command) Reply {
	return Reply{ID: cmd.ID, Op: cmd.Op, Result: "ok"}
}

func TestHub(t *testing.T) {
	hub := NewHub(nil, echoHandler{})
	server := httptest.NewServer(hub)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to connect to hub: %s", err)
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	t.Run("commands are answered", func(t *testing.T) {
		if err = conn.WriteJSON(Command{ID: "1", Op: "ping"}); err != nil {
			t.Fatalf("failed to send command: %s", err)
		}
		var reply Reply
		if err = conn.ReadJSON(&reply); err != nil {
			t.Fatalf("failed to read reply: %s", err)
		}
		if reply.ID != "1" || reply.Op != "ping" {
			t.Errorf("unexpected reply: %+v", reply)
		}
	})
	t.Run("events are broadcast", func(t *testing.T) {
		deadline := time.Now().Add(5 * time.Second)
		for hub.Clients() == 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		hub.Emit(HeadingChanged, map[string]int{"watchId": 3})

		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("failed to read event: %s", err)
		}
		var msg struct {
			Event string         `json:"event"`
			Data  map[string]int `json:"data"`
		}
		if err = json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("failed to decode event: %s", err)
		}
		if msg.Event != HeadingChanged {
			t.Errorf("expected event %s, got %s", HeadingChanged, msg.Event)
		}
		if msg.Data["watchId"] != 3 {
			t.Errorf("expected watchId 3, got %d", msg.Data["watchId"])
		}
	})
}

// waitHandler blocks "wait" commands until their context ends and answers everything else.
type waitHandler struct {
	cancelled chan struct{}
}

func (h waitHandler) HandleCommand(ctx context.Context, cmd Command) Reply {
	if cmd.Op == "wait" {
		<-ctx.Done()
		close(h.cancelled)
		return Reply{ID: cmd.ID, Op: cmd.Op}
	}
	return Reply{ID: cmd.ID, Op: cmd.Op, Result: "ok"}
}

func TestHub_PendingCommands(t *testing.T) {
	handler := waitHandler{cancelled: make(chan struct{})}
	hub := NewHub(nil, handler)
	server := httptest.NewServer(hub)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to connect to hub: %s", err)
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	t.Run("a waiting command does not hold up later ones", func(t *testing.T) {
		if err = conn.WriteJSON(Command{ID: "1", Op: "wait"}); err != nil {
			t.Fatalf("failed to send command: %s", err)
		}
		if err = conn.WriteJSON(Command{ID: "2", Op: "ping"}); err != nil {
			t.Fatalf("failed to send command: %s", err)
		}
		var reply Reply
		if err = conn.ReadJSON(&reply); err != nil {
			t.Fatalf("failed to read reply: %s", err)
		}
		if reply.ID != "2" || reply.Op != "ping" {
			t.Errorf("expected the ping to be answered first, got %+v", reply)
		}
	})
	t.Run("disconnecting cancels waiting commands", func(t *testing.T) {
		_ = conn.Close()
		select {
		case <-handler.cancelled:
		case <-time.After(5 * time.Second):
			t.Fatal("expected waiting command to be cancelled")
		}
		deadline := time.Now().Add(5 * time.Second)
		for hub.Clients() != 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		if hub.Clients() != 0 {
			t.Errorf("expected client to be released, got %d clients", hub.Clients())
		}
	})
}
