// internal/transport/ws_test.go
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/roomsync/internal/dispatch"
	"github.com/user/roomsync/internal/types"
)

// inlineSink runs tasks synchronously and records which room each
// frame was routed to.
type inlineSink struct {
	mu    sync.Mutex
	rooms []types.RoomID
}

func (s *inlineSink) Submit(roomID types.RoomID, task dispatch.Task) error {
	s.mu.Lock()
	s.rooms = append(s.rooms, roomID)
	s.mu.Unlock()
	task()
	return nil
}

type recordingApplier struct {
	mu     sync.Mutex
	events []string
	ch     chan struct{}
}

func newRecordingApplier() *recordingApplier {
	return &recordingApplier{ch: make(chan struct{}, 16)}
}

func (a *recordingApplier) Dispatch(raw []byte) error {
	var env struct {
		Type string `json:"type"`
	}
	json.Unmarshal(raw, &env)
	a.mu.Lock()
	a.events = append(a.events, env.Type)
	a.mu.Unlock()
	a.ch <- struct{}{}
	return nil
}

func (a *recordingApplier) wait(t *testing.T, n int) []string {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-a.ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d of %d", i+1, n)
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.events...)
}

// wsServer upgrades one connection and exposes its control messages
// and the server-side conn to the test.
type wsServer struct {
	srv      *httptest.Server
	controls chan control
	conns    chan *websocket.Conn
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{
		controls: make(chan control, 16),
		conns:    make(chan *websocket.Conn, 1),
	}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		s.conns <- conn
		for {
			var ctl control
			if err := conn.ReadJSON(&ctl); err != nil {
				return
			}
			s.controls <- ctl
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *wsServer) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-s.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no connection arrived")
		return nil
	}
}

func (s *wsServer) control(t *testing.T) control {
	t.Helper()
	select {
	case c := <-s.controls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no control message arrived")
		return control{}
	}
}

func TestChannelDeliversSubscribedFrames(t *testing.T) {
	srv := newWSServer(t)
	sink := &inlineSink{}
	applier := newRecordingApplier()

	ch := NewChannel(srv.url(), "tok", sink, applier)
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	if err := ch.Subscribe("a"); err != nil {
		t.Fatal(err)
	}
	if ctl := srv.control(t); ctl.Action != "subscribe" || ctl.Topic != "room:a" {
		t.Fatalf("unexpected control %+v", ctl)
	}

	conn := srv.conn(t)
	for _, typ := range []string{"message.created", "message.updated"} {
		frame := Frame{Topic: "room:a", Event: json.RawMessage(`{"type":"` + typ + `","data":{}}`)}
		if err := conn.WriteJSON(frame); err != nil {
			t.Fatal(err)
		}
	}

	events := applier.wait(t, 2)
	if events[0] != "message.created" || events[1] != "message.updated" {
		t.Errorf("events out of order: %v", events)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, room := range sink.rooms {
		if room != "a" {
			t.Errorf("frame routed to wrong lane %s", room)
		}
	}
}

func TestChannelDropsUnsubscribedTopics(t *testing.T) {
	srv := newWSServer(t)
	sink := &inlineSink{}
	applier := newRecordingApplier()

	ch := NewChannel(srv.url(), "", sink, applier)
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	if err := ch.Subscribe("a"); err != nil {
		t.Fatal(err)
	}
	srv.control(t)
	conn := srv.conn(t)

	// A frame for a room we never joined, then one we did.
	conn.WriteJSON(Frame{Topic: "room:b", Event: json.RawMessage(`{"type":"stray","data":{}}`)})
	conn.WriteJSON(Frame{Topic: "room:a", Event: json.RawMessage(`{"type":"wanted","data":{}}`)})

	events := applier.wait(t, 1)
	if len(events) != 1 || events[0] != "wanted" {
		t.Errorf("expected only the subscribed frame, got %v", events)
	}
}

func TestSwitchRoomUnsubscribesBeforeReset(t *testing.T) {
	srv := newWSServer(t)
	sink := &inlineSink{}
	applier := newRecordingApplier()

	ch := NewChannel(srv.url(), "", sink, applier)
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	if err := ch.Subscribe("a"); err != nil {
		t.Fatal(err)
	}
	srv.control(t)

	var order []string
	err := ch.SwitchRoom("a", "b", func() {
		order = append(order, "reset")
	})
	if err != nil {
		t.Fatal(err)
	}

	ctl := srv.control(t)
	order = append(order, ctl.Action+" "+ctl.Topic)
	ctl = srv.control(t)
	order = append(order, ctl.Action+" "+ctl.Topic)

	// Reset must run after the unsubscribe is issued, and the server
	// must see unsubscribe before the new subscribe.
	if order[0] != "reset" || order[1] != "unsubscribe room:a" || order[2] != "subscribe room:b" {
		t.Errorf("unexpected order %v", order)
	}

	// Frames for the old room no longer reach the applier.
	conn := srv.conn(t)
	conn.WriteJSON(Frame{Topic: "room:a", Event: json.RawMessage(`{"type":"stale","data":{}}`)})
	conn.WriteJSON(Frame{Topic: "room:b", Event: json.RawMessage(`{"type":"fresh","data":{}}`)})
	events := applier.wait(t, 1)
	if len(events) != 1 || events[0] != "fresh" {
		t.Errorf("expected only the new room's frame, got %v", events)
	}
}
