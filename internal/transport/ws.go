// internal/transport/ws.go

// Package transport connects the room core to the outside world: a
// websocket push channel for live events and an HTTP client for
// history pages.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/roomsync/internal/dispatch"
	"github.com/user/roomsync/internal/types"
)

const (
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	pingInterval  = 54 * time.Second
)

// Frame is one websocket message: a topic plus the event envelope the
// ingestion layer consumes.
type Frame struct {
	Topic string          `json:"topic"`
	Event json.RawMessage `json:"event"`
}

// control is the client-to-server topic subscription message.
type control struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

// Sink receives decoded frames, serialized per room. The dispatch
// queue satisfies this.
type Sink interface {
	Submit(roomID types.RoomID, task dispatch.Task) error
}

// Applier consumes event envelopes. The ingestor satisfies this.
type Applier interface {
	Dispatch(raw []byte) error
}

// Channel is a websocket push-channel client. Events for subscribed
// room topics are handed to the sink on that room's lane, preserving
// arrival order.
type Channel struct {
	url   string
	token string
	sink  Sink
	apply Applier

	mu     sync.Mutex
	conn   *websocket.Conn
	subs   map[types.RoomID]struct{}
	send   chan []byte
	done   chan struct{}
	closed bool
}

// NewChannel creates a disconnected push channel.
func NewChannel(url, token string, sink Sink, apply Applier) *Channel {
	return &Channel{
		url:   url,
		token: token,
		sink:  sink,
		apply: apply,
		subs:  make(map[types.RoomID]struct{}),
	}
}

// Connect dials the socket and starts the read and write pumps.
func (c *Channel) Connect(ctx context.Context) error {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("dial push channel: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.send = make(chan []byte, 64)
	c.done = make(chan struct{})
	c.closed = false
	c.mu.Unlock()

	go c.readPump(conn)
	go c.writePump(conn)

	slog.Info("push channel connected", "url", c.url)
	return nil
}

// Close tears the connection down. Pending subscriptions are kept so a
// later Connect can resubscribe.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn == nil {
		return nil
	}
	c.closed = true
	close(c.done)
	return c.conn.Close()
}

// Done is closed when the connection ends, whether by Close or by a
// read error.
func (c *Channel) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Subscribe starts delivery of the room's events.
func (c *Channel) Subscribe(roomID types.RoomID) error {
	c.mu.Lock()
	c.subs[roomID] = struct{}{}
	c.mu.Unlock()
	return c.sendControl("subscribe", roomID)
}

// Unsubscribe stops delivery of the room's events.
func (c *Channel) Unsubscribe(roomID types.RoomID) error {
	c.mu.Lock()
	delete(c.subs, roomID)
	c.mu.Unlock()
	return c.sendControl("unsubscribe", roomID)
}

// SwitchRoom moves the channel from one room to another. The old topic
// is unsubscribed before reset runs, so no stale event can land in the
// cleared state, and only then is the new topic subscribed.
func (c *Channel) SwitchRoom(old, next types.RoomID, reset func()) error {
	if old != "" {
		if err := c.Unsubscribe(old); err != nil {
			return err
		}
	}
	if reset != nil {
		reset()
	}
	return c.Subscribe(next)
}

func (c *Channel) sendControl(action string, roomID types.RoomID) error {
	msg, err := json.Marshal(control{Action: action, Topic: roomTopic(roomID)})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", action, err)
	}

	c.mu.Lock()
	send, done := c.send, c.done
	c.mu.Unlock()
	if send == nil {
		return fmt.Errorf("%s %s: channel not connected", action, roomID)
	}
	select {
	case send <- msg:
		return nil
	case <-done:
		return fmt.Errorf("%s %s: channel closed", action, roomID)
	}
}

func (c *Channel) readPump(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		if !c.closed {
			c.closed = true
			close(c.done)
		}
		c.mu.Unlock()
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Error("push channel read failed", "error", err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			slog.Warn("undecodable frame dropped", "error", err)
			continue
		}

		roomID, ok := parseRoomTopic(frame.Topic)
		if !ok {
			slog.Debug("frame for unrecognized topic", "topic", frame.Topic)
			continue
		}
		c.mu.Lock()
		_, subscribed := c.subs[roomID]
		c.mu.Unlock()
		if !subscribed {
			// Late event for a topic we already left.
			continue
		}

		event := frame.Event
		if err := c.sink.Submit(roomID, func() {
			if err := c.apply.Dispatch(event); err != nil {
				slog.Error("event apply failed", "room_id", string(roomID), "error", err)
			}
		}); err != nil {
			slog.Error("event enqueue failed", "room_id", string(roomID), "error", err)
		}
	}
}

func (c *Channel) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	c.mu.Lock()
	send, done := c.send, c.done
	c.mu.Unlock()

	for {
		select {
		case msg := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				slog.Error("push channel write failed", "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func roomTopic(roomID types.RoomID) string {
	return "room:" + string(roomID)
}

func parseRoomTopic(topic string) (types.RoomID, bool) {
	id, ok := strings.CutPrefix(topic, "room:")
	if !ok || id == "" {
		return "", false
	}
	return types.RoomID(id), true
}
