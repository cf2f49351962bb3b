//go:build integration

package test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/user/roomsync/internal/dispatch"
	"github.com/user/roomsync/internal/ingest"
	"github.com/user/roomsync/internal/nav"
	"github.com/user/roomsync/internal/session"
	"github.com/user/roomsync/internal/store"
	"github.com/user/roomsync/internal/types"
)

// apply queues one event envelope on the room's lane the way the push
// channel does.
func apply(t *testing.T, q *dispatch.Queue, ing *ingest.Ingestor, room types.RoomID, event string) {
	t.Helper()
	raw := json.RawMessage(event)
	if err := q.Submit(room, func() {
		if err := ing.Dispatch(raw); err != nil {
			t.Errorf("dispatch failed: %v", err)
		}
	}); err != nil {
		t.Fatal(err)
	}
}

func TestEndToEnd(t *testing.T) {
	st := store.New()
	ing := ingest.New(st)

	q := dispatch.NewQueue(2)
	ctx := context.Background()
	q.Start(ctx)
	defer q.Stop()

	room := types.RoomID("room1")

	// History arrives as thread snapshots with embedded message pages.
	apply(t, q, ing, room, `{"type":"thread.created","data":{
		"id":"main","room_id":"room1","is_main":true,"status":"running",
		"messages":{"items":[{"id":"m1","thread_id":"main","text":"welcome"}],
		            "pagination_info":{"cursor":"","has_next_page":false}}}}`)

	// A live message followed by its streamed part, deltas out of order.
	apply(t, q, ing, room, `{"type":"message.created","data":{"id":"m2","thread_id":"main","member_id":"u1"}}`)
	apply(t, q, ing, room, `{"type":"message_part.delta","data":{"id":"p1","message_id":"m2","part_type":"text","order":0,"delta":"world","index":1}}`)
	apply(t, q, ing, room, `{"type":"message_part.delta","data":{"id":"p1","message_id":"m2","delta":"hello ","index":0}}`)
	apply(t, q, ing, room, `{"type":"message_part.done","data":{"id":"p1"}}`)

	// A side thread branching from the streamed message.
	apply(t, q, ing, room, `{"type":"thread.created","data":{
		"id":"side","room_id":"room1","status":"running",
		"parent":{"id":"m2","thread_id":"main"}}}`)

	if !q.WaitIdle(2 * time.Second) {
		t.Fatal("queue never drained")
	}

	main, ok := st.Thread("main")
	if !ok {
		t.Fatal("main thread missing")
	}
	if len(main.Messages.AllIDs) != 2 {
		t.Fatalf("expected m1 and m2 in thread refs, got %v", main.Messages.AllIDs)
	}

	parts := st.PartsForMessage("m2")
	if len(parts) != 1 {
		t.Fatalf("expected one part, got %d", len(parts))
	}
	if parts[0].Text != "hello world" || !parts[0].IsDone {
		t.Errorf("part not reassembled: %+v", parts[0])
	}

	// Navigation sees the branch.
	tabs := session.NewManager(nil)
	resolver := nav.New(st, tabs)
	chain := resolver.History("side")
	if len(chain) != 2 || chain[0] != "main" || chain[1] != "side" {
		t.Errorf("expected [main side], got %v", chain)
	}

	// Opening a tab for the side thread makes it current.
	tabs.CreateTab("side", "side", false)
	if current, ok := resolver.CurrentThread(); !ok || current.ID != "side" {
		t.Errorf("expected side current, got %+v", current)
	}

	// Deleting the streamed message cascades to its parts and refs.
	apply(t, q, ing, room, `{"type":"message.deleted","data":{"id":"m2"}}`)
	if !q.WaitIdle(2 * time.Second) {
		t.Fatal("queue never drained")
	}
	if _, ok := st.Message("m2"); ok {
		t.Error("message not removed")
	}
	if got := st.PartsForMessage("m2"); len(got) != 0 {
		t.Errorf("parts not cascaded: %d left", len(got))
	}
	main, _ = st.Thread("main")
	if len(main.Messages.AllIDs) != 1 || main.Messages.AllIDs[0] != "m1" {
		t.Errorf("thread refs not updated: %v", main.Messages.AllIDs)
	}

	// Replaying history after the deletes is idempotent for survivors.
	apply(t, q, ing, room, `{"type":"message.created","data":{"id":"m1","thread_id":"main","text":"welcome"}}`)
	if !q.WaitIdle(2 * time.Second) {
		t.Fatal("queue never drained")
	}
	msgs := st.MessagesForThread("main")
	if len(msgs) != 1 || msgs[0].Text != "welcome" {
		t.Errorf("replay not idempotent: %+v", msgs)
	}
}
