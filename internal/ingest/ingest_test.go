// internal/ingest/ingest_test.go
package ingest

import (
	"fmt"
	"testing"

	"github.com/user/roomsync/internal/store"
	"github.com/user/roomsync/internal/types"
)

func dispatch(t *testing.T, i *Ingestor, frames ...string) {
	t.Helper()
	for _, frame := range frames {
		if err := i.Dispatch([]byte(frame)); err != nil {
			t.Fatalf("dispatch %s: %v", frame, err)
		}
	}
}

func TestMalformedEnvelopeDropped(t *testing.T) {
	s := store.New()
	i := New(s)

	cases := []string{
		`not json`,
		`{"data": {"id": "m1"}}`,
		`{"type": "message.created"}`,
		`{"type": "", "data": {}}`,
	}
	for _, frame := range cases {
		if err := i.Dispatch([]byte(frame)); err == nil {
			t.Errorf("frame %q: expected rejection", frame)
		}
	}
	if got := len(s.Threads()); got != 0 {
		t.Errorf("malformed frames mutated state: %d threads", got)
	}
}

func TestUnknownEventTypeIgnored(t *testing.T) {
	i := New(store.New())
	if err := i.Dispatch([]byte(`{"type": "workflow.promoted", "data": {"id": "x"}}`)); err != nil {
		t.Errorf("unknown types must be ignored, got %v", err)
	}
}

func TestMessageCreatedIdempotent(t *testing.T) {
	s := store.New()
	i := New(s)

	frame := `{"type": "message.created", "data": {"id": "m1", "thread_id": "t1", "member_id": "u1", "text": "hi"}}`
	dispatch(t, i, frame, frame)

	msg, ok := s.Message("m1")
	if !ok {
		t.Fatal("message not stored")
	}
	if msg.Text != "hi" {
		t.Errorf("unexpected text %q", msg.Text)
	}
}

func TestMessageUpdatedBothShapes(t *testing.T) {
	s := store.New()
	i := New(s)

	dispatch(t, i,
		`{"type": "message.created", "data": {"id": "m1", "text": "one"}}`,
		`{"type": "message.created", "data": {"id": "m2", "text": "two"}}`,
		// flat changed-entity shape
		`{"type": "message.updated", "data": {"id": "m1", "text": "one edited"}}`,
		// explicit {ids, changes} shape, fanned out to both ids
		`{"type": "message.updated", "data": {"ids": ["m1", "m2"], "changes": {"execution_id": "e7"}}}`,
	)

	m1, _ := s.Message("m1")
	if m1.Text != "one edited" || m1.ExecutionID != "e7" {
		t.Errorf("unexpected m1 state: %+v", m1)
	}
	m2, _ := s.Message("m2")
	if m2.Text != "two" || m2.ExecutionID != "e7" {
		t.Errorf("unexpected m2 state: %+v", m2)
	}
}

func TestUpdateRejectsBadShapes(t *testing.T) {
	i := New(store.New())

	cases := []string{
		`{"type": "message.updated", "data": {"changes": {"text": "x"}}}`,
		`{"type": "message.updated", "data": {"ids": 42, "changes": {"text": "x"}}}`,
		`{"type": "message.updated", "data": {"ids": ["m1"], "changes": ["not", "object"]}}`,
		`{"type": "message.updated", "data": {"text": "no id at all"}}`,
	}
	for _, frame := range cases {
		if err := i.Dispatch([]byte(frame)); err == nil {
			t.Errorf("frame %q: expected rejection", frame)
		}
	}
}

func TestHTMLBodyConvertedToMarkdown(t *testing.T) {
	s := store.New()
	i := New(s)

	dispatch(t, i, `{"type": "message.created", "data": {"id": "m1", "text": "<p>hello <strong>there</strong></p>"}}`)

	msg, _ := s.Message("m1")
	if msg.Text != "hello **there**" {
		t.Errorf("expected markdown body, got %q", msg.Text)
	}
}

func TestPlainTextBodyLeftAlone(t *testing.T) {
	s := store.New()
	i := New(s)

	dispatch(t, i, `{"type": "message.created", "data": {"id": "m1", "text": "2 < 3 and that is fine"}}`)

	msg, _ := s.Message("m1")
	if msg.Text != "2 < 3 and that is fine" {
		t.Errorf("plain text mangled: %q", msg.Text)
	}
}

func TestMessageDeletedCascades(t *testing.T) {
	s := store.New()
	i := New(s)

	dispatch(t, i,
		`{"type": "message.created", "data": {"id": "m1", "thread_id": "t1"}}`,
		`{"type": "message_part.created", "data": {"id": "p1", "message_id": "m1", "order": 0}}`,
		`{"type": "message_part.created", "data": {"id": "p2", "message_id": "m1", "order": 1}}`,
		`{"type": "message.deleted", "data": {"id": "m1"}}`,
	)

	if _, ok := s.Message("m1"); ok {
		t.Error("message not deleted")
	}
	if got := len(s.PartsForMessage("m1")); got != 0 {
		t.Errorf("parts survived cascade: %d", got)
	}
}

func TestPartDeltaStream(t *testing.T) {
	s := store.New()
	i := New(s)

	// Deltas arrive out of order, before any created event.
	dispatch(t, i,
		`{"type": "message_part.delta", "data": {"id": "p1", "message_id": "m1", "delta": "ef", "index": 2}}`,
		`{"type": "message_part.delta", "data": {"id": "p1", "message_id": "m1", "delta": "ab", "index": 0}}`,
		`{"type": "message_part.delta", "data": {"id": "p1", "message_id": "m1", "delta": "cd", "index": 1}}`,
		`{"type": "message_part.done", "data": {"id": "p1"}}`,
	)

	p, ok := s.Part("p1")
	if !ok {
		t.Fatal("part not created from delta stream")
	}
	if p.Text != "abcdef" {
		t.Errorf("expected reassembled text, got %q", p.Text)
	}
	if !p.IsDone {
		t.Error("done event not applied")
	}
}

func TestPartArgumentsDelta(t *testing.T) {
	s := store.New()
	i := New(s)

	dispatch(t, i,
		`{"type": "message_part.created", "data": {"id": "p1", "message_id": "m1", "part_type": "tool"}}`,
		`{"type": "message_part.delta", "data": {"id": "p1", "field": "arguments", "delta": "{\"__act_now\": \"Looking\"}", "index": 0}}`,
	)

	p, _ := s.Part("p1")
	if p.Arguments != `{"__act_now": "Looking"}` {
		t.Errorf("arguments not accumulated: %q", p.Arguments)
	}
	if p.ActNow != "Looking" {
		t.Errorf("special field not extracted: %q", p.ActNow)
	}
}

func TestThreadCreatedExtractsMessages(t *testing.T) {
	s := store.New()
	i := New(s)

	dispatch(t, i, `{"type": "thread.created", "data": {
		"id": "t1", "room_id": "r1", "name": "side quest",
		"messages": {"items": [{"id": "m1", "text": "first"}], "pagination_info": {"has_next_page": true, "cursor": "c9"}},
		"read_status": {"items": [{"member_id": "u1", "timestamp": "2026-03-01T10:00:00Z"}]}
	}}`)

	thread, ok := s.Thread("t1")
	if !ok {
		t.Fatal("thread not stored")
	}
	if len(thread.Messages.AllIDs) != 1 || thread.Messages.AllIDs[0] != "m1" {
		t.Errorf("message ids not extracted: %v", thread.Messages.AllIDs)
	}
	if thread.Messages.Page == nil || thread.Messages.Page.StartCursor != "c9" {
		t.Errorf("cursor not normalized: %+v", thread.Messages.Page)
	}
	if thread.ReadState["u1"] != "2026-03-01T10:00:00Z" {
		t.Errorf("read status not normalized: %v", thread.ReadState)
	}
	if _, ok := s.Message("m1"); !ok {
		t.Error("embedded message not stored in message table")
	}
}

func TestThreadCreatedReplayKeepsPagination(t *testing.T) {
	s := store.New()
	i := New(s)

	dispatch(t, i, `{"type": "thread.created", "data": {
		"id": "t1",
		"messages": {"items": [{"id": "m1"}], "pagination_info": {"has_next_page": true, "cursor": "c9"}}
	}}`)
	// A replayed creation without the embedded collection must not
	// regress what history already loaded.
	dispatch(t, i, `{"type": "thread.created", "data": {"id": "t1", "name": "renamed"}}`)

	thread, _ := s.Thread("t1")
	if thread.Name != "renamed" {
		t.Errorf("scalar change not applied: %q", thread.Name)
	}
	if len(thread.Messages.AllIDs) != 1 || thread.Messages.AllIDs[0] != "m1" {
		t.Errorf("message refs regressed: %v", thread.Messages.AllIDs)
	}
	if thread.Messages.Page == nil || !thread.Messages.Page.HasNextPage || thread.Messages.Page.StartCursor != "c9" {
		t.Errorf("pagination regressed: %+v", thread.Messages.Page)
	}
}

func TestThreadUpdatedUnknownIDIsNoOp(t *testing.T) {
	s := store.New()
	i := New(s)

	dispatch(t, i, `{"type": "thread.updated", "data": {"ids": ["ghost"], "changes": {"name": "renamed"}}}`)
	if _, ok := s.Thread("ghost"); ok {
		t.Error("update must not create unknown threads")
	}
}

type renameRecorder struct {
	got []string
}

func (r *renameRecorder) RenameForThread(id types.ThreadID, name string) {
	r.got = append(r.got, fmt.Sprintf("%s=%s", id, name))
}

func TestThreadRenamePropagates(t *testing.T) {
	s := store.New()
	r := &renameRecorder{}
	i := New(s, WithRenameListener(r))

	dispatch(t, i,
		`{"type": "thread.created", "data": {"id": "t1", "name": "old"}}`,
		`{"type": "thread.updated", "data": {"ids": ["t1"], "changes": {"name": "new"}}}`,
	)

	thread, _ := s.Thread("t1")
	if thread.Name != "new" {
		t.Errorf("thread not renamed: %q", thread.Name)
	}
	if len(r.got) != 1 || r.got[0] != "t1=new" {
		t.Errorf("rename not propagated: %v", r.got)
	}
}

func TestReadStateBothShapes(t *testing.T) {
	s := store.New()
	i := New(s)
	dispatch(t, i, `{"type": "thread.created", "data": {"id": "t1"}}`)

	dispatch(t, i,
		`{"type": "thread_read_state.updated", "data": {"ids": ["t1_u1"], "changes": {"timestamp": "2026-03-01T10:00:00Z"}}}`,
		`{"type": "thread_read_state.updated", "data": {"attributes": {"thread_id": "t1", "member_id": "u2", "timestamp": "2026-03-01T11:00:00Z"}}}`,
	)

	thread, _ := s.Thread("t1")
	if thread.ReadState["u1"] != "2026-03-01T10:00:00Z" {
		t.Errorf("composite-id shape not applied: %v", thread.ReadState)
	}
	if thread.ReadState["u2"] != "2026-03-01T11:00:00Z" {
		t.Errorf("attributes shape not applied: %v", thread.ReadState)
	}
}

func TestMemberJoinExpanded(t *testing.T) {
	s := store.New()
	i := New(s)

	dispatch(t, i,
		`{"type": "room_member.created", "data": {"id": "mem1", "room_id": "r1", "role": "admin", "user_id": "user-9", "name": "Ada"}}`,
		`{"type": "room_member.created", "data": {"id": "mem2", "room_id": "r1", "agent_id": "agent-3", "name": "Helper"}}`,
		`{"type": "room_member.created", "data": {"id": "mem3", "room_id": "r1", "guest_name": "visitor"}}`,
	)

	m1, _ := s.Member("mem1")
	if m1.Identity.Kind != types.MemberUser || m1.Identity.ID != "user-9" || m1.Identity.Name != "Ada" {
		t.Errorf("user identity not expanded: %+v", m1.Identity)
	}
	m2, _ := s.Member("mem2")
	if m2.Identity.Kind != types.MemberAgent || m2.Identity.ID != "agent-3" {
		t.Errorf("agent identity not expanded: %+v", m2.Identity)
	}
	m3, _ := s.Member("mem3")
	if m3.Identity.Kind != types.MemberGuest || m3.Identity.Name != "visitor" {
		t.Errorf("guest identity not expanded: %+v", m3.Identity)
	}
}

func TestAuthorizationRequestFlow(t *testing.T) {
	s := store.New()
	i := New(s)

	dispatch(t, i,
		`{"type": "authorization_request.created", "data": {"id": "r1", "payload": {"tool": "bash"}}}`,
		`{"type": "authorization_request.updated", "data": {"ids": ["r1"], "changes": {"is_completed": true}}}`,
		`{"type": "authorization_request.created", "data": {"id": "r2"}}`,
		`{"type": "authorization_request.deleted", "data": {"id": "r2"}}`,
	)

	if got := len(s.PendingAuthRequests()); got != 0 {
		t.Errorf("expected no pending requests, got %d", got)
	}
}

func TestResponseLifecycleEvents(t *testing.T) {
	s := store.New()
	i := New(s)

	dispatch(t, i,
		`{"type": "response.started", "data": {"response_id": "resp1", "thread_id": "t1"}}`,
		`{"type": "response.completed", "data": {"response_id": "resp1"}}`,
	)

	lc, ok := s.Lifecycle("resp1")
	if !ok {
		t.Fatal("lifecycle not tracked")
	}
	if lc.Status != types.LifecycleCompleted {
		t.Errorf("expected completed, got %s", lc.Status)
	}
}

func TestMediaWrappedAndBareArrays(t *testing.T) {
	s := store.New()
	i := New(s)

	dispatch(t, i,
		`{"type": "thread.created", "data": {"id": "t1", "media": [{"id": "md1", "url": "/a.png"}]}}`,
		`{"type": "thread.updated", "data": {"ids": ["t1"], "changes": {"media": {"items": [{"id": "md2", "url": "/b.png"}]}}}}`,
	)

	thread, _ := s.Thread("t1")
	if len(thread.Media) != 2 {
		t.Errorf("expected both media items, got %+v", thread.Media)
	}
}
