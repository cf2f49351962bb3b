// internal/store/store.go
package store

import (
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/user/roomsync/internal/types"
)

// unorderedPart sorts parts without an explicit order after every part
// that has one.
const unorderedPart = 1 << 30

// Store holds the normalized entity tables for one room session. It is
// the single source of truth; every other component holds ids into it,
// never copies of mutable entity state. Mutations are expected to arrive
// serialized through the dispatch queue; the mutex exists so read
// accessors stay safe from other goroutines.
type Store struct {
	mu sync.RWMutex

	room       *types.Room
	mainThread types.ThreadID
	me         types.MemberID
	voice      bool

	threads   map[types.ThreadID]*types.Thread
	threadIDs []types.ThreadID

	messages   map[types.MessageID]*types.Message
	messageIDs []types.MessageID

	parts      map[types.PartID]*types.MessagePart
	partsByMsg map[types.MessageID][]types.PartID

	members   map[types.MemberID]*types.Member
	memberIDs []types.MemberID

	requests   map[types.RequestID]*types.AuthorizationRequest
	requestIDs []types.RequestID

	lifecycles map[types.ResponseID]*types.ResponseLifecycle

	notifier types.Notifier
}

// Option configures a Store.
type Option func(*Store)

// WithNotifier enables the inbound-message cue. Without it the cue is
// off, which is what the test harness wants.
func WithNotifier(n types.Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{}
	s.init()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) init() {
	s.threads = make(map[types.ThreadID]*types.Thread)
	s.threadIDs = nil
	s.messages = make(map[types.MessageID]*types.Message)
	s.messageIDs = nil
	s.parts = make(map[types.PartID]*types.MessagePart)
	s.partsByMsg = make(map[types.MessageID][]types.PartID)
	s.members = make(map[types.MemberID]*types.Member)
	s.memberIDs = nil
	s.requests = make(map[types.RequestID]*types.AuthorizationRequest)
	s.requestIDs = nil
	s.lifecycles = make(map[types.ResponseID]*types.ResponseLifecycle)
}

// Reset empties every table. Callers must unsubscribe the push channel
// for the old room before calling this, or in-flight events will be
// applied to a room that no longer exists.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room = nil
	s.mainThread = ""
	s.init()
}

// --- room / session identity ---

// ApplyRoom merges a room patch, creating the room record on first sight.
func (s *Store) ApplyRoom(p *types.RoomPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		s.room = &types.Room{ID: p.ID}
	}
	mergeRoom(s.room, p)
	if p.MainThreadID != nil {
		s.mainThread = *p.MainThreadID
	}
}

// Room returns a copy of the room record, or false if none is loaded.
func (s *Store) Room() (types.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.room == nil {
		return types.Room{}, false
	}
	return *s.room, true
}

func (s *Store) SetMe(id types.MemberID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.me = id
}

func (s *Store) Me() types.MemberID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.me
}

// SetVoiceActive suppresses the inbound cue while a voice session runs.
func (s *Store) SetVoiceActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voice = active
}

func (s *Store) SetMainThread(id types.ThreadID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mainThread = id
}

func (s *Store) MainThread() types.ThreadID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mainThread
}

// --- threads ---

// UpsertThread inserts or field-level merges a thread. Fields absent
// from the patch never overwrite stored values; collection fields are
// union-merged and never shrink.
func (s *Store) UpsertThread(p *types.ThreadPatch) {
	if p == nil || p.ID == "" {
		slog.Warn("thread upsert without id dropped")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertThreadLocked(p)
}

func (s *Store) upsertThreadLocked(p *types.ThreadPatch) {
	t, ok := s.threads[p.ID]
	if !ok {
		t = &types.Thread{ID: p.ID, Status: types.ThreadRunning}
		s.threads[p.ID] = t
		s.threadIDs = append(s.threadIDs, p.ID)
	}
	mergeThread(t, p)
	if t.IsMain && s.mainThread == "" {
		s.mainThread = t.ID
	}
}

// PatchThreads applies one change set to each of the given ids. Unknown
// ids are logged and skipped, never an error.
func (s *Store) PatchThreads(ids []types.ThreadID, p *types.ThreadPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		t, ok := s.threads[id]
		if !ok {
			slog.Warn("thread patch for unknown id", "thread_id", string(id))
			continue
		}
		mergeThread(t, p)
	}
}

// Thread returns a copy of the thread with the given id.
func (s *Store) Thread(id types.ThreadID) (types.Thread, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	if !ok {
		return types.Thread{}, false
	}
	return copyThread(t), true
}

// Threads returns copies of all threads in first-seen order.
func (s *Store) Threads() []types.Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Thread, 0, len(s.threadIDs))
	for _, id := range s.threadIDs {
		out = append(out, copyThread(s.threads[id]))
	}
	return out
}

// RemoveThread deletes a thread and cascades to its messages and their
// parts. Unknown ids are a logged no-op.
func (s *Store) RemoveThread(id types.ThreadID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		slog.Warn("thread remove for unknown id", "thread_id", string(id))
		return
	}
	// removeMessageLocked rewrites the thread's id slice as it goes, so
	// walk a snapshot of it.
	for _, msgID := range slices.Clone(t.Messages.AllIDs) {
		s.removeMessageLocked(msgID)
	}
	delete(s.threads, id)
	s.threadIDs = slices.DeleteFunc(s.threadIDs, func(x types.ThreadID) bool { return x == id })
	if s.mainThread == id {
		s.mainThread = ""
	}
}

// SetReadState records one member's last-read timestamp on a thread.
func (s *Store) SetReadState(threadID types.ThreadID, memberID types.MemberID, timestamp string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok {
		slog.Warn("read state for unknown thread", "thread_id", string(threadID))
		return
	}
	if t.ReadState == nil {
		t.ReadState = make(map[types.MemberID]string)
	}
	t.ReadState[memberID] = timestamp
}

// --- messages ---

// UpsertMessage inserts or merges a message. A newly created message is
// linked into its thread's id collection; a creation not authored by
// "me" fires the inbound cue unless a voice session is active.
func (s *Store) UpsertMessage(p *types.MessagePatch) {
	if p == nil || p.ID == "" {
		slog.Warn("message upsert without id dropped")
		return
	}
	s.mu.Lock()
	m, ok := s.messages[p.ID]
	created := !ok
	if !ok {
		m = &types.Message{ID: p.ID}
		s.messages[p.ID] = m
		s.messageIDs = append(s.messageIDs, p.ID)
	}
	mergeMessage(m, p)
	if m.ThreadID != "" {
		if t, ok := s.threads[m.ThreadID]; ok {
			t.Messages.AllIDs = unionMessageIDs(t.Messages.AllIDs, []types.MessageID{m.ID})
		}
	}
	cue := created && s.notifier != nil && !s.voice && s.me != "" && m.MemberID != s.me
	var copied types.Message
	if cue {
		copied = *m
	}
	s.mu.Unlock()

	if cue {
		s.notifier.MessageReceived(&copied)
	}
}

// Message returns a copy of the message with the given id.
func (s *Store) Message(id types.MessageID) (types.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return types.Message{}, false
	}
	return copyMessage(m), true
}

// MessagesForThread returns the thread's messages sorted by creation
// time ascending.
func (s *Store) MessagesForThread(threadID types.ThreadID) []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[threadID]
	if !ok {
		return nil
	}
	out := make([]types.Message, 0, len(t.Messages.AllIDs))
	for _, id := range t.Messages.AllIDs {
		if m, ok := s.messages[id]; ok {
			out = append(out, copyMessage(m))
		}
	}
	slices.SortStableFunc(out, func(a, b types.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

// RemoveMessage deletes a message, its parts, and its entry in the
// owning thread's id collection.
func (s *Store) RemoveMessage(id types.MessageID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeMessageLocked(id)
}

func (s *Store) removeMessageLocked(id types.MessageID) {
	m, ok := s.messages[id]
	if !ok {
		slog.Warn("message remove for unknown id", "message_id", string(id))
		return
	}
	for _, partID := range s.partsByMsg[id] {
		delete(s.parts, partID)
	}
	delete(s.partsByMsg, id)
	if t, ok := s.threads[m.ThreadID]; ok {
		t.Messages.AllIDs = slices.DeleteFunc(t.Messages.AllIDs, func(x types.MessageID) bool { return x == id })
	}
	delete(s.messages, id)
	s.messageIDs = slices.DeleteFunc(s.messageIDs, func(x types.MessageID) bool { return x == id })
}

// --- message parts ---

// UpsertPart inserts or merges a part, keeping the message's part index
// sorted by order. Streaming state on an existing part is preserved
// across merges.
func (s *Store) UpsertPart(p *types.PartPatch) {
	if p == nil || p.ID == "" {
		slog.Warn("part upsert without id dropped")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	part, ok := s.parts[p.ID]
	if !ok {
		part = &types.MessagePart{
			ID:              p.ID,
			Type:            types.PartText,
			Order:           unorderedPart,
			LastFlushed:     -1,
			ArgsLastFlushed: -1,
		}
		s.parts[p.ID] = part
	}
	mergePart(part, p)
	if part.MessageID != "" {
		s.reindexPartLocked(part)
	}
}

func (s *Store) reindexPartLocked(part *types.MessagePart) {
	ids := s.partsByMsg[part.MessageID]
	if !slices.Contains(ids, part.ID) {
		ids = append(ids, part.ID)
	}
	slices.SortStableFunc(ids, func(a, b types.PartID) int {
		return comparePartOrder(s.parts[a], s.parts[b])
	})
	s.partsByMsg[part.MessageID] = ids
}

// Part returns a copy of the part, including cloned buffering state.
func (s *Store) Part(id types.PartID) (types.MessagePart, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.parts[id]
	if !ok {
		return types.MessagePart{}, false
	}
	return copyPart(p), true
}

// PartsForMessage returns copies of a message's parts in ascending order.
func (s *Store) PartsForMessage(msgID types.MessageID) []types.MessagePart {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.partsByMsg[msgID]
	out := make([]types.MessagePart, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyPart(s.parts[id]))
	}
	return out
}

// RemovePart deletes a single part.
func (s *Store) RemovePart(id types.PartID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parts[id]
	if !ok {
		slog.Warn("part remove for unknown id", "part_id", string(id))
		return
	}
	s.partsByMsg[p.MessageID] = slices.DeleteFunc(s.partsByMsg[p.MessageID], func(x types.PartID) bool { return x == id })
	delete(s.parts, id)
}

// MutatePart runs fn on the live part under the store lock. This is the
// path the stream reassembler uses to apply deltas atomically with
// respect to other mutations. Unknown ids are a logged no-op.
func (s *Store) MutatePart(id types.PartID, fn func(*types.MessagePart)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parts[id]
	if !ok {
		slog.Warn("part mutate for unknown id", "part_id", string(id))
		return
	}
	fn(p)
}

// --- members ---

// UpsertMember inserts or merges a member record.
func (s *Store) UpsertMember(p *types.MemberPatch) {
	if p == nil || p.ID == "" {
		slog.Warn("member upsert without id dropped")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[p.ID]
	if !ok {
		m = &types.Member{ID: p.ID}
		s.members[p.ID] = m
		s.memberIDs = append(s.memberIDs, p.ID)
	}
	mergeMember(m, p)
}

func (s *Store) Member(id types.MemberID) (types.Member, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	if !ok {
		return types.Member{}, false
	}
	return *m, true
}

func (s *Store) Members() []types.Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Member, 0, len(s.memberIDs))
	for _, id := range s.memberIDs {
		out = append(out, *s.members[id])
	}
	return out
}

// --- authorization requests ---

// UpsertAuthRequest appends a new request or patches an existing one in
// place.
func (s *Store) UpsertAuthRequest(p *types.AuthorizationRequestPatch) {
	if p == nil || p.ID == "" {
		slog.Warn("authorization request upsert without id dropped")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[p.ID]
	if !ok {
		r = &types.AuthorizationRequest{ID: p.ID}
		s.requests[p.ID] = r
		s.requestIDs = append(s.requestIDs, p.ID)
	}
	if p.IsCompleted != nil {
		r.IsCompleted = *p.IsCompleted
	}
	if p.Payload != nil {
		r.Payload = p.Payload
	}
}

// RemoveAuthRequest deletes a request.
func (s *Store) RemoveAuthRequest(id types.RequestID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[id]; !ok {
		slog.Warn("authorization request remove for unknown id", "request_id", string(id))
		return
	}
	delete(s.requests, id)
	s.requestIDs = slices.DeleteFunc(s.requestIDs, func(x types.RequestID) bool { return x == id })
}

// PendingAuthRequests returns all requests not yet completed, in
// arrival order.
func (s *Store) PendingAuthRequests() []types.AuthorizationRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.AuthorizationRequest
	for _, id := range s.requestIDs {
		if r := s.requests[id]; !r.IsCompleted {
			out = append(out, *r)
		}
	}
	return out
}

// --- response lifecycles ---

// StartLifecycle records an agent response as running.
func (s *Store) StartLifecycle(id types.ResponseID, threadID types.ThreadID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lifecycles[id] = &types.ResponseLifecycle{
		ID:        id,
		ThreadID:  threadID,
		Status:    types.LifecycleRunning,
		StartedAt: time.Now(),
	}
}

// EndLifecycle moves a response to a terminal status. Unknown ids are a
// logged no-op.
func (s *Store) EndLifecycle(id types.ResponseID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lc, ok := s.lifecycles[id]
	if !ok {
		slog.Warn("lifecycle end for unknown id", "response_id", string(id))
		return
	}
	lc.Status = status
	lc.EndedAt = time.Now()
}

// Lifecycle returns a copy of the given response lifecycle.
func (s *Store) Lifecycle(id types.ResponseID) (types.ResponseLifecycle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lc, ok := s.lifecycles[id]
	if !ok {
		return types.ResponseLifecycle{}, false
	}
	return *lc, true
}

// SweepLifecycles removes terminal lifecycles whose end time is older
// than ttl. Returns the number removed.
func (s *Store) SweepLifecycles(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-ttl)
	removed := 0
	for id, lc := range s.lifecycles {
		if lc.Status != types.LifecycleRunning && lc.EndedAt.Before(cutoff) {
			delete(s.lifecycles, id)
			removed++
		}
	}
	return removed
}

// DropDoneBuffers discards buffering state still attached to parts that
// were marked done. Returns the number of parts cleaned.
func (s *Store) DropDoneBuffers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cleaned := 0
	for _, p := range s.parts {
		if p.IsDone && (len(p.Pending) > 0 || len(p.ArgsPending) > 0) {
			p.Pending = nil
			p.ArgsPending = nil
			cleaned++
		}
	}
	return cleaned
}

// --- copies ---

func copyThread(t *types.Thread) types.Thread {
	out := *t
	out.ReadState = maps.Clone(t.ReadState)
	out.Messages.AllIDs = slices.Clone(t.Messages.AllIDs)
	if t.Messages.Page != nil {
		page := *t.Messages.Page
		out.Messages.Page = &page
	}
	out.Events = slices.Clone(t.Events)
	out.Media = slices.Clone(t.Media)
	if t.Parent != nil {
		parent := *t.Parent
		out.Parent = &parent
	}
	return out
}

func copyMessage(m *types.Message) types.Message {
	out := *m
	out.Attachments = slices.Clone(m.Attachments)
	out.Reactions = slices.Clone(m.Reactions)
	return out
}

func copyPart(p *types.MessagePart) types.MessagePart {
	out := *p
	out.Pending = maps.Clone(p.Pending)
	out.ArgsPending = maps.Clone(p.ArgsPending)
	return out
}
