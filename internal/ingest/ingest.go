// internal/ingest/ingest.go

// Package ingest turns push-channel envelopes into idempotent store
// mutations. Creation and update verbs for one entity kind route to the
// same upsert; replaying a creation after updates have landed cannot
// regress state because the store's merge never overwrites a present
// field with an absent one.
package ingest

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/user/roomsync/internal/pager"
	"github.com/user/roomsync/internal/store"
	"github.com/user/roomsync/internal/stream"
	"github.com/user/roomsync/internal/types"
)

// ThreadRenameListener is told when a thread's name changes, so the tab
// bound to it can follow.
type ThreadRenameListener interface {
	RenameForThread(threadID types.ThreadID, name string)
}

// Ingestor owns the event registry for one room session.
type Ingestor struct {
	store  *store.Store
	reg    *Registry
	rename ThreadRenameListener
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithRenameListener propagates thread renames (usually to the tab
// manager).
func WithRenameListener(l ThreadRenameListener) Option {
	return func(i *Ingestor) { i.rename = l }
}

// New creates an Ingestor with every event type registered.
func New(s *store.Store, opts ...Option) *Ingestor {
	i := &Ingestor{store: s, reg: NewRegistry()}
	for _, opt := range opts {
		opt(i)
	}

	i.reg.Register("message.created", i.onMessageUpsert)
	i.reg.Register("message.updated", i.onMessageUpdated)
	i.reg.Register("message.deleted", i.onMessageDeleted)

	i.reg.Register("message_part.created", i.onPartCreated)
	i.reg.Register("message_part.delta", i.onPartDelta)
	i.reg.Register("message_part.done", i.onPartDone)
	i.reg.Register("message_part.reset", i.onPartReset)
	i.reg.Register("message_part.deleted", i.onPartDeleted)

	i.reg.Register("thread.created", i.onThreadUpsert)
	i.reg.Register("thread.updated", i.onThreadUpdated)
	i.reg.Register("thread.deleted", i.onThreadDeleted)
	i.reg.Register("thread_read_state.updated", i.onReadState)

	i.reg.Register("room.updated", i.onRoomUpdated)
	i.reg.Register("room_member.created", i.onMemberUpsert)
	i.reg.Register("room_member.updated", i.onMemberUpdated)

	i.reg.Register("authorization_request.created", i.onAuthRequestUpsert)
	i.reg.Register("authorization_request.updated", i.onAuthRequestUpsert)
	i.reg.Register("authorization_request.deleted", i.onAuthRequestDeleted)

	i.reg.Register("response.started", i.onResponseStarted)
	i.reg.Register("response.completed", i.onResponseEnded(types.LifecycleCompleted))
	i.reg.Register("response.failed", i.onResponseEnded(types.LifecycleFailed))

	return i
}

// Dispatch routes one raw envelope. Safe to call for every frame the
// transport delivers; malformed frames and unknown types never mutate
// state.
func (i *Ingestor) Dispatch(raw []byte) error {
	return i.reg.Dispatch(raw)
}

// --- messages ---

func (i *Ingestor) onMessageUpsert(data json.RawMessage) error {
	patch, err := DecodeMessagePatch(data)
	if err != nil {
		return err
	}
	i.store.UpsertMessage(patch)
	return nil
}

func (i *Ingestor) onMessageUpdated(data json.RawMessage) error {
	update, err := NormalizeUpdate(data)
	if err != nil {
		return err
	}
	// The {ids, changes} form carries the id outside the change set.
	patch, err := decodeMessage(update.Changes, false)
	if err != nil {
		return err
	}
	for _, id := range update.IDs {
		p := *patch
		p.ID = types.MessageID(id)
		i.store.UpsertMessage(&p)
	}
	return nil
}

func (i *Ingestor) onMessageDeleted(data json.RawMessage) error {
	ids, err := deletedIDs(data)
	if err != nil {
		return err
	}
	for _, id := range ids {
		i.store.RemoveMessage(types.MessageID(id))
	}
	return nil
}

// --- message parts ---

func (i *Ingestor) onPartCreated(data json.RawMessage) error {
	var patch types.PartPatch
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("decode part payload: %w", err)
	}
	if patch.ID == "" {
		return fmt.Errorf("part payload without id")
	}
	i.store.UpsertPart(&patch)
	return nil
}

type partDeltaWire struct {
	ID        types.PartID     `json:"id"`
	MessageID *types.MessageID `json:"message_id"`
	Type      *types.PartType  `json:"part_type"`
	Order     *int             `json:"order"`
	Delta     string           `json:"delta"`
	Index     *int             `json:"index"`
	Field     string           `json:"field"`
}

func (i *Ingestor) onPartDelta(data json.RawMessage) error {
	var w partDeltaWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode part delta: %w", err)
	}
	if w.ID == "" {
		return fmt.Errorf("part delta without id")
	}

	// First delta for an unseen part creates it, so history fetch and
	// stream start may race in either order.
	i.store.UpsertPart(&types.PartPatch{
		ID:        w.ID,
		MessageID: w.MessageID,
		Type:      w.Type,
		Order:     w.Order,
	})

	index := stream.NoIndex
	if w.Index != nil {
		index = *w.Index
	}
	i.store.MutatePart(w.ID, func(p *types.MessagePart) {
		if w.Field == "arguments" {
			stream.ApplyArgumentsDelta(p, w.Delta, index)
		} else {
			stream.ApplyTextDelta(p, w.Delta, index)
		}
	})
	return nil
}

func (i *Ingestor) onPartDone(data json.RawMessage) error {
	ids, err := deletedIDs(data)
	if err != nil {
		return err
	}
	for _, id := range ids {
		i.store.MutatePart(types.PartID(id), stream.MarkDone)
	}
	return nil
}

func (i *Ingestor) onPartReset(data json.RawMessage) error {
	ids, err := deletedIDs(data)
	if err != nil {
		return err
	}
	for _, id := range ids {
		i.store.MutatePart(types.PartID(id), stream.Reset)
	}
	return nil
}

func (i *Ingestor) onPartDeleted(data json.RawMessage) error {
	ids, err := deletedIDs(data)
	if err != nil {
		return err
	}
	for _, id := range ids {
		i.store.RemovePart(types.PartID(id))
	}
	return nil
}

// --- threads ---

func (i *Ingestor) onThreadUpsert(data json.RawMessage) error {
	snap, err := DecodeThreadSnapshot(data)
	if err != nil {
		return err
	}
	pager.MergeSnapshot(i.store, snap)
	return nil
}

func (i *Ingestor) onThreadUpdated(data json.RawMessage) error {
	update, err := NormalizeUpdate(data)
	if err != nil {
		return err
	}
	snap, err := decodeThread(update.Changes, false)
	if err != nil {
		return err
	}

	ids := make([]types.ThreadID, 0, len(update.IDs))
	for _, id := range update.IDs {
		ids = append(ids, types.ThreadID(id))
	}
	patch := snap.Thread
	patch.ID = ""
	i.store.PatchThreads(ids, &patch)

	if patch.Name != nil && i.rename != nil {
		for _, id := range ids {
			i.rename.RenameForThread(id, *patch.Name)
		}
	}
	return nil
}

func (i *Ingestor) onThreadDeleted(data json.RawMessage) error {
	ids, err := deletedIDs(data)
	if err != nil {
		return err
	}
	for _, id := range ids {
		i.store.RemoveThread(types.ThreadID(id))
	}
	return nil
}

func (i *Ingestor) onReadState(data json.RawMessage) error {
	update, err := ParseReadStateUpdate(data)
	if err != nil {
		return err
	}
	i.store.SetReadState(update.ThreadID, update.MemberID, update.Timestamp)
	return nil
}

// --- room / members ---

func (i *Ingestor) onRoomUpdated(data json.RawMessage) error {
	var patch types.RoomPatch
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("decode room payload: %w", err)
	}
	if patch.ID == "" {
		return fmt.Errorf("room payload without id")
	}
	i.store.ApplyRoom(&patch)
	return nil
}

func (i *Ingestor) onMemberUpsert(data json.RawMessage) error {
	patch, err := DecodeMemberPatch(data)
	if err != nil {
		return err
	}
	i.store.UpsertMember(patch)
	return nil
}

func (i *Ingestor) onMemberUpdated(data json.RawMessage) error {
	update, err := NormalizeUpdate(data)
	if err != nil {
		return err
	}
	patch, err := decodeMember(update.Changes, false)
	if err != nil {
		return err
	}
	for _, id := range update.IDs {
		p := *patch
		p.ID = types.MemberID(id)
		i.store.UpsertMember(&p)
	}
	return nil
}

// --- authorization requests ---

func (i *Ingestor) onAuthRequestUpsert(data json.RawMessage) error {
	var patch types.AuthorizationRequestPatch
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("decode authorization request: %w", err)
	}
	if patch.ID == "" {
		update, uerr := NormalizeUpdate(data)
		if uerr != nil {
			return fmt.Errorf("authorization request without id")
		}
		if err := json.Unmarshal(update.Changes, &patch); err != nil {
			return fmt.Errorf("decode authorization request: %w", err)
		}
		for _, id := range update.IDs {
			p := patch
			p.ID = types.RequestID(id)
			i.store.UpsertAuthRequest(&p)
		}
		return nil
	}
	i.store.UpsertAuthRequest(&patch)
	return nil
}

func (i *Ingestor) onAuthRequestDeleted(data json.RawMessage) error {
	ids, err := deletedIDs(data)
	if err != nil {
		return err
	}
	for _, id := range ids {
		i.store.RemoveAuthRequest(types.RequestID(id))
	}
	return nil
}

// --- response lifecycles ---

type responseWire struct {
	ResponseID types.ResponseID `json:"response_id"`
	ThreadID   types.ThreadID   `json:"thread_id"`
}

func (i *Ingestor) onResponseStarted(data json.RawMessage) error {
	var w responseWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode response payload: %w", err)
	}
	if w.ResponseID == "" {
		return fmt.Errorf("response payload without id")
	}
	i.store.StartLifecycle(w.ResponseID, w.ThreadID)
	return nil
}

func (i *Ingestor) onResponseEnded(status string) Handler {
	return func(data json.RawMessage) error {
		var w responseWire
		if err := json.Unmarshal(data, &w); err != nil {
			return fmt.Errorf("decode response payload: %w", err)
		}
		if w.ResponseID == "" {
			return fmt.Errorf("response payload without id")
		}
		i.store.EndLifecycle(w.ResponseID, status)
		return nil
	}
}

// deletedIDs resolves the id set of a delete-style payload: {id},
// {ids: [...]} or {ids: "..."}.
func deletedIDs(data json.RawMessage) ([]string, error) {
	var w wireUpdate
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode delete payload: %w", err)
	}
	if ids, err := decodeIDs(w.IDs); err == nil && len(ids) > 0 {
		return ids, nil
	}
	if w.ID != "" {
		return []string{w.ID}, nil
	}
	slog.Warn("delete payload without resolvable ids")
	return nil, fmt.Errorf("delete payload without resolvable ids")
}
