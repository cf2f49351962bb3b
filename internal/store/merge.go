// internal/store/merge.go
package store

import (
	"maps"
	"strings"

	"github.com/user/roomsync/internal/types"
)

// Merge semantics, shared by history fetches and push events: scalar
// fields present in the patch overwrite (last write wins by arrival
// order), absent fields are left alone, and collection fields are
// union-merged so a merge can never shrink what an earlier, larger
// response already loaded. The one exception is an empty previous
// collection, which adopts the incoming value wholesale.

func mergeRoom(dst *types.Room, p *types.RoomPatch) {
	if p.Name != nil {
		dst.Name = *p.Name
	}
	if p.Description != nil {
		dst.Description = *p.Description
	}
	if p.MaxMembers != nil {
		dst.MaxMembers = *p.MaxMembers
	}
	if p.Private != nil {
		dst.Private = *p.Private
	}
	if p.MainThreadID != nil {
		dst.MainThreadID = *p.MainThreadID
	}
}

func mergeThread(dst *types.Thread, p *types.ThreadPatch) {
	if p.RoomID != nil {
		dst.RoomID = *p.RoomID
	}
	if p.Name != nil {
		dst.Name = *p.Name
	}
	if p.Status != nil {
		dst.Status = *p.Status
	}
	if p.IsMain != nil {
		dst.IsMain = *p.IsMain
	}
	if p.Parent != nil {
		parent := *p.Parent
		dst.Parent = &parent
	}
	if p.StarterMessageID != nil {
		dst.StarterMessageID = *p.StarterMessageID
	}
	if p.CreatedAt != nil {
		dst.CreatedAt = *p.CreatedAt
	}
	if p.ReadState != nil {
		dst.ReadState = maps.Clone(p.ReadState)
	}
	if p.Messages != nil {
		if len(dst.Messages.AllIDs) == 0 {
			dst.Messages = *p.Messages
		} else {
			dst.Messages.AllIDs = unionMessageIDs(dst.Messages.AllIDs, p.Messages.AllIDs)
			if p.Messages.Page != nil {
				dst.Messages.Page = p.Messages.Page
			}
		}
	}
	if len(p.Events) > 0 {
		if len(dst.Events) == 0 {
			dst.Events = p.Events
		} else {
			dst.Events = unionByID(dst.Events, p.Events, func(e types.ThreadEvent) string { return e.ID })
		}
	}
	if len(p.Media) > 0 {
		if len(dst.Media) == 0 {
			dst.Media = p.Media
		} else {
			dst.Media = unionByID(dst.Media, p.Media, func(m types.MediaItem) string { return m.ID })
		}
	}
}

func mergeMessage(dst *types.Message, p *types.MessagePatch) {
	if p.ThreadID != nil {
		dst.ThreadID = *p.ThreadID
	}
	if p.MemberID != nil {
		dst.MemberID = *p.MemberID
	}
	if p.CreatedAt != nil {
		dst.CreatedAt = *p.CreatedAt
	}
	if p.Text != nil {
		dst.Text = *p.Text
	}
	if p.ExecutionID != nil {
		dst.ExecutionID = *p.ExecutionID
	}
	if p.Error != nil {
		dst.Error = p.Error
	}
	if len(p.Attachments) > 0 {
		dst.Attachments = unionByID(dst.Attachments, p.Attachments, func(a types.Attachment) string { return a.ID })
	}
	if len(p.Reactions) > 0 {
		dst.Reactions = unionByID(dst.Reactions, p.Reactions, func(r types.Reaction) string { return r.ID })
	}
}

// mergePart never touches the streaming fields (text accumulator,
// pending buffers, flush watermark); those belong to the reassembler.
// A Text value in the patch is only adopted when the part has nothing
// accumulated yet, so a late full-entity upsert cannot clobber an
// in-flight stream.
func mergePart(dst *types.MessagePart, p *types.PartPatch) {
	if p.MessageID != nil {
		dst.MessageID = *p.MessageID
	}
	if p.Type != nil {
		dst.Type = *p.Type
	}
	if p.Order != nil {
		dst.Order = *p.Order
	}
	if p.CreatedAt != nil {
		dst.CreatedAt = *p.CreatedAt
	}
	if p.Text != nil && dst.Text == "" {
		dst.Text = *p.Text
	}
	if p.Arguments != nil && dst.Arguments == "" {
		dst.Arguments = *p.Arguments
	}
	if p.IsDone != nil && *p.IsDone {
		dst.IsDone = true
		dst.Pending = nil
		dst.ArgsPending = nil
	}
}

func mergeMember(dst *types.Member, p *types.MemberPatch) {
	if p.RoomID != nil {
		dst.RoomID = *p.RoomID
	}
	if p.Role != nil {
		dst.Role = *p.Role
	}
	if p.Kicked != nil {
		dst.Kicked = *p.Kicked
	}
	if p.Silenced != nil {
		dst.Silenced = *p.Silenced
	}
	if p.VideoBlocked != nil {
		dst.VideoBlocked = *p.VideoBlocked
	}
	if p.Identity != nil {
		dst.Identity = *p.Identity
	}
}

// unionMessageIDs appends incoming ids not already present, preserving
// the order of both sides.
func unionMessageIDs(existing, incoming []types.MessageID) []types.MessageID {
	seen := make(map[types.MessageID]struct{}, len(existing))
	for _, id := range existing {
		seen[id] = struct{}{}
	}
	out := existing
	for _, id := range incoming {
		if _, ok := seen[id]; !ok {
			out = append(out, id)
			seen[id] = struct{}{}
		}
	}
	return out
}

func unionByID[T any](existing, incoming []T, key func(T) string) []T {
	seen := make(map[string]int, len(existing))
	out := existing
	for i, item := range existing {
		seen[key(item)] = i
	}
	for _, item := range incoming {
		if i, ok := seen[key(item)]; ok {
			out[i] = item
		} else {
			seen[key(item)] = len(out)
			out = append(out, item)
		}
	}
	return out
}

// comparePartOrder sorts a message's parts ascending by order, then
// creation time, then id for a stable tiebreak.
func comparePartOrder(a, b *types.MessagePart) int {
	if a.Order != b.Order {
		if a.Order < b.Order {
			return -1
		}
		return 1
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(string(a.ID), string(b.ID))
}
