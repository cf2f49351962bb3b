// internal/pager/walker.go

// Package pager walks a room's thread history as cursor-paginated
// batches and merges each batch into the entity store without ever
// discarding already-loaded data.
package pager

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/user/roomsync/internal/store"
	"github.com/user/roomsync/internal/types"
)

// Walker pages one room's threads status class by status class, in the
// fixed order running, blocked, dead, archived. It is an explicit state
// machine (current status index, current cursor) rather than recursion,
// so a walk can be stepped in tests and cancelled between pages.
type Walker struct {
	store   *store.Store
	fetcher types.ThreadFetcher
	roomID  types.RoomID
	limit   int

	statuses    []types.ThreadStatus
	statusIndex int
	cursor      string
	done        bool
}

// NewWalker creates a walker over the default status sequence.
func NewWalker(s *store.Store, fetcher types.ThreadFetcher, roomID types.RoomID, limit int) *Walker {
	return &Walker{
		store:    s,
		fetcher:  fetcher,
		roomID:   roomID,
		limit:    limit,
		statuses: types.AllThreadStatuses,
	}
}

// Done reports whether every status class has been exhausted once.
func (w *Walker) Done() bool {
	return w.done
}

// Status returns the status class the next step will fetch.
func (w *Walker) Status() types.ThreadStatus {
	if w.done {
		return ""
	}
	return w.statuses[w.statusIndex]
}

// Step fetches and merges one page. An absent next-cursor exhausts the
// current status class and advances to the next one; the walk is done
// once the last class is exhausted. A fetch error leaves the walker
// positioned on the failed page, so the caller may retry or abandon;
// batches merged by earlier steps remain merged.
func (w *Walker) Step(ctx context.Context) error {
	if w.done {
		return nil
	}
	status := w.statuses[w.statusIndex]

	page, err := w.fetcher.FetchThreads(ctx, w.roomID, status, w.cursor, w.limit)
	if err != nil {
		return fmt.Errorf("fetch threads %s: %w", status, err)
	}

	for _, snap := range page.Threads {
		MergeSnapshot(w.store, snap)
	}
	slog.Debug("thread page merged",
		"room_id", string(w.roomID),
		"status", string(status),
		"threads", len(page.Threads),
		"next_cursor", page.NextCursor != "",
	)

	if page.NextCursor != "" {
		w.cursor = page.NextCursor
		return nil
	}
	w.cursor = ""
	w.statusIndex++
	if w.statusIndex >= len(w.statuses) {
		w.done = true
	}
	return nil
}

// Run steps the walk to completion or until ctx is cancelled.
func (w *Walker) Run(ctx context.Context) error {
	for !w.done {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.Step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// MergeSnapshot stores one fetched thread: the embedded messages are
// extracted into the message table first, then the thread is merged
// carrying only message ids, so message content is never stored in two
// places.
func MergeSnapshot(s *store.Store, snap *types.ThreadSnapshot) {
	ids := make([]types.MessageID, 0, len(snap.Messages))
	for _, msg := range snap.Messages {
		if msg.ID == "" {
			continue
		}
		s.UpsertMessage(msg)
		ids = append(ids, msg.ID)
	}

	patch := snap.Thread
	if len(ids) > 0 || snap.Page != nil {
		patch.Messages = &types.MessageRefs{AllIDs: ids, Page: snap.Page}
	}
	s.UpsertThread(&patch)
}
