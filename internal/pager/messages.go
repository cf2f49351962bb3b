// internal/pager/messages.go
package pager

import (
	"context"
	"fmt"

	"github.com/user/roomsync/internal/store"
	"github.com/user/roomsync/internal/types"
)

// CanFetchOlder reports whether a thread has another message page to
// pull. Both the next-page flag and the cursor must be present; a flag
// without a cursor is a server inconsistency we refuse to chase.
func CanFetchOlder(s *store.Store, threadID types.ThreadID) bool {
	t, ok := s.Thread(threadID)
	if !ok {
		return false
	}
	page := t.Messages.Page
	return page != nil && page.HasNextPage && page.StartCursor != ""
}

// FetchOlder pulls the next message page for a thread and merges it.
// Returns the number of messages merged.
func FetchOlder(ctx context.Context, s *store.Store, fetcher types.MessageFetcher, threadID types.ThreadID, limit int) (int, error) {
	t, ok := s.Thread(threadID)
	if !ok {
		return 0, fmt.Errorf("fetch older messages: unknown thread %s", threadID)
	}
	if t.Messages.Page == nil || !t.Messages.Page.HasNextPage || t.Messages.Page.StartCursor == "" {
		return 0, nil
	}

	page, err := fetcher.FetchMessages(ctx, threadID, t.Messages.Page.StartCursor, limit)
	if err != nil {
		return 0, fmt.Errorf("fetch older messages: %w", err)
	}

	ids := make([]types.MessageID, 0, len(page.Messages))
	for _, msg := range page.Messages {
		if msg.ID == "" {
			continue
		}
		s.UpsertMessage(msg)
		ids = append(ids, msg.ID)
	}
	info := page.Page
	s.UpsertThread(&types.ThreadPatch{
		ID:       threadID,
		Messages: &types.MessageRefs{AllIDs: ids, Page: &info},
	})
	return len(ids), nil
}
