// internal/types/interfaces.go
package types

import "context"

// ThreadFetcher pages one room's threads for a single status class.
// An empty NextCursor means the class is exhausted.
type ThreadFetcher interface {
	FetchThreads(ctx context.Context, roomID RoomID, status ThreadStatus, cursor string, limit int) (*ThreadPage, error)
}

// MessageFetcher pages older messages for a single thread.
type MessageFetcher interface {
	FetchMessages(ctx context.Context, threadID ThreadID, cursor string, limit int) (*MessagePage, error)
}

// Notifier receives the inbound-message cue. Implementations play a
// sound or raise a desktop notification; tests install nothing.
type Notifier interface {
	MessageReceived(msg *Message)
}
