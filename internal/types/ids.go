// internal/types/ids.go
package types

import (
	"fmt"

	"github.com/google/uuid"
)

type RoomID string
type ThreadID string
type MessageID string
type PartID string
type MemberID string
type TabID string
type RequestID string
type ResponseID string

func NewThreadID() ThreadID {
	return ThreadID(uuid.New().String())
}

func NewMessageID() MessageID {
	return MessageID(uuid.New().String())
}

func NewPartID() PartID {
	return PartID(uuid.New().String())
}

func NewRequestID() RequestID {
	return RequestID(uuid.New().String())
}

func NewResponseID() ResponseID {
	return ResponseID(uuid.New().String())
}

// NewTabID derives a tab id from the session-local monotonic counter.
// Tab ids are intentionally not UUIDs: they are persisted per room and
// must stay stable and human-readable across reloads.
func NewTabID(n int) TabID {
	return TabID(fmt.Sprintf("tab-%d", n))
}
