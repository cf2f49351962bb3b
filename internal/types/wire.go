// internal/types/wire.go
package types

import (
	"encoding/json"
	"time"
)

// Patch types carry field-level changes decoded from the wire. A nil
// pointer means the field was absent from the payload and must not
// overwrite the stored value; a non-nil pointer always wins, even when
// it points at a zero value.

type RoomPatch struct {
	ID           RoomID    `json:"id"`
	Name         *string   `json:"name,omitempty"`
	Description  *string   `json:"description,omitempty"`
	MaxMembers   *int      `json:"max_members,omitempty"`
	Private      *bool     `json:"private,omitempty"`
	MainThreadID *ThreadID `json:"main_thread_id,omitempty"`
}

type ThreadPatch struct {
	ID               ThreadID            `json:"id"`
	RoomID           *RoomID             `json:"room_id,omitempty"`
	Name             *string             `json:"name,omitempty"`
	Status           *ThreadStatus       `json:"status,omitempty"`
	IsMain           *bool               `json:"is_main,omitempty"`
	Parent           *ThreadParent       `json:"parent,omitempty"`
	StarterMessageID *MessageID          `json:"starter_message_id,omitempty"`
	CreatedAt        *time.Time          `json:"date_creation,omitempty"`
	ReadState        map[MemberID]string `json:"read_state,omitempty"`
	Messages         *MessageRefs        `json:"-"`
	Events           []ThreadEvent       `json:"events,omitempty"`
	Media            []MediaItem         `json:"media,omitempty"`
}

type MessagePatch struct {
	ID          MessageID       `json:"id"`
	ThreadID    *ThreadID       `json:"thread_id,omitempty"`
	MemberID    *MemberID       `json:"member_id,omitempty"`
	CreatedAt   *time.Time      `json:"date_creation,omitempty"`
	Text        *string         `json:"text,omitempty"`
	Attachments []Attachment    `json:"-"`
	Reactions   []Reaction      `json:"-"`
	ExecutionID *string         `json:"execution_id,omitempty"`
	Error       json.RawMessage `json:"error,omitempty"`
}

type PartPatch struct {
	ID        PartID     `json:"id"`
	MessageID *MessageID `json:"message_id,omitempty"`
	Type      *PartType  `json:"part_type,omitempty"`
	Order     *int       `json:"order,omitempty"`
	Text      *string    `json:"text,omitempty"`
	IsDone    *bool      `json:"is_done,omitempty"`
	CreatedAt *time.Time `json:"date_creation,omitempty"`
	Arguments *string    `json:"arguments,omitempty"`
}

type MemberPatch struct {
	ID           MemberID        `json:"id"`
	RoomID       *RoomID         `json:"room_id,omitempty"`
	Role         *string         `json:"role,omitempty"`
	Kicked       *bool           `json:"kicked,omitempty"`
	Silenced     *bool           `json:"silenced,omitempty"`
	VideoBlocked *bool           `json:"video_blocked,omitempty"`
	Identity     *MemberIdentity `json:"identity,omitempty"`
}

type AuthorizationRequestPatch struct {
	ID          RequestID       `json:"id"`
	IsCompleted *bool           `json:"is_completed,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// ThreadSnapshot is one thread as returned by a history fetch: the
// thread's own fields plus the embedded message page, which the pager
// extracts into the message table before merging the thread itself.
// Page is nil when the payload carried no pagination block, so a bare
// creation event can never clobber pagination loaded earlier.
type ThreadSnapshot struct {
	Thread   ThreadPatch
	Messages []*MessagePatch
	Page     *PageInfo
}

// ThreadPage is one page of a status-class walk.
type ThreadPage struct {
	Threads    []*ThreadSnapshot
	NextCursor string
}

// MessagePage is one page of older messages for a single thread.
type MessagePage struct {
	Messages []*MessagePatch
	Page     PageInfo
}
