// internal/types/models.go
package types

import (
	"encoding/json"
	"time"
)

// ThreadStatus is the lifecycle class of a thread. History fetches walk
// the classes in declaration order.
type ThreadStatus string

const (
	ThreadRunning  ThreadStatus = "running"
	ThreadBlocked  ThreadStatus = "blocked"
	ThreadDead     ThreadStatus = "dead"
	ThreadArchived ThreadStatus = "archived"
)

// AllThreadStatuses is the fixed order in which history is paged.
var AllThreadStatuses = []ThreadStatus{ThreadRunning, ThreadBlocked, ThreadDead, ThreadArchived}

// PartType discriminates message part content.
type PartType string

const (
	PartText     PartType = "text"
	PartThinking PartType = "thinking"
	PartTool     PartType = "tool"
	PartMedia    PartType = "media"
)

// MemberKind discriminates the identity behind a room member.
type MemberKind string

const (
	MemberUser  MemberKind = "user"
	MemberAgent MemberKind = "agent"
	MemberGuest MemberKind = "guest"
)

// PageInfo carries cursor pagination metadata for a message collection.
type PageInfo struct {
	HasNextPage     bool   `json:"has_next_page"`
	HasPreviousPage bool   `json:"has_previous_page"`
	StartCursor     string `json:"start_cursor,omitempty"`
	EndCursor       string `json:"end_cursor,omitempty"`
	Total           int    `json:"total,omitempty"`
}

// MessageRefs is a thread's owned message collection: ids only, the
// messages themselves live in the message table.
type MessageRefs struct {
	AllIDs []MessageID `json:"all_ids"`
	Page   *PageInfo   `json:"page_info,omitempty"`
}

// ThreadParent points at the message a side thread branched from and the
// thread that message belongs to.
type ThreadParent struct {
	MessageID MessageID `json:"id"`
	ThreadID  ThreadID  `json:"thread_id"`
}

type Room struct {
	ID           RoomID   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	MaxMembers   int      `json:"max_members,omitempty"`
	Private      bool     `json:"private"`
	MainThreadID ThreadID `json:"main_thread_id,omitempty"`
}

type Thread struct {
	ID               ThreadID            `json:"id"`
	RoomID           RoomID              `json:"room_id"`
	Name             string              `json:"name,omitempty"`
	Status           ThreadStatus        `json:"status"`
	IsMain           bool                `json:"is_main"`
	Parent           *ThreadParent       `json:"parent,omitempty"`
	StarterMessageID MessageID           `json:"starter_message_id,omitempty"`
	CreatedAt        time.Time           `json:"date_creation"`
	ReadState        map[MemberID]string `json:"read_state,omitempty"`
	Messages         MessageRefs         `json:"messages"`
	Events           []ThreadEvent       `json:"events,omitempty"`
	Media            []MediaItem         `json:"media,omitempty"`
}

// ThreadEvent is a non-message occurrence shown inline in a thread
// (member joined, thread renamed, ...).
type ThreadEvent struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type MediaItem struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Kind string `json:"kind,omitempty"`
	Name string `json:"name,omitempty"`
}

type Attachment struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

type Reaction struct {
	ID       string   `json:"id"`
	Emoji    string   `json:"emoji"`
	MemberID MemberID `json:"member_id"`
}

type Message struct {
	ID          MessageID       `json:"id"`
	ThreadID    ThreadID        `json:"thread_id"`
	MemberID    MemberID        `json:"member_id"`
	CreatedAt   time.Time       `json:"date_creation"`
	Text        string          `json:"text,omitempty"`
	Attachments []Attachment    `json:"attachments,omitempty"`
	Reactions   []Reaction      `json:"reactions,omitempty"`
	ExecutionID string          `json:"execution_id,omitempty"`
	Error       json.RawMessage `json:"error,omitempty"`
}

// MessagePart is an ordered, independently streamable fragment of a
// message's content. The pending/flush fields are the reassembly state
// described in the stream package; they are never serialized to the wire.
type MessagePart struct {
	ID        PartID    `json:"id"`
	MessageID MessageID `json:"message_id"`
	Type      PartType  `json:"part_type"`
	Order     int       `json:"order"`
	Text      string    `json:"text,omitempty"`
	IsDone    bool      `json:"is_done"`
	CreatedAt time.Time `json:"date_creation"`

	Pending     map[int]string `json:"-"`
	LastFlushed int            `json:"-"`

	// Tool parts accumulate a JSON arguments string with its own
	// independent buffering, plus display fields extracted from it.
	Arguments       string         `json:"arguments,omitempty"`
	ArgsPending     map[int]string `json:"-"`
	ArgsLastFlushed int            `json:"-"`
	ActNow          string         `json:"act_now,omitempty"`
	ActDone         string         `json:"act_done,omitempty"`
	Intent          string         `json:"intent,omitempty"`
	UseIntent       bool           `json:"use_intent,omitempty"`
}

// MemberIdentity is the discriminated identity behind a member record.
type MemberIdentity struct {
	Kind      MemberKind `json:"kind"`
	ID        string     `json:"id,omitempty"`
	Name      string     `json:"name,omitempty"`
	AvatarURL string     `json:"avatar_url,omitempty"`
}

type Member struct {
	ID           MemberID       `json:"id"`
	RoomID       RoomID         `json:"room_id"`
	Role         string         `json:"role,omitempty"`
	Kicked       bool           `json:"kicked"`
	Silenced     bool           `json:"silenced"`
	VideoBlocked bool           `json:"video_blocked"`
	Identity     MemberIdentity `json:"identity"`
}

type Tab struct {
	ID           TabID    `json:"id"`
	ThreadID     ThreadID `json:"thread_id"`
	Name         string   `json:"name"`
	IsMainThread bool     `json:"is_main_thread"`
	IsActive     bool     `json:"is_active"`
}

type AuthorizationRequest struct {
	ID          RequestID       `json:"id"`
	IsCompleted bool            `json:"is_completed"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// ResponseLifecycle tracks one agent response from start to terminal
// state so stale entries can be swept.
type ResponseLifecycle struct {
	ID        ResponseID `json:"response_id"`
	ThreadID  ThreadID   `json:"thread_id"`
	Status    string     `json:"status"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   time.Time  `json:"ended_at,omitzero"`
}

const (
	LifecycleRunning   = "running"
	LifecycleCompleted = "completed"
	LifecycleFailed    = "failed"
)
