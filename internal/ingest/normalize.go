// internal/ingest/normalize.go
package ingest

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/roomsync/internal/types"
)

// The wire is not uniform: update verbs deliver either an explicit
// {ids, changes} pair or a flat changed-entity object; list-valued
// relations arrive either bare or wrapped in {items}; legacy message
// bodies may be HTML. Everything is normalized here, before any handler
// touches the store.

// Update is the normalized form every update verb reduces to.
type Update struct {
	IDs     []string
	Changes json.RawMessage
}

type wireUpdate struct {
	IDs     json.RawMessage `json:"ids"`
	Changes json.RawMessage `json:"changes"`
	ID      string          `json:"id"`
}

// NormalizeUpdate reduces an update payload to {ids, changes}. Payloads
// where ids cannot be resolved or changes is not an object are rejected.
func NormalizeUpdate(data json.RawMessage) (*Update, error) {
	var w wireUpdate
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode update payload: %w", err)
	}

	if len(w.Changes) > 0 {
		ids, err := decodeIDs(w.IDs)
		if err != nil || len(ids) == 0 {
			return nil, fmt.Errorf("update payload without resolvable ids")
		}
		if !isJSONObject(w.Changes) {
			return nil, fmt.Errorf("update changes must be an object")
		}
		return &Update{IDs: ids, Changes: w.Changes}, nil
	}

	// Flat form: the whole payload is the change set, keyed by its id.
	if w.ID == "" {
		return nil, fmt.Errorf("update payload without resolvable ids")
	}
	return &Update{IDs: []string{w.ID}, Changes: data}, nil
}

func decodeIDs(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("missing ids")
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many, nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil && one != "" {
		return []string{one}, nil
	}
	return nil, fmt.Errorf("ids must be a string or an array of strings")
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return strings.HasPrefix(trimmed, "{")
}

// ReadStateUpdate is one member's read watermark on a thread.
type ReadStateUpdate struct {
	ThreadID  types.ThreadID
	MemberID  types.MemberID
	Timestamp string
}

type readStateWire struct {
	IDs     []string `json:"ids"`
	Changes *struct {
		Timestamp string `json:"timestamp"`
	} `json:"changes"`
	Attributes *struct {
		ThreadID  types.ThreadID `json:"thread_id"`
		MemberID  types.MemberID `json:"member_id"`
		Timestamp string         `json:"timestamp"`
	} `json:"attributes"`
}

// ParseReadStateUpdate accepts both wire shapes: a composite
// "<threadID>_<memberID>" id with a timestamp change, or an attributes
// object carrying all three fields.
func ParseReadStateUpdate(data json.RawMessage) (*ReadStateUpdate, error) {
	var w readStateWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode read state payload: %w", err)
	}

	if len(w.IDs) > 0 {
		parts := strings.SplitN(w.IDs[0], "_", 2)
		if len(parts) != 2 || w.Changes == nil || w.Changes.Timestamp == "" {
			return nil, fmt.Errorf("unresolvable read state update")
		}
		return &ReadStateUpdate{
			ThreadID:  types.ThreadID(parts[0]),
			MemberID:  types.MemberID(parts[1]),
			Timestamp: w.Changes.Timestamp,
		}, nil
	}
	if w.Attributes != nil && w.Attributes.ThreadID != "" && w.Attributes.MemberID != "" && w.Attributes.Timestamp != "" {
		return &ReadStateUpdate{
			ThreadID:  w.Attributes.ThreadID,
			MemberID:  w.Attributes.MemberID,
			Timestamp: w.Attributes.Timestamp,
		}, nil
	}
	return nil, fmt.Errorf("unresolvable read state update")
}

// wrapped decodes a relation delivered either bare ([...]) or wrapped
// ({"items": [...]}).
func wrapped[T any](raw json.RawMessage) ([]T, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var w struct {
		Items []T `json:"items"`
	}
	if err := json.Unmarshal(raw, &w); err == nil && isJSONObject(raw) {
		return w.Items, nil
	}
	var bare []T
	if err := json.Unmarshal(raw, &bare); err != nil {
		return nil, fmt.Errorf("decode list relation: %w", err)
	}
	return bare, nil
}

type messageWire struct {
	types.MessagePatch
	Attachments json.RawMessage `json:"attachments"`
	Reactions   json.RawMessage `json:"reactions"`
	Media       json.RawMessage `json:"media"`
}

var htmlBodyRe = regexp.MustCompile(`(?s)^\s*<[a-zA-Z!/][^>]*>`)

// DecodeMessagePatch normalizes one wire message: list relations are
// unwrapped and a legacy HTML body is converted to markdown so the
// store only ever holds markdown text.
func DecodeMessagePatch(data json.RawMessage) (*types.MessagePatch, error) {
	return decodeMessage(data, true)
}

func decodeMessage(data json.RawMessage, requireID bool) (*types.MessagePatch, error) {
	var w messageWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode message payload: %w", err)
	}
	if requireID && w.ID == "" {
		return nil, fmt.Errorf("message payload without id")
	}

	patch := w.MessagePatch
	var err error
	if patch.Attachments, err = wrapped[types.Attachment](w.Attachments); err != nil {
		return nil, err
	}
	if patch.Reactions, err = wrapped[types.Reaction](w.Reactions); err != nil {
		return nil, err
	}

	if patch.Text != nil && htmlBodyRe.MatchString(*patch.Text) {
		md, err := htmltomarkdown.ConvertString(*patch.Text)
		if err != nil {
			return nil, fmt.Errorf("convert html body: %w", err)
		}
		md = strings.TrimSpace(md)
		patch.Text = &md
	}
	return &patch, nil
}

type threadWire struct {
	types.ThreadPatch
	Messages   json.RawMessage `json:"messages"`
	ReadStatus json.RawMessage `json:"read_status"`
	MediaRaw   json.RawMessage `json:"media"`
	EventsRaw  json.RawMessage `json:"events"`
}

type readStatusItem struct {
	MemberID  types.MemberID `json:"member_id"`
	Timestamp string         `json:"timestamp"`
}

type pageInfoWire struct {
	HasNextPage     bool   `json:"has_next_page"`
	HasPreviousPage bool   `json:"has_previous_page"`
	Cursor          string `json:"cursor"`
	StartCursor     string `json:"start_cursor"`
	EndCursor       string `json:"end_cursor"`
	Total           int    `json:"total"`
}

func (w pageInfoWire) normalize() types.PageInfo {
	info := types.PageInfo{
		HasNextPage:     w.HasNextPage,
		HasPreviousPage: w.HasPreviousPage,
		StartCursor:     w.StartCursor,
		EndCursor:       w.EndCursor,
		Total:           w.Total,
	}
	// Some endpoints still name the start cursor "cursor".
	if info.StartCursor == "" {
		info.StartCursor = w.Cursor
	}
	return info
}

type messageCollectionWire struct {
	Items         []json.RawMessage `json:"items"`
	PageInfo      *pageInfoWire     `json:"pagination_info"`
	PageInfoCamel *pageInfoWire     `json:"paginationInfo"`
}

// DecodeThreadSnapshot normalizes one wire thread into a snapshot: the
// thread's scalar fields, its read state as a member map, and the
// embedded message collection pulled out for separate storage.
func DecodeThreadSnapshot(data json.RawMessage) (*types.ThreadSnapshot, error) {
	return decodeThread(data, true)
}

func decodeThread(data json.RawMessage, requireID bool) (*types.ThreadSnapshot, error) {
	var w threadWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode thread payload: %w", err)
	}
	if requireID && w.ID == "" {
		return nil, fmt.Errorf("thread payload without id")
	}

	snap := &types.ThreadSnapshot{Thread: w.ThreadPatch}

	if len(w.ReadStatus) > 0 && snap.Thread.ReadState == nil {
		items, err := wrapped[readStatusItem](w.ReadStatus)
		if err != nil {
			return nil, err
		}
		rs := make(map[types.MemberID]string, len(items))
		for _, item := range items {
			rs[item.MemberID] = item.Timestamp
		}
		snap.Thread.ReadState = rs
	}

	if media, err := wrapped[types.MediaItem](w.MediaRaw); err == nil {
		snap.Thread.Media = media
	}
	if events, err := wrapped[types.ThreadEvent](w.EventsRaw); err == nil {
		snap.Thread.Events = events
	}

	if len(w.Messages) > 0 {
		var coll messageCollectionWire
		if err := json.Unmarshal(w.Messages, &coll); err != nil {
			return nil, fmt.Errorf("decode thread messages: %w", err)
		}
		for _, raw := range coll.Items {
			msg, err := DecodeMessagePatch(raw)
			if err != nil {
				return nil, err
			}
			snap.Messages = append(snap.Messages, msg)
		}
		if coll.PageInfo != nil {
			info := coll.PageInfo.normalize()
			snap.Page = &info
		} else if coll.PageInfoCamel != nil {
			info := coll.PageInfoCamel.normalize()
			snap.Page = &info
		}
	}
	return snap, nil
}

type memberJoinWire struct {
	types.MemberPatch
	UserID    string `json:"user_id"`
	AgentID   string `json:"agent_id"`
	GuestName string `json:"guest_name"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

// DecodeMemberPatch expands the flat member-join payload into the
// nested identity shape the store expects. Payloads that already carry
// an identity object pass through unchanged.
func DecodeMemberPatch(data json.RawMessage) (*types.MemberPatch, error) {
	return decodeMember(data, true)
}

func decodeMember(data json.RawMessage, requireID bool) (*types.MemberPatch, error) {
	var w memberJoinWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode member payload: %w", err)
	}
	if requireID && w.ID == "" {
		return nil, fmt.Errorf("member payload without id")
	}

	patch := w.MemberPatch
	if patch.Identity == nil {
		identity := types.MemberIdentity{Name: w.Name, AvatarURL: w.AvatarURL}
		switch {
		case w.AgentID != "":
			identity.Kind = types.MemberAgent
			identity.ID = w.AgentID
		case w.UserID != "":
			identity.Kind = types.MemberUser
			identity.ID = w.UserID
		default:
			identity.Kind = types.MemberGuest
			identity.Name = firstNonEmpty(w.GuestName, w.Name)
		}
		patch.Identity = &identity
	}
	return &patch, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
