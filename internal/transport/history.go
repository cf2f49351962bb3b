// internal/transport/history.go
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/user/roomsync/internal/ingest"
	"github.com/user/roomsync/internal/types"
)

// threadFields is the field selection for thread history fetches. The
// server only serializes what is asked for, so embedded relations must
// be named explicitly.
var threadFields = []string{
	"id", "room_id", "name", "status", "is_main", "parent",
	"starter_message_id", "date_creation", "read_status",
	"messages", "events", "media",
}

var messageFields = []string{
	"id", "thread_id", "member_id", "date_creation", "text",
	"attachments", "reactions", "execution_id", "error",
}

// HistoryClient fetches room history over HTTP. It implements
// types.ThreadFetcher and types.MessageFetcher for the pager.
type HistoryClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHistoryClient creates a history client for the given API base URL.
func NewHistoryClient(baseURL, token string) *HistoryClient {
	return &HistoryClient{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// query is the server's list-endpoint request body: a field selection,
// page controls, and a predicate tree under "@filter".
type query struct {
	Fields  []string       `json:"fields"`
	Limit   int            `json:"limit"`
	Cursor  string         `json:"cursor,omitempty"`
	OrderBy string         `json:"order_by"`
	Desc    bool           `json:"desc"`
	Filter  map[string]any `json:"@filter,omitempty"`
}

// andFilter builds the conjunction predicate the list endpoints expect.
func andFilter(preds ...map[string]any) map[string]any {
	return map[string]any{"@and": preds}
}

// listResponse is the common shape of list endpoints: raw items plus an
// optional continuation cursor or pagination block.
type listResponse struct {
	Items      []json.RawMessage `json:"items"`
	Cursor     string            `json:"cursor,omitempty"`
	Pagination *struct {
		StartCursor string `json:"cursor"`
		HasNextPage bool   `json:"has_next_page"`
	} `json:"pagination_info,omitempty"`
}

// FetchThreads returns one page of the room's threads in the given
// status class, newest first, each with its embedded first message page.
func (c *HistoryClient) FetchThreads(ctx context.Context, roomID types.RoomID, status types.ThreadStatus, cursor string, limit int) (*types.ThreadPage, error) {
	q := query{
		Fields:  threadFields,
		Limit:   limit,
		Cursor:  cursor,
		OrderBy: "date_creation",
		Desc:    true,
		Filter: andFilter(
			map[string]any{"room_id": roomID},
			map[string]any{"status": status},
		),
	}

	var resp listResponse
	if err := c.post(ctx, "/threads.list", q, &resp); err != nil {
		return nil, fmt.Errorf("fetch threads: %w", err)
	}

	page := &types.ThreadPage{NextCursor: resp.Cursor}
	for _, item := range resp.Items {
		snap, err := ingest.DecodeThreadSnapshot(item)
		if err != nil {
			return nil, fmt.Errorf("decode thread: %w", err)
		}
		page.Threads = append(page.Threads, snap)
	}
	return page, nil
}

// FetchMessages returns one page of a thread's messages older than the
// cursor.
func (c *HistoryClient) FetchMessages(ctx context.Context, threadID types.ThreadID, cursor string, limit int) (*types.MessagePage, error) {
	q := query{
		Fields:  messageFields,
		Limit:   limit,
		Cursor:  cursor,
		OrderBy: "date_creation",
		Desc:    true,
		Filter:  andFilter(map[string]any{"thread_id": threadID}),
	}

	var resp listResponse
	if err := c.post(ctx, "/messages.list", q, &resp); err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	page := &types.MessagePage{}
	if resp.Pagination != nil {
		page.Page = types.PageInfo{
			StartCursor: resp.Pagination.StartCursor,
			HasNextPage: resp.Pagination.HasNextPage,
		}
	}
	for _, item := range resp.Items {
		patch, err := ingest.DecodeMessagePatch(item)
		if err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		page.Messages = append(page.Messages, patch)
	}
	return page, nil
}

func (c *HistoryClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}
