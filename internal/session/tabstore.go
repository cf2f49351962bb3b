// internal/session/tabstore.go
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/roomsync/internal/types"
)

// TabStore is a JSON-file-backed layout store, one file per room at
// tabs/<roomID>.json under the data directory.
type TabStore struct {
	root string
	mu   sync.RWMutex
}

// NewTabStore creates a file-backed TabStore rooted at the given
// directory.
func NewTabStore(root string) *TabStore {
	return &TabStore{root: root}
}

func (s *TabStore) tabsDir() string {
	return filepath.Join(s.root, "tabs")
}

func (s *TabStore) layoutPath(roomID types.RoomID) string {
	return filepath.Join(s.tabsDir(), string(roomID)+".json")
}

// Load reads the persisted layout for a room. A missing file yields an
// empty layout, not an error.
func (s *TabStore) Load(roomID types.RoomID) (*Layout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.layoutPath(roomID))
	if err != nil {
		if os.IsNotExist(err) {
			return &Layout{ByID: make(map[types.TabID]*types.Tab), NextTabID: 1}, nil
		}
		return nil, fmt.Errorf("read tab layout: %w", err)
	}

	var layout Layout
	if err := json.Unmarshal(data, &layout); err != nil {
		return nil, fmt.Errorf("unmarshal tab layout: %w", err)
	}
	if layout.ByID == nil {
		layout.ByID = make(map[types.TabID]*types.Tab)
	}
	return &layout, nil
}

// Save marshals the layout with indentation and writes atomically.
func (s *TabStore) Save(roomID types.RoomID, layout *Layout) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(layout, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tab layout: %w", err)
	}

	if err := os.MkdirAll(s.tabsDir(), 0o755); err != nil {
		return fmt.Errorf("create tabs dir: %w", err)
	}

	// Atomic write: write to temp file then rename
	path := s.layoutPath(roomID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp layout: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp layout: %w", err)
	}
	return nil
}
