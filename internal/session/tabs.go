// internal/session/tabs.go

// Package session maps viewport slots ("tabs") 1:1 to threads. At most
// one tab is active at a time and no two tabs reference the same
// thread; both invariants are enforced here, not by callers.
package session

import (
	"log/slog"
	"sync"

	"github.com/user/roomsync/internal/types"
)

// Layout is the persisted shape of a room's tab bar.
type Layout struct {
	ByID        map[types.TabID]*types.Tab `json:"by_id"`
	AllIDs      []types.TabID              `json:"all_ids"`
	ActiveTabID types.TabID                `json:"active_tab_id,omitempty"`
	NextTabID   int                        `json:"next_tab_id"`
}

// TabPatch is a partial tab update; nil fields are left alone.
type TabPatch struct {
	ThreadID     *types.ThreadID
	Name         *string
	IsMainThread *bool
}

// Manager holds one room's tab state. The onCurrent callback mirrors
// the active tab's thread into the navigation resolver's current-thread
// pointer.
type Manager struct {
	mu        sync.Mutex
	tabs      map[types.TabID]*types.Tab
	order     []types.TabID
	active    types.TabID
	next      int
	onCurrent func(types.ThreadID)
}

// NewManager creates an empty tab manager. onCurrent may be nil; it is
// called with the new current thread on every activation change, and
// with "" when the last tab closes.
func NewManager(onCurrent func(types.ThreadID)) *Manager {
	return &Manager{
		tabs:      make(map[types.TabID]*types.Tab),
		next:      1,
		onCurrent: onCurrent,
	}
}

// CreateTab opens a tab for the thread and activates it. If a tab
// already targets the thread, that tab is activated instead; dedup is
// keyed on thread id, never on name.
func (m *Manager) CreateTab(threadID types.ThreadID, name string, isMain bool) types.TabID {
	m.mu.Lock()
	for _, id := range m.order {
		if m.tabs[id].ThreadID == threadID {
			m.activateLocked(id)
			m.mu.Unlock()
			m.notifyCurrent(threadID)
			return id
		}
	}

	id := types.NewTabID(m.next)
	m.next++
	m.tabs[id] = &types.Tab{
		ID:           id,
		ThreadID:     threadID,
		Name:         name,
		IsMainThread: isMain,
	}
	m.order = append(m.order, id)
	m.activateLocked(id)
	m.mu.Unlock()
	m.notifyCurrent(threadID)
	return id
}

// SwitchTab deactivates the previously active tab and activates the
// target. Unknown ids are a logged no-op.
func (m *Manager) SwitchTab(id types.TabID) {
	m.mu.Lock()
	tab, ok := m.tabs[id]
	if !ok {
		m.mu.Unlock()
		slog.Warn("switch to unknown tab", "tab_id", string(id))
		return
	}
	m.activateLocked(id)
	threadID := tab.ThreadID
	m.mu.Unlock()
	m.notifyCurrent(threadID)
}

// CloseTab removes a tab. Closing the active tab activates the most
// recently created remaining tab; closing the last tab clears both the
// active pointer and the current-thread pointer.
func (m *Manager) CloseTab(id types.TabID) {
	m.mu.Lock()
	if _, ok := m.tabs[id]; !ok {
		m.mu.Unlock()
		slog.Warn("close of unknown tab", "tab_id", string(id))
		return
	}
	wasActive := m.active == id
	delete(m.tabs, id)
	for i, x := range m.order {
		if x == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}

	if !wasActive {
		m.mu.Unlock()
		return
	}
	if len(m.order) == 0 {
		m.active = ""
		m.mu.Unlock()
		m.notifyCurrent("")
		return
	}
	last := m.order[len(m.order)-1]
	m.activateLocked(last)
	threadID := m.tabs[last].ThreadID
	m.mu.Unlock()
	m.notifyCurrent(threadID)
}

// UpdateTab applies a partial change to one tab.
func (m *Manager) UpdateTab(id types.TabID, patch TabPatch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tab, ok := m.tabs[id]
	if !ok {
		slog.Warn("update of unknown tab", "tab_id", string(id))
		return
	}
	if patch.ThreadID != nil {
		tab.ThreadID = *patch.ThreadID
	}
	if patch.Name != nil {
		tab.Name = *patch.Name
	}
	if patch.IsMainThread != nil {
		tab.IsMainThread = *patch.IsMainThread
	}
}

// RenameForThread renames whichever tab is bound to the thread. Threads
// without a tab are ignored.
func (m *Manager) RenameForThread(threadID types.ThreadID, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		if m.tabs[id].ThreadID == threadID {
			m.tabs[id].Name = name
			return
		}
	}
}

// ActiveThread returns the active tab's thread, if any tab is active.
func (m *Manager) ActiveThread() (types.ThreadID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == "" {
		return "", false
	}
	return m.tabs[m.active].ThreadID, true
}

// Tabs returns copies of all tabs in creation order.
func (m *Manager) Tabs() []types.Tab {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Tab, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.tabs[id])
	}
	return out
}

// TabForThread returns the tab bound to the thread, if one exists.
func (m *Manager) TabForThread(threadID types.ThreadID) (types.Tab, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		if m.tabs[id].ThreadID == threadID {
			return *m.tabs[id], true
		}
	}
	return types.Tab{}, false
}

// Snapshot returns the layout for persistence.
func (m *Manager) Snapshot() *Layout {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := make(map[types.TabID]*types.Tab, len(m.tabs))
	for id, tab := range m.tabs {
		copied := *tab
		byID[id] = &copied
	}
	return &Layout{
		ByID:        byID,
		AllIDs:      append([]types.TabID(nil), m.order...),
		ActiveTabID: m.active,
		NextTabID:   m.next,
	}
}

// Restore replaces the manager's state with a persisted layout and
// re-establishes the current-thread pointer from the active tab. A
// layout without an active tab clears the pointer, like Clear.
func (m *Manager) Restore(layout *Layout) {
	m.mu.Lock()
	m.tabs = make(map[types.TabID]*types.Tab, len(layout.ByID))
	m.order = nil
	m.active = ""
	for _, id := range layout.AllIDs {
		tab, ok := layout.ByID[id]
		if !ok {
			slog.Warn("layout id without tab record", "tab_id", string(id))
			continue
		}
		copied := *tab
		copied.IsActive = false
		m.tabs[id] = &copied
		m.order = append(m.order, id)
	}
	m.next = max(layout.NextTabID, 1)

	var current types.ThreadID
	if tab, ok := m.tabs[layout.ActiveTabID]; ok {
		m.activateLocked(layout.ActiveTabID)
		current = tab.ThreadID
	}
	m.mu.Unlock()
	m.notifyCurrent(current)
}

// Clear drops all tabs, used when leaving a room.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.tabs = make(map[types.TabID]*types.Tab)
	m.order = nil
	m.active = ""
	m.next = 1
	m.mu.Unlock()
	m.notifyCurrent("")
}

func (m *Manager) activateLocked(id types.TabID) {
	if m.active != "" {
		if prev, ok := m.tabs[m.active]; ok {
			prev.IsActive = false
		}
	}
	m.tabs[id].IsActive = true
	m.active = id
}

func (m *Manager) notifyCurrent(threadID types.ThreadID) {
	if m.onCurrent != nil {
		m.onCurrent(threadID)
	}
}
