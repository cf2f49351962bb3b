// internal/session/tabs_test.go
package session

import (
	"testing"

	"github.com/user/roomsync/internal/types"
)

// checkInvariant asserts that either no tab is active, or exactly one.
func checkInvariant(t *testing.T, m *Manager) {
	t.Helper()
	active := 0
	for _, tab := range m.Tabs() {
		if tab.IsActive {
			active++
		}
	}
	if active > 1 {
		t.Fatalf("invariant violated: %d active tabs", active)
	}
	if _, ok := m.ActiveThread(); ok && active != 1 {
		t.Fatalf("active pointer set but %d tabs active", active)
	}
}

func TestCreateTabActivates(t *testing.T) {
	m := NewManager(nil)
	id := m.CreateTab("t1", "Main", true)

	if id != "tab-1" {
		t.Errorf("expected tab-1, got %s", id)
	}
	thread, ok := m.ActiveThread()
	if !ok || thread != "t1" {
		t.Errorf("expected active thread t1, got %s", thread)
	}
	checkInvariant(t, m)
}

func TestCreateTabDedupsOnThread(t *testing.T) {
	m := NewManager(nil)
	first := m.CreateTab("t1", "one", false)
	m.CreateTab("t2", "two", false)
	second := m.CreateTab("t1", "a different name", false)

	if first != second {
		t.Errorf("expected dedup to reuse %s, got %s", first, second)
	}
	tabs := m.Tabs()
	if len(tabs) != 2 {
		t.Fatalf("expected 2 tabs, got %d", len(tabs))
	}
	count := 0
	for _, tab := range tabs {
		if tab.ThreadID == "t1" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one tab for t1, got %d", count)
	}
	if thread, _ := m.ActiveThread(); thread != "t1" {
		t.Errorf("dedup must switch to the existing tab, active is %s", thread)
	}
	checkInvariant(t, m)
}

func TestSwitchTab(t *testing.T) {
	var current types.ThreadID
	m := NewManager(func(id types.ThreadID) { current = id })
	a := m.CreateTab("t1", "one", false)
	m.CreateTab("t2", "two", false)

	m.SwitchTab(a)
	if thread, _ := m.ActiveThread(); thread != "t1" {
		t.Errorf("expected t1 active, got %s", thread)
	}
	if current != "t1" {
		t.Errorf("current-thread pointer not mirrored, got %s", current)
	}
	m.SwitchTab("tab-99") // unknown: no-op
	if thread, _ := m.ActiveThread(); thread != "t1" {
		t.Error("unknown switch changed the active tab")
	}
	checkInvariant(t, m)
}

func TestCloseActiveTabActivatesLastCreated(t *testing.T) {
	m := NewManager(nil)
	m.CreateTab("t1", "one", false)
	b := m.CreateTab("t2", "two", false)
	m.CreateTab("t3", "three", false)
	m.SwitchTab(b)

	m.CloseTab(b)

	// Last in creation order wins, not the previously active one.
	if thread, _ := m.ActiveThread(); thread != "t3" {
		t.Errorf("expected t3 active after close, got %s", thread)
	}
	checkInvariant(t, m)
}

func TestCloseInactiveTabKeepsActive(t *testing.T) {
	m := NewManager(nil)
	a := m.CreateTab("t1", "one", false)
	b := m.CreateTab("t2", "two", false)
	m.SwitchTab(a)

	m.CloseTab(b)

	if thread, _ := m.ActiveThread(); thread != "t1" {
		t.Errorf("closing an inactive tab moved focus to %s", thread)
	}
	checkInvariant(t, m)
}

func TestCloseLastTabClearsPointers(t *testing.T) {
	var current types.ThreadID = "sentinel"
	m := NewManager(func(id types.ThreadID) { current = id })
	a := m.CreateTab("t1", "one", false)

	m.CloseTab(a)

	if _, ok := m.ActiveThread(); ok {
		t.Error("expected no active tab")
	}
	if current != "" {
		t.Errorf("current-thread pointer not cleared, got %s", current)
	}
	checkInvariant(t, m)
}

func TestUpdateTabRename(t *testing.T) {
	m := NewManager(nil)
	id := m.CreateTab("t1", "old", false)

	name := "new"
	m.UpdateTab(id, TabPatch{Name: &name})
	m.RenameForThread("t1", "newer")

	tab, ok := m.TabForThread("t1")
	if !ok || tab.Name != "newer" {
		t.Errorf("expected rename applied, got %+v", tab)
	}
}

func TestLayoutRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewTabStore(dir)

	m := NewManager(nil)
	m.CreateTab("t1", "Main", true)
	b := m.CreateTab("t2", "side", false)
	m.SwitchTab(b)

	if err := store.Save("room1", m.Snapshot()); err != nil {
		t.Fatal(err)
	}

	layout, err := store.Load("room1")
	if err != nil {
		t.Fatal(err)
	}

	var current types.ThreadID
	restored := NewManager(func(id types.ThreadID) { current = id })
	restored.Restore(layout)

	if thread, _ := restored.ActiveThread(); thread != "t2" {
		t.Errorf("active tab not restored, got %s", thread)
	}
	if current != "t2" {
		t.Errorf("current-thread pointer not re-established, got %s", current)
	}
	if len(restored.Tabs()) != 2 {
		t.Errorf("expected 2 tabs restored, got %d", len(restored.Tabs()))
	}

	// The counter survives so new tabs never collide with restored ids.
	next := restored.CreateTab("t3", "three", false)
	if next != "tab-3" {
		t.Errorf("expected tab-3 after restore, got %s", next)
	}
	checkInvariant(t, restored)
}

func TestLoadMissingLayout(t *testing.T) {
	store := NewTabStore(t.TempDir())
	layout, err := store.Load("never-saved")
	if err != nil {
		t.Fatal(err)
	}
	if len(layout.AllIDs) != 0 || layout.NextTabID != 1 {
		t.Errorf("expected empty layout, got %+v", layout)
	}
}

func TestRestoreWithoutActiveTabClearsPointer(t *testing.T) {
	var current types.ThreadID
	m := NewManager(func(id types.ThreadID) { current = id })
	m.CreateTab("t1", "one", false)
	if current != "t1" {
		t.Fatalf("expected t1 current, got %s", current)
	}

	// A persisted layout with tabs but no active one.
	m.Restore(&Layout{
		ByID:      map[types.TabID]*types.Tab{"tab-1": {ID: "tab-1", ThreadID: "t2", Name: "two"}},
		AllIDs:    []types.TabID{"tab-1"},
		NextTabID: 2,
	})

	if _, ok := m.ActiveThread(); ok {
		t.Error("expected no active tab after restore")
	}
	if current != "" {
		t.Errorf("current-thread pointer not cleared, got %s", current)
	}
	checkInvariant(t, m)
}

func TestInvariantUnderSequences(t *testing.T) {
	m := NewManager(nil)
	threads := []types.ThreadID{"t1", "t2", "t3", "t4"}
	var ids []types.TabID
	for _, thread := range threads {
		ids = append(ids, m.CreateTab(thread, string(thread), false))
		checkInvariant(t, m)
	}
	m.SwitchTab(ids[0])
	checkInvariant(t, m)
	m.CloseTab(ids[0])
	checkInvariant(t, m)
	m.CloseTab(ids[2])
	checkInvariant(t, m)
	m.CloseTab(ids[1])
	checkInvariant(t, m)
	m.CloseTab(ids[3])
	checkInvariant(t, m)
	if len(m.Tabs()) != 0 {
		t.Errorf("expected no tabs, got %d", len(m.Tabs()))
	}
}
