// internal/nav/resolver.go

// Package nav derives view state from the entity store and the tab
// manager: the thread currently shown, the ancestor chain up to the
// room's main thread, and drawer visibility. Nothing here mutates
// entity content.
package nav

import (
	"log/slog"
	"regexp"
	"sync"

	"github.com/user/roomsync/internal/store"
	"github.com/user/roomsync/internal/types"
)

// maxChainDepth caps ancestor walks so a corrupt parent cycle cannot
// spin forever.
const maxChainDepth = 64

// mentionRe matches inline member mentions like [@Ada](/member/<uuid>),
// optionally bold-wrapped, which display names reduce to @Ada.
var mentionRe = regexp.MustCompile(`\**\[@([\w\s]+)\]\(/member/[a-f0-9\-]+\)\**`)

// TabSource is the slice of the tab manager the resolver reads.
type TabSource interface {
	ActiveThread() (types.ThreadID, bool)
}

// DrawerMode says what the thread drawer is showing.
type DrawerMode int

const (
	DrawerClosed DrawerMode = iota
	DrawerCreation
	DrawerViewing
)

// DrawerState is the overlay's full view state. MessageID is the
// message a new thread would branch from in creation mode; Minimized
// toggles the compact presentation without closing the drawer.
type DrawerState struct {
	Mode      DrawerMode
	ThreadID  types.ThreadID
	MessageID types.MessageID
	Minimized bool
}

// Resolver computes current-thread, history and drawer state.
type Resolver struct {
	store *store.Store
	tabs  TabSource

	mu      sync.Mutex
	current types.ThreadID
	drawer  DrawerState
}

// New creates a resolver over the given store. tabs may be nil for
// sessions that never open tabs.
func New(s *store.Store, tabs TabSource) *Resolver {
	return &Resolver{store: s, tabs: tabs}
}

// SetCurrent records the fallback current-thread pointer. The tab
// manager calls this through its activation callback.
func (r *Resolver) SetCurrent(id types.ThreadID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = id
}

// CurrentThread resolves the thread currently shown: the active tab's
// thread when tabs exist, then the explicit pointer, then the room's
// main thread.
func (r *Resolver) CurrentThread() (types.Thread, bool) {
	if r.tabs != nil {
		if id, ok := r.tabs.ActiveThread(); ok {
			if t, ok := r.store.Thread(id); ok {
				return t, true
			}
		}
	}
	r.mu.Lock()
	current := r.current
	r.mu.Unlock()
	if current != "" {
		if t, ok := r.store.Thread(current); ok {
			return t, true
		}
	}
	if main := r.store.MainThread(); main != "" {
		return r.store.Thread(main)
	}
	return types.Thread{}, false
}

// History returns the ancestor chain of the given thread, root first.
// Each step follows parent.thread_id; a thread without a parent chains
// to whichever thread is the main one. The walk stops at is_main.
func (r *Resolver) History(threadID types.ThreadID) []types.ThreadID {
	var chain []types.ThreadID
	id := threadID
	for depth := 0; depth < maxChainDepth; depth++ {
		t, ok := r.store.Thread(id)
		if !ok {
			slog.Warn("history chain hit unknown thread", "thread_id", string(id))
			break
		}
		chain = append(chain, id)
		if t.IsMain {
			break
		}
		if t.Parent != nil && t.Parent.ThreadID != "" {
			id = t.Parent.ThreadID
			continue
		}
		main := r.store.MainThread()
		if main == "" || main == id {
			break
		}
		id = main
	}

	// Collected current-to-root; the caller wants root-to-current.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// DisplayName resolves a thread's human name: "Main" for the main
// thread, the thread name with mention annotations reduced, or
// "Thread" when nothing better exists.
func (r *Resolver) DisplayName(threadID types.ThreadID) string {
	t, ok := r.store.Thread(threadID)
	if !ok || t.IsMain {
		return "Main"
	}
	if name := mentionRe.ReplaceAllString(t.Name, "@$1"); name != "" {
		return name
	}
	return "Thread"
}

// DeleteTarget returns the thread navigation should land on before the
// given thread is removed: its parent, or the main thread.
func (r *Resolver) DeleteTarget(threadID types.ThreadID) types.ThreadID {
	if t, ok := r.store.Thread(threadID); ok && t.Parent != nil && t.Parent.ThreadID != "" {
		return t.Parent.ThreadID
	}
	return r.store.MainThread()
}

// --- drawer ---

// OpenCreation opens the drawer in thread-creation mode, branching from
// the given message (which may be empty for a root-level thread).
func (r *Resolver) OpenCreation(messageID types.MessageID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drawer = DrawerState{Mode: DrawerCreation, MessageID: messageID}
}

// OpenThread opens the drawer on an existing thread.
func (r *Resolver) OpenThread(threadID types.ThreadID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drawer = DrawerState{Mode: DrawerViewing, ThreadID: threadID}
}

// SetMinimized toggles the drawer's compact display without closing it.
func (r *Resolver) SetMinimized(min bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.drawer.Mode != DrawerClosed {
		r.drawer.Minimized = min
	}
}

// CloseDrawer closes the drawer entirely.
func (r *Resolver) CloseDrawer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drawer = DrawerState{}
}

// Drawer returns the drawer's current view state.
func (r *Resolver) Drawer() DrawerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drawer
}

// DrawerVisible reports whether the overlay should render at all: it
// needs a mode and, in viewing mode, a thread to show.
func (r *Resolver) DrawerVisible() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.drawer.Mode {
	case DrawerCreation:
		return true
	case DrawerViewing:
		return r.drawer.ThreadID != ""
	default:
		return false
	}
}
