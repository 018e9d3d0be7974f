package core

import (
	"log"
	"sync"

	"github.com/seckatie/stashd/internal/core/db"
)

// ------------------------------
// Event System
// ------------------------------
//
// The sync engine and the favicon cache emit typed events as work
// progresses: sync lifecycle, per-bookmark reconciliation, favicon
// completion. Subscribers (the web layer, the CLI progress bar) react
// to these without polling the store.
//
// Example usage:
//
//	unsub := bus.Subscribe(core.OnBookmarkSynced, func(event core.Event) error {
//	    ev := event.(core.BookmarkSyncedEvent)
//	    log.Printf("Synced %d/%d: %s", ev.Current, ev.Total, ev.Bookmark.URL)
//	    return nil
//	})
//	defer unsub()
//
// Event is the common interface for all engine events.
type Event interface {
	Kind() EventKind
}

// EventKind represents all the kinds of events the engine can emit.
type EventKind int

const (
	// OnSyncInitiated is emitted as soon as a sync is accepted, before
	// any network call, so the UI can react instantly.
	OnSyncInitiated EventKind = iota
	// OnSyncStarted is emitted once the total record count is known.
	OnSyncStarted
	// OnSyncProgress is emitted per reconciled record.
	OnSyncProgress
	// OnBookmarkSynced is emitted for every record that was inserted or
	// updated, before the overall cycle completes.
	OnBookmarkSynced
	// OnSyncCompleted is emitted after the cursor has been committed.
	OnSyncCompleted
	// OnSyncError is emitted when a cycle aborts on a fatal error.
	OnSyncError
	// OnFaviconLoaded is emitted when a favicon fetch completes and is
	// cached.
	OnFaviconLoaded
)

func (k EventKind) String() string {
	switch k {
	case OnSyncInitiated:
		return "sync_initiated"
	case OnSyncStarted:
		return "sync_started"
	case OnSyncProgress:
		return "sync_progress"
	case OnBookmarkSynced:
		return "bookmark_synced"
	case OnSyncCompleted:
		return "sync_completed"
	case OnSyncError:
		return "sync_error"
	case OnFaviconLoaded:
		return "favicon_loaded"
	default:
		return "unknown"
	}
}

// SyncInitiatedEvent is emitted immediately when a sync is accepted.
type SyncInitiatedEvent struct{}

func (e SyncInitiatedEvent) Kind() EventKind { return OnSyncInitiated }

// SyncStartedEvent reports the total number of records this cycle will
// reconcile.
type SyncStartedEvent struct {
	Total int
}

func (e SyncStartedEvent) Kind() EventKind { return OnSyncStarted }

// SyncProgressEvent is emitted after each record is reconciled.
type SyncProgressEvent struct {
	Current int
	Total   int
}

func (e SyncProgressEvent) Kind() EventKind { return OnSyncProgress }

// BookmarkSyncedEvent is emitted when a record was inserted or its
// metadata overwritten. Skipped records emit no event.
type BookmarkSyncedEvent struct {
	Bookmark db.Bookmark
	Current  int
	Total    int
}

func (e BookmarkSyncedEvent) Kind() EventKind { return OnBookmarkSynced }

// SyncCompletedEvent is emitted after a cycle finishes and the cursor
// is committed.
type SyncCompletedEvent struct {
	Processed int
}

func (e SyncCompletedEvent) Kind() EventKind { return OnSyncCompleted }

// SyncErrorEvent is emitted when a cycle aborts before the cursor
// commit.
type SyncErrorEvent struct {
	Err error
}

func (e SyncErrorEvent) Kind() EventKind { return OnSyncError }

// FaviconLoadedEvent is emitted after a favicon is fetched and cached.
type FaviconLoadedEvent struct {
	BookmarkID int64
	FaviconURL string
}

func (e FaviconLoadedEvent) Kind() EventKind { return OnFaviconLoaded }

// Listener is a callback that handles events of a specific kind.
type Listener func(event Event) error

type subscription struct {
	id int
	fn Listener
}

// Bus is a typed publish/subscribe channel. Dispatch is synchronous in
// subscription order; favicon loads emit from their own goroutines, so
// the bus is safe for concurrent use.
type Bus struct {
	mu        sync.Mutex
	nextID    int
	listeners map[EventKind][]subscription
}

func NewBus() *Bus {
	return &Bus{listeners: make(map[EventKind][]subscription)}
}

// Subscribe adds a listener for a specific event kind and returns a
// handle that removes it again.
func (b *Bus) Subscribe(kind EventKind, fn Listener) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.listeners[kind] = append(b.listeners[kind], subscription{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.listeners[kind]
		for i, s := range subs {
			if s.id == id {
				b.listeners[kind] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// emit dispatches an event to all listeners for its kind. Listener
// errors are logged, never propagated.
func (b *Bus) emit(event Event) {
	b.mu.Lock()
	subs := make([]subscription, len(b.listeners[event.Kind()]))
	copy(subs, b.listeners[event.Kind()])
	b.mu.Unlock()

	for _, s := range subs {
		if err := s.fn(event); err != nil {
			log.Printf("Event listener error for %s: %v", event.Kind(), err)
		}
	}
}
