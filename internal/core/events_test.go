package core

import (
	"errors"
	"testing"
)

// TestEventKindString tests the event kind labels.
func TestEventKindString(t *testing.T) {
	tests := []struct {
		kind EventKind
		want string
	}{
		{OnSyncInitiated, "sync_initiated"},
		{OnSyncStarted, "sync_started"},
		{OnSyncProgress, "sync_progress"},
		{OnBookmarkSynced, "bookmark_synced"},
		{OnSyncCompleted, "sync_completed"},
		{OnSyncError, "sync_error"},
		{OnFaviconLoaded, "favicon_loaded"},
		{EventKind(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("EventKind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

// TestBusSubscribe tests listener registration and dispatch.
func TestBusSubscribe(t *testing.T) {
	t.Run("dispatches in subscription order", func(t *testing.T) {
		bus := NewBus()
		var order []int
		bus.Subscribe(OnSyncStarted, func(e Event) error {
			order = append(order, 1)
			return nil
		})
		bus.Subscribe(OnSyncStarted, func(e Event) error {
			order = append(order, 2)
			return nil
		})

		bus.emit(SyncStartedEvent{Total: 5})

		if len(order) != 2 || order[0] != 1 || order[1] != 2 {
			t.Errorf("expected listeners called in order, got %v", order)
		}
	})

	t.Run("only matching kind is dispatched", func(t *testing.T) {
		bus := NewBus()
		called := false
		bus.Subscribe(OnSyncError, func(e Event) error {
			called = true
			return nil
		})

		bus.emit(SyncCompletedEvent{Processed: 3})

		if called {
			t.Error("expected listener for other kind not to fire")
		}
	})

	t.Run("listener receives typed payload", func(t *testing.T) {
		bus := NewBus()
		var got SyncProgressEvent
		bus.Subscribe(OnSyncProgress, func(e Event) error {
			got = e.(SyncProgressEvent)
			return nil
		})

		bus.emit(SyncProgressEvent{Current: 2, Total: 10})

		if got.Current != 2 || got.Total != 10 {
			t.Errorf("expected payload {2 10}, got %+v", got)
		}
	})
}

// TestBusUnsubscribe tests listener removal.
func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	count := 0
	unsub := bus.Subscribe(OnSyncCompleted, func(e Event) error {
		count++
		return nil
	})

	bus.emit(SyncCompletedEvent{})
	unsub()
	bus.emit(SyncCompletedEvent{})

	if count != 1 {
		t.Errorf("expected one call before unsubscribe, got %d", count)
	}

	// Unsubscribing twice is harmless.
	unsub()
}

// TestBusListenerError tests that a failing listener does not stop
// dispatch to the others.
func TestBusListenerError(t *testing.T) {
	bus := NewBus()
	secondCalled := false
	bus.Subscribe(OnSyncError, func(e Event) error {
		return errors.New("listener failed")
	})
	bus.Subscribe(OnSyncError, func(e Event) error {
		secondCalled = true
		return nil
	})

	bus.emit(SyncErrorEvent{Err: errors.New("boom")})

	if !secondCalled {
		t.Error("expected later listeners to run after a listener error")
	}
}
