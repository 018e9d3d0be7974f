package db

import "testing"

// TestReadProgress tests storing and retrieving reading positions.
func TestReadProgress(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	if err := db.InsertBookmark(testBookmark(1)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	t.Run("unread bookmark yields zero record", func(t *testing.T) {
		p, err := db.GetReadProgress(1)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if p.BookmarkID != 1 || p.Progress != 0 {
			t.Errorf("expected zero-value record, got %+v", p)
		}
	})

	t.Run("upsert and retrieve", func(t *testing.T) {
		err := db.UpsertReadProgress(ReadProgress{
			BookmarkID:     1,
			Progress:       55,
			ScrollPosition: 1200,
			ReadingMode:    "reader",
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		p, _ := db.GetReadProgress(1)
		if p.Progress != 55 {
			t.Errorf("expected progress 55, got %d", p.Progress)
		}
		if p.ScrollPosition != 1200 {
			t.Errorf("expected scroll position 1200, got %d", p.ScrollPosition)
		}
		if p.LastReadAt == "" {
			t.Error("expected last_read_at to be stamped")
		}
	})

	t.Run("progress is clamped to 0-100", func(t *testing.T) {
		if err := db.UpsertReadProgress(ReadProgress{BookmarkID: 1, Progress: 150}); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		p, _ := db.GetReadProgress(1)
		if p.Progress != 100 {
			t.Errorf("expected progress clamped to 100, got %d", p.Progress)
		}

		if err := db.UpsertReadProgress(ReadProgress{BookmarkID: 1, Progress: -5}); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		p, _ = db.GetReadProgress(1)
		if p.Progress != 0 {
			t.Errorf("expected progress clamped to 0, got %d", p.Progress)
		}
	})

	t.Run("mirrors summary onto bookmark row", func(t *testing.T) {
		if err := db.UpsertReadProgress(ReadProgress{BookmarkID: 1, Progress: 80, ReadingMode: "original"}); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		b, err := db.GetBookmark(1)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if b.ReadProgress != 80 {
			t.Errorf("expected mirrored progress 80, got %d", b.ReadProgress)
		}
		if b.ReadingMode != "original" {
			t.Errorf("expected mirrored reading mode, got %q", b.ReadingMode)
		}
		if !b.NeedsReadSync {
			t.Error("expected needs_read_sync flag set")
		}
	})
}
