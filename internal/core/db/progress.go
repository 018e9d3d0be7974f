package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertReadProgress stores the reading position for a bookmark as a
// whole-row write, so concurrent readers never observe a half-updated
// record. LastReadAt is stamped here if the caller left it empty.
func (db *DB) UpsertReadProgress(p ReadProgress) error {
	if p.Progress < 0 {
		p.Progress = 0
	}
	if p.Progress > 100 {
		p.Progress = 100
	}
	if p.LastReadAt == "" {
		p.LastReadAt = time.Now().Format(time.RFC3339)
	}

	_, err := db.db.Exec(`
		INSERT INTO read_progress (bookmark_id, progress, scroll_position, reading_mode, dark_mode_override, last_read_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(bookmark_id) DO UPDATE SET
			progress = excluded.progress,
			scroll_position = excluded.scroll_position,
			reading_mode = excluded.reading_mode,
			dark_mode_override = excluded.dark_mode_override,
			last_read_at = excluded.last_read_at
	`, p.BookmarkID, p.Progress, p.ScrollPosition, p.ReadingMode, p.DarkModeOverride, p.LastReadAt)
	if err != nil {
		return fmt.Errorf("failed to upsert read progress: %w", err)
	}

	// Mirror the summary fields onto the bookmark row for listings.
	_, err = db.db.Exec(`
		UPDATE bookmarks
		SET read_progress = ?, reading_mode = ?, last_read_at = ?, needs_read_sync = 1
		WHERE id = ?
	`, p.Progress, p.ReadingMode, p.LastReadAt, p.BookmarkID)
	if err != nil {
		return fmt.Errorf("failed to mirror read progress: %w", err)
	}
	return nil
}

// GetReadProgress returns the stored reading position for a bookmark.
// A bookmark that was never read yields a zero-value record.
func (db *DB) GetReadProgress(bookmarkID int64) (ReadProgress, error) {
	var p ReadProgress
	err := db.db.QueryRow(`
		SELECT bookmark_id, progress, scroll_position, reading_mode, dark_mode_override, last_read_at
		FROM read_progress
		WHERE bookmark_id = ?
	`, bookmarkID).Scan(&p.BookmarkID, &p.Progress, &p.ScrollPosition, &p.ReadingMode, &p.DarkModeOverride, &p.LastReadAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ReadProgress{BookmarkID: bookmarkID}, nil
		}
		return ReadProgress{}, fmt.Errorf("failed to get read progress: %w", err)
	}
	return p, nil
}
