package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrAssetNotFound is returned when no matching cached asset exists.
var ErrAssetNotFound = errors.New("asset not found")

// SaveFavicon records the favicon fetch outcome for a bookmark. One
// favicon row per bookmark; re-caching is last-write-wins. A failure
// outcome is persisted too so repeated failures do not retry on every
// listing render.
func (db *DB) SaveFavicon(bookmarkID int64, contentType string, status string, content []byte) error {
	_, err := db.db.Exec(`
		INSERT INTO assets (bookmark_id, asset_type, content_type, status, content, cached_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(bookmark_id) WHERE asset_type = 'favicon' DO UPDATE SET
			content_type = excluded.content_type,
			status = excluded.status,
			content = excluded.content,
			cached_at = excluded.cached_at
	`,
		bookmarkID, AssetTypeFavicon, contentType, status, content,
		time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save favicon: %w", err)
	}
	return nil
}

// SaveSnapshot stores a complete HTML snapshot asset for a bookmark.
// Unlike favicons a bookmark may accumulate several snapshots; each is
// a separately selectable content source, newest first.
func (db *DB) SaveSnapshot(bookmarkID int64, contentType string, content []byte) (int64, error) {
	res, err := db.db.Exec(`
		INSERT INTO assets (bookmark_id, asset_type, content_type, status, content, cached_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		bookmarkID, AssetTypeSnapshot, contentType, AssetStatusComplete, content,
		time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return id, nil
}

// GetAsset fetches a single asset by its surrogate ID.
func (db *DB) GetAsset(id int64) (Asset, error) {
	var a Asset
	err := db.db.QueryRow(`
		SELECT id, bookmark_id, asset_type, content_type, status, content, cached_at
		FROM assets
		WHERE id = ?
	`, id).Scan(&a.ID, &a.BookmarkID, &a.AssetType, &a.ContentType, &a.Status, &a.Content, &a.CachedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Asset{}, fmt.Errorf("%w: %d", ErrAssetNotFound, id)
		}
		return Asset{}, fmt.Errorf("failed to get asset: %w", err)
	}
	return a, nil
}

// GetFavicon returns the favicon asset for a bookmark regardless of
// status, so callers can distinguish "never tried" from "tried and
// failed".
func (db *DB) GetFavicon(bookmarkID int64) (Asset, error) {
	var a Asset
	err := db.db.QueryRow(`
		SELECT id, bookmark_id, asset_type, content_type, status, content, cached_at
		FROM assets
		WHERE bookmark_id = ? AND asset_type = ?
	`, bookmarkID, AssetTypeFavicon).
		Scan(&a.ID, &a.BookmarkID, &a.AssetType, &a.ContentType, &a.Status, &a.Content, &a.CachedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Asset{}, fmt.Errorf("%w: favicon for bookmark %d", ErrAssetNotFound, bookmarkID)
		}
		return Asset{}, fmt.Errorf("failed to get favicon: %w", err)
	}
	return a, nil
}

// ListSnapshots returns the complete snapshot assets for a bookmark,
// newest first. Content columns are included since snapshots are read
// whole when rendered.
func (db *DB) ListSnapshots(bookmarkID int64) ([]Asset, error) {
	rows, err := db.db.Query(`
		SELECT id, bookmark_id, asset_type, content_type, status, content, cached_at
		FROM assets
		WHERE bookmark_id = ? AND asset_type = ? AND status = ?
		ORDER BY cached_at DESC, id DESC
	`, bookmarkID, AssetTypeSnapshot, AssetStatusComplete)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []Asset
	for rows.Next() {
		var a Asset
		if err := rows.Scan(&a.ID, &a.BookmarkID, &a.AssetType, &a.ContentType, &a.Status, &a.Content, &a.CachedAt); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListBookmarksWithoutSnapshot returns synced bookmarks that have no
// complete snapshot asset cached, ordered by id. The asset sync phase
// walks this list with a persisted offset.
func (db *DB) ListBookmarksWithoutSnapshot() ([]Bookmark, error) {
	rows, err := db.db.Query("SELECT "+bookmarkColumns+`
		FROM bookmarks
		WHERE is_synced = 1 AND id NOT IN (
			SELECT bookmark_id FROM assets WHERE asset_type = ? AND status = ?
		)
		ORDER BY id
	`, AssetTypeSnapshot, AssetStatusComplete)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookmarks without snapshots: %w", err)
	}
	defer rows.Close()

	var out []Bookmark
	for rows.Next() {
		b, err := scanBookmark(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bookmark: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// HasSnapshot reports whether a bookmark has at least one complete
// snapshot asset cached.
func (db *DB) HasSnapshot(bookmarkID int64) (bool, error) {
	var exists bool
	err := db.db.QueryRow(`
		SELECT EXISTS (
			SELECT 1 FROM assets
			WHERE bookmark_id = ? AND asset_type = ? AND status = ?
		)
	`, bookmarkID, AssetTypeSnapshot, AssetStatusComplete).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check snapshots: %w", err)
	}
	return exists, nil
}
