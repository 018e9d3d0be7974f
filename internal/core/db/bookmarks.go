package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"time"
)

// ErrInvalidURL is returned when a bookmark URL fails validation.
var ErrInvalidURL = errors.New("invalid URL")

// ErrNotFound is returned when a bookmark does not exist locally.
var ErrNotFound = errors.New("bookmark not found")

// ValidateBookmarkURL validates that a URL is acceptable for caching.
// It requires the URL to have http or https scheme and a non-empty host.
func ValidateBookmarkURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("%w: empty URL", ErrInvalidURL)
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https, got %q", ErrInvalidURL, u.Scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	return nil
}

const bookmarkColumns = `
	id, url, title, description, tags, unread, archived, shared,
	date_added, date_modified, content, last_read_at, read_progress,
	reading_mode, is_synced, needs_read_sync
`

func scanBookmark(row interface{ Scan(...any) error }) (Bookmark, error) {
	var b Bookmark
	var tags string
	err := row.Scan(
		&b.ID, &b.URL, &b.Title, &b.Description, &tags,
		&b.Unread, &b.Archived, &b.Shared,
		&b.DateAdded, &b.DateModified, &b.Content, &b.LastReadAt,
		&b.ReadProgress, &b.ReadingMode, &b.IsSynced, &b.NeedsReadSync,
	)
	if err != nil {
		return Bookmark{}, err
	}
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &b.Tags); err != nil {
			return Bookmark{}, fmt.Errorf("failed to decode tags: %w", err)
		}
	}
	return b, nil
}

func encodeTags(tags []string) string {
	if tags == nil {
		tags = []string{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func (db *DB) GetBookmark(id int64) (Bookmark, error) {
	row := db.db.QueryRow("SELECT "+bookmarkColumns+" FROM bookmarks WHERE id = ?", id)
	b, err := scanBookmark(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Bookmark{}, fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return Bookmark{}, fmt.Errorf("failed to get bookmark: %w", err)
	}
	return b, nil
}

// InsertBookmark inserts a bookmark under its remote-assigned ID.
//
// It validates the URL before inserting and returns ErrInvalidURL if
// validation fails.
func (db *DB) InsertBookmark(b Bookmark) error {
	if err := ValidateBookmarkURL(b.URL); err != nil {
		return err
	}

	_, err := db.db.Exec(`
		INSERT INTO bookmarks (
			id, url, title, description, tags, unread, archived, shared,
			date_added, date_modified, content, last_read_at, read_progress,
			reading_mode, is_synced, needs_read_sync
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		b.ID, b.URL, b.Title, b.Description, encodeTags(b.Tags),
		b.Unread, b.Archived, b.Shared,
		b.DateAdded, b.DateModified, b.Content, b.LastReadAt,
		b.ReadProgress, b.ReadingMode, b.IsSynced, b.NeedsReadSync,
	)
	if err != nil {
		return fmt.Errorf("failed to insert bookmark: %w", err)
	}
	return nil
}

// UpdateBookmarkMetadata overwrites only the remote-owned metadata
// fields, leaving content, read state and other local-only columns
// untouched. This is the write half of reconciliation when the remote
// copy is strictly newer.
func (db *DB) UpdateBookmarkMetadata(b Bookmark) error {
	res, err := db.db.Exec(`
		UPDATE bookmarks
		SET url = ?, title = ?, description = ?, tags = ?,
			unread = ?, archived = ?, shared = ?,
			date_added = ?, date_modified = ?, is_synced = 1
		WHERE id = ?
	`,
		b.URL, b.Title, b.Description, encodeTags(b.Tags),
		b.Unread, b.Archived, b.Shared,
		b.DateAdded, b.DateModified,
		b.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update bookmark metadata: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to determine rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, b.ID)
	}
	return nil
}

// SetBookmarkContent stores fetched, sanitized article content for a
// bookmark. Content is a local-only field so this never touches the
// remote-owned columns.
func (db *DB) SetBookmarkContent(id int64, content string) error {
	res, err := db.db.Exec("UPDATE bookmarks SET content = ? WHERE id = ?", content, id)
	if err != nil {
		return fmt.Errorf("failed to set bookmark content: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to determine rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

// MarkNeedsReadSync flags local read state as not yet pushed upstream.
func (db *DB) MarkNeedsReadSync(id int64, needs bool) error {
	_, err := db.db.Exec("UPDATE bookmarks SET needs_read_sync = ? WHERE id = ?", needs, id)
	if err != nil {
		return fmt.Errorf("failed to mark read sync state: %w", err)
	}
	return nil
}

// ListBookmarks returns bookmarks ordered newest-first by date_added.
// archived selects between the unarchived and archived partitions.
func (db *DB) ListBookmarks(archived bool, limit int) ([]Bookmark, error) {
	query := "SELECT " + bookmarkColumns + `
		FROM bookmarks
		WHERE archived = ?
		ORDER BY date_added DESC
	`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = db.db.Query(query+" LIMIT ?", archived, limit)
	} else {
		rows, err = db.db.Query(query, archived)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list bookmarks: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}()

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

// ListBookmarksNeedingReadSync returns bookmarks whose local read state
// has not yet been pushed to the remote service.
func (db *DB) ListBookmarksNeedingReadSync() ([]Bookmark, error) {
	rows, err := db.db.Query("SELECT " + bookmarkColumns + " FROM bookmarks WHERE needs_read_sync = 1 ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list bookmarks needing read sync: %w", err)
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

// CountBookmarks returns the number of cached bookmarks.
func (db *DB) CountBookmarks() (int, error) {
	var n int
	if err := db.db.QueryRow("SELECT COUNT(*) FROM bookmarks").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count bookmarks: %w", err)
	}
	return n, nil
}

// DeleteBookmark removes a bookmark and its cached assets and read
// progress. This is the explicit local purge path; sync never deletes.
func (db *DB) DeleteBookmark(id int64) error {
	res, err := db.db.Exec("DELETE FROM bookmarks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete bookmark: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to determine rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	if _, err := db.db.Exec("DELETE FROM assets WHERE bookmark_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete bookmark assets: %w", err)
	}
	if _, err := db.db.Exec("DELETE FROM read_progress WHERE bookmark_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete read progress: %w", err)
	}
	return nil
}

// TouchLastRead records that a bookmark was opened for reading.
func (db *DB) TouchLastRead(id int64) error {
	now := time.Now().Format(time.RFC3339)
	_, err := db.db.Exec("UPDATE bookmarks SET last_read_at = ? WHERE id = ?", now, id)
	if err != nil {
		return fmt.Errorf("failed to touch last read: %w", err)
	}
	return nil
}
