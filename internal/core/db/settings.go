package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// Well-known settings keys.
const (
	SettingSyncCursor = "sync_cursor"
	SettingAutoSync   = "auto_sync"
)

// GetSetting returns the value stored under key, or "" if unset.
func (db *DB) GetSetting(key string) (string, error) {
	var value string
	err := db.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get setting %q: %w", key, err)
	}
	return value, nil
}

// SetSetting stores value under key, replacing any previous value.
func (db *DB) SetSetting(key, value string) error {
	_, err := db.db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting %q: %w", key, err)
	}
	return nil
}

// GetSyncCursor returns the persisted sync watermark. An empty cursor
// means the next sync is a full sync.
func (db *DB) GetSyncCursor() (string, error) {
	return db.GetSetting(SettingSyncCursor)
}

// SetSyncCursor persists the sync watermark. Pass "" to force a full
// sync on the next cycle.
func (db *DB) SetSyncCursor(cursor string) error {
	return db.SetSetting(SettingSyncCursor, cursor)
}

// AutoSyncEnabled reports whether background-triggered syncs should
// run. Defaults to true when the setting has never been written.
func (db *DB) AutoSyncEnabled() (bool, error) {
	v, err := db.GetSetting(SettingAutoSync)
	if err != nil {
		return false, err
	}
	if v == "" {
		return true, nil
	}
	enabled, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("failed to parse auto_sync setting %q: %w", v, err)
	}
	return enabled, nil
}

// GetIntSetting reads an integer setting, returning 0 when unset. Sync
// phases persist their resume offsets through this.
func (db *DB) GetIntSetting(key string) (int, error) {
	v, err := db.GetSetting(key)
	if err != nil {
		return 0, err
	}
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("failed to parse setting %q: %w", key, err)
	}
	return n, nil
}

// SetIntSetting stores an integer setting.
func (db *DB) SetIntSetting(key string, n int) error {
	return db.SetSetting(key, strconv.Itoa(n))
}
