package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/seckatie/stashd/internal/core/api"
	"github.com/seckatie/stashd/internal/core/db"
)

// Settings keys for per-phase resume offsets. A crash mid-phase resumes
// from the stored offset instead of restarting completed phases.
const (
	settingOffsetUnarchived = "sync_offset_unarchived"
	settingOffsetArchived   = "sync_offset_archived"
	settingOffsetAssets     = "sync_offset_assets"
	settingOffsetReadPush   = "sync_offset_readpush"
)

// Engine orchestrates the full reconciliation cycle against the remote
// bookmark service: incremental or full bookmark sync, asset and
// favicon caching, and the read-status push. Exactly one cycle runs at
// a time; concurrent triggers collapse into the running one.
type Engine struct {
	db       *db.DB
	client   *api.Client
	bus      *Bus
	content  *ContentFetcher
	favicons *FaviconCache
	pageSize int

	mu sync.Mutex // held for the duration of a sync cycle
}

// EngineConfig holds tunables for the sync engine.
type EngineConfig struct {
	// PageSize is the remote listing page size. Zero means the API
	// client default.
	PageSize int
}

func NewEngine(database *db.DB, client *api.Client, bus *Bus, content *ContentFetcher, favicons *FaviconCache, cfg EngineConfig) *Engine {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = api.DefaultPageSize
	}
	return &Engine{
		db:       database,
		client:   client,
		bus:      bus,
		content:  content,
		favicons: favicons,
		pageSize: pageSize,
	}
}

// Bus exposes the engine's event bus so callers can subscribe to sync
// lifecycle events.
func (e *Engine) Bus() *Bus { return e.bus }

// Sync runs a user-triggered sync cycle. Fatal errors (network/API
// failures) propagate so the UI can offer a retry; a cycle already in
// flight makes this a no-op that returns nil without touching the
// network.
func (e *Engine) Sync(ctx context.Context) error {
	return e.run(ctx)
}

// FullSync clears the cursor and runs a full cycle.
func (e *Engine) FullSync(ctx context.Context) error {
	if err := e.db.SetSyncCursor(""); err != nil {
		return err
	}
	return e.run(ctx)
}

// BackgroundSync runs a timer- or startup-triggered cycle. It is a
// no-op when auto sync is disabled, and it never propagates errors:
// failures are swallowed and logged.
func (e *Engine) BackgroundSync(ctx context.Context) {
	enabled, err := e.db.AutoSyncEnabled()
	if err != nil {
		log.Printf("Background sync skipped: %v", err)
		return
	}
	if !enabled {
		return
	}
	if err := e.run(ctx); err != nil {
		log.Printf("Background sync failed: %v", err)
	}
}

// ErrNoRemote is returned when a sync is requested without a remote
// service configured.
var ErrNoRemote = errors.New("no remote bookmark service configured")

func (e *Engine) run(ctx context.Context) error {
	if e.client == nil {
		return ErrNoRemote
	}
	if !e.mu.TryLock() {
		// A cycle is in flight; the second trigger is satisfied by it.
		return nil
	}
	defer e.mu.Unlock()

	e.bus.emit(SyncInitiatedEvent{})

	// The new cursor is the wall clock at sync start, so records
	// modified during the cycle are re-examined next time.
	start := time.Now().UTC()

	cursor, err := e.db.GetSyncCursor()
	if err != nil {
		e.bus.emit(SyncErrorEvent{Err: err})
		return err
	}
	if cursor == "" {
		// Full sync: clear the stored cursor before fetching, so a
		// failure mid-cycle leaves it empty and forces a full retry.
		if err := e.db.SetSyncCursor(""); err != nil {
			e.bus.emit(SyncErrorEvent{Err: err})
			return err
		}
	}

	processed, err := e.syncBookmarks(ctx, cursor)
	if err != nil {
		e.bus.emit(SyncErrorEvent{Err: err})
		return err
	}

	if err := e.syncAssets(ctx); err != nil {
		e.bus.emit(SyncErrorEvent{Err: err})
		return err
	}

	if err := e.pushReadStatus(ctx); err != nil {
		e.bus.emit(SyncErrorEvent{Err: err})
		return err
	}

	// All phases done: reset resume offsets and commit the cursor.
	for _, key := range []string{settingOffsetUnarchived, settingOffsetArchived, settingOffsetAssets, settingOffsetReadPush} {
		if err := e.db.SetIntSetting(key, 0); err != nil {
			e.bus.emit(SyncErrorEvent{Err: err})
			return err
		}
	}
	if err := e.db.SetSyncCursor(start.Format(time.RFC3339)); err != nil {
		e.bus.emit(SyncErrorEvent{Err: err})
		return err
	}

	e.bus.emit(SyncCompletedEvent{Processed: processed})
	return nil
}

// syncBookmarks runs the unarchived and archived reconciliation phases
// and returns how many records were examined.
func (e *Engine) syncBookmarks(ctx context.Context, cursor string) (int, error) {
	uOffset, err := e.db.GetIntSetting(settingOffsetUnarchived)
	if err != nil {
		return 0, err
	}
	aOffset, err := e.db.GetIntSetting(settingOffsetArchived)
	if err != nil {
		return 0, err
	}

	// Probe both partitions so sync-started can report the full total.
	firstUnarchived, err := e.client.ListBookmarks(ctx, api.ListOptions{
		ModifiedSince: cursor, Archived: false, Offset: uOffset, Limit: e.pageSize,
	})
	if err != nil {
		return 0, err
	}
	archivedProbe, err := e.client.ListBookmarks(ctx, api.ListOptions{
		ModifiedSince: cursor, Archived: true, Offset: aOffset, Limit: 1,
	})
	if err != nil {
		return 0, err
	}

	total := firstUnarchived.Count + archivedProbe.Count
	e.bus.emit(SyncStartedEvent{Total: total})

	current := uOffset + aOffset
	processed := 0

	current, n, err := e.reconcilePartition(ctx, cursor, false, uOffset, settingOffsetUnarchived, &firstUnarchived, current, total)
	processed += n
	if err != nil {
		return processed, err
	}

	_, n, err = e.reconcilePartition(ctx, cursor, true, aOffset, settingOffsetArchived, nil, current, total)
	processed += n
	if err != nil {
		return processed, err
	}

	return processed, nil
}

// reconcilePartition pages through one partition (unarchived or
// archived) from the stored offset, reconciling each record in the
// order the service returns them. firstPage, when non-nil, is an
// already-fetched page for the starting offset.
func (e *Engine) reconcilePartition(ctx context.Context, cursor string, archived bool, offset int, offsetKey string, firstPage *api.Page, current, total int) (int, int, error) {
	processed := 0
	page := firstPage

	for {
		if page == nil {
			p, err := e.client.ListBookmarks(ctx, api.ListOptions{
				ModifiedSince: cursor, Archived: archived, Offset: offset, Limit: e.pageSize,
			})
			if err != nil {
				return current, processed, err
			}
			page = &p
		}

		if len(page.Results) == 0 {
			return current, processed, nil
		}

		for _, remote := range page.Results {
			if err := ctx.Err(); err != nil {
				return current, processed, err
			}

			e.reconcile(ctx, remote, current+1, total)

			offset++
			current++
			processed++
			if err := e.db.SetIntSetting(offsetKey, offset); err != nil {
				log.Printf("Warning: failed to persist sync offset: %v", err)
			}
			e.bus.emit(SyncProgressEvent{Current: current, Total: total})
		}

		if offset >= page.Count {
			return current, processed, nil
		}
		page = nil
	}
}

// reconcile applies the per-record rule: insert when unknown locally,
// overwrite metadata when the remote copy is strictly newer, otherwise
// skip without writing. Storage and content-fetch failures are local:
// they are logged and never abort the cycle.
func (e *Engine) reconcile(ctx context.Context, remote api.Bookmark, current, total int) {
	local, err := e.db.GetBookmark(remote.ID)
	switch {
	case errors.Is(err, db.ErrNotFound):
		b := remoteToLocal(remote)
		b.IsSynced = true
		if err := e.db.InsertBookmark(b); err != nil {
			log.Printf("Warning: failed to insert bookmark %d: %v", remote.ID, err)
			return
		}

		// New record with no cached content: attempt a content fetch.
		// Failure leaves the bookmark saved with empty content.
		if b.Content == "" {
			res := e.content.FetchContent(ctx, b, ContentSource{Kind: SourceLive, Label: "Live page"}, false)
			if res.Err == nil {
				if err := e.db.SetBookmarkContent(b.ID, res.HTML); err != nil {
					log.Printf("Warning: failed to store content for %d: %v", b.ID, err)
				}
			} else {
				log.Printf("Content fetch failed for new bookmark %d: %v", b.ID, res.Err)
			}
		}

		stored, err := e.db.GetBookmark(b.ID)
		if err != nil {
			stored = b
		}
		e.bus.emit(BookmarkSyncedEvent{Bookmark: stored, Current: current, Total: total})

	case err != nil:
		log.Printf("Warning: failed to read bookmark %d: %v", remote.ID, err)

	case remoteNewer(remote.DateModified, local.DateModified):
		b := remoteToLocal(remote)
		if err := e.db.UpdateBookmarkMetadata(b); err != nil {
			log.Printf("Warning: failed to update bookmark %d: %v", remote.ID, err)
			return
		}
		stored, err := e.db.GetBookmark(remote.ID)
		if err != nil {
			stored = b
		}
		e.bus.emit(BookmarkSyncedEvent{Bookmark: stored, Current: current, Total: total})

	default:
		// Remote is not newer: no write, no event.
	}
}

// syncAssets downloads remote article snapshots for bookmarks that have
// none cached, then preloads missing favicons. Per-bookmark download
// failures are recovered; listing failures abort the cycle.
func (e *Engine) syncAssets(ctx context.Context) error {
	offset, err := e.db.GetIntSetting(settingOffsetAssets)
	if err != nil {
		return err
	}

	bookmarks, err := e.db.ListBookmarksWithoutSnapshot()
	if err != nil {
		return err
	}

	for i := offset; i < len(bookmarks); i++ {
		b := bookmarks[i]
		if err := ctx.Err(); err != nil {
			return err
		}

		infos, err := e.client.ListAssets(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("failed to list remote assets for %d: %w", b.ID, err)
		}

		for _, info := range infos {
			if info.AssetType != db.AssetTypeSnapshot {
				continue
			}
			data, contentType, err := e.client.DownloadAsset(ctx, b.ID, info.ID)
			if err != nil {
				log.Printf("Snapshot download failed for bookmark %d asset %d: %v", b.ID, info.ID, err)
				continue
			}
			if _, err := e.db.SaveSnapshot(b.ID, contentType, data); err != nil {
				log.Printf("Warning: failed to store snapshot for %d: %v", b.ID, err)
			}
			break
		}

		if err := e.db.SetIntSetting(settingOffsetAssets, i+1); err != nil {
			log.Printf("Warning: failed to persist asset offset: %v", err)
		}
	}

	// Favicons are fully deduplicated, so the whole cache is offered.
	all, err := e.db.ListBookmarks(false, 0)
	if err != nil {
		return err
	}
	archivedList, err := e.db.ListBookmarks(true, 0)
	if err != nil {
		return err
	}
	e.favicons.Preload(ctx, append(all, archivedList...))
	return nil
}

// pushReadStatus uploads local read state flagged needs_read_sync and
// clears the flag per record once the remote accepts it.
func (e *Engine) pushReadStatus(ctx context.Context) error {
	offset, err := e.db.GetIntSetting(settingOffsetReadPush)
	if err != nil {
		return err
	}

	pending, err := e.db.ListBookmarksNeedingReadSync()
	if err != nil {
		return err
	}

	for i := offset; i < len(pending); i++ {
		b := pending[i]
		if err := ctx.Err(); err != nil {
			return err
		}

		progress, err := e.db.GetReadProgress(b.ID)
		if err != nil {
			log.Printf("Warning: failed to read progress for %d: %v", b.ID, err)
			continue
		}

		unread := b.Unread
		if progress.Progress >= 100 {
			unread = false
		}
		update := api.ReadStatusUpdate{
			Unread:       &unread,
			ReadProgress: &progress.Progress,
			LastReadAt:   progress.LastReadAt,
		}
		if err := e.client.UpdateReadStatus(ctx, b.ID, update); err != nil {
			return fmt.Errorf("failed to push read status for %d: %w", b.ID, err)
		}

		if err := e.db.MarkNeedsReadSync(b.ID, false); err != nil {
			log.Printf("Warning: failed to clear read sync flag for %d: %v", b.ID, err)
		}
		if err := e.db.SetIntSetting(settingOffsetReadPush, i+1); err != nil {
			log.Printf("Warning: failed to persist read push offset: %v", err)
		}
	}
	return nil
}

// remoteNewer reports whether the remote modification time is strictly
// newer than the local one. Unparseable timestamps are treated as
// newer, which keeps the local copy from silently falling behind.
func remoteNewer(remote, local string) bool {
	rt, err := time.Parse(time.RFC3339, remote)
	if err != nil {
		return true
	}
	lt, err := time.Parse(time.RFC3339, local)
	if err != nil {
		return true
	}
	return rt.After(lt)
}

func remoteToLocal(r api.Bookmark) db.Bookmark {
	return db.Bookmark{
		ID:           r.ID,
		URL:          r.URL,
		Title:        r.Title,
		Description:  r.Description,
		Tags:         r.Tags,
		Unread:       r.Unread,
		Archived:     r.Archived,
		Shared:       r.Shared,
		DateAdded:    r.DateAdded,
		DateModified: r.DateModified,
	}
}
