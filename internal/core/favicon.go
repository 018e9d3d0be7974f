package core

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/seckatie/stashd/internal/core/db"
)

// maxFaviconSize bounds a single favicon download.
const maxFaviconSize = 256 * 1024

// defaultFaviconSVG is served when no favicon could be cached.
const defaultFaviconSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="16" height="16">` +
	`<rect width="16" height="16" rx="3" fill="#90a4ae"/>` +
	`<text x="8" y="12" text-anchor="middle" font-family="sans-serif" font-size="10" fill="#fff">&#9733;</text></svg>`

// DefaultFaviconDataURL is the generated fallback icon.
var DefaultFaviconDataURL = "data:image/svg+xml;base64," +
	base64.StdEncoding.EncodeToString([]byte(defaultFaviconSVG))

// FaviconCache is the deduplicated, persisted favicon loader. A
// per-bookmark in-flight marker guarantees the underlying fetch runs
// exactly once even under concurrent callers; outcomes (success and
// failure alike) persist as assets so repeated failures do not turn
// into retry storms.
type FaviconCache struct {
	db     *db.DB
	bus    *Bus
	client *http.Client

	mu       sync.Mutex
	inflight map[int64]chan struct{}
}

func NewFaviconCache(database *db.DB, bus *Bus) *FaviconCache {
	return &FaviconCache{
		db:  database,
		bus: bus,
		client: &http.Client{
			Timeout: DefaultFetchTimeout,
		},
		inflight: make(map[int64]chan struct{}),
	}
}

// LoadFavicon ensures a favicon asset exists for the bookmark. A second
// caller while a load is in flight blocks until the first load settles
// and shares its cached result. If a terminal-status asset already
// exists, no network fetch occurs.
func (c *FaviconCache) LoadFavicon(ctx context.Context, bookmarkID int64, pageURL string) error {
	c.mu.Lock()
	if done, ok := c.inflight[bookmarkID]; ok {
		c.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	done := make(chan struct{})
	c.inflight[bookmarkID] = done
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inflight, bookmarkID)
		c.mu.Unlock()
		close(done)
	}()

	// Cache-first: a prior outcome, successful or failed, means no
	// refetch.
	if a, err := c.db.GetFavicon(bookmarkID); err == nil {
		if a.Status == db.AssetStatusComplete || a.Status == db.AssetStatusFailure {
			return nil
		}
	}

	iconURL, err := faviconURL(pageURL)
	if err != nil {
		if saveErr := c.db.SaveFavicon(bookmarkID, "", db.AssetStatusFailure, nil); saveErr != nil {
			log.Printf("Warning: failed to record favicon failure for %d: %v", bookmarkID, saveErr)
		}
		return err
	}

	data, contentType, err := c.fetch(ctx, iconURL)
	if err != nil {
		if saveErr := c.db.SaveFavicon(bookmarkID, "", db.AssetStatusFailure, nil); saveErr != nil {
			log.Printf("Warning: failed to record favicon failure for %d: %v", bookmarkID, saveErr)
		}
		return fmt.Errorf("failed to load favicon for %d: %w", bookmarkID, err)
	}

	if err := c.db.SaveFavicon(bookmarkID, contentType, db.AssetStatusComplete, data); err != nil {
		return fmt.Errorf("failed to persist favicon for %d: %w", bookmarkID, err)
	}

	c.bus.emit(FaviconLoadedEvent{
		BookmarkID: bookmarkID,
		FaviconURL: dataURL(contentType, data),
	})
	return nil
}

// FaviconDataURL returns the cached favicon as a data URL, or the
// generated default icon when nothing usable is cached.
func (c *FaviconCache) FaviconDataURL(bookmarkID int64) string {
	a, err := c.db.GetFavicon(bookmarkID)
	if err != nil || a.Status != db.AssetStatusComplete || len(a.Content) == 0 {
		return DefaultFaviconDataURL
	}
	return dataURL(a.ContentType, a.Content)
}

// Favicon returns the raw cached favicon bytes and content type, or
// ErrAssetNotFound when no complete favicon is cached.
func (c *FaviconCache) Favicon(bookmarkID int64) ([]byte, string, error) {
	a, err := c.db.GetFavicon(bookmarkID)
	if err != nil {
		return nil, "", err
	}
	if a.Status != db.AssetStatusComplete || len(a.Content) == 0 {
		return nil, "", fmt.Errorf("%w: favicon for bookmark %d", db.ErrAssetNotFound, bookmarkID)
	}
	return a.Content, a.ContentType, nil
}

// Preload fires favicon loads for every bookmark lacking a cached or
// in-flight favicon. Settlement is best-effort: one failure does not
// abort the batch.
func (c *FaviconCache) Preload(ctx context.Context, bookmarks []db.Bookmark) {
	var wg sync.WaitGroup
	for _, b := range bookmarks {
		wg.Add(1)
		go func(b db.Bookmark) {
			defer wg.Done()
			if err := c.LoadFavicon(ctx, b.ID, b.URL); err != nil {
				log.Printf("Favicon preload failed for %d: %v", b.ID, err)
			}
		}(b)
	}
	wg.Wait()
}

func (c *FaviconCache) fetch(ctx context.Context, iconURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, iconURL, nil)
	if err != nil {
		return nil, "", err
	}

	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFaviconSize))
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("empty favicon response")
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if idx := strings.Index(contentType, ";"); idx > 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	return data, contentType, nil
}

// faviconURL derives the conventional /favicon.ico location from a
// bookmark's page URL.
func faviconURL(pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("invalid page URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid page URL %q: missing scheme or host", pageURL)
	}
	return u.Scheme + "://" + u.Host + "/favicon.ico", nil
}

func dataURL(contentType string, data []byte) string {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
