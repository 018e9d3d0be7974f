package core

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/seckatie/stashd/internal/core/db"
)

// SourceKind distinguishes cached-asset content sources from the live
// remote URL.
type SourceKind string

const (
	SourceCached SourceKind = "cached"
	SourceLive   SourceKind = "live"
)

// ContentSource is one selectable source of article content for a
// bookmark: a cached snapshot asset or the live page.
type ContentSource struct {
	Kind    SourceKind
	AssetID int64
	Label   string
}

// ContentError is the structured, user-facing description of a fetch
// failure. The pipeline never raises it past the caller; it rides along
// on the result next to a fallback document.
type ContentError struct {
	Message string
	Err     error
}

func (e *ContentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ContentError) Unwrap() error { return e.Err }

// ContentResult is a render-ready document. HTML is always sanitized;
// on failure it holds a safe "content unavailable" document and Err
// describes what went wrong. Text is the plain-text extraction of the
// sanitized document.
type ContentResult struct {
	HTML   string
	Text   string
	Source ContentSource
	Err    *ContentError
}

// ContentFetcher resolves which content source to use for a bookmark,
// fetches it, and runs the result through the sanitizer.
type ContentFetcher struct {
	db     *db.DB
	client *http.Client
}

func NewContentFetcher(database *db.DB) *ContentFetcher {
	return &ContentFetcher{
		db: database,
		client: &http.Client{
			Timeout: DefaultFetchTimeout,
		},
	}
}

// AvailableSources lists the selectable content sources for a bookmark:
// cached snapshot assets newest-first, then the live URL as fallback.
func (f *ContentFetcher) AvailableSources(b db.Bookmark) ([]ContentSource, error) {
	snapshots, err := f.db.ListSnapshots(b.ID)
	if err != nil {
		return nil, err
	}

	sources := make([]ContentSource, 0, len(snapshots)+1)
	for _, a := range snapshots {
		label := "Snapshot"
		if t, err := time.Parse(time.RFC3339, a.CachedAt); err == nil {
			label = "Snapshot from " + t.Format("2006-01-02")
		}
		sources = append(sources, ContentSource{Kind: SourceCached, AssetID: a.ID, Label: label})
	}
	sources = append(sources, ContentSource{Kind: SourceLive, Label: "Live page"})
	return sources, nil
}

// DefaultSource is the first cached asset if any exist, otherwise the
// live URL.
func (f *ContentFetcher) DefaultSource(b db.Bookmark) ContentSource {
	sources, err := f.AvailableSources(b)
	if err != nil || len(sources) == 0 {
		return ContentSource{Kind: SourceLive, Label: "Live page"}
	}
	return sources[0]
}

// FetchContent fetches the selected source and sanitizes it. Failures
// never propagate: the result carries a fallback document plus a
// structured error description.
func (f *ContentFetcher) FetchContent(ctx context.Context, b db.Bookmark, source ContentSource, darkMode bool) ContentResult {
	var rawHTML string
	var err error

	switch source.Kind {
	case SourceCached:
		rawHTML, err = f.readAsset(source.AssetID)
	case SourceLive:
		rawHTML, err = f.fetchLive(ctx, b.URL)
	default:
		err = fmt.Errorf("unknown content source %q", source.Kind)
	}

	if err != nil {
		log.Printf("Content fetch failed for bookmark %d (%s): %v", b.ID, source.Kind, err)
		safe := fallbackDocument("This article could not be loaded. It may be unavailable offline.", "", darkMode)
		return ContentResult{
			HTML:   safe,
			Source: source,
			Err: &ContentError{
				Message: "Content unavailable",
				Err:     err,
			},
		}
	}

	safe := Sanitize(rawHTML, darkMode)
	return ContentResult{
		HTML:   safe,
		Text:   extractText(safe),
		Source: source,
	}
}

// readAsset loads a cached snapshot's payload from the asset store.
func (f *ContentFetcher) readAsset(assetID int64) (string, error) {
	asset, err := f.db.GetAsset(assetID)
	if err != nil {
		return "", err
	}
	if asset.Status != db.AssetStatusComplete {
		return "", fmt.Errorf("asset %d has status %q", assetID, asset.Status)
	}
	return string(asset.Content), nil
}

// fetchLive performs a network GET against the bookmark's URL.
func (f *ContentFetcher) fetchLive(ctx context.Context, urlStr string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return "", err
	}

	req.Header.Set("User-Agent", UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxContentSize))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// extractText pulls the readable text out of a sanitized document for
// search/preview purposes. Injected script and style blocks are
// excluded.
func extractText(safeHTML string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(safeHTML))
	if err != nil {
		return ""
	}
	body := doc.Find("body").Clone()
	body.Find("script, style").Remove()
	return strings.TrimSpace(body.Text())
}
