package core

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/seckatie/stashd/internal/core/db"
)

// SnapshotOptions controls how a bookmark page is rendered and
// captured.
//
// Capture uses a real Chrome/Chromium browser (via the DevTools
// protocol) so JS-heavy pages fully render before the final HTML is
// snapshotted into the asset cache.
type SnapshotOptions struct {
	// ChromePath optionally overrides the Chrome/Chromium executable
	// path. If empty, chromedp searches PATH and default locations.
	ChromePath string
	// Headless controls whether Chrome runs without a visible window.
	Headless bool
	// Timeout is the per-page deadline for navigation + rendering +
	// capture. If <= 0, DefaultSnapshotTimeout is used.
	Timeout time.Duration
	// WaitSelector optionally waits for a CSS selector to become
	// visible before capturing, for SPAs that render late.
	WaitSelector string
}

// SnapshotResult is the captured output for a single page.
type SnapshotResult struct {
	// FinalURL is the browser's final URL after redirects.
	FinalURL string
	// Title is the document title if available (may be empty).
	Title string
	// HTML is the final rendered document (outerHTML of <html>).
	HTML string
}

// CaptureSnapshot loads a URL in Chrome and returns the final rendered
// HTML. It waits for network idle before capturing so late-loading
// resources are present in the snapshot.
func CaptureSnapshot(ctx context.Context, url string, opts SnapshotOptions) (SnapshotResult, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultSnapshotTimeout
	}

	allocatorOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocatorOpts = append(allocatorOpts,
		chromedp.NoDefaultBrowserCheck,
		chromedp.NoFirstRun,
	)
	if opts.ChromePath != "" {
		allocatorOpts = append(allocatorOpts, chromedp.ExecPath(opts.ChromePath))
	}
	if opts.Headless {
		allocatorOpts = append(allocatorOpts, chromedp.Headless)
	} else {
		allocatorOpts = append(allocatorOpts, chromedp.Flag("headless", false))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocatorOpts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	runCtx, cancelRun := context.WithTimeout(browserCtx, opts.Timeout)
	defer cancelRun()

	var html string
	var title string
	var finalURL string

	waitForNetworkIdle := func(ctx context.Context) error {
		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return err
		}

		idle := make(chan struct{})
		chromedp.ListenTarget(ctx, func(ev interface{}) {
			if e, ok := ev.(*page.EventLifecycleEvent); ok && e.Name == "networkIdle" {
				select {
				case idle <- struct{}{}:
				default:
				}
			}
		})

		if err := chromedp.Navigate(url).Do(ctx); err != nil {
			return err
		}

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}

	actions := []chromedp.Action{
		chromedp.ActionFunc(waitForNetworkIdle),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if strings.TrimSpace(opts.WaitSelector) != "" {
		actions = append(actions, chromedp.WaitVisible(opts.WaitSelector, chromedp.ByQuery))
	}
	actions = append(actions,
		chromedp.Sleep(DefaultNetworkIdleDelay),
		chromedp.Location(&finalURL),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	if err := chromedp.Run(runCtx, actions...); err != nil {
		return SnapshotResult{}, err
	}

	// Some pages leave document.title blank; fall back to <title>.
	if strings.TrimSpace(title) == "" && strings.TrimSpace(html) != "" {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
			title = strings.TrimSpace(doc.Find("title").First().Text())
		}
	}

	return SnapshotResult{
		FinalURL: finalURL,
		Title:    title,
		HTML:     html,
	}, nil
}

// CaptureAndStore captures a bookmark's rendered page and persists it
// as a snapshot asset, returning the new asset ID. The stored payload
// is the raw capture; sanitization happens at render time so the
// sanitizer can evolve without invalidating cached snapshots.
func CaptureAndStore(ctx context.Context, database *db.DB, b db.Bookmark, opts SnapshotOptions) (int64, error) {
	res, err := CaptureSnapshot(ctx, b.URL, opts)
	if err != nil {
		return 0, fmt.Errorf("failed to capture snapshot for %d: %w", b.ID, err)
	}

	assetID, err := database.SaveSnapshot(b.ID, "text/html; charset=utf-8", []byte(res.HTML))
	if err != nil {
		return 0, err
	}

	log.Printf("Captured snapshot for bookmark id=%d url=%s asset=%d", b.ID, b.URL, assetID)
	return assetID, nil
}
