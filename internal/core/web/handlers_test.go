package web

import (
	"context"
	"encoding/json"
	"html"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/seckatie/stashd/internal/core"
	"github.com/seckatie/stashd/internal/core/api"
	"github.com/seckatie/stashd/internal/core/db"
)

func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if err := database.Migrate(); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

// newTestServer wires a server around an in-memory store. When remote is
// nil, the engine has no remote configured.
func newTestServer(t *testing.T, database *db.DB, remote *api.Client) (*Server, *http.ServeMux) {
	t.Helper()
	bus := core.NewBus()
	fetcher := core.NewContentFetcher(database)
	favicons := core.NewFaviconCache(database, bus)
	engine := core.NewEngine(database, remote, bus, fetcher, favicons, core.EngineConfig{})

	ws, err := newServer(database, engine, fetcher, favicons)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	mux := http.NewServeMux()
	ws.registerRoutes(mux)
	return ws, mux
}

func insertTestBookmark(t *testing.T, database *db.DB, b db.Bookmark) {
	t.Helper()
	if b.URL == "" {
		b.URL = "https://example.com/article"
	}
	if b.DateModified == "" {
		b.DateModified = "2024-01-02T10:00:00Z"
	}
	if err := database.InsertBookmark(b); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
}

// TestHandleIndex tests the root redirect.
func TestHandleIndex(t *testing.T) {
	_, mux := newTestServer(t, newTestDB(t), nil)

	t.Run("redirects to bookmarks", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusSeeOther {
			t.Errorf("expected 303, got %d", rec.Code)
		}
		if loc := rec.Header().Get("Location"); loc != "/bookmarks" {
			t.Errorf("expected redirect to /bookmarks, got %q", loc)
		}
	})

	t.Run("unknown path is 404", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})
}

// TestHandleBookmarks tests the cached listing views.
func TestHandleBookmarks(t *testing.T) {
	database := newTestDB(t)
	insertTestBookmark(t, database, db.Bookmark{ID: 1, Title: "Unarchived Article", Unread: true})
	insertTestBookmark(t, database, db.Bookmark{ID: 2, Title: "Archived Article", Archived: true})
	_, mux := newTestServer(t, database, nil)

	t.Run("unarchived listing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bookmarks", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		body := rec.Body.String()
		if !strings.Contains(body, "Unarchived Article") {
			t.Error("expected unarchived bookmark in listing")
		}
		if strings.Contains(body, "Archived Article") {
			t.Error("expected archived bookmark excluded from listing")
		}
	})

	t.Run("archived listing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bookmarks?archived=1", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "Archived Article") {
			t.Error("expected archived bookmark in archive view")
		}
	})

	t.Run("rejects non-GET", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/bookmarks", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
	})
}

// TestHandleSnapshotAction tests the background capture trigger.
func TestHandleSnapshotAction(t *testing.T) {
	database := newTestDB(t)
	insertTestBookmark(t, database, db.Bookmark{ID: 1, Title: "Article"})
	ws, mux := newTestServer(t, database, nil)

	captured := make(chan int64, 1)
	ws.capture = func(ctx context.Context, b db.Bookmark) (int64, error) {
		captured <- b.ID
		return 1, nil
	}

	t.Run("accepts and captures in background", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/bookmarks/1/snapshot", nil))
		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", rec.Code)
		}
		select {
		case id := <-captured:
			if id != 1 {
				t.Errorf("expected capture for bookmark 1, got %d", id)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("capture was not invoked")
		}
	})

	t.Run("unknown bookmark is 404", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/bookmarks/999/snapshot", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("unknown action is 404", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/bookmarks/1/delete", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("rejects GET", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bookmarks/1/snapshot", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
	})
}

// TestHandleSync tests the user-triggered sync endpoint.
func TestHandleSync(t *testing.T) {
	t.Run("no remote configured surfaces the failure", func(t *testing.T) {
		_, mux := newTestServer(t, newTestDB(t), nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sync", nil))
		if rec.Code != http.StatusBadGateway {
			t.Errorf("expected 502, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "Sync failed") {
			t.Errorf("expected failure message, got %q", rec.Body.String())
		}
	})

	t.Run("successful sync redirects", func(t *testing.T) {
		remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(api.Page{})
		}))
		defer remote.Close()

		_, mux := newTestServer(t, newTestDB(t), api.New(remote.URL, ""))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sync", nil))
		if rec.Code != http.StatusSeeOther {
			t.Errorf("expected 303, got %d", rec.Code)
		}
	})

	t.Run("rejects GET", func(t *testing.T) {
		_, mux := newTestServer(t, newTestDB(t), nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sync", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
	})
}

// TestViewReader tests the reader shell.
func TestViewReader(t *testing.T) {
	database := newTestDB(t)
	insertTestBookmark(t, database, db.Bookmark{ID: 1, Title: "Readable Article"})
	if _, err := database.SaveSnapshot(1, "text/html", []byte("<html><body>snap</body></html>")); err != nil {
		t.Fatalf("save snapshot failed: %v", err)
	}
	_, mux := newTestServer(t, database, nil)

	t.Run("renders shell with sources", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/read/1", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		body := rec.Body.String()
		if !strings.Contains(body, "Readable Article") {
			t.Error("expected title in reader shell")
		}
		if !strings.Contains(body, "/read/1/content?source=cached&amp;asset=") {
			t.Error("expected cached source link with parseable query")
		}
		if !strings.Contains(body, "/read/1/content?source=live") {
			t.Error("expected live source link")
		}
		// The query separators must survive template rendering; an
		// encoded link would silently fall back to the default source.
		if strings.Contains(body, "source%3d") || strings.Contains(body, "source%3D") {
			t.Error("expected source query not percent-encoded")
		}
		if !strings.Contains(body, `sandbox="allow-scripts"`) {
			t.Error("expected sandboxed content frame")
		}
	})

	t.Run("cached source link parses server-side", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/read/1", nil))
		body := rec.Body.String()

		idx := strings.Index(body, "/read/1/content?source=cached")
		if idx == -1 {
			t.Fatal("no cached source link rendered")
		}
		end := strings.Index(body[idx:], `"`)
		href := html.UnescapeString(body[idx : idx+end])

		u, err := url.Parse(href)
		if err != nil {
			t.Fatalf("link does not parse: %v", err)
		}
		if u.Query().Get("source") != "cached" {
			t.Errorf("expected source=cached in link query, got %q", u.RawQuery)
		}
		if u.Query().Get("asset") == "" {
			t.Errorf("expected asset id in link query, got %q", u.RawQuery)
		}
	})

	t.Run("stamps last read", func(t *testing.T) {
		b, err := database.GetBookmark(1)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if b.LastReadAt == "" {
			t.Error("expected last_read_at stamped on open")
		}
	})

	t.Run("unknown bookmark is 404", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/read/999", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})
}

// TestServeContent tests the sanitized-document endpoint.
func TestServeContent(t *testing.T) {
	database := newTestDB(t)
	insertTestBookmark(t, database, db.Bookmark{ID: 1, Title: "Article", URL: "https://unreachable.invalid/"})
	assetID, err := database.SaveSnapshot(1, "text/html",
		[]byte(`<html><head><script src="https://evil.example/x.js"></script></head><body><p>cached body</p></body></html>`))
	if err != nil {
		t.Fatalf("save snapshot failed: %v", err)
	}
	_, mux := newTestServer(t, database, nil)

	contentPath := "/read/1/content?source=cached&asset=" + itoa(assetID)

	t.Run("serves sanitized cached content", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, contentPath, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		body := rec.Body.String()
		if !strings.Contains(body, "cached body") {
			t.Error("expected cached content served")
		}
		if strings.Contains(body, "evil.example") {
			t.Error("expected content sanitized before serving")
		}
		if !strings.Contains(body, "Content-Security-Policy") {
			t.Error("expected CSP in served document")
		}
	})

	t.Run("default source is the cached snapshot", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/read/1/content", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "cached body") {
			t.Error("expected snapshot used as default source")
		}
	})

	t.Run("dark mode flag flows through", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, contentPath+"&dark=1", nil))
		if !strings.Contains(rec.Body.String(), `id="stashd-dark-theme"`) {
			t.Error("expected dark theme style in served document")
		}
	})

	t.Run("missing asset still serves a document", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/read/1/content?source=cached&asset=999", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 with fallback document, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "could not be loaded") {
			t.Error("expected fallback document")
		}
	})

	t.Run("unknown bookmark is 404", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/read/999/content", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})
}

// TestSaveProgress tests the progress-update relay endpoint.
func TestSaveProgress(t *testing.T) {
	database := newTestDB(t)
	insertTestBookmark(t, database, db.Bookmark{ID: 1, Title: "Article"})
	_, mux := newTestServer(t, database, nil)

	t.Run("persists progress and flags read sync", func(t *testing.T) {
		body := strings.NewReader(`{"progress": 65, "scrollPosition": 1400, "readingMode": "reader"}`)
		req := httptest.NewRequest(http.MethodPost, "/read/1/progress", body)
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rec.Code)
		}

		p, err := database.GetReadProgress(1)
		if err != nil {
			t.Fatalf("get progress failed: %v", err)
		}
		if p.Progress != 65 || p.ScrollPosition != 1400 || p.ReadingMode != "reader" {
			t.Errorf("unexpected stored progress: %+v", p)
		}

		pending, _ := database.ListBookmarksNeedingReadSync()
		if len(pending) != 1 {
			t.Errorf("expected bookmark flagged for read sync, got %d", len(pending))
		}
	})

	t.Run("invalid payload is 400", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/read/1/progress", strings.NewReader("not json")))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("unknown bookmark is 404", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/read/999/progress", strings.NewReader(`{"progress": 1}`)))
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})
}

// TestHandleFavicon tests favicon serving with the generated fallback.
func TestHandleFavicon(t *testing.T) {
	database := newTestDB(t)
	insertTestBookmark(t, database, db.Bookmark{ID: 1, Title: "Article"})
	_, mux := newTestServer(t, database, nil)

	t.Run("default icon when nothing cached", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/favicons/1", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "image/svg+xml" {
			t.Errorf("expected svg fallback, got %q", ct)
		}
	})

	t.Run("cached favicon served with its content type", func(t *testing.T) {
		if err := database.SaveFavicon(1, "image/png", db.AssetStatusComplete, []byte{1, 2, 3}); err != nil {
			t.Fatalf("save favicon failed: %v", err)
		}
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/favicons/1", nil))
		if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
			t.Errorf("expected image/png, got %q", ct)
		}
		if rec.Body.Len() != 3 {
			t.Errorf("expected 3 payload bytes, got %d", rec.Body.Len())
		}
	})
}

// TestParseIDPath tests the manual route parsing.
func TestParseIDPath(t *testing.T) {
	tests := []struct {
		path       string
		prefix     string
		wantID     int64
		wantAction string
		wantOK     bool
	}{
		{"/read/42", "/read/", 42, "", true},
		{"/read/42/content", "/read/", 42, "content", true},
		{"/bookmarks/7/snapshot", "/bookmarks/", 7, "snapshot", true},
		{"/read/", "/read/", 0, "", false},
		{"/read/abc", "/read/", 0, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			id, action, ok := parseIDPath(tt.path, tt.prefix)
			if ok != tt.wantOK || id != tt.wantID || action != tt.wantAction {
				t.Errorf("parseIDPath(%q) = (%d, %q, %v), want (%d, %q, %v)",
					tt.path, id, action, ok, tt.wantID, tt.wantAction, tt.wantOK)
			}
		})
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
