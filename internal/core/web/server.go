package web

import (
	"context"
	"embed"
	"html/template"
	"io/fs"
	"log"
	"net/http"

	"github.com/seckatie/stashd/internal/core"
	"github.com/seckatie/stashd/internal/core/db"
)

//go:embed templates/*.html static/*.css
var templatesFS embed.FS

// Server is the embedded offline-reading UI: cached bookmark listings,
// the sandboxed reader, and the sync/snapshot trigger endpoints.
type Server struct {
	db       *db.DB
	engine   *core.Engine
	fetcher  *core.ContentFetcher
	favicons *core.FaviconCache

	templates *template.Template
	staticFS  http.FileSystem

	// snapshotOpts is used when a snapshot capture is requested from
	// the UI.
	snapshotOpts core.SnapshotOptions

	// capture performs a snapshot capture; swapped out in tests to
	// avoid launching a browser.
	capture func(ctx context.Context, b db.Bookmark) (int64, error)
}

func (ws *Server) captureSnapshot(ctx context.Context, b db.Bookmark) (int64, error) {
	return ws.capture(ctx, b)
}

func StartServer(addr string, database *db.DB, engine *core.Engine, fetcher *core.ContentFetcher, favicons *core.FaviconCache) {
	ws, err := newServer(database, engine, fetcher, favicons)
	if err != nil {
		log.Fatalf("Failed to initialize web server: %v", err)
	}

	mux := http.NewServeMux()
	ws.registerRoutes(mux)

	log.Printf("Starting web server at %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("Web server failed: %v", err)
	}
}

func newServer(database *db.DB, engine *core.Engine, fetcher *core.ContentFetcher, favicons *core.FaviconCache) (*Server, error) {
	templates, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	staticSub, err := fs.Sub(templatesFS, "static")
	if err != nil {
		return nil, err
	}

	ws := &Server{
		db:           database,
		engine:       engine,
		fetcher:      fetcher,
		favicons:     favicons,
		templates:    templates,
		staticFS:     http.FS(staticSub),
		snapshotOpts: core.SnapshotOptions{Headless: true},
	}
	ws.capture = func(ctx context.Context, b db.Bookmark) (int64, error) {
		return core.CaptureAndStore(ctx, database, b, ws.snapshotOpts)
	}
	return ws, nil
}

func (ws *Server) registerRoutes(mux *http.ServeMux) {
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(ws.staticFS)))

	mux.HandleFunc("/", ws.handleIndex)
	mux.HandleFunc("/bookmarks", ws.handleBookmarks)
	mux.HandleFunc("/bookmarks/", ws.handleBookmarkActions) // /bookmarks/{id}/snapshot
	mux.HandleFunc("/read/", ws.handleReader)               // /read/{id}[/content|/progress]
	mux.HandleFunc("/favicons/", ws.handleFavicon)          // /favicons/{id}
	mux.HandleFunc("/sync", ws.handleSync)
}
