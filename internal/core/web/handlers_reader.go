package web

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/seckatie/stashd/internal/core"
	"github.com/seckatie/stashd/internal/core/db"
)

// handleReader routes /read/{id}, /read/{id}/content and
// /read/{id}/progress.
func (ws *Server) handleReader(w http.ResponseWriter, r *http.Request) {
	id, action, ok := parseIDPath(r.URL.Path, "/read/")
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	switch action {
	case "":
		ws.viewReader(w, r, id)
	case "content":
		ws.serveContent(w, r, id)
	case "progress":
		ws.saveProgress(w, r, id)
	default:
		http.Error(w, "Not Found", http.StatusNotFound)
	}
}

// viewReader renders the reader shell: a sandboxed iframe around the
// sanitized document, plus the parent-side listener that persists
// progress-update messages posted from inside the frame.
func (ws *Server) viewReader(w http.ResponseWriter, r *http.Request, id int64) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	bookmark, err := ws.db.GetBookmark(id)
	if err != nil {
		http.Error(w, "Bookmark not found", http.StatusNotFound)
		return
	}

	if err := ws.db.TouchLastRead(id); err != nil {
		log.Printf("Failed to touch last read for %d: %v", id, err)
	}

	sources, err := ws.fetcher.AvailableSources(bookmark)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		log.Printf("Failed to list content sources for %d: %v", id, err)
		return
	}

	// The template writes the query string literally; a prebuilt
	// "source=...&asset=..." value would get percent-encoded in the URL
	// query position and never parse server-side.
	type sourceView struct {
		Label   string
		Cached  bool
		AssetID int64
	}
	var sourceViews []sourceView
	for _, s := range sources {
		sourceViews = append(sourceViews, sourceView{
			Label:   s.Label,
			Cached:  s.Kind == core.SourceCached,
			AssetID: s.AssetID,
		})
	}

	ws.renderTemplate(w, "reader.html", map[string]any{
		"ID":      bookmark.ID,
		"URL":     bookmark.URL,
		"Title":   bookmark.Title,
		"Sources": sourceViews,
	})
}

// serveContent runs the content pipeline for the selected source and
// serves the sanitized document. Fetch failures still yield a safe
// fallback document, never an error page.
func (ws *Server) serveContent(w http.ResponseWriter, r *http.Request, id int64) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	bookmark, err := ws.db.GetBookmark(id)
	if err != nil {
		http.Error(w, "Bookmark not found", http.StatusNotFound)
		return
	}

	progress, err := ws.db.GetReadProgress(id)
	if err != nil {
		log.Printf("Failed to read progress for %d: %v", id, err)
	}
	darkMode := progress.DarkModeOverride || r.URL.Query().Get("dark") == "1"

	source := ws.fetcher.DefaultSource(bookmark)
	switch r.URL.Query().Get("source") {
	case "live":
		source = core.ContentSource{Kind: core.SourceLive, Label: "Live page"}
	case "cached":
		if assetID, err := strconv.ParseInt(r.URL.Query().Get("asset"), 10, 64); err == nil {
			source = core.ContentSource{Kind: core.SourceCached, AssetID: assetID}
		}
	}

	result := ws.fetcher.FetchContent(r.Context(), bookmark, source, darkMode)
	if result.Err != nil {
		log.Printf("Serving fallback content for %d: %v", id, result.Err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(result.HTML)); err != nil {
		log.Printf("Failed to write content: %v", err)
	}
}

// saveProgress persists a progress-update relayed by the reader shell
// and flags the read state for the next sync's push phase.
func (ws *Server) saveProgress(w http.ResponseWriter, r *http.Request, id int64) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var payload struct {
		Progress       int    `json:"progress"`
		ScrollPosition int    `json:"scrollPosition"`
		ReadingMode    string `json:"readingMode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid progress payload", http.StatusBadRequest)
		return
	}

	if _, err := ws.db.GetBookmark(id); err != nil {
		http.Error(w, "Bookmark not found", http.StatusNotFound)
		return
	}

	err := ws.db.UpsertReadProgress(db.ReadProgress{
		BookmarkID:     id,
		Progress:       payload.Progress,
		ScrollPosition: payload.ScrollPosition,
		ReadingMode:    payload.ReadingMode,
	})
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		log.Printf("Failed to save progress for %d: %v", id, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleFavicon serves cached favicon bytes, or the generated default
// icon when nothing is cached.
func (ws *Server) handleFavicon(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	id, _, ok := parseIDPath(r.URL.Path, "/favicons/")
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	data, contentType, err := ws.favicons.Favicon(id)
	if err != nil {
		w.Header().Set("Content-Type", "image/svg+xml")
		if _, err := w.Write([]byte(defaultFaviconBody)); err != nil {
			log.Printf("Failed to write default favicon: %v", err)
		}
		return
	}

	w.Header().Set("Content-Type", contentType)
	if _, err := w.Write(data); err != nil {
		log.Printf("Failed to write favicon: %v", err)
	}
}

const defaultFaviconBody = `<svg xmlns="http://www.w3.org/2000/svg" width="16" height="16"><rect width="16" height="16" rx="3" fill="#90a4ae"/></svg>`
