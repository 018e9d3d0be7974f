package web

import (
	"context"
	"log"
	"net/http"

	"github.com/seckatie/stashd/internal/core/db"
)

type bookmarkView struct {
	ID           int64
	URL          string
	Title        string
	Description  string
	Tags         []string
	Unread       bool
	ReadProgress int
	FaviconURL   string
	HasSnapshot  bool
}

func (ws *Server) handleBookmarks(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	archived := r.URL.Query().Get("archived") == "1"
	bookmarks, err := ws.db.ListBookmarks(archived, 0)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		log.Printf("Failed to list bookmarks: %v", err)
		return
	}

	var views []bookmarkView
	for _, b := range bookmarks {
		hasSnap, err := ws.db.HasSnapshot(b.ID)
		if err != nil {
			log.Printf("Failed to check snapshot for %d: %v", b.ID, err)
		}
		views = append(views, bookmarkView{
			ID:           b.ID,
			URL:          b.URL,
			Title:        b.Title,
			Description:  b.Description,
			Tags:         b.Tags,
			Unread:       b.Unread,
			ReadProgress: b.ReadProgress,
			FaviconURL:   ws.favicons.FaviconDataURL(b.ID),
			HasSnapshot:  hasSnap,
		})
	}

	ws.renderTemplate(w, "bookmarks.html", map[string]any{
		"Bookmarks": views,
		"Archived":  archived,
	})
}

// handleBookmarkActions routes /bookmarks/{id}/snapshot.
func (ws *Server) handleBookmarkActions(w http.ResponseWriter, r *http.Request) {
	id, action, ok := parseIDPath(r.URL.Path, "/bookmarks/")
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	if action != "snapshot" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	bookmark, err := ws.db.GetBookmark(id)
	if err != nil {
		http.Error(w, "Bookmark not found", http.StatusNotFound)
		return
	}

	// Capture runs in the background; the reader picks the snapshot up
	// as a new content source once it lands.
	go func(b db.Bookmark) {
		if _, err := ws.captureSnapshot(context.Background(), b); err != nil {
			log.Printf("Snapshot capture failed for %d: %v", b.ID, err)
		}
	}(bookmark)

	w.WriteHeader(http.StatusAccepted)
}

func (ws *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	// User-triggered: fatal sync errors surface so the UI can offer a
	// retry.
	if err := ws.engine.Sync(r.Context()); err != nil {
		log.Printf("Sync failed: %v", err)
		http.Error(w, "Sync failed: "+err.Error(), http.StatusBadGateway)
		return
	}

	http.Redirect(w, r, "/bookmarks", http.StatusSeeOther)
}
