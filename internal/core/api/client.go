// Package api is the typed HTTP client for the remote bookmark
// service. It is the only component that talks to the remote API; the
// sync engine consumes it as a collaborator and never builds requests
// itself.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// UserAgent identifies outbound requests from this client.
const UserAgent = "Mozilla/5.0 (compatible; stashd/1.0)"

// DefaultPageSize is the page size used when ListOptions.Limit is zero.
const DefaultPageSize = 100

// Bookmark is a bookmark as returned by the remote service. It is
// authoritative for content metadata and immutable from the engine's
// perspective.
type Bookmark struct {
	ID           int64    `json:"id"`
	URL          string   `json:"url"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Tags         []string `json:"tags"`
	Unread       bool     `json:"unread"`
	Archived     bool     `json:"archived"`
	Shared       bool     `json:"shared"`
	DateAdded    string   `json:"date_added"`
	DateModified string   `json:"date_modified"`
}

// Page is one page of a bookmark listing. Count is the total number of
// records matching the query, not the page length.
type Page struct {
	Count   int        `json:"count"`
	Results []Bookmark `json:"results"`
}

// AssetInfo describes a downloadable asset attached to a bookmark on
// the remote service.
type AssetInfo struct {
	ID          int64  `json:"id"`
	AssetType   string `json:"asset_type"`
	ContentType string `json:"content_type"`
}

// ListOptions selects a slice of the remote bookmark collection.
// ModifiedSince is the stored sync cursor; empty requests all records.
type ListOptions struct {
	ModifiedSince string
	Archived      bool
	Offset        int
	Limit         int
}

// ReadStatusUpdate carries local read state being pushed upstream.
type ReadStatusUpdate struct {
	Unread       *bool  `json:"unread,omitempty"`
	ReadProgress *int   `json:"read_progress,omitempty"`
	LastReadAt   string `json:"last_read_at,omitempty"`
}

// Client is a typed client for the remote bookmark service.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a client for the service at baseURL. The token is passed
// through opaquely as a bearer credential.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.httpClient.Do(req)
}

// ListBookmarks fetches one page of bookmarks. The archived flag
// selects between /bookmarks and /bookmarks/archived.
func (c *Client) ListBookmarks(ctx context.Context, opts ListOptions) (Page, error) {
	path := "/bookmarks"
	if opts.Archived {
		path = "/bookmarks/archived"
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultPageSize
	}

	query := url.Values{}
	if opts.ModifiedSince != "" {
		query.Set("modified_since", opts.ModifiedSince)
	}
	query.Set("offset", strconv.Itoa(opts.Offset))
	query.Set("limit", strconv.Itoa(opts.Limit))

	resp, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return Page{}, fmt.Errorf("failed to list bookmarks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("failed to list bookmarks: HTTP %d", resp.StatusCode)
	}

	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return Page{}, fmt.Errorf("failed to decode bookmark page: %w", err)
	}
	return page, nil
}

// ListAssets returns the assets the remote service holds for a
// bookmark.
func (c *Client) ListAssets(ctx context.Context, bookmarkID int64) ([]AssetInfo, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/bookmarks/%d/assets", bookmarkID), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to list assets: HTTP %d", resp.StatusCode)
	}

	var infos []AssetInfo
	if err := json.NewDecoder(resp.Body).Decode(&infos); err != nil {
		return nil, fmt.Errorf("failed to decode asset list: %w", err)
	}
	return infos, nil
}

// DownloadAsset fetches an asset's binary payload and content type.
func (c *Client) DownloadAsset(ctx context.Context, bookmarkID, assetID int64) ([]byte, string, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/bookmarks/%d/assets/%d", bookmarkID, assetID), nil, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to download asset: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read asset body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

// UpdateReadStatus pushes local read state for a bookmark upstream.
func (c *Client) UpdateReadStatus(ctx context.Context, bookmarkID int64, update ReadStatusUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to encode read status: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/bookmarks/%d", bookmarkID), nil, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to update read status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("failed to update read status: HTTP %d", resp.StatusCode)
	}
	return nil
}
