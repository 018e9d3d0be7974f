package db

// Bookmark is a remote bookmark record plus the local-only fields the
// reader maintains. Identity (ID) is assigned by the remote service.
// All timestamps are stored as RFC3339 text.
type Bookmark struct {
	ID           int64
	URL          string
	Title        string
	Description  string
	Tags         []string
	Unread       bool
	Archived     bool
	Shared       bool
	DateAdded    string
	DateModified string

	// Local-only fields. Reconciliation never overwrites these.
	Content       string
	LastReadAt    string
	ReadProgress  int
	ReadingMode   string
	IsSynced      bool
	NeedsReadSync bool
}

// Asset types.
const (
	AssetTypeFavicon  = "favicon"
	AssetTypeSnapshot = "snapshot"
)

// Asset statuses.
const (
	AssetStatusPending  = "pending"
	AssetStatusComplete = "complete"
	AssetStatusFailure  = "failure"
)

// Asset is a cached binary artifact tied to a bookmark: a favicon or an
// HTML snapshot. Content is only present when Status is complete.
type Asset struct {
	ID          int64
	BookmarkID  int64
	AssetType   string
	ContentType string
	Status      string
	Content     []byte
	CachedAt    string
}

// ReadProgress is the per-bookmark reading position, upserted as the
// reader scrolls. One row per bookmark.
type ReadProgress struct {
	BookmarkID       int64
	Progress         int
	ScrollPosition   int
	ReadingMode      string
	DarkModeOverride bool
	LastReadAt       string
}
