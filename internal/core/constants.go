package core

import "time"

// Timeout defaults for fetch and capture operations
const (
	DefaultFetchTimeout     = 10 * time.Second
	DefaultSnapshotTimeout  = 35 * time.Second
	DefaultNetworkIdleDelay = 500 * time.Millisecond
)

// Resource limits
const (
	MaxContentSize = 5 * 1024 * 1024 // 5MB
)

// HTTP client configuration
const (
	UserAgent = "Mozilla/5.0 (compatible; stashd/1.0)"
)
