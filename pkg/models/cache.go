package models

import "time"

// CacheEntry stores a cached answer.
type CacheEntry struct {
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

// CacheStats reports cache performance metrics.
type CacheStats struct {
	Entries int64 `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}
