package models

import "time"

// CacheEntry is a cached result held by one tier. Each tier owns its own copy.
type CacheEntry struct {
	Key            string    `json:"key"`
	Value          Result    `json:"value"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	HitCount       int64     `json:"hit_count"`
}

// IndexRow is the persistent index record for one on-disk payload.
type IndexRow struct {
	Key          string    `json:"key"`
	Question     string    `json:"question"`
	ConfigID     string    `json:"config_id"`
	Scope        string    `json:"scope,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	HitCount     int64     `json:"hit_count"`
}

// TopQuery is a frequently hit question from the persistent index.
type TopQuery struct {
	Question string `json:"question"`
	HitCount int64  `json:"hit_count"`
}

// CacheStats reports the state of both cache tiers.
type CacheStats struct {
	MemorySize   int           `json:"memory_size"`
	DiskSize     int           `json:"disk_size"`
	TotalEntries int64         `json:"total_entries"`
	TopQueries   []TopQuery    `json:"top_queries"`
	AverageAge   time.Duration `json:"average_age"`
	Directory    string        `json:"directory"`
	Hits         int64         `json:"hits"`
	Misses       int64         `json:"misses"`
}
