package store

import "time"

// Post is a unit of content awaiting or having been published.
type Post struct {
	ID               string    `json:"id"`
	BotID            string    `json:"bot_id"`
	Category         string    `json:"category,omitempty"`
	Content          string    `json:"content"`
	Fingerprint      string    `json:"fingerprint"`
	Used             bool      `json:"used"`
	UsedAt           time.Time `json:"used_at,omitzero"`
	ExternalRef      string    `json:"external_ref,omitempty"`
	GenerationCost   float64   `json:"generation_cost,omitempty"`
	GenerationTokens int       `json:"generation_tokens,omitempty"`
	GenerationModel  string    `json:"generation_model,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// BotStats is the cached per-bot aggregate row. It is maintained
// transactionally alongside post mutations and can always be rebuilt from a
// full scan via RecomputeStats.
type BotStats struct {
	BotID               string    `json:"bot_id"`
	TotalPosts          int       `json:"total_posts"`
	UsedPosts           int       `json:"used_posts"`
	RemainingPosts      int       `json:"remaining_posts"`
	TotalCost           float64   `json:"total_cost"`
	TotalTokens         int       `json:"total_tokens"`
	LastPostAt          time.Time `json:"last_post_at,omitzero"`
	LastReplenishmentAt time.Time `json:"last_replenishment_at,omitzero"`
	UpdatedAt           time.Time `json:"updated_at,omitzero"`
}

// Attempt is one publish attempt, recorded append-only whether or not it
// succeeded.
type Attempt struct {
	ID             int64     `json:"id"`
	BotID          string    `json:"bot_id"`
	PostID         string    `json:"post_id,omitempty"`
	AttemptNumber  int       `json:"attempt_number"`
	Success        bool      `json:"success"`
	TweetID        string    `json:"tweet_id,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// Counts is the live (full-scan) per-bot post tally.
type Counts struct {
	Total     int `json:"total"`
	Used      int `json:"used"`
	Remaining int `json:"remaining"`
}

// InsertResult reports the outcome of a batch insert.
type InsertResult struct {
	Inserted          int `json:"inserted"`
	SkippedDuplicates int `json:"skipped_duplicates"`
}
