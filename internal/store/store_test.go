package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "dripfeed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func contentPosts(contents ...string) []Post {
	posts := make([]Post, 0, len(contents))
	for _, c := range contents {
		posts = append(posts, Post{Content: c})
	}
	return posts
}

func TestInsertBatchAndCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.InsertBatch(ctx, "bot-a", contentPosts("one", "two", "three"))
	require.NoError(t, err)
	assert.Equal(t, InsertResult{Inserted: 3}, res)

	counts, err := s.Counts(ctx, "bot-a")
	require.NoError(t, err)
	assert.Equal(t, Counts{Total: 3, Used: 0, Remaining: 3}, counts)
}

func TestInsertBatchDuplicateRejection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Same normalized content twice for one bot yields one row.
	_, err := s.InsertBatch(ctx, "bot-a", contentPosts("Hello World"))
	require.NoError(t, err)
	res, err := s.InsertBatch(ctx, "bot-a", contentPosts("  hello world  "))
	require.NoError(t, err)
	assert.Equal(t, InsertResult{SkippedDuplicates: 1}, res)

	counts, err := s.Counts(ctx, "bot-a")
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Total)

	// The same content for a different bot is a separate row.
	res, err = s.InsertBatch(ctx, "bot-b", contentPosts("Hello World"))
	require.NoError(t, err)
	assert.Equal(t, InsertResult{Inserted: 1}, res)
}

func TestInsertBatchPartialDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertBatch(ctx, "bot-a", contentPosts("a", "b", "c"))
	require.NoError(t, err)

	before, err := s.Counts(ctx, "bot-a")
	require.NoError(t, err)

	batch := contentPosts("a", "b", "c", "d", "e", "f", "g", "h", "i", "j")
	res, err := s.InsertBatch(ctx, "bot-a", batch)
	require.NoError(t, err)
	assert.Equal(t, InsertResult{Inserted: 7, SkippedDuplicates: 3}, res)

	after, err := s.Counts(ctx, "bot-a")
	require.NoError(t, err)
	assert.Equal(t, before.Total+7, after.Total)

	// The cached row agrees with the scan.
	stats, err := s.Stats(ctx, "bot-a")
	require.NoError(t, err)
	assert.Equal(t, after.Total, stats.TotalPosts)
	assert.Equal(t, after.Remaining, stats.RemainingPosts)
}

func TestInsertBatchIntraBatchDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.InsertBatch(ctx, "bot-a", contentPosts("same", "SAME", "same "))
	require.NoError(t, err)
	assert.Equal(t, InsertResult{Inserted: 1, SkippedDuplicates: 2}, res)
}

func TestNextUnusedOldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Separate batches so created_at (and ULIDs) are strictly ordered.
	for _, c := range []string{"first", "second", "third"} {
		_, err := s.InsertBatch(ctx, "bot-a", contentPosts(c))
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	p, err := s.NextUnused(ctx, "bot-a")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "first", p.Content)

	require.NoError(t, s.MarkUsed(ctx, "bot-a", p.ID, "ref-1"))

	p, err = s.NextUnused(ctx, "bot-a")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "second", p.Content)
}

func TestNextUnusedEmptyPool(t *testing.T) {
	s := newTestStore(t)

	p, err := s.NextUnused(context.Background(), "bot-a")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestMarkUsedIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertBatch(ctx, "bot-a", contentPosts("only"))
	require.NoError(t, err)
	p, err := s.NextUnused(ctx, "bot-a")
	require.NoError(t, err)

	require.NoError(t, s.MarkUsed(ctx, "bot-a", p.ID, "ref-1"))

	first, err := s.Stats(ctx, "bot-a")
	require.NoError(t, err)
	assert.Equal(t, 1, first.UsedPosts)
	assert.Equal(t, 0, first.RemainingPosts)

	used, err := s.NextUnused(ctx, "bot-a")
	require.NoError(t, err)
	assert.Nil(t, used)

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.MarkUsed(ctx, "bot-a", p.ID, "ref-2"))

	second, err := s.Stats(ctx, "bot-a")
	require.NoError(t, err)
	assert.Equal(t, 1, second.UsedPosts, "used count must not double-increment")
	assert.Equal(t, 0, second.RemainingPosts, "remaining must not double-decrement")

	// usedAt and the external ref keep the first call's values.
	row, err := s.postByID(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, row.Used)
	assert.Equal(t, "ref-1", row.ExternalRef)
	assert.Equal(t, first.LastPostAt, row.UsedAt)
}

func TestMarkUsedWrongBotNoOp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertBatch(ctx, "bot-a", contentPosts("mine"))
	require.NoError(t, err)
	p, err := s.NextUnused(ctx, "bot-a")
	require.NoError(t, err)

	require.NoError(t, s.MarkUsed(ctx, "bot-b", p.ID, "ref-x"))

	row, err := s.postByID(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, row.Used)
}

func TestUsedAtAfterCreatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertBatch(ctx, "bot-a", contentPosts("timing"))
	require.NoError(t, err)
	p, err := s.NextUnused(ctx, "bot-a")
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.MarkUsed(ctx, "bot-a", p.ID, "ref"))

	row, err := s.postByID(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, row.UsedAt.Before(row.CreatedAt))
}

func TestRecordAndListAttempts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		a := Attempt{
			BotID:          "bot-a",
			PostID:         "post-1",
			AttemptNumber:  i,
			ResponseTimeMs: int64(100 * i),
		}
		if i == 3 {
			a.Success = true
			a.TweetID = "tw-9"
		} else {
			a.ErrorMessage = "rate limited"
		}
		require.NoError(t, s.RecordAttempt(ctx, a))
		time.Sleep(2 * time.Millisecond)
	}

	attempts, err := s.RecentAttempts(ctx, "bot-a", 10)
	require.NoError(t, err)
	require.Len(t, attempts, 3)
	// Newest first.
	assert.Equal(t, 3, attempts[0].AttemptNumber)
	assert.True(t, attempts[0].Success)
	assert.Equal(t, "tw-9", attempts[0].TweetID)
	assert.Equal(t, "rate limited", attempts[1].ErrorMessage)

	n, err := s.AttemptCount(ctx, "bot-a", "post-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRecomputeStatsMatchesCached(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertBatch(ctx, "bot-a", []Post{
		{Content: "x", GenerationCost: 0.01, GenerationTokens: 40, GenerationModel: "claude-sonnet-4-20250514"},
		{Content: "y", GenerationCost: 0.02, GenerationTokens: 55, GenerationModel: "claude-sonnet-4-20250514"},
	})
	require.NoError(t, err)

	p, err := s.NextUnused(ctx, "bot-a")
	require.NoError(t, err)
	require.NoError(t, s.MarkUsed(ctx, "bot-a", p.ID, "ref"))
	require.NoError(t, s.MarkReplenished(ctx, "bot-a", time.Now()))

	cached, err := s.Stats(ctx, "bot-a")
	require.NoError(t, err)
	recomputed, err := s.RecomputeStats(ctx, "bot-a")
	require.NoError(t, err)

	assert.Equal(t, cached.TotalPosts, recomputed.TotalPosts)
	assert.Equal(t, cached.UsedPosts, recomputed.UsedPosts)
	assert.Equal(t, cached.RemainingPosts, recomputed.RemainingPosts)
	assert.InDelta(t, cached.TotalCost, recomputed.TotalCost, 1e-9)
	assert.Equal(t, cached.TotalTokens, recomputed.TotalTokens)
	assert.False(t, recomputed.LastReplenishmentAt.IsZero())
}

func TestPurgeUsed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertBatch(ctx, "bot-a", contentPosts("old", "fresh"))
	require.NoError(t, err)

	p, err := s.NextUnused(ctx, "bot-a")
	require.NoError(t, err)
	require.NoError(t, s.MarkUsed(ctx, "bot-a", p.ID, "ref"))

	// Nothing is old enough yet.
	n, err := s.PurgeUsed(ctx, "bot-a", time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	// With a zero retention window the used row qualifies.
	time.Sleep(2 * time.Millisecond)
	n, err = s.PurgeUsed(ctx, "bot-a", 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	counts, err := s.Counts(ctx, "bot-a")
	require.NoError(t, err)
	assert.Equal(t, Counts{Total: 1, Used: 0, Remaining: 1}, counts)

	stats, err := s.Stats(ctx, "bot-a")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalPosts)
	assert.Equal(t, 0, stats.UsedPosts)
}

// postByID is a test helper for asserting on raw row state.
func (s *Store) postByID(ctx context.Context, id string) (*Post, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+postColumns+` FROM posts WHERE id = ?
	`, id)
	return scanPost(row)
}
