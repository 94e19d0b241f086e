package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Stats returns the cached aggregate row for botID. A bot with no recorded
// activity gets a zero-valued row, not an error.
func (s *Store) Stats(ctx context.Context, botID string) (*BotStats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT bot_id, total_posts, used_posts, remaining_posts,
			total_cost, total_tokens, last_post_at, last_replenishment_at, updated_at
		FROM bot_stats
		WHERE bot_id = ?
	`, botID)

	st, err := scanStats(row)
	if err == sql.ErrNoRows {
		return &BotStats{BotID: botID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read bot stats: %w", err)
	}
	return st, nil
}

// MarkReplenished records the time of the latest replenishment.
func (s *Store) MarkReplenished(ctx context.Context, botID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bot_stats (bot_id, last_replenishment_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(bot_id) DO UPDATE SET
			last_replenishment_at = excluded.last_replenishment_at,
			updated_at = excluded.updated_at
	`, botID, toMillis(at.UTC()), toMillis(at.UTC()))
	if err != nil {
		return fmt.Errorf("failed to mark replenishment: %w", err)
	}
	return nil
}

// RecomputeStats rebuilds the cached aggregate row from a full scan of the
// posts table and returns the rebuilt row. last_replenishment_at cannot be
// derived from posts and is preserved.
func (s *Store) RecomputeStats(ctx context.Context, botID string) (*BotStats, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var st BotStats
	st.BotID = botID
	var lastPostAt sql.NullInt64
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(used), 0),
			COALESCE(SUM(generation_cost), 0), COALESCE(SUM(generation_tokens), 0),
			MAX(used_at)
		FROM posts
		WHERE bot_id = ?
	`, botID).Scan(&st.TotalPosts, &st.UsedPosts, &st.TotalCost, &st.TotalTokens, &lastPostAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan posts: %w", err)
	}
	st.RemainingPosts = st.TotalPosts - st.UsedPosts
	if lastPostAt.Valid {
		st.LastPostAt = fromMillis(lastPostAt.Int64)
	}

	var lastReplenish sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT last_replenishment_at FROM bot_stats WHERE bot_id = ?`, botID,
	).Scan(&lastReplenish)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read existing stats: %w", err)
	}
	if lastReplenish.Valid {
		st.LastReplenishmentAt = fromMillis(lastReplenish.Int64)
	}

	now := time.Now().UTC()
	st.UpdatedAt = now
	_, err = tx.ExecContext(ctx, `
		INSERT INTO bot_stats (bot_id, total_posts, used_posts, remaining_posts,
			total_cost, total_tokens, last_post_at, last_replenishment_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(bot_id) DO UPDATE SET
			total_posts = excluded.total_posts,
			used_posts = excluded.used_posts,
			remaining_posts = excluded.remaining_posts,
			total_cost = excluded.total_cost,
			total_tokens = excluded.total_tokens,
			last_post_at = excluded.last_post_at,
			last_replenishment_at = excluded.last_replenishment_at,
			updated_at = excluded.updated_at
	`, botID, st.TotalPosts, st.UsedPosts, st.RemainingPosts,
		st.TotalCost, st.TotalTokens, nullMillis(st.LastPostAt),
		nullMillis(st.LastReplenishmentAt), toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("failed to rewrite bot stats: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit stats recompute: %w", err)
	}
	return &st, nil
}

func scanStats(row rowScanner) (*BotStats, error) {
	var st BotStats
	var lastPostAt, lastReplenishAt sql.NullInt64
	var updatedAt int64

	err := row.Scan(
		&st.BotID, &st.TotalPosts, &st.UsedPosts, &st.RemainingPosts,
		&st.TotalCost, &st.TotalTokens, &lastPostAt, &lastReplenishAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastPostAt.Valid {
		st.LastPostAt = fromMillis(lastPostAt.Int64)
	}
	if lastReplenishAt.Valid {
		st.LastReplenishmentAt = fromMillis(lastReplenishAt.Int64)
	}
	st.UpdatedAt = fromMillis(updatedAt)
	return &st, nil
}

func nullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(t), Valid: true}
}
