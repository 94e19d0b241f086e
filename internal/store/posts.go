package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ibeckermayer/dripfeed/internal/expander"
)

// postColumns is the column list shared by every post SELECT.
const postColumns = `id, bot_id, category, content, fingerprint, used, used_at,
	external_ref, generation_cost, generation_tokens, generation_model,
	created_at, updated_at`

// InsertBatch inserts the given posts for botID inside a single
// transaction. The store assigns ids and computes fingerprints; rows whose
// fingerprint collides with an existing row (or an earlier row in the same
// batch) are counted as skipped duplicates, never as errors. The cached
// bot_stats row is bumped in the same transaction.
func (s *Store) InsertBatch(ctx context.Context, botID string, posts []Post) (InsertResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return InsertResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var res InsertResult
	var batchCost float64
	var batchTokens int

	for _, p := range posts {
		content := strings.TrimSpace(p.Content)
		if content == "" {
			continue
		}
		fp := expander.Fingerprint(content)

		_, err := tx.ExecContext(ctx, `
			INSERT INTO posts (id, bot_id, category, content, fingerprint,
				used, generation_cost, generation_tokens, generation_model,
				created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?)
		`, newID(), botID, nullString(p.Category), content, fp,
			p.GenerationCost, p.GenerationTokens, nullString(p.GenerationModel),
			toMillis(now), toMillis(now))
		if err != nil {
			if isUniqueConstraintError(err) {
				res.SkippedDuplicates++
				continue
			}
			return InsertResult{}, fmt.Errorf("failed to insert post: %w", err)
		}

		res.Inserted++
		batchCost += p.GenerationCost
		batchTokens += p.GenerationTokens
	}

	if res.Inserted > 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO bot_stats (bot_id, total_posts, used_posts, remaining_posts,
				total_cost, total_tokens, updated_at)
			VALUES (?, ?, 0, ?, ?, ?, ?)
			ON CONFLICT(bot_id) DO UPDATE SET
				total_posts = total_posts + excluded.total_posts,
				remaining_posts = remaining_posts + excluded.remaining_posts,
				total_cost = total_cost + excluded.total_cost,
				total_tokens = total_tokens + excluded.total_tokens,
				updated_at = excluded.updated_at
		`, botID, res.Inserted, res.Inserted, batchCost, batchTokens, toMillis(now))
		if err != nil {
			return InsertResult{}, fmt.Errorf("failed to update bot stats: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return InsertResult{}, fmt.Errorf("failed to commit batch: %w", err)
	}
	return res, nil
}

// NextUnused returns the oldest unused post for botID, or nil when the pool
// is empty. Ties on created_at break by id ascending, which for ULIDs is
// also creation order.
func (s *Store) NextUnused(ctx context.Context, botID string) (*Post, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+postColumns+`
		FROM posts
		WHERE bot_id = ? AND used = 0
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`, botID)

	p, err := scanPost(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch next unused post: %w", err)
	}
	return p, nil
}

// MarkUsed flips the post to used and records the external reference
// returned by the publish API. The mutation is idempotent: if the row is
// already used, belongs to another bot, or does not exist, MarkUsed is a
// no-op and the cached stats are left untouched.
func (s *Store) MarkUsed(ctx context.Context, botID, postID, externalRef string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
		UPDATE posts
		SET used = 1, used_at = ?, external_ref = ?, updated_at = ?
		WHERE id = ? AND bot_id = ? AND used = 0
	`, toMillis(now), nullString(externalRef), toMillis(now), postID, botID)
	if err != nil {
		return fmt.Errorf("failed to mark post used: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		// Already used, wrong bot, or gone. Idempotent no-op.
		return nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bot_stats (bot_id, total_posts, used_posts, remaining_posts,
			last_post_at, updated_at)
		VALUES (?, 0, 1, -1, ?, ?)
		ON CONFLICT(bot_id) DO UPDATE SET
			used_posts = used_posts + 1,
			remaining_posts = remaining_posts - 1,
			last_post_at = excluded.last_post_at,
			updated_at = excluded.updated_at
	`, botID, toMillis(now), toMillis(now))
	if err != nil {
		return fmt.Errorf("failed to update bot stats: %w", err)
	}

	return tx.Commit()
}

// Counts tallies posts for botID with a live scan. The cached bot_stats row
// exists for cheap reads; this is the authoritative recount.
func (s *Store) Counts(ctx context.Context, botID string) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(used), 0)
		FROM posts
		WHERE bot_id = ?
	`, botID).Scan(&c.Total, &c.Used)
	if err != nil {
		return Counts{}, fmt.Errorf("failed to count posts: %w", err)
	}
	c.Remaining = c.Total - c.Used
	return c, nil
}

// PurgeUsed deletes used posts older than the given age and returns how
// many rows were removed. The cached stats row is decremented in the same
// transaction so it stays consistent with a full scan.
func (s *Store) PurgeUsed(ctx context.Context, botID string, olderThan time.Duration) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cutoff := toMillis(time.Now().UTC().Add(-olderThan))

	var n int64
	var cost float64
	var tokens int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(generation_cost), 0), COALESCE(SUM(generation_tokens), 0)
		FROM posts
		WHERE bot_id = ? AND used = 1 AND used_at < ?
	`, botID, cutoff).Scan(&n, &cost, &tokens)
	if err != nil {
		return 0, fmt.Errorf("failed to count purgeable posts: %w", err)
	}
	if n == 0 {
		return 0, tx.Commit()
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM posts
		WHERE bot_id = ? AND used = 1 AND used_at < ?
	`, botID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge posts: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE bot_stats SET
			total_posts = total_posts - ?,
			used_posts = used_posts - ?,
			total_cost = total_cost - ?,
			total_tokens = total_tokens - ?,
			updated_at = ?
		WHERE bot_id = ?
	`, n, n, cost, tokens, toMillis(time.Now().UTC()), botID)
	if err != nil {
		return 0, fmt.Errorf("failed to update bot stats: %w", err)
	}

	return n, tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*Post, error) {
	var p Post
	var category, externalRef, genModel sql.NullString
	var usedAt sql.NullInt64
	var used int
	var createdAt, updatedAt int64

	err := row.Scan(
		&p.ID, &p.BotID, &category, &p.Content, &p.Fingerprint, &used, &usedAt,
		&externalRef, &p.GenerationCost, &p.GenerationTokens, &genModel,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Category = category.String
	p.ExternalRef = externalRef.String
	p.GenerationModel = genModel.String
	p.Used = used != 0
	if usedAt.Valid {
		p.UsedAt = fromMillis(usedAt.Int64)
	}
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return &p, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
