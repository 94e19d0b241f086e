package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RecordAttempt appends one publish attempt to the log. The log is
// append-only; rows are never updated or deleted in normal operation.
func (s *Store) RecordAttempt(ctx context.Context, a Attempt) error {
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO post_logs (bot_id, post_id, attempt_number, success,
			tweet_id, error_message, response_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.BotID, nullString(a.PostID), a.AttemptNumber, boolToInt(a.Success),
		nullString(a.TweetID), nullString(a.ErrorMessage), a.ResponseTimeMs,
		toMillis(created))
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

// RecentAttempts returns up to limit attempts for botID, newest first.
func (s *Store) RecentAttempts(ctx context.Context, botID string, limit int) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bot_id, post_id, attempt_number, success,
			tweet_id, error_message, response_time_ms, created_at
		FROM post_logs
		WHERE bot_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var a Attempt
		var postID, tweetID, errMsg sql.NullString
		var success int
		var createdAt int64

		err := rows.Scan(&a.ID, &a.BotID, &postID, &a.AttemptNumber, &success,
			&tweetID, &errMsg, &a.ResponseTimeMs, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}

		a.PostID = postID.String
		a.TweetID = tweetID.String
		a.ErrorMessage = errMsg.String
		a.Success = success != 0
		a.CreatedAt = fromMillis(createdAt)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// AttemptCount returns the number of logged attempts for a post.
func (s *Store) AttemptCount(ctx context.Context, botID, postID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM post_logs WHERE bot_id = ? AND post_id = ?
	`, botID, postID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count attempts: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
