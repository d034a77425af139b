package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/xharvest/bookmarks/seed"
	"github.com/hazyhaar/xharvest/dbopen"
)

// RetryJob is a failed item waiting for another attempt.
type RetryJob struct {
	Item      seed.Item
	LastError string
	Attempts  int // claims so far, this one included
	CreatedAt time.Time
}

// Enqueue records a failed item for a later attempt. Enqueueing an item
// already queued only updates its last error, leaving its visibility and
// attempt count alone.
func (s *Store) Enqueue(ctx context.Context, item seed.Item, lastErr string) error {
	raw, err := seed.MarshalItem(&item)
	if err != nil {
		return fmt.Errorf("store: enqueue: %w", err)
	}
	now := s.now().UnixMilli()
	_, err = dbopen.Exec(ctx, s.DB, `
		INSERT INTO retry_queue (source, source_id, item, last_error, visible_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (source, source_id) DO UPDATE SET last_error = excluded.last_error`,
		string(s.Source), item.SourceID, string(raw), lastErr, now, now)
	if err != nil {
		return fmt.Errorf("store: enqueue: %w", err)
	}
	return nil
}

// Claim takes up to n visible jobs, oldest first, and hides them for
// visibility. A job neither acked nor saved becomes visible again after
// that, so a crashed run loses nothing.
func (s *Store) Claim(ctx context.Context, n int, visibility time.Duration) ([]RetryJob, error) {
	now := s.now()
	rows, err := s.DB.QueryContext(ctx, `
		UPDATE retry_queue
		SET visible_at = ?, attempts = attempts + 1
		WHERE source = ? AND source_id IN (
			SELECT source_id FROM retry_queue
			WHERE source = ? AND visible_at <= ?
			ORDER BY visible_at ASC, created_at ASC
			LIMIT ?
		)
		RETURNING item, last_error, attempts, created_at`,
		now.Add(visibility).UnixMilli(), string(s.Source), string(s.Source), now.UnixMilli(), n)
	if err != nil {
		return nil, fmt.Errorf("store: claim: %w", err)
	}
	defer rows.Close()

	jobs := []RetryJob{}
	for rows.Next() {
		var (
			j       RetryJob
			raw     string
			lastErr *string
			created int64
		)
		if err := rows.Scan(&raw, &lastErr, &j.Attempts, &created); err != nil {
			return nil, fmt.Errorf("store: claim: %w", err)
		}
		it, err := seed.UnmarshalItem([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("store: claim: item: %w", err)
		}
		j.Item = *it
		if lastErr != nil {
			j.LastError = *lastErr
		}
		j.CreatedAt = time.UnixMilli(created)
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: claim: %w", err)
	}
	return jobs, nil
}

// Ack removes a job from the queue.
func (s *Store) Ack(ctx context.Context, sourceID string) error {
	_, err := dbopen.Exec(ctx, s.DB, `
		DELETE FROM retry_queue WHERE source = ? AND source_id = ?`,
		string(s.Source), sourceID)
	if err != nil {
		return fmt.Errorf("store: ack: %w", err)
	}
	return nil
}

// Release returns claimed jobs that were never attempted, such as when
// the browser went away before reaching them. They become visible at once
// and the claim is not counted as an attempt.
func (s *Store) Release(ctx context.Context, sourceIDs ...string) error {
	if len(sourceIDs) == 0 {
		return nil
	}
	now := s.now().UnixMilli()
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		for _, id := range sourceIDs {
			if _, err := tx.ExecContext(ctx, `
				UPDATE retry_queue
				SET visible_at = ?, attempts = MAX(attempts - 1, 0)
				WHERE source = ? AND source_id = ?`,
				now, string(s.Source), id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: release: %w", err)
	}
	return nil
}

// RetryLen counts queued jobs, visible or not.
func (s *Store) RetryLen(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM retry_queue WHERE source = ?`, string(s.Source)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: retry len: %w", err)
	}
	return n, nil
}
