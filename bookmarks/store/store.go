// Package store is a reference SQLite dedup store for the bookmark
// ingestion core. It records which source ids were processed and keeps the
// extracted Seeds, one row per (source, source_id).
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/xharvest/bookmarks/seed"
	"github.com/hazyhaar/xharvest/dbopen"
)

// Schema is the store DDL.
const Schema = `
CREATE TABLE IF NOT EXISTS seen (
	source       TEXT NOT NULL,
	source_id    TEXT NOT NULL,
	processed_at INTEGER NOT NULL,
	PRIMARY KEY (source, source_id)
);

CREATE TABLE IF NOT EXISTS seeds (
	source       TEXT NOT NULL,
	source_id    TEXT NOT NULL,
	url          TEXT NOT NULL,
	author       TEXT,
	content      TEXT NOT NULL,
	is_thread    INTEGER NOT NULL DEFAULT 0,
	has_images   INTEGER NOT NULL DEFAULT 0,
	metadata     TEXT,
	extracted_at INTEGER NOT NULL,
	created_at   INTEGER NOT NULL,
	PRIMARY KEY (source, source_id)
);

CREATE INDEX IF NOT EXISTS idx_seeds_created_at ON seeds(created_at);

CREATE TABLE IF NOT EXISTS retry_queue (
	source     TEXT NOT NULL,
	source_id  TEXT NOT NULL,
	item       TEXT NOT NULL,
	last_error TEXT,
	visible_at INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	attempts   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (source, source_id)
);

CREATE INDEX IF NOT EXISTS idx_retry_visible ON retry_queue(source, visible_at);
`

// Store wraps the database. Source scopes IsProcessed and MarkProcessed.
type Store struct {
	DB     *sql.DB
	Source seed.Source
	now    func() time.Time
}

// Open opens (or creates) the store at path.
func Open(path string) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return New(db), nil
}

// New wraps an already-migrated database.
func New(db *sql.DB) *Store {
	return &Store{DB: db, Source: seed.SourceXBookmarks, now: time.Now}
}

// Close closes the database.
func (s *Store) Close() error { return s.DB.Close() }

// IsProcessed reports whether sourceID was marked processed or saved.
func (s *Store) IsProcessed(ctx context.Context, sourceID string) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM seen WHERE source = ? AND source_id = ?`,
		string(s.Source), sourceID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: is processed: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed records sourceID. Marking twice keeps the first time.
func (s *Store) MarkProcessed(ctx context.Context, sourceID string) error {
	_, err := dbopen.Exec(ctx, s.DB, `
		INSERT OR IGNORE INTO seen (source, source_id, processed_at) VALUES (?, ?, ?)`,
		string(s.Source), sourceID, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: mark processed: %w", err)
	}
	return nil
}

// SaveSeed inserts sd, marks it processed and drops it from the retry
// queue in one transaction. It returns false when a seed with the same
// source and id already exists.
func (s *Store) SaveSeed(ctx context.Context, sd seed.Seed) (bool, error) {
	content, err := json.Marshal(sd.Content)
	if err != nil {
		return false, fmt.Errorf("store: save seed: %w", err)
	}
	var meta []byte
	if len(sd.Metadata) > 0 {
		if meta, err = json.Marshal(sd.Metadata); err != nil {
			return false, fmt.Errorf("store: save seed: %w", err)
		}
	}
	now := s.now().UnixMilli()

	var inserted bool
	err = dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO seeds
				(source, source_id, url, author, content, is_thread, has_images,
				 metadata, extracted_at, created_at)
			VALUES (?,?,?,?,?,?,?,?,?,?)`,
			string(sd.Source), sd.SourceID, sd.URL, sd.Author, string(content),
			sd.IsThread, sd.HasImages, nullString(meta), sd.ExtractedAt.UnixMilli(), now)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = n > 0
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO seen (source, source_id, processed_at) VALUES (?, ?, ?)`,
			string(sd.Source), sd.SourceID, now); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			DELETE FROM retry_queue WHERE source = ? AND source_id = ?`,
			string(sd.Source), sd.SourceID)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("store: save seed: %w", err)
	}
	return inserted, nil
}

// GetSeed returns the stored seed, or nil when absent.
func (s *Store) GetSeed(ctx context.Context, source seed.Source, sourceID string) (*seed.Seed, error) {
	var (
		sd          seed.Seed
		src         string
		author      sql.NullString
		content     string
		meta        sql.NullString
		extractedAt int64
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT source, source_id, url, author, content, is_thread, has_images,
		       metadata, extracted_at
		FROM seeds WHERE source = ? AND source_id = ?`, string(source), sourceID).Scan(
		&src, &sd.SourceID, &sd.URL, &author, &content, &sd.IsThread, &sd.HasImages,
		&meta, &extractedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get seed: %w", err)
	}
	sd.Source = seed.Source(src)
	sd.Author = author.String
	sd.ExtractedAt = time.UnixMilli(extractedAt).UTC()
	if err := json.Unmarshal([]byte(content), &sd.Content); err != nil {
		return nil, fmt.Errorf("store: get seed: content: %w", err)
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &sd.Metadata); err != nil {
			return nil, fmt.Errorf("store: get seed: metadata: %w", err)
		}
	}
	return &sd, nil
}

// Counts reports stored seeds and processed ids for the store's source.
func (s *Store) Counts(ctx context.Context) (seeds, seen int, err error) {
	err = s.DB.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM seeds WHERE source = ?),
		       (SELECT COUNT(*) FROM seen WHERE source = ?)`,
		string(s.Source), string(s.Source)).Scan(&seeds, &seen)
	if err != nil {
		return 0, 0, fmt.Errorf("store: counts: %w", err)
	}
	return seeds, seen, nil
}

func nullString(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
