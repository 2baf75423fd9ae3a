// Package store persists the extraction log in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"docbot/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.ExtractionLog using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) RecordExtraction(ctx context.Context, rec domain.ExtractionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO extractions (event_id, channel, chat_id, sender_id, file_name, mime_type, size,
		                          pages, chars, status, error_kind, error, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.EventID, rec.Channel, rec.ChatID, rec.SenderID, rec.FileName, rec.MimeType, rec.Size,
		rec.Pages, rec.Chars, string(rec.Status), string(rec.ErrorKind), rec.Error, rec.LatencyMs, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record extraction: %w", err)
	}
	return nil
}

// CountExtractions counts a sender's extraction attempts since the given time.
func (s *SQLiteStore) CountExtractions(ctx context.Context, senderID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM extractions WHERE sender_id = ? AND created_at >= ?`,
		senderID, since.UTC(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count extractions: %w", err)
	}
	return n, nil
}

// RecentExtractions returns a sender's latest records, newest first.
// An empty senderID returns records for everyone.
func (s *SQLiteStore) RecentExtractions(ctx context.Context, senderID string, limit int) ([]domain.ExtractionRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, channel, chat_id, sender_id, file_name, mime_type, size,
		        pages, chars, status, error_kind, error, latency_ms, created_at
		 FROM extractions
		 WHERE (? = '' OR sender_id = ?)
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		senderID, senderID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query extractions: %w", err)
	}
	defer rows.Close()

	var recs []domain.ExtractionRecord
	for rows.Next() {
		var r domain.ExtractionRecord
		var status, kind string
		if err := rows.Scan(&r.ID, &r.EventID, &r.Channel, &r.ChatID, &r.SenderID, &r.FileName, &r.MimeType,
			&r.Size, &r.Pages, &r.Chars, &status, &kind, &r.Error, &r.LatencyMs, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Status = domain.ExtractionStatus(status)
		r.ErrorKind = domain.FailureKind(kind)
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func (s *SQLiteStore) RecordReplyFailure(ctx context.Context, f domain.ReplyFailure) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reply_failures (event_id, channel, chat_id, error, created_at) VALUES (?, ?, ?, ?, ?)`,
		f.EventID, f.Channel, f.ChatID, f.Error, f.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record reply failure: %w", err)
	}
	return nil
}

// CountReplyFailures counts undelivered replies since the given time.
func (s *SQLiteStore) CountReplyFailures(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reply_failures WHERE created_at >= ?`, since.UTC(),
	).Scan(&n)
	return n, err
}

// Prune deletes log rows older than the cutoff and returns how many were removed.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for _, table := range []string{"extractions", "reply_failures"} {
		res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE created_at < ?`, before.UTC())
		if err != nil {
			return total, fmt.Errorf("prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if total > 0 {
		s.logger.Info("extraction log pruned", "rows", total, "before", before)
	}
	return total, nil
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
