package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"warelay/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS delivery_journal (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id TEXT NOT NULL,
	client_name TEXT NOT NULL,
	status TEXT NOT NULL,
	attempts INTEGER NOT NULL,
	error_class TEXT,
	error TEXT,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_delivery_journal_created_at ON delivery_journal(created_at);
CREATE INDEX IF NOT EXISTS idx_delivery_journal_chat_id ON delivery_journal(chat_id);
`

// Database is the delivery journal backing store. The journal is
// diagnostics-only: losing it never affects message flow.
type Database struct {
	db *sql.DB
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Database{db: db}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// RecordDelivery appends one send outcome to the journal
func (d *Database) RecordDelivery(ctx context.Context, rec models.DeliveryRecord) error {
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, `
			INSERT INTO delivery_journal (chat_id, client_name, status, attempts, error_class, error)
			VALUES (?, ?, ?, ?, ?, ?)`,
			rec.ChatID, rec.ClientName, rec.Status, rec.Attempts,
			nullIfEmpty(rec.ErrorClass), nullIfEmpty(rec.Error),
		)
		return err
	}, "record delivery")
}

// JournalEntry is a stored delivery record with its persistence metadata
type JournalEntry struct {
	ID        int64
	CreatedAt time.Time
	models.DeliveryRecord
}

// RecentDeliveries returns the newest journal entries, most recent first
func (d *Database) RecentDeliveries(ctx context.Context, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	return retryableDBOperation(ctx, func() ([]JournalEntry, error) {
		rows, err := d.db.QueryContext(ctx, `
			SELECT id, chat_id, client_name, status, attempts, error_class, error, created_at
			FROM delivery_journal
			ORDER BY id DESC
			LIMIT ?`, limit)
		if err != nil {
			return nil, err
		}
		defer func() {
			_ = rows.Close()
		}()

		var entries []JournalEntry
		for rows.Next() {
			var entry JournalEntry
			var errorClass, errorText sql.NullString
			if err := rows.Scan(&entry.ID, &entry.ChatID, &entry.ClientName, &entry.Status,
				&entry.Attempts, &errorClass, &errorText, &entry.CreatedAt); err != nil {
				return nil, err
			}
			entry.ErrorClass = errorClass.String
			entry.Error = errorText.String
			entries = append(entries, entry)
		}
		return entries, rows.Err()
	}, "query recent deliveries")
}

// CleanupOldRecords removes journal entries older than the retention window
func (d *Database) CleanupOldRecords(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be positive, got %d", retentionDays)
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	return retryableDBOperation(ctx, func() (int64, error) {
		res, err := d.db.ExecContext(ctx,
			`DELETE FROM delivery_journal WHERE created_at < ?`, cutoff)
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	}, "cleanup old records")
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
