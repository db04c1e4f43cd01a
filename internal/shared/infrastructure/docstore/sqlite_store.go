package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// SQLiteStore is the durable local store: every collection lives in one
// SQLite file, one row per record.
type SQLiteStore struct {
	db    *sql.DB
	locks keyedMutex
}

// NewSQLiteStore creates a store over an open, migrated SQLite database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Name returns the backend name.
func (s *SQLiteStore) Name() string {
	return "sqlite"
}

// ReadCollection returns the last fully written state of the collection.
func (s *SQLiteStore) ReadCollection(ctx context.Context, collection string) ([]Record, error) {
	query := `SELECT body FROM collection_records WHERE collection = ? ORDER BY position`

	rows, err := s.db.QueryContext(ctx, query, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		var rec Record
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read collection: %w", err)
	}

	return records, nil
}

// WriteCollection replaces the collection. Writers to the same collection
// are serialized.
func (s *SQLiteStore) WriteCollection(ctx context.Context, collection string, records []Record) error {
	if err := validateRecords(records); err != nil {
		return err
	}

	unlock := s.locks.lock(collection)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM collection_records WHERE collection = ?`, collection); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to clear collection: %w", err)
	}

	insert := `INSERT INTO collection_records (collection, id, position, body) VALUES (?, ?, ?, ?)`
	for i, rec := range records {
		body, err := json.Marshal(rec)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to encode record %s: %w", rec.ID(), err)
		}
		if _, err := tx.ExecContext(ctx, insert, collection, rec.ID(), i, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert record %s: %w", rec.ID(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping checks the database file is usable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
