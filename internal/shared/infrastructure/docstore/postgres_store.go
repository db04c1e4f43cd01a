package docstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// PgxPool is the subset of *pgxpool.Pool the Postgres store uses.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore keeps collections as JSONB rows of the documents table.
type PostgresStore struct {
	pool PgxPool
}

// NewPostgresStore creates a Postgres-backed store.
func NewPostgresStore(pool PgxPool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Name returns the backend name.
func (s *PostgresStore) Name() string {
	return "postgres"
}

// ReadCollection returns the collection's documents in position order.
func (s *PostgresStore) ReadCollection(ctx context.Context, collection string) ([]Record, error) {
	query := `SELECT body FROM documents WHERE collection = $1 ORDER BY position`

	rows, err := s.pool.Query(ctx, query, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		var rec Record
		if err := json.Unmarshal(body, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read collection: %w", err)
	}

	return records, nil
}

// WriteCollection replaces the collection in a single transaction.
func (s *PostgresStore) WriteCollection(ctx context.Context, collection string, records []Record) error {
	if err := validateRecords(records); err != nil {
		return err
	}

	bodies := make([][]byte, len(records))
	for i, rec := range records {
		body, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode document %s: %w", rec.ID(), err)
		}
		bodies[i] = body
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE collection = $1`, collection); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("failed to clear collection: %w", err)
	}

	insert := `INSERT INTO documents (collection, id, position, body) VALUES ($1, $2, $3, $4)`
	for i, rec := range records {
		if _, err := tx.Exec(ctx, insert, collection, rec.ID(), i, bodies[i]); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("failed to insert document %s: %w", rec.ID(), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
