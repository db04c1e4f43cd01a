package database

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds connection settings for both backends.
type Config struct {
	// URL is the Postgres connection string of the primary store.
	URL string

	// MaxConns caps the Postgres pool size. Zero keeps the pgx default.
	MaxConns int

	// ConnectTimeout bounds establishing a new Postgres connection.
	ConnectTimeout time.Duration

	// SQLitePath is the local store database file.
	SQLitePath string
}

// EnsureDirectory creates the parent directory for a file path if it doesn't exist.
func EnsureDirectory(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
