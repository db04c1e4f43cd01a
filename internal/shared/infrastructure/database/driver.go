package database

import "strings"

// Driver represents a database backend type.
type Driver string

const (
	// DriverPostgres is the primary remote store backend.
	DriverPostgres Driver = "postgres"
	// DriverSQLite is the durable local store backend.
	DriverSQLite Driver = "sqlite"
)

// String returns the string representation of the driver.
func (d Driver) String() string {
	return string(d)
}

// DetectDriver parses a connection string and returns the driver type.
// Empty URLs select SQLite so the service can run on its local store alone.
func DetectDriver(url string) Driver {
	if url == "" {
		return DriverSQLite
	}

	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return DriverPostgres
	}

	if strings.HasPrefix(url, "sqlite://") ||
		strings.HasPrefix(url, "file:") ||
		strings.HasSuffix(url, ".db") ||
		strings.HasSuffix(url, ".sqlite") ||
		strings.HasSuffix(url, ".sqlite3") {
		return DriverSQLite
	}

	// Key/value DSNs ("host=... dbname=...") are Postgres.
	return DriverPostgres
}
