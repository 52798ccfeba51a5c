package pypi

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration

	"github.com/brooklyn-data/dbtenv/internal/spec"
)

// DefaultCacheTTL is how long fetched package metadata stays fresh.
const DefaultCacheTTL = 24 * time.Hour

// Cache stores fetched PyPI release metadata in a local SQLite database so
// repeated resolutions and simulate-release-date lookups don't refetch it.
type Cache struct {
	db  *sql.DB
	ttl time.Duration
	mu  sync.Mutex
}

// OpenCache opens or creates the metadata cache at the given path.
func OpenCache(path string, ttl time.Duration) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{db: db, ttl: ttl}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS packages (
			name       TEXT PRIMARY KEY,
			fetched_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS releases (
			package     TEXT NOT NULL,
			version     TEXT NOT NULL,
			upload_date TEXT NOT NULL,
			PRIMARY KEY (package, version)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating cache tables: %w", err)
	}
	return nil
}

// Get returns the cached releases for a package if present and fresh.
func (c *Cache) Get(pkg string) ([]Release, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var fetchedAt string
	err := c.db.QueryRow(`SELECT fetched_at FROM packages WHERE name = ?`, pkg).Scan(&fetchedAt)
	if err != nil {
		return nil, false
	}
	fetched, err := time.Parse(time.RFC3339, fetchedAt)
	if err != nil || time.Since(fetched) > c.ttl {
		return nil, false
	}

	rows, err := c.db.Query(`SELECT version, upload_date FROM releases WHERE package = ?`, pkg)
	if err != nil {
		return nil, false
	}
	defer rows.Close()

	adapter := spec.NormalizeAdapter(strings.TrimPrefix(pkg, "dbt-"))
	var releases []Release
	for rows.Next() {
		var raw, uploadDate string
		if err := rows.Scan(&raw, &uploadDate); err != nil {
			return nil, false
		}
		version, err := spec.ParseVersion(raw)
		if err != nil {
			continue
		}
		releases = append(releases, Release{Adapter: adapter, Version: version, UploadDate: uploadDate})
	}
	if rows.Err() != nil {
		return nil, false
	}
	return releases, true
}

// Put replaces the cached releases for a package.
func (c *Cache) Put(pkg string, releases []Release) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM releases WHERE package = ?`, pkg); err != nil {
		return err
	}
	for _, release := range releases {
		if _, err := tx.Exec(
			`INSERT INTO releases (package, version, upload_date) VALUES (?, ?, ?)`,
			pkg, release.Version.String(), release.UploadDate,
		); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(
		`INSERT INTO packages (name, fetched_at) VALUES (?, ?)
		 ON CONFLICT (name) DO UPDATE SET fetched_at = excluded.fetched_at`,
		pkg, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// Close closes the cache database.
func (c *Cache) Close() error { return c.db.Close() }

// DefaultCachePath returns the cache location under the user's .dbt
// directory.
func DefaultCachePath(homeDir string) string {
	return filepath.Join(homeDir, ".dbt", "cache", "pypi.db")
}
