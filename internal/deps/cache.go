package deps

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite"
)

const createArtifactsTable = `
CREATE TABLE IF NOT EXISTS artifacts (
    name       TEXT NOT NULL,
    version    TEXT NOT NULL,
    runtime    TEXT NOT NULL,
    path       TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    PRIMARY KEY (name, version, runtime)
)`

// Cache is a persistent index of resolved library artifacts, shared across
// sequential jobs on a worker and safe for concurrent readers. It is an
// explicit object with process-scoped lifetime, injected into the Resolver so
// tests can swap or clear it.
type Cache struct {
	db  *sql.DB
	dir string
}

// NewCache opens the cache index at dbPath; dir is the artifact directory the
// resolve tools materialize into.
func NewCache(dbPath, dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(createArtifactsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create artifacts table: %w", err)
	}

	return &Cache{db: db, dir: dir}, nil
}

// Dir returns the artifact directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Close closes the cache index.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get looks up the artifact for (name, version, runtime). Names are folded
// through NormalizeName on both sides of the index. An indexed path whose file
// has vanished from disk counts as a miss.
func (c *Cache) Get(ctx context.Context, name, version, runtime string) (string, bool, error) {
	var path string
	err := c.db.QueryRowContext(ctx,
		`SELECT path FROM artifacts WHERE name = ? AND version = ? AND runtime = ?`,
		NormalizeName(name), version, runtime,
	).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache lookup: %w", err)
	}

	if _, err := os.Stat(path); err != nil {
		return "", false, nil
	}
	return path, true, nil
}

// Put records an artifact under its normalized name, replacing any prior
// entry for the same key.
func (c *Cache) Put(ctx context.Context, art Artifact) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO artifacts (name, version, runtime, path, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (name, version, runtime) DO UPDATE SET path = excluded.path`,
		NormalizeName(art.Name), art.Version, art.Runtime, art.Path, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("cache insert: %w", err)
	}
	return nil
}
