package index

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

type DB struct {
	db *sql.DB
}

// Open opens or creates the journal database at path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	instance := &DB{db: db}
	if err := instance.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return instance, nil
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, schemaSQL)
	return err
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sync_configs (
	id TEXT PRIMARY KEY,
	local_root TEXT NOT NULL,
	remote_root TEXT NOT NULL,
	exclude_patterns TEXT,
	conflict_copies INTEGER NOT NULL DEFAULT 0,
	last_sync_time INTEGER
);

CREATE TABLE IF NOT EXISTS sync_entries (
	config_id TEXT NOT NULL,
	relative_path TEXT NOT NULL,
	is_dir INTEGER NOT NULL DEFAULT 0,
	local_mtime INTEGER,
	local_size INTEGER,
	content_hash TEXT,
	remote_mtime INTEGER,
	remote_size INTEGER,
	remote_etag TEXT,
	sync_state TEXT,
	last_sync INTEGER,
	PRIMARY KEY (config_id, relative_path),
	FOREIGN KEY (config_id) REFERENCES sync_configs(id)
);

CREATE INDEX IF NOT EXISTS idx_content_hash ON sync_entries(config_id, content_hash);
CREATE INDEX IF NOT EXISTS idx_remote_etag ON sync_entries(config_id, remote_etag);
`
