package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
)

func (d *DB) UpsertConfig(ctx context.Context, cfg SyncConfig) error {
	patterns, err := json.Marshal(cfg.ExcludePatterns)
	if err != nil {
		return err
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO sync_configs (
			id, local_root, remote_root, exclude_patterns, conflict_copies, last_sync_time
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			local_root=excluded.local_root,
			remote_root=excluded.remote_root,
			exclude_patterns=excluded.exclude_patterns,
			conflict_copies=excluded.conflict_copies,
			last_sync_time=excluded.last_sync_time
	`, cfg.ID, cfg.LocalRoot, cfg.RemoteRoot, string(patterns), boolToInt(cfg.ConflictCopies), cfg.LastSyncTime)
	return err
}

// GetConfig returns the config of id, or nil when the journal has never
// recorded a sync for it.
func (d *DB) GetConfig(ctx context.Context, id string) (*SyncConfig, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, local_root, remote_root, exclude_patterns, conflict_copies, last_sync_time
		FROM sync_configs WHERE id = ?
	`, id)

	var cfg SyncConfig
	var patterns sql.NullString
	var copies int
	var lastSync sql.NullInt64
	err := row.Scan(&cfg.ID, &cfg.LocalRoot, &cfg.RemoteRoot, &patterns, &copies, &lastSync)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if patterns.Valid && patterns.String != "" {
		_ = json.Unmarshal([]byte(patterns.String), &cfg.ExcludePatterns)
	}
	cfg.ConflictCopies = copies != 0
	cfg.LastSyncTime = lastSync.Int64
	return &cfg, nil
}
