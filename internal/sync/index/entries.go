package index

import (
	"context"
)

const entryColumns = `config_id, relative_path, is_dir, local_mtime, local_size, content_hash,
		       remote_mtime, remote_size, remote_etag, sync_state, last_sync`

func (d *DB) ListEntries(ctx context.Context, configID string) (entries []SyncEntry, err error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM sync_entries WHERE config_id = ?
		ORDER BY relative_path
	`, configID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// ReplaceEntries rewrites the journal of configID in one transaction.
func (d *DB) ReplaceEntries(ctx context.Context, configID string, entries []SyncEntry) (err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `DELETE FROM sync_entries WHERE config_id = ?`, configID)
	if err != nil {
		_ = tx.Rollback()
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sync_entries (
			config_id, relative_path, is_dir, local_mtime, local_size, content_hash,
			remote_mtime, remote_size, remote_etag, sync_state, last_sync
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer func() {
		if closeErr := stmt.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for _, entry := range entries {
		_, err := stmt.ExecContext(ctx, configID, entry.RelativePath, boolToInt(entry.IsDir),
			entry.LocalMTime, entry.LocalSize, entry.ContentHash, entry.RemoteMTime, entry.RemoteSize, entry.RemoteETag, entry.SyncState, entry.LastSync)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func scanEntry(scanner interface {
	Scan(dest ...interface{}) error
}) (SyncEntry, error) {
	var entry SyncEntry
	var isDir int
	err := scanner.Scan(&entry.ConfigID, &entry.RelativePath, &isDir, &entry.LocalMTime, &entry.LocalSize, &entry.ContentHash,
		&entry.RemoteMTime, &entry.RemoteSize, &entry.RemoteETag, &entry.SyncState, &entry.LastSync)
	if err != nil {
		return SyncEntry{}, err
	}
	entry.IsDir = isDir != 0
	return entry, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
