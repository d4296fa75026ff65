package scanner

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/dl-alexandre/ocsync/internal/sync/exclude"
	"github.com/dl-alexandre/ocsync/internal/sync/index"
	"github.com/spf13/afero"
)

// ScanLocal walks root and returns every entry keyed by slash separated
// relative path. Entries that cannot be examined are kept with StatErr set
// instead of failing the scan; only a failure on root itself is returned.
func ScanLocal(ctx context.Context, fs afero.Fs, root string, matcher *exclude.Matcher, prev map[string]index.SyncEntry) (map[string]LocalEntry, error) {
	entries := make(map[string]LocalEntry)

	err := afero.Walk(fs, root, func(current string, info os.FileInfo, walkErr error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(root, current)
		if err != nil {
			return err
		}
		if rel == "." {
			return walkErr
		}
		rel = path.Clean(filepath.ToSlash(rel))

		if walkErr != nil {
			entry := entries[rel]
			entry.RelativePath = rel
			entry.AbsPath = current
			entry.StatErr = walkErr
			if info != nil {
				entry.IsDir = info.IsDir()
			}
			entries[rel] = entry
			return nil
		}

		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}

		if matcher != nil && matcher.IsExcluded(rel, info.IsDir()) {
			entries[rel] = LocalEntry{
				RelativePath: rel,
				AbsPath:      current,
				IsDir:        info.IsDir(),
				Excluded:     true,
			}
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if info.Mode().IsRegular() {
			entry := LocalEntry{
				RelativePath: rel,
				AbsPath:      current,
				IsDir:        false,
				Size:         info.Size(),
				ModTime:      info.ModTime().Unix(),
			}
			prevEntry, ok := prev[rel]
			if ok && prevEntry.LocalSize == info.Size() && prevEntry.LocalMTime == info.ModTime().Unix() && prevEntry.ContentHash != "" {
				entry.Hash = prevEntry.ContentHash
			} else if entry.Hash, err = hashFile(fs, current); err != nil {
				entry.StatErr = err
			}
			entries[rel] = entry
			return nil
		}

		if info.IsDir() {
			entries[rel] = LocalEntry{
				RelativePath: rel,
				AbsPath:      current,
				IsDir:        true,
				ModTime:      info.ModTime().Unix(),
			}
			return nil
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// HashBytes returns the content hash used for rename detection.
func HashBytes(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func hashFile(fs afero.Fs, name string) (hash string, err error) {
	f, err := fs.Open(name)
	if err != nil {
		return "", err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
