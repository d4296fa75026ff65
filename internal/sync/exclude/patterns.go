package exclude

import (
	"bufio"
	"bytes"
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dl-alexandre/ocsync/internal/utils"
	"github.com/spf13/afero"
)

type Matcher struct {
	patterns []string
}

// DefaultPatterns are always excluded, whatever the exclude file says.
func DefaultPatterns() []string {
	return []string{
		utils.JournalFileName,
		utils.JournalFileName + "-*",
		utils.LockFileName,
		".DS_Store",
		"._*",
		"Thumbs.db",
		"desktop.ini",
		".~lock.*#",
		"~$*",
		"*~",
		"*.part",
		".csync_journal.db*",
	}
}

func New(patterns []string) *Matcher {
	merged := append([]string{}, DefaultPatterns()...)
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		merged = append(merged, p)
	}
	return &Matcher{patterns: merged}
}

// LoadFile reads an exclude list: one pattern per line, blank lines and
// lines starting with # are skipped.
func LoadFile(fs afero.Fs, name string) ([]string, error) {
	data, err := afero.ReadFile(fs, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read exclude list: %w", err)
	}

	var patterns []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read exclude list: %w", err)
	}
	return patterns, nil
}

// Patterns returns the effective pattern list.
func (m *Matcher) Patterns() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.patterns...)
}

// IsExcluded matches relPath against every pattern. Patterns ending in "/"
// only match directories. Patterns without a slash match the base name at
// any depth; patterns with a slash match the whole relative path.
func (m *Matcher) IsExcluded(relPath string, isDir bool) bool {
	if m == nil {
		return false
	}
	relPath = strings.Trim(strings.TrimPrefix(relPath, "./"), "/")
	if relPath == "" {
		return false
	}
	base := path.Base(relPath)

	for _, p := range m.patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if strings.HasSuffix(p, "/") {
			if !isDir {
				continue
			}
			p = strings.TrimSuffix(p, "/")
		}
		p = strings.TrimPrefix(p, "/")

		if strings.Contains(p, "/") {
			if ok, _ := doublestar.Match(p, relPath); ok {
				return true
			}
			continue
		}
		if ok, _ := doublestar.Match(p, base); ok {
			return true
		}
	}
	return false
}
