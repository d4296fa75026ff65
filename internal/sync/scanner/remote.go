package scanner

import (
	"context"
	"strings"

	"github.com/dl-alexandre/ocsync/internal/api"
	"github.com/dl-alexandre/ocsync/internal/sync/exclude"
)

// Lister lists one remote collection. *api.Client implements it.
type Lister interface {
	Propfind(ctx context.Context, dir string) ([]api.Resource, error)
}

type RemoteScanner struct {
	client  Lister
	matcher *exclude.Matcher
}

func NewRemoteScanner(client Lister, matcher *exclude.Matcher) *RemoteScanner {
	return &RemoteScanner{
		client:  client,
		matcher: matcher,
	}
}

// ListTree walks the remote tree below root breadth first. Keys are
// relative to root. Excluded entries are left out.
func (s *RemoteScanner) ListTree(ctx context.Context, root string) (map[string]RemoteEntry, error) {
	root = strings.Trim(root, "/")
	entries := make(map[string]RemoteEntry)
	queue := []string{root}

	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		children, err := s.client.Propfind(ctx, dir)
		if err != nil {
			return nil, err
		}

		for _, child := range children {
			if child.Path == dir {
				continue
			}
			rel := relativeTo(root, child.Path)
			if rel == "" {
				continue
			}
			if s.matcher.IsExcluded(rel, child.IsDir) {
				continue
			}
			entry := RemoteEntry{
				RelativePath: rel,
				IsDir:        child.IsDir,
				Size:         child.Size,
				ETag:         child.ETag,
			}
			if !child.ModTime.IsZero() {
				entry.ModifiedTime = child.ModTime.Unix()
			}
			entries[rel] = entry
			if entry.IsDir {
				queue = append(queue, child.Path)
			}
		}
	}

	return entries, nil
}

func relativeTo(root, p string) string {
	p = strings.Trim(p, "/")
	if root == "" {
		return p
	}
	if p == root {
		return ""
	}
	return strings.TrimPrefix(p, root+"/")
}
