package types

import (
	"fmt"
	"strings"
)

// ServiceStatus is the result of probing a server's status.php.
type ServiceStatus struct {
	URL       string `json:"url"`
	Found     bool   `json:"found"`
	Version   string `json:"version,omitempty"`
	Supported bool   `json:"supported"`
	Status    int    `json:"httpStatus,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (s *ServiceStatus) Headers() []string {
	return []string{"URL", "Found", "Version", "Supported"}
}

func (s *ServiceStatus) Rows() [][]string {
	version := s.Version
	if version == "" {
		version = "-"
	}
	return [][]string{{s.URL, fmt.Sprintf("%t", s.Found), version, fmt.Sprintf("%t", s.Supported)}}
}

func (s *ServiceStatus) EmptyMessage() string { return "No server found" }

// RemoteEntry is one row of a remote directory listing.
type RemoteEntry struct {
	Path     string `json:"path"`
	IsDir    bool   `json:"isDir"`
	Size     int64  `json:"size"`
	Modified string `json:"modified,omitempty"`
	ETag     string `json:"etag,omitempty"`
}

// RemoteListing renders a directory listing.
type RemoteListing struct {
	Path    string         `json:"path"`
	Entries []*RemoteEntry `json:"entries"`
}

func (l *RemoteListing) Headers() []string {
	return []string{"Path", "Type", "Size", "Modified"}
}

func (l *RemoteListing) Rows() [][]string {
	rows := make([][]string, 0, len(l.Entries))
	for _, e := range l.Entries {
		kind := "file"
		size := fmt.Sprintf("%d", e.Size)
		if e.IsDir {
			kind = "dir"
			size = "-"
		}
		rows = append(rows, []string{e.Path, kind, size, e.Modified})
	}
	return rows
}

func (l *RemoteListing) EmptyMessage() string {
	return fmt.Sprintf("%s is empty", l.Path)
}

// FolderRunReport summarizes one finished sync run for output.
type FolderRunReport struct {
	Alias    string   `json:"alias"`
	Mode     string   `json:"mode"`
	Status   string   `json:"status"`
	Seen     int      `json:"seenFiles"`
	Errors   []string `json:"errors"`
	Duration string   `json:"duration"`
}

// FolderRunReports renders a batch of runs.
type FolderRunReports []*FolderRunReport

func (r FolderRunReports) Headers() []string {
	return []string{"Folder", "Mode", "Status", "Seen", "Duration", "Errors"}
}

func (r FolderRunReports) Rows() [][]string {
	rows := make([][]string, 0, len(r))
	for _, rep := range r {
		rows = append(rows, []string{
			rep.Alias,
			rep.Mode,
			rep.Status,
			fmt.Sprintf("%d", rep.Seen),
			rep.Duration,
			strings.Join(rep.Errors, "; "),
		})
	}
	return rows
}

func (r FolderRunReports) EmptyMessage() string { return "No folders synced" }

// FolderDefinition is the printable form of a configured folder.
type FolderDefinition struct {
	Alias      string `json:"alias"`
	LocalPath  string `json:"localPath"`
	RemotePath string `json:"remotePath"`
	Connection string `json:"connection"`
}

type FolderDefinitions []*FolderDefinition

func (d FolderDefinitions) Headers() []string {
	return []string{"Alias", "Local", "Remote", "Connection"}
}

func (d FolderDefinitions) Rows() [][]string {
	rows := make([][]string, 0, len(d))
	for _, f := range d {
		rows = append(rows, []string{f.Alias, f.LocalPath, f.RemotePath, f.Connection})
	}
	return rows
}

func (d FolderDefinitions) EmptyMessage() string { return "No folders configured" }
