package index

// SyncConfig records which target a journal belongs to.
type SyncConfig struct {
	ID              string
	LocalRoot       string
	RemoteRoot      string
	ExcludePatterns []string
	ConflictCopies  bool
	LastSyncTime    int64
}

// SyncEntry is the state of one path after the last successful propagation.
type SyncEntry struct {
	ConfigID     string
	RelativePath string
	IsDir        bool
	LocalMTime   int64
	LocalSize    int64
	ContentHash  string
	RemoteMTime  int64
	RemoteSize   int64
	RemoteETag   string
	SyncState    string
	LastSync     int64
}
