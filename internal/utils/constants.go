package utils

// Schema version of the JSON output envelope
const SchemaVersion = "1.0"

// Server paths, relative to the configured base URL
const (
	StatusPath = "status.php"
	WebDAVPath = "remote.php/webdav/"
)

// URL schemes understood by the sync engine
const (
	SchemePlain  = "owncloud"
	SchemeSecure = "ownclouds"
)

// Sync scheduling defaults
const (
	DefaultPollIntervalMs = 2000
	DefaultFullSyncEvery  = 10
	DefaultMaxTimeSkewSec = 10
	DefaultConcurrency    = 4
)

// Files the engine keeps inside a synced folder
const (
	JournalFileName = ".ocsync_journal.db"
	LockFileName    = ".ocsync.lock"
	ConflictMarker  = "_conflict-"
)

// MinimumServerVersion is the oldest server release ocsync talks to.
const MinimumServerVersion = "4.0.0"

// Content types for WebDAV request bodies
const (
	ContentTypeXML    = "text/xml; charset=utf-8"
	ContentTypeBinary = "application/octet-stream"
)

// Retry settings for the synchronous WebDAV helpers
const (
	DefaultMaxRetries   = 3
	DefaultRetryDelayMs = 500
	MaxRetryDelayMs     = 16000
)
