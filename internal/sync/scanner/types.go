package scanner

type LocalEntry struct {
	RelativePath string
	AbsPath      string
	IsDir        bool
	Size         int64
	ModTime      int64
	Hash         string
	// Excluded entries matched the exclude list. Excluded directories are
	// not descended into.
	Excluded bool
	// StatErr is set when the entry was seen but could not be examined.
	StatErr error
}

type RemoteEntry struct {
	RelativePath string
	IsDir        bool
	Size         int64
	ModifiedTime int64
	ETag         string
}
