package exclude

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsExcluded(t *testing.T) {
	m := New([]string{"build/", "*.o", "docs/**/*.tmp", "/cache", "  "})

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{".ocsync_journal.db", false, true},
		{".ocsync_journal.db-wal", false, true},
		{".ocsync.lock", false, true},
		{"sub/.DS_Store", false, true},
		{"notes.txt~", false, true},
		{"report.docx", false, false},
		{"build", true, true},
		{"build", false, false},
		{"src/build", true, true},
		{"src/main.o", false, true},
		{"docs/a/b/x.tmp", false, true},
		{"other/x.tmp", false, false},
		{"cache", true, true},
		{"", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, m.IsExcluded(tt.path, tt.isDir))
		})
	}
}

func TestNilMatcher(t *testing.T) {
	var m *Matcher
	assert.False(t, m.IsExcluded("anything", false))
	assert.Nil(t, m.Patterns())
}

func TestLoadFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := "# editor files\n*.swp\n\n  .idea/  \n#*.log\n"
	require.NoError(t, afero.WriteFile(fs, "/etc/ocsync/exclude.lst", []byte(content), 0o644))

	patterns, err := LoadFile(fs, "/etc/ocsync/exclude.lst")
	require.NoError(t, err)
	assert.Equal(t, []string{"*.swp", ".idea/"}, patterns)

	m := New(patterns)
	assert.True(t, m.IsExcluded("a/.b.swp", false))
	assert.True(t, m.IsExcluded(".idea", true))
	assert.False(t, m.IsExcluded("app.log", false))

	_, err = LoadFile(fs, "/missing")
	assert.Error(t, err)
}
