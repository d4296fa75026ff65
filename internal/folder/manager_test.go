package folder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addFolder(t *testing.T, m *Manager, eng *fakeEngine, alias, local string) *Folder {
	t.Helper()
	f, err := m.Add(Options{
		Alias:     alias,
		LocalPath: local,
		RemoteURL: "https://cloud.example.com/remote.php/webdav/" + alias,
		Open:      eng.Open,
	})
	require.NoError(t, err)
	return f
}

func TestManagerRunsOneFolderAtATime(t *testing.T) {
	eng := &fakeEngine{seen: 1, block: make(chan struct{})}
	l := newRecordingListener()
	m := NewManager(l, nil)
	addFolder(t, m, eng, "a", "/a")
	addFolder(t, m, eng, "b", "/b")

	ctx := context.Background()
	require.NoError(t, m.Schedule(ctx, "a"))
	require.NoError(t, m.Schedule(ctx, "b"))
	require.NoError(t, m.Schedule(ctx, "b"), "queued twice is queued once")
	assert.Equal(t, "a", m.Active())
	require.Eventually(t, func() bool { return eng.opens() == 1 }, 5*time.Second, 5*time.Millisecond)

	close(eng.block)
	assert.Equal(t, "a", l.next(t).alias)
	assert.Equal(t, "b", l.next(t).alias)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, m.Wait(waitCtx))
	assert.Empty(t, m.Active())

	eng.mu.Lock()
	defer eng.mu.Unlock()
	assert.Equal(t, 1, eng.maxActive)
	assert.Len(t, eng.targets, 2)
}

func TestManagerRejectsUnknownAndDuplicate(t *testing.T) {
	m := NewManager(nil, nil)
	eng := &fakeEngine{}
	addFolder(t, m, eng, "a", "/a")

	_, err := m.Add(Options{Alias: "a", LocalPath: "/x", RemoteURL: "https://h/", Open: eng.Open})
	assert.Error(t, err)
	assert.Error(t, m.Schedule(context.Background(), "nope"))
	assert.NotNil(t, m.Folder("a"))
	assert.Nil(t, m.Folder("nope"))
}

func TestManagerScheduleAll(t *testing.T) {
	eng := &fakeEngine{}
	l := newRecordingListener()
	m := NewManager(l, nil)
	for _, alias := range []string{"c", "a", "b"} {
		addFolder(t, m, eng, alias, "/"+alias)
	}

	m.ScheduleAll(context.Background())
	var got []string
	for i := 0; i < 3; i++ {
		got = append(got, l.next(t).alias)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestSchedulerTicksFolders(t *testing.T) {
	eng := &fakeEngine{seen: 1}
	l := newRecordingListener()
	m := NewManager(l, nil)
	f := addFolder(t, m, eng, "a", "/a")

	clock := clockwork.NewFakeClock()
	s := NewScheduler(m, clock, 2*time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	clock.BlockUntil(1)
	clock.Advance(2 * time.Second)
	res := l.next(t).result
	assert.Equal(t, RunModeLocalOnly, res.Mode)

	f.mu.Lock()
	assert.Equal(t, 1, f.pollCount)
	f.mu.Unlock()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWatcherSchedulesDirtyFolder(t *testing.T) {
	dir := t.TempDir()
	eng := &fakeEngine{seen: 1}
	l := newRecordingListener()
	m := NewManager(l, nil)
	f := addFolder(t, m, eng, "a", dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = NewWatcher(m, nil, nil).Run(ctx) }()

	// The watch is set up asynchronously, keep touching files until an
	// event gets through.
	deadline := time.After(5 * time.Second)
	for i := 0; ; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("f%d.txt", i)), []byte("x"), 0o644))
		select {
		case res := <-l.results:
			assert.Equal(t, "a", res.alias)
			assert.Equal(t, RunModeFullRemote, res.result.Mode, "a local change forces a remote run")
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatalf("no run scheduled, folder busy=%v", f.IsBusy())
		}
	}
}

func TestOwner(t *testing.T) {
	a := &Folder{opts: Options{Alias: "a", LocalPath: "/data/a"}}
	b := &Folder{opts: Options{Alias: "b", LocalPath: "/data/b"}}
	folders := []*Folder{a, b}

	f, rel := owner(folders, "/data/b/x/y.txt")
	assert.Equal(t, b, f)
	assert.Equal(t, "x/y.txt", rel)

	f, rel = owner(folders, "/data/a")
	assert.Equal(t, a, f)
	assert.Empty(t, rel)

	f, _ = owner(folders, "/data/ab/z")
	assert.Nil(t, f)
}
