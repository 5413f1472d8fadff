package scan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"file-explorer/common"
	"file-explorer/hashcache"
)

const root = "/srv/files"

func newTestLister(t *testing.T, fsys afero.Fs, pageSize int, cache hashcache.Cache) *Lister {
	t.Helper()
	l := NewLister(fsys, ListerConfig{Root: root, PageSize: pageSize, Workers: 4}, cache, zap.NewNop())
	return l
}

func seedMusic(t *testing.T, fsys afero.Fs, n int) []string {
	t.Helper()
	dir := filepath.Join(root, "music")
	require.NoError(t, fsys.MkdirAll(dir, 0o755))

	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("track%03d.mp3", i+1)
		require.NoError(t, afero.WriteFile(fsys, filepath.Join(dir, names[i]), []byte(names[i]), 0o644))
	}
	return names
}

func TestListPaginatesMusicFolder(t *testing.T) {
	fsys := afero.NewMemMapFs()
	seedMusic(t, fsys, 150)
	l := newTestLister(t, fsys, DefaultPageSize, nil)

	first, err := l.List(context.Background(), "music", Options{Page: 1})
	require.NoError(t, err)
	require.Len(t, first.Entries, 100)
	require.Equal(t, 150, first.TotalCount)
	require.Equal(t, 1, first.CurrentPage)

	second, err := l.List(context.Background(), "music", Options{Page: 2})
	require.NoError(t, err)
	require.Len(t, second.Entries, 50)
	require.Equal(t, 150, second.TotalCount)

	beyond, err := l.List(context.Background(), "music", Options{Page: 3})
	require.NoError(t, err)
	require.NotNil(t, beyond.Entries)
	require.Empty(t, beyond.Entries)
	require.Equal(t, 150, beyond.TotalCount)
}

func TestListTotalCountMatchesFilter(t *testing.T) {
	fsys := afero.NewMemMapFs()
	names := seedMusic(t, fsys, 150)
	l := newTestLister(t, fsys, 10, nil)

	for _, search := range []string{"", "TRACK1", "05", ".MP3", "nothing"} {
		want := 0
		for _, n := range names {
			if strings.Contains(strings.ToLower(n), strings.ToLower(search)) {
				want++
			}
		}

		for _, p := range []int{1, 2, 50} {
			page, err := l.List(context.Background(), "music", Options{Search: search, Page: p})
			require.NoError(t, err)
			require.Equal(t, want, page.TotalCount, "search %q page %d", search, p)
		}
	}
}

func TestListPagesConcatenateToFilteredSet(t *testing.T) {
	fsys := afero.NewMemMapFs()
	seedMusic(t, fsys, 150)
	l := newTestLister(t, fsys, 7, nil)

	seen := map[string]int{}
	total := -1
	for p := 1; ; p++ {
		page, err := l.List(context.Background(), "music", Options{Search: "1", Page: p})
		require.NoError(t, err)
		total = page.TotalCount
		if len(page.Entries) == 0 {
			break
		}
		for _, e := range page.Entries {
			seen[e.Name]++
		}
	}

	require.Len(t, seen, total)
	for name, n := range seen {
		require.Equal(t, 1, n, name)
		require.Contains(t, name, "1")
	}
}

func TestListEntryFields(t *testing.T) {
	fsys := afero.NewMemMapFs()
	mtime := time.Date(2023, 3, 4, 5, 6, 7, 0, time.UTC)
	require.NoError(t, fsys.MkdirAll(filepath.Join(root, "docs", "old"), 0o755))
	require.NoError(t, afero.WriteFile(fsys, filepath.Join(root, "docs", "a.txt"), []byte("abc"), 0o644))
	require.NoError(t, fsys.Chtimes(filepath.Join(root, "docs", "a.txt"), mtime, mtime))

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newTestLister(t, fsys, 0, hashcache.NewMemory(fsys))
	l.now = func() time.Time { return now }

	page, err := l.List(context.Background(), "docs", Options{Page: 1, WithHash: true})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)

	byName := map[string]*FileEntry{}
	for _, e := range page.Entries {
		byName[e.Name] = e
	}

	file := byName["a.txt"]
	require.NotNil(t, file)
	require.False(t, file.IsDirectory)
	require.Equal(t, int64(3), file.Size)
	require.True(t, mtime.Equal(file.LastModified))
	require.Equal(t, "docs/a.txt", file.RelativePath)
	sum := sha256.Sum256([]byte("abc"))
	require.Equal(t, hex.EncodeToString(sum[:]), file.ContentHash)

	dir := byName["old"]
	require.NotNil(t, dir)
	require.True(t, dir.IsDirectory)
	require.Zero(t, dir.Size)
	require.Equal(t, now, dir.LastModified)
	require.Equal(t, "docs/old", dir.RelativePath)
	require.Empty(t, dir.ContentHash)
}

func TestListWithoutHash(t *testing.T) {
	fsys := afero.NewMemMapFs()
	seedMusic(t, fsys, 3)
	l := newTestLister(t, fsys, 0, hashcache.NewMemory(fsys))

	page, err := l.List(context.Background(), "music", Options{Page: 1})
	require.NoError(t, err)
	for _, e := range page.Entries {
		require.Empty(t, e.ContentHash)
	}
}

type failingCache struct {
	hashcache.Cache
	failName string
}

func (f failingCache) Hash(path string, modTime time.Time) (string, error) {
	if filepath.Base(path) == f.failName {
		return "", errors.New("vanished")
	}
	return f.Cache.Hash(path, modTime)
}

func TestListDropsEntriesThatFail(t *testing.T) {
	fsys := afero.NewMemMapFs()
	seedMusic(t, fsys, 5)
	cache := failingCache{Cache: hashcache.NewMemory(fsys), failName: "track003.mp3"}
	l := newTestLister(t, fsys, 0, cache)

	page, err := l.List(context.Background(), "music", Options{Page: 1, WithHash: true})
	require.NoError(t, err)
	require.Equal(t, 5, page.TotalCount)
	require.Len(t, page.Entries, 4)
	for _, e := range page.Entries {
		require.NotEqual(t, "track003.mp3", e.Name)
	}
}

// statFailFs fails Stat for one child name, as if it vanished after the
// directory was read.
type statFailFs struct {
	afero.Fs
	failName string
}

func (f statFailFs) Stat(name string) (os.FileInfo, error) {
	if filepath.Base(name) == f.failName {
		return nil, &os.PathError{Op: "stat", Path: name, Err: os.ErrNotExist}
	}
	return f.Fs.Stat(name)
}

func TestListDropsEntriesThatVanish(t *testing.T) {
	mem := afero.NewMemMapFs()
	seedMusic(t, mem, 5)
	fsys := statFailFs{Fs: mem, failName: "track002.mp3"}
	l := newTestLister(t, fsys, 0, hashcache.NewMemory(fsys))

	page, err := l.List(context.Background(), "music", Options{Page: 1, WithHash: true})
	require.NoError(t, err)
	require.Equal(t, 5, page.TotalCount)
	require.Len(t, page.Entries, 4)
	for _, e := range page.Entries {
		require.NotEqual(t, "track002.mp3", e.Name)
		require.NotEmpty(t, e.ContentHash)
	}
}

func TestListHidesEscapingSymlinks(t *testing.T) {
	tmp := t.TempDir()
	dir := filepath.Join(tmp, "root")
	outside := filepath.Join(tmp, "outside")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "music"), 0o755))
	require.NoError(t, os.MkdirAll(outside, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("top secret"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "music", "a.mp3"), []byte("a"), 0o644))
	require.NoError(t, os.Symlink(outside, filepath.Join(dir, "esc")))
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(dir, "secret.txt")))
	require.NoError(t, os.Symlink(filepath.Join(dir, "music"), filepath.Join(dir, "tunes")))

	fsys := afero.NewOsFs()
	l := NewLister(fsys, ListerConfig{Root: dir, Workers: 2}, hashcache.NewMemory(fsys), zap.NewNop())
	ctx := context.Background()

	page, err := l.List(ctx, "", Options{Page: 1, WithHash: true})
	require.NoError(t, err)
	require.Equal(t, 4, page.TotalCount)
	names := make([]string, 0, len(page.Entries))
	for _, e := range page.Entries {
		names = append(names, e.Name)
	}
	require.Equal(t, []string{"music", "tunes"}, names)

	_, err = l.List(ctx, "esc", Options{Page: 1})
	require.ErrorIs(t, err, common.ErrAccessDenied)

	page, err = l.List(ctx, "tunes", Options{Page: 1})
	require.NoError(t, err)
	require.Equal(t, 1, page.TotalCount)
}

func TestListRootDirectory(t *testing.T) {
	fsys := afero.NewMemMapFs()
	seedMusic(t, fsys, 1)
	require.NoError(t, afero.WriteFile(fsys, filepath.Join(root, "readme.md"), []byte("hi"), 0o644))
	l := newTestLister(t, fsys, 0, nil)

	page, err := l.List(context.Background(), "", Options{Page: 1})
	require.NoError(t, err)
	require.Equal(t, 2, page.TotalCount)
	require.Equal(t, "music", page.Entries[0].RelativePath)
	require.Equal(t, "readme.md", page.Entries[1].RelativePath)

	page, err = l.List(context.Background(), "/", Options{Search: "READ", Page: 1})
	require.NoError(t, err)
	require.Equal(t, 1, page.TotalCount)
}

func TestListErrors(t *testing.T) {
	fsys := afero.NewMemMapFs()
	seedMusic(t, fsys, 1)
	l := newTestLister(t, fsys, 0, nil)
	ctx := context.Background()

	_, err := l.List(ctx, "music", Options{Page: 0})
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = l.List(ctx, "../../etc", Options{Page: 1})
	require.ErrorIs(t, err, common.ErrAccessDenied)

	_, err = l.List(ctx, "music/../../files-other", Options{Page: 1})
	require.ErrorIs(t, err, common.ErrAccessDenied)

	_, err = l.List(ctx, "missing", Options{Page: 1})
	require.ErrorIs(t, err, common.ErrNotFound)

	_, err = l.List(ctx, "music/track001.mp3", Options{Page: 1})
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestListHonoursCancelledContext(t *testing.T) {
	fsys := afero.NewMemMapFs()
	seedMusic(t, fsys, 20)
	l := newTestLister(t, fsys, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.List(ctx, "music", Options{Page: 1})
	require.ErrorIs(t, err, context.Canceled)
}
