package stream

import (
	"bytes"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"file-explorer/common"
)

const root = "/srv/files"

func fixture(t *testing.T) (*Streamer, []byte) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i % 251)
	}
	require.NoError(t, afero.WriteFile(fsys, filepath.Join(root, "media", "clip.mp4"), data, 0o644))
	require.NoError(t, fsys.MkdirAll(filepath.Join(root, "media", "album"), 0o755))
	require.NoError(t, afero.WriteFile(fsys, "/srv/secret.txt", []byte("nope"), 0o644))
	return New(fsys, root, zap.NewNop()), data
}

func readAll(t *testing.T, res *Result) []byte {
	t.Helper()
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return b
}

func TestServeRange(t *testing.T) {
	s, data := fixture(t)

	res, err := s.Serve("media/clip.mp4", "bytes=0-99")
	require.NoError(t, err)
	require.Equal(t, http.StatusPartialContent, res.Status)
	require.Equal(t, "bytes 0-99/1000", res.Header["Content-Range"])
	require.Equal(t, "100", res.Header["Content-Length"])
	require.Equal(t, "bytes", res.Header["Accept-Ranges"])
	require.Equal(t, "video/mp4", res.Header["Content-Type"])
	require.Equal(t, int64(100), res.Size)

	body := readAll(t, res)
	require.Len(t, body, 100)
	require.True(t, bytes.Equal(data[:100], body))
}

func TestServeOpenEndedAndClampedRanges(t *testing.T) {
	s, data := fixture(t)

	res, err := s.Serve("media/clip.mp4", "bytes=900-")
	require.NoError(t, err)
	require.Equal(t, "bytes 900-999/1000", res.Header["Content-Range"])
	require.Equal(t, data[900:], readAll(t, res))

	res, err = s.Serve("media/clip.mp4", "bytes=990-5000")
	require.NoError(t, err)
	require.Equal(t, "bytes 990-999/1000", res.Header["Content-Range"])
	require.Equal(t, "10", res.Header["Content-Length"])
	require.Equal(t, data[990:], readAll(t, res))

	res, err = s.Serve("media/clip.mp4", "bytes=-50")
	require.NoError(t, err)
	require.Equal(t, "bytes 950-999/1000", res.Header["Content-Range"])
	require.Equal(t, data[950:], readAll(t, res))
}

func TestServeWholeFile(t *testing.T) {
	s, data := fixture(t)

	res, err := s.Serve("media/clip.mp4", "")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.Status)
	require.Equal(t, "1000", res.Header["Content-Length"])
	require.Empty(t, res.Header["Content-Range"])
	require.Equal(t, data, readAll(t, res))
}

func TestServeErrors(t *testing.T) {
	s, _ := fixture(t)

	_, err := s.Serve("", "")
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = s.Serve("media/missing.mp4", "")
	require.ErrorIs(t, err, common.ErrNotFound)

	_, err = s.Serve("../secret.txt", "")
	require.ErrorIs(t, err, common.ErrAccessDenied)

	_, err = s.Serve("media/album", "")
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = s.Serve("media/clip.mp4", "bytes=5000-")
	require.ErrorIs(t, err, common.ErrInvalidRange)
	require.Equal(t, http.StatusBadRequest, common.Status(err))
}

func TestDownload(t *testing.T) {
	s, data := fixture(t)

	res, err := s.Download("media/clip.mp4")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.Status)
	require.Equal(t, `attachment; filename="clip.mp4"`, res.Header["Content-Disposition"])
	require.Equal(t, "1000", res.Header["Content-Length"])
	require.Equal(t, data, readAll(t, res))

	_, err = s.Download("../secret.txt")
	require.ErrorIs(t, err, common.ErrAccessDenied)
}

func TestServeRefusesEscapingSymlink(t *testing.T) {
	tmp := t.TempDir()
	dir := filepath.Join(tmp, "root")
	outside := filepath.Join(tmp, "outside")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.MkdirAll(outside, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("top secret"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "public.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.Symlink(outside, filepath.Join(dir, "esc")))

	s := New(afero.NewOsFs(), dir, zap.NewNop())

	_, err := s.Download("esc/secret.txt")
	require.ErrorIs(t, err, common.ErrAccessDenied)

	_, err = s.Serve("esc/secret.txt", "bytes=0-3")
	require.ErrorIs(t, err, common.ErrAccessDenied)

	res, err := s.Download("public.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), readAll(t, res))
}

func TestParseRange(t *testing.T) {
	valid := []struct {
		header     string
		size       int64
		start, end int64
	}{
		{"bytes=0-99", 1000, 0, 99},
		{"bytes=100-", 1000, 100, 999},
		{"bytes=0-0", 1, 0, 0},
		{"bytes=10-2000", 1000, 10, 999},
		{"bytes=-1", 1000, 999, 999},
		{"bytes=-5000", 1000, 0, 999},
		{" bytes= 5 - 6 ", 1000, 5, 6},
	}
	for _, tc := range valid {
		start, end, err := ParseRange(tc.header, tc.size)
		require.NoError(t, err, tc.header)
		require.Equal(t, tc.start, start, tc.header)
		require.Equal(t, tc.end, end, tc.header)
	}

	invalid := []struct {
		header string
		size   int64
	}{
		{"items=0-1", 1000},
		{"bytes=0-1,5-6", 1000},
		{"bytes=abc-", 1000},
		{"bytes=5", 1000},
		{"bytes=10-5", 1000},
		{"bytes=1000-", 1000},
		{"bytes=-0", 1000},
		{"bytes=-10", 0},
		{"bytes=0-", 0},
		{"bytes=-", 1000},
	}
	for _, tc := range invalid {
		_, _, err := ParseRange(tc.header, tc.size)
		require.ErrorIs(t, err, common.ErrInvalidRange, tc.header)
	}
}

func TestContentType(t *testing.T) {
	require.Equal(t, "audio/mpeg", ContentType("song.MP3"))
	require.Equal(t, "application/zip", ContentType("a.zip"))
	require.Equal(t, "application/octet-stream", ContentType("blob.unknownext"))
}
