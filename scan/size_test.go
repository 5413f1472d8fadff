package scan

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestFolderSizeOnDisk(t *testing.T) {
	tmpDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "file1.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "file2.txt"), []byte("world!"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, "subdir", "deeper"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "subdir", "file3.txt"), []byte("test"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "subdir", "deeper", "file4.txt"), []byte("1234567"), 0o644))

	for _, workers := range []int{0, 1, 8} {
		totals, err := FolderSize(context.Background(), afero.NewOsFs(), tmpDir, workers)
		require.NoError(t, err)
		require.Equal(t, int64(5+6+4+7), totals.Bytes)
		require.Equal(t, int64(4), totals.Files)
		require.Equal(t, int64(2), totals.Dirs)
	}
}

func TestFolderSizeEmptyFolder(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/data/empty", 0o755))

	totals, err := FolderSize(context.Background(), fsys, "/data/empty", 2)
	require.NoError(t, err)
	require.Equal(t, Totals{}, totals)
}

func TestFolderSizeWideTree(t *testing.T) {
	fsys := afero.NewMemMapFs()
	var want int64
	for d := 0; d < 20; d++ {
		for f := 0; f < 10; f++ {
			data := make([]byte, d+f)
			want += int64(len(data))
			path := filepath.Join("/data", "dir"+string(rune('a'+d)), "f"+string(rune('0'+f)))
			require.NoError(t, afero.WriteFile(fsys, path, data, 0o644))
		}
	}

	totals, err := FolderSize(context.Background(), fsys, "/data", 3)
	require.NoError(t, err)
	require.Equal(t, want, totals.Bytes)
	require.Equal(t, int64(200), totals.Files)
	require.Equal(t, int64(20), totals.Dirs)
}

func TestFolderSizeMissingFolder(t *testing.T) {
	_, err := FolderSize(context.Background(), afero.NewMemMapFs(), "/nope", 2)
	require.Error(t, err)
}

func TestFolderSizeCancelled(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/data/a/b/c.txt", []byte("x"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FolderSize(ctx, fsys, "/data", 2)
	require.ErrorIs(t, err, context.Canceled)
}

func TestHumanSize(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{-1, "-"},
		{0, "0  B"},
		{500, "500  B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{1048576, "1.00 MB"},
		{1073741824, "1.00 GB"},
		{10 * 1073741824, "10.00 GB"},
		{1099511627776, "1.00 TB"},
	}

	for _, test := range tests {
		require.Equal(t, test.expected, HumanSize(test.input), test.input)
	}
}

func TestFormatCount(t *testing.T) {
	require.Equal(t, "999", FormatCount(999))
	require.Equal(t, "1,000", FormatCount(1000))
	require.Equal(t, "1,234,567", FormatCount(1234567))
	require.Equal(t, "-12,345", FormatCount(-12345))
}
