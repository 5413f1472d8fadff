package scan

import (
	"os"
	"time"
)

// FileEntry is one row of a directory listing.
type FileEntry struct {
	Name         string    `json:"name"`
	IsDirectory  bool      `json:"isDirectory"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	RelativePath string    `json:"path"`
	ContentHash  string    `json:"hash,omitempty"`
}

// newEntry builds the listing row for info. Directories report size 0 and
// the current time instead of their own mtime.
func newEntry(info os.FileInfo, relPath string, now time.Time) *FileEntry {
	e := &FileEntry{
		Name:         info.Name(),
		IsDirectory:  info.IsDir(),
		RelativePath: relPath,
	}
	if info.IsDir() {
		e.LastModified = now.UTC()
		return e
	}
	e.Size = info.Size()
	e.LastModified = info.ModTime().UTC()
	return e
}
