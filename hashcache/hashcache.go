// Package hashcache memoizes SHA-256 content digests keyed by file path and
// modification time.
package hashcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"

	"file-explorer/metrics"
)

const bufSize = 64 << 10

var bufferPool = sync.Pool{
	New: func() any {
		p := make([]byte, bufSize)
		return &p
	},
}

// Cache returns the content digest of a file, recomputing it only when the
// file's modification time differs from the one seen at computation time.
type Cache interface {
	Hash(path string, modTime time.Time) (string, error)
	Len() int
}

type entry struct {
	hash    string
	modTime time.Time
}

// Memory is the process-wide cache. Entries live for the lifetime of the
// process and are never evicted, so it grows with the number of distinct
// files ever listed.
type Memory struct {
	fs      afero.Fs
	entries sync.Map // path -> entry
	size    atomic.Int64
}

var _ Cache = (*Memory)(nil)

func NewMemory(fs afero.Fs) *Memory {
	return &Memory{fs: fs}
}

func (m *Memory) Hash(path string, modTime time.Time) (string, error) {
	if v, ok := m.entries.Load(path); ok {
		if e := v.(entry); e.modTime.Equal(modTime) {
			metrics.RecordHashLookup("hit")
			return e.hash, nil
		}
	}

	sum, err := Sum(m.fs, path)
	if err != nil {
		metrics.RecordHashLookup("error")
		return "", err
	}
	metrics.RecordHashLookup("miss")

	// Concurrent callers may both compute; the last write wins with an equal value.
	if _, loaded := m.entries.Swap(path, entry{hash: sum, modTime: modTime}); !loaded {
		metrics.SetHashCacheEntries(int(m.size.Add(1)))
	}
	return sum, nil
}

func (m *Memory) Len() int {
	return int(m.size.Load())
}

// Sum streams the file through SHA-256 and returns the hex digest.
func Sum(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	bufPtr := bufferPool.Get().(*[]byte)
	defer bufferPool.Put(bufPtr)

	h := sha256.New()
	if _, err := io.CopyBuffer(h, f, *bufPtr); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
