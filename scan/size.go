package scan

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/spf13/afero"
)

// Totals is the result of a recursive size walk. Symlinks and other
// non-regular files are not counted.
type Totals struct {
	Bytes int64
	Files int64
	Dirs  int64
}

// FolderSize walks dir recursively with a pool of workers and sums the sizes
// of all regular files below it. The context is checked before each
// directory is read; the first error cancels the remaining work.
func FolderSize(ctx context.Context, fsys afero.Fs, dir string, concurrency int) (Totals, error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		bytes, files, dirs atomic.Int64
		pending            sync.WaitGroup
		errOnce            sync.Once
		firstErr           error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	ch := make(chan string)

	visit := func(path string) {
		if err := ctx.Err(); err != nil {
			fail(err)
			return
		}
		entries, err := afero.ReadDir(fsys, path)
		if err != nil {
			fail(fmt.Errorf("read %s: %w", path, err))
			return
		}

		for _, entry := range entries {
			switch {
			case entry.IsDir():
				dirs.Add(1)
				sub := filepath.Join(path, entry.Name())
				pending.Add(1)
				go func() {
					select {
					case ch <- sub:
					case <-ctx.Done():
						pending.Done()
					}
				}()
			case entry.Mode().IsRegular():
				files.Add(1)
				bytes.Add(entry.Size())
			}
		}
	}

	var wait sync.WaitGroup
	wait.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer wait.Done()
			for path := range ch {
				visit(path)
				pending.Done()
			}
		}()
	}

	visit(dir)

	go func() {
		pending.Wait()
		close(ch)
	}()

	wait.Wait()

	if firstErr != nil {
		return Totals{}, firstErr
	}
	return Totals{Bytes: bytes.Load(), Files: files.Load(), Dirs: dirs.Load()}, nil
}

func DefaultConcurrency() int {
	maxProcs := runtime.GOMAXPROCS(0)
	numCPU := runtime.NumCPU()
	if maxProcs < numCPU {
		return maxProcs
	}
	return numCPU
}
