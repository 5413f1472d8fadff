// Package scan lists directories below the served root and measures folder trees.
package scan

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"file-explorer/common"
	"file-explorer/fsutil"
	"file-explorer/hashcache"
	"file-explorer/metrics"
)

const DefaultPageSize = 100

// Options selects one page of a listing.
type Options struct {
	Search   string
	Page     int // 1-indexed
	WithHash bool
}

// Page is one page of a filtered listing. TotalCount is the filtered size
// before pagination.
type Page struct {
	Entries     []*FileEntry `json:"entries"`
	TotalCount  int          `json:"totalCount"`
	CurrentPage int          `json:"currentPage"`
}

type ListerConfig struct {
	Root     string
	PageSize int
	Workers  int
}

// Lister enumerates the immediate children of directories below Root.
type Lister struct {
	fs       afero.Fs
	root     string
	pageSize int
	workers  int
	hashes   hashcache.Cache
	log      *zap.Logger
	now      func() time.Time
}

func NewLister(fsys afero.Fs, cfg ListerConfig, hashes hashcache.Cache, log *zap.Logger) *Lister {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConcurrency()
	}
	return &Lister{
		fs:       fsys,
		root:     cfg.Root,
		pageSize: cfg.PageSize,
		workers:  cfg.Workers,
		hashes:   hashes,
		log:      log,
		now:      time.Now,
	}
}

// List returns one page of the entries of dir (relative to the root) whose
// names contain opts.Search, ignoring case. Entries that vanish or cannot be
// hashed while the page is built are left out of it.
func (l *Lister) List(ctx context.Context, dir string, opts Options) (*Page, error) {
	page, err := l.list(ctx, dir, opts)
	metrics.RecordListing(err == nil)
	return page, err
}

func (l *Lister) list(ctx context.Context, dir string, opts Options) (*Page, error) {
	if opts.Page < 1 {
		return nil, common.Validation("Invalid page number")
	}

	full, err := fsutil.ResolveIn(l.fs, l.root, dir)
	if err != nil {
		return nil, err
	}

	info, err := l.fs.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, common.NotFound("Directory not found")
		}
		return nil, common.Internal("Failed to read directory", err)
	}
	if !info.IsDir() {
		return nil, common.Validation("Path is not a directory")
	}

	names, err := l.readNames(full)
	if err != nil {
		return nil, common.Internal("Failed to read directory", err)
	}

	names = filterNames(names, opts.Search)
	total := len(names)

	start := (opts.Page - 1) * l.pageSize
	if start >= total {
		return &Page{Entries: []*FileEntry{}, TotalCount: total, CurrentPage: opts.Page}, nil
	}
	end := min(start+l.pageSize, total)

	entries, err := l.build(ctx, full, names[start:end], opts.WithHash)
	if err != nil {
		return nil, err
	}

	return &Page{Entries: entries, TotalCount: total, CurrentPage: opts.Page}, nil
}

// readNames returns the child names of dir sorted by name, so that pages of
// an unchanged directory are stable across calls.
func (l *Lister) readNames(dir string) ([]string, error) {
	f, err := l.fs.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	names, err := f.Readdirnames(-1)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func filterNames(names []string, search string) []string {
	if search == "" {
		return names
	}
	needle := strings.ToLower(search)
	out := names[:0:0]
	for _, name := range names {
		if strings.Contains(strings.ToLower(name), needle) {
			out = append(out, name)
		}
	}
	return out
}

// build stats (and optionally hashes) the given children concurrently,
// preserving their order and dropping the ones that fail.
func (l *Lister) build(ctx context.Context, dir string, names []string, withHash bool) ([]*FileEntry, error) {
	now := l.now()
	results := make([]*FileEntry, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)

	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = l.entry(dir, name, withHash, now)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	entries := make([]*FileEntry, 0, len(results))
	for _, e := range results {
		if e != nil {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (l *Lister) entry(dir, name string, withHash bool, now time.Time) *FileEntry {
	path := filepath.Join(dir, name)

	// Links leading out of the root are not listed.
	if err := fsutil.Confine(l.fs, l.root, path); err != nil {
		l.drop(path, "confine", err)
		return nil
	}

	info, err := l.fs.Stat(path)
	if err != nil {
		l.drop(path, "stat", err)
		return nil
	}

	e := newEntry(info, fsutil.Relative(l.root, path), now)
	if withHash && !info.IsDir() && l.hashes != nil {
		sum, err := l.hashes.Hash(path, info.ModTime())
		if err != nil {
			l.drop(path, "hash", err)
			return nil
		}
		e.ContentHash = sum
	}
	return e
}

func (l *Lister) drop(path, op string, err error) {
	metrics.RecordDroppedEntry()
	l.log.Debug("dropping listing entry",
		zap.String("path", path),
		zap.String("op", op),
		zap.Error(err),
	)
}
