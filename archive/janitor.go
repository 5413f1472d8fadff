package archive

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"file-explorer/metrics"
)

const partialSuffix = ".partial"

type JanitorConfig struct {
	TempDir   string
	WorkDir   string
	Retention time.Duration
}

// Janitor deletes archives once their retention window has passed. Each
// completed archive gets a timer; periodic sweeps catch whatever the timers
// missed, such as archives left over from a previous run.
type Janitor struct {
	fs    afero.Fs
	store *Store
	cfg   JanitorConfig
	log   *zap.Logger
	now   func() time.Time

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

func NewJanitor(fsys afero.Fs, store *Store, cfg JanitorConfig, log *zap.Logger) *Janitor {
	return &Janitor{
		fs:     fsys,
		store:  store,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
		timers: make(map[string]*time.Timer),
	}
}

// Schedule removes the named archive at the given time.
func (j *Janitor) Schedule(name string, at time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.stopped {
		return
	}
	if t, ok := j.timers[name]; ok {
		t.Stop()
	}
	j.timers[name] = time.AfterFunc(max(at.Sub(j.now()), 0), func() {
		j.remove(name)
	})
}

// Scheduled reports how many archives have a pending removal timer.
func (j *Janitor) Scheduled() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.timers)
}

// Recover is called once at start-up, before any job runs. Jobs recorded as
// running died with the previous process and are marked failed; completed
// archives still within retention get their timers back.
func (j *Janitor) Recover() error {
	records, err := j.store.List()
	if err != nil {
		return err
	}

	now := j.now()
	for _, r := range records {
		switch r.Status {
		case StatusRunning:
			j.removeFile(filepath.Join(j.cfg.WorkDir, r.Name+partialSuffix))
			r.Status = StatusError
			r.Error = "interrupted by restart"
			r.CompletedAt = now
			r.ExpiresAt = now
			if err := j.store.Put(r); err != nil {
				return err
			}
		case StatusComplete:
			if r.ExpiresAt.After(now) {
				j.Schedule(r.Name, r.ExpiresAt)
			}
		}
	}
	return nil
}

// Sweep removes expired archives and orphaned files. It returns the number
// of files and records removed.
func (j *Janitor) Sweep() (int, error) {
	expired, err := j.store.Expired(j.now())
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, r := range expired {
		if j.remove(r.Name) {
			removed++
		}
	}

	removed += j.sweepOrphans(j.cfg.TempDir, func(name string) bool {
		return strings.HasSuffix(name, ".zip")
	})
	removed += j.sweepOrphans(j.cfg.WorkDir, func(name string) bool {
		return strings.HasSuffix(name, partialSuffix)
	})
	return removed, nil
}

// sweepOrphans removes matching files in dir that have no record and are
// older than the retention window.
func (j *Janitor) sweepOrphans(dir string, match func(string) bool) int {
	infos, err := afero.ReadDir(j.fs, dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			j.log.Warn("failed to read archive directory", zap.String("dir", dir), zap.Error(err))
		}
		return 0
	}

	cutoff := j.now().Add(-j.cfg.Retention)
	removed := 0
	for _, info := range infos {
		name := info.Name()
		if info.IsDir() || !match(name) || info.ModTime().After(cutoff) {
			continue
		}
		if _, err := j.store.Get(strings.TrimSuffix(name, partialSuffix)); err == nil {
			continue
		}
		if j.removeFile(filepath.Join(dir, name)) {
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := j.Sweep()
			if err != nil {
				j.log.Error("archive sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				j.log.Info("archive sweep complete", zap.Int("removed", n))
			}
		}
	}
}

// Stop cancels all pending timers. Expired archives are picked up by the
// next start-up sweep.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.stopped = true
	for name, t := range j.timers {
		t.Stop()
		delete(j.timers, name)
	}
}

func (j *Janitor) remove(name string) bool {
	j.mu.Lock()
	if t, ok := j.timers[name]; ok {
		t.Stop()
		delete(j.timers, name)
	}
	j.mu.Unlock()

	ok := j.removeFile(filepath.Join(j.cfg.TempDir, name))
	if err := j.store.Delete(name); err != nil {
		j.log.Warn("failed to delete archive record", zap.String("archive", name), zap.Error(err))
		ok = false
	}
	metrics.RecordArchiveRemoved(ok)
	if ok {
		j.log.Info("archive expired", zap.String("archive", name))
	}
	return ok
}

func (j *Janitor) removeFile(path string) bool {
	err := j.fs.Remove(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return true
	}
	j.log.Warn("failed to delete archive file", zap.String("path", path), zap.Error(err))
	return false
}
