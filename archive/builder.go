// Package archive builds zip archives of folders below the root, tracks
// them until they expire and serves them back by name.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/flate"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"file-explorer/common"
	"file-explorer/fsutil"
	"file-explorer/metrics"
	"file-explorer/scan"
)

const (
	eventBuffer = 64
	copyBufSize = 64 << 10
)

var copyBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, copyBufSize)
		return &b
	},
}

type Config struct {
	Root      string
	TempDir   string
	WorkDir   string
	MaxSize   int64
	Retention time.Duration
	Workers   int
}

// Job is a running archive build. Events must be drained until closed.
type Job struct {
	Name       string
	Source     string
	TotalBytes int64
	TotalFiles int64

	events chan Event
}

func (j *Job) Events() <-chan Event {
	return j.events
}

// Drain discards the remaining events of the job and returns the terminal
// one. The zero Event is returned when the terminal event was already read.
func (j *Job) Drain() Event {
	var last Event
	for ev := range j.events {
		if ev.Terminal() {
			last = ev
		}
	}
	return last
}

type Builder struct {
	fs      afero.Fs
	cfg     Config
	store   *Store
	janitor *Janitor
	log     *zap.Logger

	wg  sync.WaitGroup
	now func() time.Time
}

func NewBuilder(fsys afero.Fs, cfg Config, store *Store, janitor *Janitor, log *zap.Logger) *Builder {
	return &Builder{
		fs:      fsys,
		cfg:     cfg,
		store:   store,
		janitor: janitor,
		log:     log,
		now:     time.Now,
	}
}

// Build validates folder (relative to the root), measures it and starts
// writing the archive in the background. All rejections happen before any
// archive byte is written. The returned job is not tied to ctx; ctx only
// bounds the size walk.
func (b *Builder) Build(ctx context.Context, folder string) (*Job, error) {
	if strings.TrimSpace(folder) == "" {
		return nil, common.Validation("Folder path is required")
	}

	full, err := fsutil.ResolveIn(b.fs, b.cfg.Root, folder)
	if err != nil {
		return nil, err
	}

	info, err := b.fs.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, common.NotFound("Folder not found")
		}
		return nil, common.Internal("Failed to read folder", err)
	}
	if full == filepath.Clean(b.cfg.Root) {
		return nil, common.Validation("Cannot zip root directory")
	}
	if !info.IsDir() {
		return nil, common.Validation("Path must be a directory")
	}

	totals, err := scan.FolderSize(ctx, b.fs, full, b.cfg.Workers)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, common.Internal("Failed to measure folder", err)
	}
	if totals.Bytes > b.cfg.MaxSize {
		return nil, common.ResourceLimit(fmt.Sprintf("Folder size %s exceeds %s limit",
			scan.HumanSize(totals.Bytes), scan.HumanSize(b.cfg.MaxSize)))
	}

	for _, dir := range []string{b.cfg.TempDir, b.cfg.WorkDir} {
		if err := b.fs.MkdirAll(dir, 0o755); err != nil {
			return nil, common.Internal("Failed to prepare archive directory", err)
		}
	}

	job := &Job{
		Name:       filepath.Base(full) + "_" + uuid.NewString() + ".zip",
		Source:     full,
		TotalBytes: totals.Bytes,
		TotalFiles: totals.Files,
		events:     make(chan Event, eventBuffer),
	}

	rec := &Record{
		Name:       job.Name,
		Source:     full,
		Status:     StatusRunning,
		TotalBytes: totals.Bytes,
		CreatedAt:  b.now(),
	}
	if err := b.store.Put(rec); err != nil {
		b.log.Warn("failed to record archive job", zap.String("archive", job.Name), zap.Error(err))
	}

	b.log.Info("archive job started",
		zap.String("archive", job.Name),
		zap.String("source", full),
		zap.String("size", scan.HumanSize(totals.Bytes)),
		zap.String("files", scan.FormatCount(totals.Files)),
	)

	b.wg.Add(1)
	metrics.ArchiveStarted()
	go b.run(job, rec)

	return job, nil
}

// Wait blocks until every started job has finished.
func (b *Builder) Wait() {
	b.wg.Wait()
}

func (b *Builder) run(job *Job, rec *Record) {
	defer b.wg.Done()
	defer close(job.events)

	start := time.Now()
	partial := filepath.Join(b.cfg.WorkDir, job.Name+".partial")

	err := b.write(job, partial)
	if err == nil {
		err = b.fs.Rename(partial, filepath.Join(b.cfg.TempDir, job.Name))
	}

	now := b.now()
	rec.CompletedAt = now

	if err != nil {
		if rmErr := b.fs.Remove(partial); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			b.log.Warn("failed to remove partial archive", zap.String("path", partial), zap.Error(rmErr))
		}

		rec.Status = StatusError
		rec.Error = err.Error()
		rec.ExpiresAt = now
		if err := b.store.Put(rec); err != nil {
			b.log.Warn("failed to record archive failure", zap.String("archive", rec.Name), zap.Error(err))
		}

		metrics.ArchiveFinished(string(StatusError), time.Since(start))
		b.log.Error("archive job failed", zap.String("archive", job.Name), zap.Error(err))
		job.events <- Event{Kind: EventError, Message: "Failed to create zip file"}
		return
	}

	rec.Status = StatusComplete
	rec.ExpiresAt = now.Add(b.cfg.Retention)
	if err := b.store.Put(rec); err != nil {
		b.log.Warn("failed to record archive completion", zap.String("archive", rec.Name), zap.Error(err))
	}
	b.janitor.Schedule(job.Name, rec.ExpiresAt)

	metrics.ArchiveFinished(string(StatusComplete), time.Since(start))
	b.log.Info("archive job complete",
		zap.String("archive", job.Name),
		zap.Duration("duration", time.Since(start)),
		zap.Time("expires_at", rec.ExpiresAt),
	)
	job.events <- Event{Kind: EventComplete, Fraction: 1, ZipFileName: job.Name}
}

// write streams every directory and regular file below job.Source into a
// zip at dst, emitting progress after each entry.
func (b *Builder) write(job *Job, dst string) (err error) {
	out, err := b.fs.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestCompression)
	})

	bufPtr := copyBufPool.Get().(*[]byte)
	defer copyBufPool.Put(bufPtr)

	progress := newTracker(job.TotalBytes)

	err = afero.Walk(b.fs, job.Source, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(job.Source, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if !info.IsDir() && !info.Mode().IsRegular() {
			return nil
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			header.Name += "/"
			header.Method = zip.Store
			header.UncompressedSize64 = 0
		} else {
			header.Method = zip.Deflate
		}

		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}

		var n int64
		if !info.IsDir() {
			if n, err = b.copyFile(w, path, *bufPtr); err != nil {
				return err
			}
		}

		job.events <- Event{Kind: EventProgress, Fraction: progress.add(n)}
		return nil
	})
	if err != nil {
		return err
	}

	if err := zw.Close(); err != nil {
		return err
	}

	job.events <- Event{Kind: EventProgress, Fraction: 1}
	return nil
}

func (b *Builder) copyFile(w io.Writer, path string, buf []byte) (int64, error) {
	f, err := b.fs.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	return io.CopyBuffer(w, f, buf)
}
