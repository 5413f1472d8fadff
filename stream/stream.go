// Package stream serves single files below the root, whole or as one byte range.
package stream

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"file-explorer/common"
	"file-explorer/fsutil"
)

// Result describes a response body and the headers that go with it. The
// caller must close Body.
type Result struct {
	Status int
	Header map[string]string
	Body   io.ReadCloser
	Size   int64
}

type readCloser struct {
	io.Reader
	io.Closer
}

type Streamer struct {
	fs   afero.Fs
	root string
	log  *zap.Logger
}

func New(fsys afero.Fs, root string, log *zap.Logger) *Streamer {
	return &Streamer{fs: fsys, root: root, log: log}
}

// Serve returns the file whole (200) or the window named by rangeHeader (206).
func (s *Streamer) Serve(rel, rangeHeader string) (*Result, error) {
	f, info, err := s.open(rel)
	if err != nil {
		return nil, err
	}

	size := info.Size()
	header := map[string]string{
		"Content-Type":  ContentType(info.Name()),
		"Accept-Ranges": "bytes",
	}

	if rangeHeader == "" {
		header["Content-Length"] = strconv.FormatInt(size, 10)
		return &Result{Status: http.StatusOK, Header: header, Body: f, Size: size}, nil
	}

	start, end, err := ParseRange(rangeHeader, size)
	if err != nil {
		f.Close()
		return nil, err
	}

	n := end - start + 1
	header["Content-Range"] = fmt.Sprintf("bytes %d-%d/%d", start, end, size)
	header["Content-Length"] = strconv.FormatInt(n, 10)

	return &Result{
		Status: http.StatusPartialContent,
		Header: header,
		Body:   readCloser{Reader: io.NewSectionReader(f, start, n), Closer: f},
		Size:   n,
	}, nil
}

// Download returns the whole file with an attachment disposition.
func (s *Streamer) Download(rel string) (*Result, error) {
	f, info, err := s.open(rel)
	if err != nil {
		return nil, err
	}

	return &Result{
		Status: http.StatusOK,
		Header: map[string]string{
			"Content-Type":        ContentType(info.Name()),
			"Content-Length":      strconv.FormatInt(info.Size(), 10),
			"Content-Disposition": Attachment(info.Name()),
		},
		Body: f,
		Size: info.Size(),
	}, nil
}

func (s *Streamer) open(rel string) (afero.File, fs.FileInfo, error) {
	if rel == "" {
		return nil, nil, common.Validation("No file specified")
	}

	full, err := fsutil.ResolveIn(s.fs, s.root, rel)
	if err != nil {
		return nil, nil, err
	}

	info, err := s.fs.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, common.NotFound("File not found")
		}
		return nil, nil, common.Internal("Failed to read file", err)
	}
	if info.IsDir() {
		return nil, nil, common.Validation("Path is a directory, not a file")
	}

	f, err := s.fs.Open(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, common.NotFound("File not found")
		}
		return nil, nil, common.Internal("Failed to open file", err)
	}

	s.log.Debug("serving file", zap.String("path", full), zap.Int64("size", info.Size()))
	return f, info, nil
}

// ParseRange parses a single "bytes=start-end" or "bytes=-suffix" range
// against a resource of the given size. A missing end means the last byte;
// an end past the last byte is clamped to it.
func ParseRange(h string, size int64) (start, end int64, err error) {
	spec, ok := strings.CutPrefix(strings.TrimSpace(h), "bytes=")
	if !ok {
		return 0, 0, common.InvalidRange("Invalid range unit")
	}
	if strings.Contains(spec, ",") {
		return 0, 0, common.InvalidRange("Multiple ranges are not supported")
	}

	first, last, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return 0, 0, common.InvalidRange("Malformed range")
	}
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)

	if first == "" {
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 || size == 0 {
			return 0, 0, common.InvalidRange("Malformed range")
		}
		return max(size-n, 0), size - 1, nil
	}

	start, err = strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, common.InvalidRange("Malformed range")
	}
	if start >= size {
		return 0, 0, common.InvalidRange("Range not satisfiable")
	}

	end = size - 1
	if last != "" {
		e, err := strconv.ParseInt(last, 10, 64)
		if err != nil || e < start {
			return 0, 0, common.InvalidRange("Malformed range")
		}
		end = min(e, size-1)
	}
	return start, end, nil
}

// Attachment builds a Content-Disposition value that asks for a download.
func Attachment(name string) string {
	name = filepath.Base(name)
	return `attachment; filename="` + strings.ReplaceAll(name, `"`, `\"`) + `"`
}
