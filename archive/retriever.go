package archive

import (
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"file-explorer/common"
	"file-explorer/fsutil"
	"file-explorer/stream"
)

// Retriever serves finished archives from the temp directory by file name.
type Retriever struct {
	fs      afero.Fs
	tempDir string
}

func NewRetriever(fsys afero.Fs, tempDir string) *Retriever {
	return &Retriever{fs: fsys, tempDir: tempDir}
}

func (r *Retriever) Retrieve(name string) (*stream.Result, error) {
	if name == "" {
		return nil, common.Validation("File name is required")
	}

	if !fsutil.IsBareName(name) || !strings.HasSuffix(strings.ToLower(name), ".zip") {
		return nil, common.Validation("Invalid archive name")
	}
	full, err := fsutil.Resolve(r.tempDir, name)
	if err != nil {
		return nil, err
	}

	info, err := r.fs.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, common.NotFound("File not found")
		}
		return nil, common.Internal("Failed to read archive", err)
	}
	if !info.Mode().IsRegular() {
		return nil, common.NotFound("File not found")
	}

	f, err := r.fs.Open(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, common.NotFound("File not found")
		}
		return nil, common.Internal("Failed to open archive", err)
	}

	return &stream.Result{
		Status: http.StatusOK,
		Header: map[string]string{
			"Content-Type":        "application/zip",
			"Content-Length":      strconv.FormatInt(info.Size(), 10),
			"Content-Disposition": stream.Attachment(name),
		},
		Body: f,
		Size: info.Size(),
	}, nil
}
