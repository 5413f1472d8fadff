package server

import (
	"io"
	"strconv"
	"sync/atomic"

	"github.com/gofiber/fiber/v2"

	"file-explorer/common"
	"file-explorer/metrics"
	"file-explorer/scan"
	"file-explorer/stream"
)

// handleList handles GET /api/files?subdir=&search=&page=&hash=
func (s *Server) handleList(c *fiber.Ctx) error {
	opts, err := s.listOptions(c.Query("search"), c.Query("page"), c.Query("hash"))
	if err != nil {
		return err
	}

	page, err := s.deps.Lister.List(c.UserContext(), c.Query("subdir"), opts)
	if err != nil {
		return err
	}
	return c.JSON(page)
}

func (s *Server) listOptions(search, page, hash string) (scan.Options, error) {
	opts := scan.Options{Search: search, Page: 1, WithHash: s.deps.HashByDefault}

	if page != "" {
		n, err := strconv.Atoi(page)
		if err != nil || n < 1 {
			return opts, common.Validation("Invalid page number")
		}
		opts.Page = n
	}
	if hash != "" {
		b, err := strconv.ParseBool(hash)
		if err != nil {
			return opts, common.Validation("Invalid hash flag")
		}
		opts.WithHash = b
	}
	return opts, nil
}

// handleDownload handles GET /api/files/download?file=
func (s *Server) handleDownload(c *fiber.Ctx) error {
	res, err := s.deps.Streamer.Download(c.Query("file"))
	if err != nil {
		return err
	}
	return send(c, res, "download")
}

// handleStream handles GET /api/files/stream?file= with an optional Range header.
func (s *Server) handleStream(c *fiber.Ctx) error {
	res, err := s.deps.Streamer.Serve(c.Query("file"), c.Get(fiber.HeaderRange))
	if err != nil {
		return err
	}
	return send(c, res, "stream")
}

// send hands the result body to fasthttp, which streams and closes it.
func send(c *fiber.Ctx, res *stream.Result, kind string) error {
	for k, v := range res.Header {
		if k == fiber.HeaderContentLength {
			continue
		}
		c.Set(k, v)
	}
	c.Status(res.Status)
	c.Response().SetBodyStream(&countingBody{ReadCloser: res.Body, kind: kind}, int(res.Size))
	return nil
}

// countingBody reports the bytes actually read from a body when it is closed.
type countingBody struct {
	io.ReadCloser
	kind string
	n    atomic.Int64
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.n.Add(int64(n))
	return n, err
}

func (b *countingBody) Close() error {
	metrics.RecordBytesServed(b.kind, b.n.Load())
	return b.ReadCloser.Close()
}
