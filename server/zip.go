package server

import (
	"bufio"
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"file-explorer/archive"
	"file-explorer/common"
	"file-explorer/logging"
)

type zipRequest struct {
	FolderPath string `json:"folderPath"`
}

// handleZip handles POST /api/zip. Validation failures come back as JSON
// errors; once the job starts the response is an event stream of
// "data: {...}" lines ending with a complete or error event.
func (s *Server) handleZip(c *fiber.Ctx) error {
	var req zipRequest
	if err := c.BodyParser(&req); err != nil {
		return common.Validation("Invalid request body")
	}

	job, err := s.deps.Builder.Build(c.UserContext(), req.FolderPath)
	if err != nil {
		return err
	}

	log := logging.FromCtx(c).With(zap.String("archive", job.Name))

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		writeEvents(w, job, log)
	}))
	return nil
}

// writeEvents copies job events to w as server-sent events. After a failed
// write the remaining events are still drained so the job can finish.
func writeEvents(w *bufio.Writer, job *archive.Job, log *zap.Logger) {
	for ev := range job.Events() {
		data, err := json.Marshal(ev)
		if err != nil {
			log.Error("failed to encode archive event", zap.Error(err))
			continue
		}

		_, err = w.WriteString("data: " + string(data) + "\n\n")
		if err == nil {
			err = w.Flush()
		}
		if err != nil {
			log.Info("client left before archive finished", zap.Error(err))
			job.Drain()
			return
		}
	}
}

// handleZipDownload handles GET /api/zip/download?file=
func (s *Server) handleZipDownload(c *fiber.Ctx) error {
	res, err := s.deps.Retriever.Retrieve(c.Query("file"))
	if err != nil {
		return err
	}
	return send(c, res, "archive")
}
