package server

import (
	"context"
	"strconv"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"file-explorer/common"
	"file-explorer/scan"
)

const wsChunkSize = 10

// WSRequest asks for one page of a directory listing over the socket.
type WSRequest struct {
	Path      string `json:"path"`
	Search    string `json:"search"`
	Page      int    `json:"page"`
	Hash      *bool  `json:"hash,omitempty"`
	RequestID int    `json:"requestId"`
}

// WSMessage carries a chunk of a listing. A message with no items ends the
// reply to a request.
type WSMessage struct {
	RequestID  int               `json:"requestId"`
	Items      []*scan.FileEntry `json:"items"`
	TotalCount int               `json:"totalCount"`
	Page       int               `json:"currentPage"`
	Error      string            `json:"error,omitempty"`
	Status     int               `json:"status,omitempty"`
}

func (s *Server) handleWSFiles(c *websocket.Conn) {
	defer c.Close()

	log := s.wsLogger(c)
	log.Debug("websocket connected")

	for {
		var req WSRequest
		if err := c.ReadJSON(&req); err != nil {
			log.Debug("websocket closed", zap.Error(err))
			return
		}

		hash := ""
		if req.Hash != nil {
			hash = strconv.FormatBool(*req.Hash)
		}
		page := ""
		if req.Page != 0 {
			page = strconv.Itoa(req.Page)
		}

		opts, err := s.listOptions(req.Search, page, hash)
		var result *scan.Page
		if err == nil {
			result, err = s.deps.Lister.List(context.Background(), req.Path, opts)
		}
		if err != nil {
			if err := c.WriteJSON(s.wsError(req.RequestID, err)); err != nil {
				return
			}
			continue
		}

		// Send items in chunks, then an empty message to mark completion
		for i := 0; i < len(result.Entries); i += wsChunkSize {
			end := min(i+wsChunkSize, len(result.Entries))
			msg := WSMessage{
				RequestID:  req.RequestID,
				Items:      result.Entries[i:end],
				TotalCount: result.TotalCount,
				Page:       result.CurrentPage,
			}
			if err := c.WriteJSON(msg); err != nil {
				log.Debug("websocket write failed", zap.Error(err))
				return
			}
		}

		done := WSMessage{
			RequestID:  req.RequestID,
			Items:      []*scan.FileEntry{},
			TotalCount: result.TotalCount,
			Page:       result.CurrentPage,
		}
		if err := c.WriteJSON(done); err != nil {
			log.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
}

// handleWSZip builds one archive per request and relays its events.
func (s *Server) handleWSZip(c *websocket.Conn) {
	defer c.Close()

	log := s.wsLogger(c)

	for {
		var req zipRequest
		if err := c.ReadJSON(&req); err != nil {
			log.Debug("websocket closed", zap.Error(err))
			return
		}

		job, err := s.deps.Builder.Build(context.Background(), req.FolderPath)
		if err != nil {
			status := common.Status(err)
			if status >= 500 {
				log.Error("archive request failed", zap.Error(err))
			}
			msg := map[string]any{"event": "error", "message": common.PublicMessage(err), "status": status}
			if err := c.WriteJSON(msg); err != nil {
				return
			}
			continue
		}

		for ev := range job.Events() {
			if err := c.WriteJSON(ev); err != nil {
				log.Info("client left before archive finished", zap.String("archive", job.Name), zap.Error(err))
				job.Drain()
				return
			}
		}
	}
}

func (s *Server) wsError(requestID int, err error) WSMessage {
	status := common.Status(err)
	if status >= 500 {
		s.log.Error("websocket listing failed", zap.Error(err))
	}
	return WSMessage{
		RequestID: requestID,
		Items:     []*scan.FileEntry{},
		Error:     common.PublicMessage(err),
		Status:    status,
	}
}

func (s *Server) wsLogger(c *websocket.Conn) *zap.Logger {
	if id, ok := c.Locals("request_id").(string); ok {
		return s.log.With(zap.String("request_id", id))
	}
	return s.log
}
