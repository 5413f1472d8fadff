// Package server wires the explorer components to fiber routes.
package server

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"file-explorer/archive"
	"file-explorer/auth"
	"file-explorer/common"
	"file-explorer/logging"
	"file-explorer/metrics"
	"file-explorer/scan"
	"file-explorer/stream"
)

type Deps struct {
	Lister    *scan.Lister
	Streamer  *stream.Streamer
	Builder   *archive.Builder
	Retriever *archive.Retriever
	Gate      *auth.Gate
	Log       *zap.Logger

	// HashByDefault is used when a listing request has no hash parameter.
	HashByDefault bool
}

type Server struct {
	app  *fiber.App
	deps Deps
	log  *zap.Logger
}

func New(d Deps) *Server {
	s := &Server{deps: d, log: d.Log}

	s.app = fiber.New(fiber.Config{
		AppName:               "file-explorer",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	s.app.Use(recover.New())
	s.app.Use(cors.New())
	s.app.Use(logging.Middleware(d.Log))
	s.app.Use(metrics.Middleware())

	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.app.Get("/metrics", metrics.Handler())

	s.app.Use(d.Gate.Middleware("/api/login", "/healthz", "/metrics"))

	s.app.Post("/api/login", d.Gate.HandleLogin)
	s.app.Post("/api/logout", d.Gate.HandleLogout)

	s.app.Get("/api/files", s.handleList)
	s.app.Get("/api/files/download", s.handleDownload)
	s.app.Get("/api/files/stream", s.handleStream)

	s.app.Post("/api/zip", s.handleZip)
	s.app.Get("/api/zip/download", s.handleZipDownload)

	// WebSocket upgrade middleware
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws/files", websocket.New(s.handleWSFiles))
	s.app.Get("/ws/zip", websocket.New(s.handleWSZip))

	return s
}

func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen(addr string) error {
	s.log.Info("server starting", zap.String("addr", addr))
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// handleError renders every error as {"error": msg, "status": code}.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(errorBody(fe.Message, fe.Code))
	}

	status := common.Status(err)
	if status == fiber.StatusInternalServerError {
		logging.FromCtx(c).Error("request failed",
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	}
	return c.Status(status).JSON(errorBody(common.PublicMessage(err), status))
}

func errorBody(msg string, status int) fiber.Map {
	return fiber.Map{"error": msg, "status": status}
}
