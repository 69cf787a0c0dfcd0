// Package httpapi exposes the RAG service over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"os"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/phuslu/log"

	"ragmerge/internal/domain"
	"ragmerge/internal/logger"
	"ragmerge/internal/service"
)

// Config configures the HTTP server.
type Config struct {
	// UploadDir receives files posted to /index; they stay there as the
	// permanent copy of the indexed documents.
	UploadDir   string
	BodyLimitMB int
}

// Server wires the routes to a RAGService.
type Server struct {
	app       *fiber.App
	svc       *service.RAGService
	uploadDir string
	log       *log.Logger
}

// New builds the fiber app and registers all routes.
func New(svc *service.RAGService, cfg Config, l *log.Logger) *Server {
	if cfg.BodyLimitMB <= 0 {
		cfg.BodyLimitMB = 32
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = filepath.Join(os.TempDir(), "rag-uploads")
	}
	s := &Server{svc: svc, uploadDir: cfg.UploadDir, log: logger.OrDiscard(l)}
	s.app = fiber.New(fiber.Config{
		AppName:      "rag",
		BodyLimit:    cfg.BodyLimitMB << 20,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		UnescapePath: true,
		ErrorHandler: s.handleError,
	})
	s.app.Use(recover.New())
	s.app.Use(fiber.Handler(s.accessLog))
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})
	s.app.Get("/status", s.status)
	s.app.Post("/query", s.query)
	s.app.Post("/reload", s.reload)

	s.app.Post("/index", s.index)
	s.app.Delete("/index", s.clear)
	s.app.Get("/documents", s.documents)
	s.app.Delete("/documents/:filename", s.deleteDocument)

	s.app.Get("/sessions", s.listSessions)
	sessions := s.app.Group("/sessions")
	sessions.Post("/upload", s.upload)
	sessions.Delete("/:id", s.deleteSession)
	sessions.Get("/:id/files", s.sessionFiles)
	sessions.Get("/:id/files/:filename", s.sessionFile)
	sessions.Delete("/:id/files/:filename", s.deleteSessionFile)
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves until Shutdown is called.
func (s *Server) Listen(addr string) error {
	s.log.Info().Str("addr", addr).Msg("http server listening")
	return s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) accessLog(c fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	status := c.Response().StatusCode()
	if err != nil {
		status = statusOf(err)
	}
	s.log.Info().
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", status).
		Dur("took", time.Since(start)).
		Msg("request")
	return err
}

func (s *Server) handleError(c fiber.Ctx, err error) error {
	code := statusOf(err)
	if code >= fiber.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func statusOf(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, domain.ErrEmptyQuestion),
		errors.Is(err, domain.ErrEmptySource),
		errors.Is(err, domain.ErrNoPassages),
		errors.Is(err, domain.ErrInvalidConfig):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrDocumentNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrDimensionMismatch):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

// saveUploads stores every file of field into dir under its base name.
func saveUploads(c fiber.Ctx, dir string, fields ...string) ([]string, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "expected a multipart form")
	}
	var headers []*multipart.FileHeader
	for _, f := range fields {
		headers = append(headers, form.File[f]...)
	}
	if len(headers) == 0 {
		return nil, fiber.NewError(fiber.StatusBadRequest, "no files uploaded")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	paths := make([]string, 0, len(headers))
	for _, h := range headers {
		name := filepath.Base(h.Filename)
		if name == "." || name == string(filepath.Separator) {
			return nil, fiber.NewError(fiber.StatusBadRequest, "invalid file name")
		}
		path := filepath.Join(dir, name)
		if err := c.SaveFile(h, path); err != nil {
			return nil, fmt.Errorf("save %s: %w", name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
