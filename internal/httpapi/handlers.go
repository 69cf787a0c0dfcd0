package httpapi

import (
	"fmt"
	"os"
	"strings"

	"github.com/gofiber/fiber/v3"

	"ragmerge/internal/corpus"
	"ragmerge/internal/domain"
	"ragmerge/internal/indexing"
	"ragmerge/internal/session"
)

type queryRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
}

type indexRequest struct {
	Source string `json:"source"`
}

type sessionFileResponse struct {
	Filename string   `json:"filename"`
	Chunks   []string `json:"chunks"`
}

func (s *Server) status(c fiber.Ctx) error {
	return c.JSON(s.svc.Status())
}

func (s *Server) query(c fiber.Ctx) error {
	var req queryRequest
	if err := c.Bind().JSON(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	answer, err := s.svc.Ask(c.Context(), req.Question, req.SessionID)
	if err != nil {
		return err
	}
	return c.JSON(answer)
}

func (s *Server) reload(c fiber.Ctx) error {
	if err := s.svc.Reload(); err != nil {
		return err
	}
	return c.JSON(s.svc.Status())
}

// index accepts either a JSON {"source": ...} body naming a path or raw
// text, or multipart files under "files".
func (s *Server) index(c fiber.Ctx) error {
	var sources []string
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		paths, err := saveUploads(c, s.uploadDir, "files", "file")
		if err != nil {
			return err
		}
		sources = paths
	} else {
		var req indexRequest
		if err := c.Bind().JSON(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if strings.TrimSpace(req.Source) == "" {
			return fiber.NewError(fiber.StatusBadRequest, "source is required")
		}
		sources = []string{req.Source}
	}

	results := make([]indexing.Result, 0, len(sources))
	for _, src := range sources {
		res, err := s.svc.Index(c.Context(), src)
		if err != nil {
			return err
		}
		results = append(results, res)
	}
	return c.JSON(fiber.Map{"results": results})
}

func (s *Server) clear(c fiber.Ctx) error {
	if err := s.svc.Clear(); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"cleared": true})
}

func (s *Server) documents(c fiber.Ctx) error {
	docs, err := s.svc.Documents()
	if err != nil {
		return err
	}
	if docs == nil {
		docs = []corpus.Document{}
	}
	return c.JSON(fiber.Map{"documents": docs, "total": len(docs)})
}

func (s *Server) deleteDocument(c fiber.Ctx) error {
	name := c.Params("filename")
	removed, err := s.svc.DeleteDocument(c.Context(), name)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"filename": name, "removed_chunks": removed})
}

// upload indexes multipart files into a session. The optional session_id
// form field selects an existing session; without it a new one is created.
func (s *Server) upload(c fiber.Ctx) error {
	tmp, err := os.MkdirTemp("", "rag-session-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	paths, err := saveUploads(c, tmp, "files", "file")
	if err != nil {
		return err
	}
	id, files, err := s.svc.UploadAll(c.Context(), strings.TrimSpace(c.FormValue("session_id")), paths)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"session_id": id, "files": files})
}

func (s *Server) listSessions(c fiber.Ctx) error {
	list := s.svc.Sessions.Sessions()
	if list == nil {
		list = []session.Info{}
	}
	return c.JSON(fiber.Map{"sessions": list, "total": len(list)})
}

func (s *Server) deleteSession(c fiber.Ctx) error {
	id := c.Params("id")
	if !s.svc.Sessions.RemoveTempIndex(id) {
		return fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
	}
	return c.JSON(fiber.Map{"session_id": id, "deleted": true})
}

func (s *Server) sessionFiles(c fiber.Ctx) error {
	id := c.Params("id")
	files, ok := s.svc.Sessions.Files(id)
	if !ok {
		return fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
	}
	return c.JSON(fiber.Map{"session_id": id, "files": files})
}

func (s *Server) sessionFile(c fiber.Ctx) error {
	id, name := c.Params("id"), c.Params("filename")
	if !s.svc.Sessions.HasSession(id) {
		return fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
	}
	b, ok := s.svc.Sessions.GetTempFileContent(id, name)
	if !ok {
		return fmt.Errorf("file %s: %w", name, domain.ErrDocumentNotFound)
	}
	chunks := make([]string, len(b.Chunks))
	for i, ch := range b.Chunks {
		chunks[i] = ch.Text
	}
	return c.JSON(sessionFileResponse{Filename: name, Chunks: chunks})
}

func (s *Server) deleteSessionFile(c fiber.Ctx) error {
	id, name := c.Params("id"), c.Params("filename")
	if !s.svc.Sessions.HasSession(id) {
		return fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
	}
	if !s.svc.Sessions.RemoveTempFile(id, name) {
		return fmt.Errorf("file %s: %w", name, domain.ErrDocumentNotFound)
	}
	return c.JSON(fiber.Map{"session_id": id, "filename": name, "deleted": true})
}
