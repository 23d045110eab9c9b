package gateway

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/codekinian-dev/seed-chain-zta/pkg/api"
)

// allowedMIMETypes is the document allow-list: certification paperwork and
// field photos, nothing executable.
var allowedMIMETypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
	"image/jpeg": true,
	"image/png":  true,
}

var allowedExtensions = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true,
	".xls": true, ".xlsx": true,
	".jpg": true, ".jpeg": true, ".png": true,
}

// upload is one accepted multipart file, staged on disk until the content
// store has taken it.
type upload struct {
	path     string // staging path under the upload dir
	filename string // client-supplied name, base only
	logger   *slog.Logger
}

// cleanup removes the staged file. Safe to call after the content store has
// consumed it; the pinned copy lives in the content store, not here.
func (u *upload) cleanup() {
	if u == nil || u.path == "" {
		return
	}
	if err := os.Remove(u.path); err != nil && !os.IsNotExist(err) {
		u.logger.Warn("failed to remove staged upload", "path", u.path, "error", err)
	}
}

// parseUpload reads a multipart request carrying exactly one file under the
// "file" field plus form values. On any rejection it writes the 400/413
// itself and returns ok=false. body carries the form values for schema
// validation.
func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) (*upload, map[string]any, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+1<<20)

	if err := r.ParseMultipartForm(s.cfg.MaxFileSize); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			api.WriteError(w, http.StatusRequestEntityTooLarge, "Payload Too Large",
				fmt.Sprintf("file exceeds the %d byte limit", s.cfg.MaxFileSize))
			return nil, nil, false
		}
		api.WriteBadRequest(w, "request must be multipart/form-data with a single file field")
		return nil, nil, false
	}

	files := r.MultipartForm.File["file"]
	switch {
	case len(files) == 0:
		api.WriteBadRequest(w, "a supporting document is required under the 'file' field")
		return nil, nil, false
	case len(files) > 1:
		api.WriteBadRequest(w, "exactly one file may be uploaded per request")
		return nil, nil, false
	}
	header := files[0]

	if header.Size > s.cfg.MaxFileSize {
		api.WriteError(w, http.StatusRequestEntityTooLarge, "Payload Too Large",
			fmt.Sprintf("file exceeds the %d byte limit", s.cfg.MaxFileSize))
		return nil, nil, false
	}

	filename := filepath.Base(header.Filename)
	ext := strings.ToLower(filepath.Ext(filename))
	mimeType := header.Header.Get("Content-Type")
	if !allowedExtensions[ext] || !allowedMIMETypes[mimeType] {
		api.WriteBadRequest(w, fmt.Sprintf("file type not allowed: %s (%s)", ext, mimeType))
		return nil, nil, false
	}

	path, err := s.stage(header)
	if err != nil {
		s.logger.Error("failed to stage upload", "error", err)
		api.WriteInternal(w, err)
		return nil, nil, false
	}

	body := make(map[string]any, len(r.MultipartForm.Value))
	for key, values := range r.MultipartForm.Value {
		if len(values) > 0 {
			body[key] = values[0]
		}
	}

	return &upload{path: path, filename: filename, logger: s.logger}, body, true
}

// stage copies the multipart part into the upload directory under a random
// name. The client-supplied filename never touches the filesystem.
func (s *Server) stage(header *multipart.FileHeader) (string, error) {
	src, err := header.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open uploaded file: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(s.cfg.UploadDir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create upload dir: %w", err)
	}

	path := filepath.Join(s.cfg.UploadDir, uuid.NewString()+strings.ToLower(filepath.Ext(header.Filename)))
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create staging file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write staging file: %w", err)
	}
	return path, nil
}
