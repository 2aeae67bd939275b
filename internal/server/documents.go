// Package server — documents.go contains the document management handlers:
// multipart upload into the ingestion pipeline, registry listing, and
// removal with cascade into the vector store.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/meridell/docqa-go/internal/logging"
	"github.com/meridell/docqa-go/internal/rag"
)

// writeJSONError writes a JSON-formatted error response with the given status code.
func writeJSONError(w http.ResponseWriter, msg string, status int) {
	http.Error(w, `{"error":"`+msg+`"}`, status)
}

// handleUploadDocument handles POST /api/documents. It accepts one file in
// the multipart field "file", runs it through the ingestion pipeline, and
// returns the ingestion summary with 201 Created. Re-uploading a file with
// the same name replaces the earlier version.
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	// The extra MiB covers multipart framing overhead so a file exactly at
	// the cap still uploads.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize+1<<20)

	file, header, err := r.FormFile("file")
	if err != nil {
		if isBodyTooLarge(err) {
			writeJSONError(w, "uploaded file is too large", http.StatusRequestEntityTooLarge)
			return
		}
		writeJSONError(w, "multipart field 'file' is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		if isBodyTooLarge(err) {
			writeJSONError(w, "uploaded file is too large", http.StatusRequestEntityTooLarge)
			return
		}
		writeJSONError(w, "failed to read upload", http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		writeJSONError(w, "uploaded file is empty", http.StatusBadRequest)
		return
	}
	// The body cap is padded for framing, so the file itself still needs
	// the exact check.
	if int64(len(data)) > s.cfg.MaxUploadSize {
		writeJSONError(w, "uploaded file is too large", http.StatusRequestEntityTooLarge)
		return
	}

	// Base name only; the client's directory structure is not trusted.
	name := filepath.Base(header.Filename)
	if name == "." || name == "/" || name == "" {
		writeJSONError(w, "file name is required", http.StatusBadRequest)
		return
	}

	summary, err := s.uploader.IngestBytes(r.Context(), name, header.Header.Get("Content-Type"), data, nil)
	if err != nil {
		s.metrics.uploadsTotal.WithLabelValues(outcomeError).Inc()
		if errors.Is(err, rag.ErrNotReady) {
			writeJSONError(w, "engine not ready", http.StatusServiceUnavailable)
			return
		}
		log.Error("upload ingest failed",
			slog.String("name", name),
			slog.Any("error", err),
		)
		writeJSONError(w, "ingestion failed", http.StatusInternalServerError)
		return
	}
	s.metrics.uploadsTotal.WithLabelValues(outcomeOK).Inc()

	log.Info("document uploaded",
		slog.String("id", summary.DocumentID),
		slog.String("name", summary.Name),
		slog.Int("chunks", summary.Chunks),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(summary); err != nil {
		log.Error("upload encode error", slog.Any("error", err))
	}
}

// handleListDocuments handles GET /api/documents. It returns the registry
// snapshot in upload order.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs := s.engine.Documents()

	resp := documentListResponse{
		Documents: make([]documentInfo, 0, len(docs)),
		Count:     len(docs),
	}
	for _, d := range docs {
		resp.Documents = append(resp.Documents, documentInfo{
			ID:         d.ID,
			Name:       d.Name,
			Chunks:     len(d.Chunks),
			Quality:    string(d.Metadata.Quality),
			Method:     d.Metadata.Method,
			UploadedAt: d.UploadedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.FromContext(r.Context()).Error("documents encode error", slog.Any("error", err))
	}
}

// handleDeleteDocument handles DELETE /api/documents/{id}. Removal cascades
// into the vector store so no chunk of the document can be retrieved again.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeJSONError(w, "document id is required", http.StatusBadRequest)
		return
	}

	if err := s.engine.RemoveDocument(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, rag.ErrNotFound):
			writeJSONError(w, "document not found", http.StatusNotFound)
		case errors.Is(err, rag.ErrNotReady):
			writeJSONError(w, "engine not ready", http.StatusServiceUnavailable)
		default:
			logging.FromContext(r.Context()).Error("document delete failed",
				slog.String("id", id),
				slog.Any("error", err),
			)
			writeJSONError(w, "failed to delete document", http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// isBodyTooLarge reports whether err came from the MaxBytesReader cap.
func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
