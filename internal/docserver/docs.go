package docserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/marcus/coursesync/internal/models"
	"github.com/marcus/coursesync/internal/remote"
)

// snapshotOrder is the order used for pushed snapshots.
const snapshotOrder = "-createdAt"

type fieldsRequest struct {
	Fields map[string]any `json:"fields"`
}

type createResponse struct {
	ID string `json:"id"`
}

type incrementRequest struct {
	Field string `json:"field"`
	Delta int64  `json:"delta"`
}

type incrementResponse struct {
	Value int64 `json:"value"`
}

type listResponse struct {
	Documents []models.Document `json:"documents"`
}

// handleCreate adds a document to the collection in the URL.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("path")
	var req fieldsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	doc, err := s.store.Create(collection, req.Fields)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	s.metrics.RecordWrite()
	logFor(r.Context()).Debug("doc created", "path", doc.Path)
	s.publish(r, collection)
	writeJSON(w, http.StatusCreated, createResponse{ID: doc.ID})
}

// handleSet writes a document at an explicit path.
func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	var req fieldsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	doc, err := s.store.Set(path, req.Fields)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	s.metrics.RecordWrite()
	s.publishParent(r, doc.Path)
	writeJSON(w, http.StatusOK, doc)
}

// handleIncrement adds delta to a numeric field.
func (s *Server) handleIncrement(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	var req incrementRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Field == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "field is required")
		return
	}
	value, err := s.store.Increment(path, req.Field, req.Delta)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	s.metrics.RecordWrite()
	s.publishParent(r, path)
	writeJSON(w, http.StatusOK, incrementResponse{Value: value})
}

// handleGet returns a document, or the whole collection when the path has an
// odd number of segments. Collection responses carry an ETag and honor
// If-None-Match.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	if remote.IsDocumentPath(path) {
		doc, err := s.store.Get(path)
		if err != nil {
			writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
		return
	}

	docs, err := s.store.List(path, r.URL.Query().Get("order_by"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	body, err := json.Marshal(listResponse{Documents: docs})
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	etag := fmt.Sprintf(`"%016x"`, xxhash.Sum64(body))
	w.Header().Set("ETag", etag)
	if matchesETag(r.Header.Get("If-None-Match"), etag) {
		s.metrics.RecordNotModified()
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// publish pushes the current snapshot of collection to its subscribers.
func (s *Server) publish(r *http.Request, collection string) {
	if err := s.hub.Publish(collection, s.snapshot(collection)); err != nil {
		logFor(r.Context()).Warn("publish: list", "collection", collection, "err", err)
	}
}

func (s *Server) snapshot(collection string) func() ([]models.Document, error) {
	return func() ([]models.Document, error) {
		return s.store.List(collection, snapshotOrder)
	}
}

func (s *Server) publishParent(r *http.Request, docPath string) {
	collection, _, err := remote.SplitDocumentPath(docPath)
	if err != nil {
		return
	}
	s.publish(r, collection)
}

func matchesETag(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

// decodeBody decodes a JSON request body, writing the error response itself
// when decoding fails.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return false
	}
	return true
}
