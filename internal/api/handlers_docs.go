package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/docrecon/internal/store"
)

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.ListOptions{DocumentType: q.Get("document_type")}
	var err error
	if opts.Offset, err = intParam(q.Get("offset")); err != nil {
		jsonError(w, "invalid offset", http.StatusBadRequest)
		return
	}
	if opts.Limit, err = intParam(q.Get("limit")); err != nil {
		jsonError(w, "invalid limit", http.StatusBadRequest)
		return
	}

	docs, total, err := s.store.List(r.Context(), opts)
	if err != nil {
		s.log.Error("list documents", "error", err)
		jsonError(w, "failed to list documents", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
		"total":     total,
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := docID(w, r)
	if !ok {
		return
	}
	doc, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleUpdateDocument applies manual corrections to a document's fields.
func (s *Server) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := docID(w, r)
	if !ok {
		return
	}
	var fields map[string]string
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&fields); err != nil {
		jsonError(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return
	}
	doc, err := s.store.Update(r.Context(), id, fields)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := docID(w, r)
	if !ok {
		return
	}
	if err := s.store.Delete(r.Context(), id); err != nil {
		s.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDocumentPages(w http.ResponseWriter, r *http.Request) {
	id, ok := docID(w, r)
	if !ok {
		return
	}
	if _, err := s.store.Get(r.Context(), id); err != nil {
		s.storeError(w, err)
		return
	}
	pages, err := s.store.Pages(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	var ve *store.ValidationError
	switch {
	case errors.Is(err, store.ErrNotFound):
		jsonError(w, "document not found", http.StatusNotFound)
	case errors.As(err, &ve):
		jsonError(w, ve.Error(), http.StatusBadRequest)
	default:
		s.log.Error("store error", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

func docID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "docID"), 10, 64)
	if err != nil || id <= 0 {
		jsonError(w, "invalid document id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid integer")
	}
	return n, nil
}
