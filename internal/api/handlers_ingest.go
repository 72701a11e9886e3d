package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/docrecon/internal/parser"
	"github.com/dgallion1/docrecon/internal/pipeline"
)

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// Extra 1MB for form overhead.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	file.Close()

	job, code, err := s.accept(header)
	if err != nil {
		jsonError(w, err.Error(), code)
		return
	}
	writeJSON(w, http.StatusAccepted, jobAccepted(job))
}

func (s *Server) handleBatchUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes*10+10*1024*1024)

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		jsonError(w, "at least one file is required", http.StatusBadRequest)
		return
	}

	results := make([]map[string]any, 0, len(files))
	for _, fh := range files {
		job, _, err := s.accept(fh)
		if err != nil {
			results = append(results, map[string]any{
				"filename": sanitizeFilename(fh.Filename),
				"error":    err.Error(),
			})
			continue
		}
		results = append(results, jobAccepted(job))
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"jobs": results})
}

// accept reads one uploaded file and queues it. On failure it returns the
// status code to answer with.
func (s *Server) accept(fh *multipart.FileHeader) (*pipeline.Job, int, error) {
	filename := sanitizeFilename(fh.Filename)
	if !parser.IsSupportedExtension(filename) {
		return nil, http.StatusBadRequest, fmt.Errorf("unsupported file type: %s", filepath.Ext(filename))
	}

	f, err := fh.Open()
	if err != nil {
		return nil, http.StatusInternalServerError, errors.New("failed to open file")
	}
	data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadBytes+1))
	f.Close()
	if err != nil {
		return nil, http.StatusInternalServerError, errors.New("failed to read file")
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return nil, http.StatusRequestEntityTooLarge, fmt.Errorf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes)
	}
	if len(data) == 0 {
		return nil, http.StatusBadRequest, errors.New("file is empty")
	}

	job := pipeline.NewJob(filename, data)
	if err := s.jobs.Submit(job); err != nil {
		return nil, http.StatusServiceUnavailable, err
	}
	s.log.Info("job queued", "job_id", job.ID, "filename", filename, "bytes", len(data))
	return job, http.StatusAccepted, nil
}

func jobAccepted(job *pipeline.Job) map[string]any {
	snap := job.Snapshot()
	return map[string]any{
		"job_id":       snap.ID,
		"filename":     snap.Filename,
		"status":       snap.Status,
		"content_hash": job.ContentHash,
		"poll_url":     fmt.Sprintf("/api/jobs/%s", snap.ID),
	}
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job := s.jobs.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

// handleJobResult returns the reconstruction result once the job has left
// the processing phases.
func (s *Server) handleJobResult(w http.ResponseWriter, r *http.Request) {
	job := s.jobs.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	snap := job.Snapshot()
	res := job.Result()
	if res == nil {
		if snap.Status == pipeline.StatusFailed {
			jsonError(w, "job failed: "+strings.Join(snap.Progress.Errors, "; "), http.StatusUnprocessableEntity)
			return
		}
		jsonError(w, "job not finished", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":       snap.ID,
		"status":       snap.Status,
		"document_ids": snap.DocumentIDs,
		"output_dir":   snap.OutputDir,
		"result":       res,
	})
}

func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." || name == "/" {
		name = "unnamed"
	}
	return name
}
