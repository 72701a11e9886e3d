package api

import "net/http"

func (s *Server) handleOCRStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		jsonError(w, "ocr stats unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"backend": s.cfg.OCRBackend,
		"stats":   s.stats.Snapshot(),
	})
}
