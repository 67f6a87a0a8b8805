package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"presupuesto/internal/core"
	"presupuesto/internal/log"
	"presupuesto/internal/middleware/trace"
)

// FallbackHeader tells clients whether the body came from the bundled
// snapshot rather than a live source.
const FallbackHeader = "X-Data-Fallback"

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	top, ok := parseTop(w, r)
	if !ok {
		return
	}

	m := s.svc.Budget(r.Context())
	if top > 0 && top < len(m.Categories) {
		m.Categories = m.Categories[:top]
	}

	w.Header().Set(FallbackHeader, strconv.FormatBool(m.Fallback))
	writeJSON(w, r, http.StatusOK, m)
}

func (s *Server) handleBudgetCategory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id < 0 {
		writeError(w, r, http.StatusBadRequest, "category id must be a non-negative integer")
		return
	}

	m := s.svc.Budget(r.Context())
	w.Header().Set(FallbackHeader, strconv.FormatBool(m.Fallback))
	for _, c := range m.Categories {
		if c.ID == id {
			writeJSON(w, r, http.StatusOK, struct {
				core.BudgetCategory
				FiscalYear int    `json:"fiscal_year"`
				Source     string `json:"source"`
			}{c, m.FiscalYear, m.Source})
			return
		}
	}
	writeError(w, r, http.StatusNotFound, "category "+strconv.Itoa(id)+" not found")
}

func (s *Server) handleMobility(w http.ResponseWriter, r *http.Request) {
	top, ok := parseTop(w, r)
	if !ok {
		return
	}

	v := s.svc.Mobility(r.Context())
	if top > 0 && top < len(v.Profiles) {
		v.Profiles = v.Profiles[:top]
	}

	w.Header().Set(FallbackHeader, strconv.FormatBool(v.Fallback))
	writeJSON(w, r, http.StatusOK, v)
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{"sources": s.svc.Sources()})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "no such endpoint")
}

// parseTop reads the optional ?top=N limit. It writes a 400 and returns false
// when the value is not a positive integer.
func parseTop(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := strings.TrimSpace(r.URL.Query().Get("top"))
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		writeError(w, r, http.StatusBadRequest, "top must be a positive integer")
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to encode response",
			log.FieldError, err,
			log.FieldPath, r.URL.Path)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, errorResponse{Error: msg, RequestID: trace.GetRequestID(r.Context())})
}
