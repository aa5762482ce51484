// Package httpapi is the request/response control surface. It reads and
// writes through the same assessment store as the live transport, so
// polling clients and websocket clients always see the same records.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"bytemomo/redstorm/internal/domain"
	"bytemomo/redstorm/internal/entity"
)

// Starter is the one orchestrator operation the HTTP surface needs.
type Starter interface {
	Start(target, clientID string, phases []string) (string, error)
}

type Server struct {
	store   domain.AssessmentStore
	starter Starter
	version string
}

func New(store domain.AssessmentStore, starter Starter, version string) *Server {
	return &Server{store: store, starter: starter, version: version}
}

// Register mounts the API routes onto mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /api/v1/assessments", s.handleList)
	mux.HandleFunc("POST /api/v1/assessments", s.handleCreate)
	mux.HandleFunc("GET /api/v1/assessments/{id}", s.handleGet)
	mux.HandleFunc("DELETE /api/v1/assessments/{id}", s.handleDelete)
}

type createRequest struct {
	Target   string   `json:"target"`
	ClientID string   `json:"client_id"`
	Phases   []string `json:"phases,omitempty"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.ClientID == "" {
		writeError(w, http.StatusBadRequest, "client_id is required")
		return
	}

	id, err := s.starter.Start(req.Target, req.ClientID, req.Phases)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidTarget), errors.Is(err, domain.ErrUnknownPhase):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrConcurrencyLimit):
			writeError(w, http.StatusConflict, err.Error())
		default:
			log.WithError(err).Error("Start assessment failed")
			writeError(w, http.StatusInternalServerError, "failed to start assessment")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"assessment_id": id})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "assessment not found")
			return
		}
		log.WithError(err).Error("Get assessment failed")
		writeError(w, http.StatusInternalServerError, "store read failed")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var (
		records []*entity.Assessment
		err     error
	)
	if r.URL.Query().Get("active") == "true" {
		records, err = s.store.ListActive(r.URL.Query().Get("client_id"))
	} else {
		records, err = s.store.List()
	}
	if err != nil {
		log.WithError(err).Error("List assessments failed")
		writeError(w, http.StatusInternalServerError, "store read failed")
		return
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"assessments": records,
		"count":       len(records),
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	a, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "assessment not found")
			return
		}
		log.WithError(err).Error("Get assessment failed")
		writeError(w, http.StatusInternalServerError, "store read failed")
		return
	}
	if a.Status.Active() {
		writeError(w, http.StatusConflict, "assessment is still active")
		return
	}
	if err := s.store.Delete(id); err != nil {
		log.WithError(err).Error("Delete assessment failed")
		writeError(w, http.StatusInternalServerError, "store delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if _, err := s.store.List(); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"version":   s.version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.List()
	if err != nil {
		log.WithError(err).Error("List assessments failed")
		writeError(w, http.StatusInternalServerError, "store read failed")
		return
	}

	byStatus := map[entity.Status]int{}
	for _, a := range records {
		byStatus[a.Status]++
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":     len(records),
		"by_status": byStatus,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Response encode failed")
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]any{"error": message})
}
