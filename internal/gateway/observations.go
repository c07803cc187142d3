package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/KafClaw/hivemind/internal/memory"
)

type saveObservationRequest struct {
	memory.ObservationInput
	SessionID       string `json:"session_id"`
	AgentID         string `json:"agent_id"`
	ProjectID       string `json:"project_id"`
	DiscoveryTokens int64  `json:"discovery_tokens"`
	Source          string `json:"source"`
}

func (s *Server) handleSaveObservation(w http.ResponseWriter, r *http.Request) {
	var req saveObservationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ProjectID == "" && req.SessionID != "" {
		projectID, err := s.store.SessionProject(r.Context(), req.SessionID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		req.ProjectID = projectID
	}
	id, err := s.memory.Save(r.Context(), req.ObservationInput, memory.SaveOptions{
		SessionID:       req.SessionID,
		AgentID:         req.AgentID,
		ProjectID:       req.ProjectID,
		DiscoveryTokens: req.DiscoveryTokens,
		Source:          req.Source,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) handleSearchObservations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	days, _ := strconv.Atoi(q.Get("days"))
	results, err := s.memory.Search(r.Context(), memory.SearchQuery{
		ProjectID: q.Get("project_id"),
		Query:     q.Get("q"),
		Type:      q.Get("type"),
		AgentName: q.Get("agent"),
		Limit:     limit,
		Days:      days,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if results == nil {
		results = []memory.Observation{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleGetObservation(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	obs, err := s.memory.Get(r.Context(), id)
	if errors.Is(err, memory.ErrNotFound) {
		writeError(w, http.StatusNotFound, "observation not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, obs)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	before, after := 3, 3
	if v, err := strconv.Atoi(r.URL.Query().Get("before")); err == nil && v >= 0 {
		before = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("after")); err == nil && v >= 0 {
		after = v
	}
	rows, err := s.memory.Timeline(r.Context(), id, before, after)
	if errors.Is(err, memory.ErrNotFound) {
		writeError(w, http.StatusNotFound, "observation not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
