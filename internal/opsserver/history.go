package opsserver

import (
	"net/http"
	"strconv"
)

const maxHistoryLimit = 500

type historyResponse struct {
	Service     string          `json:"service"`
	Transitions []transitionDto `json:"transitions"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("service")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxHistoryLimit)
	}

	transitions, err := s.history.History(r.Context(), name, limit)
	if err != nil {
		s.log.Error().Err(err).Msgf("failed to load history for %s", name)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	resp := historyResponse{
		Service:     name,
		Transitions: make([]transitionDto, 0, len(transitions)),
	}
	for _, t := range transitions {
		resp.Transitions = append(resp.Transitions, transitionToDto(t))
	}
	writeJSON(w, http.StatusOK, resp)
}
