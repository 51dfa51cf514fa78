package opsserver

import (
	"errors"
	"net/http"

	"github.com/Sh00ty/cloud-rollout/internal/storage"
)

type serviceStatusResponse struct {
	Spec   serviceDto `json:"spec"`
	Record *recordDto `json:"record,omitempty"`
}

func (s *Server) handleGetService(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("service")

	spec, err := s.catalog.GetService(r.Context(), name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "service %s not found", name)
			return
		}
		s.log.Error().Err(err).Msgf("failed to load service %s", name)
		writeError(w, http.StatusInternalServerError, "failed to load service")
		return
	}

	resp := serviceStatusResponse{Spec: serviceToDto(spec)}
	rec, err := s.catalog.GetRecord(r.Context(), name)
	switch {
	case err == nil:
		dto := recordToDto(rec)
		resp.Record = &dto
	case errors.Is(err, storage.ErrNotFound):
		// Registered but never deployed, the record appears with the
		// first discovered fingerprint.
	default:
		s.log.Error().Err(err).Msgf("failed to load record for %s", name)
		writeError(w, http.StatusInternalServerError, "failed to load deployment record")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
