package opsserver

import (
	"errors"
	"net/http"

	"github.com/Sh00ty/cloud-rollout/internal/storage"
)

// handleRemoveService deletes the service from the catalog. The owning
// node notices on its next ownership sync and tears the instances down,
// so a 204 here means "scheduled", not "gone".
func (s *Server) handleRemoveService(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("service")

	if err := s.catalog.DeleteService(r.Context(), name); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "service %s not found", name)
			return
		}
		s.log.Error().Err(err).Msgf("failed to delete service %s", name)
		writeError(w, http.StatusInternalServerError, "failed to delete service")
		return
	}
	s.sync.Kick()

	s.log.Info().Msgf("service %s removed from catalog", name)
	w.WriteHeader(http.StatusNoContent)
}
