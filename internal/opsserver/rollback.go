package opsserver

import (
	"errors"
	"net/http"

	"github.com/Sh00ty/cloud-rollout/internal/reconciler"
)

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("service")

	err := s.deps.Rollback(r.Context(), name)
	switch {
	case err == nil:
		s.log.Info().Msgf("operator rollback accepted for %s", name)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "rolling-back"})
	case errors.Is(err, reconciler.ErrUnknownService):
		writeError(w, http.StatusNotFound, "service %s is not deployed on this node, ask its owner", name)
	case errors.Is(err, reconciler.ErrNotCancellable):
		writeError(w, http.StatusConflict, "service %s has no cancellable deployment in flight", name)
	case errors.Is(err, reconciler.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, "deployment engine is shutting down")
	default:
		s.log.Error().Err(err).Msgf("rollback of %s failed", name)
		writeError(w, http.StatusInternalServerError, "rollback failed")
	}
}
