package opsserver

import (
	"errors"
	"net/http"

	"github.com/Sh00ty/cloud-rollout/internal/reconciler"
)

func (s *Server) handleClearPoison(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("service")

	err := s.deps.ClearPoison(r.Context(), name)
	switch {
	case err == nil:
		s.log.Info().Msgf("poison cleared for %s", name)
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, reconciler.ErrUnknownService):
		writeError(w, http.StatusNotFound, "service %s is not deployed on this node, ask its owner", name)
	case errors.Is(err, reconciler.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, "deployment engine is shutting down")
	default:
		s.log.Error().Err(err).Msgf("clearing poison for %s failed", name)
		writeError(w, http.StatusInternalServerError, "clearing poison failed")
	}
}
