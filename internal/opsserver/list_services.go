package opsserver

import (
	"net/http"
)

type listServicesResponse struct {
	Services []serviceDto `json:"services"`
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	specs, err := s.catalog.ListServices(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list services")
		writeError(w, http.StatusInternalServerError, "failed to list services")
		return
	}

	resp := listServicesResponse{Services: make([]serviceDto, 0, len(specs))}
	for _, spec := range specs {
		resp.Services = append(resp.Services, serviceToDto(spec))
	}
	writeJSON(w, http.StatusOK, resp)
}
