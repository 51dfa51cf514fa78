package opsserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Sh00ty/cloud-rollout/internal/models"
	"github.com/Sh00ty/cloud-rollout/internal/storage"
	"github.com/Sh00ty/cloud-rollout/pkg/probe"
	"github.com/Sh00ty/cloud-rollout/pkg/strategies"
)

type registerServiceRequest struct {
	Name              string          `json:"name"`
	Artifact          string          `json:"artifact"`
	PollInterval      string          `json:"poll_interval"`
	ProbeKind         string          `json:"probe_kind"`
	ProbeSettings     json.RawMessage `json:"probe_settings"`
	ProbeInterval     string          `json:"probe_interval"`
	RequiredSuccesses int             `json:"required_successes"`
	ValidationWindow  string          `json:"validation_window"`
	ReadyTimeout      string          `json:"ready_timeout"`
	DrainGrace        string          `json:"drain_grace"`
	FailureCooldown   string          `json:"failure_cooldown"`
}

func (s *Server) handleRegisterService(w http.ResponseWriter, r *http.Request) {
	var req registerServiceRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	spec, err := specFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	spec.ApplyDefaults()
	if err := spec.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if req.RequiredSuccesses < 0 {
		writeError(w, http.StatusBadRequest, "required_successes must not be negative")
		return
	}
	// Dry-run the probe construction. A spec with a broken probe config
	// must be rejected here, not discovered mid-deployment.
	if _, err := strategies.New(spec.ProbeKind, "127.0.0.1:1", spec.ProbeSettings); err != nil {
		writeError(w, http.StatusBadRequest, "probe config rejected: %v", err)
		return
	}
	spec.CreatedAt = time.Now().UTC()

	if err := s.catalog.CreateService(r.Context(), spec); err != nil {
		if errors.Is(err, storage.ErrServiceExists) {
			writeError(w, http.StatusConflict, "service %s already exists", spec.Name)
			return
		}
		s.log.Error().Err(err).Msgf("failed to create service %s", spec.Name)
		writeError(w, http.StatusInternalServerError, "failed to create service")
		return
	}
	s.sync.Kick()

	s.log.Info().Msgf("registered service %s (artifact %s)", spec.Name, spec.Artifact)
	writeJSON(w, http.StatusCreated, serviceToDto(spec))
}

func specFromRequest(req registerServiceRequest) (models.ServiceSpec, error) {
	spec := models.ServiceSpec{
		Name:              req.Name,
		Artifact:          req.Artifact,
		ProbeKind:         probe.Kind(req.ProbeKind),
		ProbeSettings:     []byte(req.ProbeSettings),
		RequiredSuccesses: req.RequiredSuccesses,
	}

	durations := []struct {
		field string
		value string
		dst   *time.Duration
	}{
		{"poll_interval", req.PollInterval, &spec.PollInterval},
		{"probe_interval", req.ProbeInterval, &spec.ProbeInterval},
		{"validation_window", req.ValidationWindow, &spec.ValidationWindow},
		{"ready_timeout", req.ReadyTimeout, &spec.ReadyTimeout},
		{"drain_grace", req.DrainGrace, &spec.DrainGrace},
		{"failure_cooldown", req.FailureCooldown, &spec.FailureCooldown},
	}
	for _, d := range durations {
		parsed, err := parseDuration(d.field, d.value)
		if err != nil {
			return models.ServiceSpec{}, err
		}
		*d.dst = parsed
	}
	return spec, nil
}
