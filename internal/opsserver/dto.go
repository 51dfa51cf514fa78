package opsserver

import (
	"encoding/json"
	"time"

	"github.com/Sh00ty/cloud-rollout/internal/models"
)

type serviceDto struct {
	Name              string          `json:"name"`
	Artifact          string          `json:"artifact"`
	PollInterval      string          `json:"poll_interval"`
	ProbeKind         string          `json:"probe_kind"`
	ProbeSettings     json.RawMessage `json:"probe_settings,omitempty"`
	ProbeInterval     string          `json:"probe_interval"`
	RequiredSuccesses int             `json:"required_successes"`
	ValidationWindow  string          `json:"validation_window"`
	ReadyTimeout      string          `json:"ready_timeout"`
	DrainGrace        string          `json:"drain_grace"`
	FailureCooldown   string          `json:"failure_cooldown"`
	CreatedAt         time.Time       `json:"created_at"`
}

type recordDto struct {
	Service        string     `json:"service"`
	State          string     `json:"state"`
	Current        string     `json:"current_fingerprint,omitempty"`
	Candidate      string     `json:"candidate_fingerprint,omitempty"`
	LastTransition time.Time  `json:"last_transition"`
	LastFailed     string     `json:"last_failed_fingerprint,omitempty"`
	FailCount      int        `json:"fail_count,omitempty"`
	CooldownUntil  *time.Time `json:"cooldown_until,omitempty"`
	Poisoned       string     `json:"poisoned_fingerprint,omitempty"`
}

type transitionDto struct {
	From        string    `json:"from"`
	To          string    `json:"to"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Reason      string    `json:"reason"`
	Time        time.Time `json:"time"`
}

func serviceToDto(spec models.ServiceSpec) serviceDto {
	return serviceDto{
		Name:              spec.Name,
		Artifact:          spec.Artifact,
		PollInterval:      formatDuration(spec.PollInterval),
		ProbeKind:         string(spec.ProbeKind),
		ProbeSettings:     json.RawMessage(spec.ProbeSettings),
		ProbeInterval:     formatDuration(spec.ProbeInterval),
		RequiredSuccesses: spec.RequiredSuccesses,
		ValidationWindow:  formatDuration(spec.ValidationWindow),
		ReadyTimeout:      formatDuration(spec.ReadyTimeout),
		DrainGrace:        formatDuration(spec.DrainGrace),
		FailureCooldown:   formatDuration(spec.FailureCooldown),
		CreatedAt:         spec.CreatedAt,
	}
}

func recordToDto(rec models.DeploymentRecord) recordDto {
	dto := recordDto{
		Service:        rec.Service,
		State:          string(rec.State),
		Current:        rec.Current.String(),
		Candidate:      rec.Candidate.String(),
		LastTransition: rec.LastTransition,
		LastFailed:     rec.LastFailed.String(),
		FailCount:      rec.FailCount,
		Poisoned:       rec.Poisoned.String(),
	}
	if !rec.CooldownUntil.IsZero() {
		cooldown := rec.CooldownUntil
		dto.CooldownUntil = &cooldown
	}
	return dto
}

func transitionToDto(t models.Transition) transitionDto {
	return transitionDto{
		From:        string(t.From),
		To:          string(t.To),
		Fingerprint: t.Fingerprint.String(),
		Reason:      t.Reason,
		Time:        t.Time,
	}
}
