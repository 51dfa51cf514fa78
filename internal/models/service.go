package models

import (
	"fmt"
	"time"

	"github.com/Sh00ty/cloud-rollout/pkg/probe"
)

const (
	DefaultPollInterval      = 5 * time.Minute
	DefaultProbeInterval     = 2 * time.Second
	DefaultRequiredSuccesses = 3
	DefaultValidationWindow  = 30 * time.Second
	DefaultReadyTimeout      = 90 * time.Second
	DefaultDrainGrace        = 30 * time.Second
	DefaultFailureCooldown   = time.Minute
)

// ServiceSpec describes how one service is polled, validated and rolled out.
// Zero fields are filled from the defaults above at registration time.
type ServiceSpec struct {
	Name     string
	Artifact string

	PollInterval time.Duration

	ProbeKind     probe.Kind
	ProbeSettings []byte

	ProbeInterval     time.Duration
	RequiredSuccesses int
	ValidationWindow  time.Duration

	ReadyTimeout    time.Duration
	DrainGrace      time.Duration
	FailureCooldown time.Duration

	CreatedAt time.Time
}

func (s *ServiceSpec) ApplyDefaults() {
	if s.PollInterval == 0 {
		s.PollInterval = DefaultPollInterval
	}
	if s.ProbeInterval == 0 {
		s.ProbeInterval = DefaultProbeInterval
	}
	if s.RequiredSuccesses == 0 {
		s.RequiredSuccesses = DefaultRequiredSuccesses
	}
	if s.ValidationWindow == 0 {
		s.ValidationWindow = DefaultValidationWindow
	}
	if s.ReadyTimeout == 0 {
		s.ReadyTimeout = DefaultReadyTimeout
	}
	if s.DrainGrace == 0 {
		s.DrainGrace = DefaultDrainGrace
	}
	if s.FailureCooldown == 0 {
		s.FailureCooldown = DefaultFailureCooldown
	}
	if len(s.ProbeSettings) == 0 {
		s.ProbeSettings = []byte("{}")
	}
}

func (s *ServiceSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if s.Artifact == "" {
		return fmt.Errorf("artifact name is required for service %s", s.Name)
	}
	if s.ProbeKind == "" {
		return fmt.Errorf("probe kind is required for service %s", s.Name)
	}
	return nil
}
