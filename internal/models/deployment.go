package models

import (
	"fmt"
	"time"
)

// Fingerprint is an opaque identity of a published artifact version.
// It is never parsed, only compared for equality.
type Fingerprint string

func (f Fingerprint) String() string {
	return string(f)
}

func (f Fingerprint) IsZero() bool {
	return f == ""
}

// Short trims the fingerprint for log lines, digests are long.
func (f Fingerprint) Short() string {
	const shortLen = 12
	if len(f) <= shortLen {
		return string(f)
	}
	return string(f[:shortLen])
}

type DeploymentState string

const (
	StateStable      DeploymentState = "stable"
	StateStaging     DeploymentState = "staging"
	StateValidating  DeploymentState = "validating"
	StateCommitting  DeploymentState = "committing"
	StateRollingBack DeploymentState = "rolling-back"
)

// InFlight reports whether a deployment cycle is currently running.
func (s DeploymentState) InFlight() bool {
	switch s {
	case StateStaging, StateValidating, StateCommitting, StateRollingBack:
		return true
	}
	return false
}

// DeploymentRecord is the durable deployment status of one service.
// Exactly one record exists per service and only the deployment state
// machine mutates it; everybody else reads.
type DeploymentRecord struct {
	Service        string
	Current        Fingerprint
	Candidate      Fingerprint
	State          DeploymentState
	LastTransition time.Time

	// rollback bookkeeping: consecutive failed cycles of LastFailed
	// drive the retry cooldown and fingerprint poisoning
	LastFailed    Fingerprint
	FailCount     int
	CooldownUntil time.Time
	Poisoned      Fingerprint
}

// Transition is a single audited state change of a deployment record.
type Transition struct {
	Service     string
	From        DeploymentState
	To          DeploymentState
	Fingerprint Fingerprint
	Reason      string
	Time        time.Time
}

func (t Transition) String() string {
	return fmt.Sprintf(
		"{service=%s, %s->%s, fp=%s, reason=%q}",
		t.Service, t.From, t.To, t.Fingerprint.Short(), t.Reason,
	)
}
