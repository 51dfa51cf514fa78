package models

type InstanceState string

const (
	InstanceStarting InstanceState = "starting"
	InstanceReady    InstanceState = "ready"
	InstanceDraining InstanceState = "draining"
	InstanceStopped  InstanceState = "stopped"
)

// Instance is a running copy of a service at a specific fingerprint.
// The handle is assigned by the instance runtime and is the only thing
// the state machine holds on to between rollout operations.
type Instance struct {
	Service     string
	Fingerprint Fingerprint
	Handle      string
	Endpoint    string
	State       InstanceState
}

func (i Instance) IsZero() bool {
	return i.Handle == ""
}
