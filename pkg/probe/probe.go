// Package probe defines the health probing contract used to validate
// staged candidate instances before traffic is moved onto them.
package probe

import (
	"context"
	"time"
)

type Kind string

const (
	KindHTTP Kind = "http"
	KindTCP  Kind = "tcp"
	KindMock Kind = "mock"
)

const DefaultTimeout = 2 * time.Second

// Strategy performs a single bounded liveness check against one endpoint.
// Implementations must respect ctx and never block past their own timeout.
type Strategy interface {
	Check(ctx context.Context) (bool, error)
}

// Result is one probe observation. Results are ephemeral: the deployment
// state machine consumes each exactly once and nothing persists them.
type Result struct {
	Kind      Kind
	Success   bool
	Latency   time.Duration
	CheckedAt time.Time
	Err       error
}
