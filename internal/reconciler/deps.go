package reconciler

import (
	"context"
	"time"

	"github.com/Sh00ty/cloud-rollout/internal/models"
	"github.com/Sh00ty/cloud-rollout/internal/prober"
)

// Store persists deployment records. The machine writes through on every
// transition so a crashed node can be reconstructed from it.
type Store interface {
	UpsertRecord(ctx context.Context, rec models.DeploymentRecord) error
}

// Executor performs the instance and traffic operations a cycle needs.
type Executor interface {
	Stage(ctx context.Context, service string, fp models.Fingerprint) (models.Instance, error)
	AwaitReady(ctx context.Context, inst models.Instance, timeout time.Duration) (models.Instance, error)
	Promote(ctx context.Context, service string, inst models.Instance) error
	Retire(ctx context.Context, inst models.Instance, grace time.Duration) error
	Terminate(ctx context.Context, inst models.Instance) error
	Unbind(ctx context.Context, service string) error
	CurrentBinding(ctx context.Context, service string) (models.ProxyBinding, error)
	Lookup(ctx context.Context, handle string) (models.Instance, error)
	ListInstances(ctx context.Context, service string) ([]models.Instance, error)
}

// Prober runs validation probes until its context is cancelled, reporting
// every result to the observer.
type Prober interface {
	Run(ctx context.Context, task prober.Task, obs prober.Observer)
}

// Recorder takes transitions for the audit trail.
type Recorder interface {
	Record(t models.Transition)
}
