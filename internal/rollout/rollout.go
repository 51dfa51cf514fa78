// Package rollout executes the mechanical side of a deployment cycle:
// starting candidate instances, watching them come up, swapping proxy
// traffic and retiring what is no longer needed. It holds no deployment
// state of its own; the reconciler decides, rollout acts.
package rollout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sh00ty/cloud-rollout/internal/models"
)

var (
	// ErrProvision marks failures that happened before any traffic moved.
	// Recovering from one only requires killing the candidate.
	ErrProvision = errors.New("provision failed")
	// ErrSwap marks failures while traffic was being rebound. Recovery must
	// restore the previous binding before touching instances.
	ErrSwap = errors.New("traffic swap failed")
	// ErrInstanceNotFound is returned by runtimes when a handle does not
	// resolve to a live instance.
	ErrInstanceNotFound = errors.New("instance not found")
	// ErrNotBound is returned when a service has no proxy binding yet.
	ErrNotBound = errors.New("service has no traffic binding")
)

// Runtime starts and stops service instances. Implementations talk to
// whatever actually hosts the processes.
type Runtime interface {
	Start(ctx context.Context, service string, fp models.Fingerprint) (models.Instance, error)
	Status(ctx context.Context, handle string) (models.Instance, error)
	Drain(ctx context.Context, handle string) error
	Stop(ctx context.Context, handle string) error
	List(ctx context.Context, service string) ([]models.Instance, error)
}

// ProxyControl flips which instance receives a service's traffic.
type ProxyControl interface {
	Rebind(ctx context.Context, service string, binding models.ProxyBinding) error
	Current(ctx context.Context, service string) (models.ProxyBinding, error)
	Unbind(ctx context.Context, service string) error
}

const defaultReadyPollInterval = 2 * time.Second

type Executor struct {
	runtime Runtime
	proxy   ProxyControl
	log     zerolog.Logger

	readyPollInterval time.Duration
}

func NewExecutor(runtime Runtime, proxy ProxyControl, logger zerolog.Logger) *Executor {
	return &Executor{
		runtime:           runtime,
		proxy:             proxy,
		log:               logger,
		readyPollInterval: defaultReadyPollInterval,
	}
}

// Stage launches a candidate instance. The instance is not ready yet when
// Stage returns, only allocated.
func (e *Executor) Stage(ctx context.Context, service string, fp models.Fingerprint) (models.Instance, error) {
	inst, err := e.runtime.Start(ctx, service, fp)
	if err != nil {
		return models.Instance{}, fmt.Errorf("%w: failed to start instance of %s with fp %s: %w", ErrProvision, service, fp.Short(), err)
	}
	e.log.Info().Msgf("staged %s instance %s at %s with fp %s", service, inst.Handle, inst.Endpoint, fp.Short())
	return inst, nil
}

// AwaitReady polls the runtime until the instance reports ready, exits or
// the timeout passes. It returns the last observed instance so the caller
// keeps an up to date endpoint.
func (e *Executor) AwaitReady(ctx context.Context, inst models.Instance, timeout time.Duration) (models.Instance, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(e.readyPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return inst, ctx.Err()
		case <-deadline.C:
			return inst, fmt.Errorf("%w: instance %s not ready within %s", ErrProvision, inst.Handle, timeout)
		case <-ticker.C:
		}

		current, err := e.runtime.Status(ctx, inst.Handle)
		if errors.Is(err, ErrInstanceNotFound) {
			return inst, fmt.Errorf("%w: instance %s disappeared while starting: %w", ErrProvision, inst.Handle, err)
		}
		if err != nil {
			// Runtime hiccup. The deadline bounds how long this can go on.
			e.log.Debug().Err(err).Msgf("status poll for instance %s failed", inst.Handle)
			continue
		}
		switch current.State {
		case models.InstanceReady:
			return current, nil
		case models.InstanceStopped:
			return current, fmt.Errorf("%w: instance %s exited before becoming ready", ErrProvision, inst.Handle)
		}
	}
}

// Promote points the service's traffic at the instance.
func (e *Executor) Promote(ctx context.Context, service string, inst models.Instance) error {
	binding := models.ProxyBinding{
		Endpoint:    inst.Endpoint,
		Fingerprint: inst.Fingerprint,
		Handle:      inst.Handle,
		BoundAt:     time.Now(),
	}
	if err := e.proxy.Rebind(ctx, service, binding); err != nil {
		return fmt.Errorf("%w: failed to rebind %s to %s: %w", ErrSwap, service, inst.Endpoint, err)
	}
	e.log.Info().Msgf("promoted %s: traffic now on %s (fp %s)", service, inst.Endpoint, inst.Fingerprint.Short())
	return nil
}

// Retire drains the instance, waits out the grace period and stops it.
// Used for instances that were serving traffic.
func (e *Executor) Retire(ctx context.Context, inst models.Instance, grace time.Duration) error {
	err := e.runtime.Drain(ctx, inst.Handle)
	if errors.Is(err, ErrInstanceNotFound) {
		return nil
	}
	if err != nil {
		e.log.Warn().Err(err).Msgf("drain of instance %s failed, stopping it anyway", inst.Handle)
	} else {
		select {
		case <-ctx.Done():
		case <-time.After(grace):
		}
	}
	return e.Terminate(ctx, inst)
}

// Terminate stops the instance immediately. A handle that no longer
// resolves counts as done, so calling it twice is safe.
func (e *Executor) Terminate(ctx context.Context, inst models.Instance) error {
	err := e.runtime.Stop(ctx, inst.Handle)
	if errors.Is(err, ErrInstanceNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stop instance %s: %w", inst.Handle, err)
	}
	e.log.Info().Msgf("terminated %s instance %s", inst.Service, inst.Handle)
	return nil
}

// Unbind removes the service's proxy binding entirely. Only teardown of
// the whole service does this.
func (e *Executor) Unbind(ctx context.Context, service string) error {
	err := e.proxy.Unbind(ctx, service)
	if err != nil && !errors.Is(err, ErrNotBound) {
		return fmt.Errorf("failed to unbind %s: %w", service, err)
	}
	return nil
}

// CurrentBinding reports where the proxies are sending the service's
// traffic right now.
func (e *Executor) CurrentBinding(ctx context.Context, service string) (models.ProxyBinding, error) {
	return e.proxy.Current(ctx, service)
}

// Lookup resolves a handle to its instance.
func (e *Executor) Lookup(ctx context.Context, handle string) (models.Instance, error) {
	return e.runtime.Status(ctx, handle)
}

// ListInstances reports every instance the runtime holds for the service.
func (e *Executor) ListInstances(ctx context.Context, service string) ([]models.Instance, error) {
	return e.runtime.List(ctx, service)
}
