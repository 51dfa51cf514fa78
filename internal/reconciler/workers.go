package reconciler

import (
	"context"
	"time"

	"github.com/Sh00ty/cloud-rollout/internal/models"
)

// runStaging starts the candidate and waits for readiness. The instance
// rides along on failure events so the rollback can kill a half-started
// candidate.
func (m *Machine) runStaging(ctx context.Context, spec models.ServiceSpec, cycleID string, fp models.Fingerprint) {
	inst, err := m.exec.Stage(ctx, spec.Name, fp)
	if err == nil {
		inst, err = m.exec.AwaitReady(ctx, inst, spec.ReadyTimeout)
	}
	if err != nil {
		m.enqueue(event{kind: evStageFailed, service: spec.Name, cycleID: cycleID, inst: inst, err: err})
		return
	}
	m.enqueue(event{kind: evStaged, service: spec.Name, cycleID: cycleID, inst: inst})
}

func (m *Machine) runPromote(ctx context.Context, service string, cycleID string, candidate models.Instance) {
	if err := m.exec.Promote(ctx, service, candidate); err != nil {
		m.enqueue(event{kind: evPromoteFailed, service: service, cycleID: cycleID, err: err})
		return
	}
	m.enqueue(event{kind: evPromoteDone, service: service, cycleID: cycleID})
}

// runRollback runs on the machine context, not the cycle context: the
// cycle is already cancelled by the time rollback starts.
func (m *Machine) runRollback(service string, cycleID string, candidate, stable models.Instance, restoreBinding bool) {
	ctx := m.runCtx
	if restoreBinding {
		if stable.IsZero() {
			// Nothing was bound before this cycle, so a half-applied
			// promote is undone by clearing the binding.
			if err := m.exec.Unbind(ctx, service); err != nil {
				m.log.Error().Err(err).Msgf("cycle %s: failed to clear binding of %s", cycleID, service)
			}
		} else if err := m.exec.Promote(ctx, service, stable); err != nil {
			m.log.Error().Err(err).Msgf("cycle %s: failed to restore binding of %s to %s", cycleID, service, stable.Endpoint)
		}
	}
	if !candidate.IsZero() {
		if err := m.exec.Terminate(ctx, candidate); err != nil {
			m.log.Error().Err(err).Msgf("cycle %s: failed to terminate candidate %s", cycleID, candidate.Handle)
		}
	}
	// A staging call cancelled mid-flight may have produced an instance
	// the cycle never learned about. The sweep catches those.
	m.sweepInstances(ctx, service, stable.Handle)
	m.enqueue(event{kind: evRollbackDone, service: service, cycleID: cycleID})
}

// sweepInstances terminates every instance of the service except keep.
func (m *Machine) sweepInstances(ctx context.Context, service string, keep string) {
	insts, err := m.exec.ListInstances(ctx, service)
	if err != nil {
		m.log.Debug().Err(err).Msgf("failed to list instances of %s for sweep", service)
		return
	}
	for _, inst := range insts {
		if inst.Handle == keep || inst.State == models.InstanceStopped {
			continue
		}
		if err := m.exec.Terminate(ctx, inst); err != nil {
			m.log.Warn().Err(err).Msgf("failed to terminate stray instance %s of %s", inst.Handle, service)
		}
	}
}

// runTeardown removes a deregistered service from the data plane.
func (m *Machine) runTeardown(service string, grace time.Duration, stable models.Instance) {
	ctx := m.runCtx
	if err := m.exec.Unbind(ctx, service); err != nil {
		m.log.Error().Err(err).Msgf("teardown: failed to unbind %s", service)
	}
	if !stable.IsZero() {
		if err := m.exec.Retire(ctx, stable, grace); err != nil {
			m.log.Warn().Err(err).Msgf("teardown: failed to retire instance %s of %s", stable.Handle, service)
		}
	}
	m.sweepInstances(ctx, service, "")
	m.log.Info().Msgf("teardown of %s complete", service)
}
