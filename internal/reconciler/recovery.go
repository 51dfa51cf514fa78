package reconciler

import (
	"context"
	"errors"

	"github.com/Sh00ty/cloud-rollout/internal/models"
	"github.com/Sh00ty/cloud-rollout/internal/rollout"
)

// runRecovery reconstructs the truth for a freshly adopted service. The
// record says what the previous owner was doing; the runtime and the
// proxy binding say how far it got. The worker drives the data plane to a
// safe state and reports an outcome for the machine to apply.
func (m *Machine) runRecovery(spec models.ServiceSpec, rec models.DeploymentRecord, recoveryID string) {
	ctx := m.runCtx
	out := m.computeRecovery(ctx, spec, rec)
	m.enqueue(event{kind: evRecovered, service: spec.Name, cycleID: recoveryID, recovery: out})
}

func (m *Machine) computeRecovery(ctx context.Context, spec models.ServiceSpec, rec models.DeploymentRecord) recoveryOutcome {
	binding, err := m.exec.CurrentBinding(ctx, spec.Name)
	bound := err == nil
	if err != nil && !errors.Is(err, rollout.ErrNotBound) {
		m.log.Error().Err(err).Msgf("recovery of %s: failed to read binding, assuming unbound", spec.Name)
	}

	switch rec.State {
	case models.StateStaging, models.StateValidating:
		return m.recoverInterrupted(ctx, spec, rec, binding, bound,
			"crash recovery: cycle interrupted before traffic moved, rolled back")
	case models.StateCommitting:
		return m.recoverCommitting(ctx, spec, rec, binding, bound)
	case models.StateRollingBack:
		return m.recoverInterrupted(ctx, spec, rec, binding, bound,
			"crash recovery: finished interrupted rollback")
	default:
		return m.recoverStable(ctx, spec, rec, binding, bound)
	}
}

// recoverStable resolves which instance serves the current fingerprint.
// If traffic points at a corpse it rebinds to a survivor, and if there is
// no survivor it asks for the current fingerprint to be restaged.
func (m *Machine) recoverStable(ctx context.Context, spec models.ServiceSpec, rec models.DeploymentRecord, binding models.ProxyBinding, bound bool) recoveryOutcome {
	out := recoveryOutcome{reason: "crash recovery: stable state confirmed"}
	if rec.Current.IsZero() {
		return out
	}
	if bound {
		inst, err := m.exec.Lookup(ctx, binding.Handle)
		if err == nil && inst.State != models.InstanceStopped {
			out.stable = inst
			return out
		}
	}
	if inst, ok := m.findInstance(ctx, spec.Name, rec.Current); ok {
		out.stable = inst
		out.reason = "crash recovery: rebound traffic to surviving instance"
		if err := m.exec.Promote(ctx, spec.Name, inst); err != nil {
			m.log.Error().Err(err).Msgf("recovery of %s: failed to rebind traffic to %s", spec.Name, inst.Endpoint)
		}
		return out
	}
	out.restageCurrent = true
	out.reason = "crash recovery: no live instance serves the current fingerprint"
	return out
}

// recoverInterrupted handles cycles that died before or during rollback:
// the candidate never legitimately held traffic, so it is terminated and
// the cycle is booked as a failed deployment.
func (m *Machine) recoverInterrupted(ctx context.Context, spec models.ServiceSpec, rec models.DeploymentRecord, binding models.ProxyBinding, bound bool, reason string) recoveryOutcome {
	keep := ""
	if bound {
		keep = binding.Handle
	}
	if !rec.Candidate.IsZero() {
		m.terminateByFingerprint(ctx, spec.Name, rec.Candidate, keep)
	}

	stableOut := m.recoverStable(ctx, spec, rec, binding, bound)
	return recoveryOutcome{
		stable:          stableOut.stable,
		failedCandidate: !rec.Candidate.IsZero(),
		restageCurrent:  stableOut.restageCurrent,
		reason:          reason,
	}
}

// recoverCommitting decides whether the interrupted promote took effect.
// Traffic on a live candidate means the commit is finished; anything else
// is rolled back to the previous fingerprint.
func (m *Machine) recoverCommitting(ctx context.Context, spec models.ServiceSpec, rec models.DeploymentRecord, binding models.ProxyBinding, bound bool) recoveryOutcome {
	if bound && binding.Fingerprint == rec.Candidate {
		inst, err := m.exec.Lookup(ctx, binding.Handle)
		if err == nil && inst.State != models.InstanceStopped {
			out := recoveryOutcome{
				stable:         inst,
				finishedCommit: true,
				reason:         "crash recovery: promote had taken effect, finished commit",
			}
			m.retireOthers(ctx, spec, rec, inst.Handle)
			return out
		}
	}

	out := recoveryOutcome{
		failedCandidate: !rec.Candidate.IsZero(),
		reason:          "crash recovery: promote had not taken effect, rolled back",
	}
	keep := ""
	switch cur, ok := m.findInstance(ctx, spec.Name, rec.Current); {
	case ok:
		out.stable = cur
		keep = cur.Handle
		if !bound || binding.Handle != cur.Handle {
			if err := m.exec.Promote(ctx, spec.Name, cur); err != nil {
				m.log.Error().Err(err).Msgf("recovery of %s: failed to restore binding to %s", spec.Name, cur.Endpoint)
			}
		}
	case !rec.Current.IsZero():
		out.restageCurrent = true
		out.reason = "crash recovery: promote undone and no instance serves the current fingerprint"
	case bound:
		// First deployment died mid-promote with a dead candidate. Clear
		// the half-applied binding.
		if err := m.exec.Unbind(ctx, spec.Name); err != nil {
			m.log.Error().Err(err).Msgf("recovery of %s: failed to clear binding", spec.Name)
		}
	}
	m.terminateByFingerprint(ctx, spec.Name, rec.Candidate, keep)
	return out
}

func (m *Machine) findInstance(ctx context.Context, service string, fp models.Fingerprint) (models.Instance, bool) {
	if fp.IsZero() {
		return models.Instance{}, false
	}
	insts, err := m.exec.ListInstances(ctx, service)
	if err != nil {
		m.log.Debug().Err(err).Msgf("failed to list instances of %s", service)
		return models.Instance{}, false
	}
	for _, inst := range insts {
		if inst.Fingerprint == fp && inst.State != models.InstanceStopped {
			return inst, true
		}
	}
	return models.Instance{}, false
}

func (m *Machine) terminateByFingerprint(ctx context.Context, service string, fp models.Fingerprint, keep string) {
	insts, err := m.exec.ListInstances(ctx, service)
	if err != nil {
		m.log.Debug().Err(err).Msgf("failed to list instances of %s", service)
		return
	}
	for _, inst := range insts {
		if inst.Fingerprint != fp || inst.Handle == keep || inst.State == models.InstanceStopped {
			continue
		}
		if err := m.exec.Terminate(ctx, inst); err != nil {
			m.log.Warn().Err(err).Msgf("failed to terminate instance %s of %s", inst.Handle, service)
		}
	}
}

// retireOthers cleans up after a commit that finished during recovery:
// instances of the replaced fingerprint drain gracefully, anything else
// is terminated.
func (m *Machine) retireOthers(ctx context.Context, spec models.ServiceSpec, rec models.DeploymentRecord, keep string) {
	insts, err := m.exec.ListInstances(ctx, spec.Name)
	if err != nil {
		m.log.Debug().Err(err).Msgf("failed to list instances of %s", spec.Name)
		return
	}
	for _, inst := range insts {
		if inst.Handle == keep || inst.State == models.InstanceStopped {
			continue
		}
		if !rec.Current.IsZero() && inst.Fingerprint == rec.Current {
			if err := m.exec.Retire(ctx, inst, spec.DrainGrace); err != nil {
				m.log.Warn().Err(err).Msgf("failed to retire replaced instance %s of %s", inst.Handle, spec.Name)
			}
			continue
		}
		if err := m.exec.Terminate(ctx, inst); err != nil {
			m.log.Warn().Err(err).Msgf("failed to terminate stray instance %s of %s", inst.Handle, spec.Name)
		}
	}
}
