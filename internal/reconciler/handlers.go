package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-uuid"

	"github.com/Sh00ty/cloud-rollout/internal/models"
	"github.com/Sh00ty/cloud-rollout/internal/prober"
	"github.com/Sh00ty/cloud-rollout/pkg/strategies"
)

func (m *Machine) handle(ev event) {
	switch ev.kind {
	case evAdoptService:
		m.handleAdopt(ev)
	case evDropService:
		m.handleDrop(ev)
	case evFingerprint:
		m.handleFingerprint(ev)
	case evStaged:
		m.handleStaged(ev)
	case evStageFailed:
		m.handleStageFailed(ev)
	case evProbeResult:
		m.handleProbeResult(ev)
	case evWindowExpired:
		m.handleWindowExpired(ev)
	case evPromoteDone:
		m.handlePromoteDone(ev)
	case evPromoteFailed:
		m.handlePromoteFailed(ev)
	case evRollbackDone:
		m.handleRollbackDone(ev)
	case evRecovered:
		m.handleRecovered(ev)
	case evOperatorRollback:
		m.handleOperatorRollback(ev)
	case evClearPoison:
		m.handleClearPoison(ev)
	default:
		m.log.Error().Msgf("dropped event of unknown kind %d for %s", ev.kind, ev.service)
	}
}

// inCycle reports whether the event belongs to the live cycle of a
// service in the expected state. Everything else is leftovers.
func (m *Machine) inCycle(ev event, want models.DeploymentState) *serviceState {
	st := m.services[ev.service]
	if st == nil || st.cycle == nil || st.cycle.id != ev.cycleID {
		return nil
	}
	if st.record.State != want {
		return nil
	}
	return st
}

func (m *Machine) handleAdopt(ev event) {
	if st, owned := m.services[ev.service]; owned {
		st.spec = ev.spec
		ev.resp <- nil
		return
	}

	st := &serviceState{spec: ev.spec, record: ev.record}
	if st.record.Service == "" {
		st.record.Service = ev.spec.Name
	}
	if st.record.State == "" {
		st.record.State = models.StateStable
	}
	m.services[ev.spec.Name] = st
	m.mts.Gauge("services.owned", len(m.services))

	// Anything that was ever deployed needs its stable instance resolved,
	// and an interrupted cycle needs to be driven to a safe state first.
	if st.record.State.InFlight() || !st.record.Current.IsZero() {
		recoveryID, err := uuid.GenerateUUID()
		if err != nil {
			ev.resp <- fmt.Errorf("failed to generate recovery id: %w", err)
			delete(m.services, ev.spec.Name)
			return
		}
		st.recovering = true
		st.recoveryID = recoveryID
		m.log.Info().Msgf("%s: adopted in state %s, starting recovery %s", ev.spec.Name, st.record.State, recoveryID)
		go m.runRecovery(st.spec, st.record, recoveryID)
	}
	ev.resp <- nil
}

func (m *Machine) handleDrop(ev event) {
	st, owned := m.services[ev.service]
	if !owned {
		ev.resp <- nil
		return
	}
	if st.cycle != nil {
		st.cycle.cancel()
	}
	if st.windowTimer != nil {
		st.windowTimer.Stop()
	}
	delete(m.services, ev.service)
	m.mts.Gauge("services.owned", len(m.services))

	if ev.teardown {
		go m.runTeardown(ev.service, st.spec.DrainGrace, st.stable)
	}
	ev.resp <- nil
}

func (m *Machine) handleFingerprint(ev event) {
	st := m.services[ev.service]
	if st == nil {
		return
	}
	m.processFingerprint(st, ev.fp)
}

func (m *Machine) processFingerprint(st *serviceState, fp models.Fingerprint) {
	if fp.IsZero() || fp == st.record.Current {
		return
	}
	if st.recovering {
		st.queued = fp
		return
	}
	if st.cycle != nil {
		if fp == st.cycle.fp {
			return
		}
		if st.queued != fp {
			st.queued = fp
			m.log.Info().Msgf("%s: queued fp %s behind in-flight cycle %s", st.spec.Name, fp.Short(), st.cycle.id)
		}
		return
	}
	if fp == st.record.Poisoned {
		m.mts.Increment("deploy.poisoned.skips")
		m.log.Warn().Msgf("%s: fp %s is poisoned, refusing to deploy it until an operator clears it", st.spec.Name, fp.Short())
		return
	}
	if fp == st.record.LastFailed && time.Now().Before(st.record.CooldownUntil) {
		m.log.Debug().Msgf("%s: fp %s is cooling down until %s", st.spec.Name, fp.Short(), st.record.CooldownUntil.Format(time.RFC3339))
		return
	}
	m.startCycle(st, fp)
}

func (m *Machine) startCycle(st *serviceState, fp models.Fingerprint) {
	cycleID, err := uuid.GenerateUUID()
	if err != nil {
		m.log.Error().Err(err).Msg("failed to generate cycle id, waiting for the next poll")
		return
	}
	cctx, cancel := context.WithCancel(m.runCtx)
	st.cycle = &cycle{
		id:        cycleID,
		fp:        fp,
		startedAt: time.Now(),
		ctx:       cctx,
		cancel:    cancel,
	}
	st.streak = 0
	st.record.Candidate = fp
	m.mts.Increment("deploy.cycle.started")
	m.transition(st, models.StateStaging, fp, "new fingerprint discovered in registry")
	go m.runStaging(cctx, st.spec, cycleID, fp)
}

func (m *Machine) handleStaged(ev event) {
	st := m.inCycle(ev, models.StateStaging)
	if st == nil {
		return
	}
	st.cycle.candidate = ev.inst
	m.mts.Duration("deploy.stage.duration", time.Since(st.cycle.startedAt))

	strat, err := strategies.New(st.spec.ProbeKind, ev.inst.Endpoint, st.spec.ProbeSettings)
	if err != nil {
		m.failCycle(st, fmt.Sprintf("failed to build %s probe: %v", st.spec.ProbeKind, err), false)
		return
	}
	m.transition(st, models.StateValidating, st.cycle.fp, "candidate ready, validation started")

	proberCtx, stopProber := context.WithCancel(st.cycle.ctx)
	st.cycle.stopProber = stopProber
	go m.validator.Run(proberCtx, prober.Task{
		Service:  st.spec.Name,
		CycleID:  st.cycle.id,
		Kind:     st.spec.ProbeKind,
		Strategy: strat,
		Interval: st.spec.ProbeInterval,
	}, m)

	service, cycleID := st.spec.Name, st.cycle.id
	st.windowTimer = time.AfterFunc(st.spec.ValidationWindow, func() {
		m.enqueue(event{kind: evWindowExpired, service: service, cycleID: cycleID})
	})
}

func (m *Machine) handleStageFailed(ev event) {
	st := m.inCycle(ev, models.StateStaging)
	if st == nil {
		return
	}
	if !ev.inst.IsZero() {
		st.cycle.candidate = ev.inst
	}
	m.failCycle(st, fmt.Sprintf("staging failed: %v", ev.err), false)
}

func (m *Machine) handleProbeResult(ev event) {
	st := m.inCycle(ev, models.StateValidating)
	if st == nil {
		return
	}
	if !ev.res.Success {
		if st.streak > 0 {
			m.log.Info().Msgf("%s: cycle %s probe failed after a streak of %d, starting over", st.spec.Name, st.cycle.id, st.streak)
		}
		st.streak = 0
		return
	}
	st.streak++
	m.log.Debug().Msgf("%s: cycle %s probe passed, streak %d of %d", st.spec.Name, st.cycle.id, st.streak, st.spec.RequiredSuccesses)
	if st.streak >= st.spec.RequiredSuccesses {
		m.beginCommit(st)
	}
}

func (m *Machine) handleWindowExpired(ev event) {
	st := m.inCycle(ev, models.StateValidating)
	if st == nil {
		return
	}
	reason := fmt.Sprintf(
		"validation window %s expired with streak %d of %d",
		st.spec.ValidationWindow, st.streak, st.spec.RequiredSuccesses,
	)
	m.failCycle(st, reason, false)
}

func (m *Machine) beginCommit(st *serviceState) {
	if st.cycle.stopProber != nil {
		st.cycle.stopProber()
		st.cycle.stopProber = nil
	}
	if st.windowTimer != nil {
		st.windowTimer.Stop()
		st.windowTimer = nil
	}
	reason := fmt.Sprintf("validation passed with %d consecutive probes", st.spec.RequiredSuccesses)
	m.transition(st, models.StateCommitting, st.cycle.fp, reason)
	go m.runPromote(st.cycle.ctx, st.spec.Name, st.cycle.id, st.cycle.candidate)
}

func (m *Machine) handlePromoteDone(ev event) {
	st := m.inCycle(ev, models.StateCommitting)
	if st == nil {
		return
	}
	old := st.stable
	st.stable = st.cycle.candidate
	st.record.Current = st.cycle.fp
	st.record.Candidate = ""

	m.mts.Increment("deploy.cycle.committed")
	m.mts.Duration("deploy.cycle.duration", time.Since(st.cycle.startedAt))
	m.transition(st, models.StateStable, st.record.Current, "traffic swapped, commit complete")
	m.clearCycle(st)

	if !old.IsZero() {
		grace := st.spec.DrainGrace
		go func() {
			if err := m.exec.Retire(m.runCtx, old, grace); err != nil {
				m.log.Warn().Err(err).Msgf("failed to retire replaced instance %s", old.Handle)
			}
		}()
	}
	m.maybeStartQueued(st)
}

func (m *Machine) handlePromoteFailed(ev event) {
	st := m.inCycle(ev, models.StateCommitting)
	if st == nil {
		return
	}
	m.failCycle(st, fmt.Sprintf("promote failed: %v", ev.err), true)
}

// failCycle moves an in-flight cycle into rollback. With restoreBinding
// the worker first points traffic back at the stable instance, which is
// only needed once a promote may have taken effect.
func (m *Machine) failCycle(st *serviceState, reason string, restoreBinding bool) {
	st.cycle.cancel()
	if st.windowTimer != nil {
		st.windowTimer.Stop()
		st.windowTimer = nil
	}
	m.mts.Increment("deploy.cycle.rolledback")
	m.transition(st, models.StateRollingBack, st.cycle.fp, reason)
	go m.runRollback(st.spec.Name, st.cycle.id, st.cycle.candidate, st.stable, restoreBinding)
}

func (m *Machine) handleRollbackDone(ev event) {
	st := m.inCycle(ev, models.StateRollingBack)
	if st == nil {
		return
	}
	m.applyFailureBookkeeping(st, st.cycle.fp)
	st.record.Candidate = ""
	m.transition(st, models.StateStable, st.record.Current, "rollback complete")
	m.clearCycle(st)
	m.maybeStartQueued(st)
}

func (m *Machine) applyFailureBookkeeping(st *serviceState, fp models.Fingerprint) {
	if fp.IsZero() {
		return
	}
	if st.record.LastFailed == fp {
		st.record.FailCount++
	} else {
		st.record.LastFailed = fp
		st.record.FailCount = 1
	}
	st.record.CooldownUntil = time.Now().Add(st.spec.FailureCooldown)
	if st.record.FailCount >= poisonThreshold && st.record.Poisoned != fp {
		st.record.Poisoned = fp
		m.mts.Increment("deploy.poisoned.marked")
		m.log.Warn().Msgf(
			"%s: fp %s poisoned after %d consecutive failed deployments, operator action required",
			st.spec.Name, fp.Short(), st.record.FailCount,
		)
	}
}

func (m *Machine) handleRecovered(ev event) {
	st := m.services[ev.service]
	if st == nil || !st.recovering || st.recoveryID != ev.cycleID {
		return
	}
	st.recovering = false
	st.recoveryID = ""
	out := ev.recovery
	st.stable = out.stable

	switch {
	case out.finishedCommit:
		st.record.Current = st.record.Candidate
		st.record.Candidate = ""
		m.transition(st, models.StateStable, st.record.Current, out.reason)
	case out.failedCandidate:
		m.applyFailureBookkeeping(st, st.record.Candidate)
		st.record.Candidate = ""
		m.transition(st, models.StateStable, st.record.Current, out.reason)
	case st.record.State != models.StateStable:
		m.transition(st, models.StateStable, st.record.Current, out.reason)
	}

	if out.restageCurrent && !st.record.Current.IsZero() {
		m.log.Warn().Msgf("%s: no live instance serves fp %s, restaging it", st.spec.Name, st.record.Current.Short())
		m.startCycle(st, st.record.Current)
	}
	m.maybeStartQueued(st)
}

func (m *Machine) handleOperatorRollback(ev event) {
	st := m.services[ev.service]
	if st == nil {
		ev.resp <- ErrUnknownService
		return
	}
	if st.recovering || st.cycle == nil {
		ev.resp <- ErrNotCancellable
		return
	}
	switch st.record.State {
	case models.StateStaging, models.StateValidating:
		m.failCycle(st, "operator requested rollback", false)
	case models.StateCommitting:
		m.failCycle(st, "operator requested rollback", true)
	default:
		ev.resp <- ErrNotCancellable
		return
	}
	ev.resp <- nil
}

func (m *Machine) handleClearPoison(ev event) {
	st := m.services[ev.service]
	if st == nil {
		ev.resp <- ErrUnknownService
		return
	}
	cleared := st.record.Poisoned
	st.record.Poisoned = ""
	st.record.LastFailed = ""
	st.record.FailCount = 0
	st.record.CooldownUntil = time.Time{}
	m.persist(st)

	if !cleared.IsZero() {
		m.recorder.Record(models.Transition{
			Service:     st.spec.Name,
			From:        st.record.State,
			To:          st.record.State,
			Fingerprint: cleared,
			Reason:      "operator cleared poisoned fingerprint",
			Time:        time.Now(),
		})
		m.log.Info().Msgf("%s: operator cleared poisoned fp %s", st.spec.Name, cleared.Short())
	}
	ev.resp <- nil
}

func (m *Machine) clearCycle(st *serviceState) {
	if st.cycle == nil {
		return
	}
	st.cycle.cancel()
	if st.windowTimer != nil {
		st.windowTimer.Stop()
		st.windowTimer = nil
	}
	st.cycle = nil
	st.streak = 0
}

func (m *Machine) maybeStartQueued(st *serviceState) {
	if st.queued.IsZero() {
		return
	}
	fp := st.queued
	st.queued = ""
	m.processFingerprint(st, fp)
}
