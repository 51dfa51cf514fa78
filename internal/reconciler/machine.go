// Package reconciler holds the deployment state machine. One goroutine
// owns all per-service state and consumes a single event channel; staging,
// promoting, rolling back and recovering run as workers that report back
// through the same channel. Events carry the cycle id they belong to, so
// anything a dead cycle left behind is discarded on arrival.
package reconciler

import (
	"context"
	"errors"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"

	"github.com/Sh00ty/cloud-rollout/internal/metrics"
	"github.com/Sh00ty/cloud-rollout/internal/models"
	"github.com/Sh00ty/cloud-rollout/internal/prober"
	"github.com/Sh00ty/cloud-rollout/pkg/probe"
)

// poisonThreshold is how many consecutive failed cycles of the same
// fingerprint it takes to stop trying it.
const poisonThreshold = 3

const eventBuffer = 1024

var (
	ErrUnknownService = errors.New("service is not owned by this node")
	// ErrNotCancellable is returned when there is no deployment in a state
	// an operator rollback could act on.
	ErrNotCancellable = errors.New("no cancellable deployment in flight")
	ErrStopped        = errors.New("reconciler is stopped")
)

// cycle is one in-flight deployment attempt. Its context is a child of
// the machine run context; stopProber additionally ends just the probing.
type cycle struct {
	id        string
	fp        models.Fingerprint
	candidate models.Instance
	startedAt time.Time

	ctx        context.Context
	cancel     context.CancelFunc
	stopProber context.CancelFunc
}

type serviceState struct {
	spec   models.ServiceSpec
	record models.DeploymentRecord

	// stable is the instance currently holding traffic. Zero until the
	// first successful deployment.
	stable models.Instance

	cycle       *cycle
	streak      int
	windowTimer *time.Timer

	// queued is the newest fingerprint seen while a cycle was in flight.
	// Later discoveries overwrite it, intermediate versions are skipped.
	queued models.Fingerprint

	recovering bool
	recoveryID string
}

type Machine struct {
	store     Store
	exec      Executor
	validator Prober
	recorder  Recorder
	mts       metrics.Metrics
	log       zerolog.Logger

	events chan event
	stop   chan struct{}
	runCtx context.Context

	services map[string]*serviceState
}

func NewMachine(
	store Store,
	exec Executor,
	validator Prober,
	recorder Recorder,
	mts metrics.Metrics,
	logger zerolog.Logger,
) *Machine {
	return &Machine{
		store:     store,
		exec:      exec,
		validator: validator,
		recorder:  recorder,
		mts:       mts,
		log:       logger,
		events:    make(chan event, eventBuffer),
		stop:      make(chan struct{}),
		services:  make(map[string]*serviceState),
	}
}

func (m *Machine) Run(ctx context.Context) error {
	m.runCtx = ctx
	defer close(m.stop)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-m.events:
			m.handle(ev)
		}
	}
}

func (m *Machine) enqueue(ev event) {
	select {
	case m.events <- ev:
	case <-m.stop:
	}
}

// OfferFingerprint implements the scheduler sink. Safe to call with
// already-deployed fingerprints, the machine deduplicates.
func (m *Machine) OfferFingerprint(service string, fp models.Fingerprint) {
	m.enqueue(event{kind: evFingerprint, service: service, fp: fp})
}

// OnProbeResult implements the prober observer.
func (m *Machine) OnProbeResult(service string, cycleID string, res probe.Result) {
	m.enqueue(event{kind: evProbeResult, service: service, cycleID: cycleID, res: res})
}

// Adopt hands the machine ownership of a service together with its
// persisted record. Interrupted deployments found in the record are
// recovered before any new work starts.
func (m *Machine) Adopt(ctx context.Context, spec models.ServiceSpec, rec models.DeploymentRecord) error {
	return m.ask(ctx, event{kind: evAdoptService, service: spec.Name, spec: spec, record: rec})
}

// Drop releases a service. With teardown the machine also unbinds traffic
// and terminates every instance; without it the instances are left for
// the next owner to adopt.
func (m *Machine) Drop(ctx context.Context, service string, teardown bool) error {
	return m.ask(ctx, event{kind: evDropService, service: service, teardown: teardown})
}

// Rollback cancels the in-flight deployment of a service on operator
// request. Returns ErrNotCancellable when nothing is in flight.
func (m *Machine) Rollback(ctx context.Context, service string) error {
	return m.ask(ctx, event{kind: evOperatorRollback, service: service})
}

// ClearPoison removes the poison mark and failure bookkeeping so the
// fingerprint may be attempted again.
func (m *Machine) ClearPoison(ctx context.Context, service string) error {
	return m.ask(ctx, event{kind: evClearPoison, service: service})
}

func (m *Machine) ask(ctx context.Context, ev event) error {
	ev.resp = make(chan error, 1)
	m.enqueue(ev)
	select {
	case err := <-ev.resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stop:
		return ErrStopped
	}
}

// persist writes the record through to the store. Losing the race against
// a crash here is fine: recovery re-derives the truth from the runtime
// and the proxy binding.
func (m *Machine) persist(st *serviceState) {
	err := retry.Do(
		func() error {
			return m.store.UpsertRecord(m.runCtx, st.record)
		},
		retry.Attempts(3),
		retry.Context(m.runCtx),
		retry.LastErrorOnly(true),
		retry.DelayType(retry.BackOffDelay),
	)
	if err != nil {
		m.log.Error().Err(err).Msgf("failed to persist record for %s, in-memory state runs ahead of the store", st.spec.Name)
	}
}

func (m *Machine) transition(st *serviceState, to models.DeploymentState, fp models.Fingerprint, reason string) {
	from := st.record.State
	now := time.Now()
	st.record.State = to
	st.record.LastTransition = now
	m.persist(st)

	t := models.Transition{
		Service:     st.spec.Name,
		From:        from,
		To:          to,
		Fingerprint: fp,
		Reason:      reason,
		Time:        now,
	}
	m.recorder.Record(t)
	m.log.Info().Msgf("deployment transition %s", t)
}

var _ prober.Observer = (*Machine)(nil)
