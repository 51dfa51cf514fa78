// Package prober runs validation probes against a staged candidate at a
// fixed cadence and reports every outcome to an observer. It does no
// counting itself: pass/fail streaks and the validation verdict live with
// the observer, so that a single goroutine owns that state.
package prober

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sh00ty/cloud-rollout/internal/metrics"
	"github.com/Sh00ty/cloud-rollout/pkg/probe"
)

// Observer consumes probe results. CycleID lets the observer discard
// results from cycles it has already abandoned.
type Observer interface {
	OnProbeResult(service string, cycleID string, res probe.Result)
}

// Task describes one validation run against a candidate endpoint.
type Task struct {
	Service  string
	CycleID  string
	Kind     probe.Kind
	Strategy probe.Strategy
	Interval time.Duration
}

type Validator struct {
	mts metrics.Metrics
	log zerolog.Logger
}

func NewValidator(mts metrics.Metrics, logger zerolog.Logger) *Validator {
	return &Validator{
		mts: mts,
		log: logger,
	}
}

// Run probes at the task cadence until ctx is cancelled, reporting every
// outcome to obs. The first probe fires one interval after the call,
// giving a freshly started instance a beat to open its listener.
func (v *Validator) Run(ctx context.Context, task Task, obs Observer) {
	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		res := v.check(ctx, task)
		if ctx.Err() != nil {
			// Cancelled mid-probe. The result reflects teardown, not the
			// candidate, so it must not reach the observer.
			return
		}
		obs.OnProbeResult(task.Service, task.CycleID, res)
	}
}

func (v *Validator) check(ctx context.Context, task Task) probe.Result {
	ts := time.Now()
	passed, err := task.Strategy.Check(ctx)
	latency := time.Since(ts)

	v.mts.Duration("deploy.probe.latency", latency)
	if passed {
		v.mts.Increment("deploy.probe.success")
	} else {
		v.mts.Increment("deploy.probe.failure")
		v.log.Debug().Err(err).Msgf("cycle %s: probe against %s candidate failed", task.CycleID, task.Service)
	}

	return probe.Result{
		Kind:      task.Kind,
		Success:   passed,
		Latency:   latency,
		CheckedAt: time.Now(),
		Err:       err,
	}
}
