package prober

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sh00ty/cloud-rollout/internal/metrics"
	"github.com/Sh00ty/cloud-rollout/pkg/probe"
	"github.com/Sh00ty/cloud-rollout/pkg/strategies/mockprobe"
)

type observed struct {
	service string
	cycleID string
	res     probe.Result
}

type resultCapture struct {
	results chan observed
}

func (c *resultCapture) OnProbeResult(service string, cycleID string, res probe.Result) {
	c.results <- observed{service: service, cycleID: cycleID, res: res}
}

func waitResult(t *testing.T, ch chan observed) observed {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(3 * time.Second):
		require.FailNow(t, "no probe result reported")
	}
	return observed{}
}

// blockingStrategy parks until the probe context is cancelled.
type blockingStrategy struct{}

func (blockingStrategy) Check(ctx context.Context) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func TestValidatorReportsEveryOutcome(t *testing.T) {
	obs := &resultCapture{results: make(chan observed, 64)}
	v := NewValidator(metrics.NewNop(), zerolog.Nop())

	task := Task{
		Service:  "billing",
		CycleID:  "cycle-1",
		Kind:     probe.KindMock,
		Strategy: mockprobe.New(&mockprobe.Settings{FailFirst: 2}),
		Interval: 2 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go v.Run(ctx, task, obs)

	// The strategy is scripted to fail twice before passing; the
	// validator must report failures and successes alike.
	first := waitResult(t, obs.results)
	assert.Equal(t, "billing", first.service)
	assert.Equal(t, "cycle-1", first.cycleID)
	assert.Equal(t, probe.KindMock, first.res.Kind)
	assert.False(t, first.res.Success)

	second := waitResult(t, obs.results)
	assert.False(t, second.res.Success)

	third := waitResult(t, obs.results)
	assert.True(t, third.res.Success)
	assert.False(t, third.res.CheckedAt.IsZero())
}

func TestValidatorStopsOnCancel(t *testing.T) {
	obs := &resultCapture{results: make(chan observed, 64)}
	v := NewValidator(metrics.NewNop(), zerolog.Nop())

	task := Task{
		Service:  "billing",
		CycleID:  "cycle-1",
		Kind:     probe.KindMock,
		Strategy: mockprobe.New(&mockprobe.Settings{}),
		Interval: 2 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		v.Run(ctx, task, obs)
		close(done)
	}()

	waitResult(t, obs.results)
	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("validator did not stop on cancel")
	}

	// Drain whatever was reported before the cancel landed, then make
	// sure the flow has actually stopped.
	for len(obs.results) > 0 {
		<-obs.results
	}
	select {
	case <-obs.results:
		t.Fatal("probe result reported after stop")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestValidatorDropsResultCutShortByCancel(t *testing.T) {
	obs := &resultCapture{results: make(chan observed, 64)}
	v := NewValidator(metrics.NewNop(), zerolog.Nop())

	task := Task{
		Service:  "billing",
		CycleID:  "cycle-1",
		Kind:     probe.KindMock,
		Strategy: blockingStrategy{},
		Interval: 2 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		v.Run(ctx, task, obs)
		close(done)
	}()

	// Let the probe start and park, then tear the cycle down. The
	// interrupted probe reflects the teardown, not the candidate.
	time.Sleep(10 * time.Millisecond)
	cancel()
	<-done

	assert.Empty(t, obs.results)
}