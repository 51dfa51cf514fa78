// Package audit fans deployment transitions out to every configured sink.
// The reconciler only ever pays the cost of a channel send; writing,
// retrying and requeueing happen on the recorder's own goroutine.
package audit

import (
	"context"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"

	"github.com/Sh00ty/cloud-rollout/internal/models"
)

// Sink stores or forwards transitions and reports how many of the batch
// it handled before failing.
type Sink interface {
	WriteTransitions(ctx context.Context, transitions []models.Transition) (int, error)
}

type sinkState struct {
	name   string
	sink   Sink
	unsent []models.Transition
}

type Recorder struct {
	events      chan models.Transition
	ttlTicker   *time.Ticker
	sinks       []*sinkState
	unsentGuard *sync.Mutex
	log         zerolog.Logger
}

func NewRecorder(buffer uint32, retryTimeout time.Duration, logger zerolog.Logger) *Recorder {
	return &Recorder{
		events:      make(chan models.Transition, buffer),
		ttlTicker:   time.NewTicker(retryTimeout),
		unsentGuard: &sync.Mutex{},
		log:         logger,
	}
}

// AddSink registers a sink. Not safe to call once Run started.
func (r *Recorder) AddSink(name string, sink Sink) {
	r.sinks = append(r.sinks, &sinkState{
		name:   name,
		sink:   sink,
		unsent: make([]models.Transition, 0),
	})
}

// Record hands a transition to the recorder. It blocks only when the
// buffer is full, which means every sink has been failing for a while.
func (r *Recorder) Record(t models.Transition) {
	r.events <- t
}

func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.drainAndFlush()
			return
		case <-r.ttlTicker.C:
			r.sendUnsentEvents(ctx)
		case event, ok := <-r.events:
			if !ok {
				return
			}
			r.write(ctx, event)
		}
	}
}

func (r *Recorder) write(ctx context.Context, event models.Transition) {
	for _, st := range r.sinks {
		err := retry.Do(
			func() error {
				_, err := st.sink.WriteTransitions(ctx, []models.Transition{event})
				return err
			},
			retry.Attempts(3),
			retry.Context(ctx),
			retry.LastErrorOnly(true),
		)
		if err != nil {
			r.log.Error().Err(err).Msgf("failed to write transition to %s, put it into unsent queue", st.name)
			r.unsentGuard.Lock()
			st.unsent = append(st.unsent, event)
			r.unsentGuard.Unlock()
		}
	}
}

func (r *Recorder) sendUnsentEvents(ctx context.Context) {
	r.unsentGuard.Lock()
	defer r.unsentGuard.Unlock()

	for _, st := range r.sinks {
		if len(st.unsent) == 0 {
			continue
		}
		done, err := st.sink.WriteTransitions(ctx, st.unsent)
		if err != nil {
			r.log.Warn().Err(err).Msgf("failed to flush unsent transitions to %s: done %d of %d", st.name, done, len(st.unsent))
			newUnsent := make([]models.Transition, len(st.unsent)-done)
			copy(newUnsent, st.unsent[done:])
			st.unsent = newUnsent
			continue
		}
		st.unsent = st.unsent[:0]
	}
}

// drainAndFlush empties the channel buffer and gives every sink one last
// bounded chance to take what it is owed.
func (r *Recorder) drainAndFlush() {
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		select {
		case event := <-r.events:
			r.write(flushCtx, event)
		default:
			r.sendUnsentEvents(flushCtx)
			return
		}
	}
}
