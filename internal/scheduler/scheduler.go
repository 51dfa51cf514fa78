// Package scheduler drives registry polling. Every owned service sits in a
// time heap keyed by its next poll deadline; the run loop sleeps until the
// top task is due, asks the registry for the latest fingerprint and hands
// the answer to the sink. A shared rate limiter caps how hard a node hits
// the registry no matter how many services it owns.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/hashicorp/go-uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Sh00ty/cloud-rollout/internal/metrics"
	"github.com/Sh00ty/cloud-rollout/internal/models"
)

const emptyHeapInterval = 1 * time.Second

type Registry interface {
	Latest(ctx context.Context, artifact string) (models.Fingerprint, error)
}

// Sink receives every fingerprint the registry reports. Deduplication is
// the sink's job: polls repeat on an interval and mostly return the
// fingerprint that is already running.
type Sink interface {
	OfferFingerprint(service string, fp models.Fingerprint)
}

type Scheduler struct {
	pollHeap *pollHeap
	registry Registry
	sink     Sink
	limiter  *rate.Limiter
	mts      metrics.Metrics
	log      zerolog.Logger
}

func New(registry Registry, sink Sink, registryRPS int, mts metrics.Metrics, logger zerolog.Logger) *Scheduler {
	if registryRPS <= 0 {
		registryRPS = 1
	}
	return &Scheduler{
		pollHeap: newPollHeap(nil),
		registry: registry,
		sink:     sink,
		limiter:  rate.NewLimiter(rate.Limit(registryRPS), registryRPS),
		mts:      mts,
		log:      logger,
	}
}

// Add schedules polling for a service. The first poll fires after a
// jittered interval so that nodes restarting together do not stampede
// the registry. Returns false if the service is already scheduled.
func (s *Scheduler) Add(service, artifact string, interval time.Duration) bool {
	return s.pollHeap.push(pollTask{
		Service:  service,
		Artifact: artifact,
		Interval: interval,
		NextPoll: intervalWithJitter(interval),
	})
}

func (s *Scheduler) Remove(service string) bool {
	return s.pollHeap.remove(service)
}

func (s *Scheduler) Run(ctx context.Context) error {
	next := s.pollHeap.getTop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Until(pollTimeOrDefault(next))):
		}
		if next == nil {
			next = s.pollHeap.getTop()
			continue
		}
		if err := s.poll(ctx, next); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("failed to poll registry: %w", err)
		}
		next = s.pollHeap.updateAndGetTop()
	}
}

func (s *Scheduler) poll(ctx context.Context, task *pollTask) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("registry limiter: %w", err)
	}
	pollID, err := uuid.GenerateUUID()
	if err != nil {
		return fmt.Errorf("failed to generate uuid for poll, probably need restart: %w", err)
	}

	ts := time.Now()
	fp, err := s.registry.Latest(ctx, task.Artifact)
	s.mts.Duration("registry.poll.duration", time.Since(ts))
	if err != nil {
		// Registries flap. The task stays in the heap and the next tick
		// retries, so a failed poll is logged and swallowed.
		s.mts.Increment("registry.poll.errors")
		s.log.Warn().Err(err).Msgf("poll %s: registry lookup for %s failed", pollID, task.Service)
		return nil
	}

	s.log.Debug().Msgf("poll %s: artifact %s latest fingerprint %s", pollID, task.Artifact, fp.Short())
	s.sink.OfferFingerprint(task.Service, fp)
	return nil
}

func pollTimeOrDefault(task *pollTask) time.Time {
	if task == nil {
		return time.Now().Add(emptyHeapInterval)
	}
	return task.NextPoll
}

func intervalWithJitter(interval time.Duration) time.Time {
	return time.Now().Add(interval + jit(interval))
}

func jit(interval time.Duration) time.Duration {
	if interval <= 0 {
		return 0
	}
	return time.Duration(rand.Uint64N(uint64(interval)))
}
