// Package coordinator owns the node's share of the service catalog. It
// reacts to cluster membership changes and periodically resyncs against
// the store, adopting services the ring assigns here and releasing the
// rest. Releasing never touches instances: the next owner adopts the
// persisted record and recovers from it.
package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sh00ty/cloud-rollout/internal/models"
	"github.com/Sh00ty/cloud-rollout/internal/storage"
)

type ServiceSource interface {
	ListServices(ctx context.Context) ([]models.ServiceSpec, error)
	GetRecord(ctx context.Context, service string) (models.DeploymentRecord, error)
}

type PollScheduler interface {
	Add(service, artifact string, interval time.Duration) bool
	Remove(service string) bool
}

type OwnershipSharder interface {
	Owns(service string) bool
	AddNode(node models.NodeID)
	RemoveNode(node models.NodeID) bool
}

type Deployer interface {
	Adopt(ctx context.Context, spec models.ServiceSpec, rec models.DeploymentRecord) error
	Drop(ctx context.Context, service string, teardown bool) error
}

type Coordinator struct {
	source           ServiceSource
	sched            PollScheduler
	sharder          OwnershipSharder
	machine          Deployer
	membershipEvents chan models.MembershipEvent
	resyncInterval   time.Duration
	kick             chan struct{}
	owned            map[string]struct{}
	log              zerolog.Logger
}

func New(
	source ServiceSource,
	sched PollScheduler,
	sharder OwnershipSharder,
	machine Deployer,
	membershipEvents chan models.MembershipEvent,
	resyncInterval time.Duration,
	logger zerolog.Logger,
) *Coordinator {
	return &Coordinator{
		source:           source,
		sched:            sched,
		sharder:          sharder,
		machine:          machine,
		membershipEvents: membershipEvents,
		resyncInterval:   resyncInterval,
		kick:             make(chan struct{}, 1),
		owned:            make(map[string]struct{}),
		log:              logger,
	}
}

// Kick requests an out-of-band ownership sync. Used by the operator API
// after catalog mutations so a single-node setup reacts immediately
// instead of waiting for the resync tick.
func (c *Coordinator) Kick() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.resyncInterval)
	defer ticker.Stop()

	c.syncOwnership(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, opened := <-c.membershipEvents:
			if !opened {
				return nil
			}
			switch event.Type {
			case models.MembershipJoined:
				c.log.Info().Msgf("node %s joined, resharding", event.From)
				c.sharder.AddNode(event.From)
			case models.MembershipDead, models.MembershipLeft:
				c.log.Info().Msgf("node %s gone, resharding", event.From)
				if !c.sharder.RemoveNode(event.From) {
					continue
				}
			case models.MembershipUnknown, models.MembershipSuspect:
				continue
			}
			c.syncOwnership(ctx)
		case <-ticker.C:
			c.syncOwnership(ctx)
		case <-c.kick:
			c.syncOwnership(ctx)
		}
	}
}

func (c *Coordinator) syncOwnership(ctx context.Context) {
	specs, err := c.source.ListServices(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to list services, keeping current assignment")
		return
	}
	inStore := make(map[string]models.ServiceSpec, len(specs))
	for _, spec := range specs {
		inStore[spec.Name] = spec
	}

	// Release first: a service that moved away must stop being polled
	// here before its new owner starts staging anything.
	for name := range c.owned {
		_, exists := inStore[name]
		if exists && c.sharder.Owns(name) {
			continue
		}
		teardown := !exists
		if err := c.machine.Drop(ctx, name, teardown); err != nil {
			c.log.Error().Err(err).Msgf("failed to drop %s", name)
			continue
		}
		c.sched.Remove(name)
		delete(c.owned, name)
		if teardown {
			c.log.Info().Msgf("%s deleted from catalog, tearing it down", name)
		} else {
			c.log.Info().Msgf("%s moved to another node", name)
		}
	}

	for name, spec := range inStore {
		if _, already := c.owned[name]; already {
			continue
		}
		if !c.sharder.Owns(name) {
			continue
		}
		rec, err := c.source.GetRecord(ctx, name)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			c.log.Error().Err(err).Msgf("failed to load record for %s, skipping until next resync", name)
			continue
		}
		if err := c.machine.Adopt(ctx, spec, rec); err != nil {
			c.log.Error().Err(err).Msgf("failed to adopt %s", name)
			continue
		}
		c.sched.Add(spec.Name, spec.Artifact, spec.PollInterval)
		c.owned[name] = struct{}{}
		c.log.Info().Msgf("adopted %s (artifact %s)", name, spec.Artifact)
	}
}
