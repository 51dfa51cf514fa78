// Package sharder decides which node owns which service. Ownership is a
// consistent hash of the service name over the live membership, so a node
// joining or dying only moves its own slice of services.
package sharder

import (
	"fmt"

	"github.com/lafikl/consistent"
	"github.com/rs/zerolog"

	"github.com/Sh00ty/cloud-rollout/internal/models"
)

type Sharder struct {
	self models.NodeID
	ring *consistent.Consistent
	log  zerolog.Logger
}

func New(self models.NodeID, logger zerolog.Logger) *Sharder {
	ring := consistent.New()
	ring.Add(self.String())
	return &Sharder{
		self: self,
		ring: ring,
		log:  logger,
	}
}

// AddNode is idempotent, re-adding a known node changes nothing.
func (s *Sharder) AddNode(node models.NodeID) {
	s.ring.Add(node.String())
}

// RemoveNode drops a node from the ring. The local node is never removed:
// a sharder with an empty ring could not answer ownership at all.
func (s *Sharder) RemoveNode(node models.NodeID) bool {
	if node == s.self {
		return false
	}
	return s.ring.Remove(node.String())
}

func (s *Sharder) Owner(service string) (models.NodeID, error) {
	owner, err := s.ring.Get(service)
	if err != nil {
		return "", fmt.Errorf("failed to find owner for %s: %w", service, err)
	}
	return models.NodeID(owner), nil
}

// Owns reports whether this node is responsible for the service.
func (s *Sharder) Owns(service string) bool {
	owner, err := s.Owner(service)
	if err != nil {
		s.log.Error().Err(err).Msgf("ring lookup for %s failed", service)
		return false
	}
	return owner == s.self
}

func (s *Sharder) Nodes() []models.NodeID {
	hosts := s.ring.Hosts()
	nodes := make([]models.NodeID, 0, len(hosts))
	for _, h := range hosts {
		nodes = append(nodes, models.NodeID(h))
	}
	return nodes
}
