// Package inmemory is a map-backed record store used by tests and the
// local dev stand.
package inmemory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/Sh00ty/cloud-rollout/internal/models"
	"github.com/Sh00ty/cloud-rollout/internal/storage"
)

type Store struct {
	mu       sync.RWMutex
	services map[string]models.ServiceSpec
	records  map[string]models.DeploymentRecord
}

func NewStore() *Store {
	return &Store{
		services: make(map[string]models.ServiceSpec),
		records:  make(map[string]models.DeploymentRecord),
	}
}

func (s *Store) CreateService(_ context.Context, spec models.ServiceSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.services[spec.Name]; exists {
		return fmt.Errorf("service %s: %w", spec.Name, storage.ErrServiceExists)
	}
	s.services[spec.Name] = spec
	return nil
}

func (s *Store) DeleteService(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.services[name]; !exists {
		return fmt.Errorf("service %s: %w", name, storage.ErrNotFound)
	}
	delete(s.services, name)
	delete(s.records, name)
	return nil
}

func (s *Store) GetService(_ context.Context, name string) (models.ServiceSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	spec, exists := s.services[name]
	if !exists {
		return models.ServiceSpec{}, fmt.Errorf("service %s: %w", name, storage.ErrNotFound)
	}
	return spec, nil
}

func (s *Store) GetServices(_ context.Context, names []string) (map[string]models.ServiceSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]models.ServiceSpec, len(names))
	for _, name := range names {
		if spec, exists := s.services[name]; exists {
			result[name] = spec
		}
	}
	return result, nil
}

func (s *Store) ListServices(_ context.Context) ([]models.ServiceSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.ServiceSpec, 0, len(s.services))
	for _, spec := range s.services {
		result = append(result, spec)
	}
	slices.SortFunc(result, func(a, b models.ServiceSpec) int {
		return strings.Compare(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) UpsertRecord(_ context.Context, rec models.DeploymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.Service] = rec
	return nil
}

func (s *Store) GetRecord(_ context.Context, service string) (models.DeploymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[service]
	if !exists {
		return models.DeploymentRecord{}, fmt.Errorf("record for %s: %w", service, storage.ErrNotFound)
	}
	return rec, nil
}

func (s *Store) ListRecords(_ context.Context) ([]models.DeploymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.DeploymentRecord, 0, len(s.records))
	for _, rec := range s.records {
		result = append(result, rec)
	}
	slices.SortFunc(result, func(a, b models.DeploymentRecord) int {
		return strings.Compare(a.Service, b.Service)
	})
	return result, nil
}
