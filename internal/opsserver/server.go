// Package opsserver is the operator-facing HTTP API: service catalog
// management, deployment status, manual rollback, poison clearing and
// transition history.
package opsserver

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sh00ty/cloud-rollout/internal/models"
)

type Catalog interface {
	CreateService(ctx context.Context, spec models.ServiceSpec) error
	DeleteService(ctx context.Context, name string) error
	GetService(ctx context.Context, name string) (models.ServiceSpec, error)
	ListServices(ctx context.Context) ([]models.ServiceSpec, error)
	GetRecord(ctx context.Context, service string) (models.DeploymentRecord, error)
}

type Deployer interface {
	Rollback(ctx context.Context, service string) error
	ClearPoison(ctx context.Context, service string) error
}

type HistorySource interface {
	History(ctx context.Context, service string, limit int) ([]models.Transition, error)
}

// OwnershipSync nudges the coordinator after catalog mutations so changes
// apply without waiting for the next resync tick.
type OwnershipSync interface {
	Kick()
}

type Server struct {
	addr    string
	catalog Catalog
	deps    Deployer
	history HistorySource
	sync    OwnershipSync
	log     zerolog.Logger
}

func NewServer(
	addr string,
	catalog Catalog,
	deployer Deployer,
	history HistorySource,
	sync OwnershipSync,
	logger zerolog.Logger,
) *Server {
	return &Server{
		addr:    addr,
		catalog: catalog,
		deps:    deployer,
		history: history,
		sync:    sync,
		log:     logger,
	}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/services", s.handleRegisterService)
	mux.HandleFunc("GET /v1/services", s.handleListServices)
	mux.HandleFunc("GET /v1/services/{service}", s.handleGetService)
	mux.HandleFunc("DELETE /v1/services/{service}", s.handleRemoveService)
	mux.HandleFunc("POST /v1/services/{service}/rollback", s.handleRollback)
	mux.HandleFunc("DELETE /v1/services/{service}/poison", s.handleClearPoison)
	mux.HandleFunc("GET /v1/services/{service}/history", s.handleHistory)
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info().Msgf("operator api listening on %s", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
