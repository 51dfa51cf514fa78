package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vrischmann/envconfig"

	"github.com/Sh00ty/cloud-rollout/internal/audit"
	"github.com/Sh00ty/cloud-rollout/internal/audit/journal"
	"github.com/Sh00ty/cloud-rollout/internal/audit/stream"
	"github.com/Sh00ty/cloud-rollout/internal/coordinator"
	"github.com/Sh00ty/cloud-rollout/internal/gossip"
	"github.com/Sh00ty/cloud-rollout/internal/metrics"
	"github.com/Sh00ty/cloud-rollout/internal/models"
	"github.com/Sh00ty/cloud-rollout/internal/opsserver"
	"github.com/Sh00ty/cloud-rollout/internal/prober"
	"github.com/Sh00ty/cloud-rollout/internal/reconciler"
	"github.com/Sh00ty/cloud-rollout/internal/registry"
	"github.com/Sh00ty/cloud-rollout/internal/rollout"
	"github.com/Sh00ty/cloud-rollout/internal/rollout/proxy/etcd"
	"github.com/Sh00ty/cloud-rollout/internal/rollout/runtime/agent"
	"github.com/Sh00ty/cloud-rollout/internal/scheduler"
	"github.com/Sh00ty/cloud-rollout/internal/sharder"
	"github.com/Sh00ty/cloud-rollout/internal/storage/postgres"
)

func loggerLevelFromString(level string) zerolog.Level {
	level = strings.ToLower(level)
	switch level {
	case "error":
		return zerolog.ErrorLevel
	case "warn":
		return zerolog.WarnLevel
	case "info":
		return zerolog.InfoLevel
	case "debug":
		return zerolog.DebugLevel
	}
	return zerolog.WarnLevel
}

type Config struct {
	NodeID      string `envconfig:"NODE_ID"`
	LoggerLevel string `envconfig:"LOGGER_LEVEL"`

	DatabaseHost     string `envconfig:"DATABASE_HOST"`
	DatabaseUser     string `envconfig:"DATABASE_USER"`
	DatabasePassword string `envconfig:"DATABASE_PASSWORD"`
	DatabasePort     uint16 `envconfig:"DATABASE_PORT"`

	RegistryURL     string        `envconfig:"REGISTRY_URL"`
	RegistryTimeout time.Duration `envconfig:"REGISTRY_TIMEOUT"`
	RegistryRPS     int           `envconfig:"REGISTRY_RPS"`

	AgentURL     string        `envconfig:"AGENT_URL"`
	AgentTimeout time.Duration `envconfig:"AGENT_TIMEOUT"`

	EtcdEndpoints []string `envconfig:"ETCD_ENDPOINTS"`

	AuditDBPath         string        `envconfig:"AUDIT_DB_PATH"`
	QueueAddr           string        `envconfig:"QUEUE_ADDR"`
	QueueTopic          string        `envconfig:"QUEUE_TRANSITIONS_TOPIC"`
	AuditBuffer         uint32        `envconfig:"AUDIT_BUFFER"`
	ResendAuditInterval time.Duration `envconfig:"RESEND_AUDIT_INTERVAL"`

	OpsAddr        string        `envconfig:"OPS_API_ADDR"`
	ResyncInterval time.Duration `envconfig:"OWNERSHIP_RESYNC_INTERVAL"`

	InitialNodeSyncTimeout time.Duration `envconfig:"INITIAL_NODE_SYNC_TIMEOUT"`
	NodeAddrsMask          string        `envconfig:"NODE_ADDR_MASK"`
	NodesCount             int           `envconfig:"TOTAL_NODES"`

	StatsdAddr string `envconfig:"STATSD_ADDR,optional"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	_ = godotenv.Load()

	appCfg := Config{}
	err := envconfig.Init(&appCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read app config")
	}
	log.Logger = log.Level(loggerLevelFromString(appCfg.LoggerLevel))

	log.Warn().Msgf("running node %s", appCfg.NodeID)

	mts := metrics.NewNop()
	if appCfg.StatsdAddr != "" {
		mts = metrics.NewStatsd(appCfg.NodeID, appCfg.StatsdAddr)
	}

	store, err := postgres.NewRepo(
		ctx,
		appCfg.DatabaseUser,
		appCfg.DatabasePassword,
		appCfg.DatabaseHost,
		appCfg.DatabasePort,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init database repository")
	}
	defer store.Close()

	registryClient, err := registry.NewClient(appCfg.RegistryURL, appCfg.RegistryTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init artifact registry client")
	}
	agentClient, err := agent.NewClient(appCfg.AgentURL, appCfg.AgentTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init instance agent client")
	}
	proxyRegistry, err := etcd.NewRegistry(ctx, appCfg.EtcdEndpoints)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init etcd traffic registry")
	}
	defer proxyRegistry.Close()

	executor := rollout.NewExecutor(agentClient, proxyRegistry, log.Logger)

	auditDB, err := journal.Open(appCfg.AuditDBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open audit journal")
	}
	defer auditDB.Close()
	auditJournal := &journal.Journal{DB: auditDB}

	streamPublisher := stream.NewPublisher(appCfg.QueueAddr, appCfg.QueueTopic)
	defer streamPublisher.Close()

	recorder := audit.NewRecorder(appCfg.AuditBuffer, appCfg.ResendAuditInterval, log.Logger)
	recorder.AddSink("journal", auditJournal)
	recorder.AddSink("stream", streamPublisher)
	go recorder.Run(ctx)

	validator := prober.NewValidator(mts, log.Logger)

	machine := reconciler.NewMachine(store, executor, validator, recorder, mts, log.Logger)
	go machine.Run(ctx)

	sched := scheduler.New(registryClient, machine, appCfg.RegistryRPS, mts, log.Logger)
	go func() {
		err := sched.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Fatal().Err(err).Msg("registry poll scheduler died")
		}
	}()

	shard := sharder.New(models.NodeID(appCfg.NodeID), log.Logger)

	var seedNodes []string
	for nodeOrderedID := range appCfg.NodesCount {
		seedNodes = append(seedNodes, fmt.Sprintf(appCfg.NodeAddrsMask, nodeOrderedID))
	}
	gossipCfg := gossip.Config{
		SeedNodes: seedNodes,
	}
	err = envconfig.Init(&gossipCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read gossip config")
	}

	membershipEvents := make(chan models.MembershipEvent, 256)
	memberList, err := gossip.New(ctx, gossipCfg, membershipEvents)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init memberlist")
	}

	cord := coordinator.New(
		store,
		sched,
		shard,
		machine,
		membershipEvents,
		appCfg.ResyncInterval,
		log.Logger,
	)
	go cord.Run(ctx)

	opsServer := opsserver.NewServer(
		appCfg.OpsAddr,
		store,
		machine,
		auditJournal,
		cord,
		log.Logger,
	)
	go func() {
		err := opsServer.Run(ctx)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("operator api server died")
		}
	}()

	select {
	case <-ctx.Done():
	case <-time.After(appCfg.InitialNodeSyncTimeout):
		err := memberList.Join(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to join gossip cluster")
		}
		log.Info().Msg("successfully joined gossip cluster")
	}

	serverClose := startProbeServer()
	defer serverClose()

	<-ctx.Done()
	memberList.GracefulClose(time.Second)
}

func startProbeServer() func() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		w.WriteHeader(http.StatusOK)
	})
	srv := http.Server{
		Handler: mux,
		Addr:    "0.0.0.0:8080",
	}
	go func() {
		err := srv.ListenAndServe()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start http server")
		}
	}()
	return func() {
		_ = srv.Close()
	}
}
