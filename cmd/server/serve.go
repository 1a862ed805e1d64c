package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-wf-approvals/internal/client"
	"github.com/pesio-ai/be-wf-approvals/internal/domain"
	"github.com/pesio-ai/be-wf-approvals/internal/handler"
	"github.com/pesio-ai/be-wf-approvals/internal/lock"
	"github.com/pesio-ai/be-wf-approvals/internal/platform/config"
	"github.com/pesio-ai/be-wf-approvals/internal/platform/database"
	"github.com/pesio-ai/be-wf-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-wf-approvals/internal/platform/metrics"
	"github.com/pesio-ai/be-wf-approvals/internal/platform/middleware"
	"github.com/pesio-ai/be-wf-approvals/internal/platform/natsclient"
	"github.com/pesio-ai/be-wf-approvals/internal/platform/tracing"
	"github.com/pesio-ai/be-wf-approvals/internal/repository"
	"github.com/pesio-ai/be-wf-approvals/internal/repository/memory"
	"github.com/pesio-ai/be-wf-approvals/internal/service"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func newLogger(cfg *config.Config) *logger.Logger {
	return logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})
}

// ports bundles the storage-side collaborators chosen by STORE_BACKEND.
type ports struct {
	store     domain.DocumentStore
	directory domain.Directory
	ledger    domain.BudgetLedger
	history   domain.HistoryStore
	tx        domain.TxManager
}

func serve(parent context.Context, cfg *config.Config) error {
	log := newLogger(cfg)
	log.Info().
		Str("environment", cfg.Service.Environment).
		Str("store_backend", cfg.Approval.StoreBackend).
		Str("lock_backend", cfg.Approval.LockBackend).
		Msg("Starting Approvals Service")

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(cfg.Service.Name, cfg.Service.Version, cfg.Tracing.OutputFile)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Warn().Err(err).Msg("Tracer shutdown failed")
			}
		}()
	}

	// Storage
	var (
		db *database.DB
		p  ports
	)
	switch cfg.Approval.StoreBackend {
	case config.BackendPostgres:
		var err error
		db, err = openDatabase(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		log.Info().Msg("Database connection established")

		p = ports{
			store:     repository.NewApprovalRepository(db),
			directory: repository.NewDirectoryRepository(db),
			ledger:    repository.NewBudgetLedgerRepository(db),
			history:   repository.NewApprovalHistoryRepository(db),
			tx:        db,
		}
	case config.BackendMemory:
		mem := memory.NewStore()
		p = ports{store: mem, directory: mem, ledger: mem, history: mem, tx: mem}
		log.Warn().Msg("Using in-memory store; data is lost on restart")
	}

	// Document lease
	var (
		locks lock.Coordinator
		rdb   *redis.Client
	)
	switch cfg.Approval.LockBackend {
	case config.BackendRedis:
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		locks = lock.NewRedisCoordinator(rdb)
	case config.BackendPostgres:
		locks = lock.NewPostgresCoordinator(db)
	case config.BackendMemory:
		locks = lock.NewMemoryCoordinator()
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Notifications
	var broker client.Broker = client.LogBroker{Log: log.Component("notifications")}
	if cfg.NATS.Enabled {
		nc, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATS.URL,
			Stream:   cfg.NATS.Stream,
			Subjects: []string{"notifications.approval.>"},
			Name:     cfg.Service.Name,
		})
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nc.Close()
		broker = nc
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
	}
	dispatcher := client.NewDispatcher(
		client.NewNotificationPublisher(broker, log.Component("notifications")),
		cfg.Approval.NotifyQueueSize,
		cfg.Approval.NotifyWorkerCount,
		m,
		log.Component("notifications"),
	)

	approvalService := service.NewApprovalService(service.Dependencies{
		Store:     p.store,
		Directory: p.directory,
		Ledger:    p.ledger,
		History:   p.history,
		Notifier:  dispatcher,
		Tx:        p.tx,
		Locks:     locks,
		Metrics:   m,
		Log:       log,
	}, service.Config{
		LockWait:  cfg.Approval.LockWaitTimeout,
		LockLease: cfg.Approval.LockLeaseTTL,
	})

	// HTTP
	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(middleware.Logger(&log.Logger))
	router.Use(chimw.Recoverer)
	router.Use(middleware.CORS([]string{"*"}))
	router.Use(chimw.Timeout(cfg.Server.RequestTimeout))

	router.Get("/health", healthHandler(db, rdb))
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	router.Mount("/api/v1/approvals", handler.NewHTTPHandler(approvalService, log).Routes())

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// gRPC
	grpcServer := grpc.NewServer()
	handler.NewGRPCHandler(approvalService, log).Register(grpcServer)
	healthServer := health.NewServer()
	healthServer.SetServingStatus(handler.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("Server failed")
	}

	log.Info().Msg("Shutting down server...")
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	grpcServer.GracefulStop()

	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Pending notifications were not flushed")
	}

	log.Info().Msg("Server stopped")
	return runErr
}

// healthHandler reports dependency reachability.
func healthHandler(db *database.DB, rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{}
		healthy := true

		if db != nil {
			checks["database"] = "ok"
			if err := db.Ping(r.Context()); err != nil {
				checks["database"] = err.Error()
				healthy = false
			}
		}
		if rdb != nil {
			checks["redis"] = "ok"
			if err := rdb.Ping(r.Context()).Err(); err != nil {
				checks["redis"] = err.Error()
				healthy = false
			}
		}

		status, code := "healthy", http.StatusOK
		if !healthy {
			status, code = "unhealthy", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": status, "checks": checks})
	}
}
