// Package main is the entrypoint for the squadops API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arka-squad/arka-labs-sub000/internal/api"
	"github.com/arka-squad/arka-labs-sub000/internal/api/handler"
	mw "github.com/arka-squad/arka-labs-sub000/internal/api/middleware"
	"github.com/arka-squad/arka-labs-sub000/internal/artifact"
	"github.com/arka-squad/arka-labs-sub000/internal/cache"
	"github.com/arka-squad/arka-labs-sub000/internal/config"
	"github.com/arka-squad/arka-labs-sub000/internal/events"
	"github.com/arka-squad/arka-labs-sub000/internal/gates"
	"github.com/arka-squad/arka-labs-sub000/internal/idempotency"
	"github.com/arka-squad/arka-labs-sub000/internal/metrics"
	"github.com/arka-squad/arka-labs-sub000/internal/raci"
	"github.com/arka-squad/arka-labs-sub000/internal/runner"
	"github.com/arka-squad/arka-labs-sub000/internal/squads"
	"github.com/arka-squad/arka-labs-sub000/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"idempotency_backend", cfg.Jobs.IdempotencyBackend,
		"artifact_backend", cfg.Artifacts.Backend,
		"events_backend", cfg.Events.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Metrics
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		if metricsHandler, err = metrics.InitMeterProvider(ctx, cfg.Metrics.ServiceName); err != nil {
			return fmt.Errorf("init metrics: %w", err)
		}
		if err := metrics.InitMetrics(ctx); err != nil {
			return fmt.Errorf("init metrics: %w", err)
		}
	}

	// 6. Job plumbing
	logs := artifact.NewFileStore(cfg.Jobs.ArtifactRoot)
	results, err := newResultStore(ctx, cfg, logs)
	if err != nil {
		return fmt.Errorf("create artifact store: %w", err)
	}
	broker, err := newPublisher(cfg.Events)
	if err != nil {
		return fmt.Errorf("create event publisher: %w", err)
	}
	// Closed after the jobs drain so their job.finished events go out.
	publisher := events.NewAsync(broker)
	defer publisher.Close()

	registry, err := gates.Default()
	if err != nil {
		return fmt.Errorf("load gate catalog: %w", err)
	}

	pgStore := store.NewPostgresStore(pool)
	jobs := runner.New(registry, pgStore, newIdempotency(cfg.Jobs, redisCache), logs, results,
		runner.WithCeiling(cfg.Jobs.Ceiling),
		runner.WithPublisher(publisher),
		runner.WithStatusCache(redisCache),
		runner.WithHeartbeat(cfg.Jobs.HeartbeatInterval),
	)
	if cfg.Metrics.Enabled {
		if err := metrics.RegisterRunningJobs(jobs.Running); err != nil {
			return fmt.Errorf("register running jobs gauge: %w", err)
		}
	}

	squadSvc := squads.NewService(pgStore,
		squads.WithCache(redisCache, cfg.Cache.SquadTTL),
		squads.WithPublisher(publisher),
	)
	raciSvc := raci.NewService(pgStore)

	// 7. Build router with dependencies
	squadHandlers := handler.NewSquadHandlers(squadSvc)
	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore, cfg.Auth.JWTSecret),
		RateLimit: mw.NewRateLimit(redisCache, cfg.RateLimit.RequestsPerMinute),

		HealthHandler:  handler.NewHealthHandler(pgStore, redisCache),
		MetricsHandler: metricsHandler,

		ListGates:   handler.NewListGatesHandler(registry),
		ListRecipes: handler.NewListRecipesHandler(registry),
		RunGate:     handler.NewRunGateHandler(jobs),
		RunRecipe:   handler.NewRunRecipeHandler(jobs),
		ListJobs:    handler.NewListJobsHandler(jobs),
		GetJob:      handler.NewGetJobHandler(jobs),
		CancelJob:   handler.NewCancelJobHandler(jobs),
		JobLogs:     handler.NewJobLogsHandler(jobs, logs),
		Stream:      handler.NewStreamHandler(jobs, logs),
		GateWebhook: handler.NewWebhookHandler(handler.WebhookConfig{
			Secret:    cfg.Webhook.Secret,
			ReplayTTL: cfg.Webhook.ReplayTTL,
		}, redisCache, publisher),

		CreateSquad:       squadHandlers.Create,
		GetSquad:          squadHandlers.Get,
		UpdateSquad:       squadHandlers.Update,
		DeleteSquad:       squadHandlers.Delete,
		AddMember:         squadHandlers.AddMember,
		RemoveMember:      squadHandlers.RemoveMember,
		CreateInstruction: squadHandlers.CreateInstruction,
		AttachSquad:       squadHandlers.Attach,
		DetachSquad:       squadHandlers.Detach,

		ValidateRACI: handler.NewValidateRACIHandler(raciSvc),
		AssignRACI:   handler.NewAssignRACIHandler(raciSvc),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server. No WriteTimeout: job streams stay open.
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	jobsCtx, cancelJobs := context.WithTimeout(context.Background(), cfg.Jobs.ShutdownTimeout)
	defer cancelJobs()
	if err := jobs.Shutdown(jobsCtx); err != nil {
		slog.Error("jobs did not drain", "error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// newIdempotency picks the idempotency backend. The memory backend is
// process-local; redis shares keys across replicas.
func newIdempotency(cfg config.JobsConfig, c cache.Cache) idempotency.Cache {
	if cfg.IdempotencyBackend == "redis" {
		return idempotency.NewRedisCache(c, cfg.IdempotencyTTL)
	}
	return idempotency.NewMemoryCache(cfg.IdempotencyTTL)
}

func newResultStore(ctx context.Context, cfg *config.Config, files *artifact.FileStore) (artifact.ResultStore, error) {
	if cfg.Artifacts.Backend != "minio" {
		return files, nil
	}
	m := cfg.Artifacts.Minio
	client, err := artifact.NewMinioClient(m.Endpoint, m.AccessKey, m.SecretKey, m.Secure)
	if err != nil {
		return nil, err
	}
	st := artifact.NewMinioStore(client, m.Bucket)
	if err := st.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	slog.Info("minio artifact store ready", "bucket", m.Bucket)
	return st, nil
}

func newPublisher(cfg config.EventsConfig) (events.Publisher, error) {
	if cfg.Backend != "amqp" {
		return events.Nop{}, nil
	}
	p, err := events.DialAMQP(cfg.AMQPURL, cfg.Exchange)
	if err != nil {
		return nil, err
	}
	slog.Info("amqp publisher connected", "exchange", cfg.Exchange)
	return p, nil
}
