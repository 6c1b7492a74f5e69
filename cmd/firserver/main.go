// Command firserver runs the FIR pipeline HTTP service: it wires the
// Postgres-backed FIR store, the bbolt-backed session store, the model and
// knowledge-base clients, the reliability subsystems, and the HTTP surface,
// then serves until a shutdown signal arrives.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/afirgen/fir-pipeline/domain/fir"
	"github.com/afirgen/fir-pipeline/domain/pipeline"
	"github.com/afirgen/fir-pipeline/httpapi"
	"github.com/afirgen/fir-pipeline/infrastructure/config"
	"github.com/afirgen/fir-pipeline/infrastructure/kb"
	"github.com/afirgen/fir-pipeline/infrastructure/logging"
	"github.com/afirgen/fir-pipeline/infrastructure/metrics"
	"github.com/afirgen/fir-pipeline/infrastructure/middleware"
	"github.com/afirgen/fir-pipeline/infrastructure/modelclient"
	"github.com/afirgen/fir-pipeline/internal/platform/database"
	"github.com/afirgen/fir-pipeline/internal/platform/migrations"

	"github.com/afirgen/fir-pipeline/infrastructure/reliability"
)

func main() {
	logger := logging.NewFromEnv("firserver")
	ctx := context.Background()

	dsn := postgresDSN(ctx)
	db, err := database.Open(ctx, dsn)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := migrations.Apply(ctx, db); err != nil {
		log.Fatalf("apply migrations: %v", err)
	}

	sessionPath := config.GetEnv("SESSION_DB_PATH", "fir-sessions.db")
	sessionStore, err := pipeline.Open(sessionPath)
	if err != nil {
		log.Fatalf("open session store: %v", err)
	}
	defer sessionStore.Close()

	firStore := fir.NewStore(db)
	allocator := fir.NewDraftAllocator(firStore)

	modelClient := modelclient.New(modelclient.Config{
		LLMBaseURL:    config.RequireEnvOrSecret(ctx, nil, "LLM_SERVER_URL"),
		ASROCRBaseURL: config.RequireEnvOrSecret(ctx, nil, "ASR_OCR_SERVER_URL"),
		Timeout:       config.ParseDurationOrDefault(config.GetEnv("MODEL_CALL_TIMEOUT", ""), 45*time.Second),
		Semaphore:     semaphore.NewWeighted(int64(config.GetEnvInt("MAX_CONCURRENT_MODEL_CALLS", 10))),
		Logger:        logger,
	})
	kbRetriever := kb.New(config.RequireEnvOrSecret(ctx, nil, "KB_SERVER_URL"), nil)

	orchestrator := pipeline.NewOrchestrator(sessionStore, modelClient, kbRetriever, allocator, logger)

	health := reliability.NewMonitor(config.ParseDurationOrDefault(config.GetEnv("HEALTH_CHECK_INTERVAL", ""), 30*time.Second))
	recovery := reliability.NewRegistryWithPolicy(
		config.GetEnvInt("MAX_RECOVERY_ATTEMPTS", 3),
		config.ParseDurationOrDefault(config.GetEnv("RECOVERY_INTERVAL", ""), 60*time.Second),
	)
	shutdownGate := reliability.NewShutdownGate(30 * time.Second)

	health.Register("postgres", true, func(ctx context.Context) error { return db.PingContext(ctx) })
	for _, dep := range modelClient.Dependencies() {
		health.Register(dep, true, modelClient.Probe(dep))
	}
	for _, dep := range kbRetriever.Dependencies() {
		health.Register(dep, true, kbRetriever.Probe(dep))
	}

	recovery.Register("postgres", func(ctx context.Context) error { return db.PingContext(ctx) })
	for _, dep := range modelClient.Dependencies() {
		name := dep
		recovery.Register(name, func(ctx context.Context) error {
			return modelClient.Probe(name)(ctx)
		})
	}
	for _, dep := range kbRetriever.Dependencies() {
		name := dep
		recovery.Register(name, func(ctx context.Context) error {
			return kbRetriever.Probe(name)(ctx)
		})
	}

	ready := new(bool)
	health.OnTransition(func(name string, healthy bool) {
		modelClient.NoteHealth(name, healthy)
		if !healthy {
			if _, err := recovery.Trigger(context.Background(), name); err != nil {
				logger.WithContext(context.Background()).WithFields(map[string]interface{}{
					"dependency": name,
					"error":      err.Error(),
				}).Warn("failed to trigger auto-recovery")
			}
		}
		*ready = allRequiredHealthy(health)
	})

	startupTimeout := config.ParseDurationOrDefault(config.GetEnv("STARTUP_TIMEOUT", ""), 300*time.Second)
	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	health.Start(ctx)
	if err := health.WaitUntilReady(startCtx, startupTimeout); err != nil {
		cancel()
		logger.WithContext(ctx).WithFields(map[string]interface{}{"error": err.Error()}).
			Fatal("required dependencies not ready within STARTUP_TIMEOUT")
	}
	*ready = true
	cancel()

	sessionTimeout := config.ParseDurationOrDefault(config.GetEnv("SESSION_TIMEOUT", ""), 24*time.Hour)
	sweepStop := startSessionSweeper(ctx, logger, sessionStore, sessionTimeout)
	defer sweepStop()

	metricsInstance := metrics.New("fir-pipeline")

	validationConfig := middleware.DefaultValidationConfig()
	validationConfig.ContentTypes = append(validationConfig.ContentTypes, "multipart/form-data")

	corsOrigins := config.SplitAndTrimCSV(config.GetEnv("CORS_ORIGINS", ""))

	deps := &httpapi.Deps{
		Orchestrator: orchestrator,
		FIRStore:     firStore,
		ModelClient:  modelClient,
		KBRetriever:  kbRetriever,

		Health:     health,
		Recovery:   recovery,
		ShutdownGt: shutdownGate,

		Metrics: metricsInstance,
		Logger:  logger,

		RateLimiter:     buildRateLimiter(logger),
		CORS:            middleware.NewCORSMiddleware(&middleware.CORSConfig{AllowedOrigins: corsOrigins}),
		SecurityHeaders: middleware.NewSecurityHeadersMiddleware(nil),
		BodyLimit:       middleware.NewBodyLimitMiddleware(25 << 20),
		Validation:      middleware.NewValidationMiddleware(validationConfig),
		Recover:         middleware.NewRecoveryMiddleware(logger),
		Timeout:         middleware.NewTimeoutMiddleware(config.ParseDurationOrDefault(config.GetEnv("REQUEST_TIMEOUT", ""), 30*time.Second)),

		APIKey:           config.RequireEnvOrSecret(ctx, nil, "API_KEY"),
		FIRAuthKey:       config.RequireEnvOrSecret(ctx, nil, "FIR_AUTH_KEY"),
		MetricsCacheTTL:  10 * time.Second,
		StartedAt:        time.Now().UTC(),
		SessionTimeout:   sessionTimeout,
		Ready:            ready,
		ProcessSemaphore: semaphore.NewWeighted(int64(config.GetEnvInt("MAX_CONCURRENT_REQUESTS", 15))),
	}

	router := httpapi.NewRouter(deps)

	timeouts := config.GetDefaultTimeouts()
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.GetPort(8080)),
		Handler:      router,
		ReadTimeout:  timeouts.HTTP,
		WriteTimeout: timeouts.HTTP,
		IdleTimeout:  90 * time.Second,
	}

	shutdown := middleware.NewGracefulShutdown(httpServer, 30*time.Second)
	shutdown.OnShutdown(shutdownGate.BeginShutdown)
	shutdown.OnShutdown(health.Stop)

	go func() {
		logger.WithContext(ctx).WithFields(map[string]interface{}{"addr": httpServer.Addr}).Info("starting server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithContext(ctx).WithFields(map[string]interface{}{"error": err.Error()}).Error("server error")
			os.Exit(1)
		}
	}()

	shutdown.ListenForSignals()
	shutdown.Wait()
}

// postgresDSN assembles a lib/pq connection string from the individual
// POSTGRES_{HOST,PORT,USER,PASSWORD,DB} settings. USER, PASSWORD and DB go
// through RequireEnvOrSecret; HOST and PORT are plain environment variables.
func postgresDSN(ctx context.Context) string {
	host := config.GetEnv("POSTGRES_HOST", "localhost")
	port := config.GetEnvInt("POSTGRES_PORT", 5432)
	user := config.RequireEnvOrSecret(ctx, nil, "POSTGRES_USER")
	password := config.RequireEnvOrSecret(ctx, nil, "POSTGRES_PASSWORD")
	dbName := config.RequireEnvOrSecret(ctx, nil, "POSTGRES_DB")
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbName)
}

// startSessionSweeper periodically expires sessions that have been inactive
// longer than timeout, running alongside health.Start's probe loop. It
// returns a stop function that halts the ticker.
func startSessionSweeper(ctx context.Context, logger *logging.Logger, sessionStore *pipeline.Store, timeout time.Duration) func() {
	ticker := time.NewTicker(timeout / 4)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				n, err := sessionStore.SweepExpired(timeout)
				if err != nil {
					logger.WithContext(ctx).WithFields(map[string]interface{}{"error": err.Error()}).
						Warn("session sweep failed")
					continue
				}
				if n > 0 {
					logger.WithContext(ctx).WithFields(map[string]interface{}{"expired": n}).Info("swept expired sessions")
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		ticker.Stop()
		close(done)
	}
}

func buildRateLimiter(logger *logging.Logger) *middleware.RateLimiter {
	limit := config.GetEnvInt("RATE_LIMIT_REQUESTS", 100)
	window := config.ParseDurationOrDefault(config.GetEnv("RATE_LIMIT_WINDOW", ""), time.Minute)
	rl := middleware.NewRateLimiterWithWindow(limit, window, limit, logger)
	rl.SetMaxSize(10000)
	rl.StartCleanup(5 * time.Minute)
	return rl
}

// allRequiredHealthy reports whether every required dependency's most recent
// probe succeeded, the condition /healthz/ready gates traffic on.
func allRequiredHealthy(health *reliability.Monitor) bool {
	for _, snap := range health.Snapshot() {
		if snap.Required && !snap.Healthy {
			return false
		}
	}
	return true
}
