// Package httpapi assembles the FIR pipeline's HTTP surface: the router,
// middleware chain, and per-endpoint handlers, wired against an explicit
// dependency-container struct rather than module-level globals.
package httpapi

import (
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/afirgen/fir-pipeline/domain/fir"
	"github.com/afirgen/fir-pipeline/domain/pipeline"
	"github.com/afirgen/fir-pipeline/infrastructure/kb"
	"github.com/afirgen/fir-pipeline/infrastructure/logging"
	"github.com/afirgen/fir-pipeline/infrastructure/metrics"
	"github.com/afirgen/fir-pipeline/infrastructure/middleware"
	"github.com/afirgen/fir-pipeline/infrastructure/modelclient"
	"github.com/afirgen/fir-pipeline/infrastructure/reliability"
)

// Deps is the explicit dependency container passed to every handler. It is
// constructed once at startup (cmd/firserver/main.go) and torn down in
// reverse order on shutdown; there is no hidden module-level state.
type Deps struct {
	Orchestrator *pipeline.Orchestrator
	FIRStore     *fir.Store
	ModelClient  *modelclient.Client
	KBRetriever  *kb.Retriever

	Health     *reliability.Monitor
	Recovery   *reliability.Registry
	ShutdownGt *reliability.ShutdownGate

	Metrics *metrics.Metrics
	Logger  *logging.Logger

	RateLimiter     *middleware.RateLimiter
	CORS            *middleware.CORSMiddleware
	SecurityHeaders *middleware.SecurityHeadersMiddleware
	BodyLimit       *middleware.BodyLimitMiddleware
	Validation      *middleware.ValidationMiddleware
	Recover         *middleware.RecoveryMiddleware
	Timeout         *middleware.TimeoutMiddleware

	APIKey          string
	FIRAuthKey      string
	MetricsCacheTTL time.Duration
	StartedAt       time.Time
	SessionTimeout  time.Duration

	// Ready flips to true once startup's dependency gate (health.WaitUntilReady)
	// has let traffic through; /healthz/ready reports it directly.
	Ready *bool

	// ProcessSemaphore bounds the number of concurrently in-flight /process
	// requests (MAX_CONCURRENT_REQUESTS), independent of ModelClient's own
	// per-call semaphore which only bounds calls into the model client.
	ProcessSemaphore *semaphore.Weighted
}
