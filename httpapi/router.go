package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/afirgen/fir-pipeline/infrastructure/middleware"
)

// NewRouter wires every endpoint in the HTTP surface behind the mandated
// middleware chain: security headers, CORS, authentication, rate limiting,
// request validation, the shutdown gate, then request tracking, in that
// order from outermost to innermost.
func NewRouter(deps *Deps) *mux.Router {
	s := &server{deps: deps}
	r := mux.NewRouter()

	r.Use(deps.SecurityHeaders.Handler)
	r.Use(deps.CORS.Handler)
	r.Use(middleware.AuthMiddleware(deps.APIKey))
	r.Use(deps.RateLimiter.Handler)
	r.Use(deps.Validation.Handler)
	r.Use(deps.BodyLimit.Handler)
	r.Use(deps.ShutdownGt.Middleware)
	r.Use(deps.Recover.Handler)
	r.Use(deps.Timeout.Handler)
	r.Use(middleware.NewTracingMiddleware(deps.Logger).Handler)
	r.Use(middleware.MetricsMiddleware("fir-pipeline", deps.Metrics))

	r.HandleFunc("/process", s.handleProcess).Methods(http.MethodPost)
	r.HandleFunc("/validate", s.handleValidate).Methods(http.MethodPost)
	r.HandleFunc("/regenerate/{session_id}", s.handleRegenerate).Methods(http.MethodPost)
	r.HandleFunc("/session/{session_id}/status", s.handleSessionStatus).Methods(http.MethodGet)
	r.HandleFunc("/authenticate", s.handleAuthenticate).Methods(http.MethodPost)
	r.HandleFunc("/fir/{fir_number}", s.handleGetFIR).Methods(http.MethodGet)
	r.HandleFunc("/fir/{fir_number}/content", s.handleGetFIRContent).Methods(http.MethodGet)
	r.HandleFunc("/list_firs", s.handleListFIRs).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/reliability", s.handleReliability).Methods(http.MethodGet)
	r.HandleFunc("/reliability/circuit-breaker/{name}/reset", s.handleResetBreaker).Methods(http.MethodPost)
	r.HandleFunc("/reliability/auto-recovery/{name}/trigger", s.handleTriggerRecovery).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/healthz/live", middleware.LivenessHandler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz/ready", middleware.ReadinessHandler(deps.Ready)).Methods(http.MethodGet)
	r.HandleFunc("/docs", s.handleDocs).Methods(http.MethodGet)
	r.HandleFunc("/openapi.json", s.handleOpenAPI).Methods(http.MethodGet)

	return r
}
