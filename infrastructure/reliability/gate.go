package reliability

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/afirgen/fir-pipeline/infrastructure/errors"
	"github.com/afirgen/fir-pipeline/infrastructure/httputil"
)

// ShutdownGate is the process-scoped draining token: middleware increments
// active_requests on entry and decrements on exit; once is_shutting_down
// flips, new requests are rejected with 503 while in-flight ones are allowed
// to finish (up to timeout).
type ShutdownGate struct {
	shuttingDown   int32
	activeRequests int32
	timeout        time.Duration

	drained chan struct{}
	once    sync.Once
}

// NewShutdownGate builds a gate with the given drain timeout (default 30s).
func NewShutdownGate(timeout time.Duration) *ShutdownGate {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownGate{timeout: timeout, drained: make(chan struct{})}
}

// BeginShutdown flips is_shutting_down so the middleware starts rejecting new
// requests, then waits for active_requests to reach zero or timeout,
// whichever comes first.
func (g *ShutdownGate) BeginShutdown() {
	atomic.StoreInt32(&g.shuttingDown, 1)

	deadline := time.After(g.timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if atomic.LoadInt32(&g.activeRequests) == 0 {
			g.markDrained()
			return
		}
		select {
		case <-deadline:
			// Durability over completeness: proceed to flush regardless.
			g.markDrained()
			return
		case <-ticker.C:
		}
	}
}

func (g *ShutdownGate) markDrained() {
	g.once.Do(func() { close(g.drained) })
}

// Drained is closed once BeginShutdown has finished waiting (or timed out).
func (g *ShutdownGate) Drained() <-chan struct{} {
	return g.drained
}

// IsShuttingDown reports whether the gate has begun draining.
func (g *ShutdownGate) IsShuttingDown() bool {
	return atomic.LoadInt32(&g.shuttingDown) == 1
}

// ActiveRequests returns the current in-flight request count.
func (g *ShutdownGate) ActiveRequests() int {
	return int(atomic.LoadInt32(&g.activeRequests))
}

// Middleware rejects new requests with 503 once shutdown has begun, and
// tracks active_requests for the duration of every other request.
func (g *ShutdownGate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.IsShuttingDown() {
			svcErr := errors.Shutdown()
			httputil.WriteErrorResponse(w, r, svcErr.HTTPStatus, string(svcErr.Code), svcErr.Message, nil)
			return
		}

		atomic.AddInt32(&g.activeRequests, 1)
		defer atomic.AddInt32(&g.activeRequests, -1)

		next.ServeHTTP(w, r)
	})
}
