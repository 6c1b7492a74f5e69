package httpapi

import (
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/afirgen/fir-pipeline/infrastructure/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsCacheKey = "snapshot"
const metricsCacheTTL = 10 * time.Second

type metricsSnapshot struct {
	body        []byte
	contentType string
}

var metricsSnapshotCache = cache.New[string, metricsSnapshot](metricsCacheTTL, 1)

var promHandler = promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{})

// handleMetrics serves the Prometheus exposition format, re-gathering at most
// once per metricsCacheTTL so a scraping client can't force work on every
// request.
func (s *server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if snap, ok := metricsSnapshotCache.Get(metricsCacheKey); ok {
		w.Header().Set("Content-Type", snap.contentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(snap.body)
		return
	}

	rec := httptest.NewRecorder()
	promHandler.ServeHTTP(rec, r)
	snap := metricsSnapshot{body: rec.Body.Bytes(), contentType: rec.Header().Get("Content-Type")}
	metricsSnapshotCache.Set(metricsCacheKey, snap)

	w.Header().Set("Content-Type", snap.contentType)
	w.WriteHeader(rec.Code)
	_, _ = w.Write(snap.body)
}
