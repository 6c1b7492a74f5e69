// Package kb queries the external knowledge-base vector store for text
// relevant to a summary, fronted by a TTL+LRU cache keyed on the query hash.
package kb

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/afirgen/fir-pipeline/domain/pipeline"
	"github.com/afirgen/fir-pipeline/infrastructure/cache"
	svcerrors "github.com/afirgen/fir-pipeline/infrastructure/errors"
	"github.com/afirgen/fir-pipeline/infrastructure/httputil"
	"github.com/afirgen/fir-pipeline/infrastructure/resilience"
)

const (
	// defaultK is the number of hits requested per query (§4.4's K=15).
	defaultK = 15

	cacheTTL      = 5 * time.Minute
	cacheCapacity = 100

	// dependencyKB is this package's single protected dependency name, for
	// registration with the health monitor and reliability registry.
	dependencyKB = "kb"
)

// breakerConfig mirrors modelclient's: §4.1's F=5/T=60s/HalfOpenMax=1.
func breakerConfig() resilience.Config {
	return resilience.Config{
		MaxFailures: 5,
		Timeout:     60 * time.Second,
		HalfOpenMax: 1,
	}
}

// Retriever implements pipeline.KBRetriever against an HTTP vector-store
// backend, returning a finite, restartable sequence of hits: calling Query
// again with the same text simply replays the cached result or re-queries.
// The outbound HTTP call is circuit-broken per §4.1/§4.2, same as the model
// client's two dependencies.
type Retriever struct {
	baseURL    string
	httpClient *http.Client
	k          int
	cache      *cache.TTLCache[string, []pipeline.Hit]
	breaker    *resilience.CircuitBreaker
}

// New constructs a Retriever against baseURL.
func New(baseURL string, httpClient *http.Client) *Retriever {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Retriever{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		k:          defaultK,
		cache:      cache.New[string, []pipeline.Hit](cacheTTL, cacheCapacity),
		breaker:    resilience.New(breakerConfig()),
	}
}

// Dependencies lists the retriever's protected dependency names, for wiring
// into the health monitor and reliability registry at startup.
func (r *Retriever) Dependencies() []string {
	return []string{dependencyKB}
}

// Breaker exposes the named dependency's circuit breaker for the
// /reliability endpoint and manual-reset operations.
func (r *Retriever) Breaker(dependency string) (*resilience.CircuitBreaker, bool) {
	if dependency != dependencyKB {
		return nil, false
	}
	return r.breaker, true
}

// ResetBreaker forces the named dependency's circuit breaker back to closed
// with fresh counters, for the /reliability/circuit-breaker/{name}/reset
// endpoint. gobreaker has no in-place reset, so this swaps in a fresh
// breaker under the same name.
func (r *Retriever) ResetBreaker(dependency string) bool {
	if dependency != dependencyKB {
		return false
	}
	r.breaker = resilience.New(breakerConfig())
	return true
}

// Probe performs a lightweight GET /health check against the KB server, for
// registration with the reliability health monitor.
func (r *Retriever) Probe(dependency string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/health", nil)
		if err != nil {
			return err
		}
		resp, err := r.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("health check failed: %s", resp.Status)
		}
		return nil
	}
}

type queryRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

type queryResponse struct {
	Hits []pipeline.Hit `json:"hits"`
}

// Query returns up to K hits for text, serving from cache when possible.
// The network round-trip runs behind the KB circuit breaker: once it trips,
// callers get CircuitOpen without consuming a connection.
func (r *Retriever) Query(ctx context.Context, text string) ([]pipeline.Hit, error) {
	key := hashQuery(text)
	if hits, ok := r.cache.Get(key); ok {
		return hits, nil
	}

	var hits []pipeline.Hit
	err := r.breaker.Execute(ctx, func() error {
		h, err := r.doQuery(ctx, text)
		if err != nil {
			return err
		}
		hits = h
		return nil
	})
	if err != nil {
		if err == resilience.ErrCircuitOpen || err == resilience.ErrTooManyRequests {
			return nil, svcerrors.CircuitOpen(dependencyKB)
		}
		return nil, err
	}

	r.cache.Set(key, hits)
	return hits, nil
}

func (r *Retriever) doQuery(ctx context.Context, text string) ([]pipeline.Hit, error) {
	payload, err := json.Marshal(queryRequest{Query: text, K: r.k})
	if err != nil {
		return nil, svcerrors.Internal("marshal kb query", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/query", bytes.NewReader(payload))
	if err != nil {
		return nil, svcerrors.Internal("build kb query request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, svcerrors.ExternalAPIError("kb_server", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _, _ := httputil.ReadAllWithLimit(resp.Body, 32<<10)
		return nil, svcerrors.ExternalAPIError("kb_server", fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(msg))))
	}

	var parsed queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, svcerrors.EmptyResponse("kb_server")
	}

	hits := parsed.Hits
	if len(hits) > r.k {
		hits = hits[:r.k]
	}
	return hits, nil
}

func hashQuery(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
