package kb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afirgen/fir-pipeline/domain/pipeline"
)

func TestQueryReturnsHits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"hits": []pipeline.Hit{
				{Text: "a", Reference: "ref-1"},
				{Text: "b", Reference: "ref-2"},
			},
		})
	}))
	defer srv.Close()

	r := New(srv.URL, nil)
	hits, err := r.Query(context.Background(), "a query")
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "ref-1", hits[0].Reference)
}

func TestQueryIsCached(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(map[string]any{"hits": []pipeline.Hit{{Text: "a", Reference: "ref-1"}}})
	}))
	defer srv.Close()

	r := New(srv.URL, nil)
	_, err := r.Query(context.Background(), "repeated query")
	require.NoError(t, err)
	_, err = r.Query(context.Background(), "repeated query")
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "second identical query should be served from cache")
}

func TestQueryTruncatesToK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits := make([]pipeline.Hit, 20)
		for i := range hits {
			hits[i] = pipeline.Hit{Text: "x", Reference: "ref"}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"hits": hits})
	}))
	defer srv.Close()

	r := New(srv.URL, nil)
	hits, err := r.Query(context.Background(), "many hits")
	require.NoError(t, err)
	assert.Len(t, hits, defaultK)
}

func TestQueryEmptyResponseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	r := New(srv.URL, nil)
	_, err := r.Query(context.Background(), "bad response")
	assert.Error(t, err)
}

func TestQueryTripsCircuitBreakerAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := New(srv.URL, nil)
	for i := 0; i < 5; i++ {
		_, err := r.Query(context.Background(), "failing query")
		assert.Error(t, err)
	}

	breaker, ok := r.Breaker(dependencyKB)
	require.True(t, ok)
	assert.Equal(t, "open", breaker.State().String())

	_, err := r.Query(context.Background(), "another failing query")
	require.Error(t, err)
}

func TestResetBreakerClosesTrippedBreaker(t *testing.T) {
	r := New("http://unused.invalid", nil)
	for i := 0; i < 5; i++ {
		_, _ = r.Query(context.Background(), "x")
	}

	_, ok := r.Breaker(dependencyKB)
	require.True(t, ok)

	assert.True(t, r.ResetBreaker(dependencyKB))
	breaker, _ := r.Breaker(dependencyKB)
	assert.Equal(t, "closed", breaker.State().String())

	assert.False(t, r.ResetBreaker("unknown"))
}

func TestDependenciesListsKB(t *testing.T) {
	r := New("http://unused.invalid", nil)
	assert.Equal(t, []string{dependencyKB}, r.Dependencies())
}
