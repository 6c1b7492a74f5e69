package reliability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestShutdownGateAllowsRequestsBeforeShutdown(t *testing.T) {
	g := NewShutdownGate(time.Second)
	called := false
	handler := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if !called {
		t.Error("expected handler to run before shutdown begins")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestShutdownGateRejectsAfterShutdownBegins(t *testing.T) {
	g := NewShutdownGate(50 * time.Millisecond)
	handler := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	done := make(chan struct{})
	go func() {
		g.BeginShutdown()
		close(done)
	}()
	<-done

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/process", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestShutdownGateWaitsForActiveRequests(t *testing.T) {
	g := NewShutdownGate(time.Second)
	release := make(chan struct{})
	entered := make(chan struct{})
	handler := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.WriteHeader(http.StatusOK)
	}))

	go func() {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/process", nil))
	}()
	<-entered

	shutdownDone := make(chan struct{})
	go func() {
		g.BeginShutdown()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		t.Fatal("BeginShutdown returned before the in-flight request finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-shutdownDone:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for BeginShutdown to drain")
	}
}

func TestShutdownGateDrainedClosesOnce(t *testing.T) {
	g := NewShutdownGate(10 * time.Millisecond)
	g.BeginShutdown()
	g.BeginShutdown()

	select {
	case <-g.Drained():
	default:
		t.Error("expected Drained() channel to be closed after shutdown")
	}
}
