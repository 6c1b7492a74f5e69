package httpapi

import (
	"net/http"

	"github.com/afirgen/fir-pipeline/infrastructure/errors"
	"github.com/afirgen/fir-pipeline/infrastructure/httputil"
	"github.com/afirgen/fir-pipeline/infrastructure/reliability"
	"github.com/gorilla/mux"
)

type breakerView struct {
	Dependency string `json:"dependency"`
	State      string `json:"state"`
}

type reliabilityResponse struct {
	Dependencies []reliability.Snapshot      `json:"dependencies"`
	Recovery     []reliability.RecoveryState `json:"recovery"`
	Breakers     []breakerView               `json:"circuit_breakers"`
}

func (s *server) handleReliability(w http.ResponseWriter, r *http.Request) {
	breakers := make([]breakerView, 0, len(s.deps.ModelClient.Dependencies())+len(s.deps.KBRetriever.Dependencies()))
	for _, name := range s.deps.ModelClient.Dependencies() {
		if cb, ok := s.deps.ModelClient.Breaker(name); ok {
			breakers = append(breakers, breakerView{Dependency: name, State: cb.State().String()})
		}
	}
	for _, name := range s.deps.KBRetriever.Dependencies() {
		if cb, ok := s.deps.KBRetriever.Breaker(name); ok {
			breakers = append(breakers, breakerView{Dependency: name, State: cb.State().String()})
		}
	}

	httputil.WriteJSON(w, http.StatusOK, reliabilityResponse{
		Dependencies: s.deps.Health.Snapshot(),
		Recovery:     s.deps.Recovery.Snapshot(),
		Breakers:     breakers,
	})
}

type resetBreakerResponse struct {
	Dependency string `json:"dependency"`
	Reset      bool   `json:"reset"`
}

func (s *server) handleResetBreaker(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !s.deps.ModelClient.ResetBreaker(name) && !s.deps.KBRetriever.ResetBreaker(name) {
		respondError(w, r, errors.NotFound("circuit_breaker", name))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resetBreakerResponse{Dependency: name, Reset: true})
}

type triggerRecoveryResponse struct {
	Dependency string `json:"dependency"`
	Triggered  bool   `json:"triggered"`
}

func (s *server) handleTriggerRecovery(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	triggered, err := s.deps.Recovery.Trigger(r.Context(), name)
	if err != nil {
		respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, triggerRecoveryResponse{Dependency: name, Triggered: triggered})
}
