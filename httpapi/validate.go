package httpapi

import (
	"net/http"

	"github.com/afirgen/fir-pipeline/infrastructure/httputil"
	"github.com/gorilla/mux"
)

type validateRequest struct {
	SessionID string `json:"session_id"`
	Approved  bool   `json:"approved"`
	UserInput string `json:"user_input"`
}

func (s *server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := validateSessionID(req.SessionID); err != nil {
		respondError(w, r, err)
		return
	}
	if err := validateUserInput("user_input", req.UserInput); err != nil {
		respondError(w, r, err)
		return
	}

	sess, err := s.deps.Orchestrator.Validate(r.Context(), req.SessionID, req.Approved, req.UserInput)
	if err != nil {
		respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toValidateResponse(sess))
}

type regenerateRequest struct {
	UserInput string `json:"user_input"`
}

func (s *server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]
	if err := validateSessionID(sessionID); err != nil {
		respondError(w, r, err)
		return
	}

	var req regenerateRequest
	if !httputil.DecodeJSONOptional(w, r, &req) {
		return
	}
	if err := validateUserInput("user_input", req.UserInput); err != nil {
		respondError(w, r, err)
		return
	}

	sess, err := s.deps.Orchestrator.Regenerate(r.Context(), sessionID, req.UserInput)
	if err != nil {
		respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toValidateResponse(sess))
}

func (s *server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]
	if err := validateSessionID(sessionID); err != nil {
		respondError(w, r, err)
		return
	}

	sess, err := s.deps.Orchestrator.Status(r.Context(), sessionID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toStatusResponse(sess))
}
