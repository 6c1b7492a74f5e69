package httpapi

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/afirgen/fir-pipeline/infrastructure/errors"
	"github.com/afirgen/fir-pipeline/infrastructure/httputil"
)

type authenticateRequest struct {
	FIRNumber string `json:"fir_number"`
	AuthKey   string `json:"auth_key"`
}

type authenticateResponse struct {
	FIRNumber   string    `json:"fir_number"`
	Status      string    `json:"status"`
	FinalizedAt time.Time `json:"finalized_at"`
}

// handleAuthenticate finalises a FIR record: the submitted auth_key is
// compared against the single shared FIR_AUTH_KEY by SHA-256 digest in
// constant time, never against any value stored on the record itself — see
// the design notes on authentication. A mismatch is logged with the client
// IP and fir_number but never the submitted key.
func (s *server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req authenticateRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := validateFIRNumber(req.FIRNumber); err != nil {
		respondError(w, r, err)
		return
	}

	presentedHash := sha256.Sum256([]byte(req.AuthKey))
	expectedHash := sha256.Sum256([]byte(s.deps.FIRAuthKey))
	if subtle.ConstantTimeCompare(presentedHash[:], expectedHash[:]) != 1 {
		s.deps.Logger.LogSecurityEvent(r.Context(), "authenticate_invalid_key", map[string]interface{}{
			"client_ip":  httputil.ClientIP(r),
			"fir_number": req.FIRNumber,
		})
		respondError(w, r, errors.Unauthorized("invalid auth key"))
		return
	}

	authKeyHash := hex.EncodeToString(presentedHash[:])
	rec, err := s.deps.FIRStore.Finalize(r.Context(), req.FIRNumber, authKeyHash)
	if err != nil {
		respondError(w, r, err)
		return
	}

	if err := s.deps.Orchestrator.Complete(rec.SessionID); err != nil {
		respondError(w, r, err)
		return
	}

	var finalizedAt time.Time
	if rec.FinalizedAt != nil {
		finalizedAt = *rec.FinalizedAt
	}
	httputil.WriteJSON(w, http.StatusOK, authenticateResponse{
		FIRNumber:   rec.FIRNumber,
		Status:      string(rec.Status),
		FinalizedAt: finalizedAt,
	})
}
