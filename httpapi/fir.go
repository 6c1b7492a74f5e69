package httpapi

import (
	"net/http"
	"time"

	"github.com/afirgen/fir-pipeline/domain/fir"
	"github.com/afirgen/fir-pipeline/infrastructure/httputil"
	"github.com/gorilla/mux"
)

const defaultListLimit = 20

type firMetadata struct {
	FIRNumber   string     `json:"fir_number"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
}

type firWithContent struct {
	firMetadata
	Content string `json:"content"`
}

func toFIRMetadata(rec *fir.Record) firMetadata {
	return firMetadata{
		FIRNumber:   rec.FIRNumber,
		Status:      string(rec.Status),
		CreatedAt:   rec.CreatedAt,
		FinalizedAt: rec.FinalizedAt,
	}
}

func (s *server) handleGetFIR(w http.ResponseWriter, r *http.Request) {
	firNumber := mux.Vars(r)["fir_number"]
	if err := validateFIRNumber(firNumber); err != nil {
		respondError(w, r, err)
		return
	}

	rec, err := s.deps.FIRStore.Get(r.Context(), firNumber)
	if err != nil {
		respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toFIRMetadata(rec))
}

func (s *server) handleGetFIRContent(w http.ResponseWriter, r *http.Request) {
	firNumber := mux.Vars(r)["fir_number"]
	if err := validateFIRNumber(firNumber); err != nil {
		respondError(w, r, err)
		return
	}

	rec, err := s.deps.FIRStore.Get(r.Context(), firNumber)
	if err != nil {
		respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, firWithContent{
		firMetadata: toFIRMetadata(rec),
		Content:     rec.Content,
	})
}

func (s *server) handleListFIRs(w http.ResponseWriter, r *http.Request) {
	offset, limit := httputil.PaginationParams(r, defaultListLimit, maxPaginationPage)

	recs, err := s.deps.FIRStore.List(r.Context(), limit, offset)
	if err != nil {
		respondError(w, r, err)
		return
	}

	out := make([]firMetadata, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toFIRMetadata(rec))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}
