package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

func TestHandleSessionStatusNotFound(t *testing.T) {
	s := newProcessTestServer(t)

	router := mux.NewRouter()
	router.HandleFunc("/session/{session_id}/status", s.handleSessionStatus).Methods(http.MethodGet)

	req := httptest.NewRequest(http.MethodGet, "/session/"+uuid.NewString()+"/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleSessionStatusRejectsMalformedID(t *testing.T) {
	s := newProcessTestServer(t)

	router := mux.NewRouter()
	router.HandleFunc("/session/{session_id}/status", s.handleSessionStatus).Methods(http.MethodGet)

	req := httptest.NewRequest(http.MethodGet, "/session/not-a-uuid/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleSessionStatusReturnsSessionAfterProcess(t *testing.T) {
	s := newProcessTestServer(t)

	createReq := httptest.NewRequest(http.MethodPost, "/process", jsonBody(processTextRequest{Text: "a sufficiently long incident description"}))
	createReq.Header.Set("Content-Type", "application/json")
	createRec := httptest.NewRecorder()
	s.handleProcess(createRec, createReq)
	if createRec.Code != http.StatusOK {
		t.Fatalf("seed /process status = %d, body = %s", createRec.Code, createRec.Body.String())
	}

	var created processResponse
	decodeJSON(t, createRec, &created)

	router := mux.NewRouter()
	router.HandleFunc("/session/{session_id}/status", s.handleSessionStatus).Methods(http.MethodGet)

	req := httptest.NewRequest(http.MethodGet, "/session/"+created.SessionID+"/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", rec.Code, rec.Body.String())
	}
}
