package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

const openAPISpec = `{
  "openapi": "3.0.3",
  "info": {"title": "FIR Pipeline API", "version": "1.0.0"},
  "paths": {
    "/process": {"post": {"summary": "Start a session from text, audio, or image"}},
    "/validate": {"post": {"summary": "Approve or reject the current step"}},
    "/regenerate/{session_id}": {"post": {"summary": "Regenerate the current step"}},
    "/session/{session_id}/status": {"get": {"summary": "Lightweight session status"}},
    "/authenticate": {"post": {"summary": "Finalise a FIR record"}},
    "/fir/{fir_number}": {"get": {"summary": "FIR metadata"}},
    "/fir/{fir_number}/content": {"get": {"summary": "FIR metadata and content"}},
    "/list_firs": {"get": {"summary": "Paginated FIR listing"}},
    "/metrics": {"get": {"summary": "Prometheus metrics snapshot"}},
    "/reliability": {"get": {"summary": "Breaker, recovery, and health snapshot"}},
    "/reliability/circuit-breaker/{name}/reset": {"post": {"summary": "Force a breaker closed"}},
    "/reliability/auto-recovery/{name}/trigger": {"post": {"summary": "Force a recovery cycle"}},
    "/health": {"get": {"summary": "Aggregate health"}}
  }
}
`

const docsHTML = `<!DOCTYPE html>
<html>
<head><title>FIR Pipeline API</title></head>
<body>
<h1>FIR Pipeline API</h1>
<p>See <a href="/openapi.json">/openapi.json</a> for the machine-readable spec.</p>
</body>
</html>
`

var (
	openAPIModTime time.Time
	openAPIETag    string
	docsETag       string
)

func init() {
	sum := sha256.Sum256([]byte(openAPISpec))
	openAPIETag = `"` + hex.EncodeToString(sum[:8]) + `"`
	sum = sha256.Sum256([]byte(docsHTML))
	docsETag = `"` + hex.EncodeToString(sum[:8]) + `"`
}

func (s *server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", openAPIETag)
	http.ServeContent(w, r, "openapi.json", openAPIModTime, strings.NewReader(openAPISpec))
}

func (s *server) handleDocs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("ETag", docsETag)
	http.ServeContent(w, r, "docs.html", openAPIModTime, strings.NewReader(docsHTML))
}
