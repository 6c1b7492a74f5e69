package httpapi

import (
	"io"
	"net/http"
	"strings"

	"github.com/afirgen/fir-pipeline/domain/pipeline"
	"github.com/afirgen/fir-pipeline/infrastructure/errors"
	"github.com/afirgen/fir-pipeline/infrastructure/httputil"
)

const multipartMemoryLimit = 1 << 20 // 1MiB held in memory before spilling to disk

type processTextRequest struct {
	Text string `json:"text"`
}

// handleProcess starts a new session from exactly one of a JSON text field,
// a multipart audio upload, or a multipart image upload. The handler body
// runs behind the global process semaphore (MAX_CONCURRENT_REQUESTS), which
// bounds total in-flight /process requests independent of the model client's
// own per-call semaphore.
func (s *server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.ProcessSemaphore.Acquire(r.Context(), 1); err != nil {
		respondError(w, r, errors.ServiceBusy("server is at capacity, try again shortly"))
		return
	}
	defer s.deps.ProcessSemaphore.Release(1)

	input, err := parseProcessInput(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	sess, err := s.deps.Orchestrator.Process(r.Context(), input)
	if err != nil {
		respondError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toProcessResponse(sess))
}

func parseProcessInput(r *http.Request) (pipeline.ProcessInput, error) {
	contentType := r.Header.Get("Content-Type")

	if strings.HasPrefix(contentType, "multipart/form-data") {
		return parseMultipartInput(r)
	}

	var body processTextRequest
	if !httputil.DecodeJSON(nopResponseWriter{}, r, &body) {
		return pipeline.ProcessInput{}, errors.InvalidInput("text", "request body must be valid JSON")
	}
	if err := validateText("text", body.Text); err != nil {
		return pipeline.ProcessInput{}, err
	}
	return pipeline.ProcessInput{Kind: pipeline.InputText, Text: body.Text}, nil
}

func parseMultipartInput(r *http.Request) (pipeline.ProcessInput, error) {
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		return pipeline.ProcessInput{}, errors.InvalidInput("body", "malformed multipart form")
	}

	text := strings.TrimSpace(r.FormValue("text"))
	audioFile, audioHeader, audioErr := r.FormFile("audio")
	imageFile, imageHeader, imageErr := r.FormFile("image")

	present := 0
	if text != "" {
		present++
	}
	if audioErr == nil {
		present++
		defer audioFile.Close()
	}
	if imageErr == nil {
		present++
		defer imageFile.Close()
	}
	if present != 1 {
		return pipeline.ProcessInput{}, errors.InvalidInput("input", "exactly one of text, audio, or image must be provided")
	}

	switch {
	case text != "":
		if err := validateText("text", text); err != nil {
			return pipeline.ProcessInput{}, err
		}
		return pipeline.ProcessInput{Kind: pipeline.InputText, Text: text}, nil

	case audioErr == nil:
		if err := validateUpload("audio", audioHeader); err != nil {
			return pipeline.ProcessInput{}, err
		}
		data, err := io.ReadAll(io.LimitReader(audioFile, maxUploadBytes+1))
		if err != nil {
			return pipeline.ProcessInput{}, errors.Internal("read audio upload", err)
		}
		return pipeline.ProcessInput{Kind: pipeline.InputAudio, Audio: data}, nil

	default:
		if err := validateUpload("image", imageHeader); err != nil {
			return pipeline.ProcessInput{}, err
		}
		data, err := io.ReadAll(io.LimitReader(imageFile, maxUploadBytes+1))
		if err != nil {
			return pipeline.ProcessInput{}, errors.Internal("read image upload", err)
		}
		return pipeline.ProcessInput{Kind: pipeline.InputImage, Image: data}, nil
	}
}

// nopResponseWriter discards writes; httputil.DecodeJSON only writes to its
// ResponseWriter on a decode failure, which parseProcessInput handles itself
// by returning the error instead.
type nopResponseWriter struct{}

func (nopResponseWriter) Header() http.Header        { return http.Header{} }
func (nopResponseWriter) Write(b []byte) (int, error) { return len(b), nil }
func (nopResponseWriter) WriteHeader(int)             {}
