package httpapi

import (
	"time"

	"github.com/afirgen/fir-pipeline/domain/pipeline"
)

// processResponse is the body of a successful /process call.
type processResponse struct {
	SessionID   string      `json:"session_id"`
	CurrentStep string      `json:"current_step"`
	Artifact    interface{} `json:"artifact"`
}

// validateResponse is the body of a successful /validate or /regenerate call.
type validateResponse struct {
	SessionID          string      `json:"session_id"`
	CurrentStep        string      `json:"current_step"`
	Artifact           interface{} `json:"artifact"`
	AwaitingValidation bool        `json:"awaiting_validation"`
}

// statusResponse is the body of a successful /session/{id}/status call.
type statusResponse struct {
	Status             string    `json:"status"`
	CurrentStep        string    `json:"current_step"`
	AwaitingValidation bool      `json:"awaiting_validation"`
	CreatedAt          time.Time `json:"created_at"`
	LastActivity       time.Time `json:"last_activity"`
}

// artifactFor renders the step-appropriate view of a session's working
// state. Session.State.SourceAudio/SourceImage are deliberately never
// surfaced here — they are raw upload bytes, not client-facing artifacts.
func artifactFor(state pipeline.State) interface{} {
	switch state.CurrentStep {
	case pipeline.StepTranscript:
		return state.Transcript
	case pipeline.StepSummary:
		return state.Summary
	case pipeline.StepViolations:
		return state.Violations
	case pipeline.StepNarrative:
		return state.Narrative
	case pipeline.StepFinalReview:
		return map[string]string{"fir_number": state.FIRNumber}
	default:
		return nil
	}
}

func toProcessResponse(sess *pipeline.Session) processResponse {
	return processResponse{
		SessionID:   sess.ID,
		CurrentStep: string(sess.State.CurrentStep),
		Artifact:    artifactFor(sess.State),
	}
}

func toValidateResponse(sess *pipeline.Session) validateResponse {
	return validateResponse{
		SessionID:          sess.ID,
		CurrentStep:        string(sess.State.CurrentStep),
		Artifact:           artifactFor(sess.State),
		AwaitingValidation: sess.State.AwaitingValidation,
	}
}

func toStatusResponse(sess *pipeline.Session) statusResponse {
	return statusResponse{
		Status:             string(sess.Status),
		CurrentStep:        string(sess.State.CurrentStep),
		AwaitingValidation: sess.State.AwaitingValidation,
		CreatedAt:          sess.CreatedAt,
		LastActivity:       sess.LastActivity,
	}
}
