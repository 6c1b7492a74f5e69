// Package pipeline implements the client-driven report pipeline: the Session
// state machine, its bbolt-backed store, and the orchestrator that advances
// sessions through transcript, summary, violation-check, narrative, and
// final-review stages.
package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle status of a Session.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Step identifies a stage of the validation pipeline.
type Step string

const (
	StepStart       Step = "start"
	StepTranscript  Step = "transcript"
	StepSummary     Step = "summary"
	StepViolations  Step = "violations"
	StepNarrative   Step = "narrative"
	StepFinalReview Step = "final_review"
)

// terminal reports whether status admits no further transitions.
func (s Status) terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}

// InputKind distinguishes the three sources /process accepts.
type InputKind string

const (
	InputText  InputKind = "text"
	InputAudio InputKind = "audio"
	InputImage InputKind = "image"
)

// ProcessInput is the sum-type payload accepted by /process: exactly one of
// Text, Audio, or Image is populated, selected by Kind.
type ProcessInput struct {
	Kind  InputKind
	Text  string
	Audio []byte
	Image []byte
}

// Hit is a single knowledge-base retrieval result.
type Hit struct {
	Text      string `json:"text"`
	Reference string `json:"reference"`
}

// ValidationRecord is one entry in a session's validation_history.
type ValidationRecord struct {
	Step      Step      `json:"step"`
	Approved  bool      `json:"approved"`
	UserInput string    `json:"user_input,omitempty"`
	At        time.Time `json:"at"`
}

// State is the orchestrator's working memory for a session: the artifacts
// produced so far and whether the session is waiting on client approval.
type State struct {
	CurrentStep        Step      `json:"current_step"`
	AwaitingValidation bool      `json:"awaiting_validation"`
	SourceKind         InputKind `json:"source_kind,omitempty"`
	SourceAudio        []byte    `json:"source_audio,omitempty"`
	SourceImage        []byte    `json:"source_image,omitempty"`
	Transcript         string    `json:"transcript,omitempty"`
	Regenerated        bool      `json:"regenerated,omitempty"`
	Summary            string `json:"summary,omitempty"`
	TopHits            []Hit  `json:"top_hits,omitempty"`
	Violations         []Hit  `json:"violations,omitempty"`
	Narrative          string `json:"narrative,omitempty"`
	FIRNumber          string `json:"fir_number,omitempty"`

	// lastValidateFingerprint/At back the short-window idempotency guard:
	// an identical /validate request arriving again moments after the prior
	// one already advanced the session is treated as a network-level
	// duplicate rather than a fresh approval of the new step.
	LastValidateFingerprint string    `json:"last_validate_fingerprint,omitempty"`
	LastValidateAt          time.Time `json:"last_validate_at,omitempty"`
}

// Session is the pipeline's unit of work: one client-driven FIR in progress.
type Session struct {
	ID                string             `json:"id"`
	Status            Status             `json:"status"`
	State             State              `json:"state"`
	ValidationHistory []ValidationRecord `json:"validation_history"`
	CreatedAt         time.Time          `json:"created_at"`
	LastActivity      time.Time          `json:"last_activity"`
}

// NewSession creates an active session at the start step with a fresh UUIDv4 id.
func NewSession() *Session {
	now := time.Now().UTC()
	return &Session{
		ID:     uuid.NewString(),
		Status: StatusActive,
		State: State{
			CurrentStep:        StepStart,
			AwaitingValidation: false,
		},
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Expired reports whether the session has been inactive longer than timeout.
// Terminal sessions are never expired: a completed/failed/cancelled session
// stays in that state, and its Status is never overwritten to "expired".
func (s *Session) Expired(timeout time.Duration, now time.Time) bool {
	if s.Status.terminal() {
		return false
	}
	return now.Sub(s.LastActivity) > timeout
}

// appendHistory records a validation decision and bumps LastActivity.
func (s *Session) appendHistory(step Step, approved bool, userInput string, at time.Time) {
	s.ValidationHistory = append(s.ValidationHistory, ValidationRecord{
		Step:      step,
		Approved:  approved,
		UserInput: userInput,
		At:        at,
	})
	s.LastActivity = at
}
