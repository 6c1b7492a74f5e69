package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/afirgen/fir-pipeline/infrastructure/errors"
	"github.com/afirgen/fir-pipeline/infrastructure/logging"
)

// validateDedupeWindow bounds how long an identical /validate request is
// treated as a network-level retry of the immediately preceding one, rather
// than a fresh approval of whatever step the session has since advanced to.
const validateDedupeWindow = 5 * time.Second

// Orchestrator drives sessions through the five-stage validation pipeline.
// It owns per-session serialisation: at most one mutation per session_id is
// in flight at a time, enforced by a keyed lock rather than a single global
// mutex so unrelated sessions never block each other.
type Orchestrator struct {
	store  *Store
	models ModelClient
	kb     KBRetriever
	firs   FIRAllocator
	logger *logging.Logger
	locks  *keyedMutex
}

// NewOrchestrator wires an Orchestrator from its dependencies.
func NewOrchestrator(store *Store, models ModelClient, kb KBRetriever, firs FIRAllocator, logger *logging.Logger) *Orchestrator {
	return &Orchestrator{
		store:  store,
		models: models,
		kb:     kb,
		firs:   firs,
		logger: logger,
		locks:  newKeyedMutex(),
	}
}

// Process starts a new session from a text/audio/image input, producing a
// transcript and leaving the session awaiting validation at the transcript
// step.
func (o *Orchestrator) Process(ctx context.Context, input ProcessInput) (*Session, error) {
	sess := NewSession()

	transcript, err := o.extractTranscript(ctx, input)
	if err != nil {
		return nil, err
	}

	sess.State.CurrentStep = StepTranscript
	sess.State.AwaitingValidation = true
	sess.State.Transcript = transcript
	sess.State.SourceKind = input.Kind
	sess.State.SourceAudio = input.Audio
	sess.State.SourceImage = input.Image

	if err := o.store.Create(sess); err != nil {
		return nil, err
	}
	o.logTransition(ctx, sess.ID, string(StepStart), string(StepTranscript), "process")
	return sess, nil
}

func (o *Orchestrator) extractTranscript(ctx context.Context, input ProcessInput) (string, error) {
	switch input.Kind {
	case InputText:
		return input.Text, nil
	case InputAudio:
		return o.models.TranscribeAudio(ctx, input.Audio)
	case InputImage:
		return o.models.OCRImage(ctx, input.Image)
	default:
		return "", errors.InvalidInput("kind", "must be one of text, audio, image")
	}
}

// Validate advances the session past current_step when approved, or treats a
// rejection as the equivalent of Regenerate for the current step. Re-issuing
// the same (approved, user_input) pair within validateDedupeWindow of the
// previous call is a no-op that returns the current (already-advanced) state.
func (o *Orchestrator) Validate(ctx context.Context, sessionID string, approved bool, userInput string) (*Session, error) {
	unlock := o.locks.lock(sessionID)
	defer unlock()

	sess, err := o.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.terminal() {
		return sess, nil
	}

	now := time.Now().UTC()
	fingerprint := validateFingerprint(approved, userInput)
	if sess.State.LastValidateFingerprint == fingerprint && now.Sub(sess.State.LastValidateAt) < validateDedupeWindow {
		return sess, nil
	}
	sess.State.LastValidateFingerprint = fingerprint
	sess.State.LastValidateAt = now

	if !approved {
		return o.regenerate(ctx, sess, userInput)
	}

	return o.advance(ctx, sess, userInput)
}

func validateFingerprint(approved bool, userInput string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%v|%s", approved, userInput)))
	return hex.EncodeToString(sum[:])
}

// Regenerate redoes the artifact for the current step without advancing,
// optionally guided by a correction hint.
func (o *Orchestrator) Regenerate(ctx context.Context, sessionID, userInput string) (*Session, error) {
	unlock := o.locks.lock(sessionID)
	defer unlock()

	sess, err := o.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.terminal() {
		return sess, errors.Conflict("session is no longer active")
	}
	return o.regenerate(ctx, sess, userInput)
}

// Status returns the session unchanged, for lightweight polling.
func (o *Orchestrator) Status(_ context.Context, sessionID string) (*Session, error) {
	return o.store.Get(sessionID)
}

func (o *Orchestrator) regenerate(ctx context.Context, sess *Session, userInput string) (*Session, error) {
	now := time.Now().UTC()
	step := sess.State.CurrentStep

	var err error
	switch step {
	case StepTranscript:
		err = o.regenerateTranscript(ctx, sess)
	case StepSummary:
		err = o.regenerateSummary(ctx, sess, userInput)
	case StepViolations:
		err = o.regenerateViolations(ctx, sess)
	case StepNarrative:
		err = o.regenerateNarrative(ctx, sess)
	default:
		return nil, errors.WrongStep(string(step), "regenerate not valid for "+string(step))
	}
	if err != nil {
		return nil, o.handleModelFailure(sess, err)
	}

	sess.State.AwaitingValidation = true
	sess.appendHistory(step, false, userInput, now)
	if err := o.store.Update(sess); err != nil {
		return nil, err
	}
	o.logTransition(ctx, sess.ID, string(step), string(step), "regenerate")
	return sess, nil
}

func (o *Orchestrator) regenerateTranscript(ctx context.Context, sess *Session) error {
	// Transcript regeneration is only meaningful when the source was audio
	// or image; for a text-seeded session it is a declared no-op.
	switch sess.State.SourceKind {
	case InputAudio:
		transcript, err := o.models.TranscribeAudio(ctx, sess.State.SourceAudio)
		if err != nil {
			return err
		}
		sess.State.Transcript = transcript
		sess.State.Regenerated = true
	case InputImage:
		transcript, err := o.models.OCRImage(ctx, sess.State.SourceImage)
		if err != nil {
			return err
		}
		sess.State.Transcript = transcript
		sess.State.Regenerated = true
	default:
		sess.State.Regenerated = false
	}
	return nil
}

func (o *Orchestrator) regenerateSummary(ctx context.Context, sess *Session, hint string) error {
	input := sess.State.Transcript
	if hint != "" {
		input = input + "\n\n" + hint
	}
	summary, err := o.models.Summarise(ctx, input)
	if err != nil {
		return err
	}
	sess.State.Summary = summary
	return nil
}

func (o *Orchestrator) regenerateViolations(ctx context.Context, sess *Session) error {
	return o.runViolationCheck(ctx, sess)
}

func (o *Orchestrator) regenerateNarrative(ctx context.Context, sess *Session) error {
	narrative, err := o.models.Narrate(ctx, sess.State.Summary, sess.State.Violations)
	if err != nil {
		return err
	}
	sess.State.Narrative = narrative
	return nil
}

// advance runs the action for approving the current step and moves the
// session to the next step, per the transition table.
func (o *Orchestrator) advance(ctx context.Context, sess *Session, userInput string) (*Session, error) {
	now := time.Now().UTC()
	fromStep := sess.State.CurrentStep

	var toStep Step
	var err error

	switch fromStep {
	case StepTranscript:
		if userInput != "" {
			sess.State.Transcript = userInput
		}
		sess.State.Summary, err = o.models.Summarise(ctx, sess.State.Transcript)
		toStep = StepSummary

	case StepSummary:
		if userInput != "" {
			sess.State.Summary = userInput
		}
		err = o.runViolationCheck(ctx, sess)
		toStep = StepViolations

	case StepViolations:
		sess.State.Narrative, err = o.models.Narrate(ctx, sess.State.Summary, sess.State.Violations)
		toStep = StepNarrative

	case StepNarrative:
		err = o.finalise(ctx, sess)
		toStep = StepFinalReview

	default:
		return nil, errors.WrongStep(string(fromStep), string(sess.State.CurrentStep))
	}

	if err != nil {
		return nil, o.handleModelFailure(sess, err)
	}

	sess.State.CurrentStep = toStep
	sess.State.AwaitingValidation = true
	sess.appendHistory(fromStep, true, userInput, now)
	if toStep == StepFinalReview {
		// FIRRecord insertion already happened inside finalise; the session
		// itself stays active/awaiting until /authenticate completes it.
	}

	if err := o.store.Update(sess); err != nil {
		return nil, err
	}
	o.logTransition(ctx, sess.ID, string(fromStep), string(toStep), "validate")
	return sess, nil
}

// violationFanOutLimit is M from §4.4: the orchestrator only runs
// check_violation across the top M of the KB's up-to-K=15 returned hits.
const violationFanOutLimit = 10

func (o *Orchestrator) runViolationCheck(ctx context.Context, sess *Session) error {
	hits, err := o.kb.Query(ctx, sess.State.Summary)
	if err != nil {
		return err
	}
	sess.State.TopHits = hits

	checked := hits
	if len(checked) > violationFanOutLimit {
		checked = checked[:violationFanOutLimit]
	}

	violations := make([]Hit, len(checked))
	flagged := make([]bool, len(checked))

	var wg sync.WaitGroup
	for i, hit := range checked {
		wg.Add(1)
		go func(i int, hit Hit) {
			defer wg.Done()
			isViolation, err := o.models.CheckViolation(ctx, hit)
			if err != nil {
				// Conservative bias: a failed check is treated as "not a
				// violation" rather than blocking the whole fan-out.
				if o.logger != nil {
					o.logger.LogModelCall(ctx, "check_violation", "llm", 0, err)
				}
				return
			}
			flagged[i] = isViolation
			violations[i] = hit
		}(i, hit)
	}
	wg.Wait()

	kept := make([]Hit, 0, len(hits))
	for i, hit := range violations {
		if flagged[i] {
			kept = append(kept, hit)
		}
	}
	sess.State.Violations = kept
	return nil
}

func (o *Orchestrator) finalise(ctx context.Context, sess *Session) error {
	body, err := o.models.Finalise(ctx, sess.State.Summary, sess.State.Violations, sess.State.Narrative)
	if err != nil {
		return err
	}

	firNumber, err := o.firs.InsertDraft(ctx, sess.ID, body)
	if err != nil {
		return err
	}
	sess.State.FIRNumber = firNumber
	return nil
}

// Complete marks a session completed once /authenticate has finalised its
// FIRRecord. Called by the httpapi /authenticate handler after
// fir.Store.Finalize has made the record-level transition; this only closes
// out the session side.
func (o *Orchestrator) Complete(sessionID string) error {
	unlock := o.locks.lock(sessionID)
	defer unlock()

	sess, err := o.store.Get(sessionID)
	if err != nil {
		return err
	}
	sess.Status = StatusCompleted
	sess.State.AwaitingValidation = false
	return o.store.Update(sess)
}

// handleModelFailure classifies an error from a model/KB call per the
// failure-semantics policy: transient errors leave the session on its prior
// step awaiting validation (the client retries); anything else fails the
// session permanently.
func (o *Orchestrator) handleModelFailure(sess *Session, err error) error {
	if isTransient(err) {
		return errors.New(errors.ErrCodeCircuitOpen, "dependency unavailable, session unchanged", 503).WithDetails("session_id", sess.ID)
	}

	sess.Status = StatusFailed
	_ = o.store.Update(sess)
	return errors.Internal("pipeline stage failed permanently", err)
}

func isTransient(err error) bool {
	svcErr := errors.GetServiceError(err)
	if svcErr == nil {
		return false
	}
	switch svcErr.Code {
	case errors.ErrCodeCircuitOpen, errors.ErrCodeTimeout:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) logTransition(ctx context.Context, sessionID, from, to, trigger string) {
	if o.logger != nil {
		o.logger.LogStageTransition(ctx, sessionID, from, to, trigger)
	}
}
