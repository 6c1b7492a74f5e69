package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svcerrors "github.com/afirgen/fir-pipeline/infrastructure/errors"
)

type fakeModels struct {
	summariseErr     error
	checkViolation   map[string]bool
	checkViolErr     error
	narrateErr       error
	finaliseErr      error
	transcribeResult string
}

func (f *fakeModels) TranscribeAudio(_ context.Context, _ []byte) (string, error) {
	return f.transcribeResult, nil
}
func (f *fakeModels) OCRImage(_ context.Context, _ []byte) (string, error) {
	return f.transcribeResult, nil
}
func (f *fakeModels) Summarise(_ context.Context, transcript string) (string, error) {
	if f.summariseErr != nil {
		return "", f.summariseErr
	}
	return "summary of: " + transcript, nil
}
func (f *fakeModels) CheckViolation(_ context.Context, hit Hit) (bool, error) {
	if f.checkViolErr != nil {
		return false, f.checkViolErr
	}
	return f.checkViolation[hit.Reference], nil
}
func (f *fakeModels) Narrate(_ context.Context, _ string, _ []Hit) (string, error) {
	if f.narrateErr != nil {
		return "", f.narrateErr
	}
	return "a narrative", nil
}
func (f *fakeModels) Finalise(_ context.Context, _ string, _ []Hit, _ string) (string, error) {
	if f.finaliseErr != nil {
		return "", f.finaliseErr
	}
	return "final body", nil
}

type fakeKB struct {
	hits []Hit
	err  error
}

func (f *fakeKB) Query(_ context.Context, _ string) ([]Hit, error) {
	return f.hits, f.err
}

type fakeFIR struct {
	number string
	err    error
}

func (f *fakeFIR) InsertDraft(_ context.Context, _ string, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.number, nil
}

func newTestOrchestrator(t *testing.T, models *fakeModels, kb *fakeKB, firs *fakeFIR) *Orchestrator {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewOrchestrator(store, models, kb, firs, nil)
}

func TestProcessStartsAtTranscriptAwaitingValidation(t *testing.T) {
	o := newTestOrchestrator(t, &fakeModels{}, &fakeKB{}, &fakeFIR{number: "FIR-aaaaaaaa-20260729120000"})

	sess, err := o.Process(context.Background(), ProcessInput{Kind: InputText, Text: "a long enough transcript"})
	require.NoError(t, err)
	assert.Equal(t, StepTranscript, sess.State.CurrentStep)
	assert.True(t, sess.State.AwaitingValidation)
	assert.Equal(t, "a long enough transcript", sess.State.Transcript)
}

func TestFullHappyPathReachesFinalReview(t *testing.T) {
	models := &fakeModels{checkViolation: map[string]bool{"ref-1": true, "ref-2": false}}
	kb := &fakeKB{hits: []Hit{{Text: "a", Reference: "ref-1"}, {Text: "b", Reference: "ref-2"}}}
	firs := &fakeFIR{number: "FIR-aaaaaaaa-20260729120000"}
	o := newTestOrchestrator(t, models, kb, firs)
	ctx := context.Background()

	sess, err := o.Process(ctx, ProcessInput{Kind: InputText, Text: "transcript text"})
	require.NoError(t, err)

	sess, err = o.Validate(ctx, sess.ID, true, "")
	require.NoError(t, err)
	assert.Equal(t, StepSummary, sess.State.CurrentStep)

	sess, err = o.Validate(ctx, sess.ID, true, "")
	require.NoError(t, err)
	assert.Equal(t, StepViolations, sess.State.CurrentStep)
	require.Len(t, sess.State.Violations, 1)
	assert.Equal(t, "ref-1", sess.State.Violations[0].Reference)

	sess, err = o.Validate(ctx, sess.ID, true, "")
	require.NoError(t, err)
	assert.Equal(t, StepNarrative, sess.State.CurrentStep)

	sess, err = o.Validate(ctx, sess.ID, true, "")
	require.NoError(t, err)
	assert.Equal(t, StepFinalReview, sess.State.CurrentStep)
	assert.Equal(t, "FIR-aaaaaaaa-20260729120000", sess.State.FIRNumber)
}

func TestRejectedValidateRegeneratesCurrentStep(t *testing.T) {
	o := newTestOrchestrator(t, &fakeModels{}, &fakeKB{}, &fakeFIR{})
	ctx := context.Background()

	sess, err := o.Process(ctx, ProcessInput{Kind: InputText, Text: "transcript text"})
	require.NoError(t, err)

	sess, err = o.Validate(ctx, sess.ID, false, "")
	require.NoError(t, err)
	assert.Equal(t, StepTranscript, sess.State.CurrentStep)
	assert.True(t, sess.State.AwaitingValidation)
}

func TestDuplicateValidateWithinDedupeWindowIsNoOp(t *testing.T) {
	models := &fakeModels{}
	o := newTestOrchestrator(t, models, &fakeKB{}, &fakeFIR{})
	ctx := context.Background()

	sess, err := o.Process(ctx, ProcessInput{Kind: InputText, Text: "transcript text"})
	require.NoError(t, err)

	first, err := o.Validate(ctx, sess.ID, true, "")
	require.NoError(t, err)
	assert.Equal(t, StepSummary, first.State.CurrentStep)

	second, err := o.Validate(ctx, sess.ID, true, "")
	require.NoError(t, err)
	assert.Equal(t, StepSummary, second.State.CurrentStep)
}

func TestValidateWrongStepAtFinalReview(t *testing.T) {
	o := newTestOrchestrator(t, &fakeModels{}, &fakeKB{}, &fakeFIR{number: "FIR-aaaaaaaa-20260729120000"})
	ctx := context.Background()

	sess, err := o.Process(ctx, ProcessInput{Kind: InputText, Text: "t"})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		sess, err = o.Validate(ctx, sess.ID, true, "")
		require.NoError(t, err)
	}
	require.Equal(t, StepFinalReview, sess.State.CurrentStep)

	_, err = o.Validate(ctx, sess.ID, true, "")
	svcErr := svcerrors.GetServiceError(err)
	require.NotNil(t, svcErr)
	assert.Equal(t, svcerrors.ErrCodeWrongStep, svcErr.Code)
}

func TestTransientModelFailureLeavesSessionUnchanged(t *testing.T) {
	models := &fakeModels{summariseErr: svcerrors.CircuitOpen("llm")}
	o := newTestOrchestrator(t, models, &fakeKB{}, &fakeFIR{})
	ctx := context.Background()

	sess, err := o.Process(ctx, ProcessInput{Kind: InputText, Text: "t"})
	require.NoError(t, err)

	_, err = o.Validate(ctx, sess.ID, true, "")
	require.Error(t, err)

	got, err := o.Status(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
	assert.Equal(t, StepTranscript, got.State.CurrentStep)
}

func TestPersistentModelFailureFailsSession(t *testing.T) {
	models := &fakeModels{summariseErr: errors.New("boom")}
	o := newTestOrchestrator(t, models, &fakeKB{}, &fakeFIR{})
	ctx := context.Background()

	sess, err := o.Process(ctx, ProcessInput{Kind: InputText, Text: "t"})
	require.NoError(t, err)

	_, err = o.Validate(ctx, sess.ID, true, "")
	require.Error(t, err)

	got, err := o.Status(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
}

func TestTextSourceTranscriptRegenerationIsNoOp(t *testing.T) {
	o := newTestOrchestrator(t, &fakeModels{}, &fakeKB{}, &fakeFIR{})
	ctx := context.Background()

	sess, err := o.Process(ctx, ProcessInput{Kind: InputText, Text: "original"})
	require.NoError(t, err)

	sess, err = o.Regenerate(ctx, sess.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "original", sess.State.Transcript)
	assert.False(t, sess.State.Regenerated)
}

func TestAudioSourceTranscriptRegenerationCallsModel(t *testing.T) {
	models := &fakeModels{transcribeResult: "redone transcript"}
	o := newTestOrchestrator(t, models, &fakeKB{}, &fakeFIR{})
	ctx := context.Background()

	sess, err := o.Process(ctx, ProcessInput{Kind: InputAudio, Audio: []byte("wav-bytes")})
	require.NoError(t, err)

	sess, err = o.Regenerate(ctx, sess.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "redone transcript", sess.State.Transcript)
	assert.True(t, sess.State.Regenerated)
}

func TestCompleteMarksSessionTerminal(t *testing.T) {
	o := newTestOrchestrator(t, &fakeModels{}, &fakeKB{}, &fakeFIR{})
	ctx := context.Background()

	sess, err := o.Process(ctx, ProcessInput{Kind: InputText, Text: "t"})
	require.NoError(t, err)

	require.NoError(t, o.Complete(sess.ID))

	got, err := o.Status(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}
