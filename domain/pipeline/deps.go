package pipeline

import "context"

// ModelClient is the subset of the model-server integration layer the
// orchestrator depends on. Implementations own connection pooling, circuit
// breaking, retry, and timeout policy; the orchestrator only sees the
// resulting value or a *errors.ServiceError (CircuitOpen, Timeout,
// ModelError, EmptyResponse, RateLimitExceeded).
type ModelClient interface {
	TranscribeAudio(ctx context.Context, audio []byte) (string, error)
	OCRImage(ctx context.Context, image []byte) (string, error)
	Summarise(ctx context.Context, transcript string) (string, error)
	CheckViolation(ctx context.Context, hit Hit) (bool, error)
	Narrate(ctx context.Context, summary string, violations []Hit) (string, error)
	Finalise(ctx context.Context, summary string, violations []Hit, narrative string) (string, error)
}

// KBRetriever queries the external knowledge base for the top hits relevant
// to a query string.
type KBRetriever interface {
	Query(ctx context.Context, query string) ([]Hit, error)
}

// FIRAllocator is the subset of the relational FIR store the orchestrator
// needs: allocating a number for a freshly-approved narrative.
type FIRAllocator interface {
	InsertDraft(ctx context.Context, sessionID, content string) (firNumber string, err error)
}
