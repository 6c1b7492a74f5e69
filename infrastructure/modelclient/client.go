// Package modelclient is the connection-pooled, circuit-broken, retried
// integration layer for the two external inference services: the LLM server
// (summarise/check_violation/narrate/finalise) and the ASR/OCR server
// (transcribe_audio/ocr_image).
package modelclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"github.com/afirgen/fir-pipeline/domain/pipeline"
	"github.com/afirgen/fir-pipeline/infrastructure/cache"
	svcerrors "github.com/afirgen/fir-pipeline/infrastructure/errors"
	"github.com/afirgen/fir-pipeline/infrastructure/httputil"
	"github.com/afirgen/fir-pipeline/infrastructure/logging"
	"github.com/afirgen/fir-pipeline/infrastructure/resilience"
)

const (
	dependencyLLM    = "llm"
	dependencyASROCR = "asr_ocr"

	healthCacheTTL   = 30 * time.Second
	defaultTimeout   = 45 * time.Second
	maxPooledConns   = 20
	responseBodyCap  = 4 << 20 // 4 MiB, comfortably above any FIR-sized text payload
)

// breakerConfig returns the LLM/ASR-OCR circuit breaker settings mandated by
// §4.1: five consecutive failures trip the breaker, it stays open 60s, and
// exactly one probe call is admitted in half-open. None of the package's
// three named presets (Default/Strict/Lenient) match this F=5/T=60/HalfOpenMax=1
// combination, so it is spelled out explicitly here instead of reusing one.
func breakerConfig() resilience.Config {
	return resilience.Config{
		MaxFailures: 5,
		Timeout:     60 * time.Second,
		HalfOpenMax: 1,
	}
}

// Config configures a Client.
type Config struct {
	LLMBaseURL    string
	ASROCRBaseURL string
	Timeout       time.Duration
	Semaphore     *semaphore.Weighted // shared global inference semaphore (default 10 permits)
	Logger        *logging.Logger
}

// Client is the pooled HTTP/2 client fronting both inference services; every
// call goes through call()'s health-cache check, semaphore acquire, breaker
// check, timeout and retry, in that order.
type Client struct {
	httpClient *http.Client
	llmURL     string
	asrOCRURL  string
	timeout    time.Duration
	sem        *semaphore.Weighted
	logger     *logging.Logger

	breakersMu sync.RWMutex
	breakers   map[string]*resilience.CircuitBreaker
	health     *cache.TTLCache[string, bool]
}

// New builds a Client. If cfg.Semaphore is nil, a private 10-permit semaphore
// is created (callers wanting a single global semaphore shared with other
// call sites should pass one in).
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	sem := cfg.Semaphore
	if sem == nil {
		sem = semaphore.NewWeighted(10)
	}

	transport := &http.Transport{
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        maxPooledConns,
		MaxIdleConnsPerHost: maxPooledConns,
		IdleConnTimeout:     90 * time.Second,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		llmURL:     strings.TrimRight(cfg.LLMBaseURL, "/"),
		asrOCRURL:  strings.TrimRight(cfg.ASROCRBaseURL, "/"),
		timeout:    timeout,
		sem:        sem,
		logger:     cfg.Logger,
		breakers: map[string]*resilience.CircuitBreaker{
			dependencyLLM:    resilience.New(breakerConfig()),
			dependencyASROCR: resilience.New(breakerConfig()),
		},
		health: cache.New[string, bool](healthCacheTTL, 0),
	}
}

// Breaker exposes a dependency's circuit breaker for the /reliability
// endpoint and manual-reset operations.
func (c *Client) Breaker(dependency string) (*resilience.CircuitBreaker, bool) {
	c.breakersMu.RLock()
	defer c.breakersMu.RUnlock()
	b, ok := c.breakers[dependency]
	return b, ok
}

// ResetBreaker forces dependency's circuit breaker back to closed with fresh
// counters, for the /reliability/circuit-breaker/{name}/reset endpoint.
// gobreaker has no in-place reset, so this swaps in a newly constructed
// breaker under the same name.
func (c *Client) ResetBreaker(dependency string) bool {
	c.breakersMu.Lock()
	defer c.breakersMu.Unlock()
	if _, ok := c.breakers[dependency]; !ok {
		return false
	}
	c.breakers[dependency] = resilience.New(breakerConfig())
	return true
}

// Dependencies lists the model client's protected dependency names, for
// wiring into the health monitor and reliability registry at startup.
func (c *Client) Dependencies() []string {
	return []string{dependencyLLM, dependencyASROCR}
}

// Probe performs a lightweight GET /health check against dependency's base
// URL, for registration with the reliability health monitor.
func (c *Client) Probe(dependency string) func(ctx context.Context) error {
	base := c.llmURL
	if dependency == dependencyASROCR {
		base = c.asrOCRURL
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
		if err != nil {
			return err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("health check failed: %s", resp.Status)
		}
		return nil
	}
}

// NoteHealth records the latest /health probe result for dependency, feeding
// the pre-call health cache that lets calls fail fast without a round trip.
func (c *Client) NoteHealth(dependency string, healthy bool) {
	c.health.Set(dependency, healthy)
}

type inferenceRequest struct {
	ModelName string `json:"model_name"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

type inferenceResponse struct {
	Text string `json:"text"`
}

func (c *Client) Summarise(ctx context.Context, transcript string) (string, error) {
	return c.infer(ctx, "summarise", transcript, 256)
}

func (c *Client) CheckViolation(ctx context.Context, hit pipeline.Hit) (bool, error) {
	prompt := fmt.Sprintf("Does the following candidate text describe a violation?\n\n%s", hit.Text)
	text, err := c.infer(ctx, "check_violation", prompt, 8)
	if err != nil {
		return false, err
	}
	normalized := strings.ToLower(strings.TrimSpace(text))
	return strings.HasPrefix(normalized, "true") || strings.HasPrefix(normalized, "yes"), nil
}

func (c *Client) Narrate(ctx context.Context, summary string, violations []pipeline.Hit) (string, error) {
	var b strings.Builder
	b.WriteString(summary)
	for _, v := range violations {
		b.WriteString("\n- ")
		b.WriteString(v.Text)
	}
	return c.infer(ctx, "narrate", b.String(), 1024)
}

func (c *Client) Finalise(ctx context.Context, summary string, violations []pipeline.Hit, narrative string) (string, error) {
	var b strings.Builder
	b.WriteString(summary)
	b.WriteString("\n\n")
	b.WriteString(narrative)
	for _, v := range violations {
		b.WriteString("\n- ")
		b.WriteString(v.Text)
	}
	return c.infer(ctx, "finalise", b.String(), 2048)
}

func (c *Client) TranscribeAudio(ctx context.Context, audio []byte) (string, error) {
	return c.uploadCall(ctx, "transcribe_audio", "/asr", "audio", audio, "audio/mpeg")
}

func (c *Client) OCRImage(ctx context.Context, image []byte) (string, error) {
	return c.uploadCall(ctx, "ocr_image", "/ocr", "image", image, "image/png")
}

// infer performs an LLM /inference call through the full decorator chain.
func (c *Client) infer(ctx context.Context, operation, prompt string, maxTokens int) (string, error) {
	var result string
	err := c.call(ctx, operation, dependencyLLM, func(ctx context.Context) error {
		payload, err := json.Marshal(inferenceRequest{ModelName: operation, Prompt: prompt, MaxTokens: maxTokens})
		if err != nil {
			return svcerrors.Internal("marshal inference request", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.llmURL+"/inference", bytes.NewReader(payload))
		if err != nil {
			return svcerrors.Internal("build inference request", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.do(req)
		if err != nil {
			return err
		}
		var parsed inferenceResponse
		if err := json.Unmarshal(resp, &parsed); err != nil {
			return svcerrors.EmptyResponse(dependencyLLM)
		}
		if strings.TrimSpace(parsed.Text) == "" {
			return svcerrors.EmptyResponse(dependencyLLM)
		}
		result = parsed.Text
		return nil
	})
	return result, err
}

// uploadCall performs a multipart upload to the ASR/OCR server.
func (c *Client) uploadCall(ctx context.Context, operation, path, field string, data []byte, contentType string) (string, error) {
	var result string
	err := c.call(ctx, operation, dependencyASROCR, func(ctx context.Context) error {
		var body bytes.Buffer
		boundary := "firpipeline"
		body.WriteString("--" + boundary + "\r\n")
		body.WriteString(fmt.Sprintf("Content-Disposition: form-data; name=%q; filename=%q\r\n", field, field))
		body.WriteString("Content-Type: " + contentType + "\r\n\r\n")
		body.Write(data)
		body.WriteString("\r\n--" + boundary + "--\r\n")

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.asrOCRURL+path, &body)
		if err != nil {
			return svcerrors.Internal("build "+operation+" request", err)
		}
		req.Header.Set("Content-Type", "multipart/form-data; boundary="+boundary)

		resp, err := c.do(req)
		if err != nil {
			return err
		}
		var parsed inferenceResponse
		if err := json.Unmarshal(resp, &parsed); err != nil {
			return svcerrors.EmptyResponse(dependencyASROCR)
		}
		if strings.TrimSpace(parsed.Text) == "" {
			return svcerrors.EmptyResponse(dependencyASROCR)
		}
		result = parsed.Text
		return nil
	})
	return result, err
}

// call composes the decorator chain in this order: health-cache check (once,
// before a permit is taken), semaphore acquire, breaker check, then one
// timeout context that bounds the whole retry loop. The health cache is not
// re-checked between retry attempts, and the timeout is not per attempt.
func (c *Client) call(ctx context.Context, operation, dependency string, fn func(ctx context.Context) error) error {
	if healthy, ok := c.health.Get(dependency); ok && !healthy {
		return svcerrors.CircuitOpen(dependency)
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return svcerrors.Timeout(operation)
	}
	defer c.sem.Release(1)

	c.breakersMu.RLock()
	breaker := c.breakers[dependency]
	c.breakersMu.RUnlock()
	start := time.Now()

	err := breaker.Execute(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		return resilience.Retry(callCtx, resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
			Jitter:       0.5,
		}, func() error {
			err := fn(callCtx)
			if isRateLimited(err) {
				// Upstream 429s are surfaced directly and never retried.
				return backoff.Permanent(err)
			}
			return err
		})
	})

	if c.logger != nil {
		c.logger.LogModelCall(ctx, operation, dependency, time.Since(start), err)
	}

	if err != nil {
		if err == resilience.ErrCircuitOpen || err == resilience.ErrTooManyRequests {
			return svcerrors.CircuitOpen(dependency)
		}
		return err
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, svcerrors.ExternalAPIError(req.URL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, rateLimitedError{svcerrors.RateLimitExceeded(0, "upstream")}
	}
	if resp.StatusCode >= 300 {
		msg, _, _ := httputil.ReadAllWithLimit(resp.Body, 32<<10)
		return nil, svcerrors.ExternalAPIError(req.URL.Host, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(msg))))
	}

	body, err := httputil.ReadAllStrict(resp.Body, responseBodyCap)
	if err != nil {
		return nil, svcerrors.ExternalAPIError(req.URL.Host, err)
	}
	return body, nil
}

// rateLimitedError marks an error as an upstream 429 so call() can route it
// around the retry loop without retry.go needing to know about ServiceError.
type rateLimitedError struct{ err error }

func (e rateLimitedError) Error() string { return e.err.Error() }
func (e rateLimitedError) Unwrap() error { return e.err }

func isRateLimited(err error) bool {
	_, ok := err.(rateLimitedError)
	return ok
}
