// Package gateway calls a multimodal inference backend with retry, backoff,
// rate limiting and a per-model circuit breaker.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/diet-analysis/internal/llmjson"
	"github.com/sells-group/diet-analysis/internal/metrics"
	"github.com/sells-group/diet-analysis/internal/resilience"
)

// DefaultMaxRetries is the attempt budget used when a caller passes zero.
const DefaultMaxRetries = 3

// logSample bounds how much of a prompt or response is logged.
const logSample = 200

var (
	// ErrNoCandidates means the backend answered without any text. It is
	// retried within the attempt budget.
	ErrNoCandidates = eris.New("gateway: response contained no candidates")

	// ErrGatewayFailure is returned once the attempt budget is spent.
	ErrGatewayFailure = eris.New("gateway: inference failed after retries")
)

// RemoteError is the terminal error when the last attempt failed inside the
// backend. It matches ErrGatewayFailure under errors.Is.
type RemoteError struct {
	Model    string
	Attempts int
	Err      error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("gateway: %s failed after %d attempt(s): %v", e.Model, e.Attempts, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Is reports ErrGatewayFailure as a match.
func (e *RemoteError) Is(target error) bool { return target == ErrGatewayFailure }

// GenerateRequest is a single backend call. FilePath is empty for text-only
// prompts; MIME is set whenever FilePath is.
type GenerateRequest struct {
	Model    string
	Prompt   string
	FilePath string
	MIME     string
}

// Backend produces candidate text for a prompt.
type Backend interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// Config tunes the retry loop and its guards.
type Config struct {
	// Jitter is the upper bound of the random offset added to each wait.
	Jitter time.Duration

	// RequestsPerSecond limits backend calls across all callers. Zero means
	// unlimited.
	RequestsPerSecond float64

	// CircuitFailureThreshold opens a model's circuit after that many
	// consecutive failed attempts. Zero disables the breaker.
	CircuitFailureThreshold int
	CircuitResetTimeout     time.Duration
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithMetrics records attempt outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithSleep replaces the wait between attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Gateway) { g.sleep = fn }
}

// Gateway wraps a Backend with the retry policy.
type Gateway struct {
	backend  Backend
	jitter   time.Duration
	limiter  *rate.Limiter
	breakers *resilience.ServiceBreakers
	metrics  *metrics.Metrics
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates a Gateway.
func New(backend Backend, cfg Config, opts ...Option) *Gateway {
	g := &Gateway{backend: backend, jitter: cfg.Jitter}
	if cfg.RequestsPerSecond > 0 {
		burst := max(int(cfg.RequestsPerSecond), 1)
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	if cfg.CircuitFailureThreshold > 0 {
		g.breakers = resilience.NewServiceBreakers(resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.CircuitFailureThreshold,
			ResetTimeout:     cfg.CircuitResetTimeout,
		})
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Call sends prompt, with the file at filePath attached when non-empty, to
// model. It makes up to maxRetries attempts (DefaultMaxRetries when zero or
// negative) and waits 2^attempt seconds plus jitter between them.
//
// A successful response is returned verbatim. When the budget is spent the
// error is ErrGatewayFailure, or a *RemoteError if the last attempt failed in
// the backend. Context cancellation stops the loop and returns ctx.Err().
func (g *Gateway) Call(ctx context.Context, prompt, filePath string, maxRetries int, model string) (string, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	req := GenerateRequest{Model: model, Prompt: prompt, FilePath: filePath}
	if filePath != "" {
		mt, err := mimetype.DetectFile(filePath)
		if err != nil {
			return "", &RemoteError{Model: model, Err: eris.Wrap(err, "gateway: inspect attachment")}
		}
		req.MIME = mt.String()
	}

	attempts := 0
	text, err := resilience.DoVal(ctx, resilience.RetryConfig{
		MaxAttempts:    maxRetries,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Minute,
		Multiplier:     2,
		Jitter:         g.jitter,
		OnRetry:        resilience.RetryLogger("gateway", model),
		Sleep:          g.sleep,
	}, func(ctx context.Context) (string, error) {
		n := attempts
		attempts++
		return g.attempt(ctx, n, req)
	})
	if err == nil {
		return text, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", eris.Wrap(ctxErr, "gateway: call cancelled")
	}

	zap.L().Error("gateway: attempts exhausted",
		zap.String("model", model),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
	switch {
	case errors.Is(err, ErrNoCandidates):
		return "", eris.Wrapf(ErrGatewayFailure, "gateway: %s returned no candidates in %d attempt(s)", model, attempts)
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "", eris.Wrapf(ErrGatewayFailure, "gateway: circuit open for %s", model)
	default:
		return "", &RemoteError{Model: model, Attempts: attempts, Err: err}
	}
}

// attempt makes one backend call and classifies its outcome.
func (g *Gateway) attempt(ctx context.Context, n int, req GenerateRequest) (string, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", eris.Wrap(err, "gateway: rate limit wait")
		}
	}

	log := zap.L().With(
		zap.String("model", req.Model),
		zap.Int("attempt", n),
	)
	log.Debug("gateway: calling model",
		zap.String("prompt", llmjson.Truncate(req.Prompt, logSample)),
		zap.String("file", req.FilePath),
	)

	text, err := g.generate(ctx, req)
	if err == nil && strings.TrimSpace(text) == "" {
		err = ErrNoCandidates
	}
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		g.metrics.GatewayAttempt(req.Model, metrics.OutcomeCircuitOpen)
		log.Warn("gateway: circuit open, skipping call")
		return "", resilience.Permanent(err)
	case errors.Is(err, ErrNoCandidates):
		g.metrics.GatewayAttempt(req.Model, metrics.OutcomeNoCandidates)
		log.Warn("gateway: no candidates in response")
		return "", err
	case err != nil:
		g.metrics.GatewayAttempt(req.Model, metrics.OutcomeRemoteError)
		log.Warn("gateway: remote error", zap.Error(err))
		return "", err
	}

	g.metrics.GatewayAttempt(req.Model, metrics.OutcomeSuccess)
	log.Info("gateway: model responded", zap.String("response", llmjson.Truncate(text, logSample)))
	return text, nil
}

func (g *Gateway) generate(ctx context.Context, req GenerateRequest) (string, error) {
	if g.breakers == nil {
		return g.backend.Generate(ctx, req)
	}
	return resilience.ExecuteVal(ctx, g.breakers.Get(req.Model), func(ctx context.Context) (string, error) {
		text, err := g.backend.Generate(ctx, req)
		if err == nil && strings.TrimSpace(text) == "" {
			// Count empty answers against the breaker too.
			return "", ErrNoCandidates
		}
		return text, err
	})
}
