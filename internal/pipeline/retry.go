package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
	"github.com/jonboulle/clockwork"
)

// ModelClient sends one payload to a generative model. Implementations
// report HTTP failures as *domain.UpstreamError so the Invoker can decide
// whether to retry.
type ModelClient interface {
	Generate(ctx context.Context, payload domain.ModelPayload) (domain.RawModelOutput, error)
}

// RetryPolicy bounds model invocation. MaxRetries counts the calls made after
// the first one.
type RetryPolicy struct {
	MaxRetries     int
	AttemptTimeout time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Budget is the longest Invoke can take under this policy.
func (p RetryPolicy) Budget() time.Duration {
	total := time.Duration(p.MaxRetries+1) * p.AttemptTimeout
	backoff := p.InitialBackoff
	for range p.MaxRetries {
		total += backoff
		backoff = nextBackoff(backoff, p.MaxBackoff)
	}
	return total
}

// Invoker calls a ModelClient with per-attempt timeouts and exponential
// backoff between retryable failures.
type Invoker struct {
	client  ModelClient
	policy  RetryPolicy
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewInvoker creates an Invoker that sleeps on the real clock.
func NewInvoker(client ModelClient, policy RetryPolicy, logger *slog.Logger, metrics *observability.Metrics) *Invoker {
	return &Invoker{
		client:  client,
		policy:  policy,
		clock:   clockwork.NewRealClock(),
		logger:  logger,
		metrics: metrics,
	}
}

// WithClock replaces the clock used for backoff sleeps.
func (i *Invoker) WithClock(c clockwork.Clock) *Invoker {
	i.clock = c
	return i
}

// Invoke returns the first successful model output. It stops early on a
// permanent rejection or when ctx ends, and never sleeps past cancellation.
func (i *Invoker) Invoke(ctx context.Context, payload domain.ModelPayload) (domain.RawModelOutput, error) {
	attempts := i.policy.MaxRetries + 1
	backoff := i.policy.InitialBackoff

	var lastErr error
	lastTimedOut := false

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.RawModelOutput{}, domain.CancellationError(domain.StageInvoke, err)
		}

		out, err := i.attempt(ctx, payload)
		if err == nil {
			i.metrics.ModelAttempts.WithLabelValues("success").Inc()
			return out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.RawModelOutput{}, domain.CancellationError(domain.StageInvoke, ctxErr)
		}

		lastErr = err
		lastTimedOut = errors.Is(err, context.DeadlineExceeded)

		switch {
		case lastTimedOut:
			i.metrics.ModelAttempts.WithLabelValues("timeout").Inc()
		case domain.IsRetryable(err):
			i.metrics.ModelAttempts.WithLabelValues("retryable_error").Inc()
		default:
			i.metrics.ModelAttempts.WithLabelValues("permanent_error").Inc()
			i.logger.Warn("model rejected request", "attempt", attempt, "error", err)
			return domain.RawModelOutput{}, domain.NewModelUnavailableError(domain.ReasonPermanent, "model rejected the request", err)
		}

		if attempt == attempts {
			break
		}

		i.logger.Warn("model call failed, retrying",
			"attempt", attempt,
			"max_attempts", attempts,
			"backoff", backoff,
			"timed_out", lastTimedOut,
			"error", err,
		)
		i.metrics.ModelRetries.Inc()
		if !sleepWithContext(ctx, i.clock, backoff) {
			return domain.RawModelOutput{}, domain.CancellationError(domain.StageInvoke, ctx.Err())
		}
		backoff = nextBackoff(backoff, i.policy.MaxBackoff)
	}

	if lastTimedOut {
		return domain.RawModelOutput{}, domain.NewModelTimeoutError(domain.ReasonRetriesExhausted, "model did not respond in time", lastErr)
	}
	return domain.RawModelOutput{}, domain.NewModelUnavailableError(domain.ReasonRetriesExhausted, "model unavailable", lastErr)
}

func (i *Invoker) attempt(ctx context.Context, payload domain.ModelPayload) (domain.RawModelOutput, error) {
	attemptCtx := ctx
	if i.policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, i.policy.AttemptTimeout)
		defer cancel()
	}

	start := time.Now()
	out, err := i.client.Generate(attemptCtx, payload)
	i.metrics.ModelAttemptDuration.Observe(time.Since(start).Seconds())

	// Report the attempt deadline however the client wrapped it.
	if err != nil && attemptCtx.Err() != nil && ctx.Err() == nil {
		return domain.RawModelOutput{}, attemptCtx.Err()
	}
	return out, err
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
