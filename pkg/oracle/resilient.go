package oracle

import (
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/concord-io/concord/pkg/models"
	"github.com/concord-io/concord/pkg/observability"
)

// ResilientConfig tunes the resilience wrapper around an oracle backing.
type ResilientConfig struct {
	// CallTimeout bounds each individual oracle call.
	CallTimeout time.Duration
	// MaxRetries caps retries on rate-limit responses.
	MaxRetries uint64
	// InitialBackoff seeds the exponential backoff between retries.
	InitialBackoff time.Duration
	// RequestsPerSecond throttles outbound calls client-side.
	RequestsPerSecond float64
}

// DefaultResilientConfig returns the production defaults.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		CallTimeout:       30 * time.Second,
		MaxRetries:        3,
		InitialBackoff:    500 * time.Millisecond,
		RequestsPerSecond: 2,
	}
}

// Resilient wraps a ReasoningOracle with per-call timeouts, client-side
// rate limiting, exponential backoff on rate-limit signals, and a circuit
// breaker on repeated failure. Exhausted retries surface as
// models.ErrOracleTimeout so callers uniformly degrade to abstention.
type Resilient struct {
	inner   ReasoningOracle
	config  ResilientConfig
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  observability.Logger
}

// NewResilient wraps inner with the given config.
func NewResilient(inner ReasoningOracle, config ResilientConfig, logger observability.Logger) *Resilient {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "reasoning-oracle",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Resilient{
		inner:   inner,
		config:  config,
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1),
		breaker: breaker,
		logger:  logger.WithPrefix("oracle"),
	}
}

// Propose delegates to the inner oracle under the resilience policy.
func (r *Resilient) Propose(ctx context.Context, req ProposeRequest) (string, error) {
	var out string
	err := r.execute(ctx, "propose", func(callCtx context.Context) error {
		var innerErr error
		out, innerErr = r.inner.Propose(callCtx, req)
		return innerErr
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// Judge delegates to the inner oracle under the resilience policy.
func (r *Resilient) Judge(ctx context.Context, req JudgeRequest) (*Verdict, error) {
	var out *Verdict
	err := r.execute(ctx, "judge", func(callCtx context.Context) error {
		var innerErr error
		out, innerErr = r.inner.Judge(callCtx, req)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Resilient) execute(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(r.config.InitialBackoff),
		), r.config.MaxRetries),
		ctx,
	)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if err := r.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		_, err := r.breaker.Execute(func() (interface{}, error) {
			callCtx, cancel := context.WithTimeout(ctx, r.config.CallTimeout)
			defer cancel()
			return nil, fn(callCtx)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		if isRateLimited(err) {
			r.logger.Warn("oracle rate limited, backing off", map[string]interface{}{
				"operation": op,
				"attempt":   attempt,
			})
			return err
		}
		if errors.Is(err, models.ErrOracleParse) {
			return backoff.Permanent(err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			// Transient; the next attempt gets a fresh timeout.
			return err
		}
		return backoff.Permanent(err)
	}, policy)

	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrOracleParse) {
		return models.ErrOracleParse
	}
	r.logger.Warn("oracle call gave up", map[string]interface{}{
		"operation": op,
		"attempts":  attempt,
		"error":     err.Error(),
	})
	return errors.Wrap(models.ErrOracleTimeout, err.Error())
}

// isRateLimited recognizes provider rate-limit signals.
func isRateLimited(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return false
}
