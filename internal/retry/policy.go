// Package retry provides the backoff policy used when the engine transport
// loses its connection
package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/AltairaLabs/locbatch-mcp/internal/config"
)

// Policy defines reconnect behavior
type Policy struct {
	MaxRetries        int           // Maximum number of attempts (0 = retry forever)
	InitialDelay      time.Duration // Delay before the first retry
	MaxDelay          time.Duration // Maximum delay between retries
	BackoffMultiplier float64       // Multiplier for exponential backoff (e.g., 2.0)
}

// DefaultPolicy returns the policy for dialing the engine at startup
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:        5,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ReconnectPolicy returns the never-ending policy for the engine event stream
func ReconnectPolicy(cfg config.ReconnectConfig) Policy {
	return Policy{
		MaxRetries:        0,
		InitialDelay:      cfg.InitialDelay,
		MaxDelay:          cfg.MaxDelay,
		BackoffMultiplier: 2.0,
	}
}

// CalculateDelay calculates the next retry delay based on the current attempt number
func (p *Policy) CalculateDelay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return p.InitialDelay
	}

	// Calculate exponential backoff: initialDelay * (multiplier ^ retryCount)
	delay := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(retryCount))

	// Cap at maximum delay
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}

	return time.Duration(delay)
}

// ShouldRetry determines if another attempt is allowed
func (p *Policy) ShouldRetry(retryCount int) bool {
	return p.MaxRetries == 0 || retryCount < p.MaxRetries
}

// Wait sleeps for the delay of retryCount, or until ctx is done
func (p *Policy) Wait(ctx context.Context, retryCount int) error {
	timer := time.NewTimer(p.CalculateDelay(retryCount))
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRetriableError determines if a transport error should trigger a retry
func IsRetriableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	default:
		return false
	}
}

// Validate checks if the retry policy configuration is valid
func (p *Policy) Validate() error {
	if p.MaxRetries < 0 {
		return errors.New("MaxRetries must be non-negative")
	}
	if p.InitialDelay <= 0 {
		return errors.New("InitialDelay must be positive")
	}
	if p.MaxDelay <= 0 {
		return errors.New("MaxDelay must be positive")
	}
	if p.BackoffMultiplier <= 0 {
		return errors.New("BackoffMultiplier must be positive")
	}
	if p.InitialDelay > p.MaxDelay {
		return errors.New("InitialDelay cannot be greater than MaxDelay")
	}
	return nil
}
