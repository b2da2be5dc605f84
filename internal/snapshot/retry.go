package snapshot

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// RetryConfig controls retries of a snapshot load. Only transient store
// errors are retried.
type RetryConfig struct {
	// Attempts is the total number of tries. Values below 1 mean one try.
	Attempts int
	// InitialBackoff is the delay before the first retry. Default: 500ms.
	InitialBackoff time.Duration
	// MaxBackoff caps the delay. Default: 30s.
	MaxBackoff time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.Attempts < 1 {
		c.Attempts = 1
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	return c
}

// backoff doubles per attempt with +-25% jitter.
func (c RetryConfig) backoff(attempt int) time.Duration {
	delay := float64(c.InitialBackoff) * math.Pow(2, float64(attempt))
	if delay > float64(c.MaxBackoff) {
		delay = float64(c.MaxBackoff)
	}
	delay += (rand.Float64()*2 - 1) * delay * 0.25
	return time.Duration(max(delay, 0))
}

func withRetry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	cfg = cfg.withDefaults()

	var lastErr error
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil || ctx.Err() != nil || !isTransient(lastErr) {
			return lastErr
		}
		if attempt == cfg.Attempts-1 {
			break
		}

		delay := cfg.backoff(attempt)
		zap.L().Warn("snapshot: retrying load",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(lastErr),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
	return lastErr
}

var transientPatterns = []string{
	"connection reset by peer",
	"connection refused",
	"broken pipe",
	"database is locked",
	"too many connections",
	"i/o timeout",
}

// isTransient reports whether a store error is worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
