package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"time"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"

	"github.com/m0-foundation/solana-m/earn"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
	}
}

// Do executes fn with exponential backoff until it succeeds, fails with a
// non-retryable error, or runs out of attempts.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := calculateBackoff(cfg.BaseBackoff, cfg.MaxBackoff, attempt-1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !IsRetryable(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// Solana JSON-RPC server error codes worth another attempt.
const (
	codePreflightFailure  = -32002
	codeBlockNotAvailable = -32004
	codeNodeUnhealthy     = -32005
	codeMinContextSlot    = -32016
)

// transientPatterns match transport failures that surface only as text.
var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"connection closed",
	"eof",
	"broken pipe",
	"i/o timeout",
	"temporary failure",
	"service unavailable",
	"too many requests",
	"blockhash not found",
	"node is behind",
}

// IsRetryable reports whether err is a transient RPC failure. Ledger
// validation failures and transactions whose outcome is unknown never are:
// resending an unconfirmed transaction could apply it twice.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if earn.IsDomainError(err) || errors.Is(err, earn.ErrUnconfirmed) {
		return false
	}

	var solErr *jsonrpc.RPCError
	if errors.As(err, &solErr) {
		switch solErr.Code {
		case codeBlockNotAvailable, codeNodeUnhealthy, codeMinContextSlot:
			return true
		case codePreflightFailure:
			// a stale blockhash is the only preflight failure a rebuilt
			// transaction can pass
			return strings.Contains(strings.ToLower(solErr.Message), "blockhash not found")
		}
		return false
	}

	var solHTTP *jsonrpc.HTTPError
	if errors.As(err, &solHTTP) {
		return retryableStatus(solHTTP.Code)
	}
	var evmHTTP gethrpc.HTTPError
	if errors.As(err, &evmHTTP) {
		return retryableStatus(evmHTTP.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// calculateBackoff is base * 2^attempt capped at max, scaled by a random
// factor in [0.5, 1.0).
func calculateBackoff(base, max time.Duration, attempt int) time.Duration {
	backoff := base * time.Duration(1<<uint(attempt))
	if backoff > max {
		backoff = max
	}
	jitter := 0.5 + rand.Float64()*0.5
	return time.Duration(float64(backoff) * jitter)
}
