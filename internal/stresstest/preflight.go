package stresstest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrPreflight is returned when the target cannot be reached before a run
var ErrPreflight = errors.New("preflight check failed")

const (
	DefaultPreflightAttempts = 30
	DefaultPreflightInterval = time.Second
	DefaultPreflightTimeout  = 2 * time.Second
)

// Preflight probes addr with plain TCP connects, up to attempts times with
// interval between tries. It returns an error wrapping ErrPreflight when no
// attempt succeeds.
func Preflight(ctx context.Context, addr string, attempts int, interval, timeout time.Duration) error {
	attempts = max(attempts, 1)
	dialer := net.Dialer{Timeout: timeout}

	var lastErr error
	for i := 0; i < attempts; i++ {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return nil
		}
		lastErr = err

		if i < attempts-1 && !sleepCtx(ctx, interval) {
			break
		}
	}
	return fmt.Errorf("%w: %s unreachable: %w", ErrPreflight, addr, lastErr)
}
