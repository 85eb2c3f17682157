package engine

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"
)

// Delay is the pause before retry number attempt. Linear and exponential
// curves are capped at MaxDelay when it is set.
func (r RetryConfig) Delay(attempt int) time.Duration {
	var d time.Duration
	switch r.Backoff {
	case BackoffLinear:
		d = time.Duration(attempt) * r.InitialDelay
	case BackoffExponential:
		if attempt > 62 {
			return r.MaxDelay
		}
		d = time.Duration(1<<attempt) * r.InitialDelay
	default:
		return r.InitialDelay
	}
	if r.MaxDelay > 0 && d > r.MaxDelay {
		return r.MaxDelay
	}
	return d
}

// IsTransientError reports whether a transport failure is worth retrying.
// Cancellation and deadlines never are.
func IsTransientError(err error) bool {
	if err == nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	for _, errno := range []syscall.Errno{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ETIMEDOUT, syscall.ECONNABORTED} {
		if errors.Is(err, errno) {
			return true
		}
	}

	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsTemporary
}
