package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/cyrup-ai/kodegen-release/pkg/log"
)

// MaxBackoffSeconds caps the exponential backoff at one hour.
const MaxBackoffSeconds = 3600

// Transient marks an error as recoverable: the retry rule applies.
type Transient struct {
	Err error
}

func (e *Transient) Error() string { return e.Err.Error() }
func (e *Transient) Unwrap() error { return e.Err }

// Fatal marks an error as unrecoverable: it aborts the phase chain and
// triggers rollback.
type Fatal struct {
	Err error
}

func (e *Fatal) Error() string { return e.Err.Error() }
func (e *Fatal) Unwrap() error { return e.Err }

// RateLimited is a recoverable error carrying a server-specified wait.
type RateLimited struct {
	Err        error
	RetryAfter time.Duration
}

func (e *RateLimited) Error() string { return e.Err.Error() }
func (e *RateLimited) Unwrap() error { return e.Err }

// MarkTransient wraps err as recoverable. Nil stays nil.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &Transient{Err: err}
}

// MarkFatal wraps err as unrecoverable. Nil stays nil.
func MarkFatal(err error) error {
	if err == nil {
		return nil
	}
	return &Fatal{Err: err}
}

// Recoverable classifies an error under the retry taxonomy. Explicit marks
// win; otherwise network timeouts, resets and DNS failures are recoverable
// and everything else is not.
func Recoverable(err error) bool {
	if err == nil {
		return false
	}

	var fatal *Fatal
	if errors.As(err, &fatal) {
		return false
	}
	var transient *Transient
	if errors.As(err, &transient) {
		return true
	}
	var limited *RateLimited
	if errors.As(err, &limited) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

// backoffFor returns the wait before the given retry attempt (1-based).
func backoffFor(err error, attempt uint) time.Duration {
	var limited *RateLimited
	if errors.As(err, &limited) {
		wait := limited.RetryAfter
		if wait > MaxBackoffSeconds*time.Second {
			wait = MaxBackoffSeconds * time.Second
		}
		return wait
	}

	// 1s, 2s, 4s, ... capped at MaxBackoffSeconds. The shift saturates well
	// before overflow because the cap kicks in at attempt 13.
	if attempt > 12 {
		return MaxBackoffSeconds * time.Second
	}
	secs := uint64(1) << (attempt - 1)
	if secs > MaxBackoffSeconds {
		secs = MaxBackoffSeconds
	}
	return time.Duration(secs) * time.Second
}

// Do runs fn, retrying recoverable failures up to maxRetries times with
// exponential backoff. Unrecoverable errors return immediately.
func Do(ctx context.Context, maxRetries int, name string, fn func(ctx context.Context) error) error {
	logger := log.WithComponent("retry")
	var attempts uint

	for {
		err := fn(ctx)
		if err == nil {
			if attempts > 0 {
				logger.Info().Str("operation", name).Uint("retries", attempts).
					Msg("operation succeeded after retries")
			}
			return nil
		}

		if !Recoverable(err) {
			return err
		}
		if attempts >= uint(maxRetries) {
			return fmt.Errorf("%s failed after %d attempt(s): %w", name, attempts+1, err)
		}
		attempts++

		wait := backoffFor(err, attempts)
		logger.Warn().Str("operation", name).Err(err).
			Uint("attempt", attempts).Int("max_retries", maxRetries).
			Dur("backoff", wait).Msg("operation failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
