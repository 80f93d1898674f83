package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// do runs once with exponential backoff. Only transport-level failures are
// retried; any HTTP response, whatever its status, is returned to the caller.
// Cancellation of ctx stops the loop immediately.
func (c *HTTPClient) do(ctx context.Context, op, u, accept string) (*response, error) {
	attempts := 0
	resp, err := backoff.Retry(ctx, func() (*response, error) {
		attempts++
		r, err := c.once(ctx, op, u, accept)
		if err == nil {
			return r, nil
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		if !isTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	},
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.cfg.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			if c.metrics != nil {
				c.metrics.RetriesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
			}
			c.logger(ctx).WarnContext(ctx, "registry request failed, retrying",
				"url", u, "attempt", attempts, "backoff", next, "error", err)
		}),
	)
	if err == nil {
		return resp, nil
	}

	switch {
	case ctx.Err() != nil:
		return nil, fmt.Errorf("GET %s: %w", u, err)
	case isTransient(err):
		return nil, fmt.Errorf("%w: GET %s failed after %d attempts: %w", ErrUnreachable, u, attempts, err)
	default:
		return nil, fmt.Errorf("GET %s: %w", u, err)
	}
}

func (c *HTTPClient) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialInterval
	b.MaxInterval = c.cfg.MaxInterval
	return b
}

// isTransient reports whether err is a connection-level failure worth retrying:
// timeouts, refused or reset connections, DNS hiccups and truncated reads.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
