package storex

import (
	"context"
	"time"

	"github.com/Abraxas-365/warden/pkg/asyncx"
)

// Call runs fn under timeout and maps its error into the taxonomy. A call
// that overruns returns Timeout even if the backend client ignores ctx.
func Call[T any](ctx context.Context, backend string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	v, err := asyncx.WithTimeout(ctx, timeout, fn)
	if err != nil {
		var zero T
		return zero, classify(backend, err)
	}
	return v, nil
}

// Exec is Call for operations without a result.
func Exec(ctx context.Context, backend string, timeout time.Duration, fn func(context.Context) error) error {
	_, err := Call(ctx, backend, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Probe pings p within timeout. Any failure, including a timeout, is reported
// as Unreachable naming the backend; the original error is kept as cause.
func Probe(ctx context.Context, p Pinger, timeout time.Duration) error {
	err := Exec(ctx, p.Name(), timeout, p.Ping)
	if err == nil {
		return nil
	}
	if IsUnreachable(err) {
		return err
	}
	return ErrUnreachable(p.Name(), err).WithDetail("timeout", timeout.String())
}
