package storex_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/Abraxas-365/warden/pkg/errx"
	"github.com/Abraxas-365/warden/pkg/storex"
)

type slowPinger struct {
	delay time.Duration
	err   error
}

func (p slowPinger) Name() string { return "slow" }

func (p slowPinger) Ping(ctx context.Context) error {
	// ignores ctx
	time.Sleep(p.delay)
	return p.err
}

func TestCallMapsDeadlineToTimeout(t *testing.T) {
	_, err := storex.Call(context.Background(), "postgres", 10*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !storex.IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	e, _ := errx.As(err)
	if e.Detail("backend") != "postgres" {
		t.Fatalf("expected backend detail, got %v", e.Details)
	}
}

func TestCallMapsConnectionErrorsToUnreachable(t *testing.T) {
	dialErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	err := storex.Exec(context.Background(), "redis", time.Second, func(context.Context) error {
		return dialErr
	})
	if !storex.IsUnreachable(err) {
		t.Fatalf("expected unreachable, got %v", err)
	}
	if !errors.Is(err, dialErr) {
		t.Fatal("expected the dial error to be kept as cause")
	}
}

func TestCallPassesStoreErrorsThrough(t *testing.T) {
	err := storex.Exec(context.Background(), "memory", time.Second, func(context.Context) error {
		return storex.ErrNotFound("memory")
	})
	if !storex.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestProbeTimeoutIsUnreachable(t *testing.T) {
	start := time.Now()
	err := storex.Probe(context.Background(), slowPinger{delay: 300 * time.Millisecond}, 20*time.Millisecond)

	if !storex.IsUnreachable(err) {
		t.Fatalf("expected unreachable, got %v", err)
	}
	if !storex.IsTimeout(err) {
		t.Fatal("expected the timeout to be kept in the chain")
	}
	if time.Since(start) > 200*time.Millisecond {
		t.Fatal("probe did not honor its timeout")
	}
}

func TestProbeSuccess(t *testing.T) {
	if err := storex.Probe(context.Background(), slowPinger{}, time.Second); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}
