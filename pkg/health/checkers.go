package health

import (
	"context"
	"runtime"
	"time"

	"github.com/go-faster/errors"
)

// Pinger is satisfied by pgxpool.Pool and database handles alike.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck returns a readiness CheckFunc backed by a database ping.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		return nil
	}
}

// GoroutineCountCheck returns a liveness CheckFunc that fails when the
// process holds more goroutines than threshold. Catches slow leaks from
// stuck sends or abandoned workers.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(_ context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// UptimeCheck returns a CheckFunc that fails until the process has been up
// for at least warmup. Useful to keep a freshly restarted instance out of
// rotation while caches fill.
func UptimeCheck(warmup time.Duration) CheckFunc {
	started := time.Now()
	return func(_ context.Context) error {
		if up := time.Since(started); up < warmup {
			return errors.Errorf("warming up: %s of %s elapsed", up.Round(time.Second), warmup)
		}
		return nil
	}
}
