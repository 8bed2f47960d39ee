// Package throttle holds the rate-limit governor: an explicit two-state
// machine (Normal, Backoff) replacing the catch-sleep-continue control
// flow the fetch scripts grew over time.
package throttle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"xminer/internal/source/xapi"
)

type State int

const (
	StateNormal State = iota
	StateBackoff
)

func (s State) String() string {
	if s == StateBackoff {
		return "backoff"
	}
	return "normal"
}

// Config tunes the governor. Fallback is the sleep used when the backend
// provides no reset metadata; Margin pads a provided reset time to absorb
// clock skew between us and the API.
type Config struct {
	Fallback time.Duration
	Margin   time.Duration
}

// Governor retries throttled requests indefinitely — throttling is always
// transient — and passes every other error straight back to the caller.
// The function it wraps is replayed unchanged, so in-flight pagination
// state (author, cursor, since-id) survives the sleep.
type Governor struct {
	fallback time.Duration
	margin   time.Duration
	logger   *slog.Logger

	state    State
	backoffs int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, logger *slog.Logger) *Governor {
	if cfg.Fallback == 0 {
		cfg.Fallback = 901 * time.Second
	}
	if cfg.Margin == 0 {
		cfg.Margin = 2 * time.Second
	}
	return &Governor{
		fallback: cfg.Fallback,
		margin:   cfg.Margin,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Do runs fn, entering Backoff whenever it reports throttling and
// reissuing it after the computed sleep. Returns fn's first non-throttle
// result, or the context error if cancelled mid-sleep.
func (g *Governor) Do(ctx context.Context, fn func() error) error {
	for {
		g.state = StateNormal
		err := fn()

		var throttled *xapi.ThrottleError
		if !errors.As(err, &throttled) {
			return err
		}

		d := g.delay(throttled)
		g.state = StateBackoff
		g.backoffs++
		g.logger.Warn("rate limit hit, backing off",
			"backend", throttled.Backend,
			"sleep", d,
			"backoffs", g.backoffs,
		)

		if err := g.sleep(ctx, d); err != nil {
			return err
		}
	}
}

// delay computes the Backoff duration: reset metadata plus margin when
// available, the fixed fallback otherwise, never under one second.
func (g *Governor) delay(t *xapi.ThrottleError) time.Duration {
	if t.ResetAt.IsZero() {
		return g.fallback
	}
	d := t.ResetAt.Sub(g.now()) + g.margin
	if d < time.Second {
		d = time.Second
	}
	return d
}

// State reports the current machine state.
func (g *Governor) State() State {
	return g.state
}

// Backoffs reports how many throttle sleeps have been taken.
func (g *Governor) Backoffs() int {
	return g.backoffs
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
