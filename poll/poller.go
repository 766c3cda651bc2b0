package poll

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-verify/core"
)

// FetchFunc performs one status query for the session being polled.
type FetchFunc func(ctx context.Context) (core.SessionStatus, error)

// SleepFunc waits for the given duration or until ctx is cancelled,
// returning the context error on cancellation.
type SleepFunc func(ctx context.Context, delay time.Duration) error

type Option func(*Poller)

func WithLogger(logger core.Logger) Option {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(p *Poller) {
		if recorder != nil {
			p.metrics = recorder
		}
	}
}

// WithSleeper overrides how the poller waits between attempts. Tests inject
// an instant sleeper here.
func WithSleeper(sleep SleepFunc) Option {
	return func(p *Poller) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// Poller drives the bounded backoff loop that waits for a server verdict.
// It keeps no state between runs; everything it needs arrives per call.
type Poller struct {
	schedule []time.Duration
	warmup   time.Duration
	logger   core.Logger
	metrics  core.MetricsRecorder
	sleep    SleepFunc
}

func New(options ...Option) *Poller {
	poller := &Poller{
		schedule: core.PollSchedule(),
		warmup:   core.DocumentWarmupDelay,
		logger:   glog.Nop(),
		metrics:  core.NopMetricsRecorder{},
		sleep:    waitWithContext,
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(poller)
	}
	return poller
}

// Poll queries the session status on the fixed schedule until a terminal
// status arrives or the schedule runs out. Attempts are strictly sequential.
// Cancellation aborts immediately, both between attempts and mid-sleep, and
// surfaces as the context error rather than a classified failure.
func (p *Poller) Poll(ctx context.Context, sessionID string, kind core.SessionKind, fetch FetchFunc) (core.SessionStatus, error) {
	if p == nil || fetch == nil {
		return core.SessionStatus{}, core.NewClientError("poll: poller requires a fetch function", core.ErrorInternal)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if kind == core.SessionKindDocument && p.warmup > 0 {
		if err := p.sleep(ctx, p.warmup); err != nil {
			return core.SessionStatus{}, err
		}
	}

	startedAt := time.Now().UTC()
	lastIndex := len(p.schedule) - 1
	for attempt, delay := range p.schedule {
		if err := ctx.Err(); err != nil {
			return core.SessionStatus{}, err
		}

		status, err := fetch(ctx)
		switch {
		case err == nil && status.Status.Terminal():
			p.observe(ctx, sessionID, attempt+1, startedAt, string(status.Status))
			return status, nil
		case err != nil:
			if core.IsCancellation(err) {
				return core.SessionStatus{}, err
			}
			if attempt == lastIndex {
				p.observe(ctx, sessionID, attempt+1, startedAt, "error")
				return core.SessionStatus{}, core.Classify(err)
			}
			p.logger.Error("status fetch failed, will retry",
				"session_id", sessionID,
				"attempt", attempt+1,
				"error", err.Error(),
			)
		}

		if attempt == lastIndex {
			break
		}
		if err := p.sleep(ctx, delay); err != nil {
			return core.SessionStatus{}, err
		}
	}

	p.observe(ctx, sessionID, len(p.schedule), startedAt, "timeout")
	return core.SessionStatus{}, core.NewTimeoutError(sessionID)
}

func (p *Poller) observe(ctx context.Context, sessionID string, attempts int, startedAt time.Time, result string) {
	tags := map[string]string{"result": result}
	p.metrics.IncCounter(ctx, "verify.poll.total", 1, tags)
	p.metrics.ObserveHistogram(ctx, "verify.poll.duration_ms", float64(time.Since(startedAt).Milliseconds()), tags)
	p.logger.Info("poll run finished",
		"session_id", sessionID,
		"attempts", attempts,
		"result", result,
	)
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
