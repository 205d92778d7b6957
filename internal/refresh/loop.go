// Package refresh drives the periodic recompute of a session's dashboard:
// read the window, estimate the rate, compute statistics, render, publish.
package refresh

import (
	"context"
	"log/slog"
	"time"

	"signal-insights/internal/data"
	"signal-insights/internal/report"
	"signal-insights/internal/source"
	"signal-insights/internal/stats"
)

// Sink receives every snapshot a loop produces. Snapshots are shared
// between sinks and must be treated as read-only.
type Sink interface {
	Publish(ctx context.Context, snap *data.Snapshot)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, snap *data.Snapshot)

func (f SinkFunc) Publish(ctx context.Context, snap *data.Snapshot) { f(ctx, snap) }

// ParamsSource yields the acquisition parameters current at tick time.
type ParamsSource interface {
	Params() data.AcquisitionParameters
}

// Checker turns statistics into alerts.
type Checker interface {
	Check(sessionID string, stats data.Statistics, at time.Time) []data.Alert
}

type Config struct {
	Path     string
	Window   int
	Interval time.Duration
}

type Loop struct {
	sessionID string
	cfg       Config
	params    ParamsSource
	checker   Checker
	sinks     []Sink
	now       func() time.Time
	log       *slog.Logger
}

type Option func(*Loop)

func WithSinks(sinks ...Sink) Option {
	return func(l *Loop) { l.sinks = append(l.sinks, sinks...) }
}

func WithChecker(c Checker) Option {
	return func(l *Loop) { l.checker = c }
}

func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

func New(sessionID string, cfg Config, params ParamsSource, log *slog.Logger, opts ...Option) *Loop {
	if log == nil {
		log = slog.Default()
	}
	l := &Loop{
		sessionID: sessionID,
		cfg:       cfg,
		params:    params,
		now:       time.Now,
		log:       log.With("session", sessionID),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Tick recomputes the session view from scratch and hands it to every sink.
// The returned snapshot is the one that was published.
func (l *Loop) Tick(ctx context.Context) *data.Snapshot {
	res := source.ScanLast(l.cfg.Path, l.cfg.Window)
	if res.Err != nil {
		l.log.Warn("reading records", "path", l.cfg.Path, "error", res.Err)
	}

	snap := &data.Snapshot{
		SessionID: l.sessionID,
		Time:      l.now(),
		Records:   res.Records,
		Skipped:   res.Skipped,
		Params:    l.params.Params(),
	}
	if len(res.Records) > 0 {
		rate := stats.EstimateWindowRate(res.Records)
		s, err := stats.Compute(snap.Values(), rate)
		if err == nil {
			snap.SampleRateHz = rate
			snap.Stats = &s
			if l.checker != nil {
				snap.Alerts = l.checker.Check(l.sessionID, s, snap.Time)
			}
		}
	}
	snap.Text = report.Text(snap.Stats)

	for _, sink := range l.sinks {
		sink.Publish(ctx, snap)
	}
	return snap
}

// Run ticks until ctx is cancelled. A tick always completes before the
// next one starts; cancellation is observed between ticks and during the
// sleep.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.Tick(ctx)

		timer := time.NewTimer(l.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
