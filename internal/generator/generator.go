// Package generator produces the record stream the dashboard watches: a sine
// wave with gaussian noise, written as JSON lines.
package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"signal-insights/internal/data"
)

// TimestampLayout is UTC with millisecond precision and a trailing Z.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Defaults of the demo producer.
const (
	DefaultFreqHz     = 5.0
	DefaultNoiseStd   = 0.2
	DefaultInterval   = 50 * time.Millisecond
	BatchSampleRateHz = 1000
	BatchDurationS    = 2
	BatchWindow       = 200
	BatchStep         = 20
)

// FormatTimestamp renders t the way records carry it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func noise(std float64, seed uint64) distuv.Normal {
	return distuv.Normal{Mu: 0, Sigma: std, Src: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)}
}

// Synthesize returns rate*duration samples of a sine at the base frequency
// plus gaussian noise, sampled at i/rate seconds. The same seed yields the
// same samples.
func Synthesize(p data.AcquisitionParameters, seed uint64) []float64 {
	n := int(float64(p.SampleRateHz) * p.DurationS)
	if n <= 0 {
		return nil
	}
	dist := noise(p.NoiseStd, seed)
	out := make([]float64, n)
	for i := range out {
		t := float64(i) / float64(p.SampleRateHz)
		out[i] = math.Sin(2*math.Pi*p.BaseFreqHz*t) + dist.Rand()
	}
	return out
}

// Clock abstracts wall time so writers can be driven in tests.
type Clock struct {
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func (c Clock) withDefaults() Clock {
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Sleep == nil {
		c.Sleep = sleep
	}
	return c
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type line struct {
	Timestamp string  `json:"timestamp"`
	Value     float64 `json:"value"`
}

func writeRecord(w io.Writer, at time.Time, value float64) error {
	b, err := json.Marshal(line{Timestamp: FormatTimestamp(at), Value: value})
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

// StreamConfig configures Stream.
type StreamConfig struct {
	Interval time.Duration
	Duration time.Duration // 0 streams until cancelled
	FreqHz   float64
	NoiseStd float64
	Seed     uint64
	Clock    Clock
}

// Stream writes one record per interval until the duration has elapsed or
// ctx is cancelled, and returns the number of records written. Cancellation
// is a clean stop, not an error.
func Stream(ctx context.Context, w io.Writer, cfg StreamConfig) (int, error) {
	if cfg.Interval <= 0 {
		return 0, fmt.Errorf("generator: interval must be positive, got %s", cfg.Interval)
	}
	clock := cfg.Clock.withDefaults()
	dist := noise(cfg.NoiseStd, cfg.Seed)
	step := 2 * math.Pi * cfg.FreqHz * cfg.Interval.Seconds()

	start := clock.Now()
	phase := 0.0
	written := 0
	for ctx.Err() == nil {
		if cfg.Duration > 0 && clock.Now().Sub(start) >= cfg.Duration {
			break
		}
		if err := writeRecord(w, clock.Now(), math.Sin(phase)+dist.Rand()); err != nil {
			return written, fmt.Errorf("generator: write record: %w", err)
		}
		written++

		if err := clock.Sleep(ctx, cfg.Interval); err != nil {
			break
		}
		phase = math.Mod(phase+step, 2*math.Pi)
	}
	return written, nil
}

// BatchConfig configures Batch.
type BatchConfig struct {
	Interval time.Duration
	Seed     uint64
	Clock    Clock
}

// Batch synthesizes a fixed two second signal at 1 kHz and slides a window
// over it, writing the last sample of each window once per interval. It
// returns the number of records written.
func Batch(ctx context.Context, w io.Writer, cfg BatchConfig) (int, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	clock := cfg.Clock.withDefaults()
	signal := Synthesize(data.AcquisitionParameters{
		SampleRateHz: BatchSampleRateHz,
		DurationS:    BatchDurationS,
		BaseFreqHz:   DefaultFreqHz,
		NoiseStd:     DefaultNoiseStd,
	}, cfg.Seed)

	written := 0
	for start := 0; start < len(signal)-BatchWindow; start += BatchStep {
		window := signal[start : start+BatchWindow]
		if err := writeRecord(w, clock.Now(), window[len(window)-1]); err != nil {
			return written, fmt.Errorf("generator: write record: %w", err)
		}
		written++
		if err := clock.Sleep(ctx, cfg.Interval); err != nil {
			break
		}
	}
	return written, nil
}
