package stats_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"signal-insights/internal/data"
	"signal-insights/internal/stats"
)

func at(ms ...int) []time.Time {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]time.Time, len(ms))
	for i, m := range ms {
		out[i] = start.Add(time.Duration(m) * time.Millisecond)
	}
	return out
}

func TestEstimateSampleRateFallback(t *testing.T) {
	require.Equal(t, 1, stats.EstimateSampleRate(nil))
	require.Equal(t, 1, stats.EstimateSampleRate(at(5)))
	require.Equal(t, 1, stats.EstimateSampleRate(at(5, 5, 5)))
	require.Equal(t, 1, stats.EstimateSampleRate(at(30, 20, 10)))
}

func TestEstimateSampleRateMedian(t *testing.T) {
	// deltas 50, 50, 50, 400 ms -> median 50 ms
	require.Equal(t, 20, stats.EstimateSampleRate(at(0, 50, 100, 150, 550)))
	// even count: 10 and 30 ms -> median 20 ms
	require.Equal(t, 50, stats.EstimateSampleRate(at(0, 10, 40)))
}

func TestEstimateSampleRateSkipsNonPositiveDeltas(t *testing.T) {
	require.Equal(t, 100, stats.EstimateSampleRate(at(0, 10, 10, 5, 15, 25)))
}

func TestEstimateSampleRateTruncates(t *testing.T) {
	// 6 ms -> 166.67 Hz
	require.Equal(t, 166, stats.EstimateSampleRate(at(0, 6, 12)))
	// 625 ms -> 1.6 Hz
	require.Equal(t, 1, stats.EstimateSampleRate(at(0, 625, 1250)))
	// 1 ms -> 1000 Hz
	require.Equal(t, 1000, stats.EstimateSampleRate(at(0, 1, 2, 3)))
}

func TestEstimateSampleRateSlowSource(t *testing.T) {
	// one sample every 4 s is 0.25 Hz, which coerces to the 1 Hz floor
	require.Equal(t, 1, stats.EstimateSampleRate(at(0, 4000, 8000)))
}

func TestEstimateWindowRate(t *testing.T) {
	times := at(0, 50, 100)
	records := []data.Record{{Timestamp: times[0]}, {Timestamp: times[1]}, {Timestamp: times[2]}}
	require.Equal(t, 20, stats.EstimateWindowRate(records))
}
