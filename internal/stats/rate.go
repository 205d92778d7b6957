package stats

import (
	"math"
	"sort"
	"time"

	"signal-insights/internal/data"
)

// DefaultSampleRateHz is used when timestamps cannot support an estimate.
const DefaultSampleRateHz = 1

// EstimateSampleRate derives a sample rate from the median positive interval
// between consecutive timestamps. Duplicate or out-of-order timestamps are
// ignored; with fewer than two timestamps or no positive interval the
// result is DefaultSampleRateHz. The estimate is truncated to whole hertz and
// never below 1.
func EstimateSampleRate(times []time.Time) int {
	if len(times) < 2 {
		return DefaultSampleRateHz
	}

	deltas := make([]float64, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		if d := times[i].Sub(times[i-1]).Seconds(); d > 0 {
			deltas = append(deltas, d)
		}
	}
	if len(deltas) == 0 {
		return DefaultSampleRateHz
	}

	rate := 1 / median(deltas)
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate <= 0 {
		return DefaultSampleRateHz
	}
	if r := int(rate); r >= 1 {
		return r
	}
	return DefaultSampleRateHz
}

// EstimateWindowRate is EstimateSampleRate over the timestamps of records.
func EstimateWindowRate(records []data.Record) int {
	times := make([]time.Time, len(records))
	for i, r := range records {
		times[i] = r.Timestamp
	}
	return EstimateSampleRate(times)
}

// median sorts values in place.
func median(values []float64) float64 {
	sort.Float64s(values)
	mid := len(values) / 2
	if len(values)%2 == 0 {
		return (values[mid-1] + values[mid]) / 2
	}
	return values[mid]
}
