// Package report renders statistics for people: the chart caption and the
// block quoted inside advice prompts.
package report

import (
	"fmt"
	"strings"

	"signal-insights/internal/data"
)

// NoData is shown instead of statistics while the window is empty.
const NoData = "No data to compute metrics. Please generate output.jsonl."

// FormatStatistics renders s as the fixed statistics block. The layout is
// reused verbatim in advice prompts.
func FormatStatistics(s data.Statistics) string {
	return fmt.Sprintf(
		"Signal Statistics\n"+
			"- Mean: %.4f\n"+
			"- Std Dev: %.4f\n"+
			"- Peak-to-Peak: %.4f\n"+
			"- RMS: %.4f\n"+
			"- Dominant Freq: %.2f Hz\n",
		s.Mean, s.StdDev, s.PeakToPeak, s.RMS, s.DominantFrequency,
	)
}

// Text returns the statistics block, or NoData when s is nil.
func Text(s *data.Statistics) string {
	if s == nil {
		return NoData
	}
	return FormatStatistics(*s)
}

const blocks = " ▁▂▃▄▅▆▇█"

// Sparkline draws values as a single row of block characters, at most width
// wide (the newest values are kept).
func Sparkline(values []float64, width int) string {
	if width > 0 && len(values) > width {
		values = values[len(values)-width:]
	}
	if len(values) == 0 {
		return ""
	}
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo, hi = min(lo, v), max(hi, v)
	}

	levels := []rune(blocks)
	var b strings.Builder
	for _, v := range values {
		idx := len(levels) / 2
		if hi > lo {
			idx = int((v - lo) / (hi - lo) * float64(len(levels)-1))
		}
		b.WriteRune(levels[idx])
	}
	return b.String()
}
