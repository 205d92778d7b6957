package advice

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"signal-insights/internal/data"
	"signal-insights/internal/llm"
	"signal-insights/internal/report"
)

var defaults = data.AcquisitionParameters{SampleRateHz: 1000, DurationS: 5, BaseFreqHz: 5, NoiseStd: 0.2}

func TestBuild(t *testing.T) {
	stats := &data.Statistics{Mean: 0.01, StdDev: 0.7, PeakToPeak: 2.4, RMS: 0.7, DominantFrequency: 5}

	msgs, err := Build(stats, defaults, "  vibration sensor on a pump \n")
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	require.Equal(t, llm.RoleSystem, msgs[0].Role)
	require.Equal(t, Persona, msgs[0].Content)

	require.Equal(t, llm.RoleUser, msgs[1].Role)
	content := msgs[1].Content
	require.True(t, strings.HasPrefix(content, "Metrics: "+report.FormatStatistics(*stats)))
	require.Contains(t, content, "Sample Rate: 1000 Hz, Duration: 5 s, Base Freq: 5 Hz, Noise σ: 0.2\n")
	require.True(t, strings.HasSuffix(content, "Context: vibration sensor on a pump"))
}

func TestBuildEmptyContext(t *testing.T) {
	for _, ctx := range []string{"", "   ", "\n\t"} {
		msgs, err := Build(&data.Statistics{}, defaults, ctx)
		require.NoError(t, err)
		require.True(t, strings.HasSuffix(msgs[1].Content, "Context: None"), "context %q", ctx)
	}
}

func TestBuildFractionalParameters(t *testing.T) {
	p := data.AcquisitionParameters{SampleRateHz: 250, DurationS: 2.5, BaseFreqHz: 12.75, NoiseStd: 0.05}
	got := UserContent("block", p, "")
	require.Equal(t, "Metrics: block\nSample Rate: 250 Hz, Duration: 2.5 s, Base Freq: 12.75 Hz, Noise σ: 0.05\nContext: None", got)
}

func TestBuildEmptyWindow(t *testing.T) {
	_, err := Build(nil, defaults, "anything")
	require.ErrorIs(t, err, ErrNoStatistics)
}
