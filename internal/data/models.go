// internal/data/models.go
package data

import "time"

// Record - one timestamped sample appended by the producer
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Statistics - derived summary of a window, recomputed every tick
type Statistics struct {
	Mean              float64 `json:"mean"`
	StdDev            float64 `json:"std_dev"`
	PeakToPeak        float64 `json:"peak_to_peak"`
	RMS               float64 `json:"rms"`
	DominantFrequency float64 `json:"dominant_frequency_hz"`
}

// Named returns the statistics keyed by their wire names, used by threshold rules.
func (s Statistics) Named() map[string]float64 {
	return map[string]float64{
		"mean":                  s.Mean,
		"std_dev":               s.StdDev,
		"peak_to_peak":          s.PeakToPeak,
		"rms":                   s.RMS,
		"dominant_frequency_hz": s.DominantFrequency,
	}
}

// AcquisitionParameters - user controlled settings, held per session
type AcquisitionParameters struct {
	SampleRateHz int     `json:"sample_rate_hz" mapstructure:"sample_rate_hz"`
	DurationS    float64 `json:"duration_s" mapstructure:"duration_s"`
	BaseFreqHz   float64 `json:"base_freq_hz" mapstructure:"base_freq_hz"`
	NoiseStd     float64 `json:"noise_std" mapstructure:"noise_std"`
}

// Snapshot - everything one refresh tick produced for a session
type Snapshot struct {
	SessionID    string                `json:"session_id"`
	Time         time.Time             `json:"time"`
	Records      []Record              `json:"records"`
	Skipped      int                   `json:"skipped"` // unparsable lines dropped this tick
	SampleRateHz int                   `json:"sample_rate_hz,omitempty"` // estimated from timestamps
	Stats        *Statistics           `json:"stats,omitempty"`          // nil when the window is empty
	Text         string                `json:"text"`
	Params       AcquisitionParameters `json:"params"`
	Alerts       []Alert               `json:"alerts,omitempty"`
}

// Values returns the sample values of the window in file order.
func (s *Snapshot) Values() []float64 {
	values := make([]float64, len(s.Records))
	for i, r := range s.Records {
		values[i] = r.Value
	}
	return values
}

// Alert - Structure for sending alerts
type Alert struct {
	Timestamp time.Time `json:"timestamp"`
	Severity  string    `json:"severity"` // e.g., "WARN", "CRITICAL"
	Message   string    `json:"message"`
	Metric    string    `json:"metric"` // Which statistic triggered the alert
	Value     float64   `json:"value"`
	SessionID string    `json:"session_id,omitempty"`
}
