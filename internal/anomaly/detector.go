// internal/anomaly/detector.go
package anomaly

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"signal-insights/internal/config"
	"signal-insights/internal/data"
)

const SeverityWarn = "WARN"

// Bound a statistic is outside of.
const (
	boundMin = "min"
	boundMax = "max"
)

// Detector checks statistics against rules. It remembers which bounds each
// session currently violates so a lasting violation alerts once.
type Detector struct {
	rules map[string]config.Rule
	log   *slog.Logger

	mu     sync.Mutex
	active map[string]map[string]string // session -> metric -> bound
}

func NewDetector(rules map[string]config.Rule, log *slog.Logger) *Detector {
	if log == nil {
		log = slog.Default()
	}
	return &Detector{rules: rules, log: log, active: make(map[string]map[string]string)}
}

// Check compares each statistic against its configured bounds and returns
// one alert per newly entered violation, ordered by metric name. A metric
// that stays out of bounds is not reported again until it has recovered or
// crossed to the other bound.
func (d *Detector) Check(sessionID string, stats data.Statistics, at time.Time) []data.Alert {
	if len(d.rules) == 0 {
		return nil
	}
	named := stats.Named()

	d.mu.Lock()
	defer d.mu.Unlock()
	state := d.active[sessionID]
	if state == nil {
		state = make(map[string]string)
		d.active[sessionID] = state
	}

	metrics := make([]string, 0, len(d.rules))
	for metric := range d.rules {
		metrics = append(metrics, metric)
	}
	sort.Strings(metrics)

	var alerts []data.Alert
	for _, metric := range metrics {
		value, ok := named[metric]
		if !ok {
			// No statistic with this name
			continue
		}
		rule := d.rules[metric]
		var bound, msg string
		switch {
		case rule.Min != nil && value < *rule.Min:
			bound = boundMin
			msg = fmt.Sprintf("Anomaly detected for %s: value %.4f is below minimum %.4f", metric, value, *rule.Min)
		case rule.Max != nil && value > *rule.Max:
			bound = boundMax
			msg = fmt.Sprintf("Anomaly detected for %s: value %.4f is above maximum %.4f", metric, value, *rule.Max)
		}
		if bound == state[metric] {
			continue
		}
		if bound == "" {
			delete(state, metric)
			d.log.Info("alert cleared", "session", sessionID, "metric", metric, "value", value)
			continue
		}
		state[metric] = bound
		alert := data.Alert{
			Timestamp: at,
			Severity:  SeverityWarn,
			Message:   msg,
			Metric:    metric,
			Value:     value,
			SessionID: sessionID,
		}
		alerts = append(alerts, alert)
		d.log.Warn("alert", "session", sessionID, "metric", metric, "value", value)
	}
	return alerts
}

// Forget drops the violation state of a closed session.
func (d *Detector) Forget(sessionID string) {
	d.mu.Lock()
	delete(d.active, sessionID)
	d.mu.Unlock()
}

// UnknownMetrics lists configured rules that name no statistic.
func UnknownMetrics(rules map[string]config.Rule) []string {
	known := data.Statistics{}.Named()
	var unknown []string
	for metric := range rules {
		if _, ok := known[metric]; !ok {
			unknown = append(unknown, metric)
		}
	}
	sort.Strings(unknown)
	return unknown
}
