// internal/alerting/alerter.go
package alerting

import (
	"context"
	"log/slog"

	"signal-insights/internal/data"
)

// Notifier delivers one alert, e.g. to the session's websocket clients.
type Notifier interface {
	BroadcastAlert(ctx context.Context, alert data.Alert)
}

type Alerter struct {
	notifiers []Notifier
	log       *slog.Logger
}

func NewAlerter(log *slog.Logger, notifiers ...Notifier) *Alerter {
	if log == nil {
		log = slog.Default()
	}
	return &Alerter{notifiers: notifiers, log: log}
}

// ProcessAlerts sends alerts via every configured channel.
func (a *Alerter) ProcessAlerts(ctx context.Context, alerts []data.Alert) {
	if len(alerts) == 0 {
		return
	}
	a.log.Debug("processing alerts", "count", len(alerts))
	for _, alert := range alerts {
		for _, n := range a.notifiers {
			n.BroadcastAlert(ctx, alert)
		}
	}
}

// Publish forwards the alerts attached to a refresh snapshot.
func (a *Alerter) Publish(ctx context.Context, snap *data.Snapshot) {
	a.ProcessAlerts(ctx, snap.Alerts)
}
