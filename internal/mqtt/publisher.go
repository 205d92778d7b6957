// Package mqtt publishes window statistics to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"signal-insights/internal/config"
	"signal-insights/internal/data"
)

const publishTimeout = 2 * time.Second

// Message is the payload published for every tick with statistics.
type Message struct {
	SessionID    string           `json:"session_id"`
	Time         time.Time        `json:"time"`
	SampleRateHz int              `json:"sample_rate_hz"`
	WindowSize   int              `json:"window_size"`
	Stats        *data.Statistics `json:"stats"`
	Alerts       []data.Alert     `json:"alerts,omitempty"`
}

// Publisher is a refresh sink that forwards statistics to a topic per
// session.
type Publisher struct {
	client paho.Client
	topic  string // e.g. "signal/{session_id}/stats"
	log    *slog.Logger
}

// Connect dials the broker described by cfg.
func Connect(cfg config.MQTT, log *slog.Logger) (*Publisher, error) {
	if log == nil {
		log = slog.Default()
	}
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(paho.Client) {
		log.Info("mqtt connected", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Warn("mqtt connection lost", "error", err)
	})

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", cfg.Broker, token.Error())
	}
	return NewPublisher(client, cfg.Topic, log), nil
}

func NewPublisher(client paho.Client, topic string, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{client: client, topic: topic, log: log}
}

// Publish sends the snapshot's statistics. Empty windows are not published.
// Failures are logged; the refresh loop never waits longer than
// publishTimeout.
func (p *Publisher) Publish(_ context.Context, snap *data.Snapshot) {
	if snap.Stats == nil {
		return
	}
	payload, err := json.Marshal(Message{
		SessionID:    snap.SessionID,
		Time:         snap.Time,
		SampleRateHz: snap.SampleRateHz,
		WindowSize:   len(snap.Records),
		Stats:        snap.Stats,
		Alerts:       snap.Alerts,
	})
	if err != nil {
		p.log.Error("mqtt encode", "session", snap.SessionID, "error", err)
		return
	}

	topic := FormatTopic(p.topic, snap.SessionID)
	token := p.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		p.log.Warn("mqtt publish timed out", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		p.log.Warn("mqtt publish failed", "topic", topic, "error", err)
	}
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

// FormatTopic replaces the {session_id} placeholder.
func FormatTopic(pattern, sessionID string) string {
	return strings.ReplaceAll(pattern, "{session_id}", sessionID)
}
