package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/citygrid/weather-aggregator/internal/weather"
)

// MQTTPublisher publishes one message per alert to alerts/{city_id}
// with the alert record as JSON payload.
type MQTTPublisher struct {
	client  mqtt.Client
	timeout time.Duration
}

// NewMQTTPublisher constructs a publisher for the given broker URL.
func NewMQTTPublisher(brokerURL, username, password string) (*MQTTPublisher, error) {
	if brokerURL == "" {
		return nil, errors.New("mqtt publisher: empty broker url")
	}
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID("weather-aggregator-alerts").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second)
	if username != "" {
		opts.SetUsername(username)
		opts.SetPassword(password)
	}
	return &MQTTPublisher{
		client:  mqtt.NewClient(opts),
		timeout: 10 * time.Second,
	}, nil
}

// Start connects to the broker.
func (p *MQTTPublisher) Start() error {
	token := p.client.Connect()
	if token.WaitTimeout(p.timeout) && token.Error() != nil {
		return fmt.Errorf("mqtt publisher: connect: %w", token.Error())
	}
	return nil
}

// Stop disconnects from the broker.
func (p *MQTTPublisher) Stop() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

// Publish sends the alert to its city topic.
func (p *MQTTPublisher) Publish(_ context.Context, alert weather.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	token := p.client.Publish("alerts/"+alert.CityID, 1, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("mqtt publisher: publish to alerts/%s timed out", alert.CityID)
	}
	return token.Error()
}

// LogPublisher writes alerts to the log; used when no broker is
// configured.
type LogPublisher struct {
	logger *log.Logger
}

// NewLogPublisher constructs a log sink.
func NewLogPublisher(logger *log.Logger) *LogPublisher {
	if logger == nil {
		logger = log.Default()
	}
	return &LogPublisher{logger: logger}
}

// Publish logs the alert.
func (p *LogPublisher) Publish(_ context.Context, alert weather.Alert) error {
	p.logger.Printf("alert: [%s] %s: %s (rule %s, triggered %s)",
		alert.Level, alert.CityID, alert.Message, alert.Rule, alert.TriggeredAt.Format(time.RFC3339))
	return nil
}

// MultiPublisher fans an alert out to several sinks. Each sink failure
// is independent; the first error is returned after all sinks ran.
type MultiPublisher struct {
	sinks []Publisher
}

// NewMultiPublisher constructs a fan-out publisher.
func NewMultiPublisher(sinks ...Publisher) *MultiPublisher {
	return &MultiPublisher{sinks: sinks}
}

// Publish forwards the alert to all sinks.
func (p *MultiPublisher) Publish(ctx context.Context, alert weather.Alert) error {
	var firstErr error
	for _, sink := range p.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, alert); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
