package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/citygrid/weather-aggregator/internal/metrics"
)

const observationTopicFilter = "city/+/observations"

// ExtractCity returns the city id from a city/{city_id}/observations
// topic, or "" when the topic has an unexpected shape.
func ExtractCity(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 3 && parts[0] == "city" && parts[2] == "observations" {
		return parts[1]
	}
	return ""
}

// MQTTSource subscribes to the inbound observation topic and feeds each
// message through the ingestor.
type MQTTSource struct {
	client   mqtt.Client
	ingestor *Ingestor
	logger   *log.Logger
	timeout  time.Duration
}

// NewMQTTSource constructs a source for the given broker URL
// (e.g. tcp://localhost:1883).
func NewMQTTSource(brokerURL, username, password string, ingestor *Ingestor, logger *log.Logger) (*MQTTSource, error) {
	if brokerURL == "" {
		return nil, errors.New("mqtt source: empty broker url")
	}
	if ingestor == nil {
		return nil, errors.New("mqtt source: nil ingestor")
	}
	if logger == nil {
		logger = log.Default()
	}

	src := &MQTTSource{
		ingestor: ingestor,
		logger:   logger,
		timeout:  10 * time.Second,
	}

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID("weather-aggregator-ingest").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetOnConnectHandler(func(client mqtt.Client) {
			token := client.Subscribe(observationTopicFilter, 1, src.handleMessage)
			if token.WaitTimeout(src.timeout) && token.Error() != nil {
				logger.Printf("mqtt source: subscribe failed: %v", token.Error())
				return
			}
			logger.Printf("mqtt source: subscribed to %s", observationTopicFilter)
		})
	if username != "" {
		opts.SetUsername(username)
		opts.SetPassword(password)
	}

	src.client = mqtt.NewClient(opts)
	return src, nil
}

// Start connects to the broker. With connect-retry enabled the client
// keeps trying in the background when the broker is not up yet.
func (s *MQTTSource) Start() error {
	token := s.client.Connect()
	if token.WaitTimeout(s.timeout) && token.Error() != nil {
		return fmt.Errorf("mqtt source: connect: %w", token.Error())
	}
	return nil
}

// Connected reports whether the broker connection is currently up.
func (s *MQTTSource) Connected() bool {
	return s.client != nil && s.client.IsConnectionOpen()
}

// Stop disconnects from the broker.
func (s *MQTTSource) Stop() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}

func (s *MQTTSource) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	city := ExtractCity(msg.Topic())
	if city == "" {
		s.logger.Printf("mqtt source: skipping message with unexpected topic %s", msg.Topic())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.ingestor.ingestTopic(ctx, city, msg.Payload()); err != nil {
		metrics.IngestFailures.Inc()
		s.logger.Printf("mqtt source: failed to ingest message from %s: %v", msg.Topic(), err)
		return
	}
	metrics.IngestedMessages.Inc()
}

// ingestTopic decodes the payload, backfills a missing city id from the
// topic, and ingests the message.
func (i *Ingestor) ingestTopic(ctx context.Context, city string, payload []byte) error {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrRejected, err)
	}
	if msg.CityID == "" {
		msg.CityID = city
	}
	return i.Ingest(ctx, msg)
}
