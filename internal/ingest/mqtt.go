// Package ingest feeds sensor readings received over MQTT into the engine.
//
// Readings arrive as JSON on <prefix>/readings/<sensorId>. Rejected readings
// are answered on <prefix>/rejected/<sensorId> when rejection publishing is
// enabled, so field nodes can see why a value was dropped.
package ingest

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tphakala/fieldwatch/internal/conf"
	"github.com/tphakala/fieldwatch/internal/engine"
	"github.com/tphakala/fieldwatch/internal/errors"
	"github.com/tphakala/fieldwatch/internal/logger"
	"github.com/tphakala/fieldwatch/internal/observability/metrics"
	"github.com/tphakala/fieldwatch/internal/privacy"
	"github.com/tphakala/fieldwatch/internal/sensor"
)

const (
	connectTimeout = 30 * time.Second
	publishTimeout = 10 * time.Second
	disconnectWait = 250 // milliseconds

	// ReasonMalformed is reported for payloads that are not a reading
	ReasonMalformed sensor.RejectReason = "malformed_payload"
	// ReasonTopicMismatch is reported when the payload names another sensor than the topic
	ReasonTopicMismatch sensor.RejectReason = "topic_mismatch"
)

func getLogger() logger.Logger {
	return logger.Global().Module("ingest")
}

// Ingester accepts one reading
type Ingester interface {
	Ingest(ctx context.Context, r sensor.Reading) (engine.Result, error)
}

// Config holds the broker connection settings
type Config struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	TopicPrefix       string
	QoS               byte
	PublishRejections bool
	MaxRetryInterval  time.Duration
}

// ConfigFrom maps the mqtt section of the settings
func ConfigFrom(s conf.MQTTSettings, instance string) Config {
	clientID := s.ClientID
	if clientID == "" {
		clientID = "fieldwatch-" + instance
	}
	return Config{
		Broker:            s.Broker,
		ClientID:          clientID,
		Username:          s.Username,
		Password:          s.Password,
		TopicPrefix:       strings.Trim(s.TopicPrefix, "/"),
		QoS:               s.QoS,
		PublishRejections: s.PublishRejections,
		MaxRetryInterval:  5 * time.Minute,
	}
}

// ReadingsTopic is the subscription filter for incoming readings
func (c Config) ReadingsTopic() string {
	return c.TopicPrefix + "/readings/+"
}

// RejectedTopic is where the rejection for sensorID is published
func (c Config) RejectedTopic(sensorID string) string {
	return c.TopicPrefix + "/rejected/" + sensorID
}

// Rejection is the payload published for a rejected reading
type Rejection struct {
	SensorID   string              `json:"sensorId"`
	Reason     sensor.RejectReason `json:"reason"`
	Error      string              `json:"error"`
	ReceivedAt time.Time           `json:"receivedAt"`
}

// Subscriber consumes readings from the broker
type Subscriber struct {
	config   Config
	ingester Ingester
	metrics  *metrics.MQTTMetrics

	mu      sync.Mutex
	client  mqtt.Client
	ctx     context.Context
	publish func(topic string, payload []byte) error
}

// Option configures a Subscriber
type Option func(*Subscriber)

// WithMetrics records message and connection metrics
func WithMetrics(m *metrics.MQTTMetrics) Option {
	return func(s *Subscriber) { s.metrics = m }
}

// NewSubscriber creates a subscriber. Run connects it.
func NewSubscriber(config Config, ingester Ingester, opts ...Option) *Subscriber {
	s := &Subscriber{
		config:   config,
		ingester: ingester,
		ctx:      context.Background(),
	}
	if s.config.MaxRetryInterval <= 0 {
		s.config.MaxRetryInterval = 5 * time.Minute
	}
	s.publish = s.publishToBroker
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run connects to the broker, retrying with exponential backoff, and
// consumes readings until ctx is done. Paho reconnects on its own once the
// first connection is up; the subscription is renewed in the connect handler.
func (s *Subscriber) Run(ctx context.Context) error {
	log := getLogger().With(logger.String("broker", privacy.SanitizeBrokerURL(s.config.Broker)))

	s.mu.Lock()
	s.ctx = ctx
	s.client = mqtt.NewClient(s.clientOptions())
	s.mu.Unlock()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = s.config.MaxRetryInterval
	b.MaxElapsedTime = 0

	connect := func() error {
		token := s.client.Connect()
		if !token.WaitTimeout(connectTimeout) {
			return errors.Newf("mqtt connect timed out after %s", connectTimeout).
				Component("ingest").
				Category(errors.CategoryTimeout).
				Build()
		}
		return token.Error()
	}
	notify := func(err error, next time.Duration) {
		if s.metrics != nil {
			s.metrics.IncrementErrors(metrics.StageConnect)
			s.metrics.IncrementReconnectAttempts()
		}
		log.Warn("mqtt connect failed, retrying",
			logger.Error(err),
			logger.Duration("retry_in", next))
	}
	if err := backoff.RetryNotify(connect, backoff.WithContext(b, ctx), notify); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.New(err).
			Component("ingest").
			Category(errors.CategoryMQTTConnection).
			Context("broker", privacy.SanitizeBrokerURL(s.config.Broker)).
			Build()
	}

	<-ctx.Done()
	s.client.Disconnect(disconnectWait)
	if s.metrics != nil {
		s.metrics.UpdateConnectionStatus(false)
	}
	log.Info("mqtt ingestion stopped")
	return nil
}

func (s *Subscriber) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.config.Broker)
	opts.SetClientID(s.config.ClientID)
	opts.SetUsername(s.config.Username)
	opts.SetPassword(s.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(s.config.MaxRetryInterval)
	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(s.onConnectionLost)
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		if s.metrics != nil {
			s.metrics.IncrementReconnectAttempts()
		}
	})
	return opts
}

func (s *Subscriber) onConnect(c mqtt.Client) {
	log := getLogger().With(logger.String("broker", privacy.SanitizeBrokerURL(s.config.Broker)))
	if s.metrics != nil {
		s.metrics.UpdateConnectionStatus(true)
	}

	topic := s.config.ReadingsTopic()
	token := c.Subscribe(topic, s.config.QoS, s.onMessage)
	if !token.WaitTimeout(connectTimeout) || token.Error() != nil {
		if s.metrics != nil {
			s.metrics.IncrementErrors(metrics.StageSubscribe)
		}
		log.Error("mqtt subscribe failed",
			logger.String("topic", topic),
			logger.Error(token.Error()))
		return
	}
	log.Info("mqtt connected", logger.String("topic", topic))
}

func (s *Subscriber) onConnectionLost(_ mqtt.Client, err error) {
	if s.metrics != nil {
		s.metrics.UpdateConnectionStatus(false)
		s.metrics.IncrementErrors(metrics.StageConnectionLost)
	}
	getLogger().Warn("mqtt connection lost",
		logger.String("broker", privacy.SanitizeBrokerURL(s.config.Broker)),
		logger.Error(err))
}

func (s *Subscriber) onMessage(_ mqtt.Client, msg mqtt.Message) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	_, _ = s.HandlePayload(ctx, msg.Topic(), msg.Payload())
}

// HandlePayload decodes one message and passes it to the ingester. The
// sensor id defaults to the last topic segment when the payload omits it.
func (s *Subscriber) HandlePayload(ctx context.Context, topic string, payload []byte) (engine.Result, error) {
	if s.metrics != nil {
		s.metrics.ObserveMessage(len(payload))
	}
	topicSensor := topic[strings.LastIndex(topic, "/")+1:]

	var r sensor.Reading
	if err := json.Unmarshal(payload, &r); err != nil {
		err = errors.New(err).
			Component("ingest").
			Category(errors.CategoryValidation).
			Context("topic", topic).
			Build()
		s.reject(topicSensor, ReasonMalformed, err)
		return engine.Result{Reason: ReasonMalformed}, err
	}
	if r.SensorID == "" {
		r.SensorID = topicSensor
	}
	if r.SensorID != topicSensor {
		err := errors.Newf("payload sensor %q does not match topic sensor %q", r.SensorID, topicSensor).
			Component("ingest").
			Category(errors.CategoryValidation).
			Build()
		s.reject(topicSensor, ReasonTopicMismatch, err)
		return engine.Result{Reason: ReasonTopicMismatch}, err
	}

	res, err := s.ingester.Ingest(ctx, r)
	if err != nil && res.Reason != "" {
		s.reject(r.SensorID, res.Reason, err)
	} else if err != nil {
		getLogger().Error("reading ingestion failed",
			logger.String("sensor_id", r.SensorID),
			logger.Error(err))
	}
	return res, err
}

func (s *Subscriber) reject(sensorID string, reason sensor.RejectReason, cause error) {
	if s.metrics != nil {
		s.metrics.IncrementRejected(string(reason))
	}
	getLogger().Debug("reading rejected",
		logger.String("sensor_id", sensorID),
		logger.String("reason", string(reason)))
	if !s.config.PublishRejections {
		return
	}

	payload, err := json.Marshal(Rejection{
		SensorID:   sensorID,
		Reason:     reason,
		Error:      cause.Error(),
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := s.publish(s.config.RejectedTopic(sensorID), payload); err != nil {
		getLogger().Warn("rejection publish failed",
			logger.String("sensor_id", sensorID),
			logger.Error(err))
	}
}

func (s *Subscriber) publishToBroker(topic string, payload []byte) error {
	s.mu.Lock()
	c := s.client
	s.mu.Unlock()
	if c == nil || !c.IsConnected() {
		return errors.Newf("not connected to mqtt broker").
			Component("ingest").
			Category(errors.CategoryMQTTPublish).
			Build()
	}

	if s.metrics != nil {
		timer := s.metrics.StartPublishTimer()
		defer timer.ObserveDuration()
	}
	token := c.Publish(topic, s.config.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		if s.metrics != nil {
			s.metrics.IncrementErrors(metrics.StagePublish)
		}
		return errors.Newf("publish to %s timed out", topic).
			Component("ingest").
			Category(errors.CategoryMQTTPublish).
			Build()
	}
	if err := token.Error(); err != nil {
		if s.metrics != nil {
			s.metrics.IncrementErrors(metrics.StagePublish)
		}
		return errors.New(err).
			Component("ingest").
			Category(errors.CategoryMQTTPublish).
			Build()
	}
	return nil
}
