// Package events publishes transcription and chat session summaries.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"chat-stt-gateway/internal/observability/metrics"
	"chat-stt-gateway/internal/schema"
)

// Supported backends.
const (
	BackendKafka = "kafka"
	BackendNATS  = "nats"
	backendLog   = "log"
)

// Config holds publisher configuration.
type Config struct {
	Enabled         bool
	Backend         string // kafka or nats
	Brokers         []string
	NATSURL         string
	TopicTranscript string
	TopicChat       string
	Principal       string
}

// sink delivers one encoded event.
type sink interface {
	write(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error
	close() error
}

// Publisher publishes events to a Kafka topic or NATS subject per event type.
// When disabled it only logs.
type Publisher struct {
	sink            sink
	backend         string
	principal       string
	topicTranscript string
	topicChat       string
	enabled         bool
	validator       *schema.Validator
	metrics         *metrics.Metrics
}

// New creates a new event publisher.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	// Handle nil config case
	if cfg == nil {
		log.Info().Msg("Event publishing disabled (nil config), using log-only mode")
		return &Publisher{
			backend:   backendLog,
			validator: schema.New(),
			metrics:   m,
		}
	}

	p := &Publisher{
		backend:         backendLog,
		principal:       cfg.Principal,
		topicTranscript: cfg.TopicTranscript,
		topicChat:       cfg.TopicChat,
		validator:       schema.New(),
		metrics:         m,
	}
	if !cfg.Enabled {
		log.Info().Msg("Event publishing disabled, using log-only mode")
		return p
	}

	switch cfg.Backend {
	case BackendNATS:
		s, err := newNATSSink(cfg.NATSURL)
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.NATSURL).Msg("Cannot connect to NATS, using log-only mode")
			return p
		}
		p.sink, p.backend = s, BackendNATS
	default:
		if len(cfg.Brokers) == 0 {
			log.Info().Msg("Kafka has no brokers, using log-only mode")
			return p
		}
		p.sink, p.backend = newKafkaSink(cfg.Brokers, cfg.TopicTranscript, cfg.TopicChat), BackendKafka
	}
	p.enabled = true

	log.Info().
		Str("backend", p.backend).
		Strs("brokers", cfg.Brokers).
		Str("topicTranscript", cfg.TopicTranscript).
		Str("topicChat", cfg.TopicChat).
		Str("principal", cfg.Principal).
		Msg("Event publisher initialized")
	return p
}

// Backend reports where events go ("kafka", "nats" or "log").
func (p *Publisher) Backend() string { return p.backend }

// PublishTranscription publishes a transcription event.
func (p *Publisher) PublishTranscription(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.topicTranscript, key, event)
}

// PublishChat publishes a chat session event.
func (p *Publisher) PublishChat(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.topicChat, key, event)
}

func (p *Publisher) publish(ctx context.Context, topic, key string, event any) error {
	start := time.Now()

	if err := p.validator.Validate(event); err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Event failed validation")
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	// If publishing is disabled, just log
	if !p.enabled || p.sink == nil {
		p.metrics.RecordPublish(p.backend, topic, nil, time.Since(start).Seconds())
		return nil
	}

	headers := map[string]string{
		"eventType": topic,
		"principal": p.principal,
	}
	if err := p.sink.write(ctx, topic, key, payload, headers); err != nil {
		log.Error().
			Err(err).
			Str("backend", p.backend).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to publish event")
		p.metrics.RecordPublish(p.backend, topic, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordPublish(p.backend, topic, nil, time.Since(start).Seconds())
	return nil
}

// Close releases the backend connection.
func (p *Publisher) Close() error {
	if p.sink == nil {
		return nil
	}
	return p.sink.close()
}

// kafkaSink keeps one writer per topic.
type kafkaSink struct {
	writers map[string]*kafka.Writer
}

func newKafkaSink(brokers []string, topics ...string) *kafkaSink {
	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	s := &kafkaSink{writers: make(map[string]*kafka.Writer)}
	for _, topic := range topics {
		if topic == "" || s.writers[topic] != nil {
			continue
		}
		s.writers[topic] = &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}
	return s
}

func (s *kafkaSink) write(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error {
	w, ok := s.writers[topic]
	if !ok {
		return &UnknownTopicError{Topic: topic}
	}
	msg := kafka.Message{Key: []byte(key), Value: payload}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return w.WriteMessages(ctx, msg)
}

func (s *kafkaSink) close() error {
	var err error
	for topic, w := range s.writers {
		if e := w.Close(); e != nil {
			log.Error().Err(e).Str("topic", topic).Msg("Error closing Kafka writer")
			err = e
		}
	}
	return err
}

// natsSink publishes to a subject named after the topic.
type natsSink struct {
	conn *nats.Conn
}

func newNATSSink(url string) (*natsSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("chat-stt-gateway"),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &natsSink{conn: nc}, nil
}

func (s *natsSink) write(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := nats.NewMsg(topic)
	msg.Data = payload
	msg.Header.Set("key", key)
	for k, v := range headers {
		msg.Header.Set(k, v)
	}
	return s.conn.PublishMsg(msg)
}

func (s *natsSink) close() error {
	return s.conn.Drain()
}

// UnknownTopicError is returned when no writer exists for a topic.
type UnknownTopicError struct {
	Topic string
}

func (e *UnknownTopicError) Error() string {
	return "events: no writer for topic " + e.Topic
}
