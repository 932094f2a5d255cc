// Package events publishes transcript events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"ai-lecture-transcriber/internal/models"
	"ai-lecture-transcriber/internal/observability/metrics"
	"ai-lecture-transcriber/internal/schema"
)

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher publishes transcript events to separate Kafka topics for chunk
// and final transcripts. With Kafka disabled events are only logged.
type Publisher struct {
	writerChunk messageWriter
	writerFinal messageWriter
	principal   string
	topicChunk  string
	topicFinal  string
	enabled     bool
	validator   *schema.Validator
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers    []string
	TopicChunk string
	TopicFinal string
	Principal  string
	Enabled    bool
}

// New creates a publisher. A nil validator skips validation.
func New(cfg *Config, validator *schema.Validator, logger zerolog.Logger, m *metrics.Metrics) *Publisher {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	logger = logger.With().Str("component", "events").Logger()
	p := &Publisher{
		validator: validator,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}

	if cfg == nil {
		logger.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return p
	}
	p.principal = cfg.Principal
	p.topicChunk = cfg.TopicChunk
	p.topicFinal = cfg.TopicFinal

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		logger.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	// Longer dial timeout for DNS resolution in Kubernetes.
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	p.writerChunk = newWriter(cfg.Brokers, cfg.TopicChunk, transport)
	p.writerFinal = newWriter(cfg.Brokers, cfg.TopicFinal, transport)
	p.enabled = true

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicChunk", cfg.TopicChunk).
		Str("topicFinal", cfg.TopicFinal).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")
	return p
}

func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

// PublishChunk publishes a chunk transcript keyed by session so that one
// session's events stay ordered within a partition.
func (p *Publisher) PublishChunk(ctx context.Context, ev models.TranscriptChunk) error {
	ev.EventType = models.EventTypeChunk
	if ev.EventID == "" {
		ev.EventID = xid.New().String()
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = p.now().UnixMilli()
	}
	if err := p.validate(ev); err != nil {
		p.metrics.RecordKafkaPublish(p.topicChunk, "chunk", err, 0)
		return err
	}
	return p.publish(ctx, p.writerChunk, p.topicChunk, "chunk", ev.SessionID, ev)
}

// PublishFinal publishes a session's final transcript.
func (p *Publisher) PublishFinal(ctx context.Context, ev models.TranscriptFinal) error {
	ev.EventType = models.EventTypeFinal
	if ev.EventID == "" {
		ev.EventID = xid.New().String()
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = p.now().UnixMilli()
	}
	if err := p.validate(ev); err != nil {
		p.metrics.RecordKafkaPublish(p.topicFinal, "final", err, 0)
		return err
	}
	return p.publish(ctx, p.writerFinal, p.topicFinal, "final", ev.SessionID, ev)
}

func (p *Publisher) validate(ev any) error {
	if p.validator == nil {
		return nil
	}
	return p.validator.Validate(ev)
}

func (p *Publisher) publish(ctx context.Context, writer messageWriter, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	p.logger.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}
	if err := writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerChunk != nil {
		if e := p.writerChunk.Close(); e != nil {
			p.logger.Error().Err(e).Msg("Error closing chunk writer")
			err = e
		}
	}
	if p.writerFinal != nil {
		if e := p.writerFinal.Close(); e != nil {
			p.logger.Error().Err(e).Msg("Error closing final writer")
			err = e
		}
	}
	return err
}
