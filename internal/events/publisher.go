// Package events moves run lifecycle events and queued run requests
// through Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/bibliometric-pipeline/internal/domain"
)

// DefaultSource identifies this service in published events.
const DefaultSource = "bibliometric-pipeline"

// Config holds Kafka settings shared by the publisher and listener.
type Config struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// EventsTopic receives run lifecycle events.
	EventsTopic string
	// RequestsTopic carries queued run requests.
	RequestsTopic string
	// GroupID is the consumer group of the listener.
	GroupID string
	// BatchTimeout bounds how long the writer waits to fill a batch.
	BatchTimeout time.Duration
	// Source overrides DefaultSource.
	Source string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes run events keyed by run ID, so every event of a run
// lands on the same partition in order.
type Publisher struct {
	writer        messageWriter
	eventsTopic   string
	requestsTopic string
	source        string
	logger        zerolog.Logger
}

// NewPublisher creates a Kafka publisher.
func NewPublisher(cfg Config, logger zerolog.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	if cfg.EventsTopic == "" {
		return nil, fmt.Errorf("events topic is required")
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return newPublisher(w, cfg, logger), nil
}

func newPublisher(w messageWriter, cfg Config, logger zerolog.Logger) *Publisher {
	source := cfg.Source
	if source == "" {
		source = DefaultSource
	}
	return &Publisher{
		writer:        w,
		eventsTopic:   cfg.EventsTopic,
		requestsTopic: cfg.RequestsTopic,
		source:        source,
		logger:        logger.With().Str("component", "event_publisher").Logger(),
	}
}

// Publish writes event to the events topic.
func (p *Publisher) Publish(ctx context.Context, event *domain.RunEvent) error {
	return p.write(ctx, p.eventsTopic, event)
}

func (p *Publisher) write(ctx context.Context, topic string, event *domain.RunEvent) error {
	if topic == "" {
		return fmt.Errorf("no topic configured for %s", event.EventType)
	}
	event.Source = p.source

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(event.RunID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "event_id", Value: []byte(event.EventID)},
		},
		Time: event.CreatedAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", event.EventType, err)
	}

	p.logger.Debug().
		Str("event_type", event.EventType).
		Str("run_id", event.RunID.String()).
		Str("topic", topic).
		Msg("published event")
	return nil
}

// RunStarted publishes run.started.
func (p *Publisher) RunStarted(ctx context.Context, runID uuid.UUID, userID string, phases []string) error {
	event, err := domain.NewRunEvent(domain.EventTypeRunStarted, runID, userID,
		domain.RunStartedPayload{Phases: phases})
	if err != nil {
		return err
	}
	return p.Publish(ctx, event)
}

// PhaseCompleted publishes run.phase_completed.
func (p *Publisher) PhaseCompleted(ctx context.Context, runID uuid.UUID, userID string, payload domain.RunPhaseCompletedPayload) error {
	event, err := domain.NewRunEvent(domain.EventTypeRunPhaseCompleted, runID, userID, payload)
	if err != nil {
		return err
	}
	return p.Publish(ctx, event)
}

// RunFinished publishes run.completed or run.failed depending on payload.Status.
func (p *Publisher) RunFinished(ctx context.Context, runID uuid.UUID, userID string, payload domain.RunFinishedPayload) error {
	eventType := domain.EventTypeRunFailed
	if payload.Status == domain.RunStatusCompleted {
		eventType = domain.EventTypeRunCompleted
	}
	event, err := domain.NewRunEvent(eventType, runID, userID, payload)
	if err != nil {
		return err
	}
	return p.Publish(ctx, event)
}

// RequestRun queues a run for a worker. config is a JSON-encoded PipelineConfig.
func (p *Publisher) RequestRun(ctx context.Context, runID uuid.UUID, userID string, config json.RawMessage) error {
	event, err := domain.NewRunEvent(domain.EventTypeRunRequested, runID, userID,
		domain.RunRequestedPayload{Config: config})
	if err != nil {
		return err
	}
	return p.write(ctx, p.requestsTopic, event)
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	p.logger.Info().Msg("closing event publisher")
	return p.writer.Close()
}
