package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/bibliometric-pipeline/internal/domain"
)

// RunRequest is a queued run decoded from a run.requested event.
type RunRequest struct {
	Event  *domain.RunEvent
	Config json.RawMessage
}

// Handler executes one queued run request.
type Handler func(ctx context.Context, req RunRequest) error

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Listener consumes run.requested events and hands them to a Handler.
// Messages are committed when read, so a failing handler does not block
// the partition.
type Listener struct {
	reader  messageReader
	handler Handler
	logger  zerolog.Logger
}

// NewListener creates a listener on the requests topic.
func NewListener(cfg Config, handler Handler, logger zerolog.Logger) (*Listener, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	if cfg.RequestsTopic == "" {
		return nil, fmt.Errorf("requests topic is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.RequestsTopic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  3 * time.Second,
	})
	return newListener(reader, handler, logger), nil
}

func newListener(r messageReader, handler Handler, logger zerolog.Logger) *Listener {
	return &Listener{
		reader:  r,
		handler: handler,
		logger:  logger.With().Str("component", "run_listener").Logger(),
	}
}

// Run starts the listener loop. Blocks until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info().Msg("starting run listener")

	for {
		msg, err := l.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info().Msg("run listener stopped via context cancellation")
				return ctx.Err()
			}
			l.logger.Error().Err(err).Msg("failed to read message from Kafka")
			continue
		}

		l.logger.Debug().
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("received run request")

		req, err := decodeRequest(msg.Value)
		if err != nil {
			l.logger.Error().Err(err).
				Str("raw_value", string(msg.Value)).
				Msg("failed to decode run request")
			continue
		}

		if err := l.handler(ctx, req); err != nil {
			l.logger.Error().Err(err).
				Str("run_id", req.Event.RunID.String()).
				Msg("failed to handle run request")
		}
	}
}

func decodeRequest(value []byte) (RunRequest, error) {
	var event domain.RunEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return RunRequest{}, fmt.Errorf("unmarshal event: %w", err)
	}
	if event.EventType != domain.EventTypeRunRequested {
		return RunRequest{}, fmt.Errorf("unexpected event type %q", event.EventType)
	}

	var payload domain.RunRequestedPayload
	if err := event.DecodePayload(&payload); err != nil {
		return RunRequest{}, fmt.Errorf("decode payload: %w", err)
	}
	if len(payload.Config) == 0 || string(payload.Config) == "null" {
		return RunRequest{}, domain.NewValidationError("config", "run request has no config")
	}
	return RunRequest{Event: &event, Config: payload.Config}, nil
}

// Close closes the Kafka reader.
func (l *Listener) Close() error {
	l.logger.Info().Msg("closing run listener")
	return l.reader.Close()
}
