package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/bibliometric-pipeline/internal/config"
	"github.com/helixir/bibliometric-pipeline/internal/domain"
	"github.com/helixir/bibliometric-pipeline/internal/events"
)

// queuedRunner executes a run under an ID assigned by whoever queued it.
// *runner.Manager satisfies it.
type queuedRunner interface {
	RunQueued(ctx context.Context, runID uuid.UUID, userID string, cfg config.PipelineConfig) (*domain.PipelineRun, error)
}

// newRequestHandler decodes queued configurations on top of the command
// line defaults and executes them. Redelivered requests are skipped.
func newRequestHandler(runs queuedRunner, logger zerolog.Logger) events.Handler {
	return func(ctx context.Context, req events.RunRequest) error {
		cfg := config.DefaultPipelineConfig()
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			return domain.NewValidationError("config", fmt.Sprintf("decoding queued configuration: %v", err))
		}

		run, err := runs.RunQueued(ctx, req.Event.RunID, req.Event.UserID, cfg)
		if errors.Is(err, domain.ErrAlreadyExists) {
			logger.Info().Str("run_id", req.Event.RunID.String()).Msg("run already recorded, skipping redelivered request")
			return nil
		}
		if err != nil {
			return fmt.Errorf("run %s: %w", req.Event.RunID, err)
		}

		logger.Info().
			Str("run_id", run.ID.String()).
			Str("status", string(run.Status)).
			Dur("duration", run.Duration()).
			Msg("queued run finished")
		return nil
	}
}
