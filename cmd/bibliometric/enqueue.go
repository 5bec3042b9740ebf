package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/bibliometric-pipeline/internal/config"
	"github.com/helixir/bibliometric-pipeline/internal/events"
)

// runRequester queues runs for the worker.
type runRequester interface {
	RequestRun(ctx context.Context, runID uuid.UUID, userID string, config json.RawMessage) error
	Close() error
}

var _ runRequester = (*events.Publisher)(nil)

var newRunRequester = func(cfg events.Config, logger zerolog.Logger) (runRequester, error) {
	return events.NewPublisher(cfg, logger)
}

var (
	enqueueConfig = config.DefaultPipelineConfig()
	enqueueUser   string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue a pipeline run for the worker",
	Long: `Enqueue publishes a run request to the Kafka requests topic. A worker
picks it up and executes it with its own paper sources and history store.
Input and output paths are resolved on the worker.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if !svc.Kafka.Enabled {
			return fmt.Errorf("kafka is disabled (set %s_KAFKA_ENABLED=true)", config.EnvPrefix)
		}

		payload, err := json.Marshal(enqueueConfig)
		if err != nil {
			return fmt.Errorf("encode config: %w", err)
		}

		requester, err := newRunRequester(events.Config{
			Brokers:       svc.Kafka.Brokers,
			EventsTopic:   svc.Kafka.EventsTopic,
			RequestsTopic: svc.Kafka.RequestsTopic,
			GroupID:       svc.Kafka.GroupID,
			BatchTimeout:  svc.Kafka.BatchTimeout,
		}, cliLogger(svc))
		if err != nil {
			return fmt.Errorf("create publisher: %w", err)
		}
		defer requester.Close()

		runID := uuid.New()
		if err := requester.RequestRun(cmd.Context(), runID, enqueueUser, payload); err != nil {
			return fmt.Errorf("queue run: %w", err)
		}
		cmd.Printf("%s %s\n", styles.Success.Render("queued run"), runID)
		return nil
	},
}

func init() {
	addPipelineFlags(enqueueCmd, &enqueueConfig)
	enqueueCmd.Flags().StringVar(&enqueueUser, "user", "", "user the run is recorded for")
	rootCmd.AddCommand(enqueueCmd)
}
