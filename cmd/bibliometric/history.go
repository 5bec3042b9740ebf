package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/helixir/bibliometric-pipeline/internal/config"
	"github.com/helixir/bibliometric-pipeline/internal/domain"
)

var (
	historyLimit  int
	historyStatus string
	historyUser   string
	historyJSON   bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded pipeline runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if svc.SQLite.Path == "" {
			return fmt.Errorf("run history is disabled (sqlite.path is empty)")
		}

		filter := domain.RunFilter{UserID: historyUser, Limit: historyLimit}
		if historyStatus != "" {
			for _, s := range strings.Split(historyStatus, ",") {
				status := domain.RunStatus(strings.TrimSpace(s))
				if !status.IsValid() {
					return fmt.Errorf("unknown status %q", s)
				}
				filter.Status = append(filter.Status, status)
			}
		}

		repo, closeRepo, err := openHistory(svc)
		if err != nil {
			return err
		}
		defer closeRepo()

		runs, total, err := repo.List(cmd.Context(), filter)
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}

		if historyJSON {
			return outputHistoryJSON(cmd, runs, total)
		}
		outputHistoryTable(cmd, runs, total)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum number of runs")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "comma separated statuses to include")
	historyCmd.Flags().StringVar(&historyUser, "user", "", "only runs recorded for this user")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(historyCmd)
}

func outputHistoryJSON(cmd *cobra.Command, runs []*domain.PipelineRun, total int64) error {
	payload := struct {
		Runs  []*domain.PipelineRun `json:"runs"`
		Total int64                 `json:"total"`
	}{Runs: runs, Total: total}
	if payload.Runs == nil {
		payload.Runs = []*domain.PipelineRun{}
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode runs: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func outputHistoryTable(cmd *cobra.Command, runs []*domain.PipelineRun, total int64) {
	if len(runs) == 0 {
		cmd.Println(styles.Muted.Render("No runs recorded."))
		return
	}
	cmd.Println(styles.Title.Render(fmt.Sprintf("Runs (%d of %d)", len(runs), total)))
	for _, r := range runs {
		cmd.Printf("%s  %s  %-10s  %-12s  %d phases\n",
			r.ID,
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			renderStatus(r.Status),
			formatDuration(r.Duration()),
			len(r.Phases),
		)
		if r.ErrorMessage != "" {
			cmd.Println("    " + styles.Error.Render(r.ErrorMessage))
		}
	}
}
