package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/bibliometric-pipeline/internal/config"
	"github.com/helixir/bibliometric-pipeline/internal/domain"
	"github.com/helixir/bibliometric-pipeline/internal/observability"
	"github.com/helixir/bibliometric-pipeline/internal/repository"
	"github.com/helixir/bibliometric-pipeline/internal/runner"
)

// newPhaseFactory builds the real phases. Tests replace it.
var newPhaseFactory = runner.NewPhaseFactoryBuilder

var (
	runConfig = config.DefaultPipelineConfig()
	runUser   string
	runQuiet  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the literature review pipeline",
	Long: `Run executes the pipeline phases in order: Search (with integration),
Domain Analysis, Classification, Analysis, Table Export and Report. The
--skip-* and --only-* flags select which phases run.

Every run is recorded in the local history database (sqlite.path).`,
	Args: cobra.NoArgs,
	RunE: runPipeline,
}

func init() {
	addPipelineFlags(runCmd, &runConfig)
	runCmd.Flags().StringVar(&runUser, "user", os.Getenv("USER"), "user recorded with the run")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "only print the final summary")
	rootCmd.AddCommand(runCmd)
}

// addPipelineFlags binds one flag per pipeline configuration field.
func addPipelineFlags(cmd *cobra.Command, cfg *config.PipelineConfig) {
	f := cmd.Flags()

	f.StringVar(&cfg.Domain1, "domain1", cfg.Domain1, "search terms for the first domain (CSV)")
	f.StringVar(&cfg.Domain2, "domain2", cfg.Domain2, "search terms for the second domain (CSV)")
	f.StringVar(&cfg.Domain3, "domain3", cfg.Domain3, "search terms for the optional third domain (CSV, empty to disable)")
	f.IntVar(&cfg.MaxResults, "max-results", cfg.MaxResults, "maximum results per search query")
	f.IntVar(&cfg.YearStart, "year-start", cfg.YearStart, "first publication year")
	f.IntVar(&cfg.YearEnd, "year-end", cfg.YearEnd, "last publication year (0 for open ended)")
	f.StringVar(&cfg.Email, "email", cfg.Email, "contact email sent to the paper sources")
	f.StringVar(&cfg.AnthropicAPIPath, "anthropic-api-path", cfg.AnthropicAPIPath, "file holding the Anthropic API key")
	f.StringVar(&cfg.ScienceDirectAPIPath, "sciencedirect-api-path", cfg.ScienceDirectAPIPath, "file holding the ScienceDirect API key")

	f.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "directory for intermediate results")
	f.StringVar(&cfg.FiguresDir, "figures-dir", cfg.FiguresDir, "directory for generated figures")
	f.StringVar(&cfg.ReportFile, "report-file", cfg.ReportFile, "markdown report path")
	f.BoolVar(&cfg.GeneratePDF, "generate-pdf", cfg.GeneratePDF, "convert the report to PDF with pandoc")
	f.StringVar(&cfg.PandocPath, "pandoc-path", cfg.PandocPath, "pandoc executable (default pipeline.pandoc_path)")
	f.StringVar(&cfg.TableFile, "table-file", cfg.TableFile, "article table path")
	f.StringVar(&cfg.TableFormat, "table-format", cfg.TableFormat, "article table format (csv or excel)")

	f.BoolVar(&cfg.SkipSearches, "skip-searches", false, "reuse existing search results")
	f.BoolVar(&cfg.SkipIntegration, "skip-integration", false, "skip result integration")
	f.BoolVar(&cfg.SkipDomainAnalysis, "skip-domain-analysis", false, "skip domain analysis")
	f.BoolVar(&cfg.SkipClassification, "skip-classification", false, "skip article classification")
	f.BoolVar(&cfg.SkipTable, "skip-table", false, "skip the article table")
	f.BoolVar(&cfg.OnlySearch, "only-search", false, "run only the search phase")
	f.BoolVar(&cfg.OnlyAnalysis, "only-analysis", false, "run only the analysis phases")
	f.BoolVar(&cfg.OnlyReport, "only-report", false, "run only the report phase")
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	svc, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := cliLogger(svc)

	repo, closeRepo, err := openHistory(svc)
	if err != nil {
		return err
	}
	defer closeRepo()

	out := cmd.OutOrStdout()
	opts := runner.Options{
		Repo:       repo,
		Factory:    newPhaseFactory(svc, nil, nil),
		LogsDir:    svc.Pipeline.LogsDir,
		PandocPath: svc.Pipeline.PandocPath,
		Logger:     logger,
	}
	if !runQuiet {
		opts.Observer = func(e runner.ProgressEvent) {
			fmt.Fprintln(out, formatProgress(e))
		}
	}
	manager, err := runner.NewManager(opts)
	if err != nil {
		return fmt.Errorf("create run manager: %w", err)
	}
	defer func() {
		if err := manager.Shutdown(cmd.Context()); err != nil {
			logger.Warn().Err(err).Msg("run still active at exit")
		}
	}()

	cmd.Println(styles.Title.Render("Bibliometric analysis pipeline"))
	summary := runConfig.Summary()
	cmd.Println(styles.Muted.Render(fmt.Sprintf("domains %v, years %s, max %d results per query",
		summary.SearchSettings.Domains, summary.SearchSettings.YearRange, summary.SearchSettings.MaxResults)))

	run, err := manager.RunSync(cmd.Context(), runUser, runConfig)
	if err != nil {
		return fmt.Errorf("run pipeline: %w", err)
	}

	printRunSummary(cmd, run)
	if !run.Success {
		return fmt.Errorf("pipeline failed: %s", run.ErrorMessage)
	}
	return nil
}

func printRunSummary(cmd *cobra.Command, run *domain.PipelineRun) {
	cmd.Println()
	cmd.Printf("%s %s\n", styles.Label.Render("Run"), run.ID)
	cmd.Printf("%s %s\n", styles.Label.Render("Status"), renderStatus(run.Status))
	cmd.Printf("%s %s\n", styles.Label.Render("Duration"), formatDuration(run.Duration()))
	for _, p := range run.Phases {
		mark := styles.Success.Render("✓")
		if !p.Success {
			mark = styles.Error.Render("✗")
		}
		line := fmt.Sprintf("  %s %-10s %s", mark, styles.Muted.Render(formatDuration(p.Duration)), p.Name)
		if p.Error != "" {
			line += " " + styles.Error.Render(p.Error)
		}
		cmd.Println(line)
	}
}

// openHistory opens the SQLite run history, or an in-memory one when no
// path is configured.
func openHistory(svc *config.Config) (repository.RunRepository, func(), error) {
	if svc.SQLite.Path == "" {
		return repository.NewMemoryRunRepository(), func() {}, nil
	}
	repo, err := repository.OpenSQLite(svc.SQLite.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open run history: %w", err)
	}
	return repo, func() { _ = repo.Close() }, nil
}

// cliLogger keeps stdout for progress output.
func cliLogger(svc *config.Config) zerolog.Logger {
	return observability.NewLogger(observability.LoggingConfig{
		Level:      svc.Logging.Level,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: svc.Logging.TimeFormat,
	}).With().Str("component", "cli").Logger()
}
