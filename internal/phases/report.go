package phases

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/bibliometric-pipeline/internal/config"
)

// CommandRunner runs an external program and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements CommandRunner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
	"cell": func(s string) string {
		return strings.ReplaceAll(strings.ReplaceAll(s, "|", `\|`), "\n", " ")
	},
}).Parse(`# Bibliometric Analysis Report

Generated: {{.GeneratedAt.Format "2006-01-02 15:04 MST"}}

## Overview

- Articles analyzed: {{.Results.TotalArticles}}
- Publication window: {{.Results.YearRange}}
- Article set: {{.Results.InputArtifact}}
{{- if .Results.DomainCounts}}

## Domains

| Domain | Articles |
|---|---|
{{- range .Results.DomainCounts}}
| {{.Label}} | {{.Count}} |
{{- end}}
{{- end}}
{{- if .Results.DomainCooccurrence}}

### Co-occurrence

| Domains | Articles |
|---|---|
{{- range .Results.DomainCooccurrence}}
| {{.Label}} | {{.Count}} |
{{- end}}
{{- end}}
{{- if .Results.PublicationsPerYear}}

## Publications per year

| Year | Articles |
|---|---|
{{- range .Results.PublicationsPerYear}}
| {{.Year}} | {{.Count}} |
{{- end}}
{{- end}}
{{- if .Results.Models}}

## Models

| Model | Articles |
|---|---|
{{- range .Results.Models}}
| {{cell .Label}} | {{.Count}} |
{{- end}}
{{- end}}
{{- if .Results.Applications}}

## Applications

| Application | Articles |
|---|---|
{{- range .Results.Applications}}
| {{cell .Label}} | {{.Count}} |
{{- end}}
{{- end}}
{{- if .Results.TopVenues}}

## Top venues

| Venue | Articles |
|---|---|
{{- range .Results.TopVenues}}
| {{cell .Label}} | {{.Count}} |
{{- end}}
{{- end}}
{{- if .Results.TopAuthors}}

## Top authors

| Author | Articles |
|---|---|
{{- range .Results.TopAuthors}}
| {{cell .Label}} | {{.Count}} |
{{- end}}
{{- end}}
{{- if .Results.MostCited}}

## Most cited

| # | Title | Year | Citations |
|---|---|---|---|
{{- range $i, $a := .Results.MostCited}}
| {{inc $i}} | {{cell $a.Title}} | {{$a.Year}} | {{$a.Citations}} |
{{- end}}
{{- end}}
{{- if .Figures}}

## Figures
{{range .Figures}}
![{{.Title}}]({{.Path}})
{{end}}
{{- end}}
`))

type reportFigure struct {
	Title string
	Path  string
}

type reportData struct {
	GeneratedAt time.Time
	Results     AnalysisResults
	Figures     []reportFigure
}

// RenderReport renders the Markdown report. Figure links are made relative
// to reportDir.
func RenderReport(results AnalysisResults, figuresDir, reportDir string, now time.Time) ([]byte, error) {
	data := reportData{GeneratedAt: now, Results: results}
	for _, f := range results.Figures {
		path := filepath.Join(figuresDir, f.File)
		if rel, err := filepath.Rel(reportDir, path); err == nil {
			path = rel
		}
		data.Figures = append(data.Figures, reportFigure{Title: f.Title, Path: filepath.ToSlash(path)})
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("rendering report: %w", err)
	}
	return buf.Bytes(), nil
}

// PDFPath returns the PDF written next to the Markdown report.
func PDFPath(reportFile string) string {
	return strings.TrimSuffix(reportFile, filepath.Ext(reportFile)) + ".pdf"
}

// ReportPhase renders the Markdown report and optionally converts it to PDF.
type ReportPhase struct {
	cfg    *config.PipelineConfig
	ws     *Workspace
	runner CommandRunner
	logger zerolog.Logger
	now    func() time.Time
}

// Description implements pipeline.Phase.
func (p *ReportPhase) Description() string {
	return "Generate the analysis report"
}

// Run implements pipeline.Phase.
func (p *ReportPhase) Run(ctx context.Context) (bool, error) {
	var results AnalysisResults
	if err := p.ws.ReadJSON(AnalysisFile, &results); err != nil {
		p.logger.Error().Err(err).Msg("analysis results unavailable")
		return false, nil
	}

	reportDir := filepath.Dir(p.cfg.ReportFile)
	content, err := RenderReport(results, p.cfg.FiguresDir, reportDir, p.now())
	if err != nil {
		return false, err
	}
	if err := writeFileAtomic(p.cfg.ReportFile, content); err != nil {
		return false, err
	}
	p.logger.Info().Str("file", p.cfg.ReportFile).Msg("report written")

	if !p.cfg.GeneratePDF {
		return true, nil
	}

	pandoc := p.cfg.PandocPath
	if pandoc == "" {
		pandoc = "pandoc"
	}
	pdf := PDFPath(p.cfg.ReportFile)
	out, err := p.runner.Run(ctx, pandoc, p.cfg.ReportFile, "-o", pdf, "--resource-path", reportDir)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		p.logger.Error().
			Err(err).
			Str("pandoc", pandoc).
			Str("output", strings.TrimSpace(string(out))).
			Msg("PDF conversion failed")
		return false, nil
	}
	if _, err := os.Stat(pdf); err != nil {
		p.logger.Error().Err(err).Str("file", pdf).Msg("pandoc produced no PDF")
		return false, nil
	}

	p.logger.Info().Str("file", pdf).Msg("PDF report written")
	return true, nil
}
