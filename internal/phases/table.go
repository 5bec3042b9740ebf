package phases

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/helixir/bibliometric-pipeline/internal/config"
	"github.com/helixir/bibliometric-pipeline/internal/domain"
	"github.com/helixir/bibliometric-pipeline/internal/textnorm"
)

const tableSheet = "Articles"

// TableColumns are the column headers of the article table.
var TableColumns = []string{
	"Title", "Authors", "Year", "Venue", "DOI", "Domains",
	"Model", "Application", "Data Type", "Citations", "URL",
}

// TableRow returns the table cells for an article in TableColumns order.
func TableRow(a *domain.Article) []string {
	domains := make([]string, 0, len(a.Domains))
	for _, d := range a.Domains {
		domains = append(domains, strconv.Itoa(d))
	}
	year := ""
	if a.PublicationYear > 0 {
		year = strconv.Itoa(a.PublicationYear)
	}
	model := a.Model
	if model == "" {
		model = textnorm.NotMentioned
	}
	return []string{
		a.Title,
		a.AuthorNames(),
		year,
		a.Venue,
		a.Identifiers.DOI,
		strings.Join(domains, ", "),
		model,
		answerOrDefault(a.Classification, "application"),
		answerOrDefault(a.Classification, "data_type"),
		strconv.Itoa(a.CitationCount),
		a.URL,
	}
}

func answerOrDefault(answers map[string]string, field string) string {
	if v := strings.TrimSpace(answers[field]); v != "" {
		return v
	}
	return textnorm.NotMentioned
}

// TablePath returns the file the table is written to. Excel output replaces
// a .csv extension with .xlsx.
func TablePath(cfg *config.PipelineConfig) string {
	if cfg.TableFormat != config.TableFormatExcel {
		return cfg.TableFile
	}
	ext := filepath.Ext(cfg.TableFile)
	if strings.EqualFold(ext, ".xlsx") {
		return cfg.TableFile
	}
	return strings.TrimSuffix(cfg.TableFile, ext) + ".xlsx"
}

// TableExportPhase writes the article table as CSV or Excel.
type TableExportPhase struct {
	cfg    *config.PipelineConfig
	ws     *Workspace
	logger zerolog.Logger
}

// Description implements pipeline.Phase.
func (p *TableExportPhase) Description() string {
	return "Export the article table"
}

// Run implements pipeline.Phase.
func (p *TableExportPhase) Run(ctx context.Context) (bool, error) {
	articles, source, err := loadArticles(p.ws)
	if err != nil {
		p.logger.Error().Err(err).Msg("no article set to export")
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	path := TablePath(p.cfg)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, fmt.Errorf("creating table directory: %w", err)
		}
	}

	if p.cfg.TableFormat == config.TableFormatExcel {
		err = WriteExcel(path, articles)
	} else {
		err = WriteCSV(path, articles)
	}
	if err != nil {
		return false, err
	}

	p.logger.Info().
		Str("input", source).
		Str("file", path).
		Str("format", p.cfg.TableFormat).
		Int("rows", len(articles)).
		Msg("article table exported")
	return true, nil
}

// WriteCSV writes the article table to path as CSV.
func WriteCSV(path string, articles []domain.Article) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(TableColumns); err != nil {
		f.Close()
		return fmt.Errorf("writing header: %w", err)
	}
	for i := range articles {
		if err := w.Write(TableRow(&articles[i])); err != nil {
			f.Close()
			return fmt.Errorf("writing row %d: %w", i+1, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flushing %s: %w", path, err)
	}
	return f.Close()
}

// WriteExcel writes the article table to path as an Excel workbook with a
// bold, frozen header row.
func WriteExcel(path string, articles []domain.Article) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), tableSheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	sw, err := f.NewStreamWriter(tableSheet)
	if err != nil {
		return fmt.Errorf("opening stream writer: %w", err)
	}

	if err := sw.SetPanes(&excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freezing header: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}

	header := make([]interface{}, len(TableColumns))
	for i, c := range TableColumns {
		header[i] = excelize.Cell{StyleID: headerStyle, Value: c}
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i := range articles {
		a := &articles[i]
		row := TableRow(a)
		cells := make([]interface{}, len(row))
		for j, v := range row {
			cells[j] = v
		}
		// Year and citations as numbers.
		if a.PublicationYear > 0 {
			cells[2] = a.PublicationYear
		}
		cells[9] = a.CitationCount

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, cells); err != nil {
			return fmt.Errorf("writing row %d: %w", i+1, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flushing sheet: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving %s: %w", path, err)
	}
	return nil
}
