package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/helixir/bibliometric-pipeline/internal/domain"
)

// Table formats accepted by the table export phase.
const (
	TableFormatCSV   = "csv"
	TableFormatExcel = "excel"
)

// PipelineConfig describes a single pipeline run: search inputs, output
// targets and the flow-control flags that select phases. It is built once
// per run (from CLI flags, a web form or a queued request) and not modified
// afterwards.
type PipelineConfig struct {
	// Search settings.
	Domain1              string `json:"domain1" mapstructure:"domain1" validate:"required"`
	Domain2              string `json:"domain2" mapstructure:"domain2" validate:"required"`
	Domain3              string `json:"domain3,omitempty" mapstructure:"domain3"`
	MaxResults           int    `json:"max_results" mapstructure:"max_results" validate:"gte=1,lte=10000"`
	YearStart            int    `json:"year_start" mapstructure:"year_start" validate:"gte=1900,lte=2100"`
	YearEnd              int    `json:"year_end,omitempty" mapstructure:"year_end" validate:"omitempty,gtefield=YearStart,lte=2100"`
	Email                string `json:"email,omitempty" mapstructure:"email" validate:"omitempty,email"`
	AnthropicAPIPath     string `json:"anthropic_api_path,omitempty" mapstructure:"anthropic_api_path"`
	ScienceDirectAPIPath string `json:"sciencedirect_api_path,omitempty" mapstructure:"sciencedirect_api_path"`

	// Output settings.
	OutputDir   string `json:"output_dir" mapstructure:"output_dir"`
	FiguresDir  string `json:"figures_dir" mapstructure:"figures_dir" validate:"required"`
	ReportFile  string `json:"report_file" mapstructure:"report_file" validate:"required"`
	GeneratePDF bool   `json:"generate_pdf" mapstructure:"generate_pdf"`
	PandocPath  string `json:"pandoc_path,omitempty" mapstructure:"pandoc_path"` // empty uses the service setting
	TableFile   string `json:"table_file" mapstructure:"table_file" validate:"required"`
	TableFormat string `json:"table_format" mapstructure:"table_format" validate:"oneof=csv excel"`

	// Flow control.
	SkipSearches       bool `json:"skip_searches" mapstructure:"skip_searches"`
	SkipIntegration    bool `json:"skip_integration" mapstructure:"skip_integration"`
	SkipDomainAnalysis bool `json:"skip_domain_analysis" mapstructure:"skip_domain_analysis"`
	SkipClassification bool `json:"skip_classification" mapstructure:"skip_classification"`
	SkipTable          bool `json:"skip_table" mapstructure:"skip_table"`
	OnlySearch         bool `json:"only_search" mapstructure:"only_search"`
	OnlyAnalysis       bool `json:"only_analysis" mapstructure:"only_analysis"`
	OnlyReport         bool `json:"only_report" mapstructure:"only_report"`
}

// DefaultPipelineConfig returns the defaults used by the command line.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Domain1:     "Domain1.csv",
		Domain2:     "Domain2.csv",
		Domain3:     "Domain3.csv",
		MaxResults:  50,
		YearStart:   2008,
		OutputDir:   "outputs",
		FiguresDir:  "figures",
		ReportFile:  "report.md",
		TableFile:   "articles_table.csv",
		TableFormat: TableFormatCSV,
	}
}

// DefaultFormConfig returns the defaults used for web submissions.
func DefaultFormConfig() PipelineConfig {
	cfg := DefaultPipelineConfig()
	cfg.MaxResults = 100
	return cfg
}

// PipelineConfigFromForm builds a configuration from submitted form fields.
// Unknown fields are ignored and absent fields keep the web defaults.
// Checkbox fields accept "on", "true", "1" and "yes".
func PipelineConfigFromForm(form url.Values) (PipelineConfig, error) {
	cfg := DefaultFormConfig()

	strFields := map[string]*string{
		"domain1":                &cfg.Domain1,
		"domain2":                &cfg.Domain2,
		"domain3":                &cfg.Domain3,
		"email":                  &cfg.Email,
		"anthropic_api_path":     &cfg.AnthropicAPIPath,
		"sciencedirect_api_path": &cfg.ScienceDirectAPIPath,
		"output_dir":             &cfg.OutputDir,
		"figures_dir":            &cfg.FiguresDir,
		"report_file":            &cfg.ReportFile,
		"pandoc_path":            &cfg.PandocPath,
		"table_file":             &cfg.TableFile,
		"table_format":           &cfg.TableFormat,
	}
	for name, dst := range strFields {
		if form.Has(name) {
			*dst = strings.TrimSpace(form.Get(name))
		}
	}

	intFields := map[string]*int{
		"max_results": &cfg.MaxResults,
		"year_start":  &cfg.YearStart,
		"year_end":    &cfg.YearEnd,
	}
	for name, dst := range intFields {
		raw := strings.TrimSpace(form.Get(name))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return PipelineConfig{}, domain.NewValidationError(name, "must be an integer")
		}
		*dst = n
	}

	boolFields := map[string]*bool{
		"generate_pdf":         &cfg.GeneratePDF,
		"skip_searches":        &cfg.SkipSearches,
		"skip_integration":     &cfg.SkipIntegration,
		"skip_domain_analysis": &cfg.SkipDomainAnalysis,
		"skip_classification":  &cfg.SkipClassification,
		"skip_table":           &cfg.SkipTable,
		"only_search":          &cfg.OnlySearch,
		"only_analysis":        &cfg.OnlyAnalysis,
		"only_report":          &cfg.OnlyReport,
	}
	for name, dst := range boolFields {
		if form.Has(name) {
			*dst = parseFormBool(form.Get(name))
		}
	}

	cfg.TableFormat = strings.ToLower(cfg.TableFormat)
	return cfg, nil
}

func parseFormBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "true", "1", "yes":
		return true
	default:
		return false
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks the configuration before any phase runs. It fails closed:
// a missing required field or a missing domain1/domain2 file invalidates the
// whole run. The returned error is a *domain.ValidationError.
func (c *PipelineConfig) Validate() error {
	if c == nil {
		return domain.NewValidationError("config", "no configuration provided")
	}

	if err := structValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return domain.NewValidationError(fe.Field(), describeTag(fe))
		}
		return domain.NewValidationError("config", err.Error())
	}

	for _, f := range []struct {
		field string
		path  string
	}{
		{"domain1", c.Domain1},
		{"domain2", c.Domain2},
	} {
		if _, err := os.Stat(f.path); err != nil {
			return domain.NewValidationError(f.field, fmt.Sprintf("file not found: %s", f.path))
		}
	}

	return nil
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "missing required config field"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "gte", "gtefield":
		return fmt.Sprintf("must be >= %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be <= %s", fe.Param())
	case "email":
		return "must be a valid email address"
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

// DomainFiles returns the configured domain files in order. Domain 3 is
// included only when set.
func (c *PipelineConfig) DomainFiles() []string {
	files := []string{c.Domain1, c.Domain2}
	if c.Domain3 != "" {
		files = append(files, c.Domain3)
	}
	return files
}

// YearRange formats the search window as "start-end" or "start-present".
func (c *PipelineConfig) YearRange() string {
	if c.YearEnd == 0 {
		return fmt.Sprintf("%d-present", c.YearStart)
	}
	return fmt.Sprintf("%d-%d", c.YearStart, c.YearEnd)
}

// ConfigSummary is the configuration snapshot recorded with each run.
type ConfigSummary struct {
	SearchSettings SearchSettings  `json:"search_settings"`
	OutputSettings OutputSettings  `json:"output_settings"`
	FlowControl    map[string]bool `json:"flow_control"`
}

// SearchSettings is the search part of a ConfigSummary.
type SearchSettings struct {
	MaxResults int      `json:"max_results"`
	YearRange  string   `json:"year_range"`
	Domains    []string `json:"domains"`
}

// OutputSettings is the output part of a ConfigSummary.
type OutputSettings struct {
	FiguresDir  string `json:"figures_dir"`
	ReportFile  string `json:"report_file"`
	TableFile   string `json:"table_file"`
	TableFormat string `json:"table_format"`
	GeneratePDF bool   `json:"generate_pdf"`
}

// Summary returns the configuration snapshot used in logs and summaries.
func (c *PipelineConfig) Summary() ConfigSummary {
	return ConfigSummary{
		SearchSettings: SearchSettings{
			MaxResults: c.MaxResults,
			YearRange:  c.YearRange(),
			Domains:    c.DomainFiles(),
		},
		OutputSettings: OutputSettings{
			FiguresDir:  c.FiguresDir,
			ReportFile:  c.ReportFile,
			TableFile:   c.TableFile,
			TableFormat: c.TableFormat,
			GeneratePDF: c.GeneratePDF,
		},
		FlowControl: map[string]bool{
			"skip_searches":        c.SkipSearches,
			"skip_integration":     c.SkipIntegration,
			"skip_domain_analysis": c.SkipDomainAnalysis,
			"skip_classification":  c.SkipClassification,
			"skip_table":           c.SkipTable,
			"only_search":          c.OnlySearch,
			"only_analysis":        c.OnlyAnalysis,
			"only_report":          c.OnlyReport,
		},
	}
}
