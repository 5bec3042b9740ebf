package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/helixir/bibliometric-pipeline/internal/config"
	"github.com/helixir/bibliometric-pipeline/internal/domain"
	"github.com/helixir/bibliometric-pipeline/internal/llm"
	"github.com/helixir/bibliometric-pipeline/internal/observability"
	"github.com/helixir/bibliometric-pipeline/internal/papersources"
	"github.com/helixir/bibliometric-pipeline/internal/papersources/openalex"
	"github.com/helixir/bibliometric-pipeline/internal/papersources/scopus"
	"github.com/helixir/bibliometric-pipeline/internal/phases"
	"github.com/helixir/bibliometric-pipeline/internal/pipeline"
	"github.com/helixir/bibliometric-pipeline/internal/storage"
)

// PhaseFactoryBuilder creates the phase factory for one run.
type PhaseFactoryBuilder func(ctx context.Context, userID string, cfg *config.PipelineConfig, ws *phases.Workspace, logger zerolog.Logger) (pipeline.PhaseFactory, error)

// KeySource holds API keys managed at runtime and records which external
// services a user's runs call. *storage.Service satisfies it.
type KeySource interface {
	APIKey(ctx context.Context, service string) (string, error)
	LogServiceUsage(ctx context.Context, userID, service string) error
}

var _ KeySource = (*storage.Service)(nil)

// NewPhaseFactoryBuilder wires the paper sources, the LLM classifier and
// pandoc from the service configuration into the real phases. Keys come
// from the run's key files, then the service configuration, then keys when
// it is not nil.
func NewPhaseFactoryBuilder(svc *config.Config, metrics *observability.Metrics, keys KeySource) PhaseFactoryBuilder {
	return func(ctx context.Context, userID string, cfg *config.PipelineConfig, ws *phases.Workspace, logger zerolog.Logger) (pipeline.PhaseFactory, error) {
		deps := phases.Deps{
			Config:    cfg,
			Workspace: ws,
			Logger:    logger,
			Metrics:   metrics,
		}
		r := keyResolver{keys: keys, logger: logger}

		var used []string
		kinds := pipeline.SelectKinds(cfg)
		if containsKind(kinds, pipeline.PhaseSearch) && !cfg.SkipSearches {
			registry, err := newRegistry(ctx, svc, cfg, metrics, r)
			if err != nil {
				return nil, err
			}
			deps.Searcher = registry
			for _, src := range registry.Sources() {
				used = append(used, serviceName(src.SourceType()))
			}
		}
		if containsKind(kinds, pipeline.PhaseClassification) {
			classifier, err := newClassifier(ctx, svc, cfg, metrics, r, logger)
			if err != nil {
				return nil, err
			}
			deps.Classifier = classifier
			used = append(used, strings.ToLower(svc.LLM.Provider))
		}

		if keys != nil && userID != "" {
			for _, service := range used {
				if err := keys.LogServiceUsage(ctx, userID, service); err != nil {
					logger.Warn().Err(err).Str("service", service).Msg("failed to log service usage")
				}
			}
		}
		return phases.NewFactory(deps), nil
	}
}

// serviceName maps a paper source to the name its key and usage are kept
// under.
func serviceName(t domain.SourceType) string {
	if t == domain.SourceTypeScopus {
		return domain.ServiceScienceDirect
	}
	return string(t)
}

type keyResolver struct {
	keys   KeySource
	logger zerolog.Logger
}

// resolve returns the key from path, else configured, else the stored key
// for service.
func (r keyResolver) resolve(ctx context.Context, service, path, configured string) (string, error) {
	if path != "" {
		key, err := llm.ReadKeyFile(path)
		if err != nil {
			return "", fmt.Errorf("%s key: %w", service, err)
		}
		return key, nil
	}
	if configured != "" || r.keys == nil {
		return configured, nil
	}
	key, err := r.keys.APIKey(ctx, service)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("%s key: %w", service, err)
	}
	r.logger.Debug().Str("service", service).Msg("using stored API key")
	return key, nil
}

func newRegistry(ctx context.Context, svc *config.Config, cfg *config.PipelineConfig, metrics *observability.Metrics, r keyResolver) (*papersources.Registry, error) {
	oa := svc.PaperSources.OpenAlex
	sources := []papersources.PaperSource{openalex.New(openalex.Config{
		BaseURL:   oa.BaseURL,
		Email:     cfg.Email,
		Timeout:   oa.Timeout,
		RateLimit: oa.RateLimit,
		PageSize:  oa.MaxResults,
		Enabled:   oa.Enabled,
		Observer:  metrics,
	})}

	sc := svc.PaperSources.Scopus
	apiKey := ""
	if sc.Enabled {
		key, err := r.resolve(ctx, domain.ServiceScienceDirect, cfg.ScienceDirectAPIPath, sc.APIKey)
		if err != nil {
			return nil, err
		}
		apiKey = key
	}
	sources = append(sources, scopus.New(scopus.Config{
		BaseURL:   sc.BaseURL,
		APIKey:    apiKey,
		Timeout:   sc.Timeout,
		RateLimit: sc.RateLimit,
		PageSize:  sc.MaxResults,
		Enabled:   sc.Enabled && apiKey != "",
		Observer:  metrics,
	}))

	registry := papersources.NewRegistry(sources)
	if registry.Len() == 0 {
		return nil, fmt.Errorf("no paper source is enabled")
	}
	return registry, nil
}

func newClassifier(ctx context.Context, svc *config.Config, cfg *config.PipelineConfig, metrics *observability.Metrics, r keyResolver, logger zerolog.Logger) (*llm.Classifier, error) {
	l := svc.LLM
	anthropicKey := l.Anthropic.APIKey
	if strings.ToLower(l.Provider) == domain.ServiceAnthropic {
		key, err := r.resolve(ctx, domain.ServiceAnthropic, cfg.AnthropicAPIPath, l.Anthropic.APIKey)
		if err != nil {
			return nil, err
		}
		anthropicKey = key
	}

	completer, err := llm.NewCompleter(llm.FactoryConfig{
		Provider:    l.Provider,
		Temperature: l.Temperature,
		MaxTokens:   l.MaxTokens,
		Timeout:     l.Timeout,
		MaxRetries:  l.MaxRetries,
		RetryDelay:  l.RetryDelay,
		LMStudio:    llm.OpenAIConfig{APIKey: l.LMStudio.APIKey, Model: l.LMStudio.Model, BaseURL: l.LMStudio.BaseURL},
		OpenAI:      llm.OpenAIConfig{APIKey: l.OpenAI.APIKey, Model: l.OpenAI.Model, BaseURL: l.OpenAI.BaseURL},
		Anthropic:   llm.AnthropicConfig{APIKey: anthropicKey, Model: l.Anthropic.Model, BaseURL: l.Anthropic.BaseURL},
		Observer:    metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("creating LLM client: %w", err)
	}
	return llm.NewClassifier(completer, llm.DefaultQuestions(), logger), nil
}

func containsKind(kinds []pipeline.PhaseKind, k pipeline.PhaseKind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}
