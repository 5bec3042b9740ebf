package phases

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/bibliometric-pipeline/internal/domain"
	"github.com/helixir/bibliometric-pipeline/internal/llm"
	"github.com/helixir/bibliometric-pipeline/internal/textnorm"
)

// ArticleClassifier answers the classification questions for a title.
type ArticleClassifier interface {
	Classify(ctx context.Context, title string) (map[string]string, error)
	Questions() []llm.Question
}

var _ ArticleClassifier = (*llm.Classifier)(nil)

// ClassificationPhase asks the LLM about every article kept by domain
// analysis. A failed article keeps the question defaults and an error field;
// the phase fails only when every article fails.
type ClassificationPhase struct {
	ws         *Workspace
	classifier ArticleClassifier
	logger     zerolog.Logger
}

// Description implements pipeline.Phase.
func (p *ClassificationPhase) Description() string {
	return "Classify articles with the language model"
}

// Run implements pipeline.Phase.
func (p *ClassificationPhase) Run(ctx context.Context) (bool, error) {
	if p.classifier == nil {
		p.logger.Error().Msg("no language model configured for classification")
		return false, nil
	}

	var analysis DomainAnalysisResult
	if err := p.ws.ReadJSON(DomainAnalysisFile, &analysis); err != nil {
		p.logger.Error().Err(err).Msg("domain analysis unavailable")
		return false, nil
	}

	articles := analysis.Articles
	failures := 0
	for i := range articles {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		article := &articles[i]
		answers, err := p.classifier.Classify(ctx, article.Title)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return false, ctxErr
				}
			}
			failures++
			answers = defaultAnswers(p.classifier.Questions())
			answers[llm.ErrorField] = err.Error()
		}
		article.Classification = answers
		article.Model = textnorm.NormalizeModel(answers["model"])

		if (i+1)%25 == 0 {
			p.logger.Info().Int("classified", i+1).Int("total", len(articles)).Msg("classification progress")
		}
	}

	if err := p.ws.WriteJSON(ClassifiedFile, articles); err != nil {
		return false, err
	}

	logEvent := p.logger.Info()
	if failures > 0 {
		logEvent = p.logger.Warn()
	}
	logEvent.Int("articles", len(articles)).Int("failed", failures).Msg("classification complete")

	return len(articles) == 0 || failures < len(articles), nil
}

func defaultAnswers(questions []llm.Question) map[string]string {
	answers := make(map[string]string, len(questions)+1)
	for _, q := range questions {
		answers[q.FieldName] = q.DefaultValue
	}
	return answers
}

// loadArticles returns the richest up-to-date article set and the artifact
// it came from. Classified articles are preferred over domain analysis,
// which is preferred over integrated results, but an artifact older than the
// one it was derived from is stale and ignored.
func loadArticles(ws *Workspace) ([]domain.Article, string, error) {
	chosen := ""
	var chosenMod time.Time
	for _, name := range []string{IntegratedFile, DomainAnalysisFile, ClassifiedFile} {
		info, err := os.Stat(ws.Path(name))
		if err != nil {
			continue
		}
		if chosen == "" || !info.ModTime().Before(chosenMod) {
			chosen, chosenMod = name, info.ModTime()
		}
	}
	if chosen == "" {
		return nil, "", fmt.Errorf("%w: no article set (%s, %s or %s)", ErrArtifactMissing, ClassifiedFile, DomainAnalysisFile, IntegratedFile)
	}

	if chosen == DomainAnalysisFile {
		var analysis DomainAnalysisResult
		if err := ws.ReadJSON(chosen, &analysis); err != nil {
			return nil, "", err
		}
		return analysis.Articles, chosen, nil
	}

	var articles []domain.Article
	if err := ws.ReadJSON(chosen, &articles); err != nil {
		return nil, "", err
	}
	return articles, chosen, nil
}
