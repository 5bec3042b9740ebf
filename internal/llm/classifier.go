package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// AnswerType is the expected type of a question's answer.
type AnswerType string

const (
	AnswerInt    AnswerType = "int"
	AnswerString AnswerType = "string"
)

// ErrorField is the answers key holding a classification failure.
const ErrorField = "classification_error"

const classifierSystemPrompt = "You are an automatic scientific text classification system. " +
	"You must respond ONLY with the requested values, WITHOUT ADDING ANY EXPLANATION, " +
	"COMMENT OR ADDITIONAL NOTE. Only respond with the exact value requested."

// Question is one item asked about each article title.
type Question struct {
	Text           string     `json:"text"`
	ResponseFormat string     `json:"response_format"`
	FieldName      string     `json:"field_name"`
	AnswerType     AnswerType `json:"answer_type"`
	DefaultValue   string     `json:"default_value"`
}

// DefaultQuestions returns the built-in question set.
func DefaultQuestions() []Question {
	return []Question{
		{
			Text:           "Which machine learning or AI model does the title mention?",
			ResponseFormat: "the model name, or 'Not mentioned'",
			FieldName:      "model",
			AnswerType:     AnswerString,
			DefaultValue:   "Not mentioned",
		},
		{
			Text:           "What is the application area of the study?",
			ResponseFormat: "a short application area, or 'Not mentioned'",
			FieldName:      "application",
			AnswerType:     AnswerString,
			DefaultValue:   "Not mentioned",
		},
		{
			Text:           "What type of data does the study use?",
			ResponseFormat: "a short data type, or 'Not mentioned'",
			FieldName:      "data_type",
			AnswerType:     AnswerString,
			DefaultValue:   "Not mentioned",
		},
		{
			Text:           "Does the title mention a performance metric or an accuracy comparison?",
			ResponseFormat: "1 or 0",
			FieldName:      "performance_metric",
			AnswerType:     AnswerInt,
			DefaultValue:   "0",
		},
		{
			Text:           "Does the title mention the years or period covered by the data?",
			ResponseFormat: "1 or 0",
			FieldName:      "data_period",
			AnswerType:     AnswerInt,
			DefaultValue:   "0",
		},
	}
}

// LoadQuestions reads a JSON array of questions from path.
func LoadQuestions(path string) ([]Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read questions: %w", err)
	}
	var questions []Question
	if err := json.Unmarshal(data, &questions); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}
	for i, q := range questions {
		if q.FieldName == "" || q.Text == "" {
			return nil, fmt.Errorf("question %d: text and field_name are required", i+1)
		}
		if q.AnswerType != AnswerInt && q.AnswerType != AnswerString {
			return nil, fmt.Errorf("question %d: unsupported answer_type %q", i+1, q.AnswerType)
		}
	}
	return questions, nil
}

// BuildPrompt formats the user prompt for one title.
func BuildPrompt(title string, questions []Question) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze this scientific title: %q\n\n", title)
	for i, q := range questions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, q.Text)
		fmt.Fprintf(&b, "RESPOND ONLY WITH: %s\n\n", q.ResponseFormat)
	}
	b.WriteString("ATTENTION: You must respond ONLY with the requested values. DO NOT add additional explanations.\n")
	b.WriteString("If the title does not explicitly mention what is asked, respond with the default negative value.")
	return b.String()
}

var (
	enumerationPrefix = regexp.MustCompile(`^\d+[.)]\s+`)
	firstNumber       = regexp.MustCompile(`\d+`)
	binaryDigit       = regexp.MustCompile(`\b[01]\b`)
)

// ParseAnswers maps a completion to one answer per question. The i-th
// non-empty line answers the i-th question; missing or mistyped answers fall
// back to the question's default.
func ParseAnswers(text string, questions []Question) map[string]string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, enumerationPrefix.ReplaceAllString(line, ""))
	}

	answers := make(map[string]string, len(questions))
	for i, q := range questions {
		var answer string
		if i < len(lines) {
			answer = lines[i]
		}

		switch q.AnswerType {
		case AnswerInt:
			if m := firstNumber.FindString(answer); m != "" {
				n, _ := strconv.Atoi(m)
				answer = strconv.Itoa(n)
			} else if m := binaryDigit.FindString(text); m != "" {
				answer = m
			} else {
				answer = q.DefaultValue
			}
		default:
			if answer == "" || answer == "0" || answer == "1" {
				answer = q.DefaultValue
				for _, line := range lines {
					if line != "0" && line != "1" {
						answer = line
						break
					}
				}
			}
		}

		if answer == "" {
			answer = q.DefaultValue
		}
		answers[q.FieldName] = answer
	}
	return answers
}

// Classifier asks a fixed question set about article titles.
type Classifier struct {
	completer Completer
	questions []Question
	logger    zerolog.Logger
}

// NewClassifier creates a classifier. A nil questions slice uses DefaultQuestions.
func NewClassifier(completer Completer, questions []Question, logger zerolog.Logger) *Classifier {
	if questions == nil {
		questions = DefaultQuestions()
	}
	return &Classifier{
		completer: completer,
		questions: questions,
		logger:    logger.With().Str("component", "classifier").Str("provider", completer.Provider()).Logger(),
	}
}

// Questions returns the question set.
func (c *Classifier) Questions() []Question {
	return c.questions
}

// Classify returns the answers for title keyed by question field name.
func (c *Classifier) Classify(ctx context.Context, title string) (map[string]string, error) {
	completion, err := c.completer.Complete(ctx, CompletionRequest{
		System: classifierSystemPrompt,
		User:   BuildPrompt(title, c.questions),
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("title", title).Msg("classification failed")
		return nil, err
	}

	answers := ParseAnswers(completion.Text, c.questions)
	c.logger.Debug().
		Str("title", title).
		Str("model", completion.Model).
		Interface("answers", answers).
		Msg("title classified")
	return answers, nil
}
