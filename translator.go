package questionbank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoTranslation is returned when the model output held no usable question
var ErrNoTranslation = errors.New("parser returned no questions from translation")

// DefaultTranslationTargets are the languages filled by TranslateMissing
var DefaultTranslationTargets = []string{"Chinese (Simplified)", "Japanese", "Korean"}

// Translator produces language variants of stored questions
type Translator struct {
	gen         TextGenerator
	store       *QuestionStore
	targets     []string
	temperature float32
}

// NewTranslator creates a translator; empty targets use DefaultTranslationTargets
func NewTranslator(gen TextGenerator, store *QuestionStore, targets []string, temperature float32) *Translator {
	if len(targets) == 0 {
		targets = DefaultTranslationTargets
	}
	normalized := make([]string, len(targets))
	for i, t := range targets {
		normalized[i] = NormalizeLanguage(t)
	}
	return &Translator{gen: gen, store: store, targets: normalized, temperature: temperature}
}

// Targets returns the languages TranslateMissing fills
func (t *Translator) Targets() []string {
	return append([]string(nil), t.targets...)
}

type translationPayload struct {
	Discipline    string `json:"Discipline"`
	Type          string `json:"Type"`
	Difficulty    string `json:"Difficulty"`
	Question      string `json:"Question"`
	OptionA       string `json:"OptionA"`
	OptionB       string `json:"OptionB"`
	OptionC       string `json:"OptionC"`
	OptionD       string `json:"OptionD"`
	CorrectLetter string `json:"CorrectLetter"`
	SourceURL     string `json:"SourceURL"`
	SourceExcerpt string `json:"SourceExcerpt"`
}

// TranslateQuestion translates q into targetLang and adds the variant to the
// session partition. The variant keeps the logical identity of q and is
// stored as accepted.
func (t *Translator) TranslateQuestion(ctx context.Context, q Question, targetLang string) (Question, error) {
	targetLang = NormalizeLanguage(targetLang)
	if targetLang == NormalizeLanguage(q.Language) {
		return Question{}, fmt.Errorf("question %s is already in %s", q.ID, targetLang)
	}

	systemPrompt := buildTranslationSystemPrompt(NormalizeLanguage(q.Language), targetLang)
	payload, err := json.MarshalIndent(translationPayload{
		Discipline:    q.Discipline,
		Type:          string(q.Type),
		Difficulty:    q.Difficulty,
		Question:      q.Question,
		OptionA:       q.Options.A,
		OptionB:       q.Options.B,
		OptionC:       q.Options.C,
		OptionD:       q.Options.D,
		CorrectLetter: q.Correct,
		SourceURL:     q.SourceURL,
		SourceExcerpt: q.SourceExcerpt,
	}, "", "  ")
	if err != nil {
		return Question{}, fmt.Errorf("failed to encode question: %w", err)
	}

	text, err := t.gen.Generate(ctx, "Translate this object:\n"+string(payload), systemPrompt, t.temperature)
	if err != nil {
		return Question{}, fmt.Errorf("failed to translate question %s: %w", q.UniqueID, err)
	}

	translated, err := parseTranslation(text, q)
	if err != nil {
		return Question{}, err
	}
	translated.Language = targetLang

	res := t.store.Add(ctx, []Question{translated}, PartitionSession)
	if len(res.Merged) == 0 {
		return Question{}, fmt.Errorf("translation of %s to %s was not stored: duplicate", q.UniqueID, targetLang)
	}
	return res.Merged[0], nil
}

// parseTranslation reads the model output as JSON, falling back to the table
// parser, and re-applies the identity fields of the source question
func parseTranslation(text string, src Question) (Question, error) {
	var out Question
	var payload translationPayload
	if err := json.Unmarshal([]byte(stripCodeFences(text)), &payload); err == nil && strings.TrimSpace(payload.Question) != "" {
		out.Question = strings.TrimSpace(payload.Question)
		out.Options = Options{A: payload.OptionA, B: payload.OptionB, C: payload.OptionC, D: payload.OptionD}
		out.SourceExcerpt = payload.SourceExcerpt
	} else {
		parsed := ParseMarkdownTable(text)
		if len(parsed) == 0 {
			return Question{}, ErrNoTranslation
		}
		out = parsed[0]
	}

	out.ID = newQuestionID()
	out.UniqueID = src.UniqueID
	out.Discipline = src.Discipline
	out.Type = src.Type
	out.Difficulty = src.Difficulty
	out.Correct = src.Correct
	out.SourceURL = src.SourceURL
	out.CreatorName = src.CreatorName
	out.ReviewerName = src.ReviewerName
	out.Status = StatusAccepted
	out.CreatedAt = time.Now()
	if out.Type == TypeTrueFalse {
		out.Options = TrueFalseOptions
	}
	return out, nil
}

func buildTranslationSystemPrompt(from, to string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("You are a professional technical translator. Translate the provided JSON object from %s to %s.\n", from, to))
	sb.WriteString("CRITICAL RULES:\n")
	sb.WriteString("1. Return ONLY valid JSON. No markdown formatting, no explanations.\n")
	sb.WriteString("2. Translate ONLY: \"Question\", \"OptionA\", \"OptionB\", \"OptionC\", \"OptionD\", and \"SourceExcerpt\".\n")
	sb.WriteString("3. DO NOT translate: \"Discipline\", \"Type\", \"Difficulty\", \"CorrectLetter\", and \"SourceURL\".\n")
	sb.WriteString("4. Maintain exact JSON structure.\n")
	return sb.String()
}

// TranslationJob is one (question, language) pair missing from the store
type TranslationJob struct {
	Question   Question
	TargetLang string
}

// TranslationProgress is reported after every job
type TranslationProgress struct {
	Done      int    `json:"done"`
	Total     int    `json:"total"`
	Generated int    `json:"generated"`
	Percent   int    `json:"percent"` // floor(generated / total * 100)
	UniqueID  string `json:"unique_id"`
	Language  string `json:"language"`
	Err       error  `json:"-"`
}

// TranslationSummary is the result of TranslateMissing
type TranslationSummary struct {
	Queued    int `json:"queued"`
	Generated int `json:"generated"`
	Failed    int `json:"failed"`
}

// MissingTranslations lists accepted English questions with a source URL
// that lack one of the target languages
func (t *Translator) MissingTranslations() []TranslationJob {
	var jobs []TranslationJob
	for _, q := range t.store.Canonicals() {
		if q.Status != StatusAccepted || q.Language != DefaultLanguage || q.SourceURL == "" {
			continue
		}
		for _, lang := range t.targets {
			if !t.store.HasLanguage(q.UniqueID, lang) {
				jobs = append(jobs, TranslationJob{Question: q, TargetLang: lang})
			}
		}
	}
	return jobs
}

// TranslateMissing fills every missing target language one job at a time.
// A failed job is logged and skipped. ctx is checked between jobs only.
func (t *Translator) TranslateMissing(ctx context.Context, progress func(TranslationProgress)) (TranslationSummary, error) {
	jobs := t.MissingTranslations()
	summary := TranslationSummary{Queued: len(jobs)}
	if len(jobs) == 0 {
		Log().Infow("all translations already exist", "targets", t.targets)
		return summary, nil
	}
	Log().Infow("starting bulk translation", "missing", len(jobs))

	for i, job := range jobs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		_, err := t.TranslateQuestion(ctx, job.Question, job.TargetLang)
		if err != nil {
			summary.Failed++
			Log().Errorw("failed to generate translation",
				"unique_id", job.Question.UniqueID, "language", job.TargetLang, "error", err)
		} else {
			summary.Generated++
		}

		if progress != nil {
			progress(TranslationProgress{
				Done:      i + 1,
				Total:     len(jobs),
				Generated: summary.Generated,
				Percent:   summary.Generated * 100 / len(jobs),
				UniqueID:  job.Question.UniqueID,
				Language:  job.TargetLang,
				Err:       err,
			})
		}
	}

	Log().Infow("bulk translation complete", "generated", summary.Generated, "failed", summary.Failed)
	return summary, nil
}
