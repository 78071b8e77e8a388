package questionbank

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// SkipTypeMismatch marks rows whose answer type was not requested
const SkipTypeMismatch SkipReason = "answer type not requested"

// GeneratorOptions configures a QuestionGenerator
type GeneratorOptions struct {
	Session     SessionConfig
	Temperature float32
	LLMLogDir   string // per-run interaction logs; empty disables them
	Metrics     *Metrics
}

// QuestionGenerator runs one quota-gated generation batch end to end:
// quota check, prompt, model call, parse, dedup and merge
type QuestionGenerator struct {
	gen   TextGenerator
	store *QuestionStore
	quota *QuotaTracker
	opts  GeneratorOptions
}

// NewQuestionGenerator creates a new question generator
func NewQuestionGenerator(gen TextGenerator, store *QuestionStore, quota *QuotaTracker, opts GeneratorOptions) *QuestionGenerator {
	return &QuestionGenerator{gen: gen, store: store, quota: quota, opts: opts}
}

// BatchResult reports the outcome of GenerateBatch
type BatchResult struct {
	RunID      string             `json:"run_id"`
	Decision   GenerationDecision `json:"decision"`
	Added      []Question         `json:"added"`
	Duplicates []DedupResult      `json:"duplicates,omitempty"`
	Skipped    []ParsedRow        `json:"skipped,omitempty"`
	SaveErr    error              `json:"-"`
}

// GenerateBatch generates up to req.BatchSize questions into the session
// partition. A refused quota check is reported in Decision with a nil error.
func (g *QuestionGenerator) GenerateBatch(ctx context.Context, req GenerationRequest) (*BatchResult, error) {
	req.Difficulty = NormalizeDifficulty(req.Difficulty)
	if req.Discipline == "" {
		req.Discipline = g.opts.Session.Discipline
	}
	if req.Type == "" {
		req.Type = GenerateBalanced
	}

	counts := g.quota.CountsByCategory(g.store, req.Discipline)
	decision := g.quota.Decide(req.Difficulty, req.BatchSize, counts, req.Type)
	result := &BatchResult{Decision: decision}
	if !decision.Allowed {
		Log().Infow("generation refused by quota", "discipline", req.Discipline,
			"difficulty", req.Difficulty, "reason", decision.Reason)
		return result, nil
	}

	size := decision.MaxAllowed
	if limit := g.quota.MaxAllowedBatch(req.Difficulty, counts); limit > 0 && limit < size {
		size = limit
	}
	genType := req.Type
	if decision.ForceType != "" {
		genType = GenerationType(decision.ForceType)
	}

	result.RunID = newUniqueID()
	var llmLog *LLMLogger
	if g.opts.LLMLogDir != "" {
		l, err := NewLLMLogger(g.opts.LLMLogDir, result.RunID, req)
		if err != nil {
			Log().Warnw("failed to open llm log", "error", err)
		} else {
			llmLog = l
			defer llmLog.Close()
		}
	}

	systemPrompt := buildSystemPrompt(req, size, genType)
	prompt := buildGenerationPrompt(req, size)
	llmLog.LogLLMRequest("QuestionGenerator", systemPrompt, prompt)

	temperature := req.Temperature
	if temperature == 0 {
		temperature = g.opts.Temperature
	}

	Log().Infow("generating questions", "discipline", req.Discipline, "difficulty", req.Difficulty,
		"type", genType, "size", size)
	start := time.Now()
	text, err := g.gen.Generate(ctx, prompt, systemPrompt, temperature)
	if err != nil {
		return nil, fmt.Errorf("failed to generate questions: %w", err)
	}
	llmLog.LogLLMResponse("QuestionGenerator", text)

	candidates := make([]Question, 0, size)
	for _, row := range ParseMarkdownRows(text) {
		if row.OK() && !typeAllowed(row.Question.Type, genType) {
			row = ParsedRow{Line: row.Line, Skip: SkipTypeMismatch}
		}
		if !row.OK() {
			result.Skipped = append(result.Skipped, row)
			llmLog.LogSkippedRow(row.Line, row.Skip)
			continue
		}
		if len(candidates) == size {
			continue
		}
		q := row.Question
		q.Discipline = req.Discipline
		if req.Difficulty != DifficultyBalancedAll {
			q.Difficulty = req.Difficulty
		}
		q.CreatorName = g.opts.Session.CreatorName
		q.ReviewerName = g.opts.Session.ReviewerName
		candidates = append(candidates, *q)
	}
	g.opts.Metrics.skipped("markdown", len(result.Skipped))

	added := g.store.Add(ctx, candidates, PartitionSession)
	result.Added = added.Merged
	result.Duplicates = added.Duplicates
	result.SaveErr = added.SaveErr
	for _, d := range added.Duplicates {
		llmLog.LogDedupResult(d.QuestionID, d)
	}

	Log().Infow("generation batch complete", "run", result.RunID, "added", len(result.Added),
		"duplicates", len(result.Duplicates), "skipped", len(result.Skipped), "elapsed", time.Since(start))
	return result, nil
}

func typeAllowed(t QuestionType, genType GenerationType) bool {
	if genType == GenerateBalanced {
		return true
	}
	return GenerationType(t) == genType
}

func buildSystemPrompt(req GenerationRequest, size int, genType GenerationType) string {
	var sb strings.Builder

	targetType := "Multiple Choice and True/False"
	switch genType {
	case GenerateMultipleChoice:
		targetType = "Multiple Choice ONLY"
	case GenerateTrueFalse:
		targetType = "True/False ONLY"
	}

	sb.WriteString("Role: You are a senior technical writer. Create short, clear, scenario-driven quiz questions in Simplified Technical English.\n")
	sb.WriteString(fmt.Sprintf("Discipline: %s\n", req.Discipline))
	sb.WriteString("Target Language: English\n")
	sb.WriteString(fmt.Sprintf("Question Type: %s\n", targetType))
	sb.WriteString("Output ONLY a Markdown table with these columns:\n")
	sb.WriteString("| ID | Discipline | Type | Difficulty | Question | Answer | OptionA | OptionB | OptionC | OptionD | CorrectLetter | SourceURL | SourceExcerpt |\n")
	sb.WriteString("- ID starts at 1.\n")
	sb.WriteString("- Difficulty levels: Easy / Medium / Hard.\n")
	sb.WriteString("- For True/False questions: OptionA=TRUE, OptionB=FALSE, CorrectLetter=A or B.\n")
	sb.WriteString("- True/False questions must be a single assertion.\n")
	sb.WriteString("- CorrectLetter is a single letter A-D.\n")
	sb.WriteString("- SourceURL must be a plain URL to official documentation.\n")
	if req.CustomRules != "" {
		sb.WriteString("Additional rules:\n")
		sb.WriteString(req.CustomRules)
		sb.WriteString("\n")
	}

	if req.Difficulty == DifficultyBalancedAll {
		per := max(1, size/6)
		sb.WriteString(fmt.Sprintf("Generate approximately %d Easy, %d Medium and %d Hard questions, ", per*2, per*2, per*2))
		sb.WriteString(fmt.Sprintf("%d questions in total.\n", size))
	} else {
		sb.WriteString(fmt.Sprintf("Generate exactly %d questions of difficulty: %s.\n", size, req.Difficulty))
	}
	return sb.String()
}

func buildGenerationPrompt(req GenerationRequest, size int) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Generate %d new questions for the discipline: %s\n\n", size, req.Discipline))
	if req.SourceMaterial != "" {
		sb.WriteString("Use the following source material as reference:\n")
		sb.WriteString(req.SourceMaterial)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Do not repeat questions you have generated before. Return only the table.\n")
	return sb.String()
}
