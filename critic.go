package questionbank

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Critique is the model's review of one question
type Critique struct {
	Score   int      `json:"score"` // 0-100, -1 when the model gave none
	Text    string   `json:"critique"`
	Rewrite *Rewrite `json:"rewrite,omitempty"`
	Changes string   `json:"changes,omitempty"`
}

// Rewrite is the model's suggested replacement
type Rewrite struct {
	Question string  `json:"question"`
	Options  Options `json:"options"`
	Correct  string  `json:"correct"`
}

// Critic asks the model to review questions and records the verdict on the store
type Critic struct {
	gen   TextGenerator
	store *QuestionStore
}

// NewCritic creates a new critic
func NewCritic(gen TextGenerator, store *QuestionStore) *Critic {
	return &Critic{gen: gen, store: store}
}

var scoreLine = regexp.MustCompile(`(?i)SCORE:\s*(\d+)`)

// Critique reviews the stored question id and annotates it with the result
func (c *Critic) Critique(ctx context.Context, id string) (*Critique, error) {
	q, ok := c.store.Get(id)
	if !ok {
		return nil, ErrQuestionNotFound
	}
	VerboseLog("Critiquing question: %s", q.ID)

	text, err := c.gen.Generate(ctx, c.buildPrompt(q), "Expert question critic. Output valid JSON only. Be harsh and critical.", 0.2)
	if err != nil {
		return nil, fmt.Errorf("failed to critique question %s: %w", q.ID, err)
	}

	result := parseCritique(text)
	if _, err := c.store.Annotate(q.ID, func(stored *Question) {
		stored.Critique = result.Text
		stored.CritiqueScore = result.Score
	}); err != nil {
		return nil, fmt.Errorf("failed to annotate question %s: %w", q.ID, err)
	}

	VerboseLog("Question %s: critique score %d", q.ID, result.Score)
	return result, nil
}

// parseCritique decodes the JSON critique, falling back to a "SCORE: n" line
func parseCritique(raw string) *Critique {
	var body struct {
		Score    json.Number `json:"score"`
		Critique string      `json:"critique"`
		Rewrite  *Rewrite    `json:"rewrite"`
		Changes  string      `json:"changes"`
	}
	if err := json.Unmarshal([]byte(stripCodeFences(raw)), &body); err == nil {
		score := -1
		if f, err := body.Score.Float64(); err == nil {
			score = int(f)
		}
		if body.Rewrite != nil {
			body.Rewrite.Correct = strings.ToUpper(strings.TrimSpace(body.Rewrite.Correct))
		}
		return &Critique{Score: score, Text: body.Critique, Rewrite: body.Rewrite, Changes: body.Changes}
	}

	Log().Warnw("failed to parse critique JSON, using text", "chars", len(raw))
	score := -1
	if m := scoreLine.FindStringSubmatch(raw); m != nil {
		score, _ = strconv.Atoi(m[1])
	}
	return &Critique{Score: score, Text: raw}
}

func (c *Critic) buildPrompt(q Question) string {
	var sb strings.Builder

	sb.WriteString("Critique this quiz question as a harsh, pedantic senior technical editor.\n\n")
	sb.WriteString("Return ONLY a raw JSON object with this structure:\n")
	sb.WriteString(`{"score": number, "critique": "string", "rewrite": {"question": "string", "options": {"A": "...", "B": "...", "C": "...", "D": "..."}, "correct": "A"}, "changes": "string"}`)
	sb.WriteString("\n\n")
	sb.WriteString("Scoring:\n")
	sb.WriteString("- 95-100: near-perfect, concise, unambiguous, strong distractors\n")
	sb.WriteString("- 85-94: excellent with minor issues\n")
	sb.WriteString("- 70-84: competent with clear flaws\n")
	sb.WriteString("- 50-69: mediocre\n")
	sb.WriteString("- 0-49: poor or broken (wrong answer key, nonsensical)\n")
	sb.WriteString("Start at 75 and deduct points for wordiness, hints in the stem, weak distractors, ambiguity and missing sources.\n")
	if q.Type == TypeTrueFalse {
		sb.WriteString("The question is True/False: the rewrite must remain a single True/False assertion.\n")
	}
	sb.WriteString("\n")

	opts, _ := json.Marshal(q.Options)
	sb.WriteString(fmt.Sprintf("Question: %s\n", q.Question))
	sb.WriteString(fmt.Sprintf("Options: %s\n", opts))
	sb.WriteString(fmt.Sprintf("Correct: %s\n", q.Correct))
	if q.SourceURL != "" {
		sb.WriteString(fmt.Sprintf("Source: %s\n", q.SourceURL))
	}
	return sb.String()
}
