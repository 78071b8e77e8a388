package questionbank

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// SkipReason explains why a parsed row did not become a question
type SkipReason string

const (
	SkipEmptyQuestion     SkipReason = "empty question"
	SkipSeparatorQuestion SkipReason = "question contains a table separator"
	SkipInvalidCorrect    SkipReason = "correct answer is not a single letter A-D"
	SkipTrueFalseCorrect  SkipReason = "true/false answer must be A or B"
	SkipLetterOption      SkipReason = "multiple choice option is a bare answer letter"
	SkipTooFewColumns     SkipReason = "too few columns"
)

// ParsedRow is the outcome of parsing one record: either Question is set,
// or Skip names why the row was discarded
type ParsedRow struct {
	Line     int
	Question *Question
	Skip     SkipReason
}

// OK reports whether the row produced a question
func (r ParsedRow) OK() bool {
	return r.Question != nil
}

var (
	separatorStart = regexp.MustCompile(`^\|?\s*:?\s*-+`)
	separatorCell  = regexp.MustCompile(`\|\s*:?\s*-{2,}\s*:?\s*\|`)
	headerRow      = regexp.MustCompile(`(?i)\|\s*ID\s*\|`)
	codeFence      = regexp.MustCompile("(?i)```[a-z]*\\n?")
	answerLetter   = regexp.MustCompile(`^[A-Da-d]$`)
	digits         = regexp.MustCompile(`\d+`)
)

// rawRecord is the column-level view shared by the table and JSON branches
type rawRecord struct {
	Discipline string `json:"Discipline"`
	Type       string `json:"Type"`
	Difficulty string `json:"Difficulty"`
	Question   string `json:"Question"`
	OptionA    string `json:"OptionA"`
	OptionB    string `json:"OptionB"`
	OptionC    string `json:"OptionC"`
	OptionD    string `json:"OptionD"`
	Correct    string `json:"CorrectLetter"`
	SourceURL  string `json:"SourceURL"`
	Excerpt    string `json:"SourceExcerpt"`
	Quality    string `json:"-"`
}

// ParseMarkdownTable returns the questions found in AI output, dropping skipped rows
func ParseMarkdownTable(text string) []Question {
	rows := ParseMarkdownRows(text)
	questions := make([]Question, 0, len(rows))
	for _, row := range rows {
		if row.OK() {
			questions = append(questions, *row.Question)
		}
	}
	return questions
}

// ParseMarkdownRows parses AI output into one ParsedRow per data row.
// Header, separator and non-table lines produce no row at all.
func ParseMarkdownRows(text string) []ParsedRow {
	clean := strings.TrimSpace(strings.ReplaceAll(codeFence.ReplaceAllString(text, ""), "```", ""))
	if clean == "" {
		return nil
	}

	if strings.HasPrefix(clean, "[") || strings.HasPrefix(clean, "{") {
		if rows := parseJSONRecords(clean); len(rows) > 0 {
			return rows
		}
		VerboseLog("JSON parse failed, falling back to table parsing")
	}

	var rows []ParsedRow
	for i, line := range strings.Split(clean, "\n") {
		line = strings.TrimSpace(strings.ReplaceAll(line, "｜", "|"))
		if !isTableDataLine(line) {
			continue
		}

		cols := splitTableCells(line)
		cols = alignMissingAnswerColumn(cols)
		if len(cols) < 5 {
			rows = append(rows, ParsedRow{Line: i + 1, Skip: SkipTooFewColumns})
			continue
		}

		rec := rawRecord{
			Discipline: cell(cols, 1),
			Type:       cell(cols, 2),
			Difficulty: cell(cols, 3),
			Question:   cell(cols, 4),
			OptionA:    cell(cols, 6),
			OptionB:    cell(cols, 7),
			OptionC:    cell(cols, 8),
			OptionD:    cell(cols, 9),
			Correct:    cell(cols, 10),
			SourceURL:  cell(cols, 11),
			Excerpt:    cell(cols, 12),
			Quality:    cell(cols, 13),
		}
		q, skip := rec.toQuestion()
		rows = append(rows, ParsedRow{Line: i + 1, Question: q, Skip: skip})
	}
	return rows
}

func isTableDataLine(line string) bool {
	if !strings.HasPrefix(line, "|") || strings.Count(line, "|") < 4 {
		return false
	}
	if separatorStart.MatchString(line) || separatorCell.MatchString(line) {
		return false
	}
	return !headerRow.MatchString(line)
}

// splitTableCells splits on pipes and drops the empty cells produced by the
// leading and trailing pipe
func splitTableCells(line string) []string {
	parts := strings.Split(line, "|")
	cols := make([]string, len(parts))
	for i, p := range parts {
		cols[i] = strings.TrimSpace(p)
	}
	if len(cols) > 0 && cols[0] == "" {
		cols = cols[1:]
	}
	if len(cols) > 0 && cols[len(cols)-1] == "" {
		cols = cols[:len(cols)-1]
	}
	return cols
}

// alignMissingAnswerColumn repairs rows where the model left out the optional
// Answer column: the correct letter then sits in column 9 and the source URL
// in column 10. An empty cell is spliced in at index 5 to restore alignment.
// This is a heuristic; rows that happen to match the pattern are shifted too.
func alignMissingAnswerColumn(cols []string) []string {
	if len(cols) <= 10 {
		return cols
	}
	if !answerLetter.MatchString(cols[9]) || !looksLikeURL(cols[10]) {
		return cols
	}
	aligned := make([]string, 0, len(cols)+1)
	aligned = append(aligned, cols[:5]...)
	aligned = append(aligned, "")
	return append(aligned, cols[5:]...)
}

func looksLikeURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "www.")
}

func cell(cols []string, i int) string {
	if i < len(cols) {
		return cols[i]
	}
	return ""
}

func parseJSONRecords(text string) []ParsedRow {
	var records []rawRecord
	if strings.HasPrefix(text, "{") {
		var single rawRecord
		if err := json.Unmarshal([]byte(text), &single); err != nil {
			return nil
		}
		records = []rawRecord{single}
	} else if err := json.Unmarshal([]byte(text), &records); err != nil {
		return nil
	}

	// QualityScore may arrive as a number or a string
	var quality []struct {
		QualityScore json.RawMessage `json:"QualityScore"`
	}
	if strings.HasPrefix(text, "[") {
		_ = json.Unmarshal([]byte(text), &quality)
	}

	rows := make([]ParsedRow, 0, len(records))
	for i, rec := range records {
		if i < len(quality) {
			rec.Quality = string(quality[i].QualityScore)
		}
		q, skip := rec.toQuestion()
		rows = append(rows, ParsedRow{Line: i + 1, Question: q, Skip: skip})
	}
	return rows
}

// toQuestion validates the record and builds a pending question with fresh ids
func (r rawRecord) toQuestion() (*Question, SkipReason) {
	text := strings.TrimSpace(r.Question)
	if text == "" {
		return nil, SkipEmptyQuestion
	}
	if strings.Contains(text, "---") {
		return nil, SkipSeparatorQuestion
	}

	qType := ParseQuestionType(r.Type)
	correct, ok := normalizeCorrect(r.Correct, qType)
	if !ok {
		return nil, SkipInvalidCorrect
	}

	var options Options
	if qType == TypeTrueFalse {
		if correct != "A" && correct != "B" {
			return nil, SkipTrueFalseCorrect
		}
		options = TrueFalseOptions
	} else {
		options = Options{
			A: strings.TrimSpace(r.OptionA),
			B: strings.TrimSpace(r.OptionB),
			C: strings.TrimSpace(r.OptionC),
			D: strings.TrimSpace(r.OptionD),
		}
		for _, opt := range options.Values() {
			if answerLetter.MatchString(opt) {
				return nil, SkipLetterOption
			}
		}
	}

	discipline := strings.TrimSpace(r.Discipline)
	if discipline == "" {
		discipline = "General"
	}
	difficulty := NormalizeDifficulty(r.Difficulty)
	if difficulty == "" {
		difficulty = DifficultyEasy
	}
	sourceURL := strings.TrimSpace(r.SourceURL)
	if strings.Contains(sourceURL, " ") {
		sourceURL = ""
	}

	return &Question{
		ID:            newQuestionID(),
		UniqueID:      newUniqueID(),
		Discipline:    discipline,
		Difficulty:    difficulty,
		Type:          qType,
		Language:      DefaultLanguage,
		Question:      text,
		Options:       options,
		Correct:       correct,
		Status:        StatusPending,
		SourceURL:     sourceURL,
		SourceExcerpt: strings.TrimSpace(r.Excerpt),
		QualityScore:  parseQuality(r.Quality),
		CreatedAt:     time.Now(),
	}, ""
}

// normalizeCorrect upper-cases a correct-answer cell; True/False rows may also
// spell the answer out
func normalizeCorrect(raw string, t QuestionType) (string, bool) {
	v := strings.ToUpper(strings.TrimSpace(raw))
	if t == TypeTrueFalse {
		switch v {
		case "TRUE":
			return "A", true
		case "FALSE":
			return "B", true
		}
	}
	if len(v) != 1 || v[0] < 'A' || v[0] > 'D' {
		return "", false
	}
	return v, true
}

func parseQuality(raw string) int {
	m := digits.FindString(raw)
	if m == "" {
		return 0
	}
	n, _ := strconv.Atoi(m)
	return n
}
