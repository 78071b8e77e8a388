package questionbank

import (
	"regexp"
	"strings"
	"time"
)

// SchemaVersion identifies the CSV layout of an imported file
type SchemaVersion string

const (
	SchemaUnknown SchemaVersion = ""
	SchemaV16     SchemaVersion = "v1.6"
	SchemaV17     SchemaVersion = "v1.7"
)

// minCSVColumns is the fewest columns a data line may have
const minCSVColumns = 10

// DetectSchema identifies the schema from a tokenized header row.
// It returns SchemaUnknown unless the header has more than five columns,
// an ID-like first column and a Discipline column at index 2 or 3.
func DetectSchema(header []string) SchemaVersion {
	if len(header) <= 5 || !strings.Contains(header[0], "ID") {
		return SchemaUnknown
	}
	switch {
	case strings.Contains(header[3], "Discipline"):
		return SchemaV17
	case strings.Contains(header[2], "Discipline"):
		return SchemaV16
	}
	return SchemaUnknown
}

// SplitCSVLine splits one CSV line on unquoted commas. Double quotes toggle
// quoting and a doubled quote inside a quoted field yields a literal quote.
func SplitCSVLine(line string) []string {
	var (
		result []string
		cell   strings.Builder
		quoted bool
	)
	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case ch == '"':
			if quoted && i+1 < len(line) && line[i+1] == '"' {
				cell.WriteByte('"')
				i++
			} else {
				quoted = !quoted
			}
		case ch == ',' && !quoted:
			result = append(result, cell.String())
			cell.Reset()
		default:
			cell.WriteByte(ch)
		}
	}
	return append(result, cell.String())
}

// DetectLanguageFromFilename guesses a file's content language from its name.
// Full language names (spaces written as spaces or underscores) are tried
// first, then short codes delimited by '_', '-', '.' or the string edges.
// The first match in Languages order wins; "" means no match.
func DetectLanguageFromFilename(filename string) string {
	lower := strings.ToLower(filename)
	for _, l := range Languages {
		name := strings.ToLower(l.Name)
		if strings.Contains(lower, strings.ReplaceAll(name, " ", "_")) || strings.Contains(lower, name) {
			return l.Name
		}
	}
	for _, l := range Languages {
		if languageCodePattern(l.Code).MatchString(filename) {
			return l.Name
		}
	}
	return ""
}

var codePatterns = map[string]*regexp.Regexp{}

func init() {
	for _, l := range Languages {
		codePatterns[l.Code] = regexp.MustCompile(`(?i)(^|[._-])` + regexp.QuoteMeta(l.Code) + `([._-]|$)`)
	}
}

func languageCodePattern(code string) *regexp.Regexp {
	return codePatterns[code]
}

// ParseCSV returns the questions imported from a v1.6 or v1.7 CSV file
func ParseCSV(content, filename, defaultCreator string) []Question {
	rows := ParseCSVRows(content, filename, defaultCreator)
	questions := make([]Question, 0, len(rows))
	for _, row := range rows {
		if row.OK() {
			questions = append(questions, *row.Question)
		}
	}
	return questions
}

// ParseCSVRows parses CSV content into one ParsedRow per non-blank data line.
// An unrecognized header yields no rows.
func ParseCSVRows(content, filename, defaultCreator string) []ParsedRow {
	content = strings.TrimPrefix(content, "\ufeff")
	lines := strings.Split(content, "\n")
	if len(lines) == 0 {
		return nil
	}

	schema := DetectSchema(SplitCSVLine(strings.TrimRight(lines[0], "\r")))
	if schema == SchemaUnknown {
		VerboseLog("CSV %q: unrecognized header", filename)
		return nil
	}

	fileLanguage := DetectLanguageFromFilename(filename)
	now := time.Now()

	var rows []ParsedRow
	for i, line := range lines[1:] {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		cols := SplitCSVLine(line)
		if len(cols) < minCSVColumns {
			rows = append(rows, ParsedRow{Line: i + 2, Skip: SkipTooFewColumns})
			continue
		}

		var q Question
		if schema == SchemaV17 {
			q = fromV17(cols)
		} else {
			q = fromV16(cols)
		}

		q.ID = newQuestionID()
		if uid := strings.TrimSpace(q.UniqueID); len(uid) > 5 {
			q.UniqueID = uid
		} else {
			q.UniqueID = newUniqueID()
		}
		q.Discipline = orDefault(q.Discipline, "Imported")
		q.Difficulty = NormalizeDifficulty(orDefault(q.Difficulty, DifficultyEasy))
		q.Language = NormalizeLanguage(orDefault(q.Language, fileLanguage))
		q.Correct = strings.ToUpper(strings.TrimSpace(q.Correct))
		q.Status = StatusAccepted
		if q.CreatorName == "" {
			q.CreatorName = defaultCreator
		}
		q.CreatedAt = now

		rows = append(rows, ParsedRow{Line: i + 2, Question: &q})
	}
	return rows
}

// v1.7: ID,UniqueId,Status,Discipline,Difficulty,Type,Question,OptionA..D,
// CorrectLetter,Explanation,Language,SourceURL,DateAdded
func fromV17(cols []string) Question {
	return Question{
		UniqueID:    cell(cols, 1),
		Discipline:  cell(cols, 3),
		Difficulty:  cell(cols, 4),
		Type:        ParseQuestionType(orDefault(cell(cols, 5), string(TypeMultipleChoice))),
		Question:    cell(cols, 6),
		Options:     Options{A: cell(cols, 7), B: cell(cols, 8), C: cell(cols, 9), D: cell(cols, 10)},
		Correct:     cell(cols, 11),
		Explanation: cell(cols, 12),
		Language:    cell(cols, 13),
		SourceURL:   cell(cols, 14),
	}
}

// v1.6: ID,UniqueId,Discipline,Type,Difficulty,Question,OptionA..D,
// CorrectLetter,DateAdded,SourceURL,SourceExcerpt,CreatorName,ReviewerName,Language
func fromV16(cols []string) Question {
	return Question{
		UniqueID:      cell(cols, 1),
		Discipline:    cell(cols, 2),
		Type:          ParseQuestionType(orDefault(cell(cols, 3), string(TypeMultipleChoice))),
		Difficulty:    cell(cols, 4),
		Question:      cell(cols, 5),
		Options:       Options{A: cell(cols, 6), B: cell(cols, 7), C: cell(cols, 8), D: cell(cols, 9)},
		Correct:       cell(cols, 10),
		SourceURL:     cell(cols, 12),
		SourceExcerpt: cell(cols, 13),
		CreatorName:   cell(cols, 14),
		ReviewerName:  cell(cols, 15),
		Language:      cell(cols, 16),
	}
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
