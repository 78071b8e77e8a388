package questionbank

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

const v16Header = "ID,UniqueId,Discipline,Type,Difficulty,Question,OptionA,OptionB,OptionC,OptionD,CorrectLetter,DateAdded,SourceURL,SourceExcerpt,CreatorName,ReviewerName,Language"
const v17Header = "ID,UniqueId,Status,Discipline,Difficulty,Type,Question,OptionA,OptionB,OptionC,OptionD,CorrectLetter,Explanation,Language,SourceURL,DateAdded"

// TestDetectSchema ensures both layouts are recognized and anything else is rejected.
func TestDetectSchema(t *testing.T) {
	cases := []struct {
		header string
		want   SchemaVersion
	}{
		{v16Header, SchemaV16},
		{v17Header, SchemaV17},
		{"Name,Value,Discipline,Type,Difficulty,Question", SchemaUnknown},
		{"ID,UniqueId,Discipline", SchemaUnknown},
		{"ID,UniqueId,Status,Type,Difficulty,Question,A", SchemaUnknown},
	}
	for _, tc := range cases {
		if got := DetectSchema(SplitCSVLine(tc.header)); got != tc.want {
			t.Fatalf("header %q: expected %q, got %q", tc.header, tc.want, got)
		}
	}
}

// TestSplitCSVLineQuoting ensures quoted commas and doubled quotes are handled.
func TestSplitCSVLineQuoting(t *testing.T) {
	got := SplitCSVLine(`a,"b, c","say ""hi""",,e`)
	want := []string{"a", "b, c", `say "hi"`, "", "e"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

// TestDetectLanguageFromFilename ensures names beat codes and codes need delimiters.
func TestDetectLanguageFromFilename(t *testing.T) {
	cases := map[string]string{
		"bank_Japanese.csv":             "Japanese",
		"chinese_(simplified)_v2.csv":   "Chinese (Simplified)",
		"export-KR.csv":                 "Korean",
		"jp_questions.csv":              "Japanese",
		"questions.csv":                 "",
		"krypton.csv":                   "",
		"Korean_export_JP.csv":          "Korean",
		"Chinese (Simplified) bank.csv": "Chinese (Simplified)",
	}
	for name, want := range cases {
		if got := DetectLanguageFromFilename(name); got != want {
			t.Fatalf("%s: expected %q, got %q", name, want, got)
		}
	}
}

// TestParseCSVV16 ensures v1.6 rows map to accepted questions with their identity kept.
func TestParseCSVV16(t *testing.T) {
	content := "\ufeff" + v16Header + "\r\n" +
		`q1,uid-000001,Networking,Multiple Choice,medium,"Which layer, in OSI, routes?",Physical,Network,Session,Transport,b,2024-01-01,https://example.com/osi,Layer 3 routes,Alice,Bob,` + "\r\n" +
		"\r\n" +
		`q2,uid-000002,,True/False,,TCP is reliable.,TRUE,FALSE,,,A,2024-01-01,,,,,Japanese` + "\r\n"

	rows := ParseCSVRows(content, "bank.csv", "Importer")
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	q := rows[0].Question
	if q == nil {
		t.Fatalf("expected first row to parse, skip %q", rows[0].Skip)
	}
	if q.UniqueID != "uid-000001" || q.Question != "Which layer, in OSI, routes?" {
		t.Fatalf("unexpected identity %q %q", q.UniqueID, q.Question)
	}
	if q.Difficulty != DifficultyMedium || q.Correct != "B" || q.Status != StatusAccepted {
		t.Fatalf("unexpected normalization %+v", q)
	}
	if q.CreatorName != "Alice" || q.ReviewerName != "Bob" || q.Language != DefaultLanguage {
		t.Fatalf("unexpected people/language %q %q %q", q.CreatorName, q.ReviewerName, q.Language)
	}
	if q.SourceURL != "https://example.com/osi" || q.SourceExcerpt != "Layer 3 routes" {
		t.Fatalf("unexpected source %q %q", q.SourceURL, q.SourceExcerpt)
	}

	second := rows[1].Question
	if second == nil {
		t.Fatalf("expected second row to parse")
	}
	if rows[1].Line != 4 {
		t.Fatalf("expected line 4, got %d", rows[1].Line)
	}
	if second.Discipline != "Imported" || second.Difficulty != DifficultyEasy {
		t.Fatalf("unexpected defaults %q %q", second.Discipline, second.Difficulty)
	}
	if second.Language != "Japanese" || second.CreatorName != "Importer" || second.Type != TypeTrueFalse {
		t.Fatalf("unexpected second row %+v", second)
	}
}

// TestParseCSVV17 ensures v1.7 rows are read and the filename supplies a missing language.
func TestParseCSVV17(t *testing.T) {
	content := v17Header + "\n" +
		"q1,abc,accepted,Security,Hard,Multiple Choice,What is a salt?,Random data,A key,A hash,A cipher,A,Salts defeat rainbow tables,,https://example.com/salt,2024-02-02\n" +
		"q2,uid-123456,accepted,Security,Easy,Multiple Choice,What is MFA?,Two factors,One factor,No factor,Any,A,,Korean,,2024-02-02\n"

	questions := ParseCSV(content, "bank_JP.csv", "")
	if len(questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(questions))
	}
	first := questions[0]
	if first.UniqueID == "abc" || first.UniqueID == "" {
		t.Fatalf("expected a short unique id to be replaced, got %q", first.UniqueID)
	}
	if first.Language != "Japanese" {
		t.Fatalf("expected filename language, got %q", first.Language)
	}
	if first.Explanation != "Salts defeat rainbow tables" || first.Difficulty != DifficultyHard {
		t.Fatalf("unexpected first question %+v", first)
	}
	if questions[1].Language != "Korean" || questions[1].UniqueID != "uid-123456" {
		t.Fatalf("expected column language and kept uid, got %q %q", questions[1].Language, questions[1].UniqueID)
	}
}

// TestParseCSVShortLinesAndUnknownHeader ensures short lines are skipped and unknown files yield nothing.
func TestParseCSVShortLinesAndUnknownHeader(t *testing.T) {
	content := v16Header + "\nq1,uid-1,Net,Multiple Choice\n"
	rows := ParseCSVRows(content, "bank.csv", "")
	if len(rows) != 1 || rows[0].OK() || rows[0].Skip != SkipTooFewColumns {
		t.Fatalf("expected one short row, got %+v", rows)
	}
	if got := ParseCSV("name,value\nx,y\n", "bank.csv", ""); len(got) != 0 {
		t.Fatalf("expected no questions, got %d", len(got))
	}
}

// TestWriteCSVRoundTrip ensures exported files import back with the same content.
func TestWriteCSVRoundTrip(t *testing.T) {
	in := []Question{
		{
			ID: "q1", UniqueID: "uid-000001", Discipline: "Networking", Type: TypeMultipleChoice,
			Difficulty: DifficultyHard, Question: "Which of \"these\", if any,\nroutes packets?",
			Options: Options{A: "Router", B: "Hub", C: "Repeater", D: "Cable"}, Correct: "A",
			SourceURL: "https://example.com/r", SourceExcerpt: "Routers route", CreatorName: "Alice",
			ReviewerName: "Bob", Language: "Korean", CreatedAt: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		},
		{
			ID: "q2", UniqueID: "uid-000002", Discipline: "Networking", Type: TypeTrueFalse,
			Difficulty: DifficultyEasy, Question: "A hub is a layer 1 device.", Options: TrueFalseOptions,
			Correct: "A", Language: DefaultLanguage, CreatedAt: time.Now(),
		},
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, in); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if !strings.HasPrefix(buf.String(), v16Header) {
		t.Fatalf("unexpected header line %q", strings.SplitN(buf.String(), "\n", 2)[0])
	}
	if !strings.Contains(buf.String(), "2024-03-04") {
		t.Fatalf("expected DateAdded column")
	}

	out := ParseCSV(buf.String(), "export.csv", "")
	if len(out) != len(in) {
		t.Fatalf("expected %d questions back, got %d", len(in), len(out))
	}
	first := out[0]
	if first.Question != `Which of "these", if any, routes packets?` {
		t.Fatalf("unexpected question %q", first.Question)
	}
	if first.UniqueID != in[0].UniqueID || first.Options != in[0].Options || first.Correct != "A" {
		t.Fatalf("unexpected round trip %+v", first)
	}
	if first.Language != "Korean" || first.CreatorName != "Alice" || first.ReviewerName != "Bob" {
		t.Fatalf("unexpected metadata %+v", first)
	}
	if out[1].Type != TypeTrueFalse || out[1].Options != TrueFalseOptions {
		t.Fatalf("unexpected true/false round trip %+v", out[1])
	}
}
