package questionbank

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// CSVHeaderV16 is the column layout written by WriteCSV
var CSVHeaderV16 = []string{
	"ID", "UniqueId", "Discipline", "Type", "Difficulty", "Question",
	"OptionA", "OptionB", "OptionC", "OptionD", "CorrectLetter", "DateAdded",
	"SourceURL", "SourceExcerpt", "CreatorName", "ReviewerName", "Language",
}

// WriteCSV writes questions in the v1.6 layout that ParseCSV reads back.
// Line breaks inside fields are flattened to spaces since the importer is line based.
func WriteCSV(w io.Writer, questions []Question) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeaderV16); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, q := range questions {
		record := []string{
			q.ID,
			q.UniqueID,
			q.Discipline,
			string(q.Type),
			q.Difficulty,
			q.Question,
			q.Options.A,
			q.Options.B,
			q.Options.C,
			q.Options.D,
			q.Correct,
			q.CreatedAt.Format("2006-01-02"),
			q.SourceURL,
			q.SourceExcerpt,
			q.CreatorName,
			q.ReviewerName,
			q.Language,
		}
		for i, field := range record {
			record[i] = flattenLines(field)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write question %s: %w", q.ID, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

func flattenLines(s string) string {
	return lineBreaks.Replace(s)
}
