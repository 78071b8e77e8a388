package questionbank

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func tableRow(n int, qType, difficulty, text string) string {
	if qType == "True/False" {
		return fmt.Sprintf("| %d | Anything | True/False | %s | %s | | TRUE | FALSE | | | A | https://example.com/%d | excerpt |\n", n, difficulty, text, n)
	}
	return fmt.Sprintf("| %d | Anything | Multiple Choice | %s | %s | | one | two | three | four | C | https://example.com/%d | excerpt |\n", n, difficulty, text, n)
}

func newTestGenerator(gen TextGenerator, store *QuestionStore, opts GeneratorOptions) *QuestionGenerator {
	if opts.Session.CreatorName == "" {
		opts.Session = SessionConfig{CreatorName: "Alice", ReviewerName: "Bob", Discipline: "Networking"}
	}
	return NewQuestionGenerator(gen, store, NewQuotaTracker(DefaultQuotaTargets()), opts)
}

// TestGenerateBatchAddsParsedQuestions ensures model rows land in the session partition with request metadata.
func TestGenerateBatchAddsParsedQuestions(t *testing.T) {
	fake := &fakeGenerator{responses: []string{header +
		tableRow(1, "Multiple Choice", "Hard", "What does a router do?") +
		tableRow(2, "True/False", "Hard", "A switch works at layer 2.")}}
	store := NewQuestionStore(nil, nil)
	g := newTestGenerator(fake, store, GeneratorOptions{})

	res, err := g.GenerateBatch(context.Background(), GenerationRequest{
		Discipline: "Networking", Difficulty: "easy", Type: GenerateBalanced, BatchSize: 5,
		SourceMaterial: "OSI model notes",
	})
	if err != nil {
		t.Fatalf("generate batch: %v", err)
	}
	if !res.Decision.Allowed || res.RunID == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Added) != 2 {
		t.Fatalf("expected 2 added, got %d", len(res.Added))
	}
	for _, q := range res.Added {
		if q.Discipline != "Networking" || q.Difficulty != DifficultyEasy {
			t.Fatalf("expected request discipline and difficulty, got %q %q", q.Discipline, q.Difficulty)
		}
		if q.CreatorName != "Alice" || q.ReviewerName != "Bob" || q.Status != StatusPending {
			t.Fatalf("unexpected metadata %+v", q)
		}
	}
	if len(store.Questions(PartitionSession)) != 2 {
		t.Fatalf("expected session partition to hold 2")
	}
	if !strings.Contains(fake.prompts[0], "OSI model notes") || !strings.Contains(fake.systems[0], "Generate exactly 5") {
		t.Fatalf("prompt missing request details:\n%s\n%s", fake.prompts[0], fake.systems[0])
	}
}

// TestGenerateBatchQuotaRefusal ensures a full category is reported without calling the model.
func TestGenerateBatchQuotaRefusal(t *testing.T) {
	fake := &fakeGenerator{}
	store := storeWith(fillCategory("mc", DifficultyEasy, TypeMultipleChoice, 33))
	g := newTestGenerator(fake, store, GeneratorOptions{})

	res, err := g.GenerateBatch(context.Background(), GenerationRequest{
		Discipline: "Networking", Difficulty: DifficultyEasy, Type: GenerateMultipleChoice, BatchSize: 5,
	})
	if err != nil {
		t.Fatalf("expected refusal without error, got %v", err)
	}
	if res.Decision.Allowed || fake.calls() != 0 {
		t.Fatalf("expected refusal and no model call, got %+v (calls %d)", res.Decision, fake.calls())
	}
}

// TestGenerateBatchForcedTypeDropsOtherRows ensures rows of a full type are skipped.
func TestGenerateBatchForcedTypeDropsOtherRows(t *testing.T) {
	fake := &fakeGenerator{responses: []string{
		tableRow(1, "Multiple Choice", "Easy", "Not wanted") +
			tableRow(2, "True/False", "Easy", "Wanted one") +
			tableRow(3, "True/False", "Easy", "Wanted two")}}
	store := storeWith(fillCategory("mc", DifficultyEasy, TypeMultipleChoice, 33))
	g := newTestGenerator(fake, store, GeneratorOptions{})

	res, err := g.GenerateBatch(context.Background(), GenerationRequest{
		Discipline: "Networking", Difficulty: DifficultyEasy, Type: GenerateBalanced, BatchSize: 4,
	})
	if err != nil {
		t.Fatalf("generate batch: %v", err)
	}
	if res.Decision.ForceType != TypeTrueFalse {
		t.Fatalf("expected forced True/False, got %+v", res.Decision)
	}
	if len(res.Added) != 2 || len(res.Skipped) != 1 || res.Skipped[0].Skip != SkipTypeMismatch {
		t.Fatalf("unexpected outcome added=%d skipped=%+v", len(res.Added), res.Skipped)
	}
	if !strings.Contains(fake.systems[0], "True/False ONLY") {
		t.Fatalf("expected forced type in system prompt")
	}
}

// TestGenerateBatchCapsToAllowance ensures surplus rows beyond the allowance are dropped.
func TestGenerateBatchCapsToAllowance(t *testing.T) {
	var rows strings.Builder
	for i := 1; i <= 6; i++ {
		rows.WriteString(tableRow(i, "Multiple Choice", "Medium", fmt.Sprintf("Question number %d", i)))
	}
	fake := &fakeGenerator{responses: []string{rows.String()}}
	store := storeWith(fillCategory("mc", DifficultyMedium, TypeMultipleChoice, 30))
	g := newTestGenerator(fake, store, GeneratorOptions{})

	res, err := g.GenerateBatch(context.Background(), GenerationRequest{
		Discipline: "Networking", Difficulty: DifficultyMedium, Type: GenerateMultipleChoice, BatchSize: 6,
	})
	if err != nil {
		t.Fatalf("generate batch: %v", err)
	}
	if res.Decision.MaxAllowed != 3 || len(res.Added) != 3 {
		t.Fatalf("expected 3 added, got %d (decision %+v)", len(res.Added), res.Decision)
	}
}

// TestGenerateBatchDeduplicates ensures rows matching stored questions are reported, not added.
func TestGenerateBatchDeduplicates(t *testing.T) {
	existing := sampleQuestion("old", "What does a router do?", DifficultyHard, TypeMultipleChoice)
	fake := &fakeGenerator{responses: []string{
		tableRow(1, "Multiple Choice", "Hard", "what does a router do?") +
			tableRow(2, "Multiple Choice", "Hard", "What does a bridge do?")}}
	store := storeWith([]Question{existing})
	g := newTestGenerator(fake, store, GeneratorOptions{})

	res, err := g.GenerateBatch(context.Background(), GenerationRequest{
		Discipline: "Networking", Difficulty: DifficultyHard, Type: GenerateMultipleChoice, BatchSize: 2,
	})
	if err != nil {
		t.Fatalf("generate batch: %v", err)
	}
	if len(res.Added) != 1 || len(res.Duplicates) != 1 || res.Duplicates[0].DuplicateID != "old" {
		t.Fatalf("unexpected dedup outcome %+v", res)
	}
}

// TestGenerateBatchPropagatesClientErrors ensures generation failures are wrapped with their type intact.
func TestGenerateBatchPropagatesClientErrors(t *testing.T) {
	fake := &fakeGenerator{errs: []error{&RateLimitExhaustedError{Attempts: 5}}}
	g := newTestGenerator(fake, NewQuestionStore(nil, nil), GeneratorOptions{})

	_, err := g.GenerateBatch(context.Background(), GenerationRequest{
		Discipline: "Networking", Difficulty: DifficultyEasy, BatchSize: 1,
	})
	var exhausted *RateLimitExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected RateLimitExhaustedError, got %v", err)
	}
}

// TestGenerateBatchWritesRunLog ensures each run gets its own interaction log.
func TestGenerateBatchWritesRunLog(t *testing.T) {
	dir := t.TempDir()
	fake := &fakeGenerator{responses: []string{tableRow(1, "Multiple Choice", "Easy", "Logged question") + "| 2 | x |  |  |\n"}}
	g := newTestGenerator(fake, NewQuestionStore(nil, nil), GeneratorOptions{LLMLogDir: dir})

	res, err := g.GenerateBatch(context.Background(), GenerationRequest{
		Discipline: "Networking", Difficulty: DifficultyEasy, BatchSize: 2,
	})
	if err != nil {
		t.Fatalf("generate batch: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, res.RunID+".log"))
	if err != nil {
		t.Fatalf("read run log: %v", err)
	}
	for _, want := range []string{"run started", "llm request", "llm response", "row skipped", "run complete"} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("run log missing %q:\n%s", want, data)
		}
	}
}

// TestGenerateBatchRejectsUnknownDifficulty ensures rows can never be stamped with an uncounted difficulty.
func TestGenerateBatchRejectsUnknownDifficulty(t *testing.T) {
	fake := &fakeGenerator{responses: []string{tableRow(1, "Multiple Choice", "Easy", "Should not be stored")}}
	store := NewQuestionStore(nil, nil)
	g := newTestGenerator(fake, store, GeneratorOptions{})

	res, err := g.GenerateBatch(context.Background(), GenerationRequest{
		Discipline: "Networking", Difficulty: "Expert", Type: GenerateBalanced, BatchSize: 10,
	})
	if err != nil {
		t.Fatalf("expected refusal without error, got %v", err)
	}
	if res.Decision.Allowed || fake.calls() != 0 || store.Len() != 0 {
		t.Fatalf("expected refusal and empty store, got %+v (calls %d, stored %d)", res.Decision, fake.calls(), store.Len())
	}
}
