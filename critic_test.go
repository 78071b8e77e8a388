package questionbank

import (
	"context"
	"errors"
	"testing"
)

// TestCritiqueAnnotatesQuestion ensures the JSON verdict is parsed and stored on the question.
func TestCritiqueAnnotatesQuestion(t *testing.T) {
	store := NewQuestionStore(nil, nil)
	store.Merge([]Question{sampleQuestion("a", "What is DNS?", DifficultyEasy, TypeMultipleChoice)}, PartitionSession)
	fake := &fakeGenerator{responses: []string{"```json\n" +
		`{"score": 72, "critique": "Distractors are weak.", "rewrite": {"question": "What does DNS resolve?", "options": {"A": "Names", "B": "Routes", "C": "Frames", "D": "Ports"}, "correct": "a"}, "changes": "Tightened stem"}` +
		"\n```"}}

	c, err := NewCritic(fake, store).Critique(context.Background(), "a")
	if err != nil {
		t.Fatalf("critique: %v", err)
	}
	if c.Score != 72 || c.Text != "Distractors are weak." || c.Changes != "Tightened stem" {
		t.Fatalf("unexpected critique %+v", c)
	}
	if c.Rewrite == nil || c.Rewrite.Correct != "A" || c.Rewrite.Options.A != "Names" {
		t.Fatalf("unexpected rewrite %+v", c.Rewrite)
	}
	q, _ := store.Get("a")
	if q.CritiqueScore != 72 || q.Critique != "Distractors are weak." {
		t.Fatalf("expected annotation on stored question, got %+v", q)
	}
}

// TestParseCritiqueTextFallback ensures plain text with a SCORE line is accepted.
func TestParseCritiqueTextFallback(t *testing.T) {
	c := parseCritique("The stem is vague.\nSCORE: 45")
	if c.Score != 45 || c.Rewrite != nil {
		t.Fatalf("unexpected fallback critique %+v", c)
	}
	if none := parseCritique("no verdict"); none.Score != -1 {
		t.Fatalf("expected -1 without a score, got %d", none.Score)
	}
}

// TestCritiqueUnknownQuestion ensures a missing id is reported without calling the model.
func TestCritiqueUnknownQuestion(t *testing.T) {
	fake := &fakeGenerator{}
	if _, err := NewCritic(fake, NewQuestionStore(nil, nil)).Critique(context.Background(), "nope"); !errors.Is(err, ErrQuestionNotFound) {
		t.Fatalf("expected ErrQuestionNotFound, got %v", err)
	}
	if fake.calls() != 0 {
		t.Fatalf("expected no model call")
	}
}
