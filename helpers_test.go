package questionbank

import (
	"context"
	"fmt"
	"sync"
)

// fakeGenerator replays canned responses and records every prompt
type fakeGenerator struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	prompts   []string
	systems   []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt, systemPrompt string, _ float32) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.prompts)
	f.prompts = append(f.prompts, prompt)
	f.systems = append(f.systems, systemPrompt)
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	if len(f.responses) > 0 {
		return f.responses[len(f.responses)-1], nil
	}
	return "", fmt.Errorf("no response for call %d", i)
}

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// sampleQuestion builds a stored-shape question for tests
func sampleQuestion(id, text, difficulty string, t QuestionType) Question {
	q := Question{
		ID:         id,
		UniqueID:   "uid-" + id,
		Discipline: "Networking",
		Difficulty: difficulty,
		Type:       t,
		Language:   DefaultLanguage,
		Question:   text,
		Options:    Options{A: "one", B: "two", C: "three", D: "four"},
		Correct:    "A",
		Status:     StatusAccepted,
	}
	if t == TypeTrueFalse {
		q.Options = TrueFalseOptions
	}
	return q
}

// fillCategory returns n accepted questions in one category
func fillCategory(prefix, difficulty string, t QuestionType, n int) []Question {
	out := make([]Question, n)
	for i := range out {
		id := fmt.Sprintf("%s-%d", prefix, i)
		out[i] = sampleQuestion(id, "Question "+id, difficulty, t)
	}
	return out
}
