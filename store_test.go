package questionbank

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type savedBatch struct {
	partition Partition
	questions []Question
}

// TestStoreAddDeduplicatesAndSaves ensures Add merges novel questions and saves only those.
func TestStoreAddDeduplicatesAndSaves(t *testing.T) {
	var saved []savedBatch
	metrics := NewMetrics(prometheus.NewRegistry())
	store := NewQuestionStore(func(_ context.Context, p Partition, qs []Question) error {
		saved = append(saved, savedBatch{p, qs})
		return nil
	}, metrics)

	first := store.Add(context.Background(), []Question{
		sampleQuestion("a", "Alpha", DifficultyEasy, TypeMultipleChoice),
		sampleQuestion("b", "Beta", DifficultyEasy, TypeMultipleChoice),
	}, PartitionHistorical)
	if len(first.Merged) != 2 || len(first.Duplicates) != 0 {
		t.Fatalf("unexpected first add %+v", first)
	}

	second := store.Add(context.Background(), []Question{
		sampleQuestion("c", "alpha", DifficultyEasy, TypeMultipleChoice),
		sampleQuestion("d", "Delta", DifficultyEasy, TypeMultipleChoice),
	}, PartitionSession)
	if len(second.Merged) != 1 || second.Merged[0].ID != "d" || len(second.Duplicates) != 1 {
		t.Fatalf("unexpected second add %+v", second)
	}

	if len(saved) != 2 || saved[0].partition != PartitionHistorical || saved[1].partition != PartitionSession {
		t.Fatalf("unexpected saves %+v", saved)
	}
	if len(store.Questions(PartitionSession)) != 1 || len(store.Questions(PartitionHistorical)) != 2 {
		t.Fatalf("unexpected partition sizes")
	}
	if got := testutil.ToFloat64(metrics.DuplicateRows); got != 1 {
		t.Fatalf("expected 1 duplicate recorded, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.MergedTotal.WithLabelValues(string(PartitionHistorical))); got != 2 {
		t.Fatalf("expected 2 historical merges, got %v", got)
	}
}

// TestStoreAddReportsStoredVariant ensures a record for an already stored variant is reported, not dropped silently.
func TestStoreAddReportsStoredVariant(t *testing.T) {
	store := NewQuestionStore(nil, nil)
	store.Merge([]Question{sampleQuestion("a", "Alpha", DifficultyEasy, TypeMultipleChoice)}, PartitionHistorical)

	again := sampleQuestion("a2", "Alpha, reworded", DifficultyEasy, TypeMultipleChoice)
	again.UniqueID = "uid-a"
	res := store.Add(context.Background(), []Question{again}, PartitionHistorical)
	if len(res.Merged) != 0 || len(res.Duplicates) != 1 {
		t.Fatalf("expected one reported duplicate, got %+v", res)
	}
	d := res.Duplicates[0]
	if !d.IsDuplicate || d.Reason != "variant already stored" || d.QuestionID != "a2" || d.DuplicateID != "a" {
		t.Fatalf("unexpected duplicate result %+v", d)
	}
	if store.Len() != 1 {
		t.Fatalf("expected store unchanged, got %d records", store.Len())
	}
}

// TestStoreSaveErrorKeepsMerge ensures a failing save is reported without undoing the merge.
func TestStoreSaveErrorKeepsMerge(t *testing.T) {
	store := NewQuestionStore(func(context.Context, Partition, []Question) error {
		return errors.New("disk full")
	}, nil)

	res := store.Add(context.Background(), []Question{sampleQuestion("a", "Alpha", DifficultyEasy, TypeMultipleChoice)}, PartitionSession)
	if res.SaveErr == nil {
		t.Fatalf("expected save error")
	}
	if store.Len() != 1 {
		t.Fatalf("expected merge to stick, got %d records", store.Len())
	}
}

// TestStoreMergeKeepsFirstVariant ensures a second record for the same (uid, language) is dropped.
func TestStoreMergeKeepsFirstVariant(t *testing.T) {
	store := NewQuestionStore(nil, nil)

	a := sampleQuestion("a", "Alpha", DifficultyEasy, TypeMultipleChoice)
	dup := sampleQuestion("b", "Alpha again", DifficultyEasy, TypeMultipleChoice)
	dup.UniqueID = a.UniqueID

	merged := store.Merge([]Question{a, dup}, PartitionHistorical)
	if len(merged) != 1 || merged[0].ID != "a" {
		t.Fatalf("expected only the first variant, got %+v", merged)
	}
}

// TestStoreVariantsAndCanonical ensures variants group by unique id and English is canonical.
func TestStoreVariantsAndCanonical(t *testing.T) {
	store := NewQuestionStore(nil, nil)

	jp := sampleQuestion("jp", "日本語の質問", DifficultyEasy, TypeMultipleChoice)
	jp.UniqueID = "shared"
	jp.Language = "japanese"
	en := sampleQuestion("en", "English question", DifficultyEasy, TypeMultipleChoice)
	en.UniqueID = "shared"
	en.Language = ""
	other := sampleQuestion("o", "Other question", DifficultyEasy, TypeMultipleChoice)
	other.Language = "Korean"

	store.Merge([]Question{jp, en, other}, PartitionHistorical)

	if got := store.VariantsOf("shared"); len(got) != 2 {
		t.Fatalf("expected 2 variants, got %d", len(got))
	}
	langs := store.LanguagesOf("shared")
	if len(langs) != 2 || langs[0] != "English" || langs[1] != "Japanese" {
		t.Fatalf("expected sorted normalized languages, got %v", langs)
	}
	if !store.HasLanguage("shared", "JAPANESE") || store.HasLanguage("shared", "Korean") {
		t.Fatalf("unexpected HasLanguage results")
	}
	canon, ok := store.Canonical("shared")
	if !ok || canon.ID != "en" {
		t.Fatalf("expected English canonical, got %+v", canon)
	}
	if c, _ := store.Canonical(other.UniqueID); c.ID != "o" {
		t.Fatalf("expected first variant as canonical without English, got %+v", c)
	}
	canonicals := store.Canonicals()
	if len(canonicals) != 2 || canonicals[0].ID != "en" || canonicals[1].ID != "o" {
		t.Fatalf("unexpected canonicals %+v", canonicals)
	}
}

// TestStoreFillsMissingIdentity ensures merged records get ids, a unique id and a language.
func TestStoreFillsMissingIdentity(t *testing.T) {
	store := NewQuestionStore(nil, nil)
	merged := store.Merge([]Question{{Question: "Bare"}}, PartitionSession)
	if len(merged) != 1 {
		t.Fatalf("expected 1 merged record")
	}
	q := merged[0]
	if q.ID == "" || q.UniqueID == "" || q.Language != DefaultLanguage || q.CreatedAt.IsZero() {
		t.Fatalf("expected identity to be filled, got %+v", q)
	}
}

// TestStoreUpdateStatusAndAnnotate ensures review edits stick and identity cannot be changed.
func TestStoreUpdateStatusAndAnnotate(t *testing.T) {
	store := NewQuestionStore(nil, nil)
	store.Merge([]Question{sampleQuestion("a", "Alpha", DifficultyEasy, TypeMultipleChoice)}, PartitionSession)

	q, err := store.UpdateStatus("a", StatusRejected, "Reviewer", " off topic ")
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if q.Status != StatusRejected || q.ReviewerName != "Reviewer" || q.RejectionReason != "off topic" {
		t.Fatalf("unexpected update %+v", q)
	}
	q, err = store.UpdateStatus("a", StatusAccepted, "", "ignored")
	if err != nil || q.Status != StatusAccepted || q.RejectionReason != "" || q.ReviewerName != "Reviewer" {
		t.Fatalf("expected acceptance to clear the reason, got %+v, %v", q, err)
	}

	q, err = store.Annotate("a", func(q *Question) {
		q.ID = "hijack"
		q.Critique = "too long"
	})
	if err != nil || q.ID != "a" || q.Critique != "too long" {
		t.Fatalf("unexpected annotate result %+v, %v", q, err)
	}
	if _, err := store.UpdateStatus("missing", StatusAccepted, "", ""); !errors.Is(err, ErrQuestionNotFound) {
		t.Fatalf("expected ErrQuestionNotFound, got %v", err)
	}
	if p, ok := store.PartitionOf("a"); !ok || p != PartitionSession {
		t.Fatalf("expected session partition, got %q", p)
	}
}

// TestStoreDeleteAndClear ensures removals update every view.
func TestStoreDeleteAndClear(t *testing.T) {
	store := NewQuestionStore(nil, nil)
	store.Merge(fillCategory("s", DifficultyEasy, TypeMultipleChoice, 3), PartitionSession)
	store.Merge(fillCategory("h", DifficultyEasy, TypeMultipleChoice, 2), PartitionHistorical)

	if !store.Delete("s-0") || store.Delete("s-0") {
		t.Fatalf("expected delete to succeed once")
	}
	if _, ok := store.Get("s-0"); ok {
		t.Fatalf("expected s-0 gone")
	}
	if n := store.Clear(PartitionSession); n != 2 {
		t.Fatalf("expected 2 cleared, got %d", n)
	}
	if store.Len() != 2 || len(store.Canonicals()) != 2 {
		t.Fatalf("expected only historical records left")
	}
}

// TestParsePartition ensures only the two partitions are accepted.
func TestParsePartition(t *testing.T) {
	for in, want := range map[string]Partition{"session": PartitionSession, " Historical ": PartitionHistorical} {
		got, err := ParsePartition(in)
		if err != nil || got != want {
			t.Fatalf("%q: expected %q, got %q (%v)", in, want, got, err)
		}
	}
	for _, in := range []string{"", "archive", "histrical"} {
		if _, err := ParsePartition(in); err == nil {
			t.Fatalf("%q: expected error", in)
		}
	}
}
