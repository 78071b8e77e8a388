package questionbank

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrQuestionNotFound is returned when an id is not in the store
var ErrQuestionNotFound = errors.New("question not found")

// SaveFunc persists freshly merged questions of one partition. It is called
// after the merge; an error is logged and does not undo the merge.
type SaveFunc func(ctx context.Context, partition Partition, questions []Question) error

type variantKey struct {
	uniqueID string
	language string
}

type storeEntry struct {
	question  Question
	partition Partition
	seq       int
}

// QuestionStore holds every language variant of every logical question,
// keyed by (UniqueID, language) and tagged with the partition it belongs to
type QuestionStore struct {
	mu      sync.RWMutex
	entries map[variantKey]*storeEntry
	byID    map[string]variantKey
	seq     int
	save    SaveFunc
	metrics *Metrics

	// derived, rebuilt after every mutation
	variants  map[string][]Question
	languages map[string][]string
	order     []string // unique ids in first-merged order
}

// NewQuestionStore creates an empty store
func NewQuestionStore(save SaveFunc, metrics *Metrics) *QuestionStore {
	s := &QuestionStore{
		entries: make(map[variantKey]*storeEntry),
		byID:    make(map[string]variantKey),
		save:    save,
		metrics: metrics,
	}
	s.rebuild()
	return s
}

// SetSaveFunc replaces the persistence callback
func (s *QuestionStore) SetSaveFunc(save SaveFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.save = save
}

// AddResult reports what Add did with a batch of candidates
type AddResult struct {
	Merged     []Question
	Duplicates []DedupResult
	SaveErr    error
}

// Add deduplicates candidates against the whole store, merges the novel ones
// into partition and hands them to the save callback
func (s *QuestionStore) Add(ctx context.Context, candidates []Question, partition Partition) AddResult {
	s.mu.Lock()
	ix := NewDedupIndex(s.allLocked())
	novel, results := ix.Filter(candidates)
	merged, dropped := s.mergeLocked(novel, partition)
	save := s.save
	s.mu.Unlock()

	var res AddResult
	res.Merged = merged
	for _, r := range results {
		if r.IsDuplicate {
			res.Duplicates = append(res.Duplicates, r)
		}
	}
	res.Duplicates = append(res.Duplicates, dropped...)
	s.metrics.duplicates(len(res.Duplicates))

	if save != nil && len(merged) > 0 {
		if err := save(ctx, partition, merged); err != nil {
			Log().Errorw("failed to save merged questions", "count", len(merged), "error", err)
			res.SaveErr = err
		}
	}
	return res
}

// Merge appends records to partition without deduplication. A record whose
// (UniqueID, language) is already present is dropped; the first one wins.
// It returns the records actually stored.
func (s *QuestionStore) Merge(records []Question, partition Partition) []Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged, _ := s.mergeLocked(records, partition)
	return merged
}

// mergeLocked stores records and reports the ones dropped because their
// variant was already stored
func (s *QuestionStore) mergeLocked(records []Question, partition Partition) (merged []Question, dropped []DedupResult) {
	merged = make([]Question, 0, len(records))
	for _, q := range records {
		q.Language = NormalizeLanguage(q.Language)
		if q.UniqueID == "" {
			q.UniqueID = newUniqueID()
		}
		if q.ID == "" {
			q.ID = newQuestionID()
		}
		if q.CreatedAt.IsZero() {
			q.CreatedAt = time.Now()
		}
		key := variantKey{uniqueID: q.UniqueID, language: q.Language}
		if existing, exists := s.entries[key]; exists {
			VerboseLog("Question %s: %s variant of %s already stored", q.ID, q.Language, q.UniqueID)
			dropped = append(dropped, DedupResult{
				QuestionID:  q.ID,
				IsDuplicate: true,
				Reason:      "variant already stored",
				DuplicateID: existing.question.ID,
			})
			continue
		}
		if _, taken := s.byID[q.ID]; taken {
			q.ID = newQuestionID()
		}
		s.seq++
		s.entries[key] = &storeEntry{question: q, partition: partition, seq: s.seq}
		s.byID[q.ID] = key
		merged = append(merged, q)
	}
	if len(merged) > 0 {
		s.rebuild()
		s.metrics.merged(partition, len(merged))
	}
	return merged, dropped
}

// rebuild recomputes the derived maps from the entries, in merge order
func (s *QuestionStore) rebuild() {
	sorted := s.sortedLocked()
	s.variants = make(map[string][]Question)
	s.languages = make(map[string][]string)
	s.order = s.order[:0]
	for _, e := range sorted {
		uid := e.question.UniqueID
		if _, seen := s.variants[uid]; !seen {
			s.order = append(s.order, uid)
		}
		s.variants[uid] = append(s.variants[uid], e.question)
		s.languages[uid] = append(s.languages[uid], e.question.Language)
	}
	for _, langs := range s.languages {
		sort.Strings(langs)
	}
}

func (s *QuestionStore) sortedLocked() []*storeEntry {
	sorted := make([]*storeEntry, 0, len(s.entries))
	for _, e := range s.entries {
		sorted = append(sorted, e)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].seq < sorted[j].seq })
	return sorted
}

func (s *QuestionStore) allLocked() []Question {
	sorted := s.sortedLocked()
	out := make([]Question, len(sorted))
	for i, e := range sorted {
		out[i] = e.question
	}
	return out
}

// VariantsOf returns every language variant of a logical question
func (s *QuestionStore) VariantsOf(uniqueID string) []Question {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Question(nil), s.variants[uniqueID]...)
}

// LanguagesOf returns the sorted languages a logical question exists in
func (s *QuestionStore) LanguagesOf(uniqueID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.languages[uniqueID]...)
}

// HasLanguage reports whether a logical question has a variant in lang
func (s *QuestionStore) HasLanguage(uniqueID, lang string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[variantKey{uniqueID: uniqueID, language: NormalizeLanguage(lang)}]
	return ok
}

// Canonical returns the variant that represents a logical question:
// the English one if present, else the first merged
func (s *QuestionStore) Canonical(uniqueID string) (Question, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return canonicalOf(s.variants[uniqueID])
}

func canonicalOf(variants []Question) (Question, bool) {
	if len(variants) == 0 {
		return Question{}, false
	}
	for _, v := range variants {
		if v.Language == DefaultLanguage {
			return v, true
		}
	}
	return variants[0], true
}

// Canonicals returns one representative per logical question in merge order
func (s *QuestionStore) Canonicals() []Question {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Question, 0, len(s.order))
	for _, uid := range s.order {
		if q, ok := canonicalOf(s.variants[uid]); ok {
			out = append(out, q)
		}
	}
	return out
}

// Get returns the question with the given local id
func (s *QuestionStore) Get(id string) (Question, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.byID[id]
	if !ok {
		return Question{}, false
	}
	return s.entries[key].question, true
}

// PartitionOf returns the partition holding the question id
func (s *QuestionStore) PartitionOf(id string) (Partition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.byID[id]
	if !ok {
		return "", false
	}
	return s.entries[key].partition, true
}

// Questions returns the records of one partition in merge order
func (s *QuestionStore) Questions(partition Partition) []Question {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Question
	for _, e := range s.sortedLocked() {
		if e.partition == partition {
			out = append(out, e.question)
		}
	}
	return out
}

// All returns the records of both partitions in merge order
func (s *QuestionStore) All() []Question {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allLocked()
}

// Len returns the number of stored variants
func (s *QuestionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// UpdateStatus sets the review status of a question. reason is kept only
// for rejections; any other status clears it.
func (s *QuestionStore) UpdateStatus(id string, status QuestionStatus, reviewer, reason string) (Question, error) {
	return s.Annotate(id, func(q *Question) {
		q.Status = status
		if reviewer != "" {
			q.ReviewerName = reviewer
		}
		q.RejectionReason = ""
		if status == StatusRejected {
			q.RejectionReason = strings.TrimSpace(reason)
		}
	})
}

// Annotate applies fn to a stored question. Identity fields are restored
// after fn runs.
func (s *QuestionStore) Annotate(id string, fn func(q *Question)) (Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.byID[id]
	if !ok {
		return Question{}, ErrQuestionNotFound
	}
	e := s.entries[key]
	q := e.question
	fn(&q)
	q.ID, q.UniqueID, q.Language = e.question.ID, e.question.UniqueID, e.question.Language
	e.question = q
	s.rebuild()
	return q, nil
}

// Delete removes one question by local id
func (s *QuestionStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.byID[id]
	if !ok {
		return false
	}
	delete(s.entries, key)
	delete(s.byID, id)
	s.rebuild()
	return true
}

// Clear removes every record of partition and returns how many were removed
func (s *QuestionStore) Clear(partition Partition) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if e.partition == partition {
			delete(s.entries, key)
			delete(s.byID, e.question.ID)
			removed++
		}
	}
	if removed > 0 {
		s.rebuild()
	}
	return removed
}
