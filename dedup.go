package questionbank

import (
	"fmt"
	"strings"
)

// DedupResult represents the result of deduplication
type DedupResult struct {
	QuestionID  string `json:"question_id"`
	IsDuplicate bool   `json:"is_duplicate"`
	Reason      string `json:"reason"`
	DuplicateID string `json:"duplicate_id,omitempty"` // ID of the duplicate question if found
}

// DedupIndex answers "have we seen this question" by local id and by
// normalized text. It is not safe for concurrent use.
type DedupIndex struct {
	ids   map[string]struct{}
	texts map[string]string // normalized text -> id of first holder
}

// NewDedupIndex indexes every record of the given partitions
func NewDedupIndex(partitions ...[]Question) *DedupIndex {
	ix := &DedupIndex{
		ids:   make(map[string]struct{}),
		texts: make(map[string]string),
	}
	for _, part := range partitions {
		for i := range part {
			ix.Add(&part[i])
		}
	}
	return ix
}

// NormalizeText is the comparison key for question text
func NormalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Add records q as present
func (ix *DedupIndex) Add(q *Question) {
	if q.ID != "" {
		ix.ids[q.ID] = struct{}{}
	}
	if key := NormalizeText(q.Question); key != "" {
		if _, ok := ix.texts[key]; !ok {
			ix.texts[key] = q.ID
		}
	}
}

// Check reports whether q collides with an indexed record
func (ix *DedupIndex) Check(q *Question) DedupResult {
	if _, ok := ix.ids[q.ID]; ok && q.ID != "" {
		return DedupResult{QuestionID: q.ID, IsDuplicate: true, Reason: "id already present", DuplicateID: q.ID}
	}
	if key := NormalizeText(q.Question); key != "" {
		if holder, ok := ix.texts[key]; ok {
			return DedupResult{QuestionID: q.ID, IsDuplicate: true, Reason: "identical question text", DuplicateID: holder}
		}
	}
	return DedupResult{QuestionID: q.ID, Reason: "novel"}
}

// Filter returns the candidates that are novel against the index and against
// earlier accepted candidates, indexing each one it keeps. The first of two
// colliding candidates wins.
func (ix *DedupIndex) Filter(candidates []Question) (novel []Question, results []DedupResult) {
	novel = make([]Question, 0, len(candidates))
	results = make([]DedupResult, 0, len(candidates))
	for i := range candidates {
		res := ix.Check(&candidates[i])
		results = append(results, res)
		if res.IsDuplicate {
			VerboseLog("Question %s: duplicate of %s (%s)", res.QuestionID, res.DuplicateID, res.Reason)
			continue
		}
		ix.Add(&candidates[i])
		novel = append(novel, candidates[i])
	}
	return novel, results
}

// FilterNovel returns the candidates that duplicate nothing in the partitions
// by id or by normalized text
func FilterNovel(candidates []Question, partitions ...[]Question) []Question {
	novel, results := NewDedupIndex(partitions...).Filter(candidates)
	if removed := len(candidates) - len(novel); removed > 0 {
		Log().Debugw("removed duplicates", "removed", removed, "checked", len(results))
	}
	return novel
}

// CheckDuplicate checks one question against the partitions
func CheckDuplicate(q Question, partitions ...[]Question) DedupResult {
	return NewDedupIndex(partitions...).Check(&q)
}

func (r DedupResult) String() string {
	if !r.IsDuplicate {
		return fmt.Sprintf("%s: unique", r.QuestionID)
	}
	return fmt.Sprintf("%s: duplicate of %s (%s)", r.QuestionID, r.DuplicateID, r.Reason)
}
