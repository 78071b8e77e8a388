package questionbank

import (
	"fmt"
)

// QuotaTargets are the fill targets of the question bank
type QuotaTargets struct {
	PerCategory      int `mapstructure:"per_category"`
	Total            int `mapstructure:"total"`
	MaxBalancedBatch int `mapstructure:"max_balanced_batch"`
}

// DefaultQuotaTargets returns the standard 33 per category, 200 total
func DefaultQuotaTargets() QuotaTargets {
	return QuotaTargets{PerCategory: 33, Total: 200, MaxBalancedBatch: 30}
}

// CategoryCounts maps every category to its current count
type CategoryCounts map[Category]int

// Total sums the six categories
func (c CategoryCounts) Total() int {
	total := 0
	for _, cat := range Categories {
		total += c[cat]
	}
	return total
}

// Difficulty sums both answer types of one difficulty
func (c CategoryCounts) Difficulty(difficulty string) int {
	return c[CategoryFor(difficulty, TypeMultipleChoice)] + c[CategoryFor(difficulty, TypeTrueFalse)]
}

// CanonicalSource lists one representative variant per logical question
type CanonicalSource interface {
	Canonicals() []Question
}

// QuotaTracker decides whether and how much generation may proceed
type QuotaTracker struct {
	targets QuotaTargets
}

// NewQuotaTracker creates a tracker; zero fields in targets take the defaults
func NewQuotaTracker(targets QuotaTargets) *QuotaTracker {
	def := DefaultQuotaTargets()
	if targets.PerCategory <= 0 {
		targets.PerCategory = def.PerCategory
	}
	if targets.Total <= 0 {
		targets.Total = def.Total
	}
	if targets.MaxBalancedBatch <= 0 {
		targets.MaxBalancedBatch = def.MaxBalancedBatch
	}
	return &QuotaTracker{targets: targets}
}

// Targets returns the effective targets
func (t *QuotaTracker) Targets() QuotaTargets {
	return t.targets
}

// CountsByCategory counts each logical question once, by its canonical
// variant, when it is not rejected and belongs to discipline.
// All six categories are always present.
func (t *QuotaTracker) CountsByCategory(src CanonicalSource, discipline string) CategoryCounts {
	counts := make(CategoryCounts, len(Categories))
	for _, cat := range Categories {
		counts[cat] = 0
	}
	for _, q := range src.Canonicals() {
		if q.Status == StatusRejected || q.Discipline != discipline {
			continue
		}
		cat := q.Category()
		if _, known := counts[cat]; known {
			counts[cat]++
		}
	}
	return counts
}

func (t *QuotaTracker) remaining(cat Category, counts CategoryCounts) int {
	return max(0, t.targets.PerCategory-counts[cat])
}

func (t *QuotaTracker) globalRemaining(counts CategoryCounts) int {
	return max(0, t.targets.Total-counts.Total())
}

// IsCategoryFull reports whether a category reached its target
func (t *QuotaTracker) IsCategoryFull(cat Category, counts CategoryCounts) bool {
	return counts[cat] >= t.targets.PerCategory
}

// MaxAllowedBatch returns the largest batch the selection may request
func (t *QuotaTracker) MaxAllowedBatch(difficulty string, counts CategoryCounts) int {
	global := t.globalRemaining(counts)
	if global == 0 || !IsKnownDifficulty(difficulty) {
		return 0
	}

	if NormalizeDifficulty(difficulty) == DifficultyBalancedAll {
		total := 0
		for _, cat := range Categories {
			total += t.remaining(cat, counts)
		}
		return min(t.targets.MaxBalancedBatch, total, global)
	}

	difficulty = NormalizeDifficulty(difficulty)
	left := t.remaining(CategoryFor(difficulty, TypeMultipleChoice), counts) +
		t.remaining(CategoryFor(difficulty, TypeTrueFalse), counts)
	return min(t.targets.PerCategory, left, global)
}

// GenerationDecision is the verdict of ValidateGeneration
type GenerationDecision struct {
	Allowed    bool         `json:"allowed"`
	Reason     string       `json:"reason"`
	MaxAllowed int          `json:"max_allowed"`
	ForceType  QuestionType `json:"force_type,omitempty"`
}

// ValidateGeneration decides whether a batch may be generated. A full quota
// is a normal outcome reported in the decision, never an error.
func (t *QuotaTracker) ValidateGeneration(discipline, difficulty string, batchSize int, src CanonicalSource, genType GenerationType) GenerationDecision {
	counts := t.CountsByCategory(src, discipline)
	return t.Decide(difficulty, batchSize, counts, genType)
}

// Decide is ValidateGeneration over precomputed counts
func (t *QuotaTracker) Decide(difficulty string, batchSize int, counts CategoryCounts, genType GenerationType) GenerationDecision {
	if !IsKnownDifficulty(difficulty) {
		return GenerationDecision{
			Reason: fmt.Sprintf("Unknown difficulty %q. Use Easy, Medium, Hard or %s.", difficulty, DifficultyBalancedAll),
		}
	}
	global := t.globalRemaining(counts)
	if global == 0 {
		return GenerationDecision{
			Reason: fmt.Sprintf("Total quota reached (%d questions). No more generation allowed.", t.targets.Total),
		}
	}
	if batchSize <= 0 {
		return GenerationDecision{Reason: "Batch size must be at least 1."}
	}

	difficulty = NormalizeDifficulty(difficulty)
	levels := []string{difficulty}
	if difficulty == DifficultyBalancedAll {
		levels = Difficulties
	}
	var mcLeft, tfLeft int
	for _, d := range levels {
		mcLeft += t.remaining(CategoryFor(d, TypeMultipleChoice), counts)
		tfLeft += t.remaining(CategoryFor(d, TypeTrueFalse), counts)
	}

	switch genType {
	case GenerateMultipleChoice, GenerateTrueFalse:
		qType, left, other := TypeMultipleChoice, mcLeft, TypeTrueFalse
		if genType == GenerateTrueFalse {
			qType, left, other = TypeTrueFalse, tfLeft, TypeMultipleChoice
		}
		if left == 0 {
			return GenerationDecision{
				Reason: fmt.Sprintf("%s %s is full (%d/%d). Switch to %s or another difficulty.",
					difficulty, qType.Abbrev(), t.targets.PerCategory, t.targets.PerCategory, other),
			}
		}
		return t.allow(batchSize, min(left, global), "")

	default:
		switch {
		case mcLeft == 0 && tfLeft == 0:
			return GenerationDecision{
				Reason: fmt.Sprintf("Category %q is full for both types. Select a different difficulty.", difficulty),
			}
		case mcLeft == 0:
			return t.allow(batchSize, min(tfLeft, global), TypeTrueFalse)
		case tfLeft == 0:
			return t.allow(batchSize, min(mcLeft, global), TypeMultipleChoice)
		}
		return t.allow(batchSize, min(mcLeft+tfLeft, global), "")
	}
}

// allow builds an allowed decision; left is already capped by the global remainder
func (t *QuotaTracker) allow(batchSize, left int, force QuestionType) GenerationDecision {
	d := GenerationDecision{
		Allowed:    true,
		Reason:     "Generation allowed",
		MaxAllowed: min(batchSize, left),
		ForceType:  force,
	}
	switch {
	case force != "":
		d.Reason = fmt.Sprintf("Other type is full, generating %s only.", force)
	case batchSize > left:
		d.Reason = fmt.Sprintf("Only %d questions remaining. Batch size reduced.", left)
	}
	return d
}

// CategoryStatus is the fill state of one category
type CategoryStatus struct {
	Current    int  `json:"current"`
	Target     int  `json:"target"`
	Remaining  int  `json:"remaining"`
	Full       bool `json:"full"`
	Percentage int  `json:"percentage"`
}

// TotalKey is the Status entry for the global total
const TotalKey Category = "TOTAL"

// Status reports every category plus TotalKey
func (t *QuotaTracker) Status(counts CategoryCounts) map[Category]CategoryStatus {
	status := make(map[Category]CategoryStatus, len(Categories)+1)
	for _, cat := range Categories {
		status[cat] = newCategoryStatus(counts[cat], t.targets.PerCategory)
	}
	status[TotalKey] = newCategoryStatus(counts.Total(), t.targets.Total)
	return status
}

func newCategoryStatus(current, target int) CategoryStatus {
	pct := 0
	if target > 0 {
		pct = min(100, current*100/target)
	}
	return CategoryStatus{
		Current:    current,
		Target:     target,
		Remaining:  max(0, target-current),
		Full:       current >= target,
		Percentage: pct,
	}
}

// SuggestCategory returns the least filled category that still has room.
// Ties go to the earlier category. ok is false when everything is full.
func (t *QuotaTracker) SuggestCategory(counts CategoryCounts) (cat Category, ok bool) {
	if t.globalRemaining(counts) == 0 {
		return "", false
	}
	best := -1
	for _, c := range Categories {
		if t.IsCategoryFull(c, counts) {
			continue
		}
		if best < 0 || counts[c] < best {
			cat, best = c, counts[c]
		}
	}
	return cat, best >= 0
}
