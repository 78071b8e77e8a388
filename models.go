package questionbank

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Question represents one language variant of a quiz question
type Question struct {
	ID              string         `json:"id"`
	UniqueID        string         `json:"unique_id"` // shared by all language variants
	Discipline      string         `json:"discipline"`
	Difficulty      string         `json:"difficulty"`
	Type            QuestionType   `json:"type"`
	Language        string         `json:"language"`
	Question        string         `json:"question"`
	Options         Options        `json:"options"`
	Correct         string         `json:"correct"`
	Explanation     string         `json:"explanation,omitempty"`
	Status          QuestionStatus `json:"status"`
	SourceURL       string         `json:"source_url,omitempty"`
	SourceExcerpt   string         `json:"source_excerpt,omitempty"`
	CreatorName     string         `json:"creator_name,omitempty"`
	ReviewerName    string         `json:"reviewer_name,omitempty"`
	QualityScore    int            `json:"quality_score,omitempty"`
	Critique        string         `json:"critique,omitempty"`
	CritiqueScore   int            `json:"critique_score,omitempty"`
	RejectionReason string         `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Options holds the answer texts keyed by letter
type Options struct {
	A string `json:"A"`
	B string `json:"B"`
	C string `json:"C,omitempty"`
	D string `json:"D,omitempty"`
}

// TrueFalseOptions is the fixed option set of every True/False question
var TrueFalseOptions = Options{A: "TRUE", B: "FALSE"}

// Get returns the option text for an answer letter
func (o Options) Get(letter string) string {
	switch strings.ToUpper(letter) {
	case "A":
		return o.A
	case "B":
		return o.B
	case "C":
		return o.C
	case "D":
		return o.D
	}
	return ""
}

// Values returns the options in letter order
func (o Options) Values() []string {
	return []string{o.A, o.B, o.C, o.D}
}

// QuestionStatus represents the review state of a question
type QuestionStatus string

const (
	StatusPending  QuestionStatus = "pending"
	StatusAccepted QuestionStatus = "accepted"
	StatusRejected QuestionStatus = "rejected"
)

// ParseStatus maps free-form status text to a QuestionStatus, defaulting to pending
func ParseStatus(s string) QuestionStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "accepted", "approved":
		return StatusAccepted
	case "rejected":
		return StatusRejected
	}
	return StatusPending
}

// QuestionType is the answer format of a question
type QuestionType string

const (
	TypeMultipleChoice QuestionType = "Multiple Choice"
	TypeTrueFalse      QuestionType = "True/False"
)

// ParseQuestionType normalizes the type labels found in AI output and CSV files
func ParseQuestionType(s string) QuestionType {
	lower := strings.ToLower(strings.TrimSpace(s))
	if strings.Contains(lower, "true") || lower == "t/f" || lower == "tf" {
		return TypeTrueFalse
	}
	return TypeMultipleChoice
}

// Abbrev returns the short label used in category keys
func (t QuestionType) Abbrev() string {
	if t == TypeTrueFalse {
		return "T/F"
	}
	return "MC"
}

// GenerationType is the answer-type mix requested for a generation batch
type GenerationType string

const (
	GenerateMultipleChoice GenerationType = GenerationType(TypeMultipleChoice)
	GenerateTrueFalse      GenerationType = GenerationType(TypeTrueFalse)
	GenerateBalanced       GenerationType = "Balanced"
)

// ParseGenerationType accepts "mc", "tf", "balanced" and the long labels
func ParseGenerationType(s string) GenerationType {
	lower := strings.ToLower(strings.TrimSpace(s))
	switch {
	case lower == "" || strings.HasPrefix(lower, "bal"):
		return GenerateBalanced
	case lower == "mc" || strings.HasPrefix(lower, "multiple"):
		return GenerateMultipleChoice
	default:
		return GenerationType(ParseQuestionType(lower))
	}
}

// Difficulty levels
const (
	DifficultyEasy        = "Easy"
	DifficultyMedium      = "Medium"
	DifficultyHard        = "Hard"
	DifficultyBalancedAll = "Balanced All"
)

// Difficulties lists the levels in category order
var Difficulties = []string{DifficultyEasy, DifficultyMedium, DifficultyHard}

// NormalizeDifficulty canonicalizes the capitalization of known difficulty levels
func NormalizeDifficulty(s string) string {
	trimmed := strings.TrimSpace(s)
	if strings.EqualFold(trimmed, DifficultyBalancedAll) {
		return DifficultyBalancedAll
	}
	for _, d := range Difficulties {
		if strings.EqualFold(trimmed, d) {
			return d
		}
	}
	return trimmed
}

// IsKnownDifficulty reports whether s names a quota difficulty or Balanced All
func IsKnownDifficulty(s string) bool {
	d := NormalizeDifficulty(s)
	if d == DifficultyBalancedAll {
		return true
	}
	for _, known := range Difficulties {
		if d == known {
			return true
		}
	}
	return false
}

// Category is a difficulty × answer-type quota bucket such as "Easy MC"
type Category string

// CategoryFor builds the category key of a difficulty and question type
func CategoryFor(difficulty string, t QuestionType) Category {
	return Category(difficulty + " " + t.Abbrev())
}

// Categories lists all six quota categories
var Categories = []Category{
	"Easy MC", "Easy T/F",
	"Medium MC", "Medium T/F",
	"Hard MC", "Hard T/F",
}

// Category returns the quota category this question counts toward
func (q *Question) Category() Category {
	return CategoryFor(q.Difficulty, q.Type)
}

// Partition identifies which collection a question belongs to
type Partition string

const (
	PartitionSession    Partition = "session"
	PartitionHistorical Partition = "historical"
)

// ParsePartition accepts only the session and historical partitions
func ParsePartition(s string) (Partition, error) {
	switch p := Partition(strings.ToLower(strings.TrimSpace(s))); p {
	case PartitionSession, PartitionHistorical:
		return p, nil
	}
	return "", fmt.Errorf("unknown partition %q (use %s or %s)", s, PartitionSession, PartitionHistorical)
}

// DefaultLanguage is assumed whenever a record carries no language
const DefaultLanguage = "English"

// Language describes a supported content language and its short filename code
type Language struct {
	Name string
	Code string
}

// Languages lists the supported languages; detection order follows this slice
var Languages = []Language{
	{Name: "English", Code: "US"},
	{Name: "Chinese (Simplified)", Code: "CN"},
	{Name: "Japanese", Code: "JP"},
	{Name: "Korean", Code: "KR"},
	{Name: "Spanish", Code: "ES"},
	{Name: "French", Code: "FR"},
	{Name: "German", Code: "DE"},
	{Name: "Italian", Code: "IT"},
	{Name: "Portuguese", Code: "PT"},
	{Name: "Russian", Code: "RU"},
}

// NormalizeLanguage trims a language label and applies the English default
func NormalizeLanguage(lang string) string {
	trimmed := strings.TrimSpace(lang)
	if trimmed == "" {
		return DefaultLanguage
	}
	for _, l := range Languages {
		if strings.EqualFold(trimmed, l.Name) {
			return l.Name
		}
	}
	return trimmed
}

// GenerationRequest represents a request to generate a batch of questions
type GenerationRequest struct {
	Discipline     string         `json:"discipline"`
	Difficulty     string         `json:"difficulty"`
	Type           GenerationType `json:"type"`
	BatchSize      int            `json:"batch_size"`
	Temperature    float32        `json:"temperature,omitempty"`
	SourceMaterial string         `json:"source_material,omitempty"`
	CustomRules    string         `json:"custom_rules,omitempty"`
}

// newQuestionID returns a short random local id
func newQuestionID() string {
	const charset = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 10)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}

// newUniqueID returns a fresh identity for a logical question
func newUniqueID() string {
	return uuid.NewString()
}
