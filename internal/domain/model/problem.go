package model

import "time"

type ProblemDifficulty string
type ProblemStatus string
type ComparatorKind string

const (
	DifficultyEasy   ProblemDifficulty = "Easy"
	DifficultyMedium ProblemDifficulty = "Medium"
	DifficultyHard   ProblemDifficulty = "Hard"

	ProblemDraft     ProblemStatus = "Draft"
	ProblemPublished ProblemStatus = "Published"

	// How a submission's output is matched against the expected output.
	CompareExact      ComparatorKind = "exact"
	CompareWhitespace ComparatorKind = "whitespace"
	CompareChecker    ComparatorKind = "checker"
)

type Problem struct {
	ID             string            `json:"id"`
	Title          string            `json:"title"`
	Slug           string            `json:"slug"`
	Description    string            `json:"description"`
	Difficulty     ProblemDifficulty `json:"difficulty"`
	Status         ProblemStatus     `json:"status"`
	RuntimeLimitMs int               `json:"runtime_limit_ms"`
	MemoryLimitKb  int               `json:"memory_limit_kb"`
	EarlyExit      bool              `json:"early_exit"` // stop judging at first failing case
	Comparator     ComparatorKind    `json:"comparator"`
	CreatedByID    *string           `json:"created_by_id,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	TestCases      []TestCase        `json:"test_cases,omitempty"` // hidden, admin only view
}

type TestCase struct {
	ID             string    `json:"id"`
	ProblemID      string    `json:"problem_id"`
	Input          string    `json:"input"`
	ExpectedOutput string    `json:"expected_output"`
	SortOrder      int       `json:"sort_order"`
	CreatedAt      time.Time `json:"created_at"`
}

// SupportedLanguages is the closed set of language tags the sandbox accepts.
var SupportedLanguages = map[string]bool{
	"c":      true,
	"cpp":    true,
	"java":   true,
	"python": true,
	"go":     true,
	"js":     true,
}
