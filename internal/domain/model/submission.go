package model

import "time"

type SubmissionStatus string

const (
	StatusQueued    SubmissionStatus = "Queued"
	StatusJudging   SubmissionStatus = "Judging"
	StatusJudged    SubmissionStatus = "Judged"
	StatusFailed    SubmissionStatus = "Failed"
	StatusCancelled SubmissionStatus = "Cancelled"
)

type Verdict string

const (
	VerdictNone                Verdict = ""
	VerdictAccepted            Verdict = "Accepted"
	VerdictWrongAnswer         Verdict = "WrongAnswer"
	VerdictTimeLimitExceeded   Verdict = "TimeLimitExceeded"
	VerdictMemoryLimitExceeded Verdict = "MemoryLimitExceeded"
	VerdictRuntimeError        Verdict = "RuntimeError"
	VerdictCompileError        Verdict = "CompileError"
	VerdictInternalError       Verdict = "InternalError"

	// OutcomeSkipped marks test cases not run after an early-exit failure.
	// Valid only per test case, never as a submission verdict.
	OutcomeSkipped Verdict = "Skipped"
)

// verdictSeverity orders verdicts for worst-of aggregation. Higher wins.
var verdictSeverity = map[Verdict]int{
	VerdictAccepted:            0,
	VerdictWrongAnswer:         1,
	VerdictMemoryLimitExceeded: 2,
	VerdictTimeLimitExceeded:   3,
	VerdictRuntimeError:        4,
	VerdictCompileError:        5,
}

// WorseVerdict returns the more severe of two verdicts.
func WorseVerdict(a, b Verdict) Verdict {
	if verdictSeverity[b] > verdictSeverity[a] {
		return b
	}
	return a
}

// CountsAsWrongAttempt reports whether a judged verdict accrues a
// wrong-attempt penalty for contest scoring. Infrastructure failures never
// penalize the participant.
func (v Verdict) CountsAsWrongAttempt() bool {
	switch v {
	case VerdictWrongAnswer, VerdictTimeLimitExceeded, VerdictMemoryLimitExceeded,
		VerdictRuntimeError, VerdictCompileError:
		return true
	}
	return false
}

type Submission struct {
	ID              string           `json:"id"`
	UserID          string           `json:"user_id"`
	ProblemID       string           `json:"problem_id"`
	ContestID       *string          `json:"contest_id,omitempty"` // nil for practice submissions
	Language        string           `json:"language"`
	Code            string           `json:"code,omitempty"`
	Status          SubmissionStatus `json:"status"`
	Verdict         Verdict          `json:"verdict,omitempty"`
	Attempts        int              `json:"attempts"`
	TotalTimeMs     *int             `json:"total_time_ms,omitempty"`
	MaxMemoryKb     *int             `json:"max_memory_kb,omitempty"`
	SubmittedAt     time.Time        `json:"submitted_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	TestCaseResults []TestCaseResult `json:"test_case_results,omitempty"`
}

type TestCaseResult struct {
	ID           string  `json:"id"`
	SubmissionID string  `json:"submission_id"`
	TestIndex    int     `json:"test_index"`
	Outcome      Verdict `json:"outcome"`
	TimeMs       int     `json:"time_ms"`
	MemoryKb     int     `json:"memory_kb"`
	ActualOutput *string `json:"actual_output,omitempty"`
}
