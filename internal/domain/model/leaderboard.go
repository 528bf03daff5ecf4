package model

import "time"

// ProblemResult is a participant's best outcome on one contest problem.
type ProblemResult struct {
	ProblemID        string    `json:"problem_id"`
	Solved           bool      `json:"solved"`
	AcceptedAt       time.Time `json:"accepted_at,omitempty"`
	WrongAttempts    int       `json:"wrong_attempts"`
	BestSubmissionID string    `json:"best_submission_id,omitempty"`
}

type LeaderboardEntry struct {
	ContestID      string                    `json:"contest_id"`
	UserID         string                    `json:"user_id"`
	Username       string                    `json:"username,omitempty"`
	Rank           int                       `json:"rank"`
	Score          int                       `json:"score"`
	Penalty        int                       `json:"penalty"` // minutes
	LastAcceptedAt time.Time                 `json:"last_accepted_at,omitempty"`
	Problems       map[string]*ProblemResult `json:"problems,omitempty"`
}

// BetterThan orders entries by score desc, penalty asc, earliest
// last-accepted asc. Deterministic tie-break on user ID keeps snapshots
// replayable.
func (e *LeaderboardEntry) BetterThan(o *LeaderboardEntry) bool {
	if e.Score != o.Score {
		return e.Score > o.Score
	}
	if e.Penalty != o.Penalty {
		return e.Penalty < o.Penalty
	}
	if !e.LastAcceptedAt.Equal(o.LastAcceptedAt) {
		return e.LastAcceptedAt.Before(o.LastAcceptedAt)
	}
	return e.UserID < o.UserID
}
