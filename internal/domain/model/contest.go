package model

import "time"

// ScoringPolicy is the points + time-penalty scheme for a contest.
// Penalty is measured in minutes.
type ScoringPolicy struct {
	PointsPerProblem    int `json:"points_per_problem"`
	WrongAttemptPenalty int `json:"wrong_attempt_penalty"`
}

// DefaultScoringPolicy mirrors the conventional ICPC-style scheme.
func DefaultScoringPolicy() ScoringPolicy {
	return ScoringPolicy{PointsPerProblem: 100, WrongAttemptPenalty: 20}
}

type Contest struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
	Finalized  bool          `json:"finalized"`
	Policy     ScoringPolicy `json:"policy"`
	ProblemIDs []string      `json:"problem_ids"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Running reports whether the contest window is open at t.
func (c *Contest) Running(t time.Time) bool {
	return !t.Before(c.StartTime) && !t.After(c.EndTime)
}

// ContestParticipant is unique per (contest, user).
type ContestParticipant struct {
	ContestID string    `json:"contest_id"`
	UserID    string    `json:"user_id"`
	JoinedAt  time.Time `json:"joined_at"`
}
