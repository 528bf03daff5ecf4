package ranking

import (
	"sort"
	"time"

	"github.com/anuragpy07/ByteBattle/internal/domain/model"
)

// Calculate maps a participant's per-problem results to (score, penalty,
// last accept time) under the contest's scoring policy. It is pure and
// deterministic: replaying the same results always yields the same numbers,
// which finalization and rejudge recomputation rely on.
func Calculate(policy model.ScoringPolicy, start time.Time, problems map[string]*model.ProblemResult) (score, penalty int, lastAccepted time.Time) {
	for _, pr := range problems {
		if !pr.Solved {
			continue
		}
		score += policy.PointsPerProblem
		minutes := int(pr.AcceptedAt.Sub(start).Minutes())
		if minutes < 0 {
			minutes = 0
		}
		penalty += minutes + policy.WrongAttemptPenalty*pr.WrongAttempts
		if pr.AcceptedAt.After(lastAccepted) {
			lastAccepted = pr.AcceptedAt
		}
	}
	return score, penalty, lastAccepted
}

// FoldSubmissions replays judged submissions, ordered by submission time,
// into per-user per-problem results. Wrong attempts count only before the
// first accept; anything after a solve is ignored. InternalError verdicts
// never penalize.
func FoldSubmissions(subs []model.Submission) map[string]map[string]*model.ProblemResult {
	byUser := make(map[string]map[string]*model.ProblemResult)
	for _, s := range subs {
		problems, ok := byUser[s.UserID]
		if !ok {
			problems = make(map[string]*model.ProblemResult)
			byUser[s.UserID] = problems
		}
		pr, ok := problems[s.ProblemID]
		if !ok {
			pr = &model.ProblemResult{ProblemID: s.ProblemID}
			problems[s.ProblemID] = pr
		}
		if pr.Solved {
			continue
		}
		switch {
		case s.Verdict == model.VerdictAccepted:
			pr.Solved = true
			pr.AcceptedAt = s.SubmittedAt
			pr.BestSubmissionID = s.ID
		case s.Verdict.CountsAsWrongAttempt():
			pr.WrongAttempts++
		}
	}
	return byUser
}

// RankEntries sorts entries by the standings order and assigns competition
// ranks: entries with an identical (score, penalty, last accept) key share
// a rank.
func RankEntries(entries []model.LeaderboardEntry) []model.LeaderboardEntry {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].BetterThan(&entries[j])
	})
	for i := range entries {
		if i > 0 && sameRankKey(&entries[i], &entries[i-1]) {
			entries[i].Rank = entries[i-1].Rank
		} else {
			entries[i].Rank = i + 1
		}
	}
	return entries
}

func sameRankKey(a, b *model.LeaderboardEntry) bool {
	return a.Score == b.Score && a.Penalty == b.Penalty && a.LastAcceptedAt.Equal(b.LastAcceptedAt)
}
