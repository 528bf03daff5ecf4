package ranking

import (
	"testing"
	"time"

	"github.com/anuragpy07/ByteBattle/internal/domain/model"
)

var policy = model.ScoringPolicy{PointsPerProblem: 100, WrongAttemptPenalty: 20}

func contestSub(id, userID, problemID string, verdict model.Verdict, at time.Time) model.Submission {
	contestID := "c1"
	return model.Submission{
		ID:          id,
		UserID:      userID,
		ProblemID:   problemID,
		ContestID:   &contestID,
		Status:      model.StatusJudged,
		Verdict:     verdict,
		SubmittedAt: at,
	}
}

func TestCalculateScoreAndPenalty(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// Two wrong attempts, then an accept at +30min: 30 + 2*20 = 70.
	problems := map[string]*model.ProblemResult{
		"pA": {ProblemID: "pA", Solved: true, AcceptedAt: start.Add(30 * time.Minute), WrongAttempts: 2},
		"pB": {ProblemID: "pB", Solved: false, WrongAttempts: 5},
	}

	score, penalty, lastAccepted := Calculate(policy, start, problems)
	if score != 100 {
		t.Errorf("score = %d, want 100 (unsolved problems never score)", score)
	}
	if penalty != 70 {
		t.Errorf("penalty = %d, want 70", penalty)
	}
	if !lastAccepted.Equal(start.Add(30 * time.Minute)) {
		t.Errorf("lastAccepted = %v, want start+30m", lastAccepted)
	}
}

func TestCalculateUnsolvedCarriesNoPenalty(t *testing.T) {
	start := time.Now()
	problems := map[string]*model.ProblemResult{
		"pA": {ProblemID: "pA", WrongAttempts: 10},
	}
	score, penalty, _ := Calculate(policy, start, problems)
	if score != 0 || penalty != 0 {
		t.Errorf("got score=%d penalty=%d, want 0/0 for unsolved", score, penalty)
	}
}

func TestFoldSubmissionsIgnoresAfterSolve(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	subs := []model.Submission{
		contestSub("s1", "alice", "pA", model.VerdictWrongAnswer, start.Add(5*time.Minute)),
		contestSub("s2", "alice", "pA", model.VerdictAccepted, start.Add(10*time.Minute)),
		// After the solve: neither penalizes nor improves.
		contestSub("s3", "alice", "pA", model.VerdictWrongAnswer, start.Add(15*time.Minute)),
		contestSub("s4", "alice", "pA", model.VerdictAccepted, start.Add(20*time.Minute)),
	}

	pr := FoldSubmissions(subs)["alice"]["pA"]
	if !pr.Solved {
		t.Fatal("expected solved")
	}
	if pr.WrongAttempts != 1 {
		t.Errorf("WrongAttempts = %d, want 1", pr.WrongAttempts)
	}
	if !pr.AcceptedAt.Equal(start.Add(10 * time.Minute)) {
		t.Errorf("AcceptedAt = %v, want first accept time", pr.AcceptedAt)
	}
	if pr.BestSubmissionID != "s2" {
		t.Errorf("BestSubmissionID = %s, want s2", pr.BestSubmissionID)
	}
}

func TestFoldSubmissionsInternalErrorNeverPenalizes(t *testing.T) {
	start := time.Now()
	subs := []model.Submission{
		contestSub("s1", "alice", "pA", model.VerdictInternalError, start.Add(time.Minute)),
		contestSub("s2", "alice", "pA", model.VerdictCompileError, start.Add(2*time.Minute)),
	}
	pr := FoldSubmissions(subs)["alice"]["pA"]
	if pr.WrongAttempts != 1 {
		t.Errorf("WrongAttempts = %d, want 1 (internal error excluded, compile error counted)", pr.WrongAttempts)
	}
}

func TestRankEntriesOrderingAndTies(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	entries := []model.LeaderboardEntry{
		{UserID: "carol", Score: 100, Penalty: 50, LastAcceptedAt: base.Add(50 * time.Minute)},
		{UserID: "alice", Score: 200, Penalty: 90, LastAcceptedAt: base.Add(80 * time.Minute)},
		{UserID: "bob", Score: 200, Penalty: 70, LastAcceptedAt: base.Add(70 * time.Minute)},
		{UserID: "dave", Score: 100, Penalty: 50, LastAcceptedAt: base.Add(50 * time.Minute)},
	}

	ranked := RankEntries(entries)

	wantOrder := []string{"bob", "alice", "carol", "dave"}
	for i, want := range wantOrder {
		if ranked[i].UserID != want {
			t.Fatalf("position %d = %s, want %s", i, ranked[i].UserID, want)
		}
	}
	if ranked[0].Rank != 1 || ranked[1].Rank != 2 {
		t.Errorf("ranks = %d,%d, want 1,2", ranked[0].Rank, ranked[1].Rank)
	}
	// carol and dave tie on every key: shared rank, next rank skipped.
	if ranked[2].Rank != 3 || ranked[3].Rank != 3 {
		t.Errorf("tied ranks = %d,%d, want 3,3", ranked[2].Rank, ranked[3].Rank)
	}
}

func TestComputeFinalStandingsDeterministic(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	contest := &model.Contest{
		ID:        "c1",
		StartTime: start,
		EndTime:   start.Add(2 * time.Hour),
		Policy:    policy,
	}
	subs := []model.Submission{
		contestSub("s1", "alice", "pA", model.VerdictWrongAnswer, start.Add(5*time.Minute)),
		contestSub("s2", "alice", "pA", model.VerdictAccepted, start.Add(12*time.Minute)),
		contestSub("s3", "bob", "pA", model.VerdictAccepted, start.Add(8*time.Minute)),
		contestSub("s4", "bob", "pB", model.VerdictTimeLimitExceeded, start.Add(40*time.Minute)),
		contestSub("s5", "alice", "pB", model.VerdictAccepted, start.Add(60*time.Minute)),
	}
	names := map[string]string{"alice": "Alice", "bob": "Bob"}

	first := ComputeFinalStandings(contest, subs, names)
	if len(first) != 2 {
		t.Fatalf("entries = %d, want 2", len(first))
	}
	// alice: 200 pts, penalty 12+20 + 60 = 92. bob: 100 pts, penalty 8.
	if first[0].UserID != "alice" || first[0].Score != 200 || first[0].Penalty != 92 {
		t.Errorf("winner = %+v, want alice 200/92", first[0])
	}
	if first[1].UserID != "bob" || first[1].Score != 100 || first[1].Penalty != 8 {
		t.Errorf("runner-up = %+v, want bob 100/8", first[1])
	}

	// Same history replayed yields the identical ranking.
	for i := 0; i < 10; i++ {
		again := ComputeFinalStandings(contest, subs, names)
		for j := range again {
			if again[j].UserID != first[j].UserID ||
				again[j].Rank != first[j].Rank ||
				again[j].Score != first[j].Score ||
				again[j].Penalty != first[j].Penalty {
				t.Fatalf("replay %d diverged at %d: %+v vs %+v", i, j, again[j], first[j])
			}
		}
	}
}
