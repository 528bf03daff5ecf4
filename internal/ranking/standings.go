package ranking

import (
	"context"
	"sync"
	"time"

	"github.com/anuragpy07/ByteBattle/internal/domain/model"
	"github.com/anuragpy07/ByteBattle/internal/domain/repository"
	"github.com/anuragpy07/ByteBattle/internal/events"

	"go.uber.org/zap"
)

// Standings is the live, in-memory projection of per-contest rankings. It
// consumes VerdictReady events, maintains one entry per participant, and
// serves consistent sorted snapshots. Entries for different participants
// update concurrently; updates to one participant's entry are serialized by
// a per-entry mutex, and a per-problem submission-timestamp watermark makes
// out-of-order verdict arrival safe.
type Standings struct {
	contests repository.ContestRepository
	subs     repository.SubmissionRepository
	bus      *events.Bus
	logger   *zap.Logger

	mu     sync.RWMutex
	tables map[string]*contestTable
}

type contestTable struct {
	contest model.Contest

	mu      sync.RWMutex
	entries map[string]*liveEntry
	frozen  bool
	final   []model.LeaderboardEntry
}

type liveEntry struct {
	mu         sync.Mutex
	entry      model.LeaderboardEntry
	watermarks map[string]time.Time // problemID -> latest applied submission time
}

func NewStandings(
	contests repository.ContestRepository,
	subs repository.SubmissionRepository,
	bus *events.Bus,
	logger *zap.Logger,
) *Standings {
	return &Standings{
		contests: contests,
		subs:     subs,
		bus:      bus,
		logger:   logger.Named("standings"),
		tables:   make(map[string]*contestTable),
	}
}

// Run consumes verdict events from the bus until ctx is cancelled.
func (s *Standings) Run(ctx context.Context) {
	ch := s.bus.Subscribe(256)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			verdict, isVerdict := ev.(events.VerdictReady)
			if !isVerdict {
				continue
			}
			if verdict.Rejudge {
				s.rebuild(ctx, verdict.Submission)
			} else {
				s.Apply(ctx, verdict)
			}
		}
	}
}

func (s *Standings) table(ctx context.Context, contestID string) (*contestTable, error) {
	s.mu.RLock()
	t, ok := s.tables[contestID]
	s.mu.RUnlock()
	if ok {
		return t, nil
	}

	contest, err := s.contests.GetContestByID(ctx, contestID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[contestID]; ok {
		return t, nil
	}
	t = &contestTable{
		contest: *contest,
		entries: make(map[string]*liveEntry),
		frozen:  contest.Finalized,
	}
	s.tables[contestID] = t
	return t, nil
}

// Apply folds one verdict event into the owning participant's entry.
func (s *Standings) Apply(ctx context.Context, ev events.VerdictReady) {
	sub := ev.Submission
	if sub.ContestID == nil {
		return // practice submission
	}
	if sub.Status != model.StatusJudged || sub.Verdict == model.VerdictInternalError {
		return
	}

	t, err := s.table(ctx, *sub.ContestID)
	if err != nil {
		s.logger.Error("load contest for verdict failed",
			zap.String("contest_id", *sub.ContestID), zap.Error(err))
		return
	}

	t.mu.RLock()
	frozen := t.frozen
	t.mu.RUnlock()
	if frozen {
		s.logger.Debug("verdict for finalized contest rejected",
			zap.String("contest_id", *sub.ContestID), zap.String("submission_id", sub.ID))
		return
	}
	if sub.SubmittedAt.After(t.contest.EndTime) || sub.SubmittedAt.Before(t.contest.StartTime) {
		s.logger.Debug("submission outside contest window ignored",
			zap.String("submission_id", sub.ID))
		return
	}

	e := t.entry(sub.UserID, *sub.ContestID)

	e.mu.Lock()
	if wm, ok := e.watermarks[sub.ProblemID]; ok && !sub.SubmittedAt.After(wm) {
		e.mu.Unlock()
		s.logger.Warn("stale standings update discarded",
			zap.String("submission_id", sub.ID),
			zap.String("user_id", sub.UserID),
			zap.String("problem_id", sub.ProblemID))
		return
	}
	e.watermarks[sub.ProblemID] = sub.SubmittedAt

	pr, ok := e.entry.Problems[sub.ProblemID]
	if !ok {
		pr = &model.ProblemResult{ProblemID: sub.ProblemID}
		e.entry.Problems[sub.ProblemID] = pr
	}
	if !pr.Solved {
		switch {
		case sub.Verdict == model.VerdictAccepted:
			pr.Solved = true
			pr.AcceptedAt = sub.SubmittedAt
			pr.BestSubmissionID = sub.ID
		case sub.Verdict.CountsAsWrongAttempt():
			pr.WrongAttempts++
		}
		e.entry.Score, e.entry.Penalty, e.entry.LastAcceptedAt =
			Calculate(t.contest.Policy, t.contest.StartTime, e.entry.Problems)
	}
	changed := e.snapshotLocked()
	e.mu.Unlock()

	s.publishDelta(t, changed)
}

// rebuild re-derives one participant's entry from the submission store,
// used when a rejudge supersedes an earlier verdict.
func (s *Standings) rebuild(ctx context.Context, sub model.Submission) {
	if sub.ContestID == nil {
		return
	}
	t, err := s.table(ctx, *sub.ContestID)
	if err != nil {
		s.logger.Error("load contest for rebuild failed",
			zap.String("contest_id", *sub.ContestID), zap.Error(err))
		return
	}
	t.mu.RLock()
	frozen := t.frozen
	t.mu.RUnlock()
	if frozen {
		return
	}

	history, err := s.subs.ListUserContestJudged(ctx, *sub.ContestID, sub.UserID, t.contest.EndTime)
	if err != nil {
		s.logger.Error("load history for rebuild failed",
			zap.String("user_id", sub.UserID), zap.Error(err))
		return
	}

	problems := FoldSubmissions(history)[sub.UserID]
	if problems == nil {
		problems = make(map[string]*model.ProblemResult)
	}

	e := t.entry(sub.UserID, *sub.ContestID)
	e.mu.Lock()
	e.entry.Problems = problems
	e.entry.Score, e.entry.Penalty, e.entry.LastAcceptedAt =
		Calculate(t.contest.Policy, t.contest.StartTime, problems)
	e.watermarks = make(map[string]time.Time)
	for _, h := range history {
		if wm, ok := e.watermarks[h.ProblemID]; !ok || h.SubmittedAt.After(wm) {
			e.watermarks[h.ProblemID] = h.SubmittedAt
		}
	}
	changed := e.snapshotLocked()
	e.mu.Unlock()

	s.publishDelta(t, changed)
}

func (t *contestTable) entry(userID, contestID string) *liveEntry {
	t.mu.RLock()
	e, ok := t.entries[userID]
	t.mu.RUnlock()
	if ok {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[userID]; ok {
		return e
	}
	e = &liveEntry{
		entry: model.LeaderboardEntry{
			ContestID: contestID,
			UserID:    userID,
			Problems:  make(map[string]*model.ProblemResult),
		},
		watermarks: make(map[string]time.Time),
	}
	t.entries[userID] = e
	return e
}

// snapshotLocked deep-copies the entry; caller holds e.mu.
func (e *liveEntry) snapshotLocked() model.LeaderboardEntry {
	cp := e.entry
	cp.Problems = make(map[string]*model.ProblemResult, len(e.entry.Problems))
	for id, pr := range e.entry.Problems {
		prCopy := *pr
		cp.Problems[id] = &prCopy
	}
	return cp
}

func (s *Standings) publishDelta(t *contestTable, changed model.LeaderboardEntry) {
	// Rank is relative, so derive it from a full sorted view.
	entries := t.snapshotEntries()
	entries = RankEntries(entries)
	for _, e := range entries {
		if e.UserID == changed.UserID {
			changed.Rank = e.Rank
			break
		}
	}
	s.bus.Publish(events.StandingsChanged{ContestID: changed.ContestID, Entry: changed})
}

func (t *contestTable) snapshotEntries() []model.LeaderboardEntry {
	t.mu.RLock()
	live := make([]*liveEntry, 0, len(t.entries))
	for _, e := range t.entries {
		live = append(live, e)
	}
	t.mu.RUnlock()

	entries := make([]model.LeaderboardEntry, 0, len(live))
	for _, e := range live {
		e.mu.Lock()
		entries = append(entries, e.snapshotLocked())
		e.mu.Unlock()
	}
	return entries
}

// Snapshot returns the sorted, rank-assigned leaderboard for a contest. A
// finalized contest returns the frozen entries.
func (s *Standings) Snapshot(ctx context.Context, contestID string) ([]model.LeaderboardEntry, error) {
	t, err := s.table(ctx, contestID)
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	if t.frozen {
		final := make([]model.LeaderboardEntry, len(t.final))
		copy(final, t.final)
		t.mu.RUnlock()
		return final, nil
	}
	t.mu.RUnlock()

	return RankEntries(t.snapshotEntries()), nil
}

// Freeze atomically swaps in the finalized snapshot; subsequent verdict
// events for the contest are rejected.
func (s *Standings) Freeze(ctx context.Context, contestID string, entries []model.LeaderboardEntry) {
	t, err := s.table(ctx, contestID)
	if err != nil {
		s.logger.Error("freeze: load contest failed", zap.String("contest_id", contestID), zap.Error(err))
		return
	}
	t.mu.Lock()
	t.frozen = true
	t.final = make([]model.LeaderboardEntry, len(entries))
	copy(t.final, entries)
	t.mu.Unlock()
	s.logger.Info("standings frozen", zap.String("contest_id", contestID), zap.Int("entries", len(entries)))
}
