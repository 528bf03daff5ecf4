package ranking

import (
	"context"
	"time"

	"github.com/anuragpy07/ByteBattle/internal/domain/model"
	"github.com/anuragpy07/ByteBattle/internal/domain/repository"
	"github.com/anuragpy07/ByteBattle/internal/events"
	"github.com/anuragpy07/ByteBattle/internal/platform/cache"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const finalizeLockPrefix = "finalize:"

// Finalizer periodically freezes rankings of contests past their end time.
// It is safe to run in multiple processes: each contest is guarded by a
// time-bounded distributed lock, and the computation is deterministic and
// idempotent, so a crashed finalization is simply redone on a later tick.
type Finalizer struct {
	contests  repository.ContestRepository
	subs      repository.SubmissionRepository
	users     repository.UserRepository
	standings *Standings
	locker    cache.Locker
	bus       *events.Bus
	logger    *zap.Logger

	interval time.Duration
	lockTTL  time.Duration
}

func NewFinalizer(
	contests repository.ContestRepository,
	subs repository.SubmissionRepository,
	users repository.UserRepository,
	standings *Standings,
	locker cache.Locker,
	bus *events.Bus,
	logger *zap.Logger,
	interval, lockTTL time.Duration,
) *Finalizer {
	return &Finalizer{
		contests:  contests,
		subs:      subs,
		users:     users,
		standings: standings,
		locker:    locker,
		bus:       bus,
		logger:    logger.Named("finalizer"),
		interval:  interval,
		lockTTL:   lockTTL,
	}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (f *Finalizer) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	f.logger.Info("finalizer started", zap.Duration("interval", f.interval))
	for {
		select {
		case <-ctx.Done():
			f.logger.Info("finalizer stopping")
			return
		case <-ticker.C:
			if err := f.Sweep(ctx); err != nil {
				f.logger.Error("finalization sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep finalizes every ended, unfinalized contest it can lock.
func (f *Finalizer) Sweep(ctx context.Context) error {
	candidates, err := f.contests.ListEndedUnfinalized(ctx, time.Now())
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, c := range candidates {
		contest := c
		g.Go(func() error {
			return f.FinalizeContest(ctx, &contest)
		})
	}
	return g.Wait()
}

// FinalizeContest freezes one contest's rankings. Losing the lock race is
// not an error: the holder finishes the job, or a later tick retries.
func (f *Finalizer) FinalizeContest(ctx context.Context, contest *model.Contest) error {
	release, acquired, err := f.locker.Acquire(ctx, finalizeLockPrefix+contest.ID, f.lockTTL)
	if err != nil {
		f.logger.Error("finalize lock error", zap.String("contest_id", contest.ID), zap.Error(err))
		return nil // retried next tick
	}
	if !acquired {
		f.logger.Debug("finalize lock held elsewhere, skipping",
			zap.String("contest_id", contest.ID))
		return nil
	}
	defer release()

	// An in-window submission still Queued or Judging would be lost for
	// good once the table freezes: wait it out. The contest stays
	// unfinalized and is picked up again next sweep.
	pending, err := f.subs.CountPendingInWindow(ctx, contest.ID, contest.EndTime)
	if err != nil {
		return err
	}
	if pending > 0 {
		f.logger.Info("deferring finalization, in-window submissions still judging",
			zap.String("contest_id", contest.ID), zap.Int("pending", pending))
		return nil
	}

	// Only the submission time decides inclusion: a submission judged
	// after the end but submitted inside the window still counts, one
	// submitted after the window never does.
	subs, err := f.subs.ListContestJudged(ctx, contest.ID, contest.EndTime)
	if err != nil {
		return err
	}

	userIDs := make([]string, 0)
	seen := make(map[string]bool)
	for _, s := range subs {
		if !seen[s.UserID] {
			seen[s.UserID] = true
			userIDs = append(userIDs, s.UserID)
		}
	}
	usernames, err := f.users.UsernamesByIDs(ctx, userIDs)
	if err != nil {
		f.logger.Warn("username lookup failed, finalizing without names",
			zap.String("contest_id", contest.ID), zap.Error(err))
		usernames = map[string]string{}
	}

	entries := ComputeFinalStandings(contest, subs, usernames)

	if err := f.contests.SaveFinalStandings(ctx, contest.ID, entries); err != nil {
		return err
	}
	f.standings.Freeze(ctx, contest.ID, entries)
	f.bus.Publish(events.ContestFinalized{ContestID: contest.ID, Entries: entries})

	f.logger.Info("contest finalized",
		zap.String("contest_id", contest.ID),
		zap.Int("participants", len(entries)),
		zap.Int("submissions", len(subs)))
	return nil
}

// ComputeFinalStandings derives the frozen leaderboard from the full
// submission history. Pure: same history, same result.
func ComputeFinalStandings(contest *model.Contest, subs []model.Submission, usernames map[string]string) []model.LeaderboardEntry {
	byUser := FoldSubmissions(subs)

	entries := make([]model.LeaderboardEntry, 0, len(byUser))
	for userID, problems := range byUser {
		score, penalty, lastAccepted := Calculate(contest.Policy, contest.StartTime, problems)
		entries = append(entries, model.LeaderboardEntry{
			ContestID:      contest.ID,
			UserID:         userID,
			Username:       usernames[userID],
			Score:          score,
			Penalty:        penalty,
			LastAcceptedAt: lastAccepted,
			Problems:       problems,
		})
	}
	return RankEntries(entries)
}
