package judge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/anuragpy07/ByteBattle/internal/domain/model"
	"github.com/anuragpy07/ByteBattle/internal/domain/repository"
	"github.com/anuragpy07/ByteBattle/internal/events"
	"github.com/anuragpy07/ByteBattle/internal/platform/queue"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type PoolConfig struct {
	Workers      int
	MaxAttempts  int
	RetryBackoff time.Duration
	// StaleAfter bounds how long a submission may sit in Judging before
	// the reaper assumes its worker died and requeues it. Zero disables
	// the reaper.
	StaleAfter time.Duration
	Checkers   CheckerRegistry
}

// Pool judges queued submissions with a bounded set of workers. Each
// submission is judged by exactly one worker; test cases run serially in
// index order.
type Pool struct {
	queue   queue.Queue
	sandbox Sandbox
	subs    repository.SubmissionRepository
	probs   repository.ProblemRepository
	bus     *events.Bus
	logger  *zap.Logger

	workers      int
	maxAttempts  int
	retryBackoff time.Duration
	staleAfter   time.Duration
	checkers     CheckerRegistry

	startOnce sync.Once
	wg        sync.WaitGroup
}

func NewPool(
	q queue.Queue,
	sandbox Sandbox,
	subs repository.SubmissionRepository,
	probs repository.ProblemRepository,
	bus *events.Bus,
	logger *zap.Logger,
	cfg PoolConfig,
) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Pool{
		queue:        q,
		sandbox:      sandbox,
		subs:         subs,
		probs:        probs,
		bus:          bus,
		logger:       logger.Named("judge"),
		workers:      cfg.Workers,
		maxAttempts:  cfg.MaxAttempts,
		retryBackoff: cfg.RetryBackoff,
		staleAfter:   cfg.StaleAfter,
		checkers:     cfg.Checkers,
	}
}

// Enqueue pushes a submission ID onto the judging queue.
func (p *Pool) Enqueue(ctx context.Context, submissionID string) error {
	return p.queue.Push(ctx, submissionID)
}

// Start launches the worker loops and, when configured, the reaper that
// reclaims submissions orphaned in Judging by a dead worker. They exit
// when ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.wg.Add(p.workers)
		for i := 0; i < p.workers; i++ {
			go p.loop(ctx, i)
		}
		if p.staleAfter > 0 {
			p.wg.Add(1)
			go p.reaper(ctx)
		}
		p.logger.Info("judge pool started", zap.Int("workers", p.workers))
	})
}

func (p *Pool) reaper(ctx context.Context) {
	defer p.wg.Done()
	if err := p.Recover(ctx); err != nil {
		p.logger.Error("startup recovery failed", zap.Error(err))
	}
	ticker := time.NewTicker(p.staleAfter)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Recover(ctx); err != nil {
				p.logger.Error("stale submission recovery failed", zap.Error(err))
			}
		}
	}
}

// Recover flips submissions stuck in Judging longer than StaleAfter back
// to Queued and re-enqueues them. A crashed worker's BRPOP already consumed
// the queue entry, so without this the submission would hang forever.
func (p *Pool) Recover(ctx context.Context) error {
	ids, err := p.subs.ListStaleJudging(ctx, time.Now().Add(-p.staleAfter))
	if err != nil {
		return err
	}
	for _, id := range ids {
		ok, err := p.subs.UpdateStatusIf(ctx, id, model.StatusJudging, model.StatusQueued)
		if err != nil {
			p.logger.Error("stale requeue status flip failed", zap.String("submission_id", id), zap.Error(err))
			continue
		}
		if !ok {
			continue // finished or cancelled in the meantime
		}
		if err := p.queue.Push(ctx, id); err != nil {
			p.logger.Error("stale requeue push failed", zap.String("submission_id", id), zap.Error(err))
			continue
		}
		p.logger.Warn("requeued submission orphaned in judging", zap.String("submission_id", id))
	}
	return nil
}

// Wait blocks until all workers have returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) loop(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := p.logger.With(zap.Int("worker", id))
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker stopping")
			return
		default:
		}

		submissionID, err := p.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			logger.Error("queue pop failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		p.judgeOne(ctx, logger, submissionID)
	}
}

func (p *Pool) judgeOne(ctx context.Context, logger *zap.Logger, submissionID string) {
	sub, err := p.subs.GetSubmissionByID(ctx, submissionID)
	if err != nil {
		logger.Error("fetch submission failed", zap.String("submission_id", submissionID), zap.Error(err))
		return
	}

	// A queued submission that already carries a verdict is a rejudge pass.
	rejudge := sub.Verdict != model.VerdictNone

	// Loses the race against Cancel or a duplicate queue entry.
	claimed, err := p.subs.MarkJudging(ctx, sub.ID)
	if err != nil {
		logger.Error("mark judging failed", zap.String("submission_id", sub.ID), zap.Error(err))
		return
	}
	if !claimed {
		logger.Debug("submission not claimable, skipping",
			zap.String("submission_id", sub.ID), zap.String("status", string(sub.Status)))
		return
	}

	problem, err := p.probs.FindProblemByID(ctx, sub.ProblemID)
	if err != nil {
		p.failTerminally(ctx, logger, sub, "problem lookup failed")
		return
	}
	testCases, err := p.probs.GetTestCasesByProblemID(ctx, problem.ID)
	if err != nil || len(testCases) == 0 {
		p.failTerminally(ctx, logger, sub, "no test cases available")
		return
	}

	comparator := ComparatorFor(problem, p.checkers)

	var results []model.TestCaseResult
	verdict := model.VerdictAccepted
	totalTime := 0
	maxMemory := 0

	for i, tc := range testCases {
		res, err := p.sandbox.Run(ctx, RunRequest{
			Language:      sub.Language,
			Code:          sub.Code,
			Input:         tc.Input,
			TimeLimitMs:   problem.RuntimeLimitMs,
			MemoryLimitKb: problem.MemoryLimitKb,
		})
		if err != nil {
			// Infrastructure failure, not a program error: retry the
			// whole submission up to the attempt budget.
			p.retryOrFail(ctx, logger, sub, err)
			return
		}

		outcome := p.outcomeFor(res, tc, comparator)
		actual := res.Stdout
		results = append(results, model.TestCaseResult{
			ID:           uuid.NewString(),
			SubmissionID: sub.ID,
			TestIndex:    i,
			Outcome:      outcome,
			TimeMs:       res.TimeMs,
			MemoryKb:     res.MemoryKb,
			ActualOutput: &actual,
		})
		totalTime += res.TimeMs
		if res.MemoryKb > maxMemory {
			maxMemory = res.MemoryKb
		}

		if outcome != model.VerdictAccepted {
			if problem.EarlyExit {
				// First failure decides the verdict; remaining cases
				// are recorded as skipped.
				verdict = outcome
				for j := i + 1; j < len(testCases); j++ {
					results = append(results, model.TestCaseResult{
						ID:           uuid.NewString(),
						SubmissionID: sub.ID,
						TestIndex:    j,
						Outcome:      model.OutcomeSkipped,
					})
				}
				break
			}
			verdict = model.WorseVerdict(verdict, outcome)
		}
	}

	sub.Status = model.StatusJudged
	sub.Verdict = verdict
	sub.TotalTimeMs = &totalTime
	sub.MaxMemoryKb = &maxMemory
	sub.TestCaseResults = results

	if err := p.subs.SaveJudgeResult(ctx, sub); err != nil {
		logger.Error("persist verdict failed", zap.String("submission_id", sub.ID), zap.Error(err))
		return
	}

	logger.Info("submission judged",
		zap.String("submission_id", sub.ID),
		zap.String("verdict", string(verdict)),
		zap.Int("cases", len(results)))

	p.bus.Publish(events.VerdictReady{Submission: *sub, Rejudge: rejudge})
}

func (p *Pool) outcomeFor(res *RunResult, tc model.TestCase, comparator Comparator) model.Verdict {
	switch res.ExitKind {
	case ExitTimedOut:
		return model.VerdictTimeLimitExceeded
	case ExitMemoryExceeded:
		return model.VerdictMemoryLimitExceeded
	case ExitRuntimeError:
		return model.VerdictRuntimeError
	case ExitCompileError:
		return model.VerdictCompileError
	}
	if comparator.Match(tc.Input, tc.ExpectedOutput, res.Stdout) {
		return model.VerdictAccepted
	}
	return model.VerdictWrongAnswer
}

// retryOrFail requeues the submission after a transient sandbox failure, or
// marks it terminally Failed once the attempt budget is spent.
func (p *Pool) retryOrFail(ctx context.Context, logger *zap.Logger, sub *model.Submission, cause error) {
	attempts, err := p.subs.IncrementAttempts(ctx, sub.ID)
	if err != nil {
		logger.Error("increment attempts failed", zap.String("submission_id", sub.ID), zap.Error(err))
		attempts = p.maxAttempts
	}

	if attempts < p.maxAttempts {
		logger.Warn("sandbox failure, requeueing submission",
			zap.String("submission_id", sub.ID), zap.Int("attempt", attempts), zap.Error(cause))
		if _, err := p.subs.UpdateStatusIf(ctx, sub.ID, model.StatusJudging, model.StatusQueued); err != nil {
			logger.Error("requeue status flip failed", zap.String("submission_id", sub.ID), zap.Error(err))
			return
		}
		if p.retryBackoff > 0 {
			select {
			case <-time.After(p.retryBackoff * time.Duration(attempts)):
			case <-ctx.Done():
			}
		}
		if err := p.queue.Push(ctx, sub.ID); err != nil {
			logger.Error("requeue push failed", zap.String("submission_id", sub.ID), zap.Error(err))
		}
		return
	}

	logger.Error("sandbox failure, attempts exhausted",
		zap.String("submission_id", sub.ID), zap.Int("attempts", attempts), zap.Error(cause))
	p.failTerminally(ctx, logger, sub, "sandbox unavailable")
}

func (p *Pool) failTerminally(ctx context.Context, logger *zap.Logger, sub *model.Submission, reason string) {
	sub.Status = model.StatusFailed
	sub.Verdict = model.VerdictInternalError
	sub.TestCaseResults = nil
	if err := p.subs.SaveJudgeResult(ctx, sub); err != nil {
		logger.Error("persist terminal failure failed", zap.String("submission_id", sub.ID), zap.Error(err))
		return
	}
	logger.Warn("submission failed terminally",
		zap.String("submission_id", sub.ID), zap.String("reason", reason))
	p.bus.Publish(events.VerdictReady{Submission: *sub})
}
