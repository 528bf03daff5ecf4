package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/anuragpy07/ByteBattle/internal/common"
	"github.com/anuragpy07/ByteBattle/internal/domain/model"
	"github.com/anuragpy07/ByteBattle/internal/domain/repository"
	"github.com/anuragpy07/ByteBattle/internal/judge"
	"github.com/anuragpy07/ByteBattle/internal/platform/cache"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type SubmissionService struct {
	submissionRepo repository.SubmissionRepository
	problemRepo    repository.ProblemRepository
	contestRepo    repository.ContestRepository
	pool           *judge.Pool
	limiter        cache.RateLimiter
	db             *sql.DB
	logger         *zap.Logger
}

func NewSubmissionService(
	subRepo repository.SubmissionRepository,
	probRepo repository.ProblemRepository,
	contestRepo repository.ContestRepository,
	pool *judge.Pool,
	limiter cache.RateLimiter,
	db *sql.DB,
	logger *zap.Logger,
) *SubmissionService {
	return &SubmissionService{
		submissionRepo: subRepo,
		problemRepo:    probRepo,
		contestRepo:    contestRepo,
		pool:           pool,
		limiter:        limiter,
		db:             db,
		logger:         logger.Named("submissions"),
	}
}

type CreateSubmissionRequest struct {
	ProblemID string  `json:"problem_id"`
	ContestID *string `json:"contest_id,omitempty"`
	Language  string  `json:"language"`
	Code      string  `json:"code"`
}

// CreateSubmission validates and enqueues a submission; judging is
// asynchronous and the returned record is still Queued.
func (s *SubmissionService) CreateSubmission(ctx context.Context, userID string, req CreateSubmissionRequest) (*model.Submission, error) {
	if req.Code == "" {
		return nil, common.Errorf("code is required: %w", common.ErrBadRequest)
	}
	if !model.SupportedLanguages[req.Language] {
		return nil, common.Errorf("unsupported language %q: %w", req.Language, common.ErrBadRequest)
	}

	allowed, err := s.limiter.Allow(ctx, userID)
	if err != nil {
		// Rate limiting is advisory: a cache outage must not block intake.
		s.logger.Warn("rate limiter unavailable", zap.Error(err))
	} else if !allowed {
		return nil, common.Errorf("submission rate limit exceeded: %w", common.ErrRateLimited)
	}

	problem, err := s.problemRepo.FindProblemByID(ctx, req.ProblemID)
	if err != nil {
		return nil, common.Errorf("problem not found: %w", err)
	}
	if problem.Status != model.ProblemPublished {
		return nil, common.Errorf("problem is not published: %w", common.ErrForbidden)
	}

	now := time.Now()
	if req.ContestID != nil {
		contest, err := s.contestRepo.GetContestByID(ctx, *req.ContestID)
		if err != nil {
			return nil, common.Errorf("contest not found: %w", err)
		}
		if contest.Finalized {
			return nil, common.Errorf("contest standings are frozen: %w", common.ErrContestFinalized)
		}
		if !contest.Running(now) {
			return nil, common.Errorf("contest is not running: %w", common.ErrContestClosed)
		}
		joined, err := s.contestRepo.IsParticipant(ctx, contest.ID, userID)
		if err != nil {
			return nil, common.Errorf("participant check failed: %w", err)
		}
		if !joined {
			return nil, common.Errorf("join the contest before submitting: %w", common.ErrForbidden)
		}
	}

	submission := &model.Submission{
		ID:          uuid.NewString(),
		UserID:      userID,
		ProblemID:   problem.ID,
		ContestID:   req.ContestID,
		Language:    req.Language,
		Code:        req.Code,
		Status:      model.StatusQueued,
		SubmittedAt: now,
	}

	if err := s.submissionRepo.CreateSubmission(ctx, nil, submission); err != nil {
		return nil, common.Errorf("failed to create submission: %w", err)
	}
	if err := s.pool.Enqueue(ctx, submission.ID); err != nil {
		return nil, common.Errorf("failed to enqueue submission: %w", err)
	}

	s.logger.Info("submission queued",
		zap.String("submission_id", submission.ID),
		zap.String("user_id", userID),
		zap.String("problem_id", problem.ID))
	return submission, nil
}

func (s *SubmissionService) GetSubmission(ctx context.Context, userID, role, submissionID string) (*model.Submission, error) {
	sub, err := s.submissionRepo.GetSubmissionByID(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if sub.UserID != userID && role != model.RoleAdmin {
		return nil, common.ErrForbidden
	}
	results, err := s.submissionRepo.GetTestCaseResults(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	sub.TestCaseResults = results
	return sub, nil
}

func (s *SubmissionService) ListMySubmissions(ctx context.Context, userID string, limit, offset int) ([]model.Submission, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.submissionRepo.ListForUser(ctx, userID, limit, offset)
}

// Cancel removes a submission from the queue. Only possible while Queued;
// a submission already judging runs to completion.
func (s *SubmissionService) Cancel(ctx context.Context, userID, role, submissionID string) error {
	sub, err := s.submissionRepo.GetSubmissionByID(ctx, submissionID)
	if err != nil {
		return err
	}
	if sub.UserID != userID && role != model.RoleAdmin {
		return common.ErrForbidden
	}
	ok, err := s.submissionRepo.UpdateStatusIf(ctx, submissionID, model.StatusQueued, model.StatusCancelled)
	if err != nil {
		return err
	}
	if !ok {
		return common.Errorf("submission is no longer queued: %w", common.ErrConflict)
	}
	s.logger.Info("submission cancelled", zap.String("submission_id", submissionID))
	return nil
}

// Rejudge queues a new judging pass that atomically supersedes the prior
// verdict. Admin only; enforced at the routing layer.
func (s *SubmissionService) Rejudge(ctx context.Context, submissionID string) error {
	sub, err := s.submissionRepo.GetSubmissionByID(ctx, submissionID)
	if err != nil {
		return err
	}
	if sub.Status != model.StatusJudged && sub.Status != model.StatusFailed {
		return common.Errorf("submission is not in a terminal state: %w", common.ErrConflict)
	}
	ok, err := s.submissionRepo.UpdateStatusIf(ctx, submissionID, sub.Status, model.StatusQueued)
	if err != nil {
		return err
	}
	if !ok {
		return common.Errorf("submission state changed, rejudge aborted: %w", common.ErrConflict)
	}
	if err := s.pool.Enqueue(ctx, submissionID); err != nil {
		return common.Errorf("failed to enqueue rejudge: %w", err)
	}
	s.logger.Info("rejudge queued", zap.String("submission_id", submissionID))
	return nil
}
