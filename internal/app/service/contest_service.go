package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/anuragpy07/ByteBattle/internal/common"
	"github.com/anuragpy07/ByteBattle/internal/domain/model"
	"github.com/anuragpy07/ByteBattle/internal/domain/repository"
	"github.com/anuragpy07/ByteBattle/internal/ranking"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const frozenStandingsCacheTTL = 5 * time.Minute

type ContestService struct {
	contestRepo repository.ContestRepository
	standings   *ranking.Standings
	rdb         *redis.Client
	logger      *zap.Logger
}

func NewContestService(
	contestRepo repository.ContestRepository,
	standings *ranking.Standings,
	rdb *redis.Client,
	logger *zap.Logger,
) *ContestService {
	return &ContestService{
		contestRepo: contestRepo,
		standings:   standings,
		rdb:         rdb,
		logger:      logger.Named("contests"),
	}
}

type CreateContestRequest struct {
	Title               string    `json:"title"`
	StartTime           time.Time `json:"start_time"`
	EndTime             time.Time `json:"end_time"`
	ProblemIDs          []string  `json:"problem_ids"`
	PointsPerProblem    int       `json:"points_per_problem"`
	WrongAttemptPenalty int       `json:"wrong_attempt_penalty"`
}

func (s *ContestService) CreateContest(ctx context.Context, req CreateContestRequest) (*model.Contest, error) {
	if req.Title == "" || len(req.ProblemIDs) == 0 {
		return nil, common.Errorf("title and problems are required: %w", common.ErrBadRequest)
	}
	if !req.EndTime.After(req.StartTime) {
		return nil, common.Errorf("end time must be after start time: %w", common.ErrBadRequest)
	}

	policy := model.DefaultScoringPolicy()
	if req.PointsPerProblem > 0 {
		policy.PointsPerProblem = req.PointsPerProblem
	}
	if req.WrongAttemptPenalty > 0 {
		policy.WrongAttemptPenalty = req.WrongAttemptPenalty
	}

	contest := &model.Contest{
		ID:         uuid.NewString(),
		Title:      req.Title,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		Policy:     policy,
		ProblemIDs: req.ProblemIDs,
	}
	if err := s.contestRepo.CreateContest(ctx, contest); err != nil {
		return nil, err
	}
	s.logger.Info("contest created", zap.String("contest_id", contest.ID), zap.String("title", contest.Title))
	return contest, nil
}

func (s *ContestService) GetContest(ctx context.Context, id string) (*model.Contest, error) {
	return s.contestRepo.GetContestByID(ctx, id)
}

func (s *ContestService) ListContests(ctx context.Context, limit, offset int) ([]model.Contest, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.contestRepo.ListContests(ctx, limit, offset)
}

func (s *ContestService) Join(ctx context.Context, contestID, userID string) error {
	contest, err := s.contestRepo.GetContestByID(ctx, contestID)
	if err != nil {
		return err
	}
	if time.Now().After(contest.EndTime) {
		return common.Errorf("contest already ended: %w", common.ErrContestClosed)
	}
	return s.contestRepo.AddParticipant(ctx, &model.ContestParticipant{
		ContestID: contestID,
		UserID:    userID,
		JoinedAt:  time.Now(),
	})
}

// Leaderboard serves the live standings while the contest runs and the
// frozen snapshot (cached in Redis) once finalized.
func (s *ContestService) Leaderboard(ctx context.Context, contestID string) ([]model.LeaderboardEntry, error) {
	contest, err := s.contestRepo.GetContestByID(ctx, contestID)
	if err != nil {
		return nil, err
	}

	if !contest.Finalized {
		return s.standings.Snapshot(ctx, contestID)
	}

	cacheKey := "standings:" + contestID
	if cached, err := s.rdb.Get(ctx, cacheKey).Bytes(); err == nil {
		var entries []model.LeaderboardEntry
		if err := json.Unmarshal(cached, &entries); err == nil {
			return entries, nil
		}
	}

	entries, err := s.contestRepo.GetFinalStandings(ctx, contestID)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(entries); err == nil {
		if err := s.rdb.Set(ctx, cacheKey, payload, frozenStandingsCacheTTL).Err(); err != nil {
			s.logger.Warn("standings cache write failed", zap.String("contest_id", contestID), zap.Error(err))
		}
	}
	return entries, nil
}
