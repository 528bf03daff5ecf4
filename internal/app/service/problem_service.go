package service

import (
	"context"
	"database/sql"

	"github.com/anuragpy07/ByteBattle/internal/common"
	"github.com/anuragpy07/ByteBattle/internal/domain/model"
	"github.com/anuragpy07/ByteBattle/internal/domain/repository"
	"github.com/anuragpy07/ByteBattle/internal/platform/config"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
)

type ProblemService struct {
	problemRepo repository.ProblemRepository
	db          *sql.DB
	logger      *zap.Logger
}

func NewProblemService(problemRepo repository.ProblemRepository, db *sql.DB, logger *zap.Logger) *ProblemService {
	return &ProblemService{problemRepo: problemRepo, db: db, logger: logger.Named("problems")}
}

type CreateProblemRequest struct {
	Title          string                  `json:"title"`
	Description    string                  `json:"description"`
	Difficulty     model.ProblemDifficulty `json:"difficulty"`
	RuntimeLimitMs int                     `json:"runtime_limit_ms"`
	MemoryLimitKb  int                     `json:"memory_limit_kb"`
	EarlyExit      bool                    `json:"early_exit"`
	Comparator     model.ComparatorKind    `json:"comparator"`
	Publish        bool                    `json:"publish"`
	TestCases      []CreateTestCase        `json:"test_cases"`
}

type CreateTestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
}

func (s *ProblemService) CreateProblem(ctx context.Context, adminID string, req CreateProblemRequest) (*model.Problem, error) {
	if req.Title == "" || len(req.TestCases) == 0 {
		return nil, common.Errorf("title and test cases are required: %w", common.ErrBadRequest)
	}

	runtimeLimit := req.RuntimeLimitMs
	if runtimeLimit <= 0 {
		runtimeLimit = config.AppConfig.DefaultRuntimeLimitMs
	}
	memoryLimit := req.MemoryLimitKb
	if memoryLimit <= 0 {
		memoryLimit = config.AppConfig.DefaultMemoryLimitKb
	}
	comparator := req.Comparator
	if comparator == "" {
		comparator = model.CompareWhitespace
	}
	status := model.ProblemDraft
	if req.Publish {
		status = model.ProblemPublished
	}

	problem := &model.Problem{
		ID:             uuid.NewString(),
		Title:          req.Title,
		Slug:           slug.Make(req.Title),
		Description:    req.Description,
		Difficulty:     req.Difficulty,
		Status:         status,
		RuntimeLimitMs: runtimeLimit,
		MemoryLimitKb:  memoryLimit,
		EarlyExit:      req.EarlyExit,
		Comparator:     comparator,
		CreatedByID:    &adminID,
	}

	testCases := make([]model.TestCase, 0, len(req.TestCases))
	for i, tc := range req.TestCases {
		testCases = append(testCases, model.TestCase{
			ID:             uuid.NewString(),
			ProblemID:      problem.ID,
			Input:          tc.Input,
			ExpectedOutput: tc.ExpectedOutput,
			SortOrder:      i,
		})
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, common.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.problemRepo.CreateProblem(ctx, tx, problem); err != nil {
		return nil, err
	}
	if err := s.problemRepo.AddTestCases(ctx, tx, problem.ID, testCases); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, common.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("problem created",
		zap.String("problem_id", problem.ID),
		zap.String("slug", problem.Slug),
		zap.Int("test_cases", len(testCases)))
	return problem, nil
}

func (s *ProblemService) GetProblemBySlug(ctx context.Context, slug string) (*model.Problem, error) {
	problem, err := s.problemRepo.FindProblemBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if problem.Status != model.ProblemPublished {
		return nil, common.ErrNotFound
	}
	return problem, nil
}

func (s *ProblemService) ListProblems(ctx context.Context, limit, offset int) ([]model.Problem, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.problemRepo.ListProblems(ctx, limit, offset, model.ProblemPublished)
}
