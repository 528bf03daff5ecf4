package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/anuragpy07/ByteBattle/internal/common"
	"github.com/anuragpy07/ByteBattle/internal/domain/model"
)

type SubmissionRepository interface {
	CreateSubmission(ctx context.Context, tx *sql.Tx, sub *model.Submission) error
	GetSubmissionByID(ctx context.Context, id string) (*model.Submission, error)

	// MarkJudging flips Queued -> Judging and reports whether this caller
	// won the transition. A false return means the submission was cancelled
	// or claimed elsewhere.
	MarkJudging(ctx context.Context, id string) (bool, error)

	// UpdateStatusIf flips from -> to atomically; false when the current
	// status is not `from`.
	UpdateStatusIf(ctx context.Context, id string, from, to model.SubmissionStatus) (bool, error)

	IncrementAttempts(ctx context.Context, id string) (int, error)

	// SaveJudgeResult persists the final verdict, totals and per-case
	// results in one transaction, superseding any prior judging pass.
	SaveJudgeResult(ctx context.Context, sub *model.Submission) error

	GetTestCaseResults(ctx context.Context, submissionID string) ([]model.TestCaseResult, error)
	ListForUser(ctx context.Context, userID string, limit, offset int) ([]model.Submission, error)

	// ListContestJudged returns judged contest submissions with
	// submitted_at <= cutoff, ordered by submitted_at then id. Late-judged
	// but in-window submissions are included; late-submitted ones are not.
	ListContestJudged(ctx context.Context, contestID string, cutoff time.Time) ([]model.Submission, error)
	ListUserContestJudged(ctx context.Context, contestID, userID string, cutoff time.Time) ([]model.Submission, error)

	// CountPendingInWindow counts contest submissions submitted by cutoff
	// that are still Queued or Judging. Finalization waits for it to hit
	// zero so a verdict delayed by judging lag is never dropped.
	CountPendingInWindow(ctx context.Context, contestID string, cutoff time.Time) (int, error)

	// ListStaleJudging returns IDs of submissions sitting in Judging since
	// before updatedBefore, i.e. claimed by a worker that died mid-run.
	ListStaleJudging(ctx context.Context, updatedBefore time.Time) ([]string, error)
}

type pgSubmissionRepository struct {
	db *sql.DB
}

func NewPgSubmissionRepository(db *sql.DB) SubmissionRepository {
	return &pgSubmissionRepository{db: db}
}

func (r *pgSubmissionRepository) CreateSubmission(ctx context.Context, tx *sql.Tx, sub *model.Submission) error {
	query := `INSERT INTO submissions (id, user_id, problem_id, contest_id, language, code, status, attempts, submitted_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, sub.ID, sub.UserID, sub.ProblemID, sub.ContestID, sub.Language, sub.Code, sub.Status, sub.Attempts, sub.SubmittedAt)
	} else {
		_, err = r.db.ExecContext(ctx, query, sub.ID, sub.UserID, sub.ProblemID, sub.ContestID, sub.Language, sub.Code, sub.Status, sub.Attempts, sub.SubmittedAt)
	}
	if err != nil {
		return fmt.Errorf("pgSubmissionRepository.CreateSubmission: %w", err)
	}
	return nil
}

const submissionColumns = `id, user_id, problem_id, contest_id, language, code, status, verdict, attempts, total_time_ms, max_memory_kb, submitted_at, updated_at`

func scanSubmission(scanner interface{ Scan(...interface{}) error }) (*model.Submission, error) {
	s := &model.Submission{}
	var verdict sql.NullString
	err := scanner.Scan(
		&s.ID, &s.UserID, &s.ProblemID, &s.ContestID, &s.Language, &s.Code,
		&s.Status, &verdict, &s.Attempts, &s.TotalTimeMs, &s.MaxMemoryKb,
		&s.SubmittedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if verdict.Valid {
		s.Verdict = model.Verdict(verdict.String)
	}
	return s, nil
}

func (r *pgSubmissionRepository) GetSubmissionByID(ctx context.Context, id string) (*model.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE id = $1`
	s, err := scanSubmission(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgSubmissionRepository.GetSubmissionByID: %w", err)
	}
	return s, nil
}

func (r *pgSubmissionRepository) MarkJudging(ctx context.Context, id string) (bool, error) {
	return r.UpdateStatusIf(ctx, id, model.StatusQueued, model.StatusJudging)
}

func (r *pgSubmissionRepository) UpdateStatusIf(ctx context.Context, id string, from, to model.SubmissionStatus) (bool, error) {
	query := `UPDATE submissions SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2 AND status = $3`
	res, err := r.db.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return false, fmt.Errorf("pgSubmissionRepository.UpdateStatusIf: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("pgSubmissionRepository.UpdateStatusIf rows: %w", err)
	}
	return n == 1, nil
}

func (r *pgSubmissionRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	query := `UPDATE submissions SET attempts = attempts + 1, updated_at = CURRENT_TIMESTAMP WHERE id = $1 RETURNING attempts`
	var attempts int
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("pgSubmissionRepository.IncrementAttempts: %w", err)
	}
	return attempts, nil
}

func (r *pgSubmissionRepository) SaveJudgeResult(ctx context.Context, sub *model.Submission) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pgSubmissionRepository.SaveJudgeResult begin: %w", err)
	}
	defer tx.Rollback()

	query := `UPDATE submissions
	          SET status = $1, verdict = $2, total_time_ms = $3, max_memory_kb = $4, updated_at = CURRENT_TIMESTAMP
	          WHERE id = $5`
	if _, err := tx.ExecContext(ctx, query, sub.Status, sub.Verdict, sub.TotalTimeMs, sub.MaxMemoryKb, sub.ID); err != nil {
		return fmt.Errorf("pgSubmissionRepository.SaveJudgeResult update: %w", err)
	}

	// A rejudge supersedes the previous pass, so old per-case rows go first.
	if _, err := tx.ExecContext(ctx, `DELETE FROM submission_test_results WHERE submission_id = $1`, sub.ID); err != nil {
		return fmt.Errorf("pgSubmissionRepository.SaveJudgeResult clear results: %w", err)
	}

	insert := `INSERT INTO submission_test_results (id, submission_id, test_index, outcome, time_ms, memory_kb, actual_output)
	           VALUES ($1, $2, $3, $4, $5, $6, $7)`
	for _, res := range sub.TestCaseResults {
		if _, err := tx.ExecContext(ctx, insert, res.ID, res.SubmissionID, res.TestIndex, res.Outcome, res.TimeMs, res.MemoryKb, res.ActualOutput); err != nil {
			return fmt.Errorf("pgSubmissionRepository.SaveJudgeResult insert result: %w", err)
		}
	}

	return tx.Commit()
}

func (r *pgSubmissionRepository) GetTestCaseResults(ctx context.Context, submissionID string) ([]model.TestCaseResult, error) {
	query := `SELECT id, submission_id, test_index, outcome, time_ms, memory_kb, actual_output
	          FROM submission_test_results WHERE submission_id = $1 ORDER BY test_index ASC`
	rows, err := r.db.QueryContext(ctx, query, submissionID)
	if err != nil {
		return nil, fmt.Errorf("pgSubmissionRepository.GetTestCaseResults: %w", err)
	}
	defer rows.Close()

	var results []model.TestCaseResult
	for rows.Next() {
		res := model.TestCaseResult{}
		if err := rows.Scan(&res.ID, &res.SubmissionID, &res.TestIndex, &res.Outcome, &res.TimeMs, &res.MemoryKb, &res.ActualOutput); err != nil {
			return nil, fmt.Errorf("pgSubmissionRepository.GetTestCaseResults scan: %w", err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

func (r *pgSubmissionRepository) listSubmissions(ctx context.Context, query string, args ...interface{}) ([]model.Submission, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgSubmissionRepository.listSubmissions: %w", err)
	}
	defer rows.Close()

	var subs []model.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("pgSubmissionRepository.listSubmissions scan: %w", err)
		}
		subs = append(subs, *s)
	}
	return subs, rows.Err()
}

func (r *pgSubmissionRepository) ListForUser(ctx context.Context, userID string, limit, offset int) ([]model.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions
	          WHERE user_id = $1 ORDER BY submitted_at DESC LIMIT $2 OFFSET $3`
	return r.listSubmissions(ctx, query, userID, limit, offset)
}

func (r *pgSubmissionRepository) ListContestJudged(ctx context.Context, contestID string, cutoff time.Time) ([]model.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions
	          WHERE contest_id = $1 AND status = $2 AND submitted_at <= $3
	          ORDER BY submitted_at ASC, id ASC`
	return r.listSubmissions(ctx, query, contestID, model.StatusJudged, cutoff)
}

func (r *pgSubmissionRepository) ListUserContestJudged(ctx context.Context, contestID, userID string, cutoff time.Time) ([]model.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions
	          WHERE contest_id = $1 AND user_id = $2 AND status = $3 AND submitted_at <= $4
	          ORDER BY submitted_at ASC, id ASC`
	return r.listSubmissions(ctx, query, contestID, userID, model.StatusJudged, cutoff)
}

func (r *pgSubmissionRepository) CountPendingInWindow(ctx context.Context, contestID string, cutoff time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM submissions
	          WHERE contest_id = $1 AND status IN ($2, $3) AND submitted_at <= $4`
	var count int
	if err := r.db.QueryRowContext(ctx, query, contestID, model.StatusQueued, model.StatusJudging, cutoff).Scan(&count); err != nil {
		return 0, fmt.Errorf("pgSubmissionRepository.CountPendingInWindow: %w", err)
	}
	return count, nil
}

func (r *pgSubmissionRepository) ListStaleJudging(ctx context.Context, updatedBefore time.Time) ([]string, error) {
	query := `SELECT id FROM submissions WHERE status = $1 AND updated_at < $2`
	rows, err := r.db.QueryContext(ctx, query, model.StatusJudging, updatedBefore)
	if err != nil {
		return nil, fmt.Errorf("pgSubmissionRepository.ListStaleJudging: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pgSubmissionRepository.ListStaleJudging scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
