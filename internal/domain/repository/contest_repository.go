package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/anuragpy07/ByteBattle/internal/common"
	"github.com/anuragpy07/ByteBattle/internal/domain/model"

	"github.com/jackc/pgx/v5/pgconn"
)

type ContestRepository interface {
	CreateContest(ctx context.Context, contest *model.Contest) error
	GetContestByID(ctx context.Context, id string) (*model.Contest, error)
	ListContests(ctx context.Context, limit, offset int) ([]model.Contest, error)
	ListEndedUnfinalized(ctx context.Context, now time.Time) ([]model.Contest, error)

	AddParticipant(ctx context.Context, p *model.ContestParticipant) error
	IsParticipant(ctx context.Context, contestID, userID string) (bool, error)
	ListParticipants(ctx context.Context, contestID string) ([]model.ContestParticipant, error)

	// SaveFinalStandings replaces the contest's leaderboard rows and sets
	// the finalized flag in a single transaction, so readers never observe
	// a partially written snapshot.
	SaveFinalStandings(ctx context.Context, contestID string, entries []model.LeaderboardEntry) error
	GetFinalStandings(ctx context.Context, contestID string) ([]model.LeaderboardEntry, error)
}

type pgContestRepository struct {
	db *sql.DB
}

func NewPgContestRepository(db *sql.DB) ContestRepository {
	return &pgContestRepository{db: db}
}

func (r *pgContestRepository) CreateContest(ctx context.Context, c *model.Contest) error {
	problemIDs, err := json.Marshal(c.ProblemIDs)
	if err != nil {
		return fmt.Errorf("pgContestRepository.CreateContest marshal problems: %w", err)
	}
	query := `INSERT INTO contests (id, title, start_time, end_time, finalized, points_per_problem, wrong_attempt_penalty, problem_ids)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = r.db.ExecContext(ctx, query, c.ID, c.Title, c.StartTime, c.EndTime, c.Finalized, c.Policy.PointsPerProblem, c.Policy.WrongAttemptPenalty, problemIDs)
	if err != nil {
		return fmt.Errorf("pgContestRepository.CreateContest: %w", err)
	}
	return nil
}

const contestColumns = `id, title, start_time, end_time, finalized, points_per_problem, wrong_attempt_penalty, problem_ids, created_at, updated_at`

func scanContest(scanner interface{ Scan(...interface{}) error }) (*model.Contest, error) {
	c := &model.Contest{}
	var problemIDs []byte
	err := scanner.Scan(
		&c.ID, &c.Title, &c.StartTime, &c.EndTime, &c.Finalized,
		&c.Policy.PointsPerProblem, &c.Policy.WrongAttemptPenalty,
		&problemIDs, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(problemIDs) > 0 {
		if err := json.Unmarshal(problemIDs, &c.ProblemIDs); err != nil {
			return nil, fmt.Errorf("unmarshal problem_ids: %w", err)
		}
	}
	return c, nil
}

func (r *pgContestRepository) GetContestByID(ctx context.Context, id string) (*model.Contest, error) {
	query := `SELECT ` + contestColumns + ` FROM contests WHERE id = $1`
	c, err := scanContest(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgContestRepository.GetContestByID: %w", err)
	}
	return c, nil
}

func (r *pgContestRepository) listContests(ctx context.Context, query string, args ...interface{}) ([]model.Contest, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgContestRepository.listContests: %w", err)
	}
	defer rows.Close()

	var contests []model.Contest
	for rows.Next() {
		c, err := scanContest(rows)
		if err != nil {
			return nil, fmt.Errorf("pgContestRepository.listContests scan: %w", err)
		}
		contests = append(contests, *c)
	}
	return contests, rows.Err()
}

func (r *pgContestRepository) ListContests(ctx context.Context, limit, offset int) ([]model.Contest, error) {
	query := `SELECT ` + contestColumns + ` FROM contests ORDER BY start_time DESC LIMIT $1 OFFSET $2`
	return r.listContests(ctx, query, limit, offset)
}

func (r *pgContestRepository) ListEndedUnfinalized(ctx context.Context, now time.Time) ([]model.Contest, error) {
	query := `SELECT ` + contestColumns + ` FROM contests WHERE finalized = FALSE AND end_time < $1 ORDER BY end_time ASC`
	return r.listContests(ctx, query, now)
}

func (r *pgContestRepository) AddParticipant(ctx context.Context, p *model.ContestParticipant) error {
	query := `INSERT INTO contest_participants (contest_id, user_id, joined_at) VALUES ($1, $2, $3)`
	_, err := r.db.ExecContext(ctx, query, p.ContestID, p.UserID, p.JoinedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // composite pk
			return fmt.Errorf("already joined this contest: %w", common.ErrConflict)
		}
		return fmt.Errorf("pgContestRepository.AddParticipant: %w", err)
	}
	return nil
}

func (r *pgContestRepository) IsParticipant(ctx context.Context, contestID, userID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM contest_participants WHERE contest_id = $1 AND user_id = $2)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, contestID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("pgContestRepository.IsParticipant: %w", err)
	}
	return exists, nil
}

func (r *pgContestRepository) ListParticipants(ctx context.Context, contestID string) ([]model.ContestParticipant, error) {
	query := `SELECT contest_id, user_id, joined_at FROM contest_participants WHERE contest_id = $1`
	rows, err := r.db.QueryContext(ctx, query, contestID)
	if err != nil {
		return nil, fmt.Errorf("pgContestRepository.ListParticipants: %w", err)
	}
	defer rows.Close()

	var participants []model.ContestParticipant
	for rows.Next() {
		p := model.ContestParticipant{}
		if err := rows.Scan(&p.ContestID, &p.UserID, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("pgContestRepository.ListParticipants scan: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

func (r *pgContestRepository) SaveFinalStandings(ctx context.Context, contestID string, entries []model.LeaderboardEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pgContestRepository.SaveFinalStandings begin: %w", err)
	}
	defer tx.Rollback()

	// Delete + insert inside one tx: the snapshot swap is all-or-nothing,
	// which also makes a crashed finalization safe to redo.
	if _, err := tx.ExecContext(ctx, `DELETE FROM leaderboard_entries WHERE contest_id = $1`, contestID); err != nil {
		return fmt.Errorf("pgContestRepository.SaveFinalStandings clear: %w", err)
	}

	insert := `INSERT INTO leaderboard_entries (contest_id, user_id, rank, score, penalty, last_accepted_at, problems)
	           VALUES ($1, $2, $3, $4, $5, $6, $7)`
	for _, e := range entries {
		problems, err := json.Marshal(e.Problems)
		if err != nil {
			return fmt.Errorf("pgContestRepository.SaveFinalStandings marshal problems: %w", err)
		}
		var lastAccepted *time.Time
		if !e.LastAcceptedAt.IsZero() {
			t := e.LastAcceptedAt
			lastAccepted = &t
		}
		if _, err := tx.ExecContext(ctx, insert, contestID, e.UserID, e.Rank, e.Score, e.Penalty, lastAccepted, problems); err != nil {
			return fmt.Errorf("pgContestRepository.SaveFinalStandings insert: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE contests SET finalized = TRUE, updated_at = CURRENT_TIMESTAMP WHERE id = $1`, contestID); err != nil {
		return fmt.Errorf("pgContestRepository.SaveFinalStandings finalize flag: %w", err)
	}

	return tx.Commit()
}

func (r *pgContestRepository) GetFinalStandings(ctx context.Context, contestID string) ([]model.LeaderboardEntry, error) {
	query := `SELECT l.contest_id, l.user_id, u.username, l.rank, l.score, l.penalty, l.last_accepted_at, l.problems
	          FROM leaderboard_entries l
	          LEFT JOIN users u ON l.user_id = u.id
	          WHERE l.contest_id = $1 ORDER BY l.rank ASC`
	rows, err := r.db.QueryContext(ctx, query, contestID)
	if err != nil {
		return nil, fmt.Errorf("pgContestRepository.GetFinalStandings: %w", err)
	}
	defer rows.Close()

	var entries []model.LeaderboardEntry
	for rows.Next() {
		e := model.LeaderboardEntry{}
		var username sql.NullString
		var lastAccepted sql.NullTime
		var problems []byte
		if err := rows.Scan(&e.ContestID, &e.UserID, &username, &e.Rank, &e.Score, &e.Penalty, &lastAccepted, &problems); err != nil {
			return nil, fmt.Errorf("pgContestRepository.GetFinalStandings scan: %w", err)
		}
		e.Username = username.String
		if lastAccepted.Valid {
			e.LastAcceptedAt = lastAccepted.Time
		}
		if len(problems) > 0 {
			if err := json.Unmarshal(problems, &e.Problems); err != nil {
				return nil, fmt.Errorf("pgContestRepository.GetFinalStandings unmarshal problems: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
