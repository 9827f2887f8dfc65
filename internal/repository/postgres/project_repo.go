package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/prn-tf/crowdfund/internal/domain"
	"github.com/prn-tf/crowdfund/internal/repository"
)

// projectRepository implements repository.ProjectRepository.
type projectRepository struct {
	db *DB
}

// NewProjectRepository creates a new PostgreSQL project repository.
func NewProjectRepository(db *DB) repository.ProjectRepository {
	return &projectRepository{db: db}
}

const projectColumns = `id, name, start_date, end_date, raised_funds, factor, min_close_percentage,
	target_funds, location_name, location_province, location_population, state, created_at, updated_at`

const uniqueViolation = "23505"

// Create inserts a new project with its donations and participants.
func (r *projectRepository) Create(ctx context.Context, project *domain.Project) error {
	s := project.Snapshot()

	return r.db.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		query := `INSERT INTO projects (` + projectColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
		if _, err := tx.Exec(ctx, query, projectArgs(s)...); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: project %s", repository.ErrAlreadyExists, s.ID)
			}
			return fmt.Errorf("failed to create project: %w", err)
		}
		return insertProjectChildren(ctx, tx, s)
	})
}

// GetByID retrieves a project by ID.
func (r *projectRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`

	s, err := scanProject(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get project by ID: %w", err)
	}

	return r.restore(ctx, r.db.Pool, s)
}

// Save upserts the project row and inserts unseen donations and participants.
func (r *projectRepository) Save(ctx context.Context, project *domain.Project) error {
	s := project.Snapshot()

	return r.db.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return saveProject(ctx, tx, s)
	})
}

// SaveDonation saves the project and the donor in one transaction.
func (r *projectRepository) SaveDonation(ctx context.Context, project *domain.Project, donor *domain.User) error {
	s := project.Snapshot()

	return r.db.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if err := saveProject(ctx, tx, s); err != nil {
			return err
		}
		return updateUser(ctx, tx, donor)
	})
}

func saveProject(ctx context.Context, tx pgx.Tx, s domain.ProjectSnapshot) error {
	query := `
		INSERT INTO projects (` + projectColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			raised_funds = EXCLUDED.raised_funds,
			factor = EXCLUDED.factor,
			min_close_percentage = EXCLUDED.min_close_percentage,
			target_funds = EXCLUDED.target_funds,
			location_name = EXCLUDED.location_name,
			location_province = EXCLUDED.location_province,
			location_population = EXCLUDED.location_population,
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := tx.Exec(ctx, query, projectArgs(s)...); err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	return insertProjectChildren(ctx, tx, s)
}

// Delete deletes a project by ID. Donations and participants cascade.
func (r *projectRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}

	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// List returns projects with pagination, newest first.
func (r *projectRepository) List(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.Project], error) {
	opts = opts.Normalize()

	var total int64
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM projects`).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count projects: %w", err)
	}

	query := `SELECT ` + projectColumns + ` FROM projects ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`
	projects, err := r.query(ctx, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, err
	}

	return &repository.ListResult[domain.Project]{
		Items:  projects,
		Total:  total,
		Offset: opts.Offset,
		Limit:  opts.Limit,
	}, nil
}

// ListByState returns up to limit projects in state, earliest end date first.
func (r *projectRepository) ListByState(ctx context.Context, state domain.ProjectState, limit int) ([]*domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE state = $1 ORDER BY end_date, id LIMIT $2`
	return r.query(ctx, query, state.String(), limit)
}

func (r *projectRepository) query(ctx context.Context, query string, args ...any) ([]*domain.Project, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	snapshots, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ProjectSnapshot, error) {
		return scanProject(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan projects: %w", err)
	}

	projects := make([]*domain.Project, 0, len(snapshots))
	for _, s := range snapshots {
		p, err := r.restore(ctx, r.db.Pool, s)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, nil
}

func (r *projectRepository) restore(ctx context.Context, q Querier, s domain.ProjectSnapshot) (*domain.Project, error) {
	rows, err := q.Query(ctx, `
		SELECT id, user_id, amount, comment, donated_at
		FROM donations
		WHERE project_id = $1
		ORDER BY position
	`, s.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load donations: %w", err)
	}
	s.Donations, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Donation, error) {
		var d donationRow
		if err := row.Scan(&d.ID, &d.UserID, &d.Amount, &d.Comment, &d.DonatedAt); err != nil {
			return nil, err
		}
		return domain.RestoreDonation(d.ID, d.Amount, d.Comment, d.DonatedAt, d.UserID), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan donations: %w", err)
	}

	rows, err = q.Query(ctx, `
		SELECT user_id FROM project_participants WHERE project_id = $1 ORDER BY position
	`, s.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participants: %w", err)
	}
	s.Participants, err = pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("failed to scan participants: %w", err)
	}

	p, err := domain.RestoreProject(s)
	if err != nil {
		return nil, fmt.Errorf("failed to restore project %s: %w", s.ID, err)
	}
	return p, nil
}

func projectArgs(s domain.ProjectSnapshot) []any {
	return []any{
		s.ID,
		s.Name,
		s.StartDate.UTC(),
		s.EndDate.UTC(),
		s.RaisedFunds,
		s.Factor,
		s.MinClosePercentage,
		s.TargetFunds,
		s.Location.Name,
		s.Location.Province,
		s.Location.Population,
		s.State.String(),
		s.CreatedAt.UTC(),
		s.UpdatedAt.UTC(),
	}
}

func scanProject(row pgx.Row) (domain.ProjectSnapshot, error) {
	var (
		s     domain.ProjectSnapshot
		state string
	)

	err := row.Scan(
		&s.ID,
		&s.Name,
		&s.StartDate,
		&s.EndDate,
		&s.RaisedFunds,
		&s.Factor,
		&s.MinClosePercentage,
		&s.TargetFunds,
		&s.Location.Name,
		&s.Location.Province,
		&s.Location.Population,
		&state,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return s, err
	}

	s.State, err = domain.ParseProjectState(state)
	return s, err
}

// insertProjectChildren queues one insert per donation and participant in a
// single batch. Existing rows are skipped.
func insertProjectChildren(ctx context.Context, tx pgx.Tx, s domain.ProjectSnapshot) error {
	batch := &pgx.Batch{}

	for i, d := range s.Donations {
		batch.Queue(`
			INSERT INTO donations (id, project_id, user_id, amount, comment, donated_at, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING
		`, d.ID(), s.ID, d.UserID(), d.Amount(), d.Comment(), d.Date().UTC(), i)
	}
	for i, userID := range s.Participants {
		batch.Queue(`
			INSERT INTO project_participants (project_id, user_id, position)
			VALUES ($1, $2, $3)
			ON CONFLICT (project_id, user_id) DO NOTHING
		`, s.ID, userID, i)
	}

	if batch.Len() == 0 {
		return nil
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert donations and participants: %w", err)
	}
	return nil
}

type donationRow struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Amount    int64
	Comment   string
	DonatedAt time.Time
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Ensure projectRepository implements repository.ProjectRepository.
var _ repository.ProjectRepository = (*projectRepository)(nil)
