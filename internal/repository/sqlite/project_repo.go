package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/prn-tf/crowdfund/internal/domain"
	"github.com/prn-tf/crowdfund/internal/repository"
)

// projectRepository implements repository.ProjectRepository for SQLite.
type projectRepository struct {
	db *DB
}

// NewProjectRepository creates a new SQLite project repository.
func NewProjectRepository(db *DB) repository.ProjectRepository {
	return &projectRepository{db: db}
}

const projectColumns = `id, name, start_date, end_date, raised_funds, factor, min_close_percentage,
	target_funds, location_name, location_province, location_population, state, created_at, updated_at`

// Create inserts a new project with its donations and participants.
func (r *projectRepository) Create(ctx context.Context, project *domain.Project) error {
	s := project.Snapshot()

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		query := `INSERT INTO projects (` + projectColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, query, projectArgs(s)...); err != nil {
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
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = ?`

	s, err := scanProject(r.db.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get project by ID: %w", err)
	}

	return r.restore(ctx, s)
}

// Save upserts the project row and inserts unseen donations and participants.
func (r *projectRepository) Save(ctx context.Context, project *domain.Project) error {
	s := project.Snapshot()

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		return saveProject(ctx, tx, s)
	})
}

// SaveDonation saves the project and the donor in one transaction.
func (r *projectRepository) SaveDonation(ctx context.Context, project *domain.Project, donor *domain.User) error {
	s := project.Snapshot()

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := saveProject(ctx, tx, s); err != nil {
			return err
		}
		return updateUser(ctx, tx, donor)
	})
}

func saveProject(ctx context.Context, tx *sql.Tx, s domain.ProjectSnapshot) error {
	query := `
		INSERT INTO projects (` + projectColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			raised_funds = excluded.raised_funds,
			factor = excluded.factor,
			min_close_percentage = excluded.min_close_percentage,
			target_funds = excluded.target_funds,
			location_name = excluded.location_name,
			location_province = excluded.location_province,
			location_population = excluded.location_population,
			state = excluded.state,
			updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, query, projectArgs(s)...); err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	return insertProjectChildren(ctx, tx, s)
}

// Delete deletes a project by ID. Donations and participants cascade.
func (r *projectRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// List returns projects with pagination, newest first.
func (r *projectRepository) List(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.Project], error) {
	opts = opts.Normalize()

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects`).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count projects: %w", err)
	}

	query := `SELECT ` + projectColumns + ` FROM projects ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
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
	query := `SELECT ` + projectColumns + ` FROM projects WHERE state = ? ORDER BY end_date, id LIMIT ?`
	return r.query(ctx, query, state.String(), limit)
}

// query runs a project select. Rows are drained before children are loaded
// since the pool usually holds a single connection.
func (r *projectRepository) query(ctx context.Context, query string, args ...any) ([]*domain.Project, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	var snapshots []domain.ProjectSnapshot
	for rows.Next() {
		s, err := scanProject(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating projects: %w", err)
	}
	rows.Close()

	projects := make([]*domain.Project, 0, len(snapshots))
	for _, s := range snapshots {
		p, err := r.restore(ctx, s)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, nil
}

func (r *projectRepository) restore(ctx context.Context, s domain.ProjectSnapshot) (*domain.Project, error) {
	if err := loadProjectChildren(ctx, r.db, &s); err != nil {
		return nil, err
	}

	p, err := domain.RestoreProject(s)
	if err != nil {
		return nil, fmt.Errorf("failed to restore project %s: %w", s.ID, err)
	}
	return p, nil
}

func projectArgs(s domain.ProjectSnapshot) []any {
	return []any{
		s.ID.String(),
		s.Name,
		formatTime(s.StartDate),
		formatTime(s.EndDate),
		s.RaisedFunds,
		s.Factor,
		s.MinClosePercentage,
		s.TargetFunds,
		s.Location.Name,
		s.Location.Province,
		s.Location.Population,
		s.State.String(),
		formatTime(s.CreatedAt),
		formatTime(s.UpdatedAt),
	}
}

func scanProject(row scanner) (domain.ProjectSnapshot, error) {
	var (
		s                     domain.ProjectSnapshot
		id, start, end, state string
		createdAt, updatedAt  string
	)

	err := row.Scan(
		&id,
		&s.Name,
		&start,
		&end,
		&s.RaisedFunds,
		&s.Factor,
		&s.MinClosePercentage,
		&s.TargetFunds,
		&s.Location.Name,
		&s.Location.Province,
		&s.Location.Population,
		&state,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return s, err
	}

	if s.ID, err = parseUUID("project id", id); err != nil {
		return s, err
	}
	if s.StartDate, err = parseTime("start_date", start); err != nil {
		return s, err
	}
	if s.EndDate, err = parseTime("end_date", end); err != nil {
		return s, err
	}
	if s.State, err = domain.ParseProjectState(state); err != nil {
		return s, err
	}
	if s.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return s, err
	}
	if s.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return s, err
	}
	return s, nil
}

// insertProjectChildren stores donations and participants not seen before.
// Positions keep the in-memory order on reload.
func insertProjectChildren(ctx context.Context, tx *sql.Tx, s domain.ProjectSnapshot) error {
	donationStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO donations (id, project_id, user_id, amount, comment, donated_at, position)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare donation insert: %w", err)
	}
	defer donationStmt.Close()

	for i, d := range s.Donations {
		_, err := donationStmt.ExecContext(ctx,
			d.ID().String(),
			s.ID.String(),
			d.UserID().String(),
			d.Amount(),
			d.Comment(),
			formatTime(d.Date()),
			i,
		)
		if err != nil {
			return fmt.Errorf("failed to insert donation %s: %w", d.ID(), err)
		}
	}

	participantStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO project_participants (project_id, user_id, position)
		VALUES (?, ?, ?)
		ON CONFLICT (project_id, user_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare participant insert: %w", err)
	}
	defer participantStmt.Close()

	for i, userID := range s.Participants {
		if _, err := participantStmt.ExecContext(ctx, s.ID.String(), userID.String(), i); err != nil {
			return fmt.Errorf("failed to insert participant %s: %w", userID, err)
		}
	}

	return nil
}

func loadProjectChildren(ctx context.Context, q querier, s *domain.ProjectSnapshot) error {
	rows, err := q.QueryContext(ctx, `
		SELECT id, user_id, amount, comment, donated_at
		FROM donations
		WHERE project_id = ?
		ORDER BY position
	`, s.ID.String())
	if err != nil {
		return fmt.Errorf("failed to load donations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, userID, comment, donatedAt string
		var amount int64
		if err := rows.Scan(&id, &userID, &amount, &comment, &donatedAt); err != nil {
			return fmt.Errorf("failed to scan donation: %w", err)
		}
		d, err := restoreDonation(id, userID, amount, comment, donatedAt)
		if err != nil {
			return err
		}
		s.Donations = append(s.Donations, d)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating donations: %w", err)
	}
	rows.Close()

	prows, err := q.QueryContext(ctx, `
		SELECT user_id FROM project_participants WHERE project_id = ? ORDER BY position
	`, s.ID.String())
	if err != nil {
		return fmt.Errorf("failed to load participants: %w", err)
	}
	defer prows.Close()

	for prows.Next() {
		var userID string
		if err := prows.Scan(&userID); err != nil {
			return fmt.Errorf("failed to scan participant: %w", err)
		}
		id, err := parseUUID("participant id", userID)
		if err != nil {
			return err
		}
		s.Participants = append(s.Participants, id)
	}
	return prows.Err()
}

func restoreDonation(id, userID string, amount int64, comment, donatedAt string) (*domain.Donation, error) {
	donationID, err := parseUUID("donation id", id)
	if err != nil {
		return nil, err
	}
	donor, err := parseUUID("donation user_id", userID)
	if err != nil {
		return nil, err
	}
	date, err := parseTime("donated_at", donatedAt)
	if err != nil {
		return nil, err
	}
	return domain.RestoreDonation(donationID, amount, comment, date, donor), nil
}

// Ensure projectRepository implements repository.ProjectRepository.
var _ repository.ProjectRepository = (*projectRepository)(nil)
