package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/prn-tf/crowdfund/internal/domain"
	"github.com/prn-tf/crowdfund/internal/repository"
)

// userRepository implements repository.UserRepository.
type userRepository struct {
	db *DB
}

// NewUserRepository creates a new PostgreSQL user repository.
func NewUserRepository(db *DB) repository.UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, username, email, nickname, password_hash, points, created_at, updated_at`

type userRow struct {
	user   domain.User
	points int64
}

// Create creates a new user.
func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	query := `INSERT INTO users (` + userColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Pool.Exec(ctx, query,
		user.ID,
		user.Username,
		user.Email,
		user.Nickname,
		user.PasswordHash,
		user.Points(),
		user.CreatedAt.UTC(),
		user.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username or email already exists", repository.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by ID.
func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByUsername retrieves a user by username.
func (r *userRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

func (r *userRepository) getOne(ctx context.Context, query string, arg any) (*domain.User, error) {
	row, err := scanUser(r.db.Pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return r.restore(ctx, row)
}

// Save updates profile fields and the points balance.
func (r *userRepository) Save(ctx context.Context, user *domain.User) error {
	return updateUser(ctx, r.db.Pool, user)
}

func updateUser(ctx context.Context, ex Execer, user *domain.User) error {
	user.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE users
		SET username = $1, email = $2, nickname = $3, password_hash = $4, points = $5, updated_at = $6
		WHERE id = $7
	`

	result, err := ex.Exec(ctx, query,
		user.Username,
		user.Email,
		user.Nickname,
		user.PasswordHash,
		user.Points(),
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username or email already exists", repository.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to update user: %w", err)
	}

	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// List returns all users with pagination.
func (r *userRepository) List(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.User], error) {
	opts = opts.Normalize()

	var total int64
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`,
		opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	stored, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (userRow, error) {
		return scanUser(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan users: %w", err)
	}

	users := make([]*domain.User, 0, len(stored))
	for _, row := range stored {
		u, err := r.restore(ctx, row)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	return &repository.ListResult[domain.User]{
		Items:  users,
		Total:  total,
		Offset: opts.Offset,
		Limit:  opts.Limit,
	}, nil
}

// ExistsByUsername checks if a user with the given username exists.
func (r *userRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check username existence: %w", err)
	}
	return exists, nil
}

// ExistsByEmail checks if a user with the given email exists.
func (r *userRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check email existence: %w", err)
	}
	return exists, nil
}

func (r *userRepository) restore(ctx context.Context, row userRow) (*domain.User, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, project_id, amount, donated_at
		FROM donations
		WHERE user_id = $1
		ORDER BY donated_at, position
	`, row.user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load donation history: %w", err)
	}

	history, err := pgx.CollectRows(rows, func(cr pgx.CollectableRow) (domain.DonationRecord, error) {
		var rec domain.DonationRecord
		err := cr.Scan(&rec.DonationID, &rec.ProjectID, &rec.Amount, &rec.Date)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan donation history: %w", err)
	}

	u, err := domain.RestoreUser(row.user, row.points, history)
	if err != nil {
		return nil, fmt.Errorf("failed to restore user %s: %w", row.user.ID, err)
	}
	return u, nil
}

func scanUser(row pgx.Row) (userRow, error) {
	var out userRow
	err := row.Scan(
		&out.user.ID,
		&out.user.Username,
		&out.user.Email,
		&out.user.Nickname,
		&out.user.PasswordHash,
		&out.points,
		&out.user.CreatedAt,
		&out.user.UpdatedAt,
	)
	return out, err
}

// Ensure userRepository implements repository.UserRepository.
var _ repository.UserRepository = (*userRepository)(nil)
