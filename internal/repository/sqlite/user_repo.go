package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prn-tf/crowdfund/internal/domain"
	"github.com/prn-tf/crowdfund/internal/repository"
)

// userRepository implements repository.UserRepository for SQLite.
type userRepository struct {
	db *DB
}

// NewUserRepository creates a new SQLite user repository.
func NewUserRepository(db *DB) repository.UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, username, email, nickname, password_hash, points, created_at, updated_at`

// userRow is a user as stored, before its donation history is attached.
type userRow struct {
	user   domain.User
	points int64
}

// Create creates a new user.
func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	query := `INSERT INTO users (` + userColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		user.ID.String(),
		user.Username,
		user.Email,
		user.Nickname,
		user.PasswordHash,
		user.Points(),
		formatTime(user.CreatedAt),
		formatTime(user.UpdatedAt),
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
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id.String())
}

// GetByUsername retrieves a user by username.
func (r *userRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
}

func (r *userRepository) getOne(ctx context.Context, query string, arg any) (*domain.User, error) {
	row, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return r.restore(ctx, row)
}

// Save updates profile fields and the points balance.
func (r *userRepository) Save(ctx context.Context, user *domain.User) error {
	return updateUser(ctx, r.db, user)
}

func updateUser(ctx context.Context, ex execer, user *domain.User) error {
	user.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE users
		SET username = ?, email = ?, nickname = ?, password_hash = ?, points = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := ex.ExecContext(ctx, query,
		user.Username,
		user.Email,
		user.Nickname,
		user.PasswordHash,
		user.Points(),
		formatTime(user.UpdatedAt),
		user.ID.String(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username or email already exists", repository.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to update user: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// List returns all users with pagination.
func (r *userRepository) List(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.User], error) {
	opts = opts.Normalize()

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC, id LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	var stored []userRow
	for rows.Next() {
		row, err := scanUser(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		stored = append(stored, row)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	rows.Close()

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
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE username = ?`, username).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check username existence: %w", err)
	}
	return count > 0, nil
}

// ExistsByEmail checks if a user with the given email exists.
func (r *userRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE email = ?`, email).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check email existence: %w", err)
	}
	return count > 0, nil
}

// restore attaches the donation history, across all projects, to a stored user.
func (r *userRepository) restore(ctx context.Context, row userRow) (*domain.User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, project_id, amount, donated_at
		FROM donations
		WHERE user_id = ?
		ORDER BY donated_at, position
	`, row.user.ID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to load donation history: %w", err)
	}
	defer rows.Close()

	var history []domain.DonationRecord
	for rows.Next() {
		var id, projectID, donatedAt string
		var rec domain.DonationRecord
		if err := rows.Scan(&id, &projectID, &rec.Amount, &donatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan donation: %w", err)
		}
		if rec.DonationID, err = parseUUID("donation id", id); err != nil {
			return nil, err
		}
		if rec.ProjectID, err = parseUUID("donation project_id", projectID); err != nil {
			return nil, err
		}
		if rec.Date, err = parseTime("donated_at", donatedAt); err != nil {
			return nil, err
		}
		history = append(history, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating donation history: %w", err)
	}

	u, err := domain.RestoreUser(row.user, row.points, history)
	if err != nil {
		return nil, fmt.Errorf("failed to restore user %s: %w", row.user.ID, err)
	}
	return u, nil
}

func scanUser(row scanner) (userRow, error) {
	var (
		out                      userRow
		id, createdAt, updatedAt string
	)

	err := row.Scan(
		&id,
		&out.user.Username,
		&out.user.Email,
		&out.user.Nickname,
		&out.user.PasswordHash,
		&out.points,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return out, err
	}

	if out.user.ID, err = parseUUID("user id", id); err != nil {
		return out, err
	}
	if out.user.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return out, err
	}
	if out.user.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return out, err
	}
	return out, nil
}

// Ensure userRepository implements repository.UserRepository.
var _ repository.UserRepository = (*userRepository)(nil)
