package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/prn-tf/crowdfund/internal/domain"
	"github.com/prn-tf/crowdfund/internal/lock"
	"github.com/prn-tf/crowdfund/internal/metrics"
	"github.com/prn-tf/crowdfund/internal/repository"
)

// UserConfig contains the settings applied by UserService.
type UserConfig struct {
	// PointsPolicy decides what SpendPoints does on underflow.
	PointsPolicy domain.PointsPolicy

	// PointsTTL is how long points views stay cached. Zero disables caching.
	PointsTTL time.Duration

	// Lock controls how long points updates wait for a busy user.
	Lock lock.RetryPolicy

	// BcryptCost is the password hashing cost. Zero means bcrypt.DefaultCost.
	BcryptCost int
}

// UserService handles donor accounts and their points balance.
type UserService struct {
	userRepo repository.UserRepository
	locker   lock.Locker
	cache    repository.Cache
	metrics  *metrics.Metrics
	config   UserConfig
	logger   zerolog.Logger
}

// NewUserService creates a new UserService. cache and m may be nil.
func NewUserService(
	userRepo repository.UserRepository,
	locker lock.Locker,
	cache repository.Cache,
	m *metrics.Metrics,
	logger zerolog.Logger,
	config UserConfig,
) *UserService {
	if config.Lock.TTL <= 0 {
		config.Lock = lock.DefaultRetryPolicy
	}
	if config.PointsPolicy == "" {
		config.PointsPolicy = domain.PointsReject
	}
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}

	return &UserService{
		userRepo: userRepo,
		locker:   locker,
		cache:    cache,
		metrics:  m,
		config:   config,
		logger:   logger.With().Str("service", "user").Logger(),
	}
}

// RegisterInput contains the data needed to register a donor.
type RegisterInput struct {
	Username string
	Email    string
	Nickname string
	Password string
}

// Register creates a new donor account with zero points.
func (s *UserService) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	if err := validateRegisterInput(input); err != nil {
		return nil, err
	}

	exists, err := s.userRepo.ExistsByUsername(ctx, input.Username)
	if err != nil {
		s.logger.Error().Err(err).Str("username", input.Username).Msg("failed to check username existence")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if exists {
		return nil, fmt.Errorf("%w: username '%s'", ErrUserAlreadyExists, input.Username)
	}

	exists, err = s.userRepo.ExistsByEmail(ctx, input.Email)
	if err != nil {
		s.logger.Error().Err(err).Str("email", input.Email).Msg("failed to check email existence")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if exists {
		return nil, fmt.Errorf("%w: email '%s'", ErrUserAlreadyExists, input.Email)
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.config.BcryptCost)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to hash password")
		return nil, fmt.Errorf("%w: failed to hash password", ErrInternalError)
	}

	user := domain.NewUser(input.Username, input.Email, string(passwordHash))
	user.Nickname = input.Nickname
	if user.Nickname == "" {
		user.Nickname = input.Username
	}
	user.SetPointsPolicy(s.config.PointsPolicy)

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %v", ErrUserAlreadyExists, err)
		}
		s.logger.Error().Err(err).Str("username", input.Username).Msg("failed to create user")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Info().
		Str("user_id", user.ID.String()).
		Str("username", user.Username).
		Msg("user registered")

	return user, nil
}

// Authenticate verifies user credentials and returns the user.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	user, err := s.userRepo.GetByUsername(ctx, username)
	if err != nil {
		// Log but don't expose whether username exists
		s.logger.Debug().Str("username", username).Msg("user not found during authentication")
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.Debug().Str("username", username).Msg("invalid password during authentication")
		return nil, ErrInvalidCredentials
	}

	user.SetPointsPolicy(s.config.PointsPolicy)
	return user, nil
}

// GetByID retrieves a user by ID.
func (s *UserService) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, id)
		}
		s.logger.Error().Err(err).Str("user_id", id.String()).Msg("failed to get user")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	user.SetPointsPolicy(s.config.PointsPolicy)
	return user, nil
}

// AddPoints credits n points to a user and returns the new balance.
func (s *UserService) AddPoints(ctx context.Context, id uuid.UUID, n int64) (int64, error) {
	balance, err := s.updatePoints(ctx, id, func(u *domain.User) error {
		return u.AddPoints(n)
	})
	if err != nil {
		return 0, err
	}
	if s.metrics != nil && n > 0 {
		s.metrics.PointsAwarded.Add(float64(n))
	}
	s.logger.Info().Str("user_id", id.String()).Int64("points", n).Int64("balance", balance).Msg("points added")
	return balance, nil
}

// SpendPoints debits n points from a user under the configured underflow
// policy and returns the new balance.
func (s *UserService) SpendPoints(ctx context.Context, id uuid.UUID, n int64) (int64, error) {
	var spent int64
	balance, err := s.updatePoints(ctx, id, func(u *domain.User) error {
		before := u.Points()
		if err := u.SpendPoints(n); err != nil {
			return err
		}
		spent = before - u.Points()
		return nil
	})
	if err != nil {
		return 0, err
	}
	if s.metrics != nil && spent > 0 {
		s.metrics.PointsSpent.Add(float64(spent))
	}
	s.logger.Info().Str("user_id", id.String()).Int64("points", spent).Int64("balance", balance).Msg("points spent")
	return balance, nil
}

func (s *UserService) updatePoints(ctx context.Context, id uuid.UUID, apply func(u *domain.User) error) (int64, error) {
	var balance int64

	err := runLocked(ctx, s.locker, lock.Keys.User(id), s.config.Lock, func(ctx context.Context) error {
		user, err := s.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := apply(user); err != nil {
			return err
		}
		if err := s.userRepo.Save(ctx, user); err != nil {
			s.logger.Error().Err(err).Str("user_id", id.String()).Msg("failed to save user points")
			return fmt.Errorf("%w: %v", ErrInternalError, err)
		}
		balance = user.Points()
		return nil
	})
	if err != nil {
		return 0, err
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, repository.CacheKeys.UserPoints(id)); err != nil {
			s.logger.Warn().Err(err).Str("user_id", id.String()).Msg("failed to invalidate cache")
		}
	}
	return balance, nil
}

// UserPoints is the read model served for a user's points.
type UserPoints struct {
	ID        uuid.UUID               `json:"id"`
	Username  string                  `json:"username"`
	Nickname  string                  `json:"nickname"`
	Points    int64                   `json:"points"`
	Donations []domain.DonationRecord `json:"donations"`
}

// Points returns the points view of a user, served from the read cache when
// possible.
func (s *UserService) Points(ctx context.Context, id uuid.UUID) (*UserPoints, error) {
	key := repository.CacheKeys.UserPoints(id)
	useCache := s.cache != nil && s.config.PointsTTL > 0

	if useCache {
		var cached UserPoints
		hit := readCache(ctx, s.cache, key, &cached, s.logger)
		if s.metrics != nil {
			s.metrics.RecordCacheLookup(hit)
		}
		if hit {
			return &cached, nil
		}
	}

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &UserPoints{
		ID:        user.ID,
		Username:  user.Username,
		Nickname:  user.Nickname,
		Points:    user.Points(),
		Donations: user.Donations(),
	}
	if useCache {
		writeCache(ctx, s.cache, key, view, s.config.PointsTTL, s.logger)
	}
	return view, nil
}

// ListUsersOutput contains the result of listing users.
type ListUsersOutput struct {
	Users      []*domain.User
	TotalCount int64
}

// List returns users with pagination.
func (s *UserService) List(ctx context.Context, opts repository.ListOptions) (*ListUsersOutput, error) {
	result, err := s.userRepo.List(ctx, opts)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list users")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	return &ListUsersOutput{
		Users:      result.Items,
		TotalCount: result.Total,
	}, nil
}

func validateRegisterInput(input RegisterInput) error {
	if len(input.Username) < 3 || len(input.Username) > 255 {
		return ErrInvalidUsername
	}

	if _, err := mail.ParseAddress(input.Email); err != nil {
		return ErrInvalidEmail
	}

	if len(input.Password) < 8 {
		return ErrInvalidPassword
	}

	return nil
}
