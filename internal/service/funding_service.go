package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/crowdfund/internal/domain"
	"github.com/prn-tf/crowdfund/internal/lock"
	"github.com/prn-tf/crowdfund/internal/metrics"
	"github.com/prn-tf/crowdfund/internal/repository"
)

// FundingConfig contains the settings applied by FundingService.
type FundingConfig struct {
	// Defaults for new projects.
	Factor             int
	MinClosePercentage float64
	TargetFunds        int64

	// PointsPolicy is applied to every donor loaded by the service.
	PointsPolicy domain.PointsPolicy

	// ProgressTTL is how long progress views stay cached. Zero disables caching.
	ProgressTTL time.Duration

	// Lock controls how long donations wait for a busy project or user.
	Lock lock.RetryPolicy
}

// DefaultFundingConfig returns the domain defaults.
func DefaultFundingConfig() FundingConfig {
	return FundingConfig{
		Factor:             domain.DefaultFactor,
		MinClosePercentage: domain.DefaultMinClosePercentage,
		TargetFunds:        domain.DefaultTargetFunds,
		PointsPolicy:       domain.PointsReject,
		ProgressTTL:        30 * time.Second,
		Lock:               lock.DefaultRetryPolicy,
	}
}

// FundingService runs the project lifecycle: creation, edits, donations and
// completion. Every write holds the project lock; donations also hold the
// donor's lock, always taken after the project's.
type FundingService struct {
	projectRepo repository.ProjectRepository
	userRepo    repository.UserRepository
	locker      lock.Locker
	cache       repository.Cache
	metrics     *metrics.Metrics
	config      FundingConfig
	clock       func() time.Time
	logger      zerolog.Logger
}

// NewFundingService creates a new FundingService. cache and m may be nil.
func NewFundingService(
	projectRepo repository.ProjectRepository,
	userRepo repository.UserRepository,
	locker lock.Locker,
	cache repository.Cache,
	m *metrics.Metrics,
	logger zerolog.Logger,
	config FundingConfig,
) *FundingService {
	if config.Lock.TTL <= 0 {
		config.Lock = lock.DefaultRetryPolicy
	}
	if config.PointsPolicy == "" {
		config.PointsPolicy = domain.PointsReject
	}

	return &FundingService{
		projectRepo: projectRepo,
		userRepo:    userRepo,
		locker:      locker,
		cache:       cache,
		metrics:     m,
		config:      config,
		clock:       time.Now,
		logger:      logger.With().Str("service", "funding").Logger(),
	}
}

// SetClock replaces the source of "now" handed to every loaded project.
func (s *FundingService) SetClock(clock func() time.Time) {
	s.clock = clock
}

// =============================================================================
// Create / Update
// =============================================================================

// CreateProjectInput contains the data needed to create a project.
// Nil tuning fields fall back to the configured defaults.
type CreateProjectInput struct {
	Name               string
	StartDate          time.Time
	EndDate            time.Time
	Location           domain.Location
	Factor             *int
	MinClosePercentage *float64
	TargetFunds        *int64
}

// CreateProject validates and persists a new Planned project.
func (s *FundingService) CreateProject(ctx context.Context, input CreateProjectInput) (*domain.Project, error) {
	location, err := domain.NewLocation(input.Location.Name, input.Location.Province, input.Location.Population)
	if err != nil {
		return nil, err
	}

	opts := []domain.ProjectOption{
		domain.WithFactor(valueOr(input.Factor, s.config.Factor)),
		domain.WithMinClosePercentage(valueOr(input.MinClosePercentage, s.config.MinClosePercentage)),
		domain.WithTargetFunds(valueOr(input.TargetFunds, s.config.TargetFunds)),
		domain.WithClock(s.clock),
	}

	project, err := domain.NewProject(input.Name, input.StartDate, input.EndDate, location, opts...)
	if err != nil {
		return nil, err
	}

	if err := s.projectRepo.Create(ctx, project); err != nil {
		s.logger.Error().Err(err).Str("name", input.Name).Msg("failed to create project")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	if s.metrics != nil {
		s.metrics.ProjectsCreated.Inc()
	}

	s.logger.Info().
		Str("project_id", project.ID().String()).
		Str("name", project.Name()).
		Time("end_date", project.EndDate()).
		Int64("target_funds", project.TargetFunds()).
		Msg("project created")

	return project, nil
}

// UpdateProjectInput lists the fields to change. Nil fields are left alone.
type UpdateProjectInput struct {
	ID                 uuid.UUID
	Name               *string
	StartDate          *time.Time
	EndDate            *time.Time
	Location           *domain.Location
	Factor             *int
	MinClosePercentage *float64
	TargetFunds        *int64
}

// UpdateProject applies input through the validated setters. Either every
// change is persisted or none is.
func (s *FundingService) UpdateProject(ctx context.Context, input UpdateProjectInput) (*domain.Project, error) {
	var updated *domain.Project

	err := s.withLock(ctx, lock.Keys.Project(input.ID), func(ctx context.Context) error {
		project, err := s.loadProject(ctx, input.ID)
		if err != nil {
			return err
		}

		// The loaded aggregate is private to this call, so a failed setter
		// only has to skip the save.
		if err := applyProjectUpdate(project, input); err != nil {
			return err
		}

		if err := s.projectRepo.Save(ctx, project); err != nil {
			s.logger.Error().Err(err).Str("project_id", input.ID.String()).Msg("failed to save project")
			return fmt.Errorf("%w: %v", ErrInternalError, err)
		}

		updated = project
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, repository.CacheKeys.ProjectProgress(input.ID))

	s.logger.Info().Str("project_id", input.ID.String()).Msg("project updated")
	return updated, nil
}

func applyProjectUpdate(p *domain.Project, input UpdateProjectInput) error {
	if input.Name != nil {
		p.SetName(*input.Name)
	}

	switch {
	case input.StartDate != nil && input.EndDate != nil:
		if err := domain.AssertEndAfterStart(*input.StartDate, *input.EndDate); err != nil {
			return err
		}
		// Order the two setters so the intermediate range stays valid.
		if domain.DateOf(*input.EndDate).Before(domain.DateOf(p.EndDate())) {
			if err := p.SetStartDate(*input.StartDate); err != nil {
				return err
			}
			if err := p.SetEndDate(*input.EndDate); err != nil {
				return err
			}
		} else {
			if err := p.SetEndDate(*input.EndDate); err != nil {
				return err
			}
			if err := p.SetStartDate(*input.StartDate); err != nil {
				return err
			}
		}
	case input.StartDate != nil:
		if err := p.SetStartDate(*input.StartDate); err != nil {
			return err
		}
	case input.EndDate != nil:
		if err := p.SetEndDate(*input.EndDate); err != nil {
			return err
		}
	}

	if input.Location != nil {
		location, err := domain.NewLocation(input.Location.Name, input.Location.Province, input.Location.Population)
		if err != nil {
			return err
		}
		p.SetLocation(location)
	}
	if input.Factor != nil {
		if err := p.SetFactor(*input.Factor); err != nil {
			return err
		}
	}
	if input.MinClosePercentage != nil {
		if err := p.SetMinClosePercentage(*input.MinClosePercentage); err != nil {
			return err
		}
	}
	if input.TargetFunds != nil {
		if err := p.SetTargetFunds(*input.TargetFunds); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Donate / Complete
// =============================================================================

// DonateInput contains the data needed to donate to a project.
type DonateInput struct {
	ProjectID uuid.UUID
	UserID    uuid.UUID
	Amount    int64
	Comment   string
}

// DonateOutput contains the result of a donation.
type DonateOutput struct {
	// Accepted is false when the project is closed and ignored the donation.
	Accepted bool

	// Donation is nil unless Accepted.
	Donation *domain.Donation

	// PointsAwarded is what the donor was credited for this donation.
	PointsAwarded int64

	// Balance is the donor's points balance afterwards.
	Balance int64

	// State is the project state at the time of the donation.
	State domain.ProjectState
}

// Donate records a donation and credits the donor's points.
// A donation to a closed project is not an error: it returns Accepted=false
// and changes nothing.
func (s *FundingService) Donate(ctx context.Context, input DonateInput) (*DonateOutput, error) {
	var out DonateOutput

	err := s.withLock(ctx, lock.Keys.Project(input.ProjectID), func(ctx context.Context) error {
		return s.withLock(ctx, lock.Keys.User(input.UserID), func(ctx context.Context) error {
			project, err := s.loadProject(ctx, input.ProjectID)
			if err != nil {
				return err
			}
			user, err := s.loadUser(ctx, input.UserID)
			if err != nil {
				return err
			}

			donation, err := project.Donate(input.Amount, input.Comment, user)
			if err != nil {
				return err
			}

			out.State = project.State()
			out.Balance = user.Points()
			if donation == nil {
				return nil
			}

			points := donation.CalculatePoints(user)
			if points > 0 {
				if err := user.AddPoints(points); err != nil {
					return err
				}
			}

			if err := s.projectRepo.SaveDonation(ctx, project, user); err != nil {
				s.logger.Error().Err(err).
					Str("project_id", input.ProjectID.String()).
					Str("user_id", input.UserID.String()).
					Msg("failed to save donation")
				return fmt.Errorf("%w: %v", ErrInternalError, err)
			}

			out.Accepted = true
			out.Donation = donation
			out.PointsAwarded = points
			out.Balance = user.Points()
			return nil
		})
	})
	if err != nil {
		if s.metrics != nil && IsInvalidInput(err) {
			s.metrics.RecordDonation(metrics.OutcomeRejected, input.Amount, 0)
		}
		return nil, err
	}

	if !out.Accepted {
		if s.metrics != nil {
			s.metrics.RecordDonation(metrics.OutcomeIgnored, input.Amount, 0)
		}
		s.logger.Info().
			Str("project_id", input.ProjectID.String()).
			Str("user_id", input.UserID.String()).
			Str("state", out.State.String()).
			Msg("donation ignored by closed project")
		return &out, nil
	}

	s.invalidate(ctx,
		repository.CacheKeys.ProjectProgress(input.ProjectID),
		repository.CacheKeys.UserPoints(input.UserID),
	)

	if s.metrics != nil {
		s.metrics.RecordDonation(metrics.OutcomeAccepted, input.Amount, out.PointsAwarded)
	}

	s.logger.Info().
		Str("project_id", input.ProjectID.String()).
		Str("user_id", input.UserID.String()).
		Str("donation_id", out.Donation.ID().String()).
		Int64("amount", input.Amount).
		Int64("points", out.PointsAwarded).
		Msg("donation accepted")

	return &out, nil
}

// CompleteProjectOutput contains the result of a completion attempt.
type CompleteProjectOutput struct {
	Previous domain.ProjectState
	State    domain.ProjectState
}

// Changed reports whether the attempt moved the project to another state.
func (o *CompleteProjectOutput) Changed() bool {
	return o.Previous != o.State
}

// CompleteProject asks the project to evaluate its completion and persists
// the result if the state changed.
func (s *FundingService) CompleteProject(ctx context.Context, id uuid.UUID) (*CompleteProjectOutput, error) {
	var out CompleteProjectOutput

	err := s.withLock(ctx, lock.Keys.Project(id), func(ctx context.Context) error {
		project, err := s.loadProject(ctx, id)
		if err != nil {
			return err
		}

		out.Previous = project.State()
		out.State = project.CompleteProject()
		if !out.Changed() {
			return nil
		}

		if err := s.projectRepo.Save(ctx, project); err != nil {
			s.logger.Error().Err(err).Str("project_id", id.String()).Msg("failed to save completed project")
			return fmt.Errorf("%w: %v", ErrInternalError, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Changed() {
		s.invalidate(ctx, repository.CacheKeys.ProjectProgress(id))
		if s.metrics != nil {
			s.metrics.RecordTransition(out.Previous.String(), out.State.String())
		}
		s.logger.Info().
			Str("project_id", id.String()).
			Str("from", out.Previous.String()).
			Str("to", out.State.String()).
			Msg("project state changed")
	}

	return &out, nil
}

// =============================================================================
// Queries
// =============================================================================

// GetProject returns a project by ID.
func (s *FundingService) GetProject(ctx context.Context, id uuid.UUID) (*domain.Project, error) {
	return s.loadProject(ctx, id)
}

// ListProjects returns projects with pagination.
func (s *FundingService) ListProjects(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.Project], error) {
	result, err := s.projectRepo.List(ctx, opts)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list projects")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return result, nil
}

// ProjectProgress is the read model served for a project.
type ProjectProgress struct {
	ID                    uuid.UUID           `json:"id"`
	Name                  string              `json:"name"`
	State                 domain.ProjectState `json:"state"`
	StateName             string              `json:"state_name"`
	AcceptsDonations      bool                `json:"accepts_donations"`
	StartDate             time.Time           `json:"start_date"`
	EndDate               time.Time           `json:"end_date"`
	Location              domain.Location     `json:"location"`
	RaisedFunds           int64               `json:"raised_funds"`
	TargetFunds           int64               `json:"target_funds"`
	MinClosePercentage    float64             `json:"min_close_percentage"`
	AccumulatedPercentage float64             `json:"accumulated_percentage"`
	MissingPercentage     float64             `json:"missing_percentage"`
	Participants          int                 `json:"participants"`
	Donations             int                 `json:"donations"`
}

// NewProjectProgress builds the progress view of p.
func NewProjectProgress(p *domain.Project) *ProjectProgress {
	return &ProjectProgress{
		ID:                    p.ID(),
		Name:                  p.Name(),
		State:                 p.State(),
		StateName:             p.State().DisplayName(),
		AcceptsDonations:      p.State().AcceptsDonations(),
		StartDate:             p.StartDate(),
		EndDate:               p.EndDate(),
		Location:              p.Location(),
		RaisedFunds:           p.RaisedFunds(),
		TargetFunds:           p.TargetFunds(),
		MinClosePercentage:    p.MinClosePercentage(),
		AccumulatedPercentage: p.AccumulatedValuePercentage(),
		MissingPercentage:     p.MissingPercentageToComplete(),
		Participants:          p.ParticipantsAmount(),
		Donations:             len(p.Donations()),
	}
}

// Progress returns the progress view of a project, served from the read
// cache when possible.
func (s *FundingService) Progress(ctx context.Context, id uuid.UUID) (*ProjectProgress, error) {
	key := repository.CacheKeys.ProjectProgress(id)

	var cached ProjectProgress
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}

	project, err := s.loadProject(ctx, id)
	if err != nil {
		return nil, err
	}

	progress := NewProjectProgress(project)
	s.cacheSet(ctx, key, progress)
	return progress, nil
}

// =============================================================================
// Helpers
// =============================================================================

func (s *FundingService) loadProject(ctx context.Context, id uuid.UUID) (*domain.Project, error) {
	project, err := s.projectRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
		}
		s.logger.Error().Err(err).Str("project_id", id.String()).Msg("failed to get project")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	project.SetClock(s.clock)
	return project, nil
}

func (s *FundingService) loadUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
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

func (s *FundingService) withLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return runLocked(ctx, s.locker, key, s.config.Lock, fn)
}

func (s *FundingService) cacheGet(ctx context.Context, key string, dst any) bool {
	if s.cache == nil || s.config.ProgressTTL <= 0 {
		return false
	}
	hit := readCache(ctx, s.cache, key, dst, s.logger)
	if s.metrics != nil {
		s.metrics.RecordCacheLookup(hit)
	}
	return hit
}

func (s *FundingService) cacheSet(ctx context.Context, key string, v any) {
	if s.cache == nil || s.config.ProgressTTL <= 0 {
		return
	}
	writeCache(ctx, s.cache, key, v, s.config.ProgressTTL, s.logger)
}

func (s *FundingService) invalidate(ctx context.Context, keys ...string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn().Err(err).Strs("keys", keys).Msg("failed to invalidate cache")
	}
}

// runLocked wraps lock.Run and reports a lock that stayed busy as ErrResourceBusy.
func runLocked(ctx context.Context, locker lock.Locker, key string, policy lock.RetryPolicy, fn func(ctx context.Context) error) error {
	err := lock.Run(ctx, locker, key, policy, fn)
	if errors.Is(err, lock.ErrNotAcquired) {
		return fmt.Errorf("%w: %v", ErrResourceBusy, err)
	}
	return err
}

// readCache decodes the JSON cached under key into dst. Misses and
// undecodable entries both report false.
func readCache(ctx context.Context, cache repository.Cache, key string, dst any, logger zerolog.Logger) bool {
	raw, err := cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, repository.ErrCacheMiss) {
			logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("dropping undecodable cache entry")
		_ = cache.Delete(ctx, key)
		return false
	}
	return true
}

func writeCache(ctx context.Context, cache repository.Cache, key string, v any, ttl time.Duration, logger zerolog.Logger) {
	raw, err := json.Marshal(v)
	if err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("cache encode failed")
		return
	}
	if err := cache.Set(ctx, key, raw, ttl); err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

func valueOr[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}
	return *p
}
