package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/crowdfund/internal/cache/memory"
	"github.com/prn-tf/crowdfund/internal/domain"
	"github.com/prn-tf/crowdfund/internal/lock"
	"github.com/prn-tf/crowdfund/internal/metrics"
)

func ptr[T any](v T) *T { return &v }

func TestFundingService_CreateProject(t *testing.T) {
	ctx := context.Background()

	t.Run("applies configured defaults", func(t *testing.T) {
		cfg := testFundingConfig()
		cfg.Factor = 250
		cfg.MinClosePercentage = 80
		cfg.TargetFunds = 5000
		f := newFundingFixture(t, cfg, nil)

		p := f.newProject(t, 5000)

		assert.Equal(t, 250, p.Factor())
		assert.Equal(t, 80.0, p.MinClosePercentage())
		assert.Equal(t, int64(5000), p.TargetFunds())
		assert.Equal(t, domain.StatePlanned, p.State())
		assert.Equal(t, testNow, p.CreatedAt())

		stored := f.projects.stored(t, p.ID())
		assert.Equal(t, "Conectar Quilmes", stored.Name)
	})

	t.Run("input overrides defaults", func(t *testing.T) {
		f := newFundingFixture(t, testFundingConfig(), nil)

		p, err := f.svc.CreateProject(ctx, CreateProjectInput{
			Name:               "Escuela",
			StartDate:          domain.Date(2026, 11, 1),
			EndDate:            domain.Date(2026, 12, 1),
			Location:           domain.Location{Name: "Tilcara", Population: 900},
			Factor:             ptr(10),
			MinClosePercentage: ptr(50.0),
			TargetFunds:        ptr(int64(200)),
		})
		require.NoError(t, err)

		assert.Equal(t, 10, p.Factor())
		assert.Equal(t, 50.0, p.MinClosePercentage())
		assert.Equal(t, int64(200), p.TargetFunds())
	})

	tests := []struct {
		name    string
		input   CreateProjectInput
		wantErr error
	}{
		{
			name: "end before start",
			input: CreateProjectInput{
				StartDate: domain.Date(2026, 12, 1),
				EndDate:   domain.Date(2026, 11, 1),
			},
			wantErr: domain.ErrInvalidDateRange,
		},
		{
			name: "negative population",
			input: CreateProjectInput{
				StartDate: domain.Date(2026, 11, 1),
				EndDate:   domain.Date(2026, 12, 1),
				Location:  domain.Location{Population: -1},
			},
			wantErr: domain.ErrNotPositive,
		},
		{
			name: "factor out of range",
			input: CreateProjectInput{
				StartDate: domain.Date(2026, 11, 1),
				EndDate:   domain.Date(2026, 12, 1),
				Factor:    ptr(100001),
			},
			wantErr: domain.ErrInvalidFactor,
		},
		{
			name: "percentage out of range",
			input: CreateProjectInput{
				StartDate:          domain.Date(2026, 11, 1),
				EndDate:            domain.Date(2026, 12, 1),
				MinClosePercentage: ptr(49.9),
			},
			wantErr: domain.ErrInvalidPercentage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFundingFixture(t, testFundingConfig(), nil)

			_, err := f.svc.CreateProject(ctx, tt.input)
			require.ErrorIs(t, err, tt.wantErr)
			assert.True(t, IsInvalidInput(err))
			assert.Empty(t, f.projects.items)
		})
	}
}

func TestFundingService_UpdateProject(t *testing.T) {
	ctx := context.Background()

	t.Run("applies every field", func(t *testing.T) {
		f := newFundingFixture(t, testFundingConfig(), nil)
		p := f.newProject(t, 5000)

		newStart := p.EndDate().AddDate(0, 1, 0)
		newEnd := p.EndDate().AddDate(0, 2, 0)
		updated, err := f.svc.UpdateProject(ctx, UpdateProjectInput{
			ID:          p.ID(),
			Name:        ptr("Conectar Bernal"),
			StartDate:   &newStart,
			EndDate:     &newEnd,
			Location:    &domain.Location{Name: "Bernal", Population: 1500},
			Factor:      ptr(42),
			TargetFunds: ptr(int64(3000)),
		})
		require.NoError(t, err)
		assert.Equal(t, "Conectar Bernal", updated.Name())

		stored := f.projects.stored(t, p.ID())
		assert.Equal(t, "Conectar Bernal", stored.Name)
		assert.Equal(t, newStart, stored.StartDate)
		assert.Equal(t, newEnd, stored.EndDate)
		assert.Equal(t, int64(1500), stored.Location.Population)
		assert.Equal(t, 42, stored.Factor)
		assert.Equal(t, int64(3000), stored.TargetFunds)
	})

	t.Run("both dates moved earlier", func(t *testing.T) {
		f := newFundingFixture(t, testFundingConfig(), nil)
		p := f.newProject(t, 5000)

		newStart := p.StartDate().AddDate(0, -3, 0)
		newEnd := p.StartDate().AddDate(0, -2, 0)
		_, err := f.svc.UpdateProject(ctx, UpdateProjectInput{ID: p.ID(), StartDate: &newStart, EndDate: &newEnd})
		require.NoError(t, err)

		stored := f.projects.stored(t, p.ID())
		assert.Equal(t, newEnd, stored.EndDate)
	})

	t.Run("nothing persisted when a setter fails", func(t *testing.T) {
		f := newFundingFixture(t, testFundingConfig(), nil)
		p := f.newProject(t, 5000)

		_, err := f.svc.UpdateProject(ctx, UpdateProjectInput{
			ID:     p.ID(),
			Name:   ptr("renamed"),
			Factor: ptr(-5),
		})
		require.ErrorIs(t, err, domain.ErrInvalidFactor)

		stored := f.projects.stored(t, p.ID())
		assert.Equal(t, "Conectar Quilmes", stored.Name)
		assert.Equal(t, domain.DefaultFactor, stored.Factor)
	})

	t.Run("inverted date pair", func(t *testing.T) {
		f := newFundingFixture(t, testFundingConfig(), nil)
		p := f.newProject(t, 5000)

		start, end := p.EndDate(), p.StartDate()
		_, err := f.svc.UpdateProject(ctx, UpdateProjectInput{ID: p.ID(), StartDate: &start, EndDate: &end})
		require.ErrorIs(t, err, domain.ErrInvalidDateRange)
	})

	t.Run("unknown project", func(t *testing.T) {
		f := newFundingFixture(t, testFundingConfig(), nil)

		_, err := f.svc.UpdateProject(ctx, UpdateProjectInput{ID: uuid.New(), Name: ptr("x")})
		require.ErrorIs(t, err, ErrProjectNotFound)
	})
}

func TestFundingService_Donate(t *testing.T) {
	ctx := context.Background()

	t.Run("scores and persists", func(t *testing.T) {
		f := newFundingFixture(t, testFundingConfig(), nil)
		p := f.newProject(t, 1000)
		u := f.newUser(t, "ana")

		// Small town: double bonus only.
		out, err := f.svc.Donate(ctx, DonateInput{ProjectID: p.ID(), UserID: u.ID, Amount: 300, Comment: "suerte"})
		require.NoError(t, err)
		require.True(t, out.Accepted)
		require.NotNil(t, out.Donation)
		assert.Equal(t, int64(600), out.PointsAwarded)
		assert.Equal(t, int64(600), out.Balance)
		assert.Equal(t, testNow, out.Donation.Date())

		// Above 1000 in a small town, with a recent earlier donation.
		out, err = f.svc.Donate(ctx, DonateInput{ProjectID: p.ID(), UserID: u.ID, Amount: 1500})
		require.NoError(t, err)
		assert.Equal(t, int64(1500+3000+500), out.PointsAwarded)
		assert.Equal(t, int64(5600), out.Balance)

		stored := f.projects.stored(t, p.ID())
		assert.Equal(t, int64(1800), stored.RaisedFunds)
		assert.Len(t, stored.Donations, 2)
		assert.Equal(t, []uuid.UUID{u.ID}, stored.Participants)
		assert.Equal(t, "suerte", stored.Donations[0].Comment())

		assert.Equal(t, int64(5600), f.users.storedPoints(t, u.ID))
		donor, err := f.users.GetByID(ctx, u.ID)
		require.NoError(t, err)
		history := donor.Donations()
		require.Len(t, history, 2)
		assert.Equal(t, p.ID(), history[0].ProjectID)
	})

	t.Run("closed project ignores the donation", func(t *testing.T) {
		for _, state := range []domain.ProjectState{domain.StateConnected, domain.StateSuspended} {
			t.Run(state.String(), func(t *testing.T) {
				f := newFundingFixture(t, testFundingConfig(), nil)
				p := f.newProject(t, 1000)
				u := f.newUser(t, "ana")
				f.forceState(t, p.ID(), state)
				saves := f.projects.saves

				out, err := f.svc.Donate(ctx, DonateInput{ProjectID: p.ID(), UserID: u.ID, Amount: 500})
				require.NoError(t, err)
				assert.False(t, out.Accepted)
				assert.Nil(t, out.Donation)
				assert.Equal(t, state, out.State)

				assert.Equal(t, saves, f.projects.saves)
				assert.Zero(t, f.projects.stored(t, p.ID()).RaisedFunds)
				assert.Zero(t, f.users.storedPoints(t, u.ID))
			})
		}
	})

	t.Run("non positive amount", func(t *testing.T) {
		f := newFundingFixture(t, testFundingConfig(), nil)
		p := f.newProject(t, 1000)
		u := f.newUser(t, "ana")

		_, err := f.svc.Donate(ctx, DonateInput{ProjectID: p.ID(), UserID: u.ID, Amount: 0})
		require.ErrorIs(t, err, domain.ErrNotPositive)
		assert.Zero(t, f.projects.stored(t, p.ID()).RaisedFunds)
	})

	t.Run("unknown project and user", func(t *testing.T) {
		f := newFundingFixture(t, testFundingConfig(), nil)
		p := f.newProject(t, 1000)
		u := f.newUser(t, "ana")

		_, err := f.svc.Donate(ctx, DonateInput{ProjectID: uuid.New(), UserID: u.ID, Amount: 10})
		require.ErrorIs(t, err, ErrProjectNotFound)

		_, err = f.svc.Donate(ctx, DonateInput{ProjectID: p.ID(), UserID: uuid.New(), Amount: 10})
		require.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("busy project", func(t *testing.T) {
		f := newFundingFixture(t, testFundingConfig(), nil)
		p := f.newProject(t, 1000)
		u := f.newUser(t, "ana")

		ok, err := f.locker.Acquire(ctx, lock.Keys.Project(p.ID()), time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		_, err = f.svc.Donate(ctx, DonateInput{ProjectID: p.ID(), UserID: u.ID, Amount: 10})
		require.ErrorIs(t, err, ErrResourceBusy)
	})

	t.Run("donor save failure stores nothing", func(t *testing.T) {
		f := newFundingFixture(t, testFundingConfig(), nil)
		p := f.newProject(t, 1000)
		u := f.newUser(t, "ana")
		f.projects.failDonorSave = errors.New("disk full")

		_, err := f.svc.Donate(ctx, DonateInput{ProjectID: p.ID(), UserID: u.ID, Amount: 1500})
		require.ErrorIs(t, err, ErrInternalError)

		stored := f.projects.stored(t, p.ID())
		assert.Zero(t, stored.RaisedFunds)
		assert.Empty(t, stored.Donations)
		assert.Empty(t, stored.Participants)
		assert.Zero(t, f.users.storedPoints(t, u.ID))

		// The lock was released and a retry goes through once storage recovers.
		f.projects.failDonorSave = nil
		out, err := f.svc.Donate(ctx, DonateInput{ProjectID: p.ID(), UserID: u.ID, Amount: 1500})
		require.NoError(t, err)
		assert.True(t, out.Accepted)
		assert.Equal(t, int64(1500), f.projects.stored(t, p.ID()).RaisedFunds)
		assert.Equal(t, out.Balance, f.users.storedPoints(t, u.ID))
	})

	t.Run("records metrics", func(t *testing.T) {
		f := newFundingFixture(t, testFundingConfig(), nil)
		m := metrics.NewMetrics()
		f.svc.metrics = m
		p := f.newProject(t, 1000)
		u := f.newUser(t, "ana")

		_, err := f.svc.Donate(ctx, DonateInput{ProjectID: p.ID(), UserID: u.ID, Amount: 300})
		require.NoError(t, err)
		_, err = f.svc.Donate(ctx, DonateInput{ProjectID: p.ID(), UserID: u.ID, Amount: -3})
		require.Error(t, err)

		assert.Equal(t, 1.0, testutil.ToFloat64(m.DonationsTotal.WithLabelValues(metrics.OutcomeAccepted)))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.DonationsTotal.WithLabelValues(metrics.OutcomeRejected)))
		assert.Equal(t, 600.0, testutil.ToFloat64(m.PointsAwarded))
	})
}

func TestFundingService_Donate_Concurrent(t *testing.T) {
	ctx := context.Background()
	cfg := testFundingConfig()
	cfg.Lock = lock.RetryPolicy{TTL: time.Minute, MaxRetries: 1000, RetryDelay: time.Millisecond}
	f := newFundingFixture(t, cfg, nil)
	p := f.newProject(t, 5000)

	const donors = 8
	users := make([]*domain.User, donors)
	for i := range users {
		users[i] = f.newUser(t, "donor"+string(rune('a'+i)))
	}

	errs := make(chan error, donors)
	for _, u := range users {
		go func(id uuid.UUID) {
			_, err := f.svc.Donate(ctx, DonateInput{ProjectID: p.ID(), UserID: id, Amount: 10})
			errs <- err
		}(u.ID)
	}
	for range users {
		require.NoError(t, <-errs)
	}

	stored := f.projects.stored(t, p.ID())
	assert.Equal(t, int64(10*donors), stored.RaisedFunds)
	assert.Len(t, stored.Donations, donors)
	assert.Len(t, stored.Participants, donors)
}

func TestFundingService_CompleteProject(t *testing.T) {
	ctx := context.Background()

	t.Run("funded project connects", func(t *testing.T) {
		f := newFundingFixture(t, testFundingConfig(), nil)
		p := f.newProject(t, 5000)
		u := f.newUser(t, "ana")
		_, err := f.svc.Donate(ctx, DonateInput{ProjectID: p.ID(), UserID: u.ID, Amount: domain.DefaultTargetFunds})
		require.NoError(t, err)

		out, err := f.svc.CompleteProject(ctx, p.ID())
		require.NoError(t, err)
		assert.True(t, out.Changed())
		assert.Equal(t, domain.StatePlanned, out.Previous)
		assert.Equal(t, domain.StateConnected, out.State)
		assert.Equal(t, domain.StateConnected, f.projects.stored(t, p.ID()).State)
	})

	t.Run("expired project suspends", func(t *testing.T) {
		f := newFundingFixture(t, testFundingConfig(), nil)
		p := f.newProject(t, 5000)
		f.svc.SetClock(func() time.Time { return p.EndDate().AddDate(0, 0, 1) })

		out, err := f.svc.CompleteProject(ctx, p.ID())
		require.NoError(t, err)
		assert.Equal(t, domain.StateSuspended, out.State)
		assert.Equal(t, domain.StateSuspended, f.projects.stored(t, p.ID()).State)
	})

	t.Run("unfunded open project stays planned without a save", func(t *testing.T) {
		f := newFundingFixture(t, testFundingConfig(), nil)
		p := f.newProject(t, 5000)
		saves := f.projects.saves

		out, err := f.svc.CompleteProject(ctx, p.ID())
		require.NoError(t, err)
		assert.False(t, out.Changed())
		assert.Equal(t, saves, f.projects.saves)
	})

	t.Run("save failure", func(t *testing.T) {
		p, err := domain.NewProject("x", domain.Date(2026, 1, 1), domain.Date(2026, 2, 1), domain.Location{})
		require.NoError(t, err)

		repo := &mockProjectRepository{}
		repo.On("GetByID", mock.Anything, p.ID()).Return(p, nil)
		repo.On("Save", mock.Anything, p).Return(errors.New("disk full"))

		locker := lock.NewMemoryLocker()
		t.Cleanup(func() { _ = locker.Close() })
		svc := NewFundingService(repo, newFakeUserRepository(), locker, nil, nil, zerolog.Nop(), testFundingConfig())
		svc.SetClock(fixedClock)

		_, err = svc.CompleteProject(ctx, p.ID())
		require.ErrorIs(t, err, ErrInternalError)
		repo.AssertExpectations(t)
	})
}

func TestFundingService_Progress(t *testing.T) {
	ctx := context.Background()
	cache := memory.NewCache()
	t.Cleanup(cache.Stop)

	f := newFundingFixture(t, testFundingConfig(), cache)
	p := f.newProject(t, 5000)
	u := f.newUser(t, "ana")

	_, err := f.svc.Donate(ctx, DonateInput{ProjectID: p.ID(), UserID: u.ID, Amount: 250})
	require.NoError(t, err)

	progress, err := f.svc.Progress(ctx, p.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.StatePlanned, progress.State)
	assert.True(t, progress.AcceptsDonations)
	assert.Equal(t, int64(250), progress.RaisedFunds)
	assert.Equal(t, 25.0, progress.AccumulatedPercentage)
	assert.Equal(t, 75.0, progress.MissingPercentage)
	assert.Equal(t, 1, progress.Participants)
	assert.Equal(t, 1, progress.Donations)

	// A write behind the service's back is not seen until invalidation.
	f.forceState(t, p.ID(), domain.StateSuspended)
	cached, err := f.svc.Progress(ctx, p.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.StatePlanned, cached.State)

	_, err = f.svc.UpdateProject(ctx, UpdateProjectInput{ID: p.ID(), Name: ptr("renamed")})
	require.NoError(t, err)

	fresh, err := f.svc.Progress(ctx, p.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.StateSuspended, fresh.State)
	assert.Equal(t, "renamed", fresh.Name)

	_, err = f.svc.Progress(ctx, uuid.New())
	require.ErrorIs(t, err, ErrProjectNotFound)
}
