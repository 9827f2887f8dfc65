package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/prn-tf/crowdfund/internal/domain"
	"github.com/prn-tf/crowdfund/internal/lock"
	"github.com/prn-tf/crowdfund/internal/repository"
)

// testNow is the fixed "today" used across service tests.
var testNow = time.Date(2026, time.October, 15, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// fastLock never waits for a busy lock.
var fastLock = lock.RetryPolicy{TTL: time.Minute, MaxRetries: 0, RetryDelay: time.Millisecond}

// =============================================================================
// In-memory repositories
// =============================================================================

// fakeProjectRepository stores snapshots, so every GetByID hands out a fresh
// aggregate the way the SQL repositories do.
type fakeProjectRepository struct {
	mu    sync.Mutex
	items map[uuid.UUID]domain.ProjectSnapshot
	saves int

	// users receives the donor half of SaveDonation.
	users *fakeUserRepository
	// failDonorSave makes the donor half of SaveDonation fail.
	failDonorSave error
}

func newFakeProjectRepository() *fakeProjectRepository {
	return &fakeProjectRepository{items: make(map[uuid.UUID]domain.ProjectSnapshot)}
}

func (r *fakeProjectRepository) Create(ctx context.Context, p *domain.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[p.ID()]; ok {
		return repository.ErrAlreadyExists
	}
	r.items[p.ID()] = copySnapshot(p.Snapshot())
	return nil
}

func (r *fakeProjectRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.items[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return domain.RestoreProject(copySnapshot(s))
}

func (r *fakeProjectRepository) Save(ctx context.Context, p *domain.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[p.ID()] = copySnapshot(p.Snapshot())
	r.saves++
	return nil
}

// SaveDonation writes nothing unless both the project and the donor can be
// stored.
func (r *fakeProjectRepository) SaveDonation(ctx context.Context, p *domain.Project, donor *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failDonorSave != nil {
		return r.failDonorSave
	}
	r.users.mu.Lock()
	defer r.users.mu.Unlock()
	if _, ok := r.users.items[donor.ID]; !ok {
		return repository.ErrNotFound
	}
	r.items[p.ID()] = copySnapshot(p.Snapshot())
	r.saves++
	r.users.put(donor)
	return nil
}

func (r *fakeProjectRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *fakeProjectRepository) List(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.Project], error) {
	opts = opts.Normalize()
	all := r.sorted(func(a, b domain.ProjectSnapshot) bool { return a.CreatedAt.After(b.CreatedAt) })

	items := []*domain.Project{}
	for i := opts.Offset; i < len(all) && len(items) < opts.Limit; i++ {
		p, err := domain.RestoreProject(all[i])
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return &repository.ListResult[domain.Project]{
		Items:  items,
		Total:  int64(len(all)),
		Offset: opts.Offset,
		Limit:  opts.Limit,
	}, nil
}

func (r *fakeProjectRepository) ListByState(ctx context.Context, state domain.ProjectState, limit int) ([]*domain.Project, error) {
	all := r.sorted(func(a, b domain.ProjectSnapshot) bool { return a.EndDate.Before(b.EndDate) })

	var out []*domain.Project
	for _, s := range all {
		if s.State != state {
			continue
		}
		if len(out) == limit {
			break
		}
		p, err := domain.RestoreProject(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *fakeProjectRepository) sorted(less func(a, b domain.ProjectSnapshot) bool) []domain.ProjectSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]domain.ProjectSnapshot, 0, len(r.items))
	for _, s := range r.items {
		all = append(all, copySnapshot(s))
	}
	sort.Slice(all, func(i, j int) bool { return less(all[i], all[j]) })
	return all
}

// stored returns the persisted form of a project, failing the test if absent.
func (r *fakeProjectRepository) stored(t *testing.T, id uuid.UUID) domain.ProjectSnapshot {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.items[id]
	require.True(t, ok, "project %s not stored", id)
	return s
}

func copySnapshot(s domain.ProjectSnapshot) domain.ProjectSnapshot {
	s.Participants = append([]uuid.UUID(nil), s.Participants...)
	donations := make([]*domain.Donation, len(s.Donations))
	for i, d := range s.Donations {
		donations[i] = domain.RestoreDonation(d.ID(), d.Amount(), d.Comment(), d.Date(), d.UserID())
	}
	s.Donations = donations
	return s
}

type storedUser struct {
	user    domain.User
	points  int64
	history []domain.DonationRecord
}

type fakeUserRepository struct {
	mu    sync.Mutex
	items map[uuid.UUID]storedUser
}

func newFakeUserRepository() *fakeUserRepository {
	return &fakeUserRepository{items: make(map[uuid.UUID]storedUser)}
}

func (r *fakeUserRepository) put(u *domain.User) {
	r.items[u.ID] = storedUser{user: *u, points: u.Points(), history: u.Donations()}
}

func (r *fakeUserRepository) restore(s storedUser) (*domain.User, error) {
	return domain.RestoreUser(s.user, s.points, s.history)
}

func (r *fakeUserRepository) Create(ctx context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.items {
		if s.user.Username == u.Username || s.user.Email == u.Email {
			return repository.ErrAlreadyExists
		}
	}
	r.put(u)
	return nil
}

func (r *fakeUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.items[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.restore(s)
}

func (r *fakeUserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.items {
		if s.user.Username == username {
			return r.restore(s)
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeUserRepository) Save(ctx context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[u.ID]; !ok {
		return repository.ErrNotFound
	}
	r.put(u)
	return nil
}

func (r *fakeUserRepository) List(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.User], error) {
	opts = opts.Normalize()
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]storedUser, 0, len(r.items))
	for _, s := range r.items {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].user.Username < all[j].user.Username })

	items := []*domain.User{}
	for i := opts.Offset; i < len(all) && len(items) < opts.Limit; i++ {
		u, err := r.restore(all[i])
		if err != nil {
			return nil, err
		}
		items = append(items, u)
	}
	return &repository.ListResult[domain.User]{Items: items, Total: int64(len(all)), Offset: opts.Offset, Limit: opts.Limit}, nil
}

func (r *fakeUserRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	_, err := r.GetByUsername(ctx, username)
	return err == nil, nil
}

func (r *fakeUserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.items {
		if s.user.Email == email {
			return true, nil
		}
	}
	return false, nil
}

// storedPoints returns the persisted balance of a user.
func (r *fakeUserRepository) storedPoints(t *testing.T, id uuid.UUID) int64 {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.items[id]
	require.True(t, ok, "user %s not stored", id)
	return s.points
}

// =============================================================================
// testify mocks for failure paths
// =============================================================================

type mockProjectRepository struct {
	mock.Mock
}

func (m *mockProjectRepository) Create(ctx context.Context, p *domain.Project) error {
	return m.Called(ctx, p).Error(0)
}

func (m *mockProjectRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Project, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Project), args.Error(1)
}

func (m *mockProjectRepository) Save(ctx context.Context, p *domain.Project) error {
	return m.Called(ctx, p).Error(0)
}

func (m *mockProjectRepository) SaveDonation(ctx context.Context, p *domain.Project, donor *domain.User) error {
	return m.Called(ctx, p, donor).Error(0)
}

func (m *mockProjectRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockProjectRepository) List(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.Project], error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.ListResult[domain.Project]), args.Error(1)
}

func (m *mockProjectRepository) ListByState(ctx context.Context, state domain.ProjectState, limit int) ([]*domain.Project, error) {
	args := m.Called(ctx, state, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Project), args.Error(1)
}

// =============================================================================
// Fixtures
// =============================================================================

type fundingFixture struct {
	projects *fakeProjectRepository
	users    *fakeUserRepository
	locker   *lock.MemoryLocker
	svc      *FundingService
}

func newFundingFixture(t *testing.T, cfg FundingConfig, cache repository.Cache) *fundingFixture {
	t.Helper()

	locker := lock.NewMemoryLocker()
	t.Cleanup(func() { _ = locker.Close() })

	f := &fundingFixture{
		projects: newFakeProjectRepository(),
		users:    newFakeUserRepository(),
		locker:   locker,
	}
	f.projects.users = f.users
	f.svc = NewFundingService(f.projects, f.users, locker, cache, nil, zerolog.Nop(), cfg)
	f.svc.SetClock(fixedClock)
	return f
}

func testFundingConfig() FundingConfig {
	cfg := DefaultFundingConfig()
	cfg.Lock = fastLock
	return cfg
}

// newProject stores an open project running from a month before testNow to
// two months after it.
func (f *fundingFixture) newProject(t *testing.T, population int64) *domain.Project {
	t.Helper()
	p, err := f.svc.CreateProject(context.Background(), CreateProjectInput{
		Name:      "Conectar Quilmes",
		StartDate: testNow.AddDate(0, -1, 0),
		EndDate:   testNow.AddDate(0, 2, 0),
		Location:  domain.Location{Name: "Quilmes", Province: "Buenos Aires", Population: population},
	})
	require.NoError(t, err)
	return p
}

func (f *fundingFixture) newUser(t *testing.T, name string) *domain.User {
	t.Helper()
	u := domain.NewUser(name, name+"@example.com", "")
	require.NoError(t, f.users.Create(context.Background(), u))
	return u
}

// forceState overwrites the persisted state of a project.
func (f *fundingFixture) forceState(t *testing.T, id uuid.UUID, state domain.ProjectState) {
	t.Helper()
	p, err := f.projects.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, p.SetState(state))
	require.NoError(t, f.projects.Save(context.Background(), p))
}

func newTestUserService(t *testing.T, repo repository.UserRepository, cache repository.Cache, policy domain.PointsPolicy) *UserService {
	t.Helper()
	locker := lock.NewMemoryLocker()
	t.Cleanup(func() { _ = locker.Close() })
	return NewUserService(repo, locker, cache, nil, zerolog.Nop(), UserConfig{
		PointsPolicy: policy,
		PointsTTL:    time.Minute,
		Lock:         fastLock,
		BcryptCost:   bcrypt.MinCost,
	})
}
