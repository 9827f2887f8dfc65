package domain

import (
	"time"

	"github.com/google/uuid"
)

// Project defaults.
const (
	DefaultFactor             = 1000
	DefaultMinClosePercentage = 100.0
	DefaultTargetFunds        = 1000
)

// Project is the aggregate root of a crowdfunding campaign.
// It owns its donations and participant set; its ProjectState decides whether
// donations are accepted and how a completion attempt ends.
type Project struct {
	id                 uuid.UUID
	name               string
	startDate          time.Time
	endDate            time.Time
	raisedFunds        int64
	factor             int
	minClosePercentage float64
	targetFunds        int64
	location           Location
	donations          []*Donation
	participants       map[uuid.UUID]struct{}
	participantOrder   []uuid.UUID
	state              ProjectState
	createdAt          time.Time
	updatedAt          time.Time

	clock func() time.Time
}

// ProjectOption customises a project at construction time.
type ProjectOption func(*projectOptions)

type projectOptions struct {
	factor             int
	minClosePercentage float64
	targetFunds        int64
	clock              func() time.Time
}

// WithFactor overrides DefaultFactor.
func WithFactor(f int) ProjectOption {
	return func(o *projectOptions) { o.factor = f }
}

// WithMinClosePercentage overrides DefaultMinClosePercentage.
func WithMinClosePercentage(p float64) ProjectOption {
	return func(o *projectOptions) { o.minClosePercentage = p }
}

// WithTargetFunds overrides DefaultTargetFunds.
func WithTargetFunds(t int64) ProjectOption {
	return func(o *projectOptions) { o.targetFunds = t }
}

// WithClock sets the source of "now" used for donation dates and completion.
func WithClock(clock func() time.Time) ProjectOption {
	return func(o *projectOptions) { o.clock = clock }
}

// NewProject creates a Planned project with no funds, donations or participants.
// Every invariant is checked before anything is built.
func NewProject(name string, startDate, endDate time.Time, location Location, opts ...ProjectOption) (*Project, error) {
	o := projectOptions{
		factor:             DefaultFactor,
		minClosePercentage: DefaultMinClosePercentage,
		targetFunds:        DefaultTargetFunds,
		clock:              time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := AssertEndAfterStart(startDate, endDate); err != nil {
		return nil, err
	}
	if err := AssertFactorInRange(o.factor); err != nil {
		return nil, err
	}
	if err := AssertPercentageInRange(o.minClosePercentage); err != nil {
		return nil, err
	}
	if err := AssertTargetFunds(o.targetFunds); err != nil {
		return nil, err
	}

	p := &Project{
		id:                 uuid.New(),
		name:               name,
		startDate:          startDate,
		endDate:            endDate,
		factor:             o.factor,
		minClosePercentage: o.minClosePercentage,
		targetFunds:        o.targetFunds,
		location:           location,
		participants:       make(map[uuid.UUID]struct{}),
		state:              StatePlanned,
		clock:              o.clock,
	}
	p.createdAt = p.now().UTC()
	p.updatedAt = p.createdAt
	return p, nil
}

// =============================================================================
// Lifecycle operations
// =============================================================================

// Donate records a donation of amount from user if the current state accepts
// donations. A closed project returns (nil, nil): the donation is ignored
// without error. Amounts of zero or less fail with ErrNotPositive.
func (p *Project) Donate(amount int64, comment string, user *User) (*Donation, error) {
	return donateActions[p.validState()](p, amount, comment, user)
}

// CompleteProject asks the current state to evaluate a transition and returns
// the resulting state.
func (p *Project) CompleteProject() ProjectState {
	return completeActions[p.validState()](p)
}

// AddFunds adds n to the raised funds without recording a donation or participant.
func (p *Project) AddFunds(n int64) error {
	if err := AssertPositive("funds", n); err != nil {
		return err
	}
	p.raisedFunds += n
	p.touch()
	return nil
}

// AddParticipant adds user to the participant set. Repeated calls are no-ops.
func (p *Project) AddParticipant(user *User) {
	p.addParticipant(user.ID)
}

// AddDonation appends d to the donation list without touching funds or
// participants. Used to attach donations recorded elsewhere.
func (p *Project) AddDonation(d *Donation) {
	d.project = p
	p.donations = append(p.donations, d)
}

// ParticipantsAmount returns the number of distinct donors.
func (p *Project) ParticipantsAmount() int {
	return len(p.participants)
}

// AccumulatedValuePercentage returns raised funds as a percentage of the target.
// It ignores the minimum close percentage.
func (p *Project) AccumulatedValuePercentage() float64 {
	return float64(p.raisedFunds) * 100 / float64(p.targetFunds)
}

// MissingPercentageToComplete returns how far the accumulated percentage is
// from the minimum close percentage, floored at zero.
func (p *Project) MissingPercentageToComplete() float64 {
	missing := p.minClosePercentage - p.AccumulatedValuePercentage()
	if missing < 0 {
		return 0
	}
	return missing
}

// =============================================================================
// Accessors
// =============================================================================

func (p *Project) ID() uuid.UUID               { return p.id }
func (p *Project) Name() string                { return p.name }
func (p *Project) StartDate() time.Time        { return p.startDate }
func (p *Project) EndDate() time.Time          { return p.endDate }
func (p *Project) RaisedFunds() int64          { return p.raisedFunds }
func (p *Project) Factor() int                 { return p.factor }
func (p *Project) MinClosePercentage() float64 { return p.minClosePercentage }
func (p *Project) TargetFunds() int64          { return p.targetFunds }
func (p *Project) Location() Location          { return p.location }
func (p *Project) State() ProjectState         { return p.state }
func (p *Project) CreatedAt() time.Time        { return p.createdAt }
func (p *Project) UpdatedAt() time.Time        { return p.updatedAt }

// Donations returns the accepted donations, oldest first.
func (p *Project) Donations() []*Donation {
	out := make([]*Donation, len(p.donations))
	copy(out, p.donations)
	return out
}

// Participants returns the participant ids in the order they first donated.
func (p *Project) Participants() []uuid.UUID {
	out := make([]uuid.UUID, len(p.participantOrder))
	copy(out, p.participantOrder)
	return out
}

// HasParticipant reports whether userID has donated to the project.
func (p *Project) HasParticipant(userID uuid.UUID) bool {
	_, ok := p.participants[userID]
	return ok
}

// =============================================================================
// Validated setters
// =============================================================================

// SetName renames the project.
func (p *Project) SetName(name string) {
	p.name = name
	p.touch()
}

// SetStartDate moves the start date; it must stay before the end date.
func (p *Project) SetStartDate(start time.Time) error {
	if err := AssertEndAfterStart(start, p.endDate); err != nil {
		return err
	}
	p.startDate = start
	p.touch()
	return nil
}

// SetEndDate moves the end date; it must stay after the start date.
func (p *Project) SetEndDate(end time.Time) error {
	if err := AssertEndAfterStart(p.startDate, end); err != nil {
		return err
	}
	p.endDate = end
	p.touch()
	return nil
}

// SetRaisedFunds overwrites the raised funds.
func (p *Project) SetRaisedFunds(n int64) error {
	if err := AssertPositive("raised_funds", n); err != nil {
		return err
	}
	p.raisedFunds = n
	p.touch()
	return nil
}

// SetFactor changes the points factor.
func (p *Project) SetFactor(f int) error {
	if err := AssertFactorInRange(f); err != nil {
		return err
	}
	p.factor = f
	p.touch()
	return nil
}

// SetMinClosePercentage changes the funding percentage needed to connect.
func (p *Project) SetMinClosePercentage(pct float64) error {
	if err := AssertPercentageInRange(pct); err != nil {
		return err
	}
	p.minClosePercentage = pct
	p.touch()
	return nil
}

// SetTargetFunds changes the funding target used for percentages.
func (p *Project) SetTargetFunds(t int64) error {
	if err := AssertTargetFunds(t); err != nil {
		return err
	}
	p.targetFunds = t
	p.touch()
	return nil
}

// SetLocation moves the project to another location.
func (p *Project) SetLocation(l Location) {
	p.location = l
	p.touch()
}

// SetState forces the lifecycle state.
func (p *Project) SetState(s ProjectState) error {
	if !s.Valid() {
		return NewDomainError(ErrInvalidProjectState, s.String(), "state")
	}
	p.state = s
	p.touch()
	return nil
}

// SetClock replaces the source of "now".
func (p *Project) SetClock(clock func() time.Time) {
	p.clock = clock
}

// =============================================================================
// Persistence snapshot
// =============================================================================

// ProjectSnapshot is the flat, persistable form of a Project.
type ProjectSnapshot struct {
	ID                 uuid.UUID
	Name               string
	StartDate          time.Time
	EndDate            time.Time
	RaisedFunds        int64
	Factor             int
	MinClosePercentage float64
	TargetFunds        int64
	Location           Location
	State              ProjectState
	Participants       []uuid.UUID
	Donations          []*Donation
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Snapshot returns the persistable form of the project.
func (p *Project) Snapshot() ProjectSnapshot {
	return ProjectSnapshot{
		ID:                 p.id,
		Name:               p.name,
		StartDate:          p.startDate,
		EndDate:            p.endDate,
		RaisedFunds:        p.raisedFunds,
		Factor:             p.factor,
		MinClosePercentage: p.minClosePercentage,
		TargetFunds:        p.targetFunds,
		Location:           p.location,
		State:              p.state,
		Participants:       p.Participants(),
		Donations:          p.Donations(),
		CreatedAt:          p.createdAt,
		UpdatedAt:          p.updatedAt,
	}
}

// RestoreProject rebuilds a project from a snapshot, re-checking every invariant.
func RestoreProject(s ProjectSnapshot, opts ...ProjectOption) (*Project, error) {
	if err := AssertEndAfterStart(s.StartDate, s.EndDate); err != nil {
		return nil, err
	}
	if err := AssertPositive("raised_funds", s.RaisedFunds); err != nil {
		return nil, err
	}
	if err := AssertFactorInRange(s.Factor); err != nil {
		return nil, err
	}
	if err := AssertPercentageInRange(s.MinClosePercentage); err != nil {
		return nil, err
	}
	if err := AssertTargetFunds(s.TargetFunds); err != nil {
		return nil, err
	}
	if !s.State.Valid() {
		return nil, NewDomainError(ErrInvalidProjectState, s.State.String(), "state")
	}

	o := projectOptions{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	p := &Project{
		id:                 s.ID,
		name:               s.Name,
		startDate:          s.StartDate,
		endDate:            s.EndDate,
		raisedFunds:        s.RaisedFunds,
		factor:             s.Factor,
		minClosePercentage: s.MinClosePercentage,
		targetFunds:        s.TargetFunds,
		location:           s.Location,
		participants:       make(map[uuid.UUID]struct{}, len(s.Participants)),
		state:              s.State,
		createdAt:          s.CreatedAt,
		updatedAt:          s.UpdatedAt,
		clock:              o.clock,
	}
	for _, id := range s.Participants {
		p.addParticipant(id)
	}
	for _, d := range s.Donations {
		p.AddDonation(d)
	}
	return p, nil
}

// =============================================================================
// Internal helpers
// =============================================================================

func (p *Project) addParticipant(userID uuid.UUID) {
	if _, ok := p.participants[userID]; ok {
		return
	}
	p.participants[userID] = struct{}{}
	p.participantOrder = append(p.participantOrder, userID)
}

func (p *Project) now() time.Time {
	if p.clock == nil {
		return time.Now()
	}
	return p.clock()
}

func (p *Project) touch() {
	p.updatedAt = p.now().UTC()
}

// validState guards the table lookups. An out-of-range state behaves as closed.
func (p *Project) validState() ProjectState {
	if !p.state.Valid() {
		return StateSuspended
	}
	return p.state
}
