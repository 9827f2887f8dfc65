package domain

import (
	"fmt"
	"strings"
)

// ProjectState is the funding lifecycle state of a project.
//
// Planned is the initial state. Connected (funded) and Suspended (deadline
// missed) are terminal: nothing leads back to Planned.
type ProjectState uint8

const (
	StatePlanned ProjectState = iota
	StateConnected
	StateSuspended

	numProjectStates
)

var stateNames = [numProjectStates]string{
	StatePlanned:   "planned",
	StateConnected: "connected",
	StateSuspended: "suspended",
}

// Labels shown to donors.
var stateDisplayNames = [numProjectStates]string{
	StatePlanned:   "En Planificacion",
	StateConnected: "Conectado",
	StateSuspended: "Suspendido",
}

// String returns the persisted name of the state.
func (s ProjectState) String() string {
	if !s.Valid() {
		return fmt.Sprintf("ProjectState(%d)", uint8(s))
	}
	return stateNames[s]
}

// DisplayName returns the human readable label of the state.
func (s ProjectState) DisplayName() string {
	if !s.Valid() {
		return s.String()
	}
	return stateDisplayNames[s]
}

// Valid reports whether s is one of the declared states.
func (s ProjectState) Valid() bool {
	return s < numProjectStates
}

// AcceptsDonations reports whether donations are recorded in this state.
func (s ProjectState) AcceptsDonations() bool {
	return s == StatePlanned
}

// IsTerminal reports whether no further transition can happen.
func (s ProjectState) IsTerminal() bool {
	return s == StateConnected || s == StateSuspended
}

// ParseProjectState parses a persisted state name.
func ParseProjectState(name string) (ProjectState, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, candidate := range stateNames {
		if candidate == n {
			return ProjectState(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidProjectState, name)
}

// MarshalText implements encoding.TextMarshaler.
func (s ProjectState) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidProjectState, uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ProjectState) UnmarshalText(text []byte) error {
	parsed, err := ParseProjectState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// =============================================================================
// Transition tables
// =============================================================================

// One entry per (state, action). The arrays are sized by numProjectStates so
// every state has a slot; TestTransitionTablesAreComplete guards against nils.

type donateAction func(p *Project, amount int64, comment string, user *User) (*Donation, error)

type completeAction func(p *Project) ProjectState

var donateActions = [numProjectStates]donateAction{
	StatePlanned:   donateWhilePlanned,
	StateConnected: donateWhileClosed,
	StateSuspended: donateWhileClosed,
}

var completeActions = [numProjectStates]completeAction{
	StatePlanned:   completeWhilePlanned,
	StateConnected: completeWhileClosed,
	StateSuspended: completeWhileClosed,
}

func donateWhilePlanned(p *Project, amount int64, comment string, user *User) (*Donation, error) {
	if amount <= 0 {
		return nil, NewDomainError(ErrNotPositive, fmt.Sprintf("donation amount %d", amount), "amount")
	}
	if user == nil {
		return nil, NewDomainError(ErrMissingDonor, "nil user", "user")
	}

	d := newDonation(amount, comment, p.now(), user.ID, p)
	p.donations = append(p.donations, d)
	p.raisedFunds += amount
	p.addParticipant(user.ID)
	user.RecordDonation(d)
	p.touch()
	return d, nil
}

// Closed projects ignore donations: no error, nothing recorded.
func donateWhileClosed(*Project, int64, string, *User) (*Donation, error) {
	return nil, nil
}

func completeWhilePlanned(p *Project) ProjectState {
	today := DateOf(p.now())
	switch {
	case today.After(DateOf(p.endDate)):
		p.state = StateSuspended
	case p.MissingPercentageToComplete() <= 0:
		p.state = StateConnected
	default:
		return p.state
	}
	p.touch()
	return p.state
}

func completeWhileClosed(p *Project) ProjectState {
	return p.state
}
