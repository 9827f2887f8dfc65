package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PointsPolicy decides what SpendPoints does when the balance is too small.
type PointsPolicy string

const (
	// PointsReject fails with ErrInsufficientPoints and leaves the balance untouched.
	PointsReject PointsPolicy = "reject"

	// PointsClamp spends what is available and leaves the balance at zero.
	PointsClamp PointsPolicy = "clamp"
)

// ParsePointsPolicy parses a policy name. The empty string means PointsReject.
func ParsePointsPolicy(s string) (PointsPolicy, error) {
	switch PointsPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PointsReject:
		return PointsReject, nil
	case PointsClamp:
		return PointsClamp, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPointsPolicy, s)
	}
}

// DonationRecord is the donor-side view of an accepted donation.
// The project owns the Donation itself; users only keep this value copy.
type DonationRecord struct {
	DonationID uuid.UUID `json:"donation_id"`
	ProjectID  uuid.UUID `json:"project_id"`
	Amount     int64     `json:"amount"`
	Date       time.Time `json:"date"`
}

// User represents a registered donor.
type User struct {
	// ID is the unique identifier for the user.
	ID uuid.UUID `json:"id"`

	// Username is the unique login name.
	Username string `json:"username"`

	// Email is the unique email address for the user.
	Email string `json:"email"`

	// Nickname is the public display name.
	Nickname string `json:"nickname"`

	// PasswordHash is the bcrypt hash of the user's password.
	// This should never be exposed in API responses.
	PasswordHash string `json:"-"`

	// CreatedAt is the timestamp when the user was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is the timestamp when the user was last updated.
	UpdatedAt time.Time `json:"updated_at"`

	points    int64
	donations []DonationRecord
	policy    PointsPolicy
}

// NewUser creates a new User with zero points and no donations.
func NewUser(username, email, passwordHash string) *User {
	now := time.Now().UTC()
	return &User{
		ID:           uuid.New(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
		policy:       PointsReject,
	}
}

// Points returns the current balance.
func (u *User) Points() int64 {
	return u.points
}

// SetPoints overwrites the balance.
func (u *User) SetPoints(n int64) error {
	if err := AssertPositive("points", n); err != nil {
		return err
	}
	u.points = n
	return nil
}

// AddPoints credits n points.
func (u *User) AddPoints(n int64) error {
	if err := AssertPositive("points", n); err != nil {
		return err
	}
	u.points += n
	return nil
}

// SpendPoints debits n points, applying the user's PointsPolicy on underflow.
func (u *User) SpendPoints(n int64) error {
	if err := AssertPositive("points", n); err != nil {
		return err
	}
	if n > u.points {
		if u.PointsPolicy() == PointsClamp {
			u.points = 0
			return nil
		}
		return NewDomainError(ErrInsufficientPoints, fmt.Sprintf("balance %d, requested %d", u.points, n), "points")
	}
	u.points -= n
	return nil
}

// PointsPolicy returns the underflow policy in effect.
func (u *User) PointsPolicy() PointsPolicy {
	if u.policy == "" {
		return PointsReject
	}
	return u.policy
}

// SetPointsPolicy changes the underflow policy.
func (u *User) SetPointsPolicy(p PointsPolicy) {
	u.policy = p
}

// Donations returns a copy of the user's donation history, oldest first.
func (u *User) Donations() []DonationRecord {
	out := make([]DonationRecord, len(u.donations))
	copy(out, u.donations)
	return out
}

// RecordDonation appends an accepted donation to the history.
func (u *User) RecordDonation(d *Donation) {
	u.donations = append(u.donations, d.Record())
}

// RestoreUser rebuilds a persisted user with its balance and history.
func RestoreUser(u User, points int64, history []DonationRecord) (*User, error) {
	if err := AssertPositive("points", points); err != nil {
		return nil, err
	}
	restored := u
	restored.points = points
	restored.donations = append([]DonationRecord(nil), history...)
	if restored.policy == "" {
		restored.policy = PointsReject
	}
	return &restored, nil
}
