package domain

import (
	"time"

	"github.com/google/uuid"
)

// Scoring constants.
const (
	// SameAmountThreshold is the exclusive lower bound for the same-amount bonus.
	SameAmountThreshold = 1000

	// RepeatCollaborationPoints is the flat bonus for donors active in the last month.
	RepeatCollaborationPoints = 500
)

// Donation is a single accepted contribution to a project. Immutable once created.
type Donation struct {
	id      uuid.UUID
	amount  int64
	comment string
	date    time.Time
	userID  uuid.UUID
	project *Project
}

func newDonation(amount int64, comment string, date time.Time, userID uuid.UUID, project *Project) *Donation {
	return &Donation{
		id:      uuid.New(),
		amount:  amount,
		comment: comment,
		date:    date,
		userID:  userID,
		project: project,
	}
}

// RestoreDonation rebuilds a persisted donation. The project is attached when
// the donation is added back to its owner.
func RestoreDonation(id uuid.UUID, amount int64, comment string, date time.Time, userID uuid.UUID) *Donation {
	return &Donation{id: id, amount: amount, comment: comment, date: date, userID: userID}
}

func (d *Donation) ID() uuid.UUID     { return d.id }
func (d *Donation) Amount() int64     { return d.amount }
func (d *Donation) Comment() string   { return d.comment }
func (d *Donation) Date() time.Time   { return d.date }
func (d *Donation) UserID() uuid.UUID { return d.userID }
func (d *Donation) Project() *Project { return d.project }

// Record returns the donor-side view of this donation.
func (d *Donation) Record() DonationRecord {
	var projectID uuid.UUID
	if d.project != nil {
		projectID = d.project.ID()
	}
	return DonationRecord{
		DonationID: d.id,
		ProjectID:  projectID,
		Amount:     d.amount,
		Date:       d.date,
	}
}

// CalculatePoints returns the loyalty points this donation is worth to donor.
// The three bonuses are independent and additive.
func (d *Donation) CalculatePoints(donor *User) int64 {
	return d.SameAmountBonus() + d.DoubleBonus() + d.RepeatCollaborationBonus(donor)
}

// SameAmountBonus awards the donated amount itself for donations above 1000.
func (d *Donation) SameAmountBonus() int64 {
	if d.amount > SameAmountThreshold {
		return d.amount
	}
	return 0
}

// DoubleBonus awards twice the amount when the project's location is small.
func (d *Donation) DoubleBonus() int64 {
	if d.project != nil && d.project.Location().IsLowPopulation() {
		return d.amount * 2
	}
	return 0
}

// RepeatCollaborationBonus awards a flat bonus when the donor has at least one
// other donation dated after one month before now. The donation being scored
// never counts towards itself.
func (d *Donation) RepeatCollaborationBonus(donor *User) int64 {
	if donor == nil {
		return 0
	}
	aMonthAgo := MonthBefore(d.now())

	occurrences := 0
	for _, rec := range donor.donations {
		if rec.DonationID == d.id {
			continue
		}
		if DateOf(rec.Date).After(aMonthAgo) {
			occurrences++
		}
	}
	if occurrences >= 1 {
		return RepeatCollaborationPoints
	}
	return 0
}

func (d *Donation) now() time.Time {
	if d.project != nil {
		return d.project.now()
	}
	return time.Now()
}
