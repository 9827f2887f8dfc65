package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDonation_CalculatePoints(t *testing.T) {
	t.Run("large donation to a small town, first in a month", func(t *testing.T) {
		p := newSampleProject(t)
		p.SetLocation(sampleLocation(1500))
		donor := newSampleUser("ana")

		d, err := p.Donate(1500, "for the town", donor)
		require.NoError(t, err)

		assert.Equal(t, int64(1500), d.SameAmountBonus())
		assert.Equal(t, int64(3000), d.DoubleBonus())
		assert.Equal(t, int64(0), d.RepeatCollaborationBonus(donor))
		assert.Equal(t, int64(4500), d.CalculatePoints(donor))
	})

	t.Run("small donation to a big town with a recent prior donation", func(t *testing.T) {
		p := newSampleProject(t)
		donor := withHistory(t, newSampleUser("ana"), testNow.AddDate(0, 0, -10))

		d, err := p.Donate(800, "again", donor)
		require.NoError(t, err)

		assert.Equal(t, int64(500), d.CalculatePoints(donor))
	})
}

func TestDonation_SameAmountBonusThresholdIsExclusive(t *testing.T) {
	p := newSampleProject(t)
	donor := newSampleUser("ana")

	atThreshold, err := p.Donate(1000, "", donor)
	require.NoError(t, err)
	assert.Equal(t, int64(0), atThreshold.SameAmountBonus())

	above, err := p.Donate(1001, "", donor)
	require.NoError(t, err)
	assert.Equal(t, int64(1001), above.SameAmountBonus())
}

func TestDonation_DoubleBonusPopulationBoundary(t *testing.T) {
	tests := []struct {
		population int64
		want       int64
	}{
		{population: 0, want: 200},
		{population: 1999, want: 200},
		{population: 2000, want: 0},
		{population: 50000, want: 0},
	}

	for _, tt := range tests {
		p := newSampleProject(t)
		p.SetLocation(sampleLocation(tt.population))

		d, err := p.Donate(100, "", newSampleUser("ana"))
		require.NoError(t, err)
		assert.Equal(t, tt.want, d.DoubleBonus(), "population %d", tt.population)
	}
}

func TestDonation_RepeatCollaborationBonus(t *testing.T) {
	tests := []struct {
		name      string
		priorDays []int // days before testNow of earlier donations
		want      int64
	}{
		{name: "scored donation alone does not count", want: 0},
		{name: "prior donation ten days ago", priorDays: []int{10}, want: 500},
		{name: "prior donation yesterday", priorDays: []int{1}, want: 500},
		{name: "several recent donations still flat", priorDays: []int{2, 5, 9}, want: 500},
		{name: "only old donations", priorDays: []int{45, 90}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			donor := newSampleUser("ana")
			for _, days := range tt.priorDays {
				donor = withHistory(t, donor, testNow.AddDate(0, 0, -days))
			}

			p := newSampleProject(t)
			d, err := p.Donate(100, "", donor)
			require.NoError(t, err)

			assert.Equal(t, tt.want, d.RepeatCollaborationBonus(donor))
		})
	}
}

func TestDonation_RepeatCollaborationExactlyOneMonthAgoDoesNotCount(t *testing.T) {
	donor := withHistory(t, newSampleUser("ana"), testNow.AddDate(0, -1, 0))

	p := newSampleProject(t)
	d, err := p.Donate(100, "", donor)
	require.NoError(t, err)

	assert.Equal(t, int64(0), d.RepeatCollaborationBonus(donor))
}

func TestDonation_RepeatCollaborationAtMonthEnd(t *testing.T) {
	tests := []struct {
		name  string
		today time.Time
		prior time.Time
		want  int64
	}{
		{name: "march 31 sees march 2", today: Date(2026, time.March, 31), prior: Date(2026, time.March, 2), want: RepeatCollaborationPoints},
		{name: "march 31 sees march 1", today: Date(2026, time.March, 31), prior: Date(2026, time.March, 1), want: RepeatCollaborationPoints},
		{name: "march 31 cutoff is february 28", today: Date(2026, time.March, 31), prior: Date(2026, time.February, 28), want: 0},
		{name: "leap year march 29 sees march 1", today: Date(2028, time.March, 29), prior: Date(2028, time.March, 1), want: RepeatCollaborationPoints},
		{name: "leap year march 29 cutoff is february 29", today: Date(2028, time.March, 29), prior: Date(2028, time.February, 29), want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			donor := withHistory(t, newSampleUser("ana"), tt.prior)

			p, err := NewProject(
				"Conectar Quilmes",
				tt.today.AddDate(0, 0, -60),
				tt.today.AddDate(0, 0, 60),
				sampleLocation(5000),
				WithClock(fixedClock(tt.today.Add(12*time.Hour))),
			)
			require.NoError(t, err)

			d, err := p.Donate(100, "", donor)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.RepeatCollaborationBonus(donor))
		})
	}
}

func TestDonation_RepeatCollaborationAcrossProjects(t *testing.T) {
	donor := newSampleUser("ana")

	first := newSampleProject(t)
	_, err := first.Donate(100, "first project", donor)
	require.NoError(t, err)

	second := newSampleProject(t)
	d, err := second.Donate(100, "second project", donor)
	require.NoError(t, err)

	assert.Equal(t, int64(RepeatCollaborationPoints), d.RepeatCollaborationBonus(donor))
	assert.Equal(t, int64(0), d.RepeatCollaborationBonus(nil))
}

func TestDonation_Record(t *testing.T) {
	p := newSampleProject(t)
	donor := newSampleUser("ana")

	d, err := p.Donate(250, "hello", donor)
	require.NoError(t, err)

	rec := d.Record()
	assert.Equal(t, d.ID(), rec.DonationID)
	assert.Equal(t, p.ID(), rec.ProjectID)
	assert.Equal(t, int64(250), rec.Amount)
	assert.Equal(t, testNow, rec.Date)
	assert.Equal(t, "hello", d.Comment())
	assert.Equal(t, donor.ID, d.UserID())
	assert.Same(t, p, d.Project())
	assert.Equal(t, []DonationRecord{rec}, donor.Donations())
}

// withHistory returns a copy of u with an extra donation dated at in its history.
func withHistory(t *testing.T, u *User, at time.Time) *User {
	t.Helper()
	history := append(u.Donations(), DonationRecord{
		DonationID: uuid.New(),
		ProjectID:  uuid.New(),
		Amount:     100,
		Date:       at,
	})
	restored, err := RestoreUser(*u, u.Points(), history)
	require.NoError(t, err)
	return restored
}
