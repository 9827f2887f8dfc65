package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssertPositive(t *testing.T) {
	tests := []struct {
		name    string
		n       int64
		wantErr error
	}{
		{name: "positive", n: 10},
		{name: "zero is accepted", n: 0},
		{name: "negative", n: -1, wantErr: ErrNotPositive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := AssertPositive("amount", tt.n)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAssertFactorInRange(t *testing.T) {
	for _, f := range []int{0, 1, 1000, 100000} {
		assert.NoError(t, AssertFactorInRange(f), "factor %d", f)
	}
	for _, f := range []int{-2, -1, 100001, 111111} {
		assert.ErrorIs(t, AssertFactorInRange(f), ErrInvalidFactor, "factor %d", f)
	}
}

func TestAssertPercentageInRange(t *testing.T) {
	for _, p := range []float64{50, 50.1, 88, 100} {
		assert.NoError(t, AssertPercentageInRange(p), "percentage %v", p)
	}
	for _, p := range []float64{44.4, 49.9, 100.1, 115.5} {
		assert.ErrorIs(t, AssertPercentageInRange(p), ErrInvalidPercentage, "percentage %v", p)
	}
}

func TestAssertEndAfterStart(t *testing.T) {
	start := Date(2020, time.April, 19)

	require.NoError(t, AssertEndAfterStart(start, Date(2020, time.April, 20)))
	require.ErrorIs(t, AssertEndAfterStart(start, start), ErrInvalidDateRange)
	require.ErrorIs(t, AssertEndAfterStart(start, Date(2019, time.July, 15)), ErrInvalidDateRange)

	// Same calendar day at a later hour is still not after.
	require.ErrorIs(t, AssertEndAfterStart(start, start.Add(23*time.Hour)), ErrInvalidDateRange)
}

func TestAssertTargetFunds(t *testing.T) {
	require.NoError(t, AssertTargetFunds(1))
	require.ErrorIs(t, AssertTargetFunds(0), ErrInvalidTargetFunds)
	require.ErrorIs(t, AssertTargetFunds(-5), ErrInvalidTargetFunds)
}

func TestDomainError(t *testing.T) {
	err := AssertFactorInRange(-11)

	var domainErr *DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, "factor", domainErr.Field)
	assert.Contains(t, err.Error(), "-11")
	assert.True(t, IsValidationError(err))
	assert.False(t, IsValidationError(errors.New("boom")))
}

func TestMonthBefore(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want time.Time
	}{
		{name: "mid month", at: time.Date(2026, time.October, 15, 18, 30, 0, 0, time.UTC), want: Date(2026, time.September, 15)},
		{name: "end of march clamps to february", at: Date(2026, time.March, 31), want: Date(2026, time.February, 28)},
		{name: "leap year clamps to february 29", at: Date(2028, time.March, 29), want: Date(2028, time.February, 29)},
		{name: "leap year end of march", at: Date(2028, time.March, 31), want: Date(2028, time.February, 29)},
		{name: "thirty day month", at: Date(2026, time.May, 31), want: Date(2026, time.April, 30)},
		{name: "january wraps year", at: Date(2026, time.January, 31), want: Date(2025, time.December, 31)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MonthBefore(tt.at))
		})
	}
}
