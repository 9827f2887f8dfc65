package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testNow is the fixed "today" used across domain tests.
var testNow = time.Date(2026, time.October, 15, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sampleLocation(population int64) Location {
	return Location{Name: "Quilmes", Province: "Buenos Aires", Population: population}
}

// newSampleProject builds an open project running from a month before testNow
// to two months after it, in a town of 5000 people.
func newSampleProject(t *testing.T, opts ...ProjectOption) *Project {
	t.Helper()
	opts = append([]ProjectOption{WithClock(fixedClock(testNow))}, opts...)
	p, err := NewProject(
		"Conectar Quilmes",
		testNow.AddDate(0, -1, 0),
		testNow.AddDate(0, 2, 0),
		sampleLocation(5000),
		opts...,
	)
	require.NoError(t, err)
	return p
}

func newSampleUser(name string) *User {
	return NewUser(name, name+"@example.com", "")
}
