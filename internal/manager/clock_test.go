package manager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 34, 56, 789, time.UTC)

	got, err := parseDate("now", now)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, 3, 1, 12, 34, 0, 0, time.UTC)))

	got, err = parseDate("2026-03-01 13:00", now)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.UTC, got.Location())

	_, err = parseDate("01.03.2026 13:00", now)
	assert.ErrorIs(t, err, ErrInvalidDate)

	_, err = parseDate("", now)
	assert.ErrorIs(t, err, ErrInvalidDate)
}

func TestFakeClock(t *testing.T) {
	c := NewFakeClock(baseTime)
	assert.True(t, c.Now().Equal(baseTime))

	c.Advance(90 * time.Second)
	assert.True(t, c.Now().Equal(baseTime.Add(90*time.Second)))

	c.Set(baseTime.Add(time.Hour))
	assert.True(t, c.Now().Equal(baseTime.Add(time.Hour)))
}
