package holiday

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalendar_ExactDate(t *testing.T) {
	c, err := NewCalendar([]string{"2026-12-25"}, nil)
	require.NoError(t, err)

	assert.True(t, c.IsHoliday(time.Date(2026, 12, 25, 14, 0, 0, 0, time.UTC)))
	assert.False(t, c.IsHoliday(time.Date(2027, 12, 25, 14, 0, 0, 0, time.UTC)))
	assert.False(t, c.IsHoliday(time.Date(2026, 12, 24, 23, 59, 0, 0, time.UTC)))
}

func TestCalendar_AnnualDate(t *testing.T) {
	c, err := NewCalendar([]string{"01-01"}, nil)
	require.NoError(t, err)

	assert.True(t, c.IsHoliday(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, c.IsHoliday(time.Date(2031, 1, 1, 12, 0, 0, 0, time.UTC)))
	assert.False(t, c.IsHoliday(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)))
}

func TestCalendar_Weekdays(t *testing.T) {
	c, err := NewCalendar(nil, []string{"Saturday", "sunday"})
	require.NoError(t, err)

	// 2026-08-22 is a Saturday.
	assert.True(t, c.IsHoliday(time.Date(2026, 8, 22, 10, 0, 0, 0, time.UTC)))
	assert.True(t, c.IsHoliday(time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)))
	assert.False(t, c.IsHoliday(time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)))
}

func TestCalendar_RejectsBadRules(t *testing.T) {
	_, err := NewCalendar([]string{"25/12/2026"}, nil)
	assert.Error(t, err)

	_, err = NewCalendar(nil, []string{"caturday"})
	assert.Error(t, err)
}

func TestCalendar_EmptyEntriesIgnored(t *testing.T) {
	c, err := NewCalendar([]string{"", " "}, []string{""})
	require.NoError(t, err)
	assert.Equal(t, 0, c.Rules())
	assert.False(t, c.IsHoliday(time.Now()))
}
