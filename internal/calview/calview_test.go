package calview_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tomlord1122/calendar-todo/internal/calview"
	"github.com/Tomlord1122/calendar-todo/internal/domain"
)

func date(y int, m time.Month, d int) domain.Date {
	return domain.Date{Year: y, Month: m, Day: d}
}

func TestProject_AlwaysFortyTwoCells(t *testing.T) {
	for year := 2023; year <= 2025; year++ {
		for m := time.January; m <= time.December; m++ {
			cells := calview.Project(year, m, nil, domain.Date{})
			require.Len(t, cells, calview.GridSize, "%d-%02d", year, m)
			assert.Equal(t, time.Sunday, cells[0].Date.At(domain.ClockTime{}, time.UTC).Weekday())

			inMonth := 0
			for i, c := range cells {
				if !c.OtherMonth {
					inMonth++
				}
				if i > 0 {
					assert.Equal(t, cells[i-1].Date.AddDays(1), c.Date)
				}
			}
			days := time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
			assert.Equal(t, days, inMonth)
		}
	}
}

func TestProject_March2024(t *testing.T) {
	todos := []domain.Todo{
		{ID: 1, Date: date(2024, time.March, 15), Title: "a"},
		{ID: 2, Date: date(2024, time.March, 15), Title: "b"},
		{ID: 3, Date: date(2024, time.February, 28), Title: "prev month"},
		{ID: 4, Date: date(2024, time.April, 2), Title: "next month"},
		{ID: 5, Date: date(2025, time.March, 15), Title: "other year"},
	}
	cells := calview.Project(2024, time.March, todos, date(2024, time.March, 10))

	// March 1st 2024 is a Friday: five leading February days.
	assert.Equal(t, date(2024, time.February, 25), cells[0].Date)
	assert.True(t, cells[0].OtherMonth)
	assert.Equal(t, date(2024, time.March, 1), cells[5].Date)
	assert.False(t, cells[5].OtherMonth)
	assert.Equal(t, 1, cells[5].Day)
	assert.Equal(t, date(2024, time.April, 6), cells[41].Date)

	withTodos := map[domain.Date]bool{}
	for _, c := range cells {
		if c.HasTodos {
			withTodos[c.Date] = true
		}
	}
	assert.Equal(t, map[domain.Date]bool{
		date(2024, time.February, 28): true,
		date(2024, time.March, 15):    true,
		date(2024, time.April, 2):     true,
	}, withTodos)

	var today []domain.Date
	for _, c := range cells {
		if c.Today {
			today = append(today, c.Date)
		}
	}
	assert.Equal(t, []domain.Date{date(2024, time.March, 10)}, today)
}

func TestProject_MonthStartingOnSunday(t *testing.T) {
	// September 2024 starts on a Sunday, so there are no leading days.
	cells := calview.Project(2024, time.September, nil, domain.Date{})
	assert.Equal(t, date(2024, time.September, 1), cells[0].Date)
	assert.False(t, cells[0].OtherMonth)
	assert.Equal(t, date(2024, time.October, 12), cells[41].Date)
}
