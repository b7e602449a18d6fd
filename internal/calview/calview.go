// Package calview projects a month of todos onto a fixed calendar grid.
package calview

import (
	"time"

	"github.com/Tomlord1122/calendar-todo/internal/domain"
)

// GridSize is six Sunday-first weeks.
const GridSize = 42

// Cell is one day of the month grid.
type Cell struct {
	Date       domain.Date `json:"date"`
	Day        int         `json:"day"`
	OtherMonth bool        `json:"otherMonth"`
	Today      bool        `json:"today"`
	HasTodos   bool        `json:"hasTodos"`
}

// Project returns the 42 cells for month: trailing days of the previous
// month, the month itself, then leading days of the next month.
func Project(year int, month time.Month, todos []domain.Todo, today domain.Date) []Cell {
	withTodos := make(map[domain.Date]struct{}, len(todos))
	for _, t := range todos {
		withTodos[t.Date] = struct{}{}
	}

	first := domain.Date{Year: year, Month: month, Day: 1}
	lead := int(time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).Weekday())
	start := first.AddDays(-lead)

	cells := make([]Cell, GridSize)
	for i := range cells {
		d := start.AddDays(i)
		_, has := withTodos[d]
		cells[i] = Cell{
			Date:       d,
			Day:        d.Day,
			OtherMonth: d.Year != year || d.Month != month,
			Today:      d == today,
			HasTodos:   has,
		}
	}
	return cells
}
