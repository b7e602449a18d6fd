// Package gcal maps between Google Calendar events and todos and talks to
// the Google Calendar API.
package gcal

import (
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/Tomlord1122/calendar-todo/internal/domain"
)

const (
	// UntitledEvent is the title given to events without a summary.
	UntitledEvent = "Untitled Event"

	// ImportedLeadMinutes is the reminder lead time of imported events.
	ImportedLeadMinutes = 15

	exportDuration = time.Hour
)

// EventToTodo maps a single event. The todo has no local id yet. Events
// without an id or a start are rejected.
func EventToTodo(ev *calendar.Event, loc *time.Location) (domain.Todo, error) {
	return eventToTodo(ev, -1, loc)
}

func eventToTodo(ev *calendar.Event, index int, loc *time.Location) (domain.Todo, error) {
	if loc == nil {
		loc = time.Local
	}
	if ev == nil || strings.TrimSpace(ev.Id) == "" {
		return domain.Todo{}, &domain.ValidationError{Index: index, Field: "id", Reason: "is required"}
	}
	if ev.Start == nil || (ev.Start.DateTime == "" && ev.Start.Date == "") {
		return domain.Todo{}, &domain.ValidationError{Index: index, Field: "start", Reason: "is required"}
	}

	todo := domain.Todo{
		Title:               ev.Summary,
		Description:         ev.Description,
		Link:                ev.HtmlLink,
		EnableNotification:  true,
		NotificationMinutes: ImportedLeadMinutes,
		Source:              domain.SourceGoogleCalendar,
		ExternalEventID:     ev.Id,
	}
	if strings.TrimSpace(todo.Title) == "" {
		todo.Title = UntitledEvent
	}

	if ev.Start.DateTime != "" {
		start, err := time.Parse(time.RFC3339, ev.Start.DateTime)
		if err != nil {
			return domain.Todo{}, &domain.ValidationError{Index: index, Field: "start", Reason: fmt.Sprintf("has invalid dateTime %q", ev.Start.DateTime)}
		}
		start = start.In(loc)
		todo.Date = domain.DateOf(start)
		todo.Time = domain.ClockOf(start)
		return todo, nil
	}

	d, err := domain.ParseDate(ev.Start.Date, loc)
	if err != nil {
		return domain.Todo{}, &domain.ValidationError{Index: index, Field: "start", Reason: fmt.Sprintf("has invalid date %q", ev.Start.Date)}
	}
	todo.Date = d
	return todo, nil
}

// ImportEvents maps events to todos and drops those whose event id is
// already linked to an existing todo or repeats earlier in the batch. The
// first malformed event fails the whole batch.
func ImportEvents(events []*calendar.Event, existing []domain.Todo, loc *time.Location) ([]domain.Todo, int, error) {
	seen := make(map[string]struct{}, len(existing)+len(events))
	for _, t := range existing {
		if t.ExternalEventID != "" {
			seen[t.ExternalEventID] = struct{}{}
		}
	}

	todos := make([]domain.Todo, 0, len(events))
	skipped := 0
	for i, ev := range events {
		todo, err := eventToTodo(ev, i, loc)
		if err != nil {
			return nil, 0, err
		}
		if _, dup := seen[todo.ExternalEventID]; dup {
			skipped++
			continue
		}
		seen[todo.ExternalEventID] = struct{}{}
		todos = append(todos, todo)
	}
	return todos, skipped, nil
}

// TodoToEvent builds the event inserted for a todo: one hour from the todo's
// time, or 00:00 to 01:00 for an all-day todo. Both ends carry the zone
// name when loc has one.
func TodoToEvent(t domain.Todo, loc *time.Location) *calendar.Event {
	if loc == nil {
		loc = time.Local
	}
	start := t.Date.At(t.Time, loc)
	end := start.Add(exportDuration)

	tz := ""
	if name := loc.String(); name != "Local" {
		tz = name
	}
	return &calendar.Event{
		Summary:     t.Title,
		Description: t.Description,
		Start:       &calendar.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: tz},
		End:         &calendar.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: tz},
	}
}
