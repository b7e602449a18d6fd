package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Source records where a todo came from.
type Source string

const (
	SourceLocal          Source = "local"
	SourceGoogleCalendar Source = "google-calendar"
)

// DefaultNotificationMinutes is the reminder lead time used when none is given.
const DefaultNotificationMinutes = 15

// Todo is a reminder or task bound to a calendar date and an optional time.
// Records are validated once at the store boundary (API body, import, restore).
type Todo struct {
	ID                  int64     `json:"id" validate:"gt=0"`
	Date                Date      `json:"date" validate:"required"`
	Time                ClockTime `json:"time"`
	Title               string    `json:"title" validate:"required"`
	Description         string    `json:"description"`
	Link                string    `json:"link"`
	EnableNotification  bool      `json:"enableNotification"`
	NotificationMinutes int       `json:"notificationMinutes" validate:"gte=0"`
	Completed           bool      `json:"completed"`
	Source              Source    `json:"source,omitempty" validate:"omitempty,oneof=local google-calendar"`
	ExternalEventID     string    `json:"externalEventId,omitempty"`
	CreatedAt           time.Time `json:"createdAt,omitzero"`

	// legacyID holds a non-numeric string id until AdoptLegacyIDs replaces it.
	legacyID string
}

// UnmarshalJSON accepts the id as a JSON number or a string. A numeric string
// is the id itself. Any other string is a Google event id written by older
// Google imports: it moves to ExternalEventID and the record waits for
// AdoptLegacyIDs to give it a local id.
func (t *Todo) UnmarshalJSON(b []byte) error {
	type plain Todo
	aux := struct {
		*plain
		ID json.RawMessage `json:"id"`
	}{plain: (*plain)(t)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}

	t.ID, t.legacyID = 0, ""
	raw := bytes.TrimSpace(aux.ID)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("id: %w", err)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			break
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			t.ID = n
			break
		}
		t.legacyID = s
		if t.ExternalEventID == "" {
			t.ExternalEventID = s
		}
		if t.Source == "" {
			t.Source = SourceGoogleCalendar
		}
	default:
		n, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("id must be an integer or a string, got %s", raw)
		}
		t.ID = n
	}
	return nil
}

// AdoptLegacyIDs gives every record decoded with a non-numeric string id a
// fresh integer id above the largest one in the batch. It reports how many
// records changed.
func AdoptLegacyIDs(todos []Todo) int {
	var maxID int64
	for _, t := range todos {
		maxID = max(maxID, t.ID)
	}
	adopted := 0
	for i := range todos {
		if todos[i].ID != 0 || todos[i].legacyID == "" {
			continue
		}
		maxID++
		todos[i].ID = maxID
		todos[i].legacyID = ""
		adopted++
	}
	return adopted
}

// HasReminder reports whether the todo has an effective reminder. A todo
// without a time is all-day and never notifies.
func (t Todo) HasReminder() bool {
	return t.EnableNotification && t.Time.Valid()
}

// FireAt returns the instant the todo's reminder is due in loc. The second
// result is false when the todo has no effective reminder.
func (t Todo) FireAt(loc *time.Location) (time.Time, bool) {
	if !t.HasReminder() {
		return time.Time{}, false
	}
	at := t.Date.At(t.Time, loc)
	return at.Add(-time.Duration(t.NotificationMinutes) * time.Minute), true
}

// Tag is the stable per-todo reminder tag. Re-delivering a reminder with the
// same tag replaces a still-visible one instead of stacking a duplicate.
func (t Todo) Tag() string {
	return fmt.Sprintf("todo-%d", t.ID)
}

// DisplayTime is the todo's time, or "All day" when it has none.
func (t Todo) DisplayTime() string {
	if !t.Time.Valid() {
		return "All day"
	}
	return t.Time.String()
}
