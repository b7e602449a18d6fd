package domain

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ClockTime is an optional hour:minute. The zero value means "no time",
// i.e. an all-day todo.
type ClockTime struct {
	minutes int // minutes since midnight + 1; 0 means absent
}

// NewClockTime returns the clock time h:m.
func NewClockTime(h, m int) (ClockTime, error) {
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return ClockTime{}, fmt.Errorf("invalid time %02d:%02d", h, m)
	}
	return ClockTime{minutes: h*60 + m + 1}, nil
}

// MustClockTime is NewClockTime for literals known to be valid.
func MustClockTime(h, m int) ClockTime {
	c, err := NewClockTime(h, m)
	if err != nil {
		panic(err)
	}
	return c
}

// ParseClockTime parses "HH:MM". Seconds ("HH:MM:SS") are accepted and
// dropped. An empty string yields the absent time.
func ParseClockTime(s string) (ClockTime, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ClockTime{}, nil
	}
	layout := "15:04"
	if strings.Count(s, ":") == 2 {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	return NewClockTime(t.Hour(), t.Minute())
}

// ClockOf returns the hour and minute of t.
func ClockOf(t time.Time) ClockTime {
	return MustClockTime(t.Hour(), t.Minute())
}

func (c ClockTime) Valid() bool {
	return c.minutes > 0
}

// HourMinute returns 0, 0 for the absent time.
func (c ClockTime) HourMinute() (int, int) {
	if !c.Valid() {
		return 0, 0
	}
	m := c.minutes - 1
	return m / 60, m % 60
}

func (c ClockTime) String() string {
	if !c.Valid() {
		return ""
	}
	h, m := c.HourMinute()
	return fmt.Sprintf("%02d:%02d", h, m)
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ClockTime) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*c = ClockTime{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("time must be a string: %w", err)
	}
	parsed, err := ParseClockTime(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (c ClockTime) Value() (driver.Value, error) {
	return c.String(), nil
}

func (c *ClockTime) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case nil:
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("cannot scan %T into ClockTime", src)
	}
	parsed, err := ParseClockTime(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
