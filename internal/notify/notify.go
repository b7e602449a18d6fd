// Package notify delivers due reminders to the user's devices.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Tomlord1122/calendar-todo/internal/domain"
)

// ErrNotPermitted is returned by a channel the user has not granted.
var ErrNotPermitted = fmt.Errorf("notification channel not permitted: %w", domain.ErrPermissionDenied)

// Reminder is one user-visible notification. Tag is stable per todo so a
// client replaces a still-visible reminder instead of stacking another.
type Reminder struct {
	TodoID int64     `json:"todoId"`
	Tag    string    `json:"tag"`
	Title  string    `json:"title"`
	Body   string    `json:"body"`
	FireAt time.Time `json:"fireAt"`
}

// Channel is a delivery target with its own permission state.
type Channel interface {
	Permitted() bool
	Deliver(ctx context.Context, r Reminder) error
}

// Fanout delivers to every permitted member.
type Fanout []Channel

func (f Fanout) Permitted() bool {
	for _, ch := range f {
		if ch.Permitted() {
			return true
		}
	}
	return false
}

// Deliver reports ErrNotPermitted when no member accepted the reminder.
// Errors from individual members are joined.
func (f Fanout) Deliver(ctx context.Context, r Reminder) error {
	var (
		errs      []error
		delivered bool
	)
	for _, ch := range f {
		if !ch.Permitted() {
			continue
		}
		if err := ch.Deliver(ctx, r); err != nil {
			errs = append(errs, err)
			continue
		}
		delivered = true
	}
	if !delivered && len(errs) == 0 {
		return ErrNotPermitted
	}
	return errors.Join(errs...)
}
