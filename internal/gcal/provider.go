package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Tomlord1122/calendar-todo/internal/domain"
)

const (
	DefaultCalendarID = "primary"
	DefaultMaxResults = 100
)

// AuthError reports that Google refused the stored credentials. It matches
// domain.ErrPermissionDenied.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("google calendar %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() []error {
	return []error{domain.ErrPermissionDenied, e.Err}
}

// Provider is the slice of the calendar API the app uses.
type Provider interface {
	ListUpcoming(ctx context.Context, from time.Time) ([]*calendar.Event, error)
	InsertEvent(ctx context.Context, ev *calendar.Event) (*calendar.Event, error)
}

// GoogleProvider implements Provider with the calendar/v3 client.
type GoogleProvider struct {
	svc        *calendar.Service
	calendarID string
	maxResults int64
}

func NewGoogleProvider(ctx context.Context, calendarID string, maxResults int64, opts ...option.ClientOption) (*GoogleProvider, error) {
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating calendar client: %w", err)
	}
	if calendarID == "" {
		calendarID = DefaultCalendarID
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &GoogleProvider{svc: svc, calendarID: calendarID, maxResults: maxResults}, nil
}

// ListUpcoming returns single (expanded) events starting at or after from,
// ordered by start time.
func (p *GoogleProvider) ListUpcoming(ctx context.Context, from time.Time) ([]*calendar.Event, error) {
	events, err := p.svc.Events.List(p.calendarID).
		Context(ctx).
		TimeMin(from.Format(time.RFC3339)).
		ShowDeleted(false).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(p.maxResults).
		Do()
	if err != nil {
		return nil, classify("listing events", err)
	}
	return events.Items, nil
}

func (p *GoogleProvider) InsertEvent(ctx context.Context, ev *calendar.Event) (*calendar.Event, error) {
	created, err := p.svc.Events.Insert(p.calendarID, ev).Context(ctx).Do()
	if err != nil {
		return nil, classify("inserting event", err)
	}
	return created, nil
}

func classify(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden) {
		return &AuthError{Op: op, Err: err}
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return &AuthError{Op: op, Err: err}
	}
	return fmt.Errorf("google calendar %s: %w", op, err)
}
