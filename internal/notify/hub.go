package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/google/uuid"
)

// Permission is the browser's notification permission as reported by the
// client.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// ParsePermission accepts the three browser permission values.
func ParsePermission(s string) (Permission, error) {
	switch p := Permission(s); p {
	case PermissionDefault, PermissionGranted, PermissionDenied:
		return p, nil
	}
	return "", fmt.Errorf("unknown permission %q", s)
}

const subscriberBuffer = 16

// DefaultHoldWindow is how long a granted reminder with no open stream waits
// for a browser to connect.
const DefaultHoldWindow = 5 * time.Minute

type heldReminder struct {
	reminder Reminder
	until    time.Time
}

// Hub is the browser channel: open event streams plus the permission the
// browser last reported. Reminders delivered while no stream is open are held
// for the first stream that connects within the hold window.
type Hub struct {
	mu          sync.RWMutex
	permission  Permission
	subscribers map[string]chan Reminder
	held        []heldReminder
	holdWindow  time.Duration
	now         func() time.Time
	onChange    func()
	logger      *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		permission:  PermissionDefault,
		subscribers: make(map[string]chan Reminder),
		holdWindow:  DefaultHoldWindow,
		now:         time.Now,
		logger:      logger,
	}
}

// HoldUndelivered sets the hold window. Zero turns holding off.
func (h *Hub) HoldUndelivered(window time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.holdWindow = window
	if window == 0 {
		h.held = nil
	}
}

// OnChange registers fn to run after the permission changes.
func (h *Hub) OnChange(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = fn
}

func (h *Hub) Permission() Permission {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.permission
}

// SetPermission records the permission the browser reports. Every report
// replaces the previous one, and leaving granted discards held reminders.
func (h *Hub) SetPermission(p Permission) {
	h.mu.Lock()
	if h.permission == p {
		h.mu.Unlock()
		return
	}
	h.logger.Info("browser notification permission changed", "from", h.permission, "to", p)
	h.permission = p
	if p != PermissionGranted {
		h.held = nil
	}
	onChange := h.onChange
	h.mu.Unlock()

	if onChange != nil {
		onChange()
	}
}

func (h *Hub) Permitted() bool {
	return h.Permission() == PermissionGranted
}

// Subscribe registers a stream. The returned cancel func must be called when
// the stream ends.
func (h *Hub) Subscribe() (string, <-chan Reminder, func()) {
	id := uuid.NewString()
	ch := make(chan Reminder, subscriberBuffer)

	h.mu.Lock()
	h.subscribers[id] = ch
	now := h.now()
	for _, hr := range h.held {
		if now.After(hr.until) || len(ch) == cap(ch) {
			continue
		}
		ch <- hr.reminder
	}
	released := len(h.held)
	h.held = nil
	h.mu.Unlock()
	h.logger.Debug("notification stream opened", "subscriber", id, "held", released)

	var once sync.Once
	return id, ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subscribers[id]; ok {
				delete(h.subscribers, id)
				close(ch)
			}
			h.logger.Debug("notification stream closed", "subscriber", id)
		})
	}
}

// Close ends every open stream. Used on server shutdown, since streams never
// finish on their own.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subscribers {
		delete(h.subscribers, id)
		close(ch)
	}
}

// Subscribers is the number of open streams.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Held is the number of reminders waiting for a stream.
func (h *Hub) Held() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.held)
}

// Deliver broadcasts r to every open stream without blocking. A subscriber
// whose buffer is full misses the reminder. With no stream open the reminder
// is held, replacing an earlier one with the same tag.
func (h *Hub) Deliver(_ context.Context, r Reminder) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.permission != PermissionGranted {
		return ErrNotPermitted
	}
	if len(h.subscribers) == 0 {
		h.holdLocked(r)
		return nil
	}
	for id, ch := range h.subscribers {
		select {
		case ch <- r:
		default:
			h.logger.Warn("notification stream full, dropping reminder", "subscriber", id, "tag", r.Tag)
		}
	}
	return nil
}

func (h *Hub) holdLocked(r Reminder) {
	if h.holdWindow <= 0 {
		h.logger.Debug("no open notification streams", "tag", r.Tag)
		return
	}
	now := h.now()
	kept := h.held[:0]
	for _, hr := range h.held {
		if hr.reminder.Tag != r.Tag && !now.After(hr.until) {
			kept = append(kept, hr)
		}
	}
	if len(kept) == subscriberBuffer {
		kept = kept[1:]
	}
	h.held = append(kept, heldReminder{reminder: r, until: now.Add(h.holdWindow)})
	h.logger.Debug("no open notification streams, holding reminder", "tag", r.Tag, "held", len(h.held))
}

// WriteReminder encodes r as an SSE "reminder" event.
func WriteReminder(w io.Writer, r Reminder) error {
	return sse.Encode(w, sse.Event{Event: "reminder", Id: r.Tag, Data: r})
}

// WritePing encodes a keep-alive event.
func WritePing(w io.Writer, now time.Time) error {
	return sse.Encode(w, sse.Event{Event: "ping", Data: now.UTC().Format(time.RFC3339)})
}
