package notify_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tomlord1122/calendar-todo/internal/domain"
	"github.com/Tomlord1122/calendar-todo/internal/notify"
)

func reminder() notify.Reminder {
	return notify.Reminder{
		TodoID: 42,
		Tag:    "todo-42",
		Title:  "Calendar Todo Reminder",
		Body:   "Standup - 09:00",
		FireAt: time.Date(2024, 3, 15, 8, 45, 0, 0, time.UTC),
	}
}

func TestHub_PermissionGate(t *testing.T) {
	hub := notify.NewHub(nil)
	_, ch, cancel := hub.Subscribe()
	defer cancel()

	assert.Equal(t, notify.PermissionDefault, hub.Permission())
	assert.False(t, hub.Permitted())
	err := hub.Deliver(context.Background(), reminder())
	assert.ErrorIs(t, err, notify.ErrNotPermitted)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.Empty(t, ch)

	hub.SetPermission(notify.PermissionGranted)
	require.NoError(t, hub.Deliver(context.Background(), reminder()))
	assert.Equal(t, reminder(), <-ch)

	hub.SetPermission(notify.PermissionDenied)
	assert.False(t, hub.Permitted())
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := notify.NewHub(nil)
	hub.SetPermission(notify.PermissionGranted)
	_, slow, cancelSlow := hub.Subscribe()
	defer cancelSlow()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_ = hub.Deliver(context.Background(), reminder())
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Deliver blocked on a full subscriber")
	}
	assert.NotEmpty(t, slow)
}

func TestHub_UnsubscribeClosesStream(t *testing.T) {
	hub := notify.NewHub(nil)
	_, ch, cancel := hub.Subscribe()
	assert.Equal(t, 1, hub.Subscribers())

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, hub.Subscribers())
}

func TestHub_CloseEndsStreams(t *testing.T) {
	hub := notify.NewHub(nil)
	_, a, cancelA := hub.Subscribe()
	_, b, cancelB := hub.Subscribe()

	hub.Close()
	_, open := <-a
	assert.False(t, open)
	_, open = <-b
	assert.False(t, open)
	assert.Equal(t, 0, hub.Subscribers())

	// Handlers still call their cancel funcs afterwards.
	assert.NotPanics(t, func() {
		cancelA()
		cancelB()
	})
}

func TestHub_HoldsRemindersUntilStreamConnects(t *testing.T) {
	hub := notify.NewHub(nil)
	hub.SetPermission(notify.PermissionGranted)

	first := reminder()
	replaced := reminder()
	replaced.Body = "Standup - 09:05"
	other := reminder()
	other.TodoID, other.Tag = 7, "todo-7"
	for _, r := range []notify.Reminder{first, other, replaced} {
		require.NoError(t, hub.Deliver(context.Background(), r))
	}
	assert.Equal(t, 2, hub.Held(), "same tag replaces the held reminder")

	_, ch, cancel := hub.Subscribe()
	defer cancel()
	require.Len(t, ch, 2)
	assert.Equal(t, other, <-ch)
	assert.Equal(t, replaced, <-ch)
	assert.Zero(t, hub.Held())

	_, late, cancelLate := hub.Subscribe()
	defer cancelLate()
	assert.Empty(t, late, "held reminders go to one stream only")
}

func TestHub_HeldRemindersExpireOrAreDiscarded(t *testing.T) {
	hub := notify.NewHub(nil)
	hub.SetPermission(notify.PermissionGranted)
	hub.HoldUndelivered(time.Nanosecond)
	require.NoError(t, hub.Deliver(context.Background(), reminder()))
	time.Sleep(time.Millisecond)

	_, ch, cancel := hub.Subscribe()
	assert.Empty(t, ch)
	cancel()

	hub.HoldUndelivered(time.Hour)
	require.NoError(t, hub.Deliver(context.Background(), reminder()))
	hub.SetPermission(notify.PermissionDenied)
	assert.Zero(t, hub.Held())

	hub.SetPermission(notify.PermissionGranted)
	hub.HoldUndelivered(0)
	require.NoError(t, hub.Deliver(context.Background(), reminder()))
	assert.Zero(t, hub.Held())
}

func TestHub_OnChangeRunsOnlyOnChange(t *testing.T) {
	hub := notify.NewHub(nil)
	changes := 0
	hub.OnChange(func() { changes++ })

	hub.SetPermission(notify.PermissionGranted)
	hub.SetPermission(notify.PermissionGranted)
	hub.SetPermission(notify.PermissionDenied)
	assert.Equal(t, 2, changes)
}

func TestParsePermission(t *testing.T) {
	p, err := notify.ParsePermission("granted")
	require.NoError(t, err)
	assert.Equal(t, notify.PermissionGranted, p)

	_, err = notify.ParsePermission("maybe")
	assert.Error(t, err)
}

func TestWriteReminder(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, notify.WriteReminder(&buf, reminder()))

	out := buf.String()
	assert.Contains(t, out, "id:todo-42\n")
	assert.Contains(t, out, "event:reminder\n")
	assert.Contains(t, out, `"body":"Standup - 09:00"`)
	assert.Contains(t, out, "\n\n")
}

type fakeMessaging struct {
	sent []*messaging.MulticastMessage
	resp *messaging.BatchResponse
	err  error
}

func (f *fakeMessaging) SendEachForMulticast(_ context.Context, m *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	f.sent = append(f.sent, m)
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &messaging.BatchResponse{SuccessCount: len(m.Tokens)}, nil
}

func TestPush_Deliver(t *testing.T) {
	client := &fakeMessaging{}
	push := notify.NewPush(client, nil)

	assert.False(t, push.Permitted())
	assert.ErrorIs(t, push.Deliver(context.Background(), reminder()), notify.ErrNotPermitted)

	push.Register("token-b")
	push.Register("token-a")
	push.Register("token-a")
	assert.True(t, push.Permitted())
	assert.Equal(t, []string{"token-a", "token-b"}, push.Devices())

	require.NoError(t, push.Deliver(context.Background(), reminder()))
	require.Len(t, client.sent, 1)
	msg := client.sent[0]
	assert.Equal(t, []string{"token-a", "token-b"}, msg.Tokens)
	assert.Equal(t, "todo-42", msg.Webpush.Notification.Tag)
	assert.True(t, msg.Webpush.Notification.RequireInteraction)
	assert.Equal(t, "Calendar Todo Reminder", msg.Notification.Title)
	assert.Equal(t, "42", msg.Data["todoId"])

	assert.True(t, push.Unregister("token-b"))
	assert.False(t, push.Unregister("token-b"))
}

func TestPush_DeliverReportsFailures(t *testing.T) {
	client := &fakeMessaging{resp: &messaging.BatchResponse{
		FailureCount: 1,
		Responses: []*messaging.SendResponse{
			{Success: true},
			{Success: false, Error: errors.New("quota exceeded")},
		},
	}}
	push := notify.NewPush(client, nil)
	push.Register("a")
	push.Register("b")

	err := push.Deliver(context.Background(), reminder())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Len(t, push.Devices(), 2)

	client.resp, client.err = nil, errors.New("unavailable")
	assert.Error(t, push.Deliver(context.Background(), reminder()))
}

type stubChannel struct {
	permitted bool
	err       error
	got       []notify.Reminder
}

func (s *stubChannel) Permitted() bool { return s.permitted }

func (s *stubChannel) Deliver(_ context.Context, r notify.Reminder) error {
	s.got = append(s.got, r)
	return s.err
}

func TestFanout(t *testing.T) {
	on := &stubChannel{permitted: true}
	off := &stubChannel{}
	failing := &stubChannel{permitted: true, err: errors.New("boom")}

	assert.False(t, notify.Fanout{off}.Permitted())
	assert.ErrorIs(t, notify.Fanout{off}.Deliver(context.Background(), reminder()), notify.ErrNotPermitted)

	f := notify.Fanout{on, off, failing}
	assert.True(t, f.Permitted())
	err := f.Deliver(context.Background(), reminder())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Len(t, on.got, 1)
	assert.Empty(t, off.got)
	assert.Len(t, failing.got, 1)
}
