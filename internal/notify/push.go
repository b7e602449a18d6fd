package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FCM accepts at most this many tokens per multicast request.
const pushBatchSize = 500

type messagingClient interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// Push sends reminders as Firebase Cloud Messaging web push notifications to
// every registered device token.
type Push struct {
	client messagingClient
	logger *slog.Logger

	mu       sync.RWMutex
	tokens   map[string]struct{}
	onChange func()
}

// NewPushFromCredentials initializes a Firebase app from a service account
// key file.
func NewPushFromCredentials(ctx context.Context, credentialsFile string, logger *slog.Logger) (*Push, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("initializing firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting messaging client: %w", err)
	}
	return NewPush(client, logger), nil
}

func NewPush(client messagingClient, logger *slog.Logger) *Push {
	if logger == nil {
		logger = slog.Default()
	}
	return &Push{client: client, logger: logger, tokens: make(map[string]struct{})}
}

// OnChange registers fn to run after the set of device tokens changes.
func (p *Push) OnChange(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = fn
}

// Register adds a device token. Registering a known token is a no-op.
func (p *Push) Register(token string) {
	p.mu.Lock()
	_, known := p.tokens[token]
	p.tokens[token] = struct{}{}
	onChange := p.onChange
	p.mu.Unlock()

	if !known && onChange != nil {
		onChange()
	}
}

// Unregister removes a device token and reports whether it was known.
func (p *Push) Unregister(token string) bool {
	p.mu.Lock()
	_, ok := p.tokens[token]
	delete(p.tokens, token)
	onChange := p.onChange
	p.mu.Unlock()

	if ok && onChange != nil {
		onChange()
	}
	return ok
}

// Devices returns the registered tokens in a stable order.
func (p *Push) Devices() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.tokens))
	for t := range p.tokens {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (p *Push) Permitted() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.tokens) > 0
}

func (p *Push) Deliver(ctx context.Context, r Reminder) error {
	tokens := p.Devices()
	if len(tokens) == 0 {
		return ErrNotPermitted
	}

	var errs []error
	for i := 0; i < len(tokens); i += pushBatchSize {
		end := min(i+pushBatchSize, len(tokens))
		batch := tokens[i:end]

		resp, err := p.client.SendEachForMulticast(ctx, newPushMessage(r, batch))
		if err != nil {
			errs = append(errs, fmt.Errorf("sending batch %d-%d: %w", i, end-1, err))
			continue
		}
		if resp.FailureCount == 0 {
			continue
		}
		for idx, sr := range resp.Responses {
			if sr.Success {
				continue
			}
			if messaging.IsUnregistered(sr.Error) {
				p.Unregister(batch[idx])
				p.logger.Info("dropping unregistered device token", "tag", r.Tag)
				continue
			}
			errs = append(errs, fmt.Errorf("sending to device %d: %w", i+idx, sr.Error))
		}
	}
	return errors.Join(errs...)
}

func newPushMessage(r Reminder, tokens []string) *messaging.MulticastMessage {
	return &messaging.MulticastMessage{
		Tokens: tokens,
		Data: map[string]string{
			"todoId": strconv.FormatInt(r.TodoID, 10),
			"tag":    r.Tag,
		},
		Notification: &messaging.Notification{
			Title: r.Title,
			Body:  r.Body,
		},
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title:              r.Title,
				Body:               r.Body,
				Tag:                r.Tag,
				RequireInteraction: true,
			},
		},
	}
}
