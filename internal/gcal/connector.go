package gcal

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/Tomlord1122/calendar-todo/internal/config"
)

// Status is the connection state shown to the client.
type Status struct {
	Connected  bool       `json:"connected"`
	Expiry     *time.Time `json:"expiry,omitempty"`
	CanRefresh bool       `json:"canRefresh"`
}

// Connector turns the stored token into a Provider. The token itself comes
// from the browser's Google sign-in.
type Connector struct {
	oauth      *oauth2.Config
	tokens     *TokenStore
	calendarID string
	maxResults int64
	now        func() time.Time

	// extra client options, set by tests to point at a fake API
	opts []option.ClientOption
}

func NewConnector(cfg config.Google, tokens *TokenStore, opts ...option.ClientOption) *Connector {
	return &Connector{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{calendar.CalendarScope},
		},
		tokens:     tokens,
		calendarID: cfg.CalendarID,
		maxResults: cfg.MaxResults,
		now:        time.Now,
		opts:       opts,
	}
}

func (c *Connector) Status() (Status, error) {
	tok, err := c.tokens.Load()
	if errors.Is(err, ErrNoToken) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, err
	}
	st := Status{Connected: c.usable(tok), CanRefresh: tok.RefreshToken != "" && c.oauth.ClientID != ""}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry
		st.Expiry = &exp
	}
	return st, nil
}

// Connect stores a token obtained by the client.
func (c *Connector) Connect(tok *oauth2.Token) error {
	if tok == nil || tok.AccessToken == "" {
		return &AuthError{Op: "connect", Err: errors.New("access token is required")}
	}
	if tok.TokenType == "" {
		tok.TokenType = "Bearer"
	}
	return c.tokens.Save(tok)
}

func (c *Connector) Disconnect() error {
	return c.tokens.Delete()
}

// Provider returns a calendar client authorized with the stored token. A
// missing or expired, unrefreshable token is reported as an AuthError.
func (c *Connector) Provider(ctx context.Context) (Provider, error) {
	tok, err := c.tokens.Load()
	if errors.Is(err, ErrNoToken) {
		return nil, &AuthError{Op: "authorize", Err: err}
	}
	if err != nil {
		return nil, err
	}
	if !c.usable(tok) {
		return nil, &AuthError{Op: "authorize", Err: errors.New("token expired")}
	}

	ts := c.oauth.TokenSource(context.WithoutCancel(ctx), tok)
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, c.opts...)
	return NewGoogleProvider(ctx, c.calendarID, c.maxResults, opts...)
}

func (c *Connector) usable(tok *oauth2.Token) bool {
	if tok.AccessToken == "" {
		return false
	}
	if tok.Expiry.IsZero() || tok.Expiry.After(c.now()) {
		return true
	}
	return tok.RefreshToken != "" && c.oauth.ClientID != ""
}
