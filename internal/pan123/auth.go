package pan123

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// expiryBuffer is how far ahead of actual expiry a token is considered
// unusable — callers need headroom for in-flight requests that started
// just before expiry.
const expiryBuffer = 5 * time.Minute

// refreshMinInterval rate-limits refresh_token() to at most once per
// wall-clock minute, regardless of how many callers ask for a token.
const refreshMinInterval = 1 * time.Minute

// fallbackTokenLifetime is used when the upstream's expiredAt cannot be
// parsed as RFC3339.
const fallbackTokenLifetime = 1 * time.Hour

// Token is a bearer token and its expiry, mirrored between process memory
// and the TokenStore.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

func (t Token) validFor(d time.Duration) bool {
	return !t.ExpiresAt.IsZero() && time.Until(t.ExpiresAt) > d
}

// TokenStore persists the singleton token row. Implemented by the index
// store (C2); defined here, the consumer, per "accept interfaces, return
// structs".
type TokenStore interface {
	LoadToken(ctx context.Context) (Token, error)
	SaveToken(ctx context.Context, tok Token) error
}

// TokenSource provides bearer tokens to the HTTP layer. Defined at the
// consumer (this package's Client) so tests can substitute their own.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	// ForceRefresh bypasses any cached token and re-authenticates. Called
	// by the retry loop after an upstream 401.
	ForceRefresh(ctx context.Context) (string, error)
}

// tokenManager implements TokenSource with a 5-minute expiry buffer, an
// at-most-once-per-minute refresh rate limit, and a single in-flight
// refresh shared across concurrent callers.
type tokenManager struct {
	clientID     string
	clientSecret string
	store        TokenStore
	httpDo       func(ctx context.Context, method, path string, body any, out any) error
	logger       *slog.Logger

	mu           sync.RWMutex
	current      Token
	lastRefresh  time.Time
	refreshGroup singleflight.Group
}

func newTokenManager(
	clientID, clientSecret string, store TokenStore, logger *slog.Logger,
	httpDo func(ctx context.Context, method, path string, body any, out any) error,
) *tokenManager {
	return &tokenManager{
		clientID:     clientID,
		clientSecret: clientSecret,
		store:        store,
		httpDo:       httpDo,
		logger:       logger,
	}
}

// Token implements TokenSource.
func (m *tokenManager) Token(ctx context.Context) (string, error) {
	if tok, ok := m.cachedToken(); ok {
		return tok.AccessToken, nil
	}

	if tok, err := m.adoptStoredToken(ctx); err == nil {
		return tok.AccessToken, nil
	}

	tok, err := m.refresh(ctx)
	if err != nil {
		return "", err
	}

	return tok.AccessToken, nil
}

// cachedToken returns the in-memory token if it still has headroom.
func (m *tokenManager) cachedToken() (Token, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current.validFor(expiryBuffer) {
		return m.current, true
	}

	return Token{}, false
}

// adoptStoredToken loads the persisted token row; if it still has headroom,
// adopts it into memory without hitting the upstream.
func (m *tokenManager) adoptStoredToken(ctx context.Context) (Token, error) {
	stored, err := m.store.LoadToken(ctx)
	if err != nil {
		return Token{}, fmt.Errorf("loading stored token: %w", err)
	}

	if !stored.validFor(expiryBuffer) {
		return Token{}, fmt.Errorf("pan123: stored token has insufficient headroom")
	}

	m.mu.Lock()
	m.current = stored
	m.mu.Unlock()

	return stored, nil
}

// ForceRefresh implements TokenSource. It bypasses the cached/stored token
// and calls refresh_token directly — used after a 401 by the retry loop.
func (m *tokenManager) ForceRefresh(ctx context.Context) (string, error) {
	tok, err := m.refresh(ctx)
	if err != nil {
		return "", err
	}

	return tok.AccessToken, nil
}

// refresh implements refresh_token(): rate-limited to once per minute,
// with concurrent callers collapsed onto a single in-flight call via
// singleflight.
func (m *tokenManager) refresh(ctx context.Context) (Token, error) {
	m.mu.RLock()
	lastRefresh := m.lastRefresh
	cached := m.current
	m.mu.RUnlock()

	sinceLast := time.Since(lastRefresh)

	if !lastRefresh.IsZero() && sinceLast < refreshMinInterval {
		if cached.AccessToken != "" {
			m.logger.Debug("refresh rate-limited, returning cached token",
				slog.Duration("since_last_refresh", sinceLast))

			return cached, nil
		}

		return Token{}, fmt.Errorf("%w: refresh rate-limited and no token cached", ErrAuth)
	}

	result, err, _ := m.refreshGroup.Do("refresh", func() (any, error) {
		return m.doRefresh(ctx)
	})
	if err != nil {
		return Token{}, err
	}

	return result.(Token), nil
}

// doRefresh performs the actual POST /api/v1/access_token call and writes
// the result through to the store and in-memory state.
func (m *tokenManager) doRefresh(ctx context.Context) (Token, error) {
	m.logger.Info("refreshing access token")

	var data accessTokenData

	req := accessTokenRequest{ClientID: m.clientID, ClientSecret: m.clientSecret}
	if err := m.httpDo(ctx, "POST", accessTokenPath, req, &data); err != nil {
		return Token{}, fmt.Errorf("requesting access token: %w", err)
	}

	expiresAt, err := time.Parse(time.RFC3339, data.ExpiredAt)
	if err != nil {
		m.logger.Warn("access token expiry not RFC3339, using fallback lifetime",
			slog.String("expiredAt", data.ExpiredAt))
		expiresAt = time.Now().Add(fallbackTokenLifetime)
	}

	tok := Token{AccessToken: data.AccessToken, ExpiresAt: expiresAt}

	if err := m.store.SaveToken(ctx, tok); err != nil {
		return Token{}, fmt.Errorf("persisting refreshed token: %w", err)
	}

	m.mu.Lock()
	m.current = tok
	m.lastRefresh = time.Now()
	m.mu.Unlock()

	return tok, nil
}
