package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrUnauthorized is what a request function returns when the server
	// rejected the access token (HTTP 401). It triggers the refresh path.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrAuthExpired means the refresh itself failed. Terminal for the
	// session: only a fresh login produces a usable guard again.
	ErrAuthExpired = errors.New("authentication expired")
)

// Credentials is the current access/refresh token pair.
type Credentials struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Refresher exchanges a refresh token for a new credential pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Credentials, error)
}

type guardState int

const (
	stateValid guardState = iota
	stateRefreshing
	stateInvalid
)

// TokenGuard attaches bearer credentials to outbound calls and recovers
// once from token expiry. Concurrent calls that each hit a 401 share a
// single in-flight refresh instead of racing their own.
type TokenGuard struct {
	mu        sync.Mutex
	creds     Credentials
	state     guardState
	done      chan struct{} // closed when the in-flight refresh resolves
	refresher Refresher
}

func NewTokenGuard(creds Credentials, refresher Refresher) *TokenGuard {
	return &TokenGuard{creds: creds, refresher: refresher}
}

// Do invokes fn with the current access token. If fn reports
// ErrUnauthorized, the guard refreshes the credentials (joining an
// in-flight refresh if one exists) and retries fn exactly once.
func (g *TokenGuard) Do(ctx context.Context, fn func(ctx context.Context, accessToken string) error) error {
	token, err := g.currentToken()
	if err != nil {
		return err
	}

	err = fn(ctx, token)
	if err == nil || !errors.Is(err, ErrUnauthorized) {
		return err
	}

	token, err = g.refreshShared(ctx, token)
	if err != nil {
		return err
	}

	err = fn(ctx, token)
	if errors.Is(err, ErrUnauthorized) {
		// A freshly refreshed token was rejected: the session is gone.
		g.invalidate()
		return fmt.Errorf("token rejected after refresh: %w", ErrAuthExpired)
	}
	return err
}

// Expired reports whether the guard has reached its terminal state.
func (g *TokenGuard) Expired() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == stateInvalid
}

func (g *TokenGuard) currentToken() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == stateInvalid {
		return "", ErrAuthExpired
	}
	// A stale token during an in-flight refresh is fine: the call will
	// come back with a 401 and join the shared refresh below.
	return g.creds.AccessToken, nil
}

// refreshShared returns a usable access token after at most one refresh.
// failedToken is the token the caller just saw rejected; if it no longer
// matches the current credentials, another caller already refreshed and
// the current token is returned as-is.
func (g *TokenGuard) refreshShared(ctx context.Context, failedToken string) (string, error) {
	g.mu.Lock()

	switch g.state {
	case stateInvalid:
		g.mu.Unlock()
		return "", ErrAuthExpired

	case stateRefreshing:
		done := g.done
		g.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return g.currentToken()
	}

	if g.creds.AccessToken != failedToken {
		token := g.creds.AccessToken
		g.mu.Unlock()
		return token, nil
	}

	g.state = stateRefreshing
	g.done = make(chan struct{})
	refreshToken := g.creds.RefreshToken
	g.mu.Unlock()

	creds, err := g.refresher.Refresh(ctx, refreshToken)

	g.mu.Lock()
	if err != nil {
		g.state = stateInvalid
		g.creds = Credentials{}
	} else {
		g.state = stateValid
		g.creds = creds
	}
	close(g.done)
	g.mu.Unlock()

	if err != nil {
		return "", fmt.Errorf("token refresh failed: %w", ErrAuthExpired)
	}
	return creds.AccessToken, nil
}

func (g *TokenGuard) invalidate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = stateInvalid
	g.creds = Credentials{}
}
