package session

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// GuestHeader carries the browser session id on guest-scoped requests so the
// upstream API can find the guest cart.
const GuestHeader = "X-Guest-Session"

// Scope decides whether cart operations are guest- or user-scoped.
type Scope string

const (
	ScopeGuest Scope = "guest"
	ScopeUser  Scope = "user"
)

// Claims are the parts of the access token the storefront reads. The token
// is not verified here; the upstream API is the authority and answers 401
// for anything it does not accept.
type Claims struct {
	UserID    string
	Email     string
	ExpiresAt time.Time
}

// Auth is the identity of one browser session.
type Auth struct {
	mu        sync.RWMutex
	sessionID string
	token     string
	claims    Claims
	listeners []func()
	nowFunc   func() time.Time
}

// NewAuth creates a guest-scoped identity for the given browser session.
func NewAuth(sessionID string) *Auth {
	return &Auth{
		sessionID: sessionID,
		nowFunc:   time.Now,
	}
}

// ParseClaims extracts Claims from a JWT without verifying its signature.
// The user id is read from "user_id", falling back to "sub".
func ParseClaims(token string) (Claims, error) {
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, mc); err != nil {
		return Claims{}, err
	}

	var c Claims
	c.UserID, _ = mc["user_id"].(string)
	if c.UserID == "" {
		c.UserID, _ = mc["sub"].(string)
	}
	if c.UserID == "" {
		return Claims{}, errors.New("token carries no user id")
	}
	c.Email, _ = mc["email"].(string)
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	return c, nil
}

// SetToken signs the session in with token. An unreadable or already
// expired token is refused with a SessionExpired error and leaves the
// session unchanged.
func (a *Auth) SetToken(token string) error {
	claims, err := ParseClaims(token)
	if err != nil {
		appErr := apperrors.SessionExpired("your session is invalid, please sign in again")
		appErr.Err = errors.Join(apperrors.ErrSessionExpired, err)
		return appErr
	}
	if !claims.ExpiresAt.IsZero() && !a.nowFunc().Before(claims.ExpiresAt) {
		return apperrors.SessionExpired("your session has expired, please sign in again")
	}

	a.mu.Lock()
	a.token = token
	a.claims = claims
	a.mu.Unlock()
	return nil
}

// SignOut drops the token without running expiry listeners.
func (a *Auth) SignOut() {
	a.mu.Lock()
	a.token = ""
	a.claims = Claims{}
	a.mu.Unlock()
}

// Expire performs the global teardown that follows a 401: the token is
// dropped and every OnExpired listener runs once.
func (a *Auth) Expire() {
	a.mu.Lock()
	a.token = ""
	a.claims = Claims{}
	listeners := a.listeners
	a.listeners = nil
	a.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// OnExpired registers fn to run on the next Expire.
func (a *Auth) OnExpired(fn func()) {
	a.mu.Lock()
	a.listeners = append(a.listeners, fn)
	a.mu.Unlock()
}

// SessionID returns the browser session id.
func (a *Auth) SessionID() string {
	return a.sessionID
}

// Token returns the bearer token, empty for guests.
func (a *Auth) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

// UserID returns the signed-in user's id, empty for guests.
func (a *Auth) UserID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.claims.UserID
}

// Claims returns the claims of the current token.
func (a *Auth) Claims() Claims {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.claims
}

// Scope reports whether the session is signed in.
func (a *Auth) Scope() Scope {
	if a.Token() == "" {
		return ScopeGuest
	}
	return ScopeUser
}

// Apply adds credentials to an outbound request: the bearer token when
// signed in, otherwise the guest session header.
func (a *Auth) Apply(req *http.Request) {
	if token := a.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
		return
	}
	req.Header.Set(GuestHeader, a.sessionID)
}
