package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/storefront/pkg/errors"
)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("any-secret"))
	require.NoError(t, err)
	return token
}

func TestParseClaims_UserIDAndExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signToken(t, jwt.MapClaims{"user_id": "u-1", "email": "ada@example.com", "exp": exp.Unix()})

	c, err := ParseClaims(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", c.UserID)
	assert.Equal(t, "ada@example.com", c.Email)
	assert.True(t, exp.Equal(c.ExpiresAt))
}

func TestParseClaims_FallsBackToSub(t *testing.T) {
	c, err := ParseClaims(signToken(t, jwt.MapClaims{"sub": "u-2"}))
	require.NoError(t, err)
	assert.Equal(t, "u-2", c.UserID)
	assert.True(t, c.ExpiresAt.IsZero())
}

func TestParseClaims_Errors(t *testing.T) {
	_, err := ParseClaims("not-a-jwt")
	assert.Error(t, err)

	_, err = ParseClaims(signToken(t, jwt.MapClaims{"email": "x@example.com"}))
	assert.ErrorContains(t, err, "no user id")
}

func TestAuth_GuestByDefault(t *testing.T) {
	a := NewAuth("sess-1")
	assert.Equal(t, ScopeGuest, a.Scope())
	assert.Empty(t, a.UserID())
	assert.Equal(t, "sess-1", a.SessionID())
}

func TestAuth_SetToken(t *testing.T) {
	a := NewAuth("sess-1")
	token := signToken(t, jwt.MapClaims{"user_id": "u-1"})

	require.NoError(t, a.SetToken(token))
	assert.Equal(t, ScopeUser, a.Scope())
	assert.Equal(t, "u-1", a.UserID())
	assert.Equal(t, token, a.Token())
}

func TestAuth_SetToken_RejectsExpired(t *testing.T) {
	a := NewAuth("sess-1")
	token := signToken(t, jwt.MapClaims{"user_id": "u-1", "exp": time.Now().Add(-time.Minute).Unix()})

	err := a.SetToken(token)
	require.ErrorIs(t, err, apperrors.ErrSessionExpired)
	assert.Equal(t, ScopeGuest, a.Scope(), "refused token must not sign the session in")
}

func TestAuth_SetToken_RejectsGarbage(t *testing.T) {
	err := NewAuth("s").SetToken("garbage")
	require.ErrorIs(t, err, apperrors.ErrSessionExpired)
}

func TestAuth_ExpireRunsListenersOnce(t *testing.T) {
	a := NewAuth("sess-1")
	require.NoError(t, a.SetToken(signToken(t, jwt.MapClaims{"user_id": "u-1"})))

	var calls int
	a.OnExpired(func() { calls++ })

	a.Expire()
	a.Expire()

	assert.Equal(t, 1, calls)
	assert.Equal(t, ScopeGuest, a.Scope())
	assert.Empty(t, a.Token())
}

func TestAuth_SignOutSkipsListeners(t *testing.T) {
	a := NewAuth("sess-1")
	require.NoError(t, a.SetToken(signToken(t, jwt.MapClaims{"user_id": "u-1"})))
	var called bool
	a.OnExpired(func() { called = true })

	a.SignOut()

	assert.False(t, called)
	assert.Equal(t, ScopeGuest, a.Scope())
}

func TestAuth_Apply(t *testing.T) {
	a := NewAuth("sess-1")

	guestReq := httptest.NewRequest(http.MethodGet, "/cart", nil)
	a.Apply(guestReq)
	assert.Equal(t, "sess-1", guestReq.Header.Get(GuestHeader))
	assert.Empty(t, guestReq.Header.Get("Authorization"))

	token := signToken(t, jwt.MapClaims{"user_id": "u-1"})
	require.NoError(t, a.SetToken(token))

	userReq := httptest.NewRequest(http.MethodGet, "/cart", nil)
	a.Apply(userReq)
	assert.Equal(t, "Bearer "+token, userReq.Header.Get("Authorization"))
	assert.Empty(t, userReq.Header.Get(GuestHeader))
}
