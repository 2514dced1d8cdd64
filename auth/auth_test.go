package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pythonquest/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestSessions(t *testing.T) *SessionManager {
	t.Helper()
	sm := NewSessionManager(testSecret, time.Hour)
	t.Cleanup(sm.Close)
	return sm
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return NewService(st, newTestSessions(t))
}

func TestSessionRoundTrip(t *testing.T) {
	sm := newTestSessions(t)

	token, err := sm.Issue(42, "alice")
	require.NoError(t, err)

	claims, err := sm.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "42", claims.Subject)
	assert.Equal(t, tokenIssuer, claims.Issuer)
	assert.NotEmpty(t, claims.ID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, 5*time.Second)
}

func TestSessionRejects(t *testing.T) {
	sm := newTestSessions(t)
	token, err := sm.Issue(7, "bob")
	require.NoError(t, err)

	other := NewSessionManager("another-secret-of-enough-length", time.Hour)
	defer other.Close()
	foreign, err := other.Issue(7, "bob")
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: "  "},
		{name: "garbage", token: "not.a.jwt"},
		{name: "tampered", token: token + "x"},
		{name: "wrong secret", token: foreign},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sm.Parse(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestSessionExpiry(t *testing.T) {
	sm := newTestSessions(t)
	issued := time.Now()
	sm.now = func() time.Time { return issued }

	token, err := sm.Issue(1, "alice")
	require.NoError(t, err)

	sm.now = func() time.Time { return issued.Add(59 * time.Minute) }
	_, err = sm.Parse(token)
	require.NoError(t, err)

	sm.now = func() time.Time { return issued.Add(61 * time.Minute) }
	_, err = sm.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRevoke(t *testing.T) {
	sm := newTestSessions(t)
	first, err := sm.Issue(1, "alice")
	require.NoError(t, err)
	second, err := sm.Issue(1, "alice")
	require.NoError(t, err)

	sm.Revoke(first)
	sm.Revoke("garbage")

	_, err = sm.Parse(first)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = sm.Parse(second)
	assert.NoError(t, err, "other sessions of the same user survive")
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, TokenFromRequest(r))

	r.Header.Set("Authorization", "Bearer from-bearer")
	assert.Equal(t, "from-bearer", TokenFromRequest(r))

	r.Header.Set(HeaderName, "from-header")
	assert.Equal(t, "from-header", TokenFromRequest(r))

	r.AddCookie(&http.Cookie{Name: CookieName, Value: "from-cookie"})
	assert.Equal(t, "from-cookie", TokenFromRequest(r))
}

func TestSessionCookies(t *testing.T) {
	sm := newTestSessions(t)

	rec := httptest.NewRecorder()
	sm.SetSessionCookie(rec, "abc")
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.Equal(t, "abc", cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)
	assert.Equal(t, 3600, cookies[0].MaxAge)

	rec = httptest.NewRecorder()
	sm.ClearSessionCookie(rec)
	cookies = rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Empty(t, cookies[0].Value)
	assert.Negative(t, cookies[0].MaxAge)
}

func TestRegister(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, " alice_01 ", "alice@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "alice_01", user.Username)
	assert.NotEqual(t, "secret1", user.PasswordHash)

	tests := []struct {
		name     string
		username string
		email    string
		password string
		wantErr  error
	}{
		{name: "short username", username: "al", email: "x@example.com", password: "secret1", wantErr: ErrInvalidUsername},
		{name: "symbols", username: "al-ice", email: "x@example.com", password: "secret1", wantErr: ErrInvalidUsername},
		{name: "markup", username: "<b>bob</b>!", email: "x@example.com", password: "secret1", wantErr: ErrInvalidUsername},
		{name: "bad email", username: "bob", email: "bob-at-example", password: "secret1", wantErr: ErrInvalidEmail},
		{name: "short password", username: "bob", email: "bob@example.com", password: "12345", wantErr: ErrInvalidPassword},
		{name: "taken username", username: "alice_01", email: "new@example.com", password: "secret1", wantErr: ErrUserExists},
		{name: "taken email", username: "bob", email: "alice@example.com", password: "secret1", wantErr: ErrUserExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.username, tt.email, tt.password)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoginAndLogout(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	registered, err := svc.Register(ctx, "alice", "alice@example.com", "secret1")
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "alice", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = svc.Login(ctx, "nobody", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	token, user, err := svc.Login(ctx, "alice@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, user.ID)

	claims, ok := svc.ValidateSession(token)
	require.True(t, ok)
	assert.Equal(t, registered.ID, claims.UserID)

	stored, err := svc.GetUser(ctx, registered.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastLogin)

	svc.Logout(token)
	_, ok = svc.ValidateSession(token)
	assert.False(t, ok)
}

func TestSanitizers(t *testing.T) {
	assert.Equal(t, "bob", SanitizeUsername("<script>alert(1)</script>bob"))
	assert.Equal(t, "alice@example.com", SanitizeLogin("  <i>alice@example.com</i> "))
	assert.Equal(t, "Friday Night Quest", SanitizeGameName("  <b>Friday</b>   Night\tQuest "))
	assert.Equal(t, "a &amp; b", SanitizeGameName("a & b"))
}

func TestNormalizeEmail(t *testing.T) {
	email, err := NormalizeEmail("  alice@example.com ")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", email)

	for _, input := range []string{"", "alice", "alice@", "<b></b>"} {
		_, err := NormalizeEmail(input)
		assert.ErrorIs(t, err, ErrInvalidEmail, input)
	}
}
