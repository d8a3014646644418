package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "test-secret-key-12345"
	testUserID = "5b0f7a6e-3c1d-4d8e-9a2b-7f4e1c9d0a11"
)

var testPrincipal = Principal{UserID: testUserID, Email: "ada@example.com", Role: RoleAdmin}

func newTestIssuer(t *testing.T) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(testSecret)
	require.NoError(t, err)
	return issuer
}

func TestNewTokenIssuer_EmptySecret(t *testing.T) {
	issuer, err := NewTokenIssuer("")
	assert.ErrorIs(t, err, ErrEmptySecret)
	assert.Nil(t, issuer)
}

func TestPasswords(t *testing.T) {
	hashed, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", hashed)

	again, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, hashed, again, "bcrypt salts every hash")

	assert.True(t, CheckPassword(hashed, "correct horse"))
	assert.False(t, CheckPassword(hashed, "battery staple"))
	assert.False(t, CheckPassword(hashed, ""))
}

func TestIssueAndParse(t *testing.T) {
	issuer := newTestIssuer(t)

	pair, err := issuer.Issue(testPrincipal)
	require.NoError(t, err)
	assert.NotEqual(t, pair.Access, pair.Refresh)

	claims, err := issuer.Parse(pair.Access, KindAccess)
	require.NoError(t, err)
	assert.Equal(t, testPrincipal, claims.Principal())
	assert.WithinDuration(t, time.Now().Add(AccessTokenTTL), claims.ExpiresAt.Time, 2*time.Second)
	assert.Contains(t, claims.Audience, audience)

	refresh, err := issuer.Parse(pair.Refresh, KindRefresh)
	require.NoError(t, err)
	assert.True(t, refresh.Principal().IsAdmin())
	assert.WithinDuration(t, time.Now().Add(RefreshTokenTTL), refresh.ExpiresAt.Time, 2*time.Second)
}

func TestParse_Rejections(t *testing.T) {
	issuer := newTestIssuer(t)
	pair, err := issuer.Issue(testPrincipal)
	require.NoError(t, err)

	other, err := NewTokenIssuer("another-secret")
	require.NoError(t, err)

	expired := newTestIssuer(t)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	stale, err := expired.IssueAccess(testPrincipal)
	require.NoError(t, err)

	noSubject, err := issuer.IssueAccess(Principal{Role: RoleUser})
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Kind: KindAccess}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name    string
		parser  *TokenIssuer
		token   string
		kind    TokenKind
		wantErr error
	}{
		{"refresh used as access", issuer, pair.Refresh, KindAccess, ErrWrongTokenKind},
		{"access used as refresh", issuer, pair.Access, KindRefresh, ErrWrongTokenKind},
		{"signed with another secret", other, pair.Access, KindAccess, ErrInvalidToken},
		{"expired", issuer, stale, KindAccess, ErrTokenExpired},
		{"missing subject", issuer, noSubject, KindAccess, ErrInvalidToken},
		{"unsigned", issuer, none, KindAccess, ErrInvalidToken},
		{"garbage", issuer, "invalid.token.format", KindAccess, ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := tt.parser.Parse(tt.token, tt.kind)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, claims)
		})
	}
}

func TestIssueAccess_CarriesRole(t *testing.T) {
	issuer := newTestIssuer(t)

	token, err := issuer.IssueAccess(Principal{UserID: testUserID, Email: "bob@example.com", Role: RoleUser})
	require.NoError(t, err)

	claims, err := issuer.Parse(token, KindAccess)
	require.NoError(t, err)
	assert.Equal(t, testUserID, claims.Subject)
	assert.Equal(t, RoleUser, claims.Role)
	assert.False(t, claims.Principal().IsAdmin())
}
