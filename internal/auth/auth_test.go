package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndIdentity(t *testing.T) {
	t.Parallel()

	v := &Verifier{Secret: []byte("s3cret")}
	tok, err := v.Issue(Identity{UserID: "u1", Role: RoleAdmin}, time.Hour)
	require.NoError(t, err)

	id, err := v.Identity(tok)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "u1", Role: RoleAdmin}, id)
}

func TestIdentityRejects(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	v := &Verifier{Secret: []byte("s3cret"), Clock: func() time.Time { return now }}

	expired, err := (&Verifier{Secret: []byte("s3cret"), Clock: func() time.Time { return now.Add(-2 * time.Hour) }}).
		Issue(Identity{UserID: "u1"}, time.Hour)
	require.NoError(t, err)

	otherKey, err := (&Verifier{Secret: []byte("other"), Clock: v.Clock}).Issue(Identity{UserID: "u1"}, time.Hour)
	require.NoError(t, err)

	noSub, err := v.Issue(Identity{}, time.Hour)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1", "exp": now.Add(time.Hour).Unix()}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"expired":   expired,
		"wrong_key": otherKey,
		"no_sub":    noSub,
		"alg_none":  none,
		"garbage":   "not.a.token",
	} {
		_, err := v.Identity(tok)
		require.ErrorIs(t, err, ErrInvalidToken, name)
	}
}

func TestDefaultRole(t *testing.T) {
	t.Parallel()

	v := &Verifier{Secret: []byte("s3cret")}
	tok, err := v.Issue(Identity{UserID: "u1"}, time.Hour)
	require.NoError(t, err)
	id, err := v.Identity(tok)
	require.NoError(t, err)
	assert.Equal(t, RoleUser, id.Role)
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	v := &Verifier{Secret: []byte("s3cret")}
	fail := func(w http.ResponseWriter, status int, msg string) { http.Error(w, msg, status) }
	h := v.Middleware(fail)(RequireRole(RoleAdmin, fail)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromContext(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte(id.UserID))
	})))

	userTok, err := v.Issue(Identity{UserID: "u1", Role: RoleUser}, time.Hour)
	require.NoError(t, err)
	adminTok, err := v.Issue(Identity{UserID: "a1", Role: RoleAdmin}, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"malformed", "Token abc", http.StatusUnauthorized},
		{"bad_token", "Bearer abc", http.StatusUnauthorized},
		{"wrong_role", "Bearer " + userTok, http.StatusForbidden},
		{"admin", "Bearer " + adminTok, http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, tt.want, rec.Code, tt.name)
	}
}
