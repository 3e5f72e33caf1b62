package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/DinerGo/pkg/middleware"
)

const testSecret = "test-secret-key-for-unit-tests"

func TestJWTManager_RoundTrip(t *testing.T) {
	m := NewJWTManager(testSecret, "diner", time.Hour)

	token, err := m.GenerateAccessToken("user-1", "a@example.com", "customer")
	require.NoError(t, err)

	claims, err := m.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "a@example.com", claims.Email)
	assert.Equal(t, "customer", claims.Role)
	assert.Equal(t, "diner", claims.Issuer)
}

func TestJWTManager_Expired(t *testing.T) {
	m := NewJWTManager(testSecret, "", time.Minute)
	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := m.GenerateAccessToken("user-1", "", "")
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.ValidateAccessToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestJWTManager_WrongSecret(t *testing.T) {
	token, err := NewJWTManager("other-secret", "", time.Hour).GenerateAccessToken("user-1", "", "")
	require.NoError(t, err)

	_, err = NewJWTManager(testSecret, "", time.Hour).ValidateAccessToken(token)
	assert.ErrorIs(t, err, jwt.ErrSignatureInvalid)
}

func TestJWTManager_WrongIssuer(t *testing.T) {
	token, err := NewJWTManager(testSecret, "someone-else", time.Hour).GenerateAccessToken("user-1", "", "")
	require.NoError(t, err)

	_, err = NewJWTManager(testSecret, "diner", time.Hour).ValidateAccessToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)
}

func TestJWTManager_RejectsNoneAlgorithm(t *testing.T) {
	claims := &Claims{
		UserID:           "user-1",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewJWTManager(testSecret, "", time.Hour).ValidateAccessToken(token)
	assert.Error(t, err)
}

func TestJWTManager_SubjectFallback(t *testing.T) {
	claims := jwt.RegisteredClaims{
		Subject:   "user-9",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	got, err := NewJWTManager(testSecret, "", time.Hour).ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-9", got.UserID)
}

func TestJWTManager_MissingUserID(t *testing.T) {
	claims := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = NewJWTManager(testSecret, "", time.Hour).ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrMissingUserID)
}

func TestJWTManager_WithAuthMiddleware(t *testing.T) {
	m := NewJWTManager(testSecret, "diner", time.Hour)
	token, err := m.GenerateAccessToken("user-1", "a@example.com", "customer")
	require.NoError(t, err)

	var got *middleware.Claims
	h := middleware.Auth(m.Validate)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = middleware.ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "a@example.com", got.Email)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
