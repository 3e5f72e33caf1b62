package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func stubValidator(token string) (*Claims, error) {
	switch token {
	case "good":
		return &Claims{UserID: "user-1", Email: "diner@example.com", Role: "customer"}, nil
	case "no-subject":
		return &Claims{}, nil
	default:
		return nil, errors.New("signature invalid")
	}
}

func TestAuth(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic Zm9vOmJhcg==", http.StatusUnauthorized},
		{"empty token", "Bearer  ", http.StatusUnauthorized},
		{"invalid token", "Bearer forged", http.StatusUnauthorized},
		{"token without user", "Bearer no-subject", http.StatusUnauthorized},
		{"valid token", "Bearer good", http.StatusOK},
		{"case-insensitive scheme", "bearer good", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var claims *Claims
			handler := Auth(stubValidator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				claims = ClaimsFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				if assert.NotNil(t, claims) {
					assert.Equal(t, "user-1", claims.UserID)
					assert.Equal(t, "diner@example.com", claims.Email)
				}
			} else {
				assert.Nil(t, claims)
				assert.Contains(t, rec.Body.String(), `"code":"UNAUTHORIZED"`)
				assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestUserIDFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, UserIDFromContext(req.Context()))
	assert.Nil(t, ClaimsFromContext(req.Context()))
}
