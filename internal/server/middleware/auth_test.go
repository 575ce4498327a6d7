package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticClaims struct {
	subject string
}

func (c staticClaims) GetSubject() (string, error) {
	return c.subject, nil
}

// mapValidator accepts the tokens it knows about.
type mapValidator map[string]string

func (v mapValidator) ValidateToken(token string) (SubjectGetter, error) {
	subject, ok := v[token]
	if !ok {
		return nil, errors.New("invalid token")
	}
	return staticClaims{subject: subject}, nil
}

func protected(t *testing.T, validator TokenValidator) (http.Handler, *string) {
	t.Helper()
	var seen string
	h := AuthMiddleware(validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, err := Subject(r)
		require.NoError(t, err)
		seen = subject
		w.WriteHeader(http.StatusNoContent)
	}))
	return h, &seen
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	h, seen := protected(t, mapValidator{"good": "operator"})

	req := httptest.NewRequest(http.MethodPost, "/runs", nil)
	req.Header.Set("Authorization", "bearer good")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "operator", *seen)
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	validator := mapValidator{"good": "operator", "anonymous": ""}

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "basic scheme", header: "Basic Zm9vOmJhcg=="},
		{name: "no token", header: "Bearer"},
		{name: "extra parts", header: "Bearer good extra"},
		{name: "unknown token", header: "Bearer bad"},
		{name: "empty subject", header: "Bearer anonymous"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, seen := protected(t, validator)
			req := httptest.NewRequest(http.MethodGet, "/runs/x", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
			assert.Empty(t, *seen)
		})
	}
}

func TestSubject_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := Subject(req)
	assert.Error(t, err)

	req = req.WithContext(context.WithValue(req.Context(), subjectKey, 42))
	_, err = Subject(req)
	assert.Error(t, err)
}
