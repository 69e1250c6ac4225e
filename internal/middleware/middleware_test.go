package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zhouzirui/z-social/backend/internal/model/user"
)

func TestOriginAllowed(t *testing.T) {
	cases := []struct {
		allowed []string
		origin  string
		want    bool
	}{
		{nil, "https://anything.example", true},
		{[]string{"localhost"}, "http://localhost:3000", true},
		{[]string{"https://app.example.com"}, "https://app.example.com", true},
		{[]string{"https://app.example.com"}, "https://evil.example.com", false},
		{[]string{"*.example.com"}, "https://chat.example.com", true},
		{[]string{"*.example.com"}, "https://example.org", false},
		{[]string{"*"}, "https://example.org", true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, OriginAllowed(tc.allowed, tc.origin), "%v %s", tc.allowed, tc.origin)
	}
}

func TestCORSPreflight(t *testing.T) {
	called := false
	h := CORS([]string{"localhost"})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodOptions, "/api/conversations", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "GET")
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusNoContent, resp.Code)
	assert.Equal(t, "http://localhost:5173", resp.Header().Get("Access-Control-Allow-Origin"))
	assert.False(t, called)

	req = httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp = httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	assert.True(t, called)
	assert.Empty(t, resp.Header().Get("Access-Control-Allow-Origin"))
}

type stubVerifier map[string]user.User

func (s stubVerifier) Verify(_ context.Context, token string) (user.User, error) {
	u, ok := s[token]
	if !ok {
		return user.User{}, errors.New("invalid")
	}
	return u, nil
}

func TestRequireUser(t *testing.T) {
	alice := user.User{ID: 1, Username: "alice"}
	h := RequireUser(stubVerifier{"good": alice})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFromContext(r.Context())
		assert.True(t, ok)
		_, _ = w.Write([]byte(u.Username))
	}))

	for header, want := range map[string]int{
		"":            http.StatusUnauthorized,
		"Bearer bad":  http.StatusUnauthorized,
		"Bearer good": http.StatusOK,
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp := httptest.NewRecorder()
		h.ServeHTTP(resp, req)
		assert.Equal(t, want, resp.Code, header)
	}
}
