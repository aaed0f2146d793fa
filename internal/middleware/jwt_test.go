package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type staticValidator map[string]int

func (v staticValidator) ValidateToken(token string) (int, string, error) {
	id, ok := v[token]
	if !ok {
		return 0, "", errors.New("unknown token")
	}
	return id, "alice", nil
}

func TestAuthMiddleware(t *testing.T) {
	am := NewAuthMiddleware(staticValidator{"good": 7}, zaptest.NewLogger(t))
	h := am.Handle(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, 7, r.Context().Value(UserKey))
		require.Equal(t, "alice", r.Context().Value(UsernameKey))
		w.WriteHeader(http.StatusTeapot)
	}))

	for _, tc := range []struct {
		name   string
		header string
		query  string
		status int
	}{
		{name: "missing", status: http.StatusUnauthorized},
		{name: "bad", header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "header", header: "Bearer good", status: http.StatusTeapot},
		{name: "query", query: "?token=good", status: http.StatusTeapot},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, tc.status, rec.Code)
		})
	}
}
