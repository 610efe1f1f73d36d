package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"courier/cmd/internal/auth"
	"courier/cmd/internal/auth/authmock"
	"courier/cmd/security/token"
)

func TestTokenFromRequest(t *testing.T) {
	cases := []struct {
		name   string
		header string
		query  string
		want   string
		wantOK bool
	}{
		{name: "bearer header", header: "Bearer abc", want: "abc", wantOK: true},
		{name: "bearer case-insensitive", header: "bearer   abc ", want: "abc", wantOK: true},
		{name: "raw header", header: "abc", want: "abc", wantOK: true},
		{name: "other scheme ignored", header: "Basic dXNlcjpwdw==", wantOK: false},
		{name: "authorization query", query: "?authorization=q1", want: "q1", wantOK: true},
		{name: "token query", query: "?token=q2", want: "q2", wantOK: true},
		{name: "header wins over query", header: "Bearer h", query: "?authorization=q", want: "h", wantOK: true},
		{name: "empty query", query: "?authorization=", wantOK: false},
		{name: "nothing", wantOK: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/chat"+tc.query, nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			got, ok := auth.TokenFromRequest(r, auth.DefaultQueryKeys...)
			require.Equal(t, tc.wantOK, ok)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestGateway_Authenticate(t *testing.T) {
	ctrl := gomock.NewController(t)
	verifier := authmock.NewMockVerifier(ctrl)
	g := auth.NewGateway(verifier)

	alice := auth.Principal{ID: "01JALICE", Name: "alice", ExpiresAt: time.Now().Add(time.Hour)}

	t.Run("missing token never reaches the verifier", func(t *testing.T) {
		_, err := g.Authenticate(httptest.NewRequest(http.MethodGet, "/chat", nil))
		require.ErrorIs(t, err, auth.ErrUnauthenticated)
	})

	t.Run("rejected token", func(t *testing.T) {
		verifier.EXPECT().Verify(gomock.Any(), "bad").Return(auth.Principal{}, errors.New("boom"))
		_, err := g.Authenticate(httptest.NewRequest(http.MethodGet, "/chat?authorization=bad", nil))
		require.ErrorIs(t, err, auth.ErrInvalidToken)
		require.NotErrorIs(t, err, auth.ErrUnauthenticated)
	})

	t.Run("empty principal is rejected", func(t *testing.T) {
		verifier.EXPECT().Verify(gomock.Any(), "odd").Return(auth.Principal{}, nil)
		_, err := g.Authenticate(httptest.NewRequest(http.MethodGet, "/chat?token=odd", nil))
		require.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("valid token", func(t *testing.T) {
		verifier.EXPECT().Verify(gomock.Any(), "good").Return(alice, nil)
		r := httptest.NewRequest(http.MethodGet, "/chat", nil)
		r.Header.Set("Authorization", "Bearer good")
		got, err := g.Authenticate(r)
		require.NoError(t, err)
		require.Equal(t, alice, got)
	})
}

func TestGateway_Require(t *testing.T) {
	ctrl := gomock.NewController(t)
	verifier := authmock.NewMockVerifier(ctrl)
	g := auth.NewGateway(verifier, auth.WithQueryKeys())

	alice := auth.Principal{ID: "01JALICE", Name: "alice"}
	verifier.EXPECT().Verify(gomock.Any(), "good").Return(alice, nil)
	verifier.EXPECT().Verify(gomock.Any(), "bad").Return(auth.Principal{}, auth.ErrInvalidToken)

	h := g.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.PrincipalFrom(r.Context())
		require.True(t, ok)
		raw, ok := auth.RawTokenFrom(r.Context())
		require.True(t, ok)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": p.ID, "token": raw})
	}))

	do := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/info?authorization=ignored", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := do("")
	require.Equal(t, http.StatusForbidden, rec.Code, "query keys disabled: no token")
	require.Contains(t, rec.Body.String(), `"no_token"`)

	rec = do("bad")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), `"unauthorized"`)

	rec = do("Bearer good")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"id":"01JALICE","token":"good"}`, rec.Body.String())
}

func TestLocalVerifier(t *testing.T) {
	r := require.New(t)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	svc, err := token.NewService([]byte("0123456789abcdef0123456789abcdef"), token.WithClock(func() time.Time { return now }))
	r.NoError(err)

	tok, err := svc.Issue("01JALICE", "alice")
	r.NoError(err)

	v := auth.NewLocalVerifier(svc)
	p, err := v.Verify(context.Background(), tok.Raw)
	r.NoError(err)
	r.Equal(auth.Principal{ID: "01JALICE", Name: "alice", ExpiresAt: tok.ExpiresAt}, p)

	now = now.Add(2 * time.Hour)
	_, err = v.Verify(context.Background(), tok.Raw)
	r.ErrorIs(err, auth.ErrInvalidToken)
	r.ErrorIs(err, token.ErrExpired)
}
