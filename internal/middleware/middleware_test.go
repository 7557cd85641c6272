package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"optiquantia/internal/auth"
	"optiquantia/internal/models"
)

type fakeSource struct {
	id        *models.Identity
	resolving bool
}

func (f fakeSource) Identity() (models.Identity, bool) {
	if f.id == nil {
		return models.Identity{}, false
	}
	return *f.id, true
}

func (f fakeSource) Resolving() bool { return f.resolving }

func TestRequireIdentity(t *testing.T) {
	alice := models.NewLocalIdentity("a@x.com", "Alice", "")

	cases := []struct {
		name       string
		src        fakeSource
		wantStatus int
		wantBody   string
	}{
		{"resolving", fakeSource{resolving: true}, http.StatusServiceUnavailable, `{"error":"session is being resolved","resolving":true}`},
		{"anonymous", fakeSource{}, http.StatusUnauthorized, `{"error":"unauthorized","redirect":"/login"}`},
		{"signed in", fakeSource{id: &alice}, http.StatusOK, ""},
		{"signed in while refreshing", fakeSource{id: &alice, resolving: true}, http.StatusOK, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var seen models.Identity
			h := RequireIdentity(tc.src)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				id, ok := auth.IdentityFromContext(r.Context())
				require.True(t, ok)
				seen = id
			}))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports", nil))

			assert.Equal(t, tc.wantStatus, rec.Code)
			if tc.wantBody != "" {
				assert.JSONEq(t, tc.wantBody, rec.Body.String())
				return
			}
			assert.Equal(t, alice.ID, seen.ID)
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	standard := models.NewLocalIdentity("a@x.com", "Alice", "")
	admin := models.NewLocalIdentity("r@x.com", "Root", "")
	admin.Role = models.RoleAdministrator

	cases := []struct {
		name       string
		src        fakeSource
		wantStatus int
	}{
		{"anonymous", fakeSource{}, http.StatusUnauthorized},
		{"standard", fakeSource{id: &standard}, http.StatusForbidden},
		{"administrator", fakeSource{id: &admin}, http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := RequireIdentity(tc.src)(RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/users/u1/activity", nil))

			assert.Equal(t, tc.wantStatus, rec.Code)
			if tc.wantStatus == http.StatusForbidden {
				assert.JSONEq(t, `{"error":"forbidden","redirect":"/"}`, rec.Body.String())
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	var got string
	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", got)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, got, 36)
	assert.Equal(t, got, rec.Header().Get("X-Request-ID"))
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewRateLimiter(1, 2)
	l.now = func() time.Time { return now }
	h := l.Handler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/session/login", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, do("10.0.0.1:1000"))
	assert.Equal(t, http.StatusNoContent, do("10.0.0.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1:1002"))
	assert.Equal(t, http.StatusNoContent, do("10.0.0.2:1000"), "buckets are per IP")

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusNoContent, do("10.0.0.1:1003"))
}

func TestRateLimiter_SweepsIdleVisitors(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewRateLimiter(1, 1)
	l.now = func() time.Time { return now }
	size := func() int {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.visitors)
	}

	l.allow("10.0.0.1")
	l.allow("10.0.0.2")
	require.Equal(t, 2, size())

	// idle entries survive until a full interval has passed since the last sweep
	now = now.Add(l.idle / 2)
	l.allow("10.0.0.3")
	assert.Equal(t, 3, size())

	now = now.Add(l.idle/2 + time.Second)
	l.allow("10.0.0.3")
	assert.Equal(t, 1, size(), "only the recently seen visitor is kept")
}

func TestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := RequestID(Logger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/reports", nil))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "POST", fields["method"])
	assert.Equal(t, "/api/reports", fields["path"])
	assert.EqualValues(t, http.StatusCreated, fields["status"])
	assert.NotEmpty(t, fields["request_id"])
	assert.Equal(t, "http", fields["component"])
}
