package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optiquantia/internal/auth"
	"optiquantia/internal/cache"
	"optiquantia/internal/events"
	"optiquantia/internal/models"
	"optiquantia/internal/repo"
)

const demoEmail = "demo@optiquantia.com"

// ---------------- fake Kratos ----------------

type kratosAccount struct {
	id       string
	email    string
	name     string
	password string
}

type fakeKratos struct {
	mu       sync.Mutex
	accounts map[string]*kratosAccount // by email
	sessions map[string]*kratosAccount // by token
	logouts  int
}

func newFakeKratos() *fakeKratos {
	return &fakeKratos{accounts: map[string]*kratosAccount{}, sessions: map[string]*kratosAccount{}}
}

func (k *fakeKratos) seed(email, password string) string {
	k.mu.Lock()
	defer k.mu.Unlock()
	a := &kratosAccount{id: uuid.NewString(), email: email, password: password}
	k.accounts[email] = a
	return a.id
}

func (k *fakeKratos) activeSessions() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.sessions)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func flowJSON(id string, ui map[string]any) map[string]any {
	now := time.Now().UTC()
	if ui == nil {
		ui = map[string]any{}
	}
	ui["action"] = "http://kratos/self-service?flow=" + id
	ui["method"] = "POST"
	if _, ok := ui["nodes"]; !ok {
		ui["nodes"] = []any{}
	}
	return map[string]any{
		"id":          id,
		"type":        "api",
		"expires_at":  now.Add(time.Hour).Format(time.RFC3339),
		"issued_at":   now.Format(time.RFC3339),
		"request_url": "http://kratos/self-service/api",
		"state":       "choose_method",
		"ui":          ui,
	}
}

func identityJSON(a *kratosAccount) map[string]any {
	traits := map[string]any{"email": a.email}
	if a.name != "" {
		traits["name"] = a.name
	}
	return map[string]any{
		"id":         a.id,
		"schema_id":  "default",
		"schema_url": "http://kratos/schemas/default",
		"traits":     traits,
	}
}

func sessionJSON(a *kratosAccount) map[string]any {
	return map[string]any{
		"id":         "sess-" + a.id,
		"active":     true,
		"expires_at": time.Now().UTC().Add(time.Hour).Format(time.RFC3339),
		"identity":   identityJSON(a),
	}
}

func (k *fakeKratos) router() http.Handler {
	r := chi.NewRouter()

	r.Get("/self-service/login/api", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, flowJSON("login-flow", nil))
	})
	r.Post("/self-service/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Identifier string `json:"identifier"`
			Password   string `json:"password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		k.mu.Lock()
		defer k.mu.Unlock()
		a, ok := k.accounts[body.Identifier]
		if !ok || a.password != body.Password {
			writeJSON(w, http.StatusBadRequest, flowJSON("login-flow", map[string]any{
				"messages": []any{map[string]any{
					"id":   4000006,
					"text": "The provided credentials are invalid, check for spelling mistakes in your password or username.",
					"type": "error",
				}},
			}))
			return
		}
		token := uuid.NewString()
		k.sessions[token] = a
		writeJSON(w, http.StatusOK, map[string]any{"session": sessionJSON(a), "session_token": token})
	})

	r.Get("/self-service/registration/api", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, flowJSON("registration-flow", nil))
	})
	r.Post("/self-service/registration", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Traits   map[string]string `json:"traits"`
			Password string            `json:"password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		k.mu.Lock()
		defer k.mu.Unlock()
		email := body.Traits["email"]
		if _, exists := k.accounts[email]; exists {
			writeJSON(w, http.StatusBadRequest, flowJSON("registration-flow", map[string]any{
				"nodes": []any{map[string]any{
					"type":       "input",
					"group":      "password",
					"attributes": map[string]any{"node_type": "input", "name": "traits.email", "type": "email", "disabled": false},
					"meta":       map[string]any{},
					"messages": []any{map[string]any{
						"id":   4000007,
						"text": "An account with the same identifier (email, phone, username, ...) exists already.",
						"type": "error",
					}},
				}},
			}))
			return
		}
		a := &kratosAccount{id: uuid.NewString(), email: email, name: body.Traits["name"], password: body.Password}
		k.accounts[email] = a
		token := uuid.NewString()
		k.sessions[token] = a
		writeJSON(w, http.StatusOK, map[string]any{
			"identity":      identityJSON(a),
			"session":       sessionJSON(a),
			"session_token": token,
		})
	})

	r.Get("/sessions/whoami", func(w http.ResponseWriter, r *http.Request) {
		k.mu.Lock()
		defer k.mu.Unlock()
		a, ok := k.sessions[r.Header.Get("X-Session-Token")]
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]any{
				"code": 401, "status": "Unauthorized", "message": "No valid session credentials found in the request.",
			}})
			return
		}
		writeJSON(w, http.StatusOK, sessionJSON(a))
	})

	r.Delete("/self-service/logout/api", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			SessionToken string `json:"session_token"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		k.mu.Lock()
		defer k.mu.Unlock()
		k.logouts++
		if _, ok := k.sessions[body.SessionToken]; !ok {
			writeJSON(w, http.StatusForbidden, map[string]any{"error": map[string]any{"code": 403, "message": "not found"}})
			return
		}
		delete(k.sessions, body.SessionToken)
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

// ---------------- fake profile store ----------------

type memProfiles struct {
	mu   sync.Mutex
	rows map[string]models.Profile
}

func newMemProfiles() *memProfiles { return &memProfiles{rows: map[string]models.Profile{}} }

func (m *memProfiles) GetProfile(_ context.Context, id string) (models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return models.Profile{}, repo.ErrNotFound
	}
	return p, nil
}

func (m *memProfiles) InsertProfile(_ context.Context, p models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[p.ID]; ok {
		return repo.ErrDuplicate
	}
	m.rows[p.ID] = p
	return nil
}

func (m *memProfiles) UpdateProfile(_ context.Context, id string, f models.ProfileFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return repo.ErrNotFound
	}
	if f.DisplayName != nil {
		p.DisplayName = *f.DisplayName
	}
	if f.Organization != nil {
		p.Organization = *f.Organization
	}
	m.rows[id] = p
	return nil
}

// ---------------- harness ----------------

type env struct {
	kratos   *fakeKratos
	srv      *httptest.Server
	profiles *memProfiles
	tokens   cache.Store
	bus      *events.Bus
	provider *Provider
}

func newEnv(t *testing.T) *env {
	t.Helper()
	k := newFakeKratos()
	srv := httptest.NewServer(k.router())
	t.Cleanup(srv.Close)
	return newEnvAt(t, k, srv)
}

func newEnvAt(t *testing.T, k *fakeKratos, srv *httptest.Server) *env {
	t.Helper()
	e := &env{
		kratos:   k,
		srv:      srv,
		profiles: newMemProfiles(),
		tokens:   cache.NewMemory(),
		bus:      events.New(),
	}
	e.provider = New(Config{PublicURL: srv.URL, HTTPClient: srv.Client()}, e.profiles, e.tokens, e.bus, nil)
	return e
}

func (e *env) storedToken(t *testing.T) (string, bool) {
	t.Helper()
	raw, err := e.tokens.Get(context.Background(), cache.DefaultTokenKey)
	if errors.Is(err, cache.ErrNotFound) {
		return "", false
	}
	require.NoError(t, err)
	return string(raw), true
}

// ---------------- tests ----------------

func TestSignIn_StoresTokenAndPublishes(t *testing.T) {
	e := newEnv(t)
	id := e.kratos.seed("a@x.com", "secret")

	var got []events.SessionEvent
	_, err := e.bus.OnSession(func(ev events.SessionEvent) { got = append(got, ev) })
	require.NoError(t, err)

	h, err := e.provider.SignInWithCredentials(context.Background(), "a@x.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, id, h.AccountID)
	assert.Equal(t, "a@x.com", h.Email)
	require.NotNil(t, h.Session)

	_, ok := e.storedToken(t)
	assert.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, events.SignedIn, got[0].Type)
	assert.Equal(t, id, got[0].Session.AccountID)
}

func TestSignIn_InvalidCredentialsIsRejection(t *testing.T) {
	e := newEnv(t)
	e.kratos.seed("a@x.com", "secret")

	_, err := e.provider.SignInWithCredentials(context.Background(), "a@x.com", "wrong")
	require.Error(t, err)
	assert.Equal(t, auth.KindRejection, auth.KindOf(err))

	var ae *auth.Error
	require.ErrorAs(t, err, &ae)
	assert.Contains(t, ae.Message, "invalid")

	_, ok := e.storedToken(t)
	assert.False(t, ok)
}

func TestSignUp(t *testing.T) {
	e := newEnv(t)

	h, err := e.provider.SignUp(context.Background(), "new@x.com", "pw", auth.SignUpMetadata{DisplayName: "New"})
	require.NoError(t, err)
	assert.NotEmpty(t, h.AccountID)
	require.NotNil(t, h.Session)

	_, err = e.provider.SignUp(context.Background(), "new@x.com", "pw", auth.SignUpMetadata{})
	require.Error(t, err)
	assert.Equal(t, auth.KindRejection, auth.KindOf(err))
	assert.Contains(t, err.Error(), "exists already")
}

func TestCheckSession(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.kratos.seed("a@x.com", "secret")

	s, err := e.provider.CheckSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, s, "no token, no session")

	_, err = e.provider.SignInWithCredentials(ctx, "a@x.com", "secret")
	require.NoError(t, err)
	s, err = e.provider.CheckSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "a@x.com", s.Email)

	// a token Kratos no longer knows is removed
	require.NoError(t, e.tokens.Set(ctx, cache.DefaultTokenKey, []byte("revoked")))
	s, err = e.provider.CheckSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, s)
	_, ok := e.storedToken(t)
	assert.False(t, ok)
}

func TestTransportFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("unreachable", func(t *testing.T) {
		k := newFakeKratos()
		srv := httptest.NewServer(k.router())
		e := newEnvAt(t, k, srv)
		require.NoError(t, e.tokens.Set(ctx, cache.DefaultTokenKey, []byte("tok")))
		srv.Close()

		_, err := e.provider.SignInWithCredentials(ctx, "a@x.com", "pw")
		assert.Equal(t, auth.KindTransport, auth.KindOf(err))

		_, err = e.provider.CheckSession(ctx)
		assert.Equal(t, auth.KindTransport, auth.KindOf(err))
		_, ok := e.storedToken(t)
		assert.True(t, ok, "a transport failure must not drop the token")
	})

	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": map[string]any{"code": 500, "message": "boom"}})
		}))
		t.Cleanup(srv.Close)
		e := newEnvAt(t, newFakeKratos(), srv)

		_, err := e.provider.SignInWithCredentials(ctx, "a@x.com", "pw")
		assert.Equal(t, auth.KindTransport, auth.KindOf(err))
		_, err = e.provider.SignUp(ctx, "a@x.com", "pw", auth.SignUpMetadata{})
		assert.Equal(t, auth.KindTransport, auth.KindOf(err))
	})
}

func TestSignOut(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.kratos.seed("a@x.com", "secret")

	var types []events.SessionEventType
	_, err := e.bus.OnSession(func(ev events.SessionEvent) { types = append(types, ev.Type) })
	require.NoError(t, err)

	_, err = e.provider.SignInWithCredentials(ctx, "a@x.com", "secret")
	require.NoError(t, err)
	require.Equal(t, 1, e.kratos.activeSessions())

	require.NoError(t, e.provider.SignOut(ctx))
	assert.Equal(t, 0, e.kratos.activeSessions())
	_, ok := e.storedToken(t)
	assert.False(t, ok)
	assert.Equal(t, []events.SessionEventType{events.SignedIn, events.SignedOut}, types)

	// nothing stored: no request, still a sign-out notification
	require.NoError(t, e.provider.SignOut(ctx))
	assert.Equal(t, 1, e.kratos.logouts)
}

func TestSignOut_UnreachableStillDropsToken(t *testing.T) {
	ctx := context.Background()
	k := newFakeKratos()
	srv := httptest.NewServer(k.router())
	e := newEnvAt(t, k, srv)
	require.NoError(t, e.tokens.Set(ctx, cache.DefaultTokenKey, []byte("tok")))
	srv.Close()

	err := e.provider.SignOut(ctx)
	assert.Equal(t, auth.KindTransport, auth.KindOf(err))
	_, ok := e.storedToken(t)
	assert.False(t, ok)
}

func TestProfileErrors(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.provider.FetchProfile(ctx, "nobody")
	assert.ErrorIs(t, err, auth.ErrNotFound)

	name := "x"
	err = e.provider.UpdateProfile(ctx, "nobody", models.ProfileFields{DisplayName: &name})
	assert.ErrorIs(t, err, auth.ErrNotFound)

	require.NoError(t, e.provider.InsertProfile(ctx, models.Profile{ID: "u1", Email: "a@x.com"}))
	err = e.provider.InsertProfile(ctx, models.Profile{ID: "u1", Email: "a@x.com"})
	assert.Equal(t, auth.KindTransport, auth.KindOf(err))
}

func TestMessageFromBody(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"flow message", `{"ui":{"messages":[{"text":"info","type":"info"},{"text":"bad creds","type":"error"}]}}`, "bad creds"},
		{"node message", `{"ui":{"nodes":[{"messages":[{"text":"too short","type":"error"}]}]}}`, "too short"},
		{"error reason", `{"error":{"message":"generic","reason":"specific"}}`, "specific"},
		{"error message", `{"error":{"message":"generic"}}`, "generic"},
		{"not json", `<html>`, ""},
		{"empty", `{}`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, messageFromBody([]byte(tc.body)))
		})
	}
}

// ---------------- resolver over Kratos ----------------

func (e *env) resolver(t *testing.T) *auth.Resolver {
	t.Helper()
	r := auth.NewResolver(e.provider, cache.NewSessionCache(cache.NewMemory(), ""), e.bus, nil, demoEmail)
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestResolver_RegisterLoginLogout(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	r := e.resolver(t)

	res := r.Register(ctx, auth.RegisterInput{Email: "Bob@X.com", Credential: "pw", DisplayName: "Bob", Organization: "Acme"})
	require.True(t, res.OK, res.Message)
	assert.Equal(t, auth.KindNone, res.Kind)

	id, ok := r.Identity()
	require.True(t, ok)
	assert.Equal(t, "bob@x.com", id.Email)
	assert.Equal(t, "Acme", id.Organization)

	r.Logout(ctx)
	_, ok = r.Identity()
	assert.False(t, ok)

	res = r.Login(ctx, "bob@x.com", "pw")
	require.True(t, res.OK, res.Message)
	assert.Eventually(t, func() bool {
		id, ok := r.Identity()
		return ok && id.DisplayName == "Bob"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestResolver_DemoFallbackWhenKratosDown(t *testing.T) {
	ctx := context.Background()
	k := newFakeKratos()
	srv := httptest.NewServer(k.router())
	e := newEnvAt(t, k, srv)
	srv.Close()
	r := e.resolver(t)

	res := r.Login(ctx, demoEmail, "anything")
	require.True(t, res.OK)
	id, ok := r.Identity()
	require.True(t, ok)
	assert.Equal(t, models.DemoIdentity(demoEmail), id)

	res = r.Login(ctx, "a@x.com", "pw")
	assert.False(t, res.OK)
	assert.Equal(t, auth.KindTransport, res.Kind)
}
