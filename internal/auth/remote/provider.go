// Package remote implements the identity provider on Ory Kratos (native
// API flows) with profile records kept in Postgres.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	kratos "github.com/ory/kratos-client-go"
	"go.uber.org/zap"

	"optiquantia/internal/auth"
	"optiquantia/internal/cache"
	"optiquantia/internal/events"
	"optiquantia/internal/models"
	"optiquantia/internal/repo"
)

// ProfileStore holds profile records keyed by Kratos identity ID.
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (models.Profile, error)
	InsertProfile(ctx context.Context, p models.Profile) error
	UpdateProfile(ctx context.Context, id string, f models.ProfileFields) error
}

type Config struct {
	PublicURL  string
	Timeout    time.Duration
	TokenKey   string
	HTTPClient *http.Client
}

type Provider struct {
	api      *kratos.APIClient
	profiles ProfileStore
	tokens   cache.Store
	tokenKey string
	bus      *events.Bus
	log      *zap.Logger
}

func New(cfg Config, profiles ProfileStore, tokens cache.Store, bus *events.Bus, log *zap.Logger) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.TokenKey == "" {
		cfg.TokenKey = cache.DefaultTokenKey
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	configuration := kratos.NewConfiguration()
	configuration.Servers = []kratos.ServerConfiguration{{URL: cfg.PublicURL}}
	configuration.HTTPClient = httpClient

	return &Provider{
		api:      kratos.NewAPIClient(configuration),
		profiles: profiles,
		tokens:   tokens,
		tokenKey: cfg.TokenKey,
		bus:      bus,
		log:      log.With(zap.String("component", "kratos_provider")),
	}
}

func (p *Provider) Name() models.ProviderMode { return models.ModeRemote }

// ---------------- sessions ----------------

func (p *Provider) storedToken(ctx context.Context) (string, bool, error) {
	raw, err := p.tokens.Get(ctx, p.tokenKey)
	if errors.Is(err, cache.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, auth.Transport(fmt.Errorf("read session token: %w", err))
	}
	return string(raw), len(raw) > 0, nil
}

func (p *Provider) CheckSession(ctx context.Context) (*models.SessionHandle, error) {
	token, ok, err := p.storedToken(ctx)
	if err != nil || !ok {
		return nil, err
	}

	s, resp, err := p.api.FrontendAPI.ToSession(ctx).XSessionToken(token).Execute()
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			p.log.Info("stored session token no longer valid", zap.Int("status", resp.StatusCode))
			_ = p.tokens.Delete(ctx, p.tokenKey)
			return nil, nil
		}
		return nil, classifyTransport("whoami", err, resp)
	}
	if s.Active != nil && !*s.Active {
		_ = p.tokens.Delete(ctx, p.tokenKey)
		return nil, nil
	}
	h := sessionHandle(s)
	return &h, nil
}

func (p *Provider) SignInWithCredentials(ctx context.Context, email, credential string) (*auth.AccountHandle, error) {
	flow, resp, err := p.api.FrontendAPI.CreateNativeLoginFlow(ctx).Execute()
	if err != nil {
		return nil, classify("create login flow", err, resp)
	}

	body := kratos.UpdateLoginFlowWithPasswordMethod{
		Identifier: email,
		Password:   credential,
		Method:     "password",
	}
	res, resp, err := p.api.FrontendAPI.UpdateLoginFlow(ctx).
		Flow(flow.Id).
		UpdateLoginFlowBody(kratos.UpdateLoginFlowWithPasswordMethodAsUpdateLoginFlowBody(&body)).
		Execute()
	if err != nil {
		return nil, classify("login", err, resp)
	}

	sess := res.GetSession()
	return p.startSession(ctx, &sess, res.GetSessionToken())
}

func (p *Provider) SignUp(ctx context.Context, email, credential string, meta auth.SignUpMetadata) (*auth.AccountHandle, error) {
	flow, resp, err := p.api.FrontendAPI.CreateNativeRegistrationFlow(ctx).Execute()
	if err != nil {
		return nil, classify("create registration flow", err, resp)
	}

	traits := map[string]interface{}{"email": email}
	if meta.DisplayName != "" {
		traits["name"] = meta.DisplayName
	}
	body := kratos.UpdateRegistrationFlowWithPasswordMethod{
		Traits:   traits,
		Password: credential,
		Method:   "password",
	}
	res, resp, err := p.api.FrontendAPI.UpdateRegistrationFlow(ctx).
		Flow(flow.Id).
		UpdateRegistrationFlowBody(kratos.UpdateRegistrationFlowWithPasswordMethodAsUpdateRegistrationFlowBody(&body)).
		Execute()
	if err != nil {
		return nil, classify("registration", err, resp)
	}

	if res.Session == nil {
		// verification required before a session is issued
		ident := res.GetIdentity()
		return &auth.AccountHandle{AccountID: ident.Id, Email: traitString(ident.Traits, "email", email)}, nil
	}
	return p.startSession(ctx, res.Session, res.GetSessionToken())
}

func (p *Provider) startSession(ctx context.Context, s *kratos.Session, token string) (*auth.AccountHandle, error) {
	h := sessionHandle(s)
	if h.AccountID == "" {
		return nil, auth.Transport(errors.New("kratos session without identity"))
	}
	if token != "" {
		if err := p.tokens.Set(ctx, p.tokenKey, []byte(token)); err != nil {
			return nil, auth.Transport(fmt.Errorf("store session token: %w", err))
		}
	}
	p.bus.PublishSession(events.SessionEvent{Type: events.SignedIn, Session: &h})
	return &auth.AccountHandle{AccountID: h.AccountID, Email: h.Email, Session: &h}, nil
}

// SignOut revokes the stored session. The local token is dropped even when
// Kratos cannot be reached.
func (p *Provider) SignOut(ctx context.Context) error {
	token, ok, err := p.storedToken(ctx)
	defer p.bus.PublishSession(events.SessionEvent{Type: events.SignedOut})
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := p.tokens.Delete(ctx, p.tokenKey); err != nil {
		p.log.Warn("remove session token", zap.Error(err))
	}

	resp, err := p.api.FrontendAPI.PerformNativeLogout(ctx).
		PerformNativeLogoutBody(*kratos.NewPerformNativeLogoutBody(token)).
		Execute()
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil
		}
		return classifyTransport("logout", err, resp)
	}
	return nil
}

func (p *Provider) SubscribeToSessionChanges(fn func(events.SessionEvent)) (events.Subscription, error) {
	return p.bus.OnSession(fn)
}

// ---------------- profiles ----------------

func (p *Provider) FetchProfile(ctx context.Context, accountID string) (models.Profile, error) {
	profile, err := p.profiles.GetProfile(ctx, accountID)
	if err != nil {
		return models.Profile{}, profileError(accountID, err)
	}
	return profile, nil
}

func (p *Provider) InsertProfile(ctx context.Context, profile models.Profile) error {
	if err := p.profiles.InsertProfile(ctx, profile); err != nil {
		return profileError(profile.ID, err)
	}
	return nil
}

func (p *Provider) UpdateProfile(ctx context.Context, accountID string, fields models.ProfileFields) error {
	if err := p.profiles.UpdateProfile(ctx, accountID, fields); err != nil {
		return profileError(accountID, err)
	}
	return nil
}

func profileError(accountID string, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("account %s: %w", accountID, auth.ErrNotFound)
	}
	return auth.Transport(err)
}

// ---------------- helpers ----------------

func classifyTransport(op string, err error, resp *http.Response) error {
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	return auth.Transport(fmt.Errorf("kratos %s (status %d): %w", op, status, err))
}

func sessionHandle(s *kratos.Session) models.SessionHandle {
	ident := s.GetIdentity()
	return models.SessionHandle{
		AccountID: ident.Id,
		Email:     models.NormalizeEmail(traitString(ident.Traits, "email", "")),
		ExpiresAt: s.GetExpiresAt(),
	}
}

func traitString(traits interface{}, key, fallback string) string {
	m, ok := traits.(map[string]interface{})
	if !ok {
		return fallback
	}
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
