// Package simulated is the local stand-in identity provider used when no
// remote backend is configured.
package simulated

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"optiquantia/internal/auth"
	"optiquantia/internal/cache"
	"optiquantia/internal/events"
	"optiquantia/internal/localdb"
	"optiquantia/internal/models"
)

type Config struct {
	TokenKey    string
	TokenSecret string
	TokenTTL    time.Duration
	DemoEmail   string
	Argon       auth.ArgonParams
}

// Provider implements auth.IdentityProvider on top of localdb.
type Provider struct {
	db        *localdb.DB
	tokens    cache.Store
	tokenKey  string
	issuer    tokenIssuer
	demoEmail string
	argon     auth.ArgonParams
	bus       *events.Bus
	log       *zap.Logger
}

func New(db *localdb.DB, tokens cache.Store, bus *events.Bus, log *zap.Logger, cfg Config) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.TokenKey == "" {
		cfg.TokenKey = cache.DefaultTokenKey
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 7 * 24 * time.Hour
	}
	if cfg.Argon == (auth.ArgonParams{}) {
		cfg.Argon = auth.DefaultArgonParams()
	}
	return &Provider{
		db:        db,
		tokens:    tokens,
		tokenKey:  cfg.TokenKey,
		issuer:    tokenIssuer{secret: []byte(cfg.TokenSecret), ttl: cfg.TokenTTL, now: time.Now},
		demoEmail: models.NormalizeEmail(cfg.DemoEmail),
		argon:     cfg.Argon,
		bus:       bus,
		log:       log.With(zap.String("component", "simulated_provider")),
	}
}

func (p *Provider) Name() models.ProviderMode { return models.ModeSimulated }

func (p *Provider) CheckSession(ctx context.Context) (*models.SessionHandle, error) {
	raw, err := p.tokens.Get(ctx, p.tokenKey)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, auth.Transport(fmt.Errorf("read session token: %w", err))
	}
	sess, err := p.issuer.parse(string(raw))
	if err != nil {
		p.log.Info("discarding invalid session token", zap.Error(err))
		_ = p.tokens.Delete(ctx, p.tokenKey)
		return nil, nil
	}
	return &sess, nil
}

func (p *Provider) SignInWithCredentials(ctx context.Context, email, credential string) (*auth.AccountHandle, error) {
	email = models.NormalizeEmail(email)
	if p.demoEmail != "" && email == p.demoEmail {
		return p.signInDemo(ctx, email)
	}

	acct, err := p.db.AccountByEmail(ctx, email)
	if errors.Is(err, localdb.ErrNotFound) {
		return nil, auth.Reject("invalid credentials")
	}
	if err != nil {
		return nil, auth.Transport(err)
	}
	ok, err := auth.VerifyPassword(credential, acct.PasswordHash)
	if err != nil || !ok {
		return nil, auth.Reject("invalid credentials")
	}

	h := &auth.AccountHandle{AccountID: acct.ID, Email: acct.Email}
	profile, err := p.db.GetProfile(ctx, acct.ID)
	switch {
	case err == nil:
		h.Profile = &profile
	case !errors.Is(err, localdb.ErrNotFound):
		return nil, auth.Transport(err)
	}
	if err := p.startSession(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

// signInDemo accepts any credential and resets the demo profile.
func (p *Provider) signInDemo(ctx context.Context, email string) (*auth.AccountHandle, error) {
	id := models.DemoIdentity(email)
	if err := p.db.UpsertAccount(ctx, localdb.Account{ID: id.ID, Email: id.Email}); err != nil {
		return nil, auth.Transport(err)
	}
	profile := models.ProfileFromIdentity(id)
	if err := p.db.UpsertProfile(ctx, profile); err != nil {
		return nil, auth.Transport(err)
	}
	h := &auth.AccountHandle{AccountID: id.ID, Email: id.Email, Profile: &profile}
	if err := p.startSession(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

func (p *Provider) SignUp(ctx context.Context, email, credential string, meta auth.SignUpMetadata) (*auth.AccountHandle, error) {
	email = models.NormalizeEmail(email)
	if email == "" || credential == "" {
		return nil, auth.Reject("email and password are required")
	}
	hash, err := auth.HashPassword(credential, p.argon)
	if err != nil {
		return nil, auth.Transport(err)
	}
	acct := localdb.Account{ID: uuid.NewString(), Email: email, PasswordHash: hash}
	err = p.db.CreateAccount(ctx, acct)
	if errors.Is(err, localdb.ErrDuplicate) {
		return nil, auth.Reject("email already registered")
	}
	if err != nil {
		return nil, auth.Transport(err)
	}

	h := &auth.AccountHandle{AccountID: acct.ID, Email: email}
	if err := p.startSession(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

func (p *Provider) startSession(ctx context.Context, h *auth.AccountHandle) error {
	token, sess, err := p.issuer.issue(h.AccountID, h.Email)
	if err != nil {
		return auth.Transport(err)
	}
	if err := p.tokens.Set(ctx, p.tokenKey, []byte(token)); err != nil {
		return auth.Transport(fmt.Errorf("store session token: %w", err))
	}
	h.Session = &sess
	p.bus.PublishSession(events.SessionEvent{Type: events.SignedIn, Session: &sess})
	return nil
}

func (p *Provider) SignOut(ctx context.Context) error {
	err := p.tokens.Delete(ctx, p.tokenKey)
	p.bus.PublishSession(events.SessionEvent{Type: events.SignedOut})
	if err != nil {
		return auth.Transport(fmt.Errorf("remove session token: %w", err))
	}
	return nil
}

func (p *Provider) SubscribeToSessionChanges(fn func(events.SessionEvent)) (events.Subscription, error) {
	return p.bus.OnSession(fn)
}

func (p *Provider) FetchProfile(ctx context.Context, accountID string) (models.Profile, error) {
	profile, err := p.db.GetProfile(ctx, accountID)
	if errors.Is(err, localdb.ErrNotFound) {
		return models.Profile{}, fmt.Errorf("account %s: %w", accountID, auth.ErrNotFound)
	}
	if err != nil {
		return models.Profile{}, auth.Transport(err)
	}
	return profile, nil
}

func (p *Provider) InsertProfile(ctx context.Context, profile models.Profile) error {
	err := p.db.InsertProfile(ctx, profile)
	if errors.Is(err, localdb.ErrDuplicate) {
		return auth.Reject("profile already exists")
	}
	if err != nil {
		return auth.Transport(err)
	}
	return nil
}

func (p *Provider) UpdateProfile(ctx context.Context, accountID string, fields models.ProfileFields) error {
	err := p.db.UpdateProfile(ctx, accountID, fields)
	if errors.Is(err, localdb.ErrNotFound) {
		return fmt.Errorf("account %s: %w", accountID, auth.ErrNotFound)
	}
	if err != nil {
		return auth.Transport(err)
	}
	return nil
}
