// internal/auth/resolver.go
package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"optiquantia/internal/events"
	"optiquantia/internal/models"
)

var ErrAlreadyStarted = errors.New("resolver already started")

// opTimeout bounds an operation once it no longer follows its caller's context.
const opTimeout = 30 * time.Second

// detach keeps the values of ctx but not its cancellation. Operations run to
// completion even when the caller goes away.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), opTimeout)
}

// RegisterInput is the payload of Resolver.Register.
type RegisterInput struct {
	Email        string
	Credential   string
	DisplayName  string
	Organization string
}

// ProfileUpdate is a partial identity as submitted by a client. Only the
// display name and organization are ever applied.
type ProfileUpdate struct {
	DisplayName  *string      `json:"name,omitempty"`
	Organization *string      `json:"company,omitempty"`
	Email        *string      `json:"email,omitempty"`
	Role         *models.Role `json:"role,omitempty"`
	Tier         *models.Tier `json:"plan,omitempty"`
}

// Fields drops everything that is not client-writable.
func (u ProfileUpdate) Fields() models.ProfileFields {
	return models.ProfileFields{DisplayName: u.DisplayName, Organization: u.Organization}
}

func (u ProfileUpdate) hasServerFields() bool {
	return u.Email != nil || u.Role != nil || u.Tier != nil
}

// Resolver owns the current identity. Operations and provider notifications
// are applied one at a time; notifications queue up and are handled after
// startup resolution and after the operation in flight, in arrival order.
type Resolver struct {
	provider  IdentityProvider
	cache     IdentityCache
	bus       *events.Bus
	log       *zap.Logger
	demoEmail string

	opMu sync.Mutex

	mu        sync.RWMutex
	identity  *models.Identity
	resolving bool
	started   bool
	pumping   bool

	qmu     sync.Mutex
	queue   []queued
	wake    chan struct{}
	logouts atomic.Uint64

	ctx       context.Context
	cancel    context.CancelFunc
	sub       events.Subscription
	stopped   chan struct{}
	closeOnce sync.Once
}

func NewResolver(p IdentityProvider, c IdentityCache, bus *events.Bus, log *zap.Logger, demoEmail string) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Resolver{
		provider:  p,
		cache:     c,
		bus:       bus,
		log:       log.With(zap.String("component", "resolver"), zap.String("mode", string(p.Name()))),
		demoEmail: models.NormalizeEmail(demoEmail),
		resolving: true, // until Start has resolved the session
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		stopped:   make(chan struct{}),
	}
}

// ---------------- state ----------------

// Identity returns the current identity, if any.
func (r *Resolver) Identity() (models.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.identity == nil {
		return models.Identity{}, false
	}
	return *r.identity, true
}

func (r *Resolver) Resolving() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolving
}

func (r *Resolver) Mode() models.ProviderMode {
	return r.provider.Name()
}

func (r *Resolver) setResolving(v bool) {
	r.mu.Lock()
	r.resolving = v
	r.mu.Unlock()
}

// apply makes id current and persists it.
func (r *Resolver) apply(ctx context.Context, id models.Identity) {
	r.mu.Lock()
	r.identity = &id
	r.mu.Unlock()
	ctx, cancel := detach(ctx)
	defer cancel()
	if err := r.cache.Save(ctx, id); err != nil {
		r.log.Warn("persist identity", zap.String("user_id", id.ID), zap.Error(err))
	}
}

func (r *Resolver) clear(ctx context.Context) {
	r.mu.Lock()
	r.identity = nil
	r.mu.Unlock()
	ctx, cancel := detach(ctx)
	defer cancel()
	if err := r.cache.Clear(ctx); err != nil {
		r.log.Warn("clear cached identity", zap.Error(err))
	}
}

// run serializes fn with every other operation and brackets it with resolving.
func (r *Resolver) run(fn func() Result) Result {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	r.setResolving(true)
	defer func() {
		r.mu.Lock()
		r.resolving = !r.started
		r.mu.Unlock()
	}()
	return fn()
}

func (r *Resolver) succeed(msg string) Result {
	r.bus.PublishNotice(events.NoticeSuccess, msg)
	return Result{OK: true, Kind: KindNone, Message: msg}
}

func (r *Resolver) fail(kind ErrorKind, msg string) Result {
	r.bus.PublishNotice(events.NoticeError, msg)
	return Result{OK: false, Kind: kind, Message: msg}
}

func (r *Resolver) isDemo(email string) bool {
	return r.demoEmail != "" && models.NormalizeEmail(email) == r.demoEmail
}

// ---------------- startup ----------------

// Start paints the cached identity, checks the provider session, subscribes to
// session changes and starts applying them.
func (r *Resolver) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.started = true
	r.mu.Unlock()

	sub, err := r.provider.SubscribeToSessionChanges(r.enqueue)
	if err != nil {
		r.log.Warn("subscribe to session changes", zap.Error(err))
	} else {
		r.sub = sub
	}

	r.run(func() Result {
		cached, ok, err := r.cache.Load(ctx)
		if err != nil {
			r.log.Info("ignoring cached identity", zap.Error(err))
		}
		if ok {
			r.mu.Lock()
			r.identity = &cached
			r.mu.Unlock()
		}
		r.check(ctx)
		return Result{OK: true}
	})

	r.mu.Lock()
	r.pumping = true
	r.mu.Unlock()
	go r.pump()
	return nil
}

// Refresh re-runs the session check against the provider.
func (r *Resolver) Refresh(ctx context.Context) {
	r.run(func() Result {
		r.check(ctx)
		return Result{OK: true}
	})
}

// check reconciles the current identity with the provider session. The
// current identity is kept when the provider cannot be reached.
func (r *Resolver) check(ctx context.Context) {
	_, has := r.Identity()

	sess, err := r.provider.CheckSession(ctx)
	if err != nil {
		r.log.Warn("session check failed, keeping current identity", zap.Bool("has_identity", has), zap.Error(err))
		return
	}
	if sess == nil {
		if has {
			r.log.Info("no provider session, clearing identity")
			r.clear(ctx)
		}
		return
	}

	profile, err := r.provider.FetchProfile(ctx, sess.AccountID)
	if err != nil {
		if has {
			r.log.Warn("profile fetch failed, keeping current identity", zap.String("account_id", sess.AccountID), zap.Error(err))
			return
		}
		r.log.Warn("profile fetch failed", zap.String("account_id", sess.AccountID), zap.Error(err))
		r.clear(ctx)
		return
	}
	r.apply(ctx, models.IdentityFromProfile(profile, sess.Email))
}

// ---------------- notifications ----------------

// queued remembers how many logouts preceded the event, so a sign-in
// published before a logout cannot bring the identity back.
type queued struct {
	ev      events.SessionEvent
	logouts uint64
}

func (r *Resolver) enqueue(ev events.SessionEvent) {
	r.qmu.Lock()
	r.queue = append(r.queue, queued{ev: ev, logouts: r.logouts.Load()})
	r.qmu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Resolver) dequeue() (queued, bool) {
	r.qmu.Lock()
	defer r.qmu.Unlock()
	if len(r.queue) == 0 {
		return queued{}, false
	}
	q := r.queue[0]
	r.queue = r.queue[1:]
	return q, true
}

func (r *Resolver) pump() {
	defer close(r.stopped)
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.wake:
		}
		for {
			if r.ctx.Err() != nil {
				return
			}
			q, ok := r.dequeue()
			if !ok {
				break
			}
			if q.ev.Type == events.SignedIn && q.logouts != r.logouts.Load() {
				r.log.Debug("dropping sign-in published before logout")
				continue
			}
			r.handle(r.ctx, q.ev)
		}
	}
}

func (r *Resolver) handle(ctx context.Context, ev events.SessionEvent) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	switch ev.Type {
	case events.SignedOut:
		if _, ok := r.Identity(); !ok {
			return
		}
		// a later sign-in may already have replaced the session this event ended
		if sess, err := r.provider.CheckSession(ctx); err == nil && sess != nil {
			r.log.Debug("ignoring stale sign-out", zap.String("account_id", sess.AccountID))
			return
		}
		r.clear(ctx)
	case events.SignedIn:
		if ev.Session == nil {
			return
		}
		profile, err := r.provider.FetchProfile(ctx, ev.Session.AccountID)
		if err != nil {
			cur, ok := r.Identity()
			if ok && cur.ID == ev.Session.AccountID {
				r.log.Warn("profile fetch failed on sign-in, keeping current identity", zap.Error(err))
				return
			}
			r.log.Warn("profile fetch failed on sign-in", zap.String("account_id", ev.Session.AccountID), zap.Error(err))
			if ok {
				r.clear(ctx)
			}
			return
		}
		r.apply(ctx, models.IdentityFromProfile(profile, ev.Session.Email))
	default:
		r.log.Debug("ignoring session event", zap.String("type", string(ev.Type)))
	}
}

// ---------------- operations ----------------

// Login checks credentials with the provider. Identity arrives with the
// handle's profile when the provider knows it, otherwise through the
// sign-in notification.
func (r *Resolver) Login(ctx context.Context, email, credential string) Result {
	ctx, cancel := detach(ctx)
	defer cancel()
	return r.run(func() Result {
		email = models.NormalizeEmail(email)
		h, err := r.provider.SignInWithCredentials(ctx, email, credential)
		if err != nil {
			if KindOf(err) == KindRejection {
				msg := messageOf(err)
				if msg == "" {
					msg = "invalid credentials"
				}
				r.log.Info("sign-in rejected", zap.String("email", email), zap.String("reason", msg))
				return r.fail(KindRejection, msg)
			}
			if r.isDemo(email) {
				r.log.Warn("provider unreachable, using demo identity", zap.Error(err))
				id := models.DemoIdentity(email)
				r.apply(ctx, id)
				r.recordActivity(id.ID, models.ActionLogin, "demo")
				return r.succeed("signed in (demo mode)")
			}
			r.log.Error("sign-in failed", zap.String("email", email), zap.Error(err))
			return r.fail(KindTransport, "sign-in failed, please try again later")
		}

		if h.Profile != nil {
			r.apply(ctx, models.IdentityFromProfile(*h.Profile, h.Email))
		}
		r.recordActivity(h.AccountID, models.ActionLogin, "")
		return r.succeed("signed in")
	})
}

// Register creates an account and its profile record.
func (r *Resolver) Register(ctx context.Context, in RegisterInput) Result {
	ctx, cancel := detach(ctx)
	defer cancel()
	return r.run(func() Result {
		email := models.NormalizeEmail(in.Email)
		h, err := r.provider.SignUp(ctx, email, in.Credential, SignUpMetadata{
			DisplayName:  in.DisplayName,
			Organization: in.Organization,
		})
		if err != nil {
			if KindOf(err) == KindRejection {
				msg := messageOf(err)
				if msg == "" {
					msg = "registration refused"
				}
				r.log.Info("sign-up rejected", zap.String("email", email), zap.String("reason", msg))
				return r.fail(KindRejection, msg)
			}
			r.log.Warn("provider unreachable, using local identity", zap.String("email", email), zap.Error(err))
			r.apply(ctx, models.NewLocalIdentity(email, in.DisplayName, in.Organization))
			return r.succeed("account created (offline mode)")
		}

		if h.Email != "" {
			email = h.Email
		}
		profile := models.Profile{
			ID:           h.AccountID,
			Email:        email,
			DisplayName:  in.DisplayName,
			Organization: in.Organization,
			Role:         models.RoleStandard,
			Tier:         models.TierFree,
		}
		var warning string
		if h.Profile != nil {
			profile = *h.Profile
		} else if err := r.provider.InsertProfile(ctx, profile); err != nil {
			r.log.Warn("account created without profile record", zap.String("account_id", h.AccountID), zap.Error(err))
			warning = "account created but the profile could not be saved"
		}

		if h.Session == nil {
			if warning != "" {
				r.bus.PublishNotice(events.NoticeWarning, warning)
				return Result{OK: true, Kind: KindInconsistentState, Message: "account created, please sign in", Warning: warning}
			}
			return r.succeed("account created, please sign in")
		}

		r.apply(ctx, models.IdentityFromProfile(profile, email))
		if warning != "" {
			r.bus.PublishNotice(events.NoticeWarning, warning)
			return Result{OK: true, Kind: KindInconsistentState, Message: "account created", Warning: warning}
		}
		return r.succeed("account created")
	})
}

// Logout always ends with no identity and an empty cache, even when ctx is
// already cancelled.
func (r *Resolver) Logout(ctx context.Context) {
	ctx, cancel := detach(ctx)
	defer cancel()
	r.run(func() Result {
		if err := r.provider.SignOut(ctx); err != nil {
			r.log.Warn("provider sign-out failed", zap.Error(err))
		}
		r.logouts.Add(1)
		r.clear(ctx)
		r.bus.PublishNotice(events.NoticeInfo, "signed out")
		r.bus.PublishNavigation("/login")
		return Result{OK: true}
	})
}

// UpdateProfile merges the display name and organization into the current identity.
func (r *Resolver) UpdateProfile(ctx context.Context, u ProfileUpdate) Result {
	ctx, cancel := detach(ctx)
	defer cancel()
	return r.run(func() Result {
		cur, ok := r.Identity()
		if !ok {
			return r.fail(KindPrecondition, "not signed in")
		}
		if u.hasServerFields() {
			r.log.Debug("dropping non-writable profile fields", zap.String("user_id", cur.ID))
		}
		fields := u.Fields()
		if fields.Empty() {
			return Result{OK: true, Kind: KindNone, Message: "nothing to update"}
		}

		if err := r.provider.UpdateProfile(ctx, cur.ID, fields); err != nil {
			msg := messageOf(err)
			if msg == "" {
				msg = "profile update failed"
			}
			r.log.Warn("profile update failed", zap.String("user_id", cur.ID), zap.Error(err))
			return r.fail(KindOf(err), msg)
		}

		r.apply(ctx, cur.MergeFields(fields))
		r.recordActivity(cur.ID, models.ActionProfileUpdated, "")
		return r.succeed("profile updated")
	})
}

func (r *Resolver) recordActivity(userID string, action models.ActivityAction, details string) {
	if userID == "" {
		return
	}
	r.bus.PublishActivity(events.ActivityEvent{UserID: userID, Action: action, Details: details})
}

// Close unsubscribes from the provider and stops the notification pump.
func (r *Resolver) Close() error {
	var err error
	r.closeOnce.Do(func() {
		if r.sub != nil {
			err = r.sub.Unsubscribe()
		}
		r.cancel()
		r.mu.RLock()
		pumping := r.pumping
		r.mu.RUnlock()
		if pumping {
			<-r.stopped
		}
	})
	return err
}
