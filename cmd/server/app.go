package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"optiquantia/internal/auth"
	"optiquantia/internal/auth/remote"
	"optiquantia/internal/auth/simulated"
	"optiquantia/internal/cache"
	"optiquantia/internal/config"
	"optiquantia/internal/events"
	"optiquantia/internal/localdb"
	"optiquantia/internal/logging"
	"optiquantia/internal/models"
	"optiquantia/internal/repo"
	"optiquantia/internal/userdata"
)

// app is the wiring shared by every command:
// config -> logger -> bus -> cache store -> provider -> resolver -> user data.
type app struct {
	cfg      config.Config
	log      *zap.Logger
	bus      *events.Bus
	store    cache.Store
	sessions *cache.SessionCache
	resolver *auth.Resolver
	data     *userdata.Service
	recorder *userdata.Recorder
	closers  []func() error
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &app{cfg: cfg, log: log, bus: events.New()}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg := a.cfg

	store, err := cache.New(cache.Config{
		Driver: cfg.Cache.Driver,
		Dir:    cfg.Cache.Dir,
		Redis: &cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Username: cfg.Cache.Redis.Username,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			Prefix:   cfg.Cache.Redis.Prefix,
		},
	})
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	a.sessions = cache.NewSessionCache(store, cfg.Cache.Key)

	mode := cfg.ProviderMode()
	a.log.Info("provider mode selected", zap.String("mode", string(mode)), zap.String("cache_driver", cfg.Cache.Driver))

	var (
		provider auth.IdentityProvider
		data     userdata.Store
	)
	switch mode {
	case models.ModeRemote:
		pool, err := repo.Connect(ctx, cfg.Remote.DatabaseURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		if err := repo.Migrate(ctx, pool); err != nil {
			return err
		}
		r := repo.New(pool, a.log)
		provider = remote.New(remote.Config{
			PublicURL: cfg.Remote.KratosPublicURL,
			Timeout:   cfg.Remote.Timeout,
			TokenKey:  cfg.Cache.TokenKey,
		}, r, store, a.bus, a.log)
		data = r
	default:
		db, err := localdb.Open(cfg.Simulated.DSN)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		provider = simulated.New(db, store, a.bus, a.log, simulated.Config{
			TokenKey:    cfg.Cache.TokenKey,
			TokenSecret: cfg.Simulated.TokenSecret,
			TokenTTL:    cfg.Simulated.TokenTTL,
			DemoEmail:   cfg.Demo.Email,
		})
		data = db
	}

	rec, err := userdata.StartRecorder(a.bus, data, a.log)
	if err != nil {
		return fmt.Errorf("start activity recorder: %w", err)
	}
	a.recorder = rec

	a.resolver = auth.NewResolver(provider, a.sessions, a.bus, a.log, cfg.Demo.Email)
	a.data = userdata.NewService(data, a.resolver, a.bus, a.log)
	return nil
}

// start resolves the session from cache and provider.
func (a *app) start(ctx context.Context) error {
	return a.resolver.Start(ctx)
}

// Close stops the resolver, flushes pending activity records and releases
// stores in reverse order.
func (a *app) Close() error {
	var errs []error
	if a.resolver != nil {
		errs = append(errs, a.resolver.Close())
	}
	a.bus.WaitAsync()
	if a.recorder != nil {
		errs = append(errs, a.recorder.Close())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	_ = a.log.Sync()
	return errors.Join(errs...)
}
