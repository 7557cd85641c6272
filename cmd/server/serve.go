package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"optiquantia/internal/events"
	"optiquantia/internal/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API for the web client",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		notices, err := events.NewNoticeLog(a.bus, 50)
		if err != nil {
			return err
		}
		defer notices.Close()

		// the web client follows redirects from response bodies; log the rest
		nav, err := a.bus.OnNavigation(func(n events.Navigation) {
			a.log.Debug("navigation requested", zap.String("path", n.Path))
		})
		if err != nil {
			return err
		}
		defer nav.Unsubscribe()

		mux := handlers.NewRouter(handlers.Deps{
			Resolver:   a.resolver,
			UserData:   a.data,
			Notices:    notices,
			Log:        a.log,
			LoginRate:  a.cfg.Server.LoginRate,
			LoginBurst: a.cfg.Server.LoginBurst,
		})
		handler := cors.Handler(cors.Options{
			AllowedOrigins:   a.cfg.Server.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		})(mux)

		srv := &http.Server{
			Addr:              a.cfg.Server.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gCtx := errgroup.WithContext(ctx)
		g.Go(func() error {
			// requests arriving before resolution finishes see resolving=true
			if err := a.start(gCtx); err != nil {
				a.log.Error("session resolution failed", zap.Error(err))
			}
			return nil
		})
		g.Go(func() error {
			a.log.Info("listening", zap.String("addr", srv.Addr), zap.String("mode", string(a.resolver.Mode())))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			a.log.Info("shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		if err := g.Wait(); err != nil {
			a.log.Error("server stopped", zap.Error(err))
			return err
		}
		a.log.Info("server exited properly")
		return nil
	},
}
