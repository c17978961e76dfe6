package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"bookflow/internal/api"
	"bookflow/internal/auth"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			log.Info("starting", "config", cfg.String())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			mgr, err := openManager(ctx, cfg)
			if err != nil {
				return err
			}
			defer mgr.Close()

			h := api.NewHandler(mgr, api.Options{
				Auth: auth.Config{
					JWTSecret:      cfg.Auth.JWTSecret,
					Issuer:         cfg.Auth.Issuer,
					AccessTokenTTL: cfg.Auth.AccessTokenTTL,
				},
				Logger:      log.Component("api"),
				Metrics:     api.NewMetrics("bookflow"),
				CORSOrigins: cfg.Server.CORSOrigins,
			})

			srv := &http.Server{
				Addr:         cfg.Addr(),
				Handler:      h.Router(),
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info("listening", "addr", srv.Addr, "backend", cfg.Storage.Backend)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).Error("shutdown")
				return err
			}
			return nil
		},
	}
}
