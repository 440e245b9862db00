package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"opsbridge.org/internal/auth"
	"opsbridge.org/internal/httpapi"
	"opsbridge.org/internal/obs"
	"opsbridge.org/internal/schedule"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP proxy and the reminder schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		obs.InitMetrics()
		obs.InitBuildInfo(version, commit)

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		log := a.log

		var signer *auth.Signer
		if cfg.Server.AuthSecret != "" {
			if signer, err = auth.NewSigner(cfg.Server.AuthSecret); err != nil {
				return err
			}
		} else {
			log.Warnw("server.auth_secret is empty, inbound authentication disabled")
		}

		deps := httpapi.Deps{
			Data:           a.data,
			Reminders:      a.reminder,
			Ready:          httpapi.ReadyProbe{DB: a.db},
			Signer:         signer,
			Version:        version,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			RateBurst:      cfg.Server.RateBurst,
			RatePerSecond:  cfg.Server.RatePerSecond,
			MaxBodyBytes:   cfg.Server.MaxBodyBytes,
			Logger:         obs.Named("http"),
		}
		a.exposeProxies(&deps)
		api := httpapi.New(deps)

		var sched *schedule.Scheduler
		if cfg.Reminder.Enabled {
			sched, err = schedule.New(a.reminder, schedule.Options{
				Spec:     cfg.Reminder.Schedule,
				Location: cfg.Reminder.Location(),
				Logger:   obs.Named("schedule"),
				Timeout:  30 * time.Minute,
			})
			if err != nil {
				return err
			}
			sched.Start()
		}

		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           api.Handler(),
			ReadTimeout:       30 * time.Second,
			ReadHeaderTimeout: 15 * time.Second,
			// uploads wait up to 60s on the downstream
			WriteTimeout: 90 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Infow("opsbridge listening", "addr", srv.Addr, "version", version)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(stop)

		select {
		case <-stop:
			log.Infow("shutting down")
		case err := <-errCh:
			if err != nil {
				return err
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if sched != nil {
			if err := sched.Stop(ctx); err != nil {
				log.Warnw("reminder schedule did not stop cleanly", "error", err)
			}
		}
		if err := srv.Shutdown(ctx); err != nil {
			return err
		}
		log.Infow("stopped")
		return nil
	},
}
