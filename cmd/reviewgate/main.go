// reviewgate serves the asynchronous code-review job API used by the
// pull-request extension: submit a review, poll it until it finishes.
//
// Configuration comes from REVIEWGATE_* environment variables, optionally
// seeded from a .env file. TLS is on by default with a self-signed
// certificate kept in REVIEWGATE_CERT_DIR.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/reviewgate/reviewgate/internal/api"
	"github.com/reviewgate/reviewgate/internal/certs"
	"github.com/reviewgate/reviewgate/internal/clock"
	"github.com/reviewgate/reviewgate/internal/config"
	"github.com/reviewgate/reviewgate/internal/job"
	"github.com/reviewgate/reviewgate/internal/scheduler"
	"github.com/reviewgate/reviewgate/internal/webhook"
	"github.com/reviewgate/reviewgate/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("reviewgate", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var envFile string
	var plaintext bool

	flagSet := pflag.NewFlagSet("reviewgate", pflag.ContinueOnError)
	flagSet.StringVar(&envFile, "env-file", "", "load environment from this file (default: .env when present)")
	flagSet.BoolVar(&plaintext, "plaintext", false, "serve plain HTTP regardless of REVIEWGATE_USE_HTTPS")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if plaintext {
		cfg.UseHTTPS = false
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	clk := clock.Real()
	store, err := openStore(cfg, clk)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}

	var opts []scheduler.Option
	if cfg.CallbackURL != "" {
		var wopts []webhook.Option
		if cfg.CallbackAllowPrivate {
			wopts = append(wopts, webhook.AllowPrivate())
		}
		n, err := webhook.New(cfg.CallbackURL, logger, wopts...)
		if err != nil {
			return fmt.Errorf("webhook: %w", err)
		}
		opts = append(opts, scheduler.WithNotifier(n))
	}

	exec := worker.NewSimulated(clk, cfg.TotalDelay(), worker.Mode(cfg.Simulate))
	sched := scheduler.New(store, exec, logger, opts...)
	defer sched.Close()

	h := api.NewHandler(sched, store, cfg, logger)
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      h.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	var certFile, keyFile string
	if cfg.UseHTTPS {
		certFile, keyFile, err = certs.NewManager(cfg.CertDir, logger).Ensure()
		if err != nil {
			return fmt.Errorf("certificates: %w", err)
		}
		srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("reviewgate listening",
		"addr", cfg.Addr(),
		"scheme", cfg.Scheme(),
		"simulate", cfg.Simulate,
		"delay_ms", cfg.DelayMS,
		"store", cfg.Store,
	)
	return serve(ctx, srv, func() error {
		if cfg.UseHTTPS {
			return srv.ListenAndServeTLS(certFile, keyFile)
		}
		return srv.ListenAndServe()
	})
}

// serve runs listen until ctx is done, then shuts srv down and returns
// only after in-flight requests have drained, so deferred cleanup such as
// store.Close never races a handler.
func serve(ctx context.Context, srv *http.Server, listen func() error) error {
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
			srv.Close() //nolint:errcheck
		}
	}()

	if err := listen(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	<-shutdownDone
	return nil
}

func openStore(cfg *config.Config, clk clock.Clock) (job.Store, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		return job.NewSQLiteStore(cfg.DBPath, clk)
	default:
		return job.NewMemoryStore(clk), nil
	}
}
