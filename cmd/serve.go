package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospect-cli/internal/api"
	"github.com/sells-group/prospect-cli/internal/jobs"
	"github.com/sells-group/prospect-cli/internal/realtime"
	"github.com/sells-group/prospect-cli/internal/resilience"
	"github.com/sells-group/prospect-cli/internal/scorer"
	"github.com/sells-group/prospect-cli/internal/session"
)

var (
	servePort    int
	serveMigrate bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "run store migrations before serving")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg.Server.Port = resolvePort(servePort, cfg.Server.Port)
	if err := cfg.Validate("serve"); err != nil {
		return err
	}
	if err := scorer.ValidateConfig(cfg.Scoring); err != nil {
		return err
	}

	hub := realtime.NewHub(0)
	defer hub.Close()

	env, err := initRealtime(ctx, hub)
	if err != nil {
		return err
	}
	defer env.Close() //nolint:errcheck

	if serveMigrate {
		if err := env.Store.Migrate(ctx); err != nil {
			return eris.Wrap(err, "serve: migrate")
		}
	}

	sess, err := session.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer sess.Close() //nolint:errcheck

	deps := jobs.Deps{
		Launcher:  initLauncher(env.Store),
		Reader:    env.Store,
		Realtime:  hub,
		Persister: sess,
		Scorer:    scorer.New(cfg.Scoring),
		Readback:  resilience.FromReadback(cfg.Readback),
	}
	sessions := jobs.NewSessions(jobs.NewFactory(deps, sessionKeys(cfg.Session.KeyPrefix)))
	defer sessions.Close()

	handler := api.New(sessions, env.Store, cfg.Server).Handler()
	timeout := time.Duration(cfg.Server.ShutdownTimeoutSecs) * time.Second

	zap.L().Info("starting server",
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Driver),
		zap.String("session", cfg.Session.Backend),
		zap.Bool("remote_launcher", cfg.Enrichment.CreateURL != ""),
	)

	g, gctx := errgroup.WithContext(ctx)
	if env.Listener != nil {
		g.Go(func() error {
			return env.Listener.Run(gctx)
		})
	}
	g.Go(func() error {
		// Closing the sessions ends every event stream so Shutdown can finish.
		return startServer(gctx, handler, cfg.Server.Port, timeout, sessions.Close)
	})
	return g.Wait()
}

// resolvePort prefers the --port flag over the configured port.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// startServer serves handler on port until ctx ends, then shuts down
// gracefully. onShutdown hooks run as shutdown begins.
func startServer(ctx context.Context, handler http.Handler, port int, timeout time.Duration, onShutdown ...func()) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	for _, f := range onShutdown {
		srv.RegisterOnShutdown(f)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- eris.Wrap(err, "server listen")
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server shutdown")
	}
	return <-errCh
}
