package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devflow/internal/httpapi"
	"github.com/fyrsmithlabs/devflow/internal/trigger"
)

const shutdownTimeout = 10 * time.Second

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Serve the tracker webhook ingress",
	Long: `Run the webhook server. Each qualifying event is acknowledged
immediately and its workflow runs as a detached background task.

Examples:
  devflow webhook
  devflow webhook --config devflow.yaml`,
	RunE: runWebhook,
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll the tracker for qualifying issues",
	Long: `Poll open issues on an interval, classify the latest event on
each, and launch one workflow per qualifying event. Already-handled events
are skipped across restarts via the seen file.

Examples:
  devflow poll
  devflow poll --config devflow.yaml`,
	RunE: runPoll,
}

func newSeenStore(e *env) trigger.SeenStore {
	path := e.cfg.Poller.SeenFile
	if path == "" {
		return trigger.NewMemorySeenStore()
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.cfg.Workspace.Root, path)
	}
	return trigger.NewFileSeenStore(path)
}

func runWebhook(cmd *cobra.Command, _ []string) error {
	e, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer e.logger.Sync()

	classifier := trigger.NewClassifier(e.gateway, e.cfg.GitHub.BotMarker, e.logger)
	srv, err := httpapi.NewServer(classifier, newSeenStore(e), newLauncher(e), e.logger, &httpapi.Config{
		Host: e.cfg.Server.Host,
		Port: e.cfg.Server.Port,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		e.logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

func runPoll(cmd *cobra.Command, _ []string) error {
	e, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer e.logger.Sync()

	classifier := trigger.NewClassifier(e.gateway, e.cfg.GitHub.BotMarker, e.logger)
	poller := trigger.NewPoller(
		e.tracker,
		classifier,
		newSeenStore(e),
		newLauncher(e),
		e.cfg.Poller.Interval.Std(),
		e.logger,
	)
	if err := poller.Start(cmd.Context()); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	e.logger.Info("shutting down", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return poller.Stop(ctx)
}
