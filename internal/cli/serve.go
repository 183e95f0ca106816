package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/lumimind/internal/server"
	"github.com/hyperjump/lumimind/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Starts the HTTP API. With knowledge.watch enabled, corpus directories are watched and
changed files re-ingested; with crisis.watch_keywords enabled, the keyword file is reloaded on change.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := open(ctx)
	if err != nil {
		return err
	}
	defer s.close()
	logger := s.logger

	w := watcher.New(s.c.IngestFile, s.c.RemoveFile,
		watcher.WithExtensions(s.cfg.Knowledge.Extensions), watcher.WithLogger(logger))
	if s.cfg.Knowledge.Watch {
		for domain, cc := range s.cfg.Knowledge.Collections {
			if cc.Path == "" {
				continue
			}
			if err := w.AddCorpus(domain, cc.Path); err != nil {
				return err
			}
		}
	}
	if s.cfg.Crisis.WatchKeywords && s.cfg.Crisis.KeywordsPath != "" {
		if err := w.WatchFile(s.cfg.Crisis.KeywordsPath, s.c.ReloadKeywords); err != nil {
			return err
		}
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()
	synced := make(chan struct{})
	go func() {
		defer close(synced)
		w.Sync()
	}()
	defer func() {
		stop()
		<-synced
	}()

	srv := server.NewServer(s.c, &s.cfg.Server, logger, server.WithWatcher(w), server.WithVersion(version))
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	return nil
}
