package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/brogergvhs/archivist/internal/api"
	"github.com/brogergvhs/archivist/internal/config"
	"github.com/brogergvhs/archivist/internal/util"

	"github.com/spf13/cobra"
)

var flagListen string

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatcher and the HTTP submit API",
		RunE:  runServe,
	}

	serveCmd.Flags().StringVar(&flagListen, "listen", "", "address for the HTTP API (default from config)")
	serveCmd.Flags().StringVar(&flagDBPath, "db", "", "metadata store path")
	serveCmd.Flags().IntVar(&flagBatchCeiling, "batch-ceiling", 0, "max jobs running at once (1-3)")
	serveCmd.Flags().BoolVar(&flagKeepFolders, "keep-folders", false, "keep temporary folders")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logSvc, err := loadConfig(config.Options{
		DBPath:       flagDBPath,
		BatchCeiling: flagBatchCeiling,
		KeepFolders:  flagKeepFolders,
		Listen:       flagListen,
	})
	if err != nil {
		return err
	}

	ctx, stop := util.InterruptContext(cmd.Context())
	defer stop()

	a, err := newApp(cfg, logSvc, false)
	if err != nil {
		return err
	}
	defer a.Close()

	var health api.HealthChecker
	if a.store != nil {
		health = a.store
	}

	srv := &http.Server{
		Addr: cfg.Listen,
		Handler: api.NewServer(a.dispatcher, health, a.metrics.Handler(), logSvc, api.Options{
			IndexHost: cfg.IndexHost,
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		_ = a.dispatcher.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logSvc.Infof("listening on %s", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			stop()
			<-dispatched
			return err
		}
	}

	logSvc.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logSvc.Warnf("http shutdown: %v", err)
	}

	<-dispatched
	return nil
}
