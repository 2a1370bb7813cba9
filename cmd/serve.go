package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-mirror/internal/api"
	"github.com/JakeFAU/catalog-mirror/internal/clock/system"
	"github.com/JakeFAU/catalog-mirror/internal/dispatcher"
	"github.com/JakeFAU/catalog-mirror/internal/id/uuid"
	queueMemory "github.com/JakeFAU/catalog-mirror/internal/queue/memory"
	"github.com/JakeFAU/catalog-mirror/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// newServeCmd creates the 'serve' subcommand: the HTTP API plus the worker
// pool that executes queued runs.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the mirror HTTP API",
		RunE:  runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx, stop := context.WithCancel(cmd.Context())
	defer stop()

	cfg := appInstance.Config
	logger := appInstance.Logger

	queue := queueMemory.NewQueue(cfg.Queue.Depth)
	workerCfg := worker.Config{
		OutputRoot: cfg.Crawler.OutputDir,
		Topic:      cfg.PubSub.Topic,
	}
	// A nil *archive.Uploader must not reach the interface as a typed nil.
	var archiver worker.Archiver
	if appInstance.Archiver != nil {
		archiver = appInstance.Archiver
	}
	workers := make([]*worker.Worker, 0, cfg.Queue.Workers)
	for i := 0; i < cfg.Queue.Workers; i++ {
		workers = append(workers, worker.New(
			queue,
			appInstance.Runs,
			appInstance.Mirror,
			archiver,
			appInstance.Publisher,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(queue, workers)

	apiServer := api.NewServer(
		appInstance.Runs,
		appInstance.Runs,
		dispatch,
		uuid.New(),
		system.New(),
		cfg,
		logger.Named("api"),
	)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		logger.Info("dispatcher started", zap.Int("workers", len(workers)))
		dispatch.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	<-dispatched
	logger.Info("shutdown complete")

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}
