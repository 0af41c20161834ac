package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/d-j7code/GOOGLY/internal/archive"
	"github.com/d-j7code/GOOGLY/internal/config"
	"github.com/d-j7code/GOOGLY/internal/httpapi"
	"github.com/d-j7code/GOOGLY/internal/hub"
	"github.com/d-j7code/GOOGLY/internal/lobby"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	sinks, closers, err := openSinks(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Warn("close archive sink", zap.Error(err))
			}
		}
	}()

	// A nil *Worker must not end up inside the interface.
	var archiver lobby.Archiver
	var worker *archive.Worker
	if len(sinks) > 0 {
		worker = archive.NewWorker(archive.DefaultConfig(), logger, sinks...)
		archiver = worker
	}

	h := hub.NewHub(context.Background(), hub.Config{
		Lobby:  cfg.LobbyConfig(logger.Named("lobby"), archiver),
		Logger: logger.Named("hub"),
	})

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpapi.SetupRoutes(h, httpapi.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			PingInterval:   cfg.PingInterval,
			Logger:         logger.Named("http"),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if worker != nil {
		g.Go(func() error { return worker.Run(workerCtx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Rooms stop before the archive so finished matches still get queued.
		err := srv.Shutdown(shutdownCtx)
		if herr := h.Shutdown(shutdownCtx); herr != nil {
			err = errors.Join(err, herr)
		}
		stopWorker()
		return err
	})

	return g.Wait()
}

func openSinks(cfg config.Config, logger *zap.Logger) ([]archive.Sink, []io.Closer, error) {
	var (
		sinks   []archive.Sink
		closers []io.Closer
	)

	if cfg.DatabaseURL != "" {
		pg, err := archive.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres archive: %w", err)
		}
		sinks = append(sinks, pg)
		closers = append(closers, pg)
		logger.Info("archiving matches to postgres")
	}

	if cfg.NATSURL != "" {
		nc, err := archive.ConnectNATS(cfg.NATSURL, cfg.NATSSubject, logger.Named("nats"))
		if err != nil {
			for _, c := range closers {
				_ = c.Close()
			}
			return nil, nil, fmt.Errorf("connect nats: %w", err)
		}
		sinks = append(sinks, nc)
		closers = append(closers, nc)
		logger.Info("publishing matches to nats", zap.String("subject", cfg.NATSSubject))
	}

	return sinks, closers, nil
}
