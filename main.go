// RSSHub's twitter backend serves account timelines merged from several
// upstream streams, cached so they survive upstream outages.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sethvargo/go-envconfig"
	_ "golang.org/x/crypto/x509roots/fallback"
	"golang.org/x/sync/errgroup"

	"github.com/xiaobinji/RSSHub/internal/app"
	"github.com/xiaobinji/RSSHub/internal/server"
	"github.com/xiaobinji/RSSHub/logger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Parse the config
	var cfg app.Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("error parsing config: %s", err)
	}
	handler, err := logger.New(cfg.LoggerFormat, level, os.Stderr)
	if err != nil {
		log.Fatalf("error parsing config: %s", err)
	}
	slog.SetDefault(slog.New(handler))

	// Start the application
	if err := run(ctx, cfg); err != nil {
		slog.Error("error running", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg app.Config) error {
	slog.Info("running", "port", cfg.Port, "page_size", cfg.TimelinePageSize, "max_pages", cfg.TimelineMaxPages)

	a, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("error building app: %s", err)
	}
	defer a.Close()

	s := server.NewServer(server.Config{
		Port:           cfg.Port,
		RequestTimeout: cfg.RequestTimeout,
	}, a.Timelines)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Start the server
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("error listening: %s", err)
		}

		return nil
	})
	g.Go(func() error {
		// Block from shutting down until the group is canceled
		<-gCtx.Done()

		downCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(downCtx); err != nil {
			slog.Error("error shutting down server", "error", err)
		}

		return nil
	})
	g.Go(func() error {
		return a.RunJanitor(gCtx, cfg.CachePurgeInterval)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("error running: %s", err)
	}

	return nil
}
