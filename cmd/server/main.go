package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/pwbridge/internal/driver/netproxy"
	"github.com/GriffinCanCode/pwbridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/pwbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/pwbridge/internal/infrastructure/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "bridge host: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	flag.StringVar(&cfg.Server.Port, "port", cfg.Server.Port, "Server port")
	flag.StringVar(&cfg.Server.Host, "host", cfg.Server.Host, "Server host")
	flag.BoolVar(&cfg.Logging.Development, "dev", cfg.Logging.Development, "Development logging")
	flag.BoolVar(&cfg.Bridge.RouteContext, "route-context", cfg.Bridge.RouteContext, "Intercept at the browser context")
	flag.Parse()

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	browser, err := openPages(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.NewServer(cfg, browser, logger)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down gracefully...")
		return nil
	})

	err = g.Wait()
	if cerr := srv.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func openPages(cfg *config.Config, logger *logging.Logger) (*netproxy.Browser, error) {
	upstream := http.DefaultTransport.(*http.Transport).Clone()
	upstream.ResponseHeaderTimeout = cfg.Upstream.Timeout

	browser := netproxy.NewBrowser(netproxy.Options{
		Upstream: upstream,
		Logger:   logger.Component("driver"),
	})
	browserContext := browser.NewContext()
	for key, pageURL := range cfg.Bridge.Pages {
		if _, err := browserContext.NewPage(key, pageURL); err != nil {
			return nil, fmt.Errorf("failed to open page %s: %w", key, err)
		}
		logger.Info("Page opened", zap.String("page_key", key), zap.String("url", pageURL))
	}
	return browser, nil
}
