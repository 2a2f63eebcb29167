package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/briandowns/spinner"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"converge/internal/config"
	"converge/internal/controller"
	"converge/internal/metrics"
	"converge/internal/sample/webpage"
	"converge/pkg/logging"
)

// Application bootstraps and runs converge: the manager with the WebPage
// controller and, when configured, the metrics endpoint.
//
// The Application follows a two-phase initialization pattern:
//  1. Bootstrap phase: configure logging, load configuration, pick the store
//     backend and register the controllers
//  2. Execution phase: run the manager until the context is cancelled
//
// Example usage:
//
//	app, err := app.NewApplication(ctx, app.NewConfig(logging.LevelInfo, logging.FormatText, ""))
//	if err != nil {
//	    return fmt.Errorf("failed to create application: %w", err)
//	}
//	return app.Run(ctx)
type Application struct {
	config   *Config
	mode     config.Mode
	manager  *controller.Manager
	registry *prometheus.Registry

	// progress is where the cache sync spinner is drawn
	progress io.Writer
}

// NewApplication creates and initializes a new application instance with the provided configuration.
func NewApplication(ctx context.Context, cfg *Config) (*Application, error) {
	var logOutput io.Writer = os.Stderr
	if cfg.Silent {
		logOutput = io.Discard
	}
	if err := logging.Init(cfg.LogFormat, cfg.LogLevel, logOutput); err != nil {
		return nil, err
	}

	convergeCfg, err := config.LoadConfig(cfg.ConfigPath)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to load configuration from %s", cfg.ConfigPath)
		return nil, fmt.Errorf("failed to load configuration from %s: %w", cfg.ConfigPath, err)
	}
	if !filepath.IsAbs(convergeCfg.FilesystemPath) {
		convergeCfg.FilesystemPath = filepath.Join(cfg.ConfigPath, convergeCfg.FilesystemPath)
	}
	cfg.Converge = &convergeCfg

	mode := convergeCfg.Mode
	if cfg.ModeOverride != "" {
		mode = cfg.ModeOverride
	}
	stores, mode, err := resolveStores(ctx, convergeCfg, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to set up %s stores: %w", mode, err)
	}
	logging.Info("Bootstrap", "Running in %s mode", mode)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	processorMetrics, err := metrics.New(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	manager := controller.NewManager(convergeCfg.ManagerConfig())
	if _, err := webpage.Setup(manager, webpage.Options{
		Stores:           stores,
		Config:           convergeCfg.Controller(webpage.ControllerName),
		GarbageCollected: mode == config.ModeKubernetes,
		Metrics:          processorMetrics,
	}); err != nil {
		return nil, fmt.Errorf("failed to set up %s controller: %w", webpage.ControllerName, err)
	}

	return &Application{
		config:   cfg,
		mode:     mode,
		manager:  manager,
		registry: registry,
		progress: os.Stdout,
	}, nil
}

// Mode returns the store backend in use.
func (a *Application) Mode() config.Mode {
	return a.mode
}

// Run starts the manager and the metrics endpoint and blocks until ctx is
// cancelled or a controller fails.
func (a *Application) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.manager.Run(gctx)
	})
	if addr := a.config.Converge.MetricsAddress; addr != "" {
		g.Go(func() error {
			return a.serveMetrics(gctx, addr)
		})
	}
	g.Go(func() error {
		a.waitForSync(gctx)
		return nil
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// waitForSync shows a spinner until every controller cache has synced. The
// spinner stays silent when the output is not a terminal.
func (a *Application) waitForSync(ctx context.Context) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(a.progress))
	s.Suffix = " Waiting for caches to sync..."
	if !a.config.Silent {
		s.Start()
	}
	defer s.Stop()

	if err := a.manager.WaitForSync(ctx); err != nil {
		return
	}
	s.FinalMSG = fmt.Sprintf("Controllers %v are running.\n", a.manager.Controllers())
}

func (a *Application) serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Bootstrap", "Serving metrics on %s/metrics", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server failed: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
