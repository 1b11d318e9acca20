package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"mosquitoserver/internal/config"
	"mosquitoserver/internal/detect"
	"mosquitoserver/internal/logger"
	"mosquitoserver/internal/metrics"
	"mosquitoserver/internal/repository/sqlite"
	"mosquitoserver/internal/route"
	"mosquitoserver/internal/service"
	"mosquitoserver/internal/service/ai"
	"mosquitoserver/internal/service/inference"
	"mosquitoserver/internal/service/storage"
	"mosquitoserver/internal/service/transcode"
	"mosquitoserver/internal/service/websocket"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

type App struct {
	config    *config.Config
	logger    *logger.Logger
	db        *sqlite.DB
	loader    *ai.Loader
	artifacts *storage.ArtifactStore
	hub       *websocket.HubService
	metrics   *metrics.Metrics
	manager   *service.Manager
	server    *http.Server
}

func NewApp() (*App, error) {
	cfg := config.Load()
	lg := logger.NewLogger(cfg)

	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		lg.Close()
		return nil, fmt.Errorf("failed to open results database: %w", err)
	}

	loader := ai.NewLoader(cfg, lg)
	artifacts := storage.NewArtifactStore(cfg, lg)
	hub := websocket.NewHubService(lg)
	m := metrics.New()
	m.WatchViewers(hub.GetClientCount)
	results := sqlite.NewResultRepository(db)

	mng := service.NewManager(service.Deps{
		Images:     inference.NewImageService(loader, detect.NewBoxAnnotator(), lg),
		Videos:     inference.NewVideoService(loader, lg),
		Transcoder: transcode.New(lg),
		Artifacts:  artifacts,
		Results:    results,
		Detections: sqlite.NewDetectionRepository(db),
		Hub:        hub,
		Metrics:    m,
		Logger:     lg,
	}, cfg)

	router := route.SetupRoutes(route.Deps{
		Jobs:    mng,
		Results: results,
		Viewers: hub,
		Metrics: m,
	}, cfg, lg)

	return &App{
		config:    cfg,
		logger:    lg,
		db:        db,
		loader:    loader,
		artifacts: artifacts,
		hub:       hub,
		metrics:   m,
		manager:   mng,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Run serves HTTP until SIGINT or SIGTERM, then drains the workers and
// releases the model, database and log files.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.artifacts.Run(ctx, a.config.ArtifactSweepInterval)
		return nil
	})
	g.Go(func() error {
		a.hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		a.logger.Info("Mosquito detection server listening on %s", a.server.Addr)
		a.logger.Info("Model: %s, work dir: %s, workers: %d", a.config.ModelPath, a.config.WorkDirectory, a.config.ProcessingWorkers)
		if a.config.Password == "" {
			a.logger.Warning("PASSWORD is not set, the server is open to everyone")
		}
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	a.close()
	return err
}

func (a *App) close() {
	a.manager.Stop()
	if err := a.loader.Close(); err != nil {
		a.logger.Error("Error releasing model: %v", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("Error closing database: %v", err)
	}
	a.logger.Close()
}
