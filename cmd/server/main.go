package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mudmap/mudmap-backend-go/internal/api"
	"github.com/mudmap/mudmap-backend-go/internal/config"
	"github.com/mudmap/mudmap-backend-go/internal/database"
	"github.com/mudmap/mudmap-backend-go/internal/handler"
	"github.com/mudmap/mudmap-backend-go/internal/render"
	"github.com/mudmap/mudmap-backend-go/internal/repository"
	"github.com/mudmap/mudmap-backend-go/internal/scoring"
	"github.com/mudmap/mudmap-backend-go/internal/service"
	"github.com/mudmap/mudmap-backend-go/internal/tilestore"
)

func main() {
	cfg := config.Load()

	db, err := database.Open(database.Config{Path: cfg.DBPath})
	if err != nil {
		log.Fatal("Failed to initialize database: ", err)
	}
	defer db.Close()

	blobs, err := tilestore.Open(cfg.TileStorePath)
	if err != nil {
		log.Fatal("Failed to open tile store: ", err)
	}
	defer blobs.Close()

	gridRepo := repository.NewGridRepository(db)
	tileRepo := repository.NewTileRepository(db)
	auditRepo := repository.NewAuditRepository(db, cfg.Region)

	scorer := scoring.NewScorer(auditRepo)
	reportService := service.NewReportService(service.ReportServiceConfig{
		Region:        cfg.Region,
		GridPrecision: cfg.GridPrecision,
		SplashRadius:  cfg.SplashRadius,
	}, scorer, gridRepo, auditRepo)

	painter := render.NewCellPainter(cfg.GridPrecision)
	tileService := service.NewTileService(cfg.Region, tileRepo, gridRepo, blobs, painter)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go tileGenLoop(ctx, tileService, cfg.TileGenInterval)
	go maintenanceLoop(ctx, tileService, gridRepo, auditRepo, cfg)

	router := api.SetupRouter(
		handler.NewReportHandler(reportService),
		handler.NewTileHandler(tileService),
	)

	srv := &http.Server{Addr: cfg.Port, Handler: router}
	go func() {
		log.Printf("Server starting on port %s (region=%s)", cfg.Port, cfg.Region)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server: ", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown: %v", err)
		os.Exit(1)
	}
}

// tileGenLoop is the asynchronous consumer of the changed set: it
// periodically regenerates stale tiles and publishes new versions
func tileGenLoop(ctx context.Context, tiles *service.TileService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := tiles.RegeneratePass(ctx); err != nil {
				log.Printf("Tile generation pass failed: %v", err)
			}
		}
	}
}

// maintenanceLoop enforces the retention windows: expired tile artifacts,
// lapsed changed-set entries and old audit rows
func maintenanceLoop(ctx context.Context, tiles *service.TileService, grid *repository.GridRepository, audit *repository.AuditRepository, cfg *config.Config) {
	ticker := time.NewTicker(cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := tiles.PurgeExpired(ctx); err != nil {
				log.Printf("Artifact purge failed: %v", err)
			} else if n > 0 {
				log.Printf("Purged %d expired tile artifacts", n)
			}
			if _, err := grid.PruneExpiredChanged(ctx); err != nil {
				log.Printf("Changed-set prune failed: %v", err)
			}
			cutoff := time.Now().Add(-cfg.AuditRetention)
			if _, err := audit.PurgeOlderThan(ctx, cutoff); err != nil {
				log.Printf("Audit purge failed: %v", err)
			}
		}
	}
}
