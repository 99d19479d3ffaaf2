package service

import (
	"context"
	"fmt"
	"log"

	"github.com/mudmap/mudmap-backend-go/internal/models"
	"github.com/mudmap/mudmap-backend-go/internal/repository"
	"github.com/mudmap/mudmap-backend-go/internal/scoring"
	"github.com/mudmap/mudmap-backend-go/internal/spatial"
)

// ReportServiceConfig bundles the knobs of the ingestion pipeline
type ReportServiceConfig struct {
	Region        string
	GridPrecision int     // decimal digits of the cell key
	SplashRadius  float64 // meters; how far a report's influence splashes
}

// ReportService runs the ingestion pipeline: expand a report into its
// affected cells and tiles, weight it, apply the asymmetric update rule
// per cell, persist the batch and mark the changed set.
//
// Two concurrent reports over overlapping cells are not serialized
// against each other; each cell write is field-level last-write-wins.
// Splash weighting and spam suppression keep the aggregate outcome robust
// to that weak ordering.
type ReportService struct {
	cfg    ReportServiceConfig
	scorer *scoring.Scorer
	grid   *repository.GridRepository
	audit  *repository.AuditRepository
}

// NewReportService creates a new report service
func NewReportService(cfg ReportServiceConfig, scorer *scoring.Scorer, grid *repository.GridRepository, audit *repository.AuditRepository) *ReportService {
	if cfg.GridPrecision <= 0 {
		cfg.GridPrecision = 4
	}
	if cfg.SplashRadius <= 0 {
		cfg.SplashRadius = 10
	}
	return &ReportService{cfg: cfg, scorer: scorer, grid: grid, audit: audit}
}

// Ingest processes one validated report end to end. A timeout mid-flight
// can leave the splash cells not yet written; that is accepted
// eventual-consistency drift which a later report self-heals.
func (s *ReportService) Ingest(ctx context.Context, report models.Report) error {
	// Density is measured before this report lands in the audit log, so a
	// report never suppresses itself
	recentCount := s.scorer.RecentReportCount(ctx, report.Lat, report.Lon, report.Timestamp)

	// The audit log is a collaborator, not a gate: a failed append must
	// not reject the report
	if err := s.audit.InsertReport(ctx, report); err != nil {
		log.Printf("[ReportService] audit append failed: %v", err)
	}

	cellKeys := spatial.AffectedCells(report.Lat, report.Lon, s.cfg.SplashRadius, s.cfg.GridPrecision)
	centerKey := cellKeys[0]

	cells, err := s.grid.BatchGet(ctx, s.cfg.Region, cellKeys)
	if err != nil {
		return fmt.Errorf("failed to load affected cells: %w", err)
	}

	updates := make(map[string]models.CellUpdate, len(cellKeys))
	for _, key := range cellKeys {
		cell := cells[key]
		dist := spatial.HaversineDistance(report.Lat, report.Lon, cell.CenterLat, cell.CenterLon)
		weight := scoring.BaseWeight(dist, recentCount)
		// Full weight lands on the center cell only; every other cell in
		// range takes the reduced splash pass
		if key != centerKey {
			weight *= scoring.SplashFactor
		}
		updated := scoring.ApplyReport(cell, report.State, weight, report.Timestamp)
		updates[key] = cellUpdateFor(updated, report.State)
	}

	if err := s.grid.BatchSet(ctx, s.cfg.Region, updates); err != nil {
		return fmt.Errorf("failed to persist cell updates: %w", err)
	}

	tiles, err := s.affectedTilesAllZooms(report.Lat, report.Lon)
	if err != nil {
		return err
	}
	if err := s.grid.MarkChanged(ctx, s.cfg.Region, cellKeys, tiles); err != nil {
		return fmt.Errorf("failed to mark changed set: %w", err)
	}
	return nil
}

// CellsNear returns the current state of the cells around a point,
// missing ones included as lazy defaults
func (s *ReportService) CellsNear(ctx context.Context, q models.CellQuery) ([]models.GridCell, error) {
	keys := spatial.AffectedCells(q.Lat, q.Lon, q.RadiusMeters, s.cfg.GridPrecision)
	byKey, err := s.grid.BatchGet(ctx, s.cfg.Region, keys)
	if err != nil {
		return nil, err
	}
	cells := make([]models.GridCell, 0, len(keys))
	for _, key := range keys {
		cells = append(cells, byKey[key])
	}
	return cells, nil
}

// cellUpdateFor turns the scorer's output into the partial write the
// store expects: a muddy report never touches the clear pair and vice versa
func cellUpdateFor(after models.GridCell, state models.CellState) models.CellUpdate {
	u := models.CellUpdate{
		CenterLat:  after.CenterLat,
		CenterLon:  after.CenterLon,
		FinalState: &after.FinalState,
	}
	switch state {
	case models.StateMuddy:
		u.ScoreMuddy = &after.ScoreMuddy
		u.LastUpdateMuddy = &after.LastUpdateMuddy
	case models.StateClear:
		u.ScoreClear = &after.ScoreClear
		u.LastUpdateClear = &after.LastUpdateClear
		// the punitive contraction writes the muddy score too
		u.ScoreMuddy = &after.ScoreMuddy
	}
	return u
}

// affectedTilesAllZooms expands the report across every supported zoom
// level so each resolution's raster gets invalidated
func (s *ReportService) affectedTilesAllZooms(lat, lon float64) ([]models.TileCoordinate, error) {
	var tiles []models.TileCoordinate
	for zoom := spatial.MinZoom; zoom <= spatial.MaxZoom; zoom++ {
		zoomTiles, err := spatial.AffectedTiles(lat, lon, s.cfg.SplashRadius, zoom)
		if err != nil {
			return nil, err
		}
		tiles = append(tiles, zoomTiles...)
	}
	return tiles, nil
}
