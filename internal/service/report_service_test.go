package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mudmap/mudmap-backend-go/internal/database"
	"github.com/mudmap/mudmap-backend-go/internal/models"
	"github.com/mudmap/mudmap-backend-go/internal/repository"
	"github.com/mudmap/mudmap-backend-go/internal/scoring"
	"github.com/mudmap/mudmap-backend-go/internal/spatial"
)

const testRegion = "default"

func newReportEnv(t *testing.T) (*ReportService, *repository.GridRepository) {
	t.Helper()
	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	grid := repository.NewGridRepository(db)
	audit := repository.NewAuditRepository(db, testRegion)
	svc := NewReportService(
		ReportServiceConfig{Region: testRegion},
		scoring.NewScorer(audit),
		grid,
		audit,
	)
	return svc, grid
}

func TestIngestFreshMuddyReport(t *testing.T) {
	svc, grid := newReportEnv(t)
	ctx := context.Background()

	report := models.Report{Lat: 46.05, Lon: 14.50, State: models.StateMuddy, Timestamp: 1700000000}
	require.NoError(t, svc.Ingest(ctx, report))

	centerKey := spatial.GridKey(report.Lat, report.Lon, 4)
	keys := spatial.AffectedCells(report.Lat, report.Lon, 10, 4)
	cells, err := grid.BatchGet(ctx, testRegion, keys)
	require.NoError(t, err)

	// the report lands on its own cell center, so full weight applies
	center := cells[centerKey]
	assert.Equal(t, 1.0, center.ScoreMuddy)
	assert.Equal(t, 0.0, center.ScoreClear)
	assert.Equal(t, report.Timestamp, center.LastUpdateMuddy)
	assert.Equal(t, int64(0), center.LastUpdateClear)
	assert.Equal(t, models.StateMuddy, center.FinalState)

	// every splash cell takes a reduced, nonzero dose
	for _, key := range keys {
		if key == centerKey {
			continue
		}
		c := cells[key]
		assert.Greater(t, c.ScoreMuddy, 0.0, "splash cell %s", key)
		assert.Less(t, c.ScoreMuddy, scoring.SplashFactor, "splash cell %s", key)
	}
}

func TestIngestRepeatReportIsSuppressed(t *testing.T) {
	svc, grid := newReportEnv(t)
	ctx := context.Background()

	first := models.Report{Lat: 46.05, Lon: 14.50, State: models.StateMuddy, Timestamp: 1700000000}
	require.NoError(t, svc.Ingest(ctx, first))

	second := first
	second.Timestamp = first.Timestamp + 10
	require.NoError(t, svc.Ingest(ctx, second))

	centerKey := spatial.GridKey(first.Lat, first.Lon, 4)
	cells, err := grid.BatchGet(ctx, testRegion, []string{centerKey})
	require.NoError(t, err)

	// first report weighs 1.0, second is halved by the one prior report in
	// the window; ten seconds of decay is negligible at k=1e-6/s
	assert.InDelta(t, 1.5, cells[centerKey].ScoreMuddy, 1e-3)
}

func TestIngestClearFlipsMuddyCell(t *testing.T) {
	svc, grid := newReportEnv(t)
	ctx := context.Background()
	centerKey := spatial.GridKey(46.05, 14.50, 4)

	muddy := 10.0
	muddyTS := int64(1700000000)
	state := models.StateMuddy
	require.NoError(t, grid.BatchSet(ctx, testRegion, map[string]models.CellUpdate{
		centerKey: {
			CenterLat:       46.05,
			CenterLon:       14.50,
			ScoreMuddy:      &muddy,
			LastUpdateMuddy: &muddyTS,
			FinalState:      &state,
		},
	}))

	report := models.Report{Lat: 46.05, Lon: 14.50, State: models.StateClear, Timestamp: muddyTS + 60}
	require.NoError(t, svc.Ingest(ctx, report))

	cells, err := grid.BatchGet(ctx, testRegion, []string{centerKey})
	require.NoError(t, err)
	c := cells[centerKey]

	assert.InDelta(t, 5.0, c.ScoreClear, 1e-9)
	assert.InDelta(t, 1.0, c.ScoreMuddy, 1e-9)
	assert.Equal(t, report.Timestamp, c.LastUpdateClear)
	// the clear pathway must not claim the muddy timestamp
	assert.Equal(t, muddyTS, c.LastUpdateMuddy)
	assert.Equal(t, models.StateClear, c.FinalState)
}

func TestIngestMarksChangedSet(t *testing.T) {
	svc, grid := newReportEnv(t)
	ctx := context.Background()

	report := models.Report{Lat: 46.05, Lon: 14.50, State: models.StateMuddy, Timestamp: 1700000000}
	require.NoError(t, svc.Ingest(ctx, report))

	cellKeys, tiles, err := grid.DrainChanged(ctx, testRegion)
	require.NoError(t, err)
	assert.Contains(t, cellKeys, spatial.GridKey(report.Lat, report.Lon, 4))

	zooms := make(map[int]bool)
	for _, coord := range tiles {
		zooms[coord.Zoom] = true
	}
	for zoom := spatial.MinZoom; zoom <= spatial.MaxZoom; zoom++ {
		assert.True(t, zooms[zoom], "zoom %d missing from changed tiles", zoom)
	}
}

func TestCellsNearIncludesLazyDefaults(t *testing.T) {
	svc, _ := newReportEnv(t)
	ctx := context.Background()

	q := models.CellQuery{Lat: 46.05, Lon: 14.50, RadiusMeters: 20}
	cells, err := svc.CellsNear(ctx, q)
	require.NoError(t, err)

	keys := spatial.AffectedCells(q.Lat, q.Lon, q.RadiusMeters, 4)
	require.Len(t, cells, len(keys))
	for i, c := range cells {
		assert.Equal(t, keys[i], c.Key)
		assert.Equal(t, models.StateMuddy, c.FinalState)
	}
}
