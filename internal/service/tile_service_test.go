package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mudmap/mudmap-backend-go/internal/database"
	"github.com/mudmap/mudmap-backend-go/internal/models"
	"github.com/mudmap/mudmap-backend-go/internal/repository"
	"github.com/mudmap/mudmap-backend-go/internal/spatial"
	"github.com/mudmap/mudmap-backend-go/internal/tilestore"
)

type stubRenderer struct {
	fail bool
}

func (r stubRenderer) Render(coord models.TileCoordinate, cells map[string]models.GridCell) ([]byte, error) {
	if r.fail {
		return nil, errors.New("render failed")
	}
	return []byte("tile:" + coord.String()), nil
}

func newTileEnv(t *testing.T, renderer Renderer) (*TileService, *repository.GridRepository) {
	t.Helper()
	dir := t.TempDir()
	db, err := database.Open(database.Config{Path: filepath.Join(dir, "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	blobs, err := tilestore.Open(filepath.Join(dir, "tiles"))
	require.NoError(t, err)
	t.Cleanup(func() { blobs.Close() })

	grid := repository.NewGridRepository(db)
	svc := NewTileService(testRegion, repository.NewTileRepository(db), grid, blobs, renderer)
	return svc, grid
}

func testCells(muddyTS int64) map[string]models.GridCell {
	return map[string]models.GridCell{
		"46.0500_14.5000": {
			Key: "46.0500_14.5000", CenterLat: 46.05, CenterLon: 14.50,
			ScoreMuddy: 3, LastUpdateMuddy: muddyTS, FinalState: models.StateMuddy,
		},
		"46.0501_14.5000": {
			Key: "46.0501_14.5000", CenterLat: 46.0501, CenterLon: 14.50,
			ScoreClear: 8, LastUpdateClear: muddyTS + 5, FinalState: models.StateClear,
		},
	}
}

func TestChecksumIgnoresMapOrder(t *testing.T) {
	a := testCells(1700000000)
	b := make(map[string]models.GridCell, len(a))
	for k, v := range a {
		b[k] = v
	}
	assert.Equal(t, Checksum(a), Checksum(b))
}

func TestChecksumReflectsCellChanges(t *testing.T) {
	base := Checksum(testCells(1700000000))

	bumped := testCells(1700000000)
	c := bumped["46.0500_14.5000"]
	c.LastUpdateMuddy++
	bumped["46.0500_14.5000"] = c
	assert.NotEqual(t, base, Checksum(bumped))

	flipped := testCells(1700000000)
	c = flipped["46.0500_14.5000"]
	c.FinalState = models.StateClear
	flipped["46.0500_14.5000"] = c
	assert.NotEqual(t, base, Checksum(flipped))
}

func TestIsStaleLifecycle(t *testing.T) {
	svc, _ := newTileEnv(t, stubRenderer{})
	ctx := context.Background()
	coord, err := spatial.ToTile(46.05, 14.50, 14)
	require.NoError(t, err)
	cells := testCells(1700000000)

	// nothing published yet
	stale, err := svc.IsStale(ctx, coord, cells)
	require.NoError(t, err)
	assert.True(t, stale)

	version, err := svc.NewVersion(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.Publish(ctx, coord, []byte("png"), cells, version))

	stale, err = svc.IsStale(ctx, coord, cells)
	require.NoError(t, err)
	assert.False(t, stale)

	// any cell-state change invalidates the checksum
	c := cells["46.0500_14.5000"]
	c.LastUpdateMuddy++
	cells["46.0500_14.5000"] = c
	stale, err = svc.IsStale(ctx, coord, cells)
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestGetArtifactRoundtrip(t *testing.T) {
	svc, _ := newTileEnv(t, stubRenderer{})
	ctx := context.Background()
	coord, err := spatial.ToTile(46.05, 14.50, 15)
	require.NoError(t, err)
	cells := testCells(1700000000)

	version, err := svc.NewVersion(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.Publish(ctx, coord, []byte("png-bytes"), cells, version))

	meta, data, err := svc.GetArtifact(ctx, coord)
	require.NoError(t, err)
	assert.Equal(t, version, meta.Version)
	assert.Equal(t, Checksum(cells), meta.GridChecksum)
	assert.Equal(t, []byte("png-bytes"), data)

	_, _, err = svc.GetArtifact(ctx, models.TileCoordinate{X: 1, Y: 1, Zoom: 14})
	assert.ErrorIs(t, err, ErrArtifactNotFound)

	_, _, err = svc.GetArtifact(ctx, models.TileCoordinate{X: 1, Y: 1, Zoom: 13})
	assert.ErrorIs(t, err, spatial.ErrInvalidZoom)
}

func TestNewVersionIsMonotonic(t *testing.T) {
	svc, _ := newTileEnv(t, stubRenderer{})
	ctx := context.Background()
	coord, err := spatial.ToTile(46.05, 14.50, 14)
	require.NoError(t, err)
	cells := testCells(1700000000)

	v1, err := svc.NewVersion(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.Publish(ctx, coord, []byte("a"), cells, v1))

	current, err := svc.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, v1, current)

	v2, err := svc.NewVersion(ctx)
	require.NoError(t, err)
	assert.Greater(t, v2, v1)
}

func TestRegeneratePass(t *testing.T) {
	svc, grid := newTileEnv(t, stubRenderer{})
	ctx := context.Background()
	coord, err := spatial.ToTile(46.05, 14.50, 14)
	require.NoError(t, err)

	const key = "46.0500_14.5000"
	muddy := 3.0
	muddyTS := int64(1700000000)
	state := models.StateMuddy
	require.NoError(t, grid.BatchSet(ctx, testRegion, map[string]models.CellUpdate{
		key: {
			CenterLat:       46.05,
			CenterLon:       14.50,
			ScoreMuddy:      &muddy,
			LastUpdateMuddy: &muddyTS,
			FinalState:      &state,
		},
	}))
	require.NoError(t, grid.MarkChanged(ctx, testRegion, []string{key}, []models.TileCoordinate{coord}))

	require.NoError(t, svc.RegeneratePass(ctx))

	meta, data, err := svc.GetArtifact(ctx, coord)
	require.NoError(t, err)
	assert.Equal(t, []byte("tile:"+coord.String()), data)
	assert.Contains(t, meta.AffectedCells, key)

	version, err := svc.CurrentVersion(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, version)

	// the changed set was cleared, so a second pass publishes nothing new
	require.NoError(t, svc.RegeneratePass(ctx))
	after, err := svc.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, version, after)
}

func TestRegeneratePassKeepsPreviousArtifactOnRenderFailure(t *testing.T) {
	svc, grid := newTileEnv(t, stubRenderer{})
	ctx := context.Background()
	coord, err := spatial.ToTile(46.05, 14.50, 14)
	require.NoError(t, err)

	const key = "46.0500_14.5000"
	muddy := 3.0
	muddyTS := int64(1700000000)
	state := models.StateMuddy
	update := map[string]models.CellUpdate{
		key: {
			CenterLat:       46.05,
			CenterLon:       14.50,
			ScoreMuddy:      &muddy,
			LastUpdateMuddy: &muddyTS,
			FinalState:      &state,
		},
	}
	require.NoError(t, grid.BatchSet(ctx, testRegion, update))
	require.NoError(t, grid.MarkChanged(ctx, testRegion, []string{key}, []models.TileCoordinate{coord}))
	require.NoError(t, svc.RegeneratePass(ctx))

	_, firstBytes, err := svc.GetArtifact(ctx, coord)
	require.NoError(t, err)

	// stale the tile again, then fail the repaint
	muddyTS++
	update[key] = models.CellUpdate{
		CenterLat:       46.05,
		CenterLon:       14.50,
		ScoreMuddy:      &muddy,
		LastUpdateMuddy: &muddyTS,
		FinalState:      &state,
	}
	require.NoError(t, grid.BatchSet(ctx, testRegion, update))
	require.NoError(t, grid.MarkChanged(ctx, testRegion, []string{key}, []models.TileCoordinate{coord}))

	failing := NewTileService(testRegion, svc.tiles, grid, svc.blobs, stubRenderer{fail: true})
	require.NoError(t, failing.RegeneratePass(ctx))

	_, data, err := svc.GetArtifact(ctx, coord)
	require.NoError(t, err)
	assert.Equal(t, firstBytes, data)
}
