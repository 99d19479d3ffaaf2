package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mudmap/mudmap-backend-go/internal/models"
)

func TestGetArtifactMissing(t *testing.T) {
	repo := NewTileRepository(openTestDB(t))

	meta, err := repo.GetArtifact(context.Background(), "default", models.TileCoordinate{X: 1, Y: 2, Zoom: 16})
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestPublishArtifactRoundTrip(t *testing.T) {
	repo := NewTileRepository(openTestDB(t))
	ctx := context.Background()
	coord := models.TileCoordinate{X: 34303, Y: 22577, Zoom: 16}

	artifact := models.TileArtifact{
		Coord:         coord,
		Version:       "20260827T120000.000000000Z",
		LastUpdate:    time.Now().Unix(),
		GridChecksum:  "abc123",
		AffectedCells: []string{"46.0500_14.5000", "46.0501_14.5000"},
		SizeBytes:     512,
	}
	require.NoError(t, repo.PublishArtifact(ctx, "default", artifact))

	got, err := repo.GetArtifact(ctx, "default", coord)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, artifact.Version, got.Version)
	assert.Equal(t, artifact.GridChecksum, got.GridChecksum)
	assert.Equal(t, artifact.AffectedCells, got.AffectedCells)
	assert.Equal(t, artifact.SizeBytes, got.SizeBytes)

	version, err := repo.CurrentVersion(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, artifact.Version, version)
}

func TestRegionVersionNeverRegresses(t *testing.T) {
	repo := NewTileRepository(openTestDB(t))
	ctx := context.Background()
	coord := models.TileCoordinate{X: 1, Y: 1, Zoom: 16}

	newer := models.TileArtifact{Coord: coord, Version: "20260827T120000.000000000Z", GridChecksum: "x", AffectedCells: []string{}}
	older := models.TileArtifact{Coord: coord, Version: "20260827T110000.000000000Z", GridChecksum: "y", AffectedCells: []string{}}

	require.NoError(t, repo.PublishArtifact(ctx, "default", newer))
	require.NoError(t, repo.PublishArtifact(ctx, "default", older))

	version, err := repo.CurrentVersion(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, newer.Version, version)
}

func TestEvictAndPurge(t *testing.T) {
	repo := NewTileRepository(openTestDB(t))
	ctx := context.Background()

	fresh := models.TileArtifact{
		Coord: models.TileCoordinate{X: 1, Y: 1, Zoom: 16}, Version: "v2",
		LastUpdate: time.Now().Unix(), GridChecksum: "a", AffectedCells: []string{},
	}
	stale := models.TileArtifact{
		Coord: models.TileCoordinate{X: 2, Y: 2, Zoom: 16}, Version: "v1",
		LastUpdate: time.Now().Add(-8 * 24 * time.Hour).Unix(), GridChecksum: "b", AffectedCells: []string{},
	}
	require.NoError(t, repo.PublishArtifact(ctx, "default", fresh))
	require.NoError(t, repo.PublishArtifact(ctx, "default", stale))

	expired, err := repo.PurgeOlderThan(ctx, "default", time.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, stale.Coord, expired[0])

	require.NoError(t, repo.Evict(ctx, "default", fresh.Coord))
	meta, err := repo.GetArtifact(ctx, "default", fresh.Coord)
	require.NoError(t, err)
	assert.Nil(t, meta)
}
