package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mudmap/mudmap-backend-go/internal/models"
)

func TestCountRecentNearby(t *testing.T) {
	repo := NewAuditRepository(openTestDB(t), "default")
	ctx := context.Background()

	base := time.Now().Unix()
	// two reports on the spot, one 100m away, one too old
	require.NoError(t, repo.InsertReport(ctx, models.Report{Lat: 46.0500, Lon: 14.5000, State: models.StateMuddy, Timestamp: base}))
	require.NoError(t, repo.InsertReport(ctx, models.Report{Lat: 46.0500, Lon: 14.5000, State: models.StateMuddy, Timestamp: base - 10}))
	require.NoError(t, repo.InsertReport(ctx, models.Report{Lat: 46.0509, Lon: 14.5000, State: models.StateMuddy, Timestamp: base}))
	require.NoError(t, repo.InsertReport(ctx, models.Report{Lat: 46.0500, Lon: 14.5000, State: models.StateMuddy, Timestamp: base - 3600}))

	count, err := repo.CountRecentNearby(ctx, 46.0500, 14.5000, 2, base-60)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestAuditPurgeOlderThan(t *testing.T) {
	repo := NewAuditRepository(openTestDB(t), "default")
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, repo.InsertReport(ctx, models.Report{Lat: 1, Lon: 1, State: models.StateClear, Timestamp: now.Unix()}))
	require.NoError(t, repo.InsertReport(ctx, models.Report{Lat: 1, Lon: 1, State: models.StateClear, Timestamp: now.Add(-48 * time.Hour).Unix()}))

	removed, err := repo.PurgeOlderThan(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	count, err := repo.CountRecentNearby(ctx, 1, 1, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
