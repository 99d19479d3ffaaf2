package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mudmap/mudmap-backend-go/internal/database"
	"github.com/mudmap/mudmap-backend-go/internal/models"
)

// TileRepository persists tile artifact metadata and the per-region
// version counter. Artifact bytes live in a separate blob store so they
// can be evicted independently of their metadata.
type TileRepository struct {
	db *sql.DB
}

// NewTileRepository creates a new tile repository
func NewTileRepository(db *sql.DB) *TileRepository {
	return &TileRepository{db: db}
}

// GetArtifact fetches a tile's metadata; (nil, nil) when no artifact has
// ever been published for the coordinate
func (r *TileRepository) GetArtifact(ctx context.Context, region string, coord models.TileCoordinate) (*models.TileArtifact, error) {
	query := `SELECT version, last_update, grid_checksum, affected_cells, size_bytes
		FROM tile_artifacts WHERE region = ? AND zoom = ? AND x = ? AND y = ?`

	var a models.TileArtifact
	var affectedJSON string
	err := r.db.QueryRowContext(ctx, query, region, coord.Zoom, coord.X, coord.Y).Scan(
		&a.Version, &a.LastUpdate, &a.GridChecksum, &affectedJSON, &a.SizeBytes,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tile artifact: %w", err)
	}
	if err := json.Unmarshal([]byte(affectedJSON), &a.AffectedCells); err != nil {
		return nil, fmt.Errorf("failed to decode affected cells: %w", err)
	}
	a.Coord = coord
	return &a, nil
}

// PublishArtifact stores the artifact metadata and advances the region
// version in one transaction, so readers see either the previous
// fully-consistent artifact or the new one, never a mix. The version only
// moves forward: a publish can never make the visible version regress.
func (r *TileRepository) PublishArtifact(ctx context.Context, region string, a models.TileArtifact) error {
	affectedJSON, err := json.Marshal(a.AffectedCells)
	if err != nil {
		return fmt.Errorf("failed to encode affected cells: %w", err)
	}
	return database.Transaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tile_artifacts (region, zoom, x, y, version, last_update, grid_checksum, affected_cells, size_bytes)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(region, zoom, x, y) DO UPDATE SET
				version = excluded.version,
				last_update = excluded.last_update,
				grid_checksum = excluded.grid_checksum,
				affected_cells = excluded.affected_cells,
				size_bytes = excluded.size_bytes`,
			region, a.Coord.Zoom, a.Coord.X, a.Coord.Y,
			a.Version, a.LastUpdate, a.GridChecksum, string(affectedJSON), a.SizeBytes,
		); err != nil {
			return fmt.Errorf("failed to upsert tile artifact: %w", err)
		}
		// MAX() on the timestamp-derived strings keeps the version monotonic
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO region_versions (region, version) VALUES (?, ?)
			 ON CONFLICT(region) DO UPDATE SET version = MAX(region_versions.version, excluded.version)`,
			region, a.Version,
		); err != nil {
			return fmt.Errorf("failed to advance region version: %w", err)
		}
		return nil
	})
}

// CurrentVersion returns the region's published version; empty string
// when nothing has been published yet
func (r *TileRepository) CurrentVersion(ctx context.Context, region string) (string, error) {
	var version string
	err := r.db.QueryRowContext(ctx,
		"SELECT version FROM region_versions WHERE region = ?", region).Scan(&version)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get region version: %w", err)
	}
	return version, nil
}

// Evict removes a tile's metadata (explicit invalidation, cleanup of
// corrupted entries). The caller evicts the bytes from the blob store.
func (r *TileRepository) Evict(ctx context.Context, region string, coord models.TileCoordinate) error {
	if _, err := r.db.ExecContext(ctx,
		"DELETE FROM tile_artifacts WHERE region = ? AND zoom = ? AND x = ? AND y = ?",
		region, coord.Zoom, coord.X, coord.Y,
	); err != nil {
		return fmt.Errorf("failed to evict tile artifact: %w", err)
	}
	return nil
}

// PurgeOlderThan removes metadata of artifacts untouched since the
// cutoff and returns their coordinates so the bytes can be evicted too
func (r *TileRepository) PurgeOlderThan(ctx context.Context, region string, cutoff time.Time) ([]models.TileCoordinate, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT zoom, x, y FROM tile_artifacts WHERE region = ? AND last_update < ?",
		region, cutoff.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query expired artifacts: %w", err)
	}
	defer rows.Close()

	var expired []models.TileCoordinate
	for rows.Next() {
		var t models.TileCoordinate
		if err := rows.Scan(&t.Zoom, &t.X, &t.Y); err != nil {
			return nil, fmt.Errorf("failed to scan expired artifact: %w", err)
		}
		expired = append(expired, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := r.db.ExecContext(ctx,
		"DELETE FROM tile_artifacts WHERE region = ? AND last_update < ?",
		region, cutoff.Unix(),
	); err != nil {
		return expired, fmt.Errorf("failed to purge expired artifacts: %w", err)
	}
	return expired, nil
}
