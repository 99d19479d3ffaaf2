package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mudmap/mudmap-backend-go/internal/database"
	"github.com/mudmap/mudmap-backend-go/internal/models"
	"github.com/mudmap/mudmap-backend-go/internal/spatial"
)

// ChangedSetTTL bounds retention of the changed-set ledger so a stalled
// generation pass cannot let it grow forever. Marking refreshes the TTL,
// so a burst of activity never expires mid-burst.
const ChangedSetTTL = time.Hour

// GridRepository is the authoritative per-cell state store plus the
// changed-cells/changed-tiles ledger. It deliberately does NOT serialize
// concurrent read-modify-write cycles against each other: each batch is
// field-level last-write-wins, which is the accepted scalability
// trade-off for report ingestion.
type GridRepository struct {
	db *sql.DB
}

// NewGridRepository creates a new grid repository
func NewGridRepository(db *sql.DB) *GridRepository {
	return &GridRepository{db: db}
}

// BatchGet loads many cells at once. Missing cells come back as the lazy
// default (zero scores, final state muddy) rather than an error.
func (r *GridRepository) BatchGet(ctx context.Context, region string, cellKeys []string) (map[string]models.GridCell, error) {
	cells := make(map[string]models.GridCell, len(cellKeys))
	if len(cellKeys) == 0 {
		return cells, nil
	}

	placeholders := strings.Repeat("?,", len(cellKeys))
	placeholders = placeholders[:len(placeholders)-1]
	query := fmt.Sprintf(`SELECT cell_key, center_lat, center_lon,
		score_clear, score_muddy, last_update_clear, last_update_muddy, final_state
		FROM grid_cells WHERE region = ? AND cell_key IN (%s)`, placeholders)

	args := make([]interface{}, 0, len(cellKeys)+1)
	args = append(args, region)
	for _, k := range cellKeys {
		args = append(args, k)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query grid cells: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c models.GridCell
		var state int
		if err := rows.Scan(
			&c.Key, &c.CenterLat, &c.CenterLon,
			&c.ScoreClear, &c.ScoreMuddy, &c.LastUpdateClear, &c.LastUpdateMuddy, &state,
		); err != nil {
			return nil, fmt.Errorf("failed to scan grid cell: %w", err)
		}
		c.FinalState = models.CellState(state)
		cells[c.Key] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate grid cells: %w", err)
	}

	// Fill in lazy defaults for cells that have never received a report
	for _, key := range cellKeys {
		if _, ok := cells[key]; ok {
			continue
		}
		lat, lon, err := spatial.CellCenter(key)
		if err != nil {
			return nil, err
		}
		cells[key] = models.DefaultGridCell(key, lat, lon)
	}
	return cells, nil
}

// GetCellsInBounds returns every existing cell whose center falls inside
// the bounding box. Used by the tile manager to collect a tile's
// constituent cells; cells never written stay invisible, matching lazy
// creation.
func (r *GridRepository) GetCellsInBounds(ctx context.Context, region string, minLat, minLon, maxLat, maxLon float64) (map[string]models.GridCell, error) {
	query := `SELECT cell_key, center_lat, center_lon,
		score_clear, score_muddy, last_update_clear, last_update_muddy, final_state
		FROM grid_cells
		WHERE region = ? AND center_lat >= ? AND center_lat < ? AND center_lon >= ? AND center_lon < ?`

	rows, err := r.db.QueryContext(ctx, query, region, minLat, maxLat, minLon, maxLon)
	if err != nil {
		return nil, fmt.Errorf("failed to query cells in bounds: %w", err)
	}
	defer rows.Close()

	cells := make(map[string]models.GridCell)
	for rows.Next() {
		var c models.GridCell
		var state int
		if err := rows.Scan(
			&c.Key, &c.CenterLat, &c.CenterLon,
			&c.ScoreClear, &c.ScoreMuddy, &c.LastUpdateClear, &c.LastUpdateMuddy, &state,
		); err != nil {
			return nil, fmt.Errorf("failed to scan grid cell: %w", err)
		}
		c.FinalState = models.CellState(state)
		cells[c.Key] = c
	}
	return cells, rows.Err()
}

// BatchSet merges only the provided fields per cell, issued as one
// transaction so an area-of-effect update touching dozens of cells costs
// a single round trip to the store.
func (r *GridRepository) BatchSet(ctx context.Context, region string, updates map[string]models.CellUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return database.Transaction(r.db, func(tx *sql.Tx) error {
		for key, u := range updates {
			if err := upsertCell(ctx, tx, region, key, u); err != nil {
				return err
			}
		}
		return nil
	})
}

// upsertCell builds the column list from the fields the update actually
// carries, so an untouched accumulator is never overwritten
func upsertCell(ctx context.Context, tx *sql.Tx, region, key string, u models.CellUpdate) error {
	cols := []string{"region", "cell_key", "center_lat", "center_lon"}
	args := []interface{}{region, key, u.CenterLat, u.CenterLon}
	var sets []string

	add := func(col string, val interface{}) {
		cols = append(cols, col)
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", col, col))
	}
	if u.ScoreClear != nil {
		add("score_clear", *u.ScoreClear)
	}
	if u.ScoreMuddy != nil {
		add("score_muddy", *u.ScoreMuddy)
	}
	if u.LastUpdateClear != nil {
		add("last_update_clear", *u.LastUpdateClear)
	}
	if u.LastUpdateMuddy != nil {
		add("last_update_muddy", *u.LastUpdateMuddy)
	}
	if u.FinalState != nil {
		add("final_state", int(*u.FinalState))
	}
	if len(sets) == 0 {
		return nil
	}

	query := fmt.Sprintf(
		`INSERT INTO grid_cells (%s) VALUES (%s) ON CONFLICT(region, cell_key) DO UPDATE SET %s`,
		strings.Join(cols, ", "),
		strings.Repeat("?,", len(cols))[:len(cols)*2-1],
		strings.Join(sets, ", "),
	)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert cell %s: %w", key, err)
	}
	return nil
}

// MarkChanged idempotently adds cells and tiles to the region's changed
// set, refreshing the TTL on every mark
func (r *GridRepository) MarkChanged(ctx context.Context, region string, cellKeys []string, tiles []models.TileCoordinate) error {
	if len(cellKeys) == 0 && len(tiles) == 0 {
		return nil
	}
	expiresAt := time.Now().Add(ChangedSetTTL).Unix()
	return database.Transaction(r.db, func(tx *sql.Tx) error {
		for _, key := range cellKeys {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO changed_cells (region, cell_key, expires_at) VALUES (?, ?, ?)
				 ON CONFLICT(region, cell_key) DO UPDATE SET expires_at = excluded.expires_at`,
				region, key, expiresAt,
			); err != nil {
				return fmt.Errorf("failed to mark cell %s changed: %w", key, err)
			}
		}
		for _, t := range tiles {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO changed_tiles (region, zoom, x, y, expires_at) VALUES (?, ?, ?, ?, ?)
				 ON CONFLICT(region, zoom, x, y) DO UPDATE SET expires_at = excluded.expires_at`,
				region, t.Zoom, t.X, t.Y, expiresAt,
			); err != nil {
				return fmt.Errorf("failed to mark tile %s changed: %w", t, err)
			}
		}
		return nil
	})
}

// DrainChanged returns the live (non-expired) changed set for a region.
// It does not clear; the generation pass calls ClearChanged once it has
// consumed the set. A cell changing again mid-pass simply surfaces as one
// more stale detection later.
func (r *GridRepository) DrainChanged(ctx context.Context, region string) ([]string, []models.TileCoordinate, error) {
	now := time.Now().Unix()

	rows, err := r.db.QueryContext(ctx,
		"SELECT cell_key FROM changed_cells WHERE region = ? AND expires_at > ?", region, now)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query changed cells: %w", err)
	}
	defer rows.Close()

	var cellKeys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, nil, fmt.Errorf("failed to scan changed cell: %w", err)
		}
		cellKeys = append(cellKeys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	tileRows, err := r.db.QueryContext(ctx,
		"SELECT zoom, x, y FROM changed_tiles WHERE region = ? AND expires_at > ?", region, now)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query changed tiles: %w", err)
	}
	defer tileRows.Close()

	var tiles []models.TileCoordinate
	for tileRows.Next() {
		var t models.TileCoordinate
		if err := tileRows.Scan(&t.Zoom, &t.X, &t.Y); err != nil {
			return nil, nil, fmt.Errorf("failed to scan changed tile: %w", err)
		}
		tiles = append(tiles, t)
	}
	return cellKeys, tiles, tileRows.Err()
}

// ClearChanged removes exactly the drained entries from the region's
// changed set. Marks added after the drain stay put, so an ingest racing
// the generation pass is picked up by the next pass instead of being
// wiped unconsumed.
func (r *GridRepository) ClearChanged(ctx context.Context, region string, cellKeys []string, tiles []models.TileCoordinate) error {
	if len(cellKeys) == 0 && len(tiles) == 0 {
		return nil
	}
	return database.Transaction(r.db, func(tx *sql.Tx) error {
		for _, key := range cellKeys {
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM changed_cells WHERE region = ? AND cell_key = ?", region, key); err != nil {
				return fmt.Errorf("failed to clear changed cell %s: %w", key, err)
			}
		}
		for _, t := range tiles {
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM changed_tiles WHERE region = ? AND zoom = ? AND x = ? AND y = ?",
				region, t.Zoom, t.X, t.Y); err != nil {
				return fmt.Errorf("failed to clear changed tile %s: %w", t, err)
			}
		}
		return nil
	})
}

// PruneExpiredChanged drops entries whose TTL lapsed (generation stalled
// past the retention window)
func (r *GridRepository) PruneExpiredChanged(ctx context.Context) (int64, error) {
	now := time.Now().Unix()
	var removed int64
	res, err := r.db.ExecContext(ctx, "DELETE FROM changed_cells WHERE expires_at <= ?", now)
	if err != nil {
		return 0, fmt.Errorf("failed to prune changed cells: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		removed += n
	}
	res, err = r.db.ExecContext(ctx, "DELETE FROM changed_tiles WHERE expires_at <= ?", now)
	if err != nil {
		return removed, fmt.Errorf("failed to prune changed tiles: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		removed += n
	}
	return removed, nil
}
