package repository

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/mudmap/mudmap-backend-go/internal/models"
	"github.com/mudmap/mudmap-backend-go/internal/spatial"
)

// AuditRepository is the raw report log. The scorer consumes it only
// through the recent-count query, and treats that query as best-effort.
type AuditRepository struct {
	db     *sql.DB
	region string
}

// NewAuditRepository creates a new audit repository scoped to a region
func NewAuditRepository(db *sql.DB, region string) *AuditRepository {
	return &AuditRepository{db: db, region: region}
}

// InsertReport appends a report to the audit log, assigning an ID when
// the caller did not
func (r *AuditRepository) InsertReport(ctx context.Context, report models.Report) error {
	id := report.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := r.db.ExecContext(ctx,
		"INSERT INTO report_audit (id, region, lat, lon, state, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		id, r.region, report.Lat, report.Lon, int(report.State), report.Timestamp,
	); err != nil {
		return fmt.Errorf("failed to insert audit report: %w", err)
	}
	return nil
}

// CountRecentNearby counts reports within radiusMeters of the point since
// the given timestamp. The SQL narrows by a time-indexed window and a
// coarse bounding box; the exact great-circle filter runs in process.
func (r *AuditRepository) CountRecentNearby(ctx context.Context, lat, lon, radiusMeters float64, since int64) (int, error) {
	// ~1e-5 degrees per meter of latitude, padded; longitude degrees
	// widen toward the poles
	latPad := radiusMeters*1.2e-5 + 1e-6
	cosLat := math.Cos(lat * math.Pi / 180)
	if cosLat < 0.01 {
		cosLat = 0.01
	}
	lonPad := latPad / cosLat

	rows, err := r.db.QueryContext(ctx,
		`SELECT lat, lon FROM report_audit
		 WHERE region = ? AND created_at >= ?
		   AND lat BETWEEN ? AND ? AND lon BETWEEN ? AND ?`,
		r.region, since, lat-latPad, lat+latPad, lon-lonPad, lon+lonPad)
	if err != nil {
		return 0, fmt.Errorf("failed to query recent reports: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var rLat, rLon float64
		if err := rows.Scan(&rLat, &rLon); err != nil {
			return 0, fmt.Errorf("failed to scan recent report: %w", err)
		}
		if spatial.HaversineDistance(lat, lon, rLat, rLon) <= radiusMeters {
			count++
		}
	}
	return count, rows.Err()
}

// PurgeOlderThan drops audit rows older than the cutoff
func (r *AuditRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM report_audit WHERE region = ? AND created_at < ?", r.region, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit reports: %w", err)
	}
	return res.RowsAffected()
}
