package models

import "fmt"

// TileCoordinate addresses one tile in the standard Web-Mercator tile
// matrix. It is always derived from a GPS coordinate and a zoom level,
// never stored independently of its derivation inputs.
type TileCoordinate struct {
	X    int `json:"x"`
	Y    int `json:"y"`
	Zoom int `json:"zoom"`
}

// String returns the canonical "zoom/x/y" form used in store keys
func (t TileCoordinate) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Zoom, t.X, t.Y)
}

// TileArtifact is the metadata of one rendered raster. The artifact is
// valid for serving iff GridChecksum still equals the checksum recomputed
// from current cell state; otherwise it is stale.
type TileArtifact struct {
	Coord TileCoordinate `json:"coord"`

	// Opaque, monotonically increasing; timestamp-derived so that
	// lexicographic order matches temporal order
	Version string `json:"version" db:"version"`

	LastUpdate    int64    `json:"last_update" db:"last_update"` // Unix seconds
	GridChecksum  string   `json:"grid_checksum" db:"grid_checksum"`
	AffectedCells []string `json:"affected_cells" db:"affected_cells"`
	SizeBytes     int64    `json:"size_bytes" db:"size_bytes"`
}
