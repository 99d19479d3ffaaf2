package models

// GridCell carries the dual reputation accumulators for one spatial cell.
// A cell is created lazily by the first report that touches it; the
// conservative default for an unseen cell is "muddy" (no data means
// assume it needs attention).
type GridCell struct {
	// Cell identification
	Key string `json:"key" db:"cell_key"` // "%.4f_%.4f" of the rounded center

	// Cell center, kept denormalized so tiles can select their
	// constituent cells with a plain bounding-box query
	CenterLat float64 `json:"center_lat" db:"center_lat"`
	CenterLon float64 `json:"center_lon" db:"center_lon"`

	// Reputation accumulators; both non-negative and independent
	ScoreClear float64 `json:"score_clear" db:"score_clear"`
	ScoreMuddy float64 `json:"score_muddy" db:"score_muddy"`

	// Unix seconds of the last touch per accumulator; 0 = never touched
	LastUpdateClear int64 `json:"last_update_clear" db:"last_update_clear"`
	LastUpdateMuddy int64 `json:"last_update_muddy" db:"last_update_muddy"`

	// Derived: Clear iff ScoreClear > ScoreMuddy
	FinalState CellState `json:"final_state" db:"final_state"`
}

// DeriveFinalState recomputes the derived state from the two scores.
// Ties resolve to muddy, matching the lazy default.
func DeriveFinalState(scoreClear, scoreMuddy float64) CellState {
	if scoreClear > scoreMuddy {
		return StateClear
	}
	return StateMuddy
}

// DefaultGridCell returns the lazy default for a cell that has never
// received a report
func DefaultGridCell(key string, centerLat, centerLon float64) GridCell {
	return GridCell{
		Key:        key,
		CenterLat:  centerLat,
		CenterLon:  centerLon,
		FinalState: StateMuddy,
	}
}

// CellUpdate is a partial write against one cell. Only non-nil fields are
// persisted; a muddy report touches the muddy pair and the final state,
// never the clear pair, and vice versa. Field-level last-write-wins across
// concurrent batches is the accepted consistency model.
type CellUpdate struct {
	CenterLat float64
	CenterLon float64

	ScoreClear      *float64
	ScoreMuddy      *float64
	LastUpdateClear *int64
	LastUpdateMuddy *int64
	FinalState      *CellState
}

// CellQuery selects cells around a point for the debug/inspection API
type CellQuery struct {
	Lat          float64 `form:"lat"`
	Lon          float64 `form:"lon"`
	RadiusMeters float64 `form:"radius"`
}
