package models

// CellState is the derived ground-truth state of a grid cell.
// It is never authoritative on its own: it is always recomputed from the
// pair of reputation scores after every update.
type CellState int

const (
	StateMuddy CellState = 0
	StateClear CellState = 1
)

// String returns the lowercase name used in keys, checksums and JSON
func (s CellState) String() string {
	if s == StateClear {
		return "clear"
	}
	return "muddy"
}

// ParseCellState converts the wire value (0=muddy, 1=clear) to a CellState
func ParseCellState(v int) (CellState, bool) {
	switch v {
	case 0:
		return StateMuddy, true
	case 1:
		return StateClear, true
	}
	return StateMuddy, false
}

// Report is a single crowd report as it arrives from the transport layer,
// already range-validated (lat/lon in bounds, state in {0,1})
type Report struct {
	ID        string    `json:"id,omitempty" db:"id"`
	Lat       float64   `json:"lat" db:"lat"`
	Lon       float64   `json:"lon" db:"lon"`
	State     CellState `json:"state" db:"state"`
	Timestamp int64     `json:"timestamp" db:"created_at"` // Unix seconds
}
