// Package scoring turns untrusted crowd reports into weighted updates of a
// cell's dual reputation scores. Muddy evidence decays with time; clear
// evidence persists and punitively contracts the opposing score, so a
// cleaned-up spot is not flipped back by stale complaints.
package scoring

import (
	"context"
	"log"
	"math"

	"github.com/mudmap/mudmap-backend-go/internal/models"
)

const (
	// MaxGPSDistanceMeters is where report influence reaches exactly zero
	MaxGPSDistanceMeters = 50.0

	// ClearRewardMultiplier amplifies clear reports: clearing a spot is
	// effortful and should outweigh a single complaint
	ClearRewardMultiplier = 5.0

	// MudPenaltyFactor contracts the muddy score once per clear report,
	// independent of elapsed time
	MudPenaltyFactor = 0.1

	// SplashFactor scales the weight applied to non-center cells in a
	// report's area of effect
	SplashFactor = 0.3

	// MuddyDecayPerSecond is the exponential decay constant for the muddy
	// score: negligible over minutes, material over days
	MuddyDecayPerSecond = 1e-6

	// SpamQueryRadiusMeters and SpamWindowSeconds bound the recent-report
	// query that feeds spam suppression
	SpamQueryRadiusMeters = 2.0
	SpamWindowSeconds     = 60
)

// ProximityFactor maps a report's distance from the target cell center to
// [0,1]: 1 at distance 0, linearly decaying to exactly 0 at
// MaxGPSDistanceMeters and beyond.
func ProximityFactor(distanceMeters float64) float64 {
	if distanceMeters <= 0 {
		return 1.0
	}
	if distanceMeters >= MaxGPSDistanceMeters {
		return 0.0
	}
	return 1.0 - distanceMeters/MaxGPSDistanceMeters
}

// SpamSuppressionFactor damps bursts of nearby reports: 1/(1+count),
// always in (0,1] and strictly decreasing in count
func SpamSuppressionFactor(recentNearbyReportCount int) float64 {
	if recentNearbyReportCount < 0 {
		recentNearbyReportCount = 0
	}
	return 1.0 / (1.0 + float64(recentNearbyReportCount))
}

// BaseWeight combines spatial proximity and spam suppression into the
// weight a report carries against one target cell
func BaseWeight(distanceMeters float64, recentReportCount int) float64 {
	return ProximityFactor(distanceMeters) * SpamSuppressionFactor(recentReportCount)
}

// ApplyReport applies the asymmetric update rule to a cell and returns the
// updated copy. The sequence within the cell is strict: decay-then-add for
// muddy, add-and-contract for clear, and finalState recomputed last so it
// can never disagree with the scores.
func ApplyReport(cell models.GridCell, state models.CellState, weight float64, ts int64) models.GridCell {
	switch state {
	case models.StateMuddy:
		if cell.LastUpdateMuddy > 0 && ts > cell.LastUpdateMuddy {
			elapsed := float64(ts - cell.LastUpdateMuddy)
			cell.ScoreMuddy *= math.Exp(-MuddyDecayPerSecond * elapsed)
		}
		cell.ScoreMuddy += weight
		cell.LastUpdateMuddy = ts
	case models.StateClear:
		// No decay is ever applied to the clear score; the muddy score is
		// contracted once per clear report regardless of elapsed time
		cell.ScoreClear += weight * ClearRewardMultiplier
		cell.ScoreMuddy *= MudPenaltyFactor
		cell.LastUpdateClear = ts
	}
	cell.FinalState = models.DeriveFinalState(cell.ScoreClear, cell.ScoreMuddy)
	return cell
}

// AuditCounter is the narrow view of the audit log the scorer needs:
// how many reports landed near a point within a recent window.
type AuditCounter interface {
	CountRecentNearby(ctx context.Context, lat, lon, radiusMeters float64, since int64) (int, error)
}

// Scorer computes report weights. Its only I/O is the best-effort
// recent-report query; everything else is pure arithmetic.
type Scorer struct {
	audit AuditCounter
}

// NewScorer creates a scorer backed by the given audit counter
func NewScorer(audit AuditCounter) *Scorer {
	return &Scorer{audit: audit}
}

// RecentReportCount queries how many reports arrived near the given point
// in the spam window ending at ts. A failing audit store must never block
// ingestion, so errors fail open to zero.
func (s *Scorer) RecentReportCount(ctx context.Context, lat, lon float64, ts int64) int {
	if s.audit == nil {
		return 0
	}
	count, err := s.audit.CountRecentNearby(ctx, lat, lon, SpamQueryRadiusMeters, ts-SpamWindowSeconds)
	if err != nil {
		log.Printf("[Scorer] recent-report query failed, defaulting to 0: %v", err)
		return 0
	}
	return count
}
