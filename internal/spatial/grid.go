package spatial

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

const (
	// MaxAffectedCells caps the cardinality of an affected-cell set so a
	// pathological radius cannot expand into an unbounded update
	MaxAffectedCells = 50

	// metersPerDegreeLat is the length of one degree of latitude on the
	// sphere of radius EarthRadiusMeters
	metersPerDegreeLat = math.Pi * EarthRadiusMeters / 180.0
)

// GridKey derives the deterministic cell key for a GPS coordinate at the
// given decimal precision. It is pure and total: any finite lat/lon pair,
// poles and antimeridian included, produces a valid key.
func GridKey(lat, lon float64, precision int) string {
	if precision < 0 {
		precision = 0
	}
	return fmt.Sprintf("%s_%s", roundCoord(lat, precision), roundCoord(lon, precision))
}

// roundCoord formats a coordinate rounded to precision decimals,
// normalizing negative zero so the key is canonical
func roundCoord(v float64, precision int) string {
	scale := math.Pow(10, float64(precision))
	r := math.Round(v*scale) / scale
	if r == 0 {
		r = 0 // collapse -0.0000 into 0.0000
	}
	return strconv.FormatFloat(r, 'f', precision, 64)
}

// CellCenter parses a grid key back into the cell's center coordinate
func CellCenter(key string) (lat, lon float64, err error) {
	parts := strings.Split(key, "_")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("spatial: malformed cell key %q", key)
	}
	lat, err = strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("spatial: malformed cell key %q: %w", key, err)
	}
	lon, err = strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("spatial: malformed cell key %q: %w", key, err)
	}
	return lat, lon, nil
}

// CellSizeDegrees returns the edge length of a cell in degrees at the
// given decimal precision
func CellSizeDegrees(precision int) float64 {
	return math.Pow(10, -float64(precision))
}

// AffectedCells returns every grid cell whose center lies within
// radiusMeters great-circle distance of the point, nearest first. The
// center cell is always included, radius 0 returns exactly the center
// cell, and the result is capped at MaxAffectedCells.
func AffectedCells(lat, lon, radiusMeters float64, precision int) []string {
	centerKey := GridKey(lat, lon, precision)
	if radiusMeters <= 0 {
		return []string{centerKey}
	}

	step := CellSizeDegrees(precision)
	latSpan := int(math.Ceil(radiusMeters / metersPerDegreeLat / step))

	// Longitude degrees shrink toward the poles; clamp the cosine so the
	// scan stays bounded even at extreme latitudes
	cosLat := math.Cos(lat * math.Pi / 180)
	if cosLat < 0.01 {
		cosLat = 0.01
	}
	lonSpan := int(math.Ceil(radiusMeters / (metersPerDegreeLat * cosLat) / step))

	centerLat, centerLon, _ := CellCenter(centerKey)

	type candidate struct {
		key  string
		dist float64
	}
	seen := map[string]bool{centerKey: true}
	candidates := []candidate{{key: centerKey, dist: 0}}

	for dy := -latSpan; dy <= latSpan; dy++ {
		candLat := centerLat + float64(dy)*step
		if candLat > 90 || candLat < -90 {
			continue
		}
		for dx := -lonSpan; dx <= lonSpan; dx++ {
			candLon := centerLon + float64(dx)*step
			// wrap across the antimeridian
			if candLon > 180 {
				candLon -= 360
			} else if candLon < -180 {
				candLon += 360
			}
			key := GridKey(candLat, candLon, precision)
			if seen[key] {
				continue
			}
			d := HaversineDistance(lat, lon, candLat, candLon)
			if d > radiusMeters {
				continue
			}
			seen[key] = true
			candidates = append(candidates, candidate{key: key, dist: d})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].key < candidates[j].key
	})
	if len(candidates) > MaxAffectedCells {
		candidates = candidates[:MaxAffectedCells]
	}

	keys := make([]string, len(candidates))
	for i, c := range candidates {
		keys[i] = c.key
	}
	return keys
}
