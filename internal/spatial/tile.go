package spatial

import (
	"errors"
	"fmt"
	"math"

	"github.com/mudmap/mudmap-backend-go/internal/models"
)

const (
	// TileSize is the raster edge length in pixels
	TileSize = 256

	// MinZoom and MaxZoom bound the supported tile-matrix levels
	MinZoom = 14
	MaxZoom = 19

	// maxMercatorLat is the latitude limit of the Web-Mercator projection
	maxMercatorLat = 85.05112878
)

// ErrInvalidZoom is returned for zoom levels outside [MinZoom, MaxZoom]
var ErrInvalidZoom = errors.New("spatial: zoom level out of supported range")

// ValidateZoom rejects out-of-range zoom levels at the mapper boundary so
// callers never receive a silently-wrong tile
func ValidateZoom(zoom int) error {
	if zoom < MinZoom || zoom > MaxZoom {
		return fmt.Errorf("%w: %d (supported %d-%d)", ErrInvalidZoom, zoom, MinZoom, MaxZoom)
	}
	return nil
}

// ToTile applies the spherical Mercator forward projection and floors to
// integer tile indices. The returned tile's bounds geographically contain
// the input point (up to floating-point tolerance at shared edges).
func ToTile(lat, lon float64, zoom int) (models.TileCoordinate, error) {
	if err := ValidateZoom(zoom); err != nil {
		return models.TileCoordinate{}, err
	}
	n := float64(int64(1) << uint(zoom))

	px, py := project(lat, lon)
	x := int(math.Floor(px * n))
	y := int(math.Floor(py * n))

	// Points exactly on the east/south world edge floor into index n;
	// clamp back onto the matrix
	max := int(n) - 1
	if x < 0 {
		x = 0
	} else if x > max {
		x = max
	}
	if y < 0 {
		y = 0
	} else if y > max {
		y = max
	}
	return models.TileCoordinate{X: x, Y: y, Zoom: zoom}, nil
}

// project maps lat/lon onto the unit Web-Mercator square [0,1)x[0,1)
func project(lat, lon float64) (x, y float64) {
	if lat > maxMercatorLat {
		lat = maxMercatorLat
	} else if lat < -maxMercatorLat {
		lat = -maxMercatorLat
	}
	latRad := lat * math.Pi / 180
	x = (lon + 180) / 360
	y = (1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2
	return x, y
}

// unprojectLat inverts the Mercator y axis: yUnit in [0,1] → latitude
func unprojectLat(yUnit float64) float64 {
	return math.Atan(math.Sinh(math.Pi*(1-2*yUnit))) * 180 / math.Pi
}

// TileBounds returns the geographic bounding box of a tile
func TileBounds(t models.TileCoordinate) (minLat, minLon, maxLat, maxLon float64) {
	n := float64(int64(1) << uint(t.Zoom))
	minLon = float64(t.X)/n*360 - 180
	maxLon = float64(t.X+1)/n*360 - 180
	maxLat = unprojectLat(float64(t.Y) / n)
	minLat = unprojectLat(float64(t.Y+1) / n)
	return minLat, minLon, maxLat, maxLon
}

// TileCenter returns the geographic coordinate of the tile's center pixel
func TileCenter(t models.TileCoordinate) (lat, lon float64) {
	n := float64(int64(1) << uint(t.Zoom))
	lon = (float64(t.X)+0.5)/n*360 - 180
	lat = unprojectLat((float64(t.Y) + 0.5) / n)
	return lat, lon
}

// LatLonToPixel maps a coordinate into global pixel space at a zoom level
// (pixel scale = 2^zoom * TileSize)
func LatLonToPixel(lat, lon float64, zoom int) (px, py float64) {
	worldSize := float64(int64(1)<<uint(zoom)) * TileSize
	x, y := project(lat, lon)
	return x * worldSize, y * worldSize
}

// AffectedTiles returns the tiles a report touches at the given zoom: all
// tiles in the radius bounding box whose center point lies within
// radiusMeters of the source. Tiles whose corner but not center is in
// range are deliberately left out; downstream placement expectations were
// tuned against that behavior. The tile containing the point is always
// included, and radius 0 returns exactly that tile.
func AffectedTiles(lat, lon, radiusMeters float64, zoom int) ([]models.TileCoordinate, error) {
	center, err := ToTile(lat, lon, zoom)
	if err != nil {
		return nil, err
	}
	if radiusMeters <= 0 {
		return []models.TileCoordinate{center}, nil
	}

	n := int64(1) << uint(zoom)
	cosLat := math.Cos(lat * math.Pi / 180)
	if cosLat < 0.01 {
		cosLat = 0.01
	}
	metersPerTile := 2 * math.Pi * EarthRadiusMeters * cosLat / float64(n)
	span := int(math.Ceil(radiusMeters/metersPerTile)) + 1

	tiles := []models.TileCoordinate{center}
	for dy := -span; dy <= span; dy++ {
		y := center.Y + dy
		if y < 0 || y >= int(n) {
			continue
		}
		for dx := -span; dx <= span; dx++ {
			// wrap the x axis across the antimeridian
			x := int((int64(center.X+dx)%n + n) % n)
			cand := models.TileCoordinate{X: x, Y: y, Zoom: zoom}
			if cand == center {
				continue
			}
			cLat, cLon := TileCenter(cand)
			if HaversineDistance(lat, lon, cLat, cLon) <= radiusMeters {
				tiles = append(tiles, cand)
			}
		}
	}
	return tiles, nil
}
