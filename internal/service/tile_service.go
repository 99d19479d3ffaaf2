package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/mudmap/mudmap-backend-go/internal/models"
	"github.com/mudmap/mudmap-backend-go/internal/repository"
	"github.com/mudmap/mudmap-backend-go/internal/spatial"
	"github.com/mudmap/mudmap-backend-go/internal/tilestore"
)

// ArtifactRetention is how long an untouched rendered tile survives
// before it expires physically
const ArtifactRetention = 7 * 24 * time.Hour

// versionLayout renders to a fixed-width UTC timestamp whose lexicographic
// order equals temporal order
const versionLayout = "20060102T150405.000000000Z"

// ErrArtifactNotFound is returned when no artifact bytes exist for a tile
var ErrArtifactNotFound = errors.New("service: tile artifact not found")

// Renderer paints the raster for one tile from its constituent cells.
// Rasterization itself is outside this core; the manager only decides
// which tiles must be repainted and with what state.
type Renderer interface {
	Render(coord models.TileCoordinate, cells map[string]models.GridCell) ([]byte, error)
}

// TileService is the tile cache and versioning manager: checksum-based
// staleness, atomic publish, monotonic region versions, TTL eviction, and
// the regeneration pass over the changed set.
type TileService struct {
	region   string
	tiles    *repository.TileRepository
	grid     *repository.GridRepository
	blobs    *tilestore.Store
	renderer Renderer
}

// NewTileService creates a new tile service
func NewTileService(region string, tiles *repository.TileRepository, grid *repository.GridRepository, blobs *tilestore.Store, renderer Renderer) *TileService {
	return &TileService{region: region, tiles: tiles, grid: grid, blobs: blobs, renderer: renderer}
}

// Checksum digests the (key, finalState, lastUpdateClear, lastUpdateMuddy)
// tuples of a cell-state set. Keys are sorted first, so identical sets
// produce identical checksums regardless of map iteration order.
func Checksum(cells map[string]models.GridCell) string {
	keys := make([]string, 0, len(cells))
	for key := range cells {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		c := cells[key]
		b.WriteString(key)
		b.WriteByte('|')
		b.WriteString(c.FinalState.String())
		b.WriteByte('|')
		b.WriteString(strconv.FormatInt(c.LastUpdateClear, 10))
		b.WriteByte('|')
		b.WriteString(strconv.FormatInt(c.LastUpdateMuddy, 10))
		b.WriteByte('\n')
	}
	return strconv.FormatUint(xxh3.HashString(b.String()), 16)
}

// IsStale reports whether the tile must be regenerated: no artifact has
// been published, or the stored checksum no longer matches the one
// recomputed from current cell state
func (s *TileService) IsStale(ctx context.Context, coord models.TileCoordinate, cells map[string]models.GridCell) (bool, error) {
	meta, err := s.tiles.GetArtifact(ctx, s.region, coord)
	if err != nil {
		return false, err
	}
	if meta == nil {
		return true, nil
	}
	return meta.GridChecksum != Checksum(cells), nil
}

// Publish stores the rendered bytes and their metadata so that both or
// neither become visible: bytes land in the blob store first, and the
// metadata commit is the visibility point. Readers resolving metadata
// first can therefore never observe a half-written artifact.
func (s *TileService) Publish(ctx context.Context, coord models.TileCoordinate, rendered []byte, cells map[string]models.GridCell, version string) error {
	affected := make([]string, 0, len(cells))
	for key := range cells {
		affected = append(affected, key)
	}
	sort.Strings(affected)

	now := time.Now()
	if err := s.blobs.Put(blobKey(s.region, coord), rendered, now.Add(ArtifactRetention)); err != nil {
		return fmt.Errorf("failed to store tile bytes: %w", err)
	}
	meta := models.TileArtifact{
		Coord:         coord,
		Version:       version,
		LastUpdate:    now.Unix(),
		GridChecksum:  Checksum(cells),
		AffectedCells: affected,
		SizeBytes:     int64(len(rendered)),
	}
	return s.tiles.PublishArtifact(ctx, s.region, meta)
}

// GetArtifact returns the artifact metadata and bytes for serving
func (s *TileService) GetArtifact(ctx context.Context, coord models.TileCoordinate) (*models.TileArtifact, []byte, error) {
	if err := spatial.ValidateZoom(coord.Zoom); err != nil {
		return nil, nil, err
	}
	meta, err := s.tiles.GetArtifact(ctx, s.region, coord)
	if err != nil {
		return nil, nil, err
	}
	if meta == nil {
		return nil, nil, ErrArtifactNotFound
	}
	data, err := s.blobs.Get(blobKey(s.region, coord))
	if err != nil {
		return nil, nil, err
	}
	if data == nil {
		return nil, nil, ErrArtifactNotFound
	}
	return meta, data, nil
}

// CurrentVersion returns the region's published version identifier
func (s *TileService) CurrentVersion(ctx context.Context) (string, error) {
	return s.tiles.CurrentVersion(ctx, s.region)
}

// Evict drops an artifact entirely (metadata and bytes); used for cleanup
// of corrupted entries
func (s *TileService) Evict(ctx context.Context, coord models.TileCoordinate) error {
	if err := s.tiles.Evict(ctx, s.region, coord); err != nil {
		return err
	}
	return s.blobs.Delete(blobKey(s.region, coord))
}

// NewVersion mints a version strictly above the region's current one.
// Timestamp-derived strings compare correctly under lexicographic
// ordering; comparing against the stored version keeps the sequence
// monotonic even across a clock step backwards.
func (s *TileService) NewVersion(ctx context.Context) (string, error) {
	current, err := s.tiles.CurrentVersion(ctx, s.region)
	if err != nil {
		return "", err
	}
	v := time.Now().UTC().Format(versionLayout)
	if v <= current {
		// clock went backwards or stood still; derive from the stored version
		prev, perr := time.Parse(versionLayout, current)
		if perr != nil {
			return "", fmt.Errorf("failed to parse current version %q: %w", current, perr)
		}
		v = prev.Add(time.Nanosecond).Format(versionLayout)
	}
	return v, nil
}

// RegeneratePass drains the changed set and republishes every stale tile
// under one new version. Render failures are logged and leave the
// previous artifact serving as-is.
func (s *TileService) RegeneratePass(ctx context.Context) error {
	changedCells, tiles, err := s.grid.DrainChanged(ctx, s.region)
	if err != nil {
		return fmt.Errorf("failed to drain changed set: %w", err)
	}
	if len(tiles) == 0 {
		return nil
	}

	version, err := s.NewVersion(ctx)
	if err != nil {
		return err
	}

	regenerated := 0
	for _, coord := range tiles {
		cells, err := s.CellsForTile(ctx, coord)
		if err != nil {
			log.Printf("[TileService] cell lookup failed for %s: %v", coord, err)
			continue
		}
		stale, err := s.IsStale(ctx, coord, cells)
		if err != nil {
			log.Printf("[TileService] staleness check failed for %s: %v", coord, err)
			continue
		}
		if !stale {
			continue
		}
		rendered, err := s.renderer.Render(coord, cells)
		if err != nil {
			log.Printf("[TileService] render failed for %s, keeping previous artifact: %v", coord, err)
			continue
		}
		if err := s.Publish(ctx, coord, rendered, cells, version); err != nil {
			log.Printf("[TileService] publish failed for %s: %v", coord, err)
			continue
		}
		regenerated++
	}

	// Only the drained snapshot is cleared; marks landed by reports racing
	// this pass survive for the next drain
	if err := s.grid.ClearChanged(ctx, s.region, changedCells, tiles); err != nil {
		return fmt.Errorf("failed to clear changed set: %w", err)
	}
	if regenerated > 0 {
		log.Printf("[TileService] regenerated %d/%d tiles under version %s", regenerated, len(tiles), version)
	}
	return nil
}

// CellsForTile collects the existing cells whose centers fall inside the
// tile's geographic bounds
func (s *TileService) CellsForTile(ctx context.Context, coord models.TileCoordinate) (map[string]models.GridCell, error) {
	minLat, minLon, maxLat, maxLon := spatial.TileBounds(coord)
	return s.grid.GetCellsInBounds(ctx, s.region, minLat, minLon, maxLat, maxLon)
}

// PurgeExpired expires artifacts beyond the retention window: metadata
// rows first, then their bytes
func (s *TileService) PurgeExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-ArtifactRetention)
	expired, err := s.tiles.PurgeOlderThan(ctx, s.region, cutoff)
	if err != nil {
		return 0, err
	}
	for _, coord := range expired {
		if err := s.blobs.Delete(blobKey(s.region, coord)); err != nil {
			log.Printf("[TileService] failed to evict expired bytes for %s: %v", coord, err)
		}
	}
	if _, err := s.blobs.PurgeExpired(time.Now()); err != nil {
		return len(expired), err
	}
	return len(expired), nil
}

func blobKey(region string, coord models.TileCoordinate) string {
	return region + "/" + coord.String()
}
