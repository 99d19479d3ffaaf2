// Package render paints grid-cell state into raster tiles. It is a thin
// collaborator of the tile manager: the interesting decisions (which tile
// to repaint, with which cells, under which version) happen upstream.
package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/mudmap/mudmap-backend-go/internal/models"
	"github.com/mudmap/mudmap-backend-go/internal/spatial"
)

var (
	colorClear = color.NRGBA{R: 76, G: 175, B: 80, A: 160}
	colorMuddy = color.NRGBA{R: 121, G: 85, B: 72, A: 160}
)

// CellPainter renders each cell as a flat rectangle over a transparent
// background, clear vs muddy
type CellPainter struct {
	precision int
}

// NewCellPainter creates a painter for cells keyed at the given decimal
// precision
func NewCellPainter(precision int) *CellPainter {
	return &CellPainter{precision: precision}
}

// Render produces the PNG bytes for one tile
func (p *CellPainter) Render(coord models.TileCoordinate, cells map[string]models.GridCell) ([]byte, error) {
	img := image.NewNRGBA(image.Rect(0, 0, spatial.TileSize, spatial.TileSize))

	originX := float64(coord.X) * spatial.TileSize
	originY := float64(coord.Y) * spatial.TileSize
	half := spatial.CellSizeDegrees(p.precision) / 2

	for _, cell := range cells {
		// cell corners in global pixel space, offset into this tile
		x0, y0 := spatial.LatLonToPixel(cell.CenterLat+half, cell.CenterLon-half, coord.Zoom)
		x1, y1 := spatial.LatLonToPixel(cell.CenterLat-half, cell.CenterLon+half, coord.Zoom)

		c := colorMuddy
		if cell.FinalState == models.StateClear {
			c = colorClear
		}
		fillRect(img,
			int(math.Floor(x0-originX)), int(math.Floor(y0-originY)),
			int(math.Ceil(x1-originX)), int(math.Ceil(y1-originY)), c)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func fillRect(img *image.NRGBA, x0, y0, x1, y1 int, c color.NRGBA) {
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	for y := max(y0, 0); y < min(y1, spatial.TileSize); y++ {
		for x := max(x0, 0); x < min(x1, spatial.TileSize); x++ {
			img.SetNRGBA(x, y, c)
		}
	}
}
