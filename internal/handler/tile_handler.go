package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mudmap/mudmap-backend-go/internal/models"
	"github.com/mudmap/mudmap-backend-go/internal/service"
	"github.com/mudmap/mudmap-backend-go/internal/spatial"
	"github.com/mudmap/mudmap-backend-go/pkg/response"
)

// TileHandler handles HTTP requests for rendered tiles and versions
type TileHandler struct {
	service *service.TileService
}

// NewTileHandler creates a new tile handler
func NewTileHandler(service *service.TileService) *TileHandler {
	return &TileHandler{service: service}
}

// GetTile handles GET /api/v1/tiles/:zoom/:x/:y
func (h *TileHandler) GetTile(c *gin.Context) {
	coord, ok := parseTileCoord(c)
	if !ok {
		return
	}

	meta, data, err := h.service.GetArtifact(c.Request.Context(), coord)
	if err != nil {
		switch {
		case errors.Is(err, spatial.ErrInvalidZoom):
			response.BadRequest(c, "Unsupported zoom level")
		case errors.Is(err, service.ErrArtifactNotFound):
			response.NotFound(c, "Tile not rendered yet")
		default:
			response.InternalError(c, "Failed to load tile")
		}
		return
	}

	c.Header("X-Tile-Version", meta.Version)
	c.Data(http.StatusOK, "image/png", data)
}

// GetVersion handles GET /api/v1/region/version
func (h *TileHandler) GetVersion(c *gin.Context) {
	version, err := h.service.CurrentVersion(c.Request.Context())
	if err != nil {
		response.InternalError(c, "Failed to get region version")
		return
	}
	response.Success(c, gin.H{"version": version})
}

func parseTileCoord(c *gin.Context) (models.TileCoordinate, bool) {
	zoom, err := strconv.Atoi(c.Param("zoom"))
	if err != nil {
		response.BadRequest(c, "Invalid zoom")
		return models.TileCoordinate{}, false
	}
	x, err := strconv.Atoi(c.Param("x"))
	if err != nil || x < 0 {
		response.BadRequest(c, "Invalid tile x")
		return models.TileCoordinate{}, false
	}
	y, err := strconv.Atoi(c.Param("y"))
	if err != nil || y < 0 {
		response.BadRequest(c, "Invalid tile y")
		return models.TileCoordinate{}, false
	}
	return models.TileCoordinate{X: x, Y: y, Zoom: zoom}, true
}
