package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mudmap/mudmap-backend-go/internal/models"
	"github.com/mudmap/mudmap-backend-go/internal/service"
	"github.com/mudmap/mudmap-backend-go/pkg/response"
)

// ReportHandler handles HTTP requests for crowd reports
type ReportHandler struct {
	service *service.ReportService
}

// NewReportHandler creates a new report handler
func NewReportHandler(service *service.ReportService) *ReportHandler {
	return &ReportHandler{service: service}
}

// submitReportRequest is the wire form of a crowd report
type submitReportRequest struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	State     *int    `json:"state" binding:"required"`
	Timestamp int64   `json:"timestamp"`
}

// SubmitReport handles POST /api/v1/reports. Coordinate and state
// validation happens here, before the core ever sees the report.
func (h *ReportHandler) SubmitReport(c *gin.Context) {
	var req submitReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Lat < -90 || req.Lat > 90 || req.Lon < -180 || req.Lon > 180 {
		response.Error(c, http.StatusBadRequest, "Coordinate out of range")
		return
	}
	state, ok := models.ParseCellState(*req.State)
	if !ok {
		response.Error(c, http.StatusBadRequest, "State must be 0 (muddy) or 1 (clear)")
		return
	}
	ts := req.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}

	report := models.Report{
		Lat:       req.Lat,
		Lon:       req.Lon,
		State:     state,
		Timestamp: ts,
	}
	if err := h.service.Ingest(c.Request.Context(), report); err != nil {
		// store I/O failures are retryable; no partial state is corrupted
		response.Error(c, http.StatusServiceUnavailable, "Failed to process report, retry later")
		return
	}

	response.Success(c, gin.H{
		"state":     state.String(),
		"timestamp": ts,
	})
}

// GetCells handles GET /api/v1/cells, an inspection endpoint returning
// the current belief state around a point
func (h *ReportHandler) GetCells(c *gin.Context) {
	var q models.CellQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, http.StatusBadRequest, "Invalid query parameters")
		return
	}
	if q.Lat < -90 || q.Lat > 90 || q.Lon < -180 || q.Lon > 180 {
		response.Error(c, http.StatusBadRequest, "Coordinate out of range")
		return
	}

	cells, err := h.service.CellsNear(c.Request.Context(), q)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "Failed to get cells")
		return
	}

	response.Success(c, gin.H{
		"data":  cells,
		"count": len(cells),
	})
}
