package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"parking-violation-service/internal/config"
	"parking-violation-service/internal/domain/parking"
	"parking-violation-service/internal/pipeline"
	"parking-violation-service/internal/service"
	"parking-violation-service/internal/zones"
)

type FrameProcessor interface {
	ProcessFrame(ctx context.Context, frame parking.Frame) (*parking.FrameResult, error)
	Reset()
	Stats() pipeline.Stats
}

type ZoneAdmin interface {
	All() []parking.Zone
	Add(ctx context.Context, zone parking.Zone) error
	Remove(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

type Enforcement interface {
	FindPlates(ctx context.Context, plateQuery string) ([]service.PlateInfo, error)
	FindViolations(ctx context.Context, plateQuery *string, from, to *string, limit, offset int) ([]service.ViolationInfo, error)
	GetDriver(ctx context.Context, id string) (*service.DriverInfo, error)
}

type Handler struct {
	frames      FrameProcessor
	zones       ZoneAdmin
	enforcement Enforcement
	config      *config.Config
	log         zerolog.Logger

	frameSeq atomic.Int64
}

func NewHandler(
	frames FrameProcessor,
	zoneAdmin ZoneAdmin,
	enforcement Enforcement,
	cfg *config.Config,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		frames:      frames,
		zones:       zoneAdmin,
		enforcement: enforcement,
		config:      cfg,
		log:         log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	public := r.Group("/api/v1")
	{
		public.GET("/healthz", h.health)
		public.POST("/frames", h.processFrame)
		public.GET("/zones", h.listZones)
		public.GET("/plates", h.listPlates)
		public.GET("/violations", h.listViolations)
		public.GET("/drivers/:id", h.getDriver)
	}

	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.POST("/zones", h.createZone)
		protected.DELETE("/zones/:id", h.deleteZone)
		protected.DELETE("/zones", h.clearZones)
		protected.POST("/state/reset", h.resetState)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"camera": h.config.Camera.ID,
		"stats":  h.frames.Stats(),
	})
}

const multipartMemory = 32 << 20

func (h *Handler) processFrame(c *gin.Context) {
	if limit := h.config.HTTP.MaxFrameBytes; limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			h.handleError(c, err)
			return
		}
		c.JSON(http.StatusBadRequest, errorResponse("multipart form expected"))
		return
	}

	width, err := strconv.Atoi(c.PostForm("width"))
	if err != nil || width <= 0 {
		c.JSON(http.StatusBadRequest, errorResponse("width must be a positive integer"))
		return
	}
	height, err := strconv.Atoi(c.PostForm("height"))
	if err != nil || height <= 0 {
		c.JSON(http.StatusBadRequest, errorResponse("height must be a positive integer"))
		return
	}

	var ts time.Time
	if raw := strings.TrimSpace(c.PostForm("timestamp")); raw != "" {
		ts, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("invalid timestamp format"))
			return
		}
	}

	index := int(h.frameSeq.Add(1) - 1)
	if raw := c.PostForm("frame_id"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, errorResponse("frame_id must be a non-negative integer"))
			return
		}
		index = parsed
	}

	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("image file is required"))
		return
	}
	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("cannot read image"))
		return
	}
	defer src.Close()
	image, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("cannot read image"))
		return
	}

	result, err := h.frames.ProcessFrame(c.Request.Context(), parking.Frame{
		Index:     index,
		Timestamp: ts,
		Width:     width,
		Height:    height,
		Image:     image,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	if result.ViolationCount > 0 || result.WarningCount > 0 {
		h.log.Debug().
			Int("frame_id", result.FrameID).
			Int("warnings", result.WarningCount).
			Int("violations", result.ViolationCount).
			Msg("frame has vehicles over the dwell threshold")
	}

	c.JSON(http.StatusOK, successResponse(result))
}

func (h *Handler) listZones(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse(h.zones.All()))
}

// zoneRequest is the body of POST /zones. Omitted fields take the
// defaults of a freshly drawn no-parking zone.
type zoneRequest struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Polygon   [][2]float64      `json:"polygon"`
	Color     *[3]uint8         `json:"color"`
	ZoneType  string            `json:"zone_type"`
	Active    *bool             `json:"active"`
	CoordMode parking.CoordMode `json:"coord_mode"`
}

const defaultZoneName = "No Parking Zone"

var defaultZoneColor = [3]uint8{0, 0, 255}

func (r zoneRequest) toZone() parking.Zone {
	zone := parking.Zone{
		ID:        strings.TrimSpace(r.ID),
		Name:      r.Name,
		Polygon:   r.Polygon,
		Color:     defaultZoneColor,
		ZoneType:  r.ZoneType,
		Active:    true,
		CoordMode: r.CoordMode,
	}
	if zone.Name == "" {
		zone.Name = defaultZoneName
	}
	if r.Color != nil {
		zone.Color = *r.Color
	}
	if r.Active != nil {
		zone.Active = *r.Active
	}
	return zone
}

func (h *Handler) createZone(c *gin.Context) {
	var req zoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	zone := req.toZone()

	if err := h.zones.Add(c.Request.Context(), zone); err != nil {
		h.handleError(c, err)
		return
	}

	h.log.Info().Str("zone_id", zone.ID).Str("name", zone.Name).Msg("zone created")
	c.JSON(http.StatusCreated, gin.H{
		"status":  "ok",
		"zone_id": zone.ID,
	})
}

func (h *Handler) deleteZone(c *gin.Context) {
	id := c.Param("id")
	if err := h.zones.Remove(c.Request.Context(), id); err != nil {
		h.handleError(c, err)
		return
	}

	h.log.Info().Str("zone_id", id).Msg("zone deleted")
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) clearZones(c *gin.Context) {
	if err := h.zones.Clear(c.Request.Context()); err != nil {
		h.handleError(c, err)
		return
	}

	h.log.Info().Msg("all zones cleared")
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) resetState(c *gin.Context) {
	h.frames.Reset()
	h.frameSeq.Store(0)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) listPlates(c *gin.Context) {
	plateQuery := strings.TrimSpace(c.Query("plate"))
	if plateQuery == "" {
		c.JSON(http.StatusBadRequest, errorResponse("plate parameter is required"))
		return
	}

	plates, err := h.enforcement.FindPlates(c.Request.Context(), plateQuery)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(plates))
}

func (h *Handler) listViolations(c *gin.Context) {
	var plateQuery *string
	if plate := strings.TrimSpace(c.Query("plate")); plate != "" {
		plateQuery = &plate
	}

	var from, to *string
	if f := strings.TrimSpace(c.Query("from")); f != "" {
		from = &f
	}
	if t := strings.TrimSpace(c.Query("to")); t != "" {
		to = &t
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := parseInt(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	offset := 0
	if o := c.Query("offset"); o != "" {
		if parsed, err := parseInt(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	violations, err := h.enforcement.FindViolations(c.Request.Context(), plateQuery, from, to, limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(violations))
}

func (h *Handler) getDriver(c *gin.Context) {
	driver, err := h.enforcement.GetDriver(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(driver))
}

func (h *Handler) handleError(c *gin.Context, err error) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, parking.ErrInvalidZone):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound), errors.Is(err, zones.ErrZoneNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, zones.ErrDuplicateZone):
		c.JSON(http.StatusConflict, errorResponse(err.Error()))
	case errors.As(err, &maxBytes):
		c.JSON(http.StatusRequestEntityTooLarge, errorResponse(fmt.Sprintf("frame exceeds %d bytes", maxBytes.Limit)))
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}
