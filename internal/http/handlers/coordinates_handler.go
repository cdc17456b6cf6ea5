// Backup-coordinate HTTP handlers.
//
// This file exposes the dashboard surface over the backup store and the
// resolver:
//   - GET    /coordinates               (list, paginated, ETag support)
//   - GET    /coordinates/{bin_id}      (resolved position or not-found)
//   - POST   /coordinates/{bin_id}      (manual save, rejected if invalid)
//   - DELETE /coordinates/cleanup       (prune stale records)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ecowatch/go-binwatch-backend/internal/domain"
	"github.com/ecowatch/go-binwatch-backend/internal/repo"
	"github.com/ecowatch/go-binwatch-backend/internal/services"
	"github.com/ecowatch/go-binwatch-backend/internal/sysutil"
	"github.com/ecowatch/go-binwatch-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// PositionResolver computes authoritative bin positions. Implementations must
// be safe for concurrent use and honor the provided context.
type PositionResolver interface {
	// Ingest admission-checks one telemetry sample and resolves it.
	Ingest(ctx context.Context, sample domain.TelemetrySample) (*domain.ResolvedPosition, error)
	// Lookup resolves a bin without a live sample; a nil position with a
	// nil error means "no marker" semantics were requested and nothing
	// usable exists.
	Lookup(ctx context.Context, binID string, showMarker bool) (*domain.ResolvedPosition, error)
	// RetryAfter reports the back-off hint for a rate-limited bin.
	RetryAfter(binID string) time.Duration
}

// CoordinateStore persists last-known-valid positions. Implementations must
// be safe for concurrent use and honor the provided context.
type CoordinateStore interface {
	Save(ctx context.Context, binID string, lat, lng float64, satellites int) error
	Read(ctx context.Context, binID string) (*domain.BackupCoordinate, error)
	Cleanup(ctx context.Context, maxAge time.Duration) (int64, error)
}

// NotificationService owns the notification job lifecycle.
type NotificationService interface {
	Enqueue(ctx context.Context, req services.NotifyRequest) (*domain.NotificationJob, bool, error)
	Status(ctx context.Context, jobID string) (*domain.NotificationJob, []domain.DeliveryAttempt, error)
	ListPage(ctx context.Context, offset, limit int) ([]domain.NotificationJob, int64, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for telemetry, coordinates, and
// notifications. It depends on abstract service interfaces to keep transport
// concerns separate from business logic; the DB handle is used only for
// read-side listing and conditional-response stats.
type Handlers struct {
	resolver PositionResolver
	store    CoordinateStore
	notify   NotificationService
	db       *gorm.DB
}

// New constructs a Handlers instance bound to the given services.
func New(resolver PositionResolver, store CoordinateStore, notify NotificationService, db *gorm.DB) *Handlers {
	return &Handlers{resolver: resolver, store: store, notify: notify, db: db}
}

//
// DTOs
//

// SaveCoordinateRequest is the JSON payload for a manual coordinate save.
type SaveCoordinateRequest struct {
	Latitude  float64 `json:"latitude" binding:"required" example:"14.5995"`
	Longitude float64 `json:"longitude" binding:"required" example:"120.9842"`
	// Satellites optionally records the fix quality of a manual entry.
	Satellites int `json:"satellites" example:"0"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListCoordinatesResponse wraps a page of backup records.
type ListCoordinatesResponse struct {
	Coordinates []domain.BackupCoordinate `json:"coordinates"`
	Pagination  Pagination                `json:"pagination"`
}

// CleanupResponse reports how many records a cleanup pass removed.
type CleanupResponse struct {
	Removed int64 `json:"removed"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

func paginationMeta(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

//
// Handlers
//

// ListCoordinates godoc
// @ID          listCoordinates
// @Summary     List backup coordinates (paginated)
// @Description Returns a page of stored backup records. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Coordinates
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListCoordinatesResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /coordinates [get]
func (h *Handlers) ListCoordinates(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if h.db != nil {
		count, maxTS, err := repo.CoordinatesStats(ctx, h.db)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"coords:%d:%d"`, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	total, err := repo.CountBackupCoordinates(ctx, h.db)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	items, err := repo.ListBackupCoordinatesPage(ctx, h.db, (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	ok(c, http.StatusOK, ListCoordinatesResponse{
		Coordinates: items,
		Pagination:  paginationMeta(page, pageSize, total),
	})
}

// GetCoordinate godoc
// @ID          getCoordinate
// @Summary     Resolve a bin position
// @Description Resolves the authoritative position for a bin (LIVE/STALE/BACKUP/OFFLINE). With marker=false an OFFLINE bin returns 404 instead of the default position.
// @Tags        Coordinates
// @Produce     json
//
// @Param       bin_id  path   string  true  "Bin ID"                         example(BIN-7)
// @Param       marker  query  bool    false "Return the default position for offline bins" default(true)
//
// @Success     200  {object} domain.ResolvedPosition
// @Failure     404  {object} handlers.ErrorResponse "No usable position"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /coordinates/{bin_id} [get]
func (h *Handlers) GetCoordinate(c *gin.Context) {
	binID := c.Param("bin_id")
	showMarker := sysutil.IsTruthy(c.DefaultQuery("marker", "true"))

	pos, err := h.resolver.Lookup(c.Request.Context(), binID, showMarker)
	if err != nil {
		if errors.Is(err, services.ErrInvalidSample) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "bin id required")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	if pos == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "no usable position for bin")
		return
	}
	ok(c, http.StatusOK, pos)
}

// SaveCoordinate godoc
// @ID          saveCoordinate
// @Summary     Manually save a backup coordinate
// @Description Stores an operator-supplied position for a bin. Zero, NaN, or out-of-range coordinates are rejected and never overwrite the prior record.
// @Tags        Coordinates
// @Accept      json
// @Produce     json
//
// @Param       bin_id  path  string                          true "Bin ID" example(BIN-7)
// @Param       body    body  handlers.SaveCoordinateRequest  true "Coordinates"
//
// @Success     201  {object} domain.BackupCoordinate
// @Failure     400  {object} handlers.ErrorResponse "Invalid coordinates"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /coordinates/{bin_id} [post]
func (h *Handlers) SaveCoordinate(c *gin.Context) {
	binID := c.Param("bin_id")
	var req SaveCoordinateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	ctx := c.Request.Context()
	if err := h.store.Save(ctx, binID, req.Latitude, req.Longitude, req.Satellites); err != nil {
		if errors.Is(err, services.ErrInvalidCoordinates) {
			fail(c, http.StatusBadRequest, ErrCodeInvalidCoordinates, "coordinates fail range/non-zero validation")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	rec, err := h.store.Read(ctx, binID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusCreated, rec)
}

// CleanupCoordinates godoc
// @ID          cleanupCoordinates
// @Summary     Prune stale backup coordinates
// @Description Removes backup records older than maxAgeHours and returns the count removed.
// @Tags        Coordinates
// @Produce     json
//
// @Param       maxAgeHours  query  int  false "Retention age in hours" minimum(1) default(24)
//
// @Success     200  {object} handlers.CleanupResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /coordinates/cleanup [delete]
func (h *Handlers) CleanupCoordinates(c *gin.Context) {
	hours := 24
	if v := c.Query("maxAgeHours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "maxAgeHours must be a positive integer")
			return
		}
		hours = n
	}

	removed, err := h.store.Cleanup(c.Request.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, CleanupResponse{Removed: removed})
}
