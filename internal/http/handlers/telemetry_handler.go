// Telemetry ingestion handler.
//
// POST /telemetry accepts one device report, admission-checks it through the
// per-bin sliding window, and returns the resolved position. A denied sample
// is signaled with 429 plus a Retry-After hint, never silently dropped.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ecowatch/go-binwatch-backend/internal/domain"
	"github.com/ecowatch/go-binwatch-backend/internal/services"
)

// IngestTelemetry godoc
// @ID          ingestTelemetry
// @Summary     Ingest a telemetry sample
// @Description Validates and resolves one device report. The resolved status reflects the coordinate decision ladder (LIVE/STALE/BACKUP/OFFLINE).
// @Tags        Telemetry
// @Accept      json
// @Produce     json
//
// @Param       body  body  domain.TelemetrySample  true  "Telemetry sample"
//
// @Success     200  {object} domain.ResolvedPosition
// @Failure     400  {object} handlers.ErrorResponse "Invalid sample"
// @Failure     429  {object} handlers.ErrorResponse "Admission denied"
// @Header      429  {string} Retry-After "Seconds until the window frees up"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /telemetry [post]
func (h *Handlers) IngestTelemetry(c *gin.Context) {
	var sample domain.TelemetrySample
	if err := c.ShouldBindJSON(&sample); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now().UTC()
	}

	pos, err := h.resolver.Ingest(c.Request.Context(), sample)
	switch {
	case errors.Is(err, services.ErrInvalidSample):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "bin_id required")
		return
	case errors.Is(err, services.ErrRateLimited):
		retry := h.resolver.RetryAfter(sample.BinID)
		secs := int(retry.Round(time.Second).Seconds())
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
		fail(c, http.StatusTooManyRequests, ErrCodeRateLimited, "telemetry window full, back off and retry")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, pos)
}
