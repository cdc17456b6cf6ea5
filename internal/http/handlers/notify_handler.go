// Notification HTTP handlers.
//
// This file exposes the alert trigger surface:
//   - POST /notify            (enqueue, returns job_id synchronously)
//   - GET  /notify            (list jobs, paginated)
//   - GET  /notify/{job_id}   (job status + delivery attempt audit trail)
//
// Delivery is asynchronous: POST returns as soon as the job is persisted and
// the dispatch goroutine is started; clients poll the job id for the outcome.
// A dashboard querying status sees FAILED with the last error detail string,
// never a raw hardware error code.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ecowatch/go-binwatch-backend/internal/domain"
	"github.com/ecowatch/go-binwatch-backend/internal/http/middleware"
	"github.com/ecowatch/go-binwatch-backend/internal/services"
	"github.com/ecowatch/go-binwatch-backend/internal/sysutil"
)

//
// DTOs
//

// NotifyRequest is the JSON payload for triggering a collection alert.
// recipient_phone carries the resolved phone number for the assigned janitor;
// janitor_id is accepted as opaque metadata for the assigned-by trail.
type NotifyRequest struct {
	RecipientPhone string `json:"recipient_phone" binding:"required" example:"+639171234567"`
	BinID          string `json:"bin_id" binding:"required" example:"BIN-7"`
	JanitorID      string `json:"janitor_id" example:"jan-042"`
	BinLevel       int    `json:"bin_level" binding:"min=0,max=100" example:"88"`
	LocationLabel  string `json:"location_label" example:"Central Plaza"`
	TaskNote       string `json:"task_note" example:"gate code 4411"`
	AssignedBy     string `json:"assigned_by" example:"ops"`
}

// NotifyResponse is returned by POST /notify.
type NotifyResponse struct {
	JobID  string           `json:"job_id"`
	Status domain.JobStatus `json:"status"`
	// Duplicate is true when an Idempotency-Key matched an earlier job.
	Duplicate bool `json:"duplicate,omitempty"`
}

// JobStatusResponse embeds the delivery attempt audit trail.
type JobStatusResponse struct {
	Job      *domain.NotificationJob  `json:"job"`
	Attempts []domain.DeliveryAttempt `json:"attempts"`
}

// ListJobsResponse wraps a page of jobs.
type ListJobsResponse struct {
	Jobs       []domain.NotificationJob `json:"jobs"`
	Pagination Pagination               `json:"pagination"`
}

//
// Handlers
//

// Notify godoc
// @ID          notify
// @Summary     Trigger a collection notification
// @Description Enqueues a NotificationJob and returns its id synchronously; delivery runs in the background. Honors the Idempotency-Key header: retries return the original job.
// @Tags        Notify
// @Accept      json
// @Produce     json
//
// @Param       Idempotency-Key  header  string                  false "Deduplicates client retries"
// @Param       body             body    handlers.NotifyRequest  true  "Alert trigger"
//
// @Success     201  {object} handlers.NotifyResponse
// @Success     200  {object} handlers.NotifyResponse "Idempotent replay"
// @Failure     400  {object} handlers.ErrorResponse "Validation failure"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /notify [post]
func (h *Handlers) Notify(c *gin.Context) {
	var req NotifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	key, _ := middleware.GetIdempotencyKey(c)
	// janitor_id doubles as the assigned-by trail when the caller sends no
	// explicit assigner.
	assignedBy := strings.TrimSpace(sysutil.FirstNonEmpty(req.AssignedBy, req.JanitorID))

	job, dup, err := h.notify.Enqueue(c.Request.Context(), services.NotifyRequest{
		RecipientPhone: req.RecipientPhone,
		BinID:          req.BinID,
		BinLevel:       req.BinLevel,
		LocationLabel:  req.LocationLabel,
		TaskNote:       req.TaskNote,
		AssignedBy:     assignedBy,
		IdempotencyKey: key,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmptyRecipient):
			fail(c, http.StatusBadRequest, ErrCodeEmptyRecipient, "recipient_phone required")
		case errors.Is(err, services.ErrInvalidBinLevel):
			fail(c, http.StatusBadRequest, ErrCodeInvalidBinLevel, "bin_level must be within [0, 100]")
		case errors.Is(err, services.ErrInvalidSample):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "bin_id required")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeEnqueueFailed, err.Error())
		}
		return
	}

	status := http.StatusCreated
	if dup {
		status = http.StatusOK
	}
	ok(c, status, NotifyResponse{JobID: job.ID, Status: job.Status, Duplicate: dup})
}

// JobStatus godoc
// @ID          jobStatus
// @Summary     Query a notification job
// @Description Returns the job and its delivery attempt log, ordered by attempt number.
// @Tags        Notify
// @Produce     json
//
// @Param       job_id  path  string  true "Job ID (UUID)" format(uuid)
//
// @Success     200  {object} handlers.JobStatusResponse
// @Failure     404  {object} handlers.ErrorResponse "Job not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /notify/{job_id} [get]
func (h *Handlers) JobStatus(c *gin.Context) {
	jobID := c.Param("job_id")

	job, attempts, err := h.notify.Status(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, services.ErrJobNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "job not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	if attempts == nil {
		attempts = []domain.DeliveryAttempt{}
	}
	ok(c, http.StatusOK, JobStatusResponse{Job: job, Attempts: attempts})
}

// ListJobs godoc
// @ID          listJobs
// @Summary     List notification jobs (paginated)
// @Description Returns recent jobs, newest first.
// @Tags        Notify
// @Produce     json
//
// @Param       page       query  int  false "Page number"    minimum(1) default(1)
// @Param       page_size  query  int  false "Items per page" minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListJobsResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /notify [get]
func (h *Handlers) ListJobs(c *gin.Context) {
	page, pageSize := clampPagination(c)

	jobs, total, err := h.notify.ListPage(c.Request.Context(), (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListJobsResponse{
		Jobs:       jobs,
		Pagination: paginationMeta(page, pageSize, total),
	})
}
