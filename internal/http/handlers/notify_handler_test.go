package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ecowatch/go-binwatch-backend/internal/domain"
	"github.com/ecowatch/go-binwatch-backend/internal/http/middleware"
	"github.com/ecowatch/go-binwatch-backend/internal/services"
)

func newNotifyRouter(n *fakeNotify) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// Same ordering as the real router: key validation runs before handlers.
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))
	h := New(&fakeResolver{}, &fakeStore{}, n, nil)
	r.POST("/notify", h.Notify)
	r.GET("/notify", h.ListJobs)
	r.GET("/notify/:job_id", h.JobStatus)
	return r
}

func pendingJob() *domain.NotificationJob {
	return &domain.NotificationJob{
		ID:             "job-1",
		RecipientPhone: "+639171234567",
		BinID:          "BIN-7",
		BinLevel:       88,
		Status:         domain.JobPending,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestNotify_BadJSON(t *testing.T) {
	r := newNotifyRouter(&fakeNotify{})
	w := postJSON(r, "/notify", "{", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestNotify_MissingRequiredFields(t *testing.T) {
	r := newNotifyRouter(&fakeNotify{})
	// recipient_phone and bin_id carry binding:"required".
	w := postJSON(r, "/notify", `{"bin_level":50}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestNotify_Created(t *testing.T) {
	n := &fakeNotify{job: pendingJob()}
	r := newNotifyRouter(n)

	body := `{"recipient_phone":"+639171234567","bin_id":"BIN-7","bin_level":88,"location_label":"Central Plaza","task_note":"gate code 4411","assigned_by":"ops"}`
	w := postJSON(r, "/notify", body, map[string]string{middleware.HeaderIdempotencyKey: "alert-7-88"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}

	var resp NotifyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.JobID != "job-1" || resp.Status != domain.JobPending || resp.Duplicate {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if n.lastReq.IdempotencyKey != "alert-7-88" {
		t.Fatalf("idempotency key not forwarded: %q", n.lastReq.IdempotencyKey)
	}
	if n.lastReq.AssignedBy != "ops" {
		t.Fatalf("assigned_by not forwarded: %q", n.lastReq.AssignedBy)
	}
}

func TestNotify_JanitorIDFallsBackToAssignedBy(t *testing.T) {
	n := &fakeNotify{job: pendingJob()}
	r := newNotifyRouter(n)

	body := `{"recipient_phone":"+639171234567","bin_id":"BIN-7","bin_level":88,"janitor_id":"jan-042"}`
	w := postJSON(r, "/notify", body, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if n.lastReq.AssignedBy != "jan-042" {
		t.Fatalf("expected janitor_id fallback, got %q", n.lastReq.AssignedBy)
	}
}

func TestNotify_IdempotentReplay_200(t *testing.T) {
	n := &fakeNotify{job: pendingJob(), dup: true}
	r := newNotifyRouter(n)

	body := `{"recipient_phone":"+639171234567","bin_id":"BIN-7","bin_level":88}`
	w := postJSON(r, "/notify", body, map[string]string{middleware.HeaderIdempotencyKey: "alert-7-88"})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var resp NotifyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !resp.Duplicate || resp.JobID != "job-1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestNotify_ErrorMapping(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		status   int
		wantCode string
	}{
		{"empty recipient", services.ErrEmptyRecipient, http.StatusBadRequest, ErrCodeEmptyRecipient},
		{"bad level", services.ErrInvalidBinLevel, http.StatusBadRequest, ErrCodeInvalidBinLevel},
		{"bad bin", services.ErrInvalidSample, http.StatusBadRequest, ErrCodeBadRequest},
		{"internal", errors.New("db down"), http.StatusInternalServerError, ErrCodeEnqueueFailed},
	}
	body := `{"recipient_phone":"+639171234567","bin_id":"BIN-7","bin_level":88}`
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newNotifyRouter(&fakeNotify{enqErr: tc.err})
			w := postJSON(r, "/notify", body, nil)
			if w.Code != tc.status {
				t.Fatalf("status=%d want %d", w.Code, tc.status)
			}
			if got := errCodeOf(t, w); got != tc.wantCode {
				t.Fatalf("code=%q want %q", got, tc.wantCode)
			}
		})
	}
}

func TestJobStatus_OK_AttemptsNeverNull(t *testing.T) {
	n := &fakeNotify{job: pendingJob()} // no attempts recorded yet
	r := newNotifyRouter(n)

	w := doReq(r, http.MethodGet, "/notify/job-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var resp JobStatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Job == nil || resp.Job.ID != "job-1" {
		t.Fatalf("unexpected job: %+v", resp.Job)
	}
	if resp.Attempts == nil {
		t.Fatalf("attempts must serialize as [], not null")
	}
}

func TestJobStatus_WithAttempts(t *testing.T) {
	n := &fakeNotify{
		job: pendingJob(),
		attempts: []domain.DeliveryAttempt{
			{JobID: "job-1", AttemptNo: 1, Mode: domain.ModeText, Outcome: domain.OutcomeFailure, ErrorDetail: "+CMS ERROR: 500"},
			{JobID: "job-1", AttemptNo: 2, Mode: domain.ModePDU, Outcome: domain.OutcomeSuccess},
		},
	}
	r := newNotifyRouter(n)

	w := doReq(r, http.MethodGet, "/notify/job-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var resp JobStatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(resp.Attempts) != 2 || resp.Attempts[1].Mode != domain.ModePDU {
		t.Fatalf("unexpected attempts: %+v", resp.Attempts)
	}
}

func TestJobStatus_NotFound(t *testing.T) {
	r := newNotifyRouter(&fakeNotify{stErr: services.ErrJobNotFound})
	w := doReq(r, http.MethodGet, "/notify/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestListJobs_Paginated(t *testing.T) {
	n := &fakeNotify{
		jobs:  []domain.NotificationJob{*pendingJob()},
		total: 41,
	}
	r := newNotifyRouter(n)

	w := doReq(r, http.MethodGet, "/notify?page=2&page_size=20", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var resp ListJobsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Pagination.Total != 41 || resp.Pagination.TotalPages != 3 || !resp.Pagination.HasNext {
		t.Fatalf("pagination: %+v", resp.Pagination)
	}
	if len(resp.Jobs) != 1 {
		t.Fatalf("jobs len=%d", len(resp.Jobs))
	}
}
