// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// NotificationJob and DeliveryAttempt models.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ecowatch/go-binwatch-backend/internal/domain"
)

// CreateJob inserts a new notification job row in PENDING state.
func CreateJob(ctx context.Context, db *gorm.DB, recipientPhone, binID string, binLevel int, locationLabel, taskNote, assignedBy string) (*domain.NotificationJob, error) {
	j := &domain.NotificationJob{
		ID:             uuid.NewString(),
		RecipientPhone: recipientPhone,
		BinID:          binID,
		BinLevel:       binLevel,
		LocationLabel:  locationLabel,
		TaskNote:       taskNote,
		AssignedBy:     assignedBy,
		Status:         domain.JobPending,
		CreatedAt:      time.Now().UTC(),
	}
	return j, db.WithContext(ctx).Create(j).Error
}

// GetJob fetches a job by ID, or ErrNotFound.
func GetJob(ctx context.Context, db *gorm.DB, id string) (*domain.NotificationJob, error) {
	var j domain.NotificationJob
	if err := db.WithContext(ctx).Where("id = ?", id).First(&j).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// UpdateJobStatus transitions a job's status, recording the last error
// detail (empty clears it). Returns ErrNotFound if the job does not exist.
func UpdateJobStatus(ctx context.Context, db *gorm.DB, id string, status domain.JobStatus, lastError string) error {
	res := db.WithContext(ctx).
		Model(&domain.NotificationJob{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "last_error": lastError})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountJobs returns the total number of jobs.
func CountJobs(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.NotificationJob{}).Count(&total).Error
	return total, err
}

// ListJobsPage returns a paginated slice ordered newest first
// (CreatedAt DESC, ID ASC for determinism on equal timestamps).
func ListJobsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.NotificationJob, error) {
	var out []domain.NotificationJob
	err := db.WithContext(ctx).
		Order("created_at DESC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// AppendAttempt records one delivery attempt for a job. Attempts are
// append-only; the dispatcher persists each one before starting the next so
// a crash mid-dispatch leaves an accurate partial audit trail.
func AppendAttempt(ctx context.Context, db *gorm.DB, jobID string, attemptNo int, mode domain.SendMode, outcome domain.AttemptOutcome, errorDetail string) (*domain.DeliveryAttempt, error) {
	a := &domain.DeliveryAttempt{
		ID:          uuid.NewString(),
		JobID:       jobID,
		AttemptNo:   attemptNo,
		Mode:        mode,
		Outcome:     outcome,
		ErrorDetail: errorDetail,
		AttemptedAt: time.Now().UTC(),
	}
	return a, db.WithContext(ctx).Create(a).Error
}

// ListAttempts returns a job's attempts in attempt order.
func ListAttempts(ctx context.Context, db *gorm.DB, jobID string) ([]domain.DeliveryAttempt, error) {
	var out []domain.DeliveryAttempt
	err := db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("attempt_no ASC").
		Find(&out).Error
	return out, err
}
