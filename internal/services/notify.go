// Package services – NotifyService
//
// This file implements the notification lifecycle: validate and enqueue a
// job, deliver it asynchronously through the retry controller, and answer
// status queries. The service also implements the dispatcher's Recorder so
// every attempt and status transition lands in the job tables.
//
// Enqueue returns the job id synchronously; the delivery outcome is
// asynchronous and queryable by id. Enqueue is idempotent when the caller
// supplies a key: retries of the same (bin, key) tuple return the original
// job instead of enqueuing a duplicate.
package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/ecowatch/go-binwatch-backend/internal/domain"
	"github.com/ecowatch/go-binwatch-backend/internal/repo"
	"github.com/ecowatch/go-binwatch-backend/internal/sms"
)

// DefaultIdempotencyTTL bounds how long a notify idempotency key suppresses
// duplicate jobs.
const DefaultIdempotencyTTL = 24 * time.Hour

// deliverTimeout caps one background delivery end to end (two attempts plus
// persistence).
const deliverTimeout = 2 * time.Minute

// NotifyRequest carries one alert trigger.
type NotifyRequest struct {
	RecipientPhone string
	BinID          string
	BinLevel       int
	LocationLabel  string
	TaskNote       string
	AssignedBy     string

	// IdempotencyKey, when non-empty, deduplicates retries of the same
	// trigger for the same bin.
	IdempotencyKey string
}

// NotifyService owns the NotificationJob lifecycle.
type NotifyService struct {
	DB         *gorm.DB
	Composer   sms.Composer
	Dispatcher *sms.Dispatcher

	// Resolver, when set, supplies location context for messages whose
	// jobs carry no location label.
	Resolver *Resolver

	// IdempotencyTTL overrides DefaultIdempotencyTTL when positive.
	IdempotencyTTL time.Duration

	wg sync.WaitGroup
}

func (s *NotifyService) idempotencyTTL() time.Duration {
	if s.IdempotencyTTL > 0 {
		return s.IdempotencyTTL
	}
	return DefaultIdempotencyTTL
}

// Enqueue validates the request, persists a PENDING job, and starts
// background delivery. The returned bool is true when an idempotency key
// matched an earlier job and no new one was created.
func (s *NotifyService) Enqueue(ctx context.Context, req NotifyRequest) (*domain.NotificationJob, bool, error) {
	tr := otel.Tracer("services/NotifyService")
	ctx, span := tr.Start(ctx, "Enqueue",
		trace.WithAttributes(attribute.String("bin.id", req.BinID)),
	)
	defer span.End()

	if strings.TrimSpace(req.RecipientPhone) == "" {
		return nil, false, ErrEmptyRecipient
	}
	if strings.TrimSpace(req.BinID) == "" {
		return nil, false, ErrInvalidSample
	}
	if req.BinLevel < 0 || req.BinLevel > 100 {
		return nil, false, ErrInvalidBinLevel
	}

	if req.IdempotencyKey != "" {
		if existing, err := s.findByKey(ctx, req.BinID, req.IdempotencyKey); err == nil {
			return existing, true, nil
		} else if !errors.Is(err, repo.ErrNotFound) {
			return nil, false, err
		}
	}

	job, err := repo.CreateJob(ctx, s.DB,
		strings.TrimSpace(req.RecipientPhone), req.BinID, req.BinLevel,
		req.LocationLabel, req.TaskNote, req.AssignedBy)
	if err != nil {
		return nil, false, err
	}

	if req.IdempotencyKey != "" {
		_, err := repo.CreateIdempotency(ctx, s.DB, req.BinID, req.IdempotencyKey, job.ID, 0, s.idempotencyTTL())
		if errors.Is(err, repo.ErrDuplicate) {
			// Lost the race to a concurrent retry; serve its job.
			if existing, ferr := s.findByKey(ctx, req.BinID, req.IdempotencyKey); ferr == nil {
				return existing, true, nil
			}
		} else if err != nil {
			log.Warn().Str("job_id", job.ID).Err(err).Msg("failed to record idempotency key")
		}
	}

	s.wg.Add(1)
	go s.deliver(*job)
	return job, false, nil
}

// findByKey resolves a non-expired idempotency record to its job.
func (s *NotifyService) findByKey(ctx context.Context, binID, key string) (*domain.NotificationJob, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, binID, key, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	job, err := repo.GetJob(ctx, s.DB, rec.JobID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repo.ErrNotFound
	}
	return job, err
}

// deliver composes and dispatches one job in the background. Runs detached
// from the request context so a closed HTTP connection cannot abort a send
// already in flight.
func (s *NotifyService) deliver(job domain.NotificationJob) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	var pos *domain.ResolvedPosition
	if s.Resolver != nil && job.LocationLabel == "" {
		p, err := s.Resolver.Lookup(ctx, job.BinID, true)
		if err != nil {
			log.Debug().Str("bin_id", job.BinID).Err(err).Msg("no location context for notification")
		} else {
			pos = p
		}
	}

	message := s.Composer.Compose(job, pos)
	attempts, err := s.Dispatcher.Dispatch(ctx, job, message)
	if err != nil {
		log.Error().
			Str("job_id", job.ID).
			Int("attempts", len(attempts)).
			Err(err).
			Msg("notification delivery failed")
		return
	}
	log.Info().
		Str("job_id", job.ID).
		Int("attempts", len(attempts)).
		Msg("notification delivered")
}

// Status returns a job and its attempt log, or ErrJobNotFound.
func (s *NotifyService) Status(ctx context.Context, jobID string) (*domain.NotificationJob, []domain.DeliveryAttempt, error) {
	job, err := repo.GetJob(ctx, s.DB, jobID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrJobNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	attempts, err := repo.ListAttempts(ctx, s.DB, jobID)
	if err != nil {
		return nil, nil, err
	}
	return job, attempts, nil
}

// ListPage returns one page of jobs, newest first, plus the total count.
func (s *NotifyService) ListPage(ctx context.Context, offset, limit int) ([]domain.NotificationJob, int64, error) {
	total, err := repo.CountJobs(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	jobs, err := repo.ListJobsPage(ctx, s.DB, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// Drain blocks until all in-flight deliveries finish. Called during
// shutdown before the modem port closes.
func (s *NotifyService) Drain() {
	s.wg.Wait()
}

// RecordAttempt implements sms.Recorder.
func (s *NotifyService) RecordAttempt(ctx context.Context, attempt domain.DeliveryAttempt) error {
	_, err := repo.AppendAttempt(ctx, s.DB, attempt.JobID, attempt.AttemptNo, attempt.Mode, attempt.Outcome, attempt.ErrorDetail)
	return err
}

// SetJobStatus implements sms.Recorder.
func (s *NotifyService) SetJobStatus(ctx context.Context, jobID string, status domain.JobStatus, lastError string) error {
	err := repo.UpdateJobStatus(ctx, s.DB, jobID, status, lastError)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrJobNotFound
	}
	return err
}
