// Package sms – delivery retry controller.
//
// The Dispatcher drives one job through its bounded attempt budget: attempt
// one in TEXT mode, and on failure attempt two in PDU mode. Every attempt is
// persisted through the Recorder before the next begins, so a crash between
// attempts never loses history. Jobs are serialized through a dispatcher
// mutex on top of the modem's own lock so the attempt log of one job is
// contiguous.

package sms

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/ecowatch/go-binwatch-backend/internal/domain"
)

// DefaultSendTimeout bounds each hardware attempt when the dispatcher is
// constructed without one.
const DefaultSendTimeout = 20 * time.Second

var attempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "binwatch_sms_attempts_total",
		Help: "SMS delivery attempts by mode and outcome.",
	},
	[]string{"mode", "outcome"},
)

func init() {
	prometheus.MustRegister(attempts)
}

// Sender is the delivery surface the dispatcher needs; *Modem satisfies it.
type Sender interface {
	SendText(ctx context.Context, recipient, message string) (Outcome, error)
	SendPDU(ctx context.Context, recipient, message string) (Outcome, error)
}

// Recorder persists delivery progress. The notification service implements
// it over the job repository.
type Recorder interface {
	RecordAttempt(ctx context.Context, attempt domain.DeliveryAttempt) error
	SetJobStatus(ctx context.Context, jobID string, status domain.JobStatus, lastError string) error
}

// Dispatcher runs the bounded TEXT-then-PDU retry ladder for one job at a
// time.
type Dispatcher struct {
	Modem    Sender
	Recorder Recorder

	// SendTimeout bounds each individual attempt; zero means
	// DefaultSendTimeout.
	SendTimeout time.Duration

	mu sync.Mutex
}

func (d *Dispatcher) timeout() time.Duration {
	if d.SendTimeout > 0 {
		return d.SendTimeout
	}
	return DefaultSendTimeout
}

// Dispatch delivers message for job and returns the attempt log. The job is
// moved to SENDING before the first attempt, then to SUCCESS or FAILED. The
// returned error is nil on delivery success; otherwise it wraps the final
// attempt's failure (ErrModemNotInitialized short-circuits before any
// attempt is made).
func (d *Dispatcher) Dispatch(ctx context.Context, job domain.NotificationJob, message string) ([]domain.DeliveryAttempt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.Recorder.SetJobStatus(ctx, job.ID, domain.JobSending, ""); err != nil {
		return nil, fmt.Errorf("mark job sending: %w", err)
	}

	logged := make([]domain.DeliveryAttempt, 0, 2)

	// Attempt 1: TEXT mode.
	attempt, err := d.attempt(ctx, job, message, 1, domain.ModeText)
	if attempt != nil {
		logged = append(logged, *attempt)
	}
	if err == nil {
		if serr := d.Recorder.SetJobStatus(ctx, job.ID, domain.JobSuccess, ""); serr != nil {
			return logged, fmt.Errorf("mark job success: %w", serr)
		}
		return logged, nil
	}
	if errors.Is(err, ErrModemNotInitialized) {
		// No hardware to retry against; fail without burning the PDU
		// attempt.
		if serr := d.Recorder.SetJobStatus(ctx, job.ID, domain.JobFailed, err.Error()); serr != nil {
			return logged, fmt.Errorf("mark job failed: %w", serr)
		}
		return logged, err
	}
	log.Warn().Str("job_id", job.ID).Err(err).Msg("text mode send failed, retrying in pdu mode")

	// Attempt 2: PDU mode.
	attempt, err = d.attempt(ctx, job, message, 2, domain.ModePDU)
	if attempt != nil {
		logged = append(logged, *attempt)
	}
	if err == nil {
		if serr := d.Recorder.SetJobStatus(ctx, job.ID, domain.JobSuccess, ""); serr != nil {
			return logged, fmt.Errorf("mark job success: %w", serr)
		}
		return logged, nil
	}
	if serr := d.Recorder.SetJobStatus(ctx, job.ID, domain.JobFailed, err.Error()); serr != nil {
		return logged, fmt.Errorf("mark job failed: %w", serr)
	}
	return logged, err
}

// attempt runs one bounded hardware send and persists its record before
// returning. A nil error means the provider acknowledged delivery.
func (d *Dispatcher) attempt(ctx context.Context, job domain.NotificationJob, message string, no int, mode domain.SendMode) (*domain.DeliveryAttempt, error) {
	if d.Modem == nil {
		return nil, ErrModemNotInitialized
	}
	sendCtx, cancel := context.WithTimeout(ctx, d.timeout())
	defer cancel()

	var (
		outcome Outcome
		err     error
	)
	switch mode {
	case domain.ModePDU:
		outcome, err = d.Modem.SendPDU(sendCtx, job.RecipientPhone, message)
	default:
		outcome, err = d.Modem.SendText(sendCtx, job.RecipientPhone, message)
	}
	if errors.Is(err, ErrModemNotInitialized) {
		return nil, err
	}

	rec := domain.DeliveryAttempt{
		JobID:       job.ID,
		AttemptNo:   no,
		Mode:        mode,
		Outcome:     domain.OutcomeSuccess,
		AttemptedAt: time.Now().UTC(),
	}
	if err != nil || !outcome.Success {
		rec.Outcome = domain.OutcomeFailure
		rec.ErrorDetail = outcome.ErrorCode
		if rec.ErrorDetail == "" && err != nil {
			rec.ErrorDetail = err.Error()
		}
		if err == nil {
			err = fmt.Errorf("send rejected: %s", rec.ErrorDetail)
		}
		if mode == domain.ModeText {
			err = fmt.Errorf("%w: %v", ErrSendFailureText, err)
		} else {
			err = fmt.Errorf("%w: %v", ErrSendFailurePDU, err)
		}
	} else {
		rec.ErrorDetail = ""
		err = nil
	}
	attempts.WithLabelValues(string(mode), string(rec.Outcome)).Inc()

	if rerr := d.Recorder.RecordAttempt(ctx, rec); rerr != nil {
		log.Error().Str("job_id", job.ID).Int("attempt", no).Err(rerr).Msg("failed to persist delivery attempt")
	}
	return &rec, err
}
