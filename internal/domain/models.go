// Package domain defines the persistence models for backup coordinates,
// notification jobs, and delivery attempts. These types are mapped with GORM
// and form the core data layer of the bin telemetry backend.
package domain

import (
	"math"
	"time"
)

// PositionStatus classifies how trustworthy a resolved bin position is.
type PositionStatus string

// Position statuses, ordered from most to least trustworthy.
const (
	// StatusLive means the position came straight from a valid device fix.
	StatusLive PositionStatus = "LIVE"
	// StatusStale means the position came from a backup record younger than
	// the staleness threshold.
	StatusStale PositionStatus = "STALE"
	// StatusBackup means the position came from a backup record older than
	// the staleness threshold.
	StatusBackup PositionStatus = "BACKUP"
	// StatusOffline means no usable position exists for the bin.
	StatusOffline PositionStatus = "OFFLINE"
)

// Coordinate source tags reported by devices and echoed in resolved output.
const (
	SourceGPSLive   = "gps_live"
	SourceGPSBackup = "gps_backup"
	SourceGPSStale  = "gps_stale"
	SourceOffline   = "offline"
	SourceDefault   = "default"
)

// SendMode is the modem encoding used for a delivery attempt.
type SendMode string

const (
	// ModeText is the human-readable AT+CMGF=1 encoding, tried first.
	ModeText SendMode = "TEXT"
	// ModePDU is the binary-safe AT+CMGF=0 fallback encoding.
	ModePDU SendMode = "PDU"
)

// JobStatus is the lifecycle state of a notification job.
type JobStatus string

const (
	JobPending JobStatus = "PENDING"
	JobSending JobStatus = "SENDING"
	JobSuccess JobStatus = "SUCCESS"
	JobFailed  JobStatus = "FAILED"
)

// AttemptOutcome is the terminal result of one delivery attempt.
type AttemptOutcome string

const (
	OutcomeSuccess AttemptOutcome = "SUCCESS"
	OutcomeFailure AttemptOutcome = "FAILURE"
)

// BackupCoordinate is the durable last-known-valid position for a bin.
// Exactly one row exists per bin; a newer valid fix supersedes it atomically.
//
// Fields:
//   - BinID: device identifier, primary key (one record per bin).
//   - Latitude / Longitude: last coordinates that passed validity checks.
//   - Satellites: satellite count reported with the fix (quality hint).
//   - RecordedAt: when the fix was persisted; drives staleness demotion
//     and retention cleanup.
type BackupCoordinate struct {
	BinID      string    `json:"bin_id"     gorm:"type:varchar(64);primaryKey"`
	Latitude   float64   `json:"latitude"   gorm:"not null"`
	Longitude  float64   `json:"longitude"  gorm:"not null"`
	Satellites int       `json:"satellites" gorm:"not null;default:0"`
	RecordedAt time.Time `json:"recorded_at" gorm:"not null;index"`
}

// TableName returns the database table name for BackupCoordinate.
func (BackupCoordinate) TableName() string { return "backup_coordinates" }

// NotificationJob is one alert trigger awaiting (or past) delivery. Jobs are
// immutable apart from their status/last-error fields, which the dispatcher
// owns.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - RecipientPhone: E.164 destination number.
//   - BinID / BinLevel / LocationLabel / TaskNote / AssignedBy: alert
//     context used by the composer.
//   - Status: PENDING → SENDING → SUCCESS|FAILED.
//   - LastError: detail string of the final failed attempt, if any.
type NotificationJob struct {
	ID             string    `json:"job_id"          gorm:"type:char(36);primaryKey"`
	RecipientPhone string    `json:"recipient_phone" gorm:"type:varchar(24);not null"`
	BinID          string    `json:"bin_id"          gorm:"type:varchar(64);not null;index:idx_bin_jobs"`
	BinLevel       int       `json:"bin_level"       gorm:"not null"`
	LocationLabel  string    `json:"location_label"  gorm:"type:varchar(128)"`
	TaskNote       string    `json:"task_note"       gorm:"type:text"`
	AssignedBy     string    `json:"assigned_by"     gorm:"type:varchar(64)"`
	Status         JobStatus `json:"status"          gorm:"type:varchar(16);not null;default:'PENDING';check:status IN ('PENDING','SENDING','SUCCESS','FAILED')"`
	LastError      string    `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName returns the database table name for NotificationJob.
func (NotificationJob) TableName() string { return "notification_jobs" }

// DeliveryAttempt records a single modem send for a job. The sequence per
// job is append-only and ends at the first SUCCESS or once the attempt
// budget is exhausted.
type DeliveryAttempt struct {
	ID          string         `json:"-"            gorm:"type:char(36);primaryKey"`
	JobID       string         `json:"job_id"       gorm:"type:char(36);not null;index:idx_job_attempts,priority:1"`
	AttemptNo   int            `json:"attempt_no"   gorm:"not null;index:idx_job_attempts,priority:2"`
	Mode        SendMode       `json:"mode"         gorm:"type:varchar(8);not null;check:mode IN ('TEXT','PDU')"`
	Outcome     AttemptOutcome `json:"outcome"      gorm:"type:varchar(8);not null;check:outcome IN ('SUCCESS','FAILURE')"`
	ErrorDetail string         `json:"error_detail,omitempty" gorm:"type:text"`
	AttemptedAt time.Time      `json:"attempted_at" gorm:"not null"`

	// Job is the parent notification. Attempts are cascade-deleted if the
	// job row is removed.
	Job NotificationJob `json:"-" gorm:"foreignKey:JobID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for DeliveryAttempt.
func (DeliveryAttempt) TableName() string { return "delivery_attempts" }

// ValidCoordinates reports whether a latitude/longitude pair is usable as a
// real position: finite, within range, and not the (0,0) null-island marker
// devices emit when they have no fix.
func ValidCoordinates(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	if lat == 0 && lng == 0 {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
